package phonetic_test

import (
	"testing"

	"github.com/MrWong99/speakline/internal/transcript/phonetic"
)

func TestMatcher_SplitWordMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	// "elder" and "eldrinax" share the Double Metaphone code ALTR.
	hotwords := []string{"Eldrinax", "Grimjaw", "Tower of Whispers"}

	corrected, conf, matched := m.Match("elder nacks", hotwords)
	if !matched {
		t.Fatalf("Match(%q, hotwords): matched=false, want true", "elder nacks")
	}
	if corrected != "Eldrinax" {
		t.Errorf("Match(%q): corrected=%q, want %q", "elder nacks", corrected, "Eldrinax")
	}
	if conf < 0.8 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.8", "elder nacks", conf)
	}
}

func TestMatcher_MultiWordHotword(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	hotwords := []string{"Tower of Whispers", "Eldrinax", "Grimjaw"}

	corrected, conf, matched := m.Match("tower of wispers", hotwords)
	if !matched {
		t.Fatalf("Match(%q, hotwords): matched=false, want true", "tower of wispers")
	}
	if corrected != "Tower of Whispers" {
		t.Errorf("Match(%q): corrected=%q, want %q", "tower of wispers", corrected, "Tower of Whispers")
	}
	if conf < 0.9 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.9", "tower of wispers", conf)
	}
}

func TestMatcher_Misspellings(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	hotwords := []string{"Kubernetes", "Speakline", "Grafana"}

	tests := []struct {
		input string
		want  string
	}{
		{"kubernetis", "Kubernetes"},
		{"graffana", "Grafana"},
		{"speak line", "Speakline"}, // no shared code, caught by the fuzzy pass
		{"SPEAKLINE", "Speakline"},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			corrected, _, matched := m.Match(tc.input, hotwords)
			if !matched {
				t.Fatalf("Match(%q): matched=false, want %q", tc.input, tc.want)
			}
			if corrected != tc.want {
				t.Errorf("Match(%q): corrected=%q, want %q", tc.input, corrected, tc.want)
			}
		})
	}
}

func TestMatcher_OrdinaryWordsUntouched(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	hotwords := []string{"Speakline", "Kubernetes", "Tower of Whispers"}

	for _, word := range []string{"speak", "speaking", "line", "of", "tower", "today", "hello"} {
		t.Run(word, func(t *testing.T) {
			t.Parallel()
			corrected, conf, matched := m.Match(word, hotwords)
			if matched {
				t.Fatalf("Match(%q): matched %q (%.3f), want no match", word, corrected, conf)
			}
			if corrected != word || conf != 0 {
				t.Errorf("Match(%q): got (%q, %f), want (%q, 0)", word, corrected, conf, word)
			}
		})
	}
}

func TestMatcher_ExactMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	hotwords := []string{"Grimjaw", "Eldrinax"}

	corrected, conf, matched := m.Match("grimjaw", hotwords)
	if !matched {
		t.Fatalf("Match(%q, hotwords): matched=false, want true", "grimjaw")
	}
	if corrected != "Grimjaw" {
		t.Errorf("Match(%q): corrected=%q, want %q", "grimjaw", corrected, "Grimjaw")
	}
	if conf != 1 {
		t.Errorf("Match(%q): confidence=%f, want 1 for an exact match", "grimjaw", conf)
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)

	_, _, matched := m.Match("elder nacks", []string{"Eldrinax"})
	if matched {
		t.Fatal("Match with threshold=0.99 should reject near-matches, got matched=true")
	}
}

func TestMatcher_EmptyInputs(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	if corrected, conf, matched := m.Match("eldrinax", nil); matched || corrected != "eldrinax" || conf != 0 {
		t.Errorf("nil hotwords: got (%q, %f, %v)", corrected, conf, matched)
	}
	if corrected, conf, matched := m.Match("", []string{"Eldrinax"}); matched || corrected != "" || conf != 0 {
		t.Errorf("empty word: got (%q, %f, %v)", corrected, conf, matched)
	}
	if corrected, _, matched := m.Match("eldrinax", []string{"  ", ""}); matched || corrected != "eldrinax" {
		t.Errorf("blank hotwords: got (%q, %v)", corrected, matched)
	}
}

func TestPrepareEntities(t *testing.T) {
	t.Parallel()

	es := phonetic.PrepareEntities([]string{"Speakline", " ", "Tower of Whispers"})
	if es.Len() != 2 {
		t.Errorf("Len() = %d, want 2", es.Len())
	}
	if es.MaxWords() != 3 {
		t.Errorf("MaxWords() = %d, want 3", es.MaxWords())
	}

	m := phonetic.New()
	corrected, _, matched := m.MatchPrepared("speakline", es)
	if !matched || corrected != "Speakline" {
		t.Errorf("MatchPrepared: got (%q, %v)", corrected, matched)
	}
}

func TestWithOptions(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.75),
		phonetic.WithFuzzyThreshold(0.90),
	)
	p, f := m.Thresholds()
	if p != 0.75 || f != 0.90 {
		t.Errorf("Thresholds() = (%v, %v), want (0.75, 0.90)", p, f)
	}
}
