package transcript

import (
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/MrWong99/speakline/internal/transcript/phonetic"
)

// vocabulary is the hotword list a [Corrector] currently matches against.
type vocabulary struct {
	words    []string
	prepared *phonetic.Entities
	maxWords int
}

// Corrector rewrites transcript text towards a hotword list. The list can be
// swapped at runtime with [Corrector.SetHotwords].
//
// Corrector is safe for concurrent use.
type Corrector struct {
	matcher PhoneticMatcher
	vocab   atomic.Pointer[vocabulary]
}

// NewCorrector returns a [Corrector] using matcher against hotwords.
func NewCorrector(matcher PhoneticMatcher, hotwords []string) *Corrector {
	c := &Corrector{matcher: matcher}
	c.SetHotwords(hotwords)
	return c
}

// SetHotwords replaces the hotword list. Calls already in progress keep
// using the previous list.
func (c *Corrector) SetHotwords(hotwords []string) {
	v := &vocabulary{words: append([]string(nil), hotwords...)}
	if _, ok := c.matcher.(*phonetic.Matcher); ok {
		v.prepared = phonetic.PrepareEntities(v.words)
		v.maxWords = v.prepared.MaxWords()
	} else {
		v.maxWords = maxWordCount(v.words)
	}
	c.vocab.Store(v)
}

// Hotwords returns a copy of the current hotword list.
func (c *Corrector) Hotwords() []string {
	return append([]string(nil), c.vocab.Load().words...)
}

// Correct returns text with every hotword match substituted, and the list of
// substitutions in text order. Text without matches is returned unchanged
// with a nil list.
//
// The algorithm:
//  1. Tokenise the text into words, setting aside leading and trailing
//     punctuation.
//  2. At each token position, try n-gram windows of up to one word more than
//     the longest hotword, so split words ("speak line") can merge.
//  3. Keep the best scoring window. A window longer than its hotword is
//     dropped when a shorter window inside it matches the same hotword at
//     least as well, so neighbours are not swallowed.
//  4. Replacements keep the punctuation of the words they replace.
func (c *Corrector) Correct(text string) (string, []Correction) {
	v := c.vocab.Load()
	if len(v.words) == 0 || v.maxWords == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	match := func(phrase string) (string, float64, bool) {
		if v.prepared != nil {
			return c.matcher.(*phonetic.Matcher).MatchPrepared(phrase, v.prepared)
		}
		return c.matcher.Match(phrase, v.words)
	}

	cores := make([]string, len(tokens))
	for i, tok := range tokens {
		cores[i] = strings.TrimFunc(tok, unicode.IsPunct)
	}
	phrase := func(i, n int) string {
		return strings.Join(cores[i:i+n], " ")
	}

	var (
		output      []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		if cores[i] == "" {
			output = append(output, tokens[i])
			i++
			continue
		}

		maxN := min(v.maxWords+1, len(tokens)-i)
		bestN, bestEntity, bestScore := 0, "", 0.0
		for n := 1; n <= maxN; n++ {
			window := phrase(i, n)
			entity, score, ok := match(window)
			if !ok || score <= bestScore {
				continue
			}
			if n > 1 && n > len(strings.Fields(entity)) && c.swallows(match, phrase, i, n, entity, score) {
				continue
			}
			bestN, bestEntity, bestScore = n, entity, score
		}

		if bestN == 0 {
			output = append(output, tokens[i])
			i++
			continue
		}

		original := phrase(i, bestN)
		if original != bestEntity {
			corrections = append(corrections, Correction{
				Original:   original,
				Corrected:  bestEntity,
				Confidence: bestScore,
			})
		}
		prefix := leadingPunct(tokens[i])
		suffix := trailingPunct(tokens[i+bestN-1])
		output = append(output, prefix+bestEntity+suffix)
		i += bestN
	}

	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(output, " "), corrections
}

// swallows reports whether the window [i, i+n) only matched entity because of
// a shorter window inside it that matches entity on its own at least as well.
func (c *Corrector) swallows(
	match func(string) (string, float64, bool),
	phrase func(i, n int) string,
	i, n int,
	entity string,
	score float64,
) bool {
	for _, sub := range []string{phrase(i+1, n-1), phrase(i, n-1)} {
		if e, s, ok := match(sub); ok && e == entity && s >= score {
			return true
		}
	}
	return false
}

func leadingPunct(tok string) string {
	core := strings.TrimLeftFunc(tok, unicode.IsPunct)
	return tok[:len(tok)-len(core)]
}

func trailingPunct(tok string) string {
	core := strings.TrimRightFunc(tok, unicode.IsPunct)
	return tok[len(core):]
}

// maxWordCount returns the maximum number of whitespace-separated words in
// any hotword. Returns 0 when hotwords is empty.
func maxWordCount(hotwords []string) int {
	n := 0
	for _, h := range hotwords {
		n = max(n, len(strings.Fields(h)))
	}
	return n
}
