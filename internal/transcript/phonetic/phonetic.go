// Package phonetic implements the [transcript.PhoneticMatcher] interface using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity for ranked hotword selection.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word in the input and for each hotword. If any code from the
//     input overlaps with any code from a hotword, the hotword becomes a
//     phonetic candidate.
//
//  2. Jaro-Winkler ranking: Among phonetic candidates, the hotword with the
//     highest Jaro-Winkler similarity (computed on the lower-cased strings,
//     with and without spaces) is selected, provided its score reaches the
//     phonetic threshold.
//
//     When no phonetic candidate is found, a secondary pass tests pure
//     Jaro-Winkler similarity against all hotwords using a higher fuzzy
//     threshold (default 0.95). This catches split words such as
//     "speak line" for "Speakline", whose codes differ.
//
// Jaro-Winkler rewards shared prefixes, so two guards keep ordinary words
// intact. Inputs whose word count differs from a hotword's by more than one
// are never compared with it, and neither are inputs whose letter count is
// below three quarters of the hotword's (or the other way round). "speak" is
// therefore never rewritten to "Speakline".
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.95

	// minLengthRatio bounds the letter count ratio of input and hotword.
	minLengthRatio = 0.75
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched hotword to be accepted. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.95.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is a phonetic hotword matcher. It implements [transcript.PhoneticMatcher].
// All methods are safe for concurrent use; the Matcher is read-only after
// construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Thresholds returns the phonetic and fuzzy thresholds in effect.
func (m *Matcher) Thresholds() (phonetic, fuzzy float64) {
	return m.phoneticThreshold, m.fuzzyThreshold
}

// entity is a hotword with its comparison forms precomputed.
type entity struct {
	name    string
	lower   string
	tokens  []string
	concat  string
	letters int
	codes   map[string]struct{}
}

// Entities is a prepared hotword list. Build it once with [PrepareEntities]
// and reuse it across [Matcher.MatchPrepared] calls.
type Entities struct {
	list     []entity
	maxWords int
}

// PrepareEntities precomputes phonetic codes and normalised forms for names.
// Blank names are dropped.
func PrepareEntities(names []string) *Entities {
	es := &Entities{list: make([]entity, 0, len(names))}
	for _, name := range names {
		lower := strings.ToLower(strings.TrimSpace(name))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		concat := strings.Join(tokens, "")
		es.list = append(es.list, entity{
			name:    strings.TrimSpace(name),
			lower:   lower,
			tokens:  tokens,
			concat:  concat,
			letters: utf8.RuneCountInString(concat),
			codes:   codesForTokens(tokens),
		})
		es.maxWords = max(es.maxWords, len(tokens))
	}
	return es
}

// Len returns the number of prepared hotwords.
func (es *Entities) Len() int { return len(es.list) }

// MaxWords returns the word count of the longest hotword, or 0 when empty.
func (es *Entities) MaxWords() int { return es.maxWords }

// Match attempts to find the hotword from entities that is most phonetically
// similar to word.
//
// word may be a single word or a space-separated phrase (n-gram). When
// matched is false, corrected equals word unchanged and confidence is 0.
func (m *Matcher) Match(word string, entities []string) (corrected string, confidence float64, matched bool) {
	return m.MatchPrepared(word, PrepareEntities(entities))
}

// MatchPrepared is [Matcher.Match] against a prepared hotword list.
func (m *Matcher) MatchPrepared(word string, es *Entities) (corrected string, confidence float64, matched bool) {
	if es == nil || len(es.list) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	wordConcat := strings.Join(wordTokens, "")
	wordLetters := utf8.RuneCountInString(wordConcat)
	inputCodes := codesForTokens(wordTokens)

	type candidate struct {
		entity   string
		score    float64
		phonetic bool
	}

	var best candidate

	for _, e := range es.list {
		if d := len(wordTokens) - len(e.tokens); d > 1 || d < -1 {
			continue
		}
		if float64(min(wordLetters, e.letters)) < minLengthRatio*float64(max(wordLetters, e.letters)) {
			continue
		}

		phoneticMatch := codesOverlap(inputCodes, e.codes)
		jwScore := bestJWScore(wordLower, e.lower, wordConcat, e.concat)

		if phoneticMatch {
			if jwScore >= m.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{entity: e.name, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= m.fuzzyThreshold && jwScore > best.score {
				best = candidate{entity: e.name, score: jwScore, phonetic: false}
			}
		}
	}

	if best.entity != "" {
		return best.entity, best.score, true
	}
	return word, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore returns the higher Jaro-Winkler similarity of the full strings
// and of their space-stripped forms ("elder nacks" against "eldrinax").
func bestJWScore(inputFull, entityFull, inputConcat, entityConcat string) float64 {
	score := matchr.JaroWinkler(inputFull, entityFull, false)
	if inputConcat != inputFull || entityConcat != entityFull {
		if s := matchr.JaroWinkler(inputConcat, entityConcat, false); s > score {
			score = s
		}
	}
	return score
}
