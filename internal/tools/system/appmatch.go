package system

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// AppMatcher resolves a spoken application name against the known names.
//
// Two passes: names whose Double Metaphone codes overlap the spoken words
// are ranked by Jaro-Winkler similarity and accepted above the phonetic
// threshold; otherwise any name scoring above the higher fuzzy threshold on
// Jaro-Winkler alone wins. Safe for concurrent use.
type AppMatcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewAppMatcher returns a matcher with thresholds 0.70 (phonetic) and 0.85
// (fuzzy). Non-positive arguments keep the defaults.
func NewAppMatcher(phonetic, fuzzy float64) *AppMatcher {
	m := &AppMatcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	if phonetic > 0 {
		m.phoneticThreshold = phonetic
	}
	if fuzzy > 0 {
		m.fuzzyThreshold = fuzzy
	}
	return m
}

// Match returns the entry of names most similar to spoken. When matched is
// false, name is "" and score is 0.
func (m *AppMatcher) Match(spoken string, names []string) (name string, score float64, matched bool) {
	spoken = strings.ToLower(strings.TrimSpace(spoken))
	if spoken == "" || len(names) == 0 {
		return "", 0, false
	}
	spokenTokens := strings.Fields(spoken)
	spokenCodes := metaphoneCodes(spokenTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, n := range names {
		lower := strings.ToLower(strings.TrimSpace(n))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		s := similarity(spokenTokens, tokens, spoken, lower)

		if overlaps(spokenCodes, metaphoneCodes(tokens)) {
			if s >= m.phoneticThreshold && (!bestPhonetic || s > bestScore) {
				best, bestScore, bestPhonetic = n, s, true
			}
		} else if !bestPhonetic && s >= m.fuzzyThreshold && s > bestScore {
			best, bestScore = n, s
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestScore, true
}

func metaphoneCodes(tokens []string) map[string]struct{} {
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

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the full strings, the
// strings with spaces removed, and every token pair.
func similarity(aTokens, bTokens []string, a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}
	for _, x := range aTokens {
		for _, y := range bTokens {
			if s := matchr.JaroWinkler(x, y, false); s > score {
				score = s
			}
		}
	}
	return score
}
