package match

import (
	"strings"
	"unicode/utf8"
)

// DefaultFuzzyThreshold is the minimum bigram similarity for a fuzzy hit.
const DefaultFuzzyThreshold = 0.70

// Kind identifies which strategy produced a trigger match.
type Kind int

const (
	KindExact Kind = iota
	KindSubstring
	KindFuzzy
)

func (k Kind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindSubstring:
		return "substring"
	case KindFuzzy:
		return "fuzzy"
	default:
		return "unknown"
	}
}

// Match describes one trigger word hit in a transcript. MatchedWord and
// Score are only meaningful for substring and fuzzy hits.
type Match struct {
	Phrase      string  `json:"phrase"`
	Kind        Kind    `json:"kind"`
	MatchedWord string  `json:"matched_word,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// Detect scans a transcript for the configured trigger words and returns
// every match descriptor the three strategies produce. Trigger words are
// assumed trimmed and lower-cased (see WordList).
//
// Per trigger word the strategies are tie-broken as follows: a whole-token
// exact hit wins outright and suppresses the others; failing that, a
// substring hit (first qualifying transcript token) is recorded, and the
// fuzzy scan still runs independently afterwards. One trigger word can
// therefore contribute both a substring and a fuzzy descriptor for the same
// transcript. Matches are never deduplicated across strategies.
func Detect(transcript string, triggerWords []string, fuzzyThreshold float64) []Match {
	if fuzzyThreshold <= 0 {
		fuzzyThreshold = DefaultFuzzyThreshold
	}

	lowered := strings.ToLower(transcript)
	tokens := strings.Fields(lowered)
	padded := " " + lowered + " "

	var matches []Match
	for _, w := range triggerWords {
		if w == "" {
			continue
		}

		// Whole-token containment keeps multi-word trigger phrases working
		// while "helps" is still left to the substring strategy for "help".
		if strings.Contains(padded, " "+w+" ") {
			matches = append(matches, Match{Phrase: w, Kind: KindExact})
			continue
		}

		wLen := utf8.RuneCountInString(w)

		if wLen >= 2 {
			for _, t := range tokens {
				if utf8.RuneCountInString(t) < 2 {
					continue
				}
				if strings.Contains(t, w) || strings.Contains(w, t) {
					matches = append(matches, Match{Phrase: w, Kind: KindSubstring, MatchedWord: t})
					break
				}
			}
		}

		if wLen >= 3 {
			for _, t := range tokens {
				if utf8.RuneCountInString(t) < 3 {
					continue
				}
				if score := Similarity(t, w); score >= fuzzyThreshold {
					matches = append(matches, Match{Phrase: w, Kind: KindFuzzy, MatchedWord: t, Score: score})
					break
				}
			}
		}
	}
	return matches
}

// Phrases extracts the distinct trigger phrases from a match set, in match
// order.
func Phrases(matches []Match) []string {
	seen := make(map[string]struct{}, len(matches))
	var phrases []string
	for _, m := range matches {
		if _, ok := seen[m.Phrase]; ok {
			continue
		}
		seen[m.Phrase] = struct{}{}
		phrases = append(phrases, m.Phrase)
	}
	return phrases
}
