package match

import "strings"

// Similarity scores the overlap of two short strings in [0, 1] using a Dice
// coefficient over character-bigram multisets. Both inputs are lower-cased
// first. Strings shorter than two characters produce no bigrams; when neither
// input has bigrams the score is 0 rather than an error.
func Similarity(a, b string) float64 {
	ba := bigrams(strings.ToLower(a))
	bb := bigrams(strings.ToLower(b))

	total := len(ba) + len(bb)
	if total == 0 {
		return 0
	}

	counts := make(map[string]int, len(ba))
	for _, g := range ba {
		counts[g]++
	}

	overlap := 0
	for _, g := range bb {
		if counts[g] > 0 {
			counts[g]--
			overlap++
		}
	}

	return 2 * float64(overlap) / float64(total)
}

func bigrams(s string) []string {
	runes := []rune(s)
	if len(runes) < 2 {
		return nil
	}
	grams := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		grams = append(grams, string(runes[i:i+2]))
	}
	return grams
}
