package echo

import "strings"

// TranscriptSimilarity returns the word-overlap ratio between two texts,
// 0 to 1. A finalized turn whose transcript closely matches recently
// synthesized text is a strong false-admission signal.
func TranscriptSimilarity(a, b string) float64 {
	wa := fields(a)
	wb := fields(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	set := make(map[string]int, len(wa))
	for _, w := range wa {
		set[w]++
	}
	matches := 0
	for _, w := range wb {
		if set[w] > 0 {
			set[w]--
			matches++
		}
	}

	longer := len(wa)
	if len(wb) > longer {
		longer = len(wb)
	}
	return float64(matches) / float64(longer)
}

func fields(s string) []string {
	return strings.Fields(strings.ToLower(strings.TrimSpace(s)))
}
