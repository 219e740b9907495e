// Package segment partitions datasets into chunks and sizes the context window
// requested from the inference service.
package segment

import "unicode"

// Estimator returns an approximate token count for text.
type Estimator func(text string) int

// EstimateTokens approximates a BPE token count. Words and punctuation marks
// each cost at least one token, long words cost roughly one token per four
// runes, and the result never drops below a quarter of the non-space runes.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	tokens := 0
	wordRunes := 0
	visible := 0
	flush := func() {
		if wordRunes > 0 {
			tokens += (wordRunes + 3) / 4
			wordRunes = 0
		}
	}
	for _, r := range text {
		if unicode.IsSpace(r) {
			flush()
			continue
		}
		visible++
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			flush()
			tokens++
			continue
		}
		wordRunes++
	}
	flush()

	if floor := visible / 4; tokens < floor {
		tokens = floor
	}
	return tokens
}
