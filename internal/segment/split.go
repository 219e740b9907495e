package segment

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// SegmentationError reports a document that does not fit the model's input
// capacity even as a single request. Answers for sub-split documents are not
// merged, so such rows fail.
type SegmentationError struct {
	Tokens   int
	Limit    int
	Segments int
}

func (e *SegmentationError) Error() string {
	return fmt.Sprintf("input of ~%d tokens exceeds input capacity of %d tokens (%d segments)", e.Tokens, e.Limit, e.Segments)
}

// CheckCapacity returns a SegmentationError when text would need more than
// one segment of at most limit tokens. A limit of zero or less disables the check.
func CheckCapacity(text string, limit int, est Estimator) error {
	if limit <= 0 {
		return nil
	}
	if est == nil {
		est = EstimateTokens
	}
	tokens := est(text)
	if tokens <= limit {
		return nil
	}
	segments := Split(text, limit, est)
	if len(segments) <= 1 {
		return nil
	}
	return &SegmentationError{Tokens: tokens, Limit: limit, Segments: len(segments)}
}

// Split cuts text into segments of at most maxTokens estimated tokens. Cuts
// fall on whitespace; a single word longer than the limit is cut on rune
// boundaries so no UTF-8 sequence is broken. Concatenating the segments
// yields the original text.
func Split(text string, maxTokens int, est Estimator) []string {
	if text == "" {
		return nil
	}
	if est == nil {
		est = EstimateTokens
	}
	if maxTokens <= 0 || est(text) <= maxTokens {
		return []string{text}
	}

	var segments []string
	start, used := 0, 0
	for _, p := range pieces(text) {
		cost := est(text[p[0]:p[1]])
		if cost > maxTokens {
			if p[0] > start {
				segments = append(segments, text[start:p[0]])
			}
			parts := splitRunes(text[p[0]:p[1]], maxTokens*4)
			segments = append(segments, parts[:len(parts)-1]...)
			last := parts[len(parts)-1]
			start, used = p[1]-len(last), est(last)
			continue
		}
		if used+cost > maxTokens && p[0] > start {
			segments = append(segments, text[start:p[0]])
			start, used = p[0], 0
		}
		used += cost
	}
	if start < len(text) {
		segments = append(segments, text[start:])
	}
	return segments
}

// pieces returns byte ranges of word-plus-trailing-whitespace units.
func pieces(text string) [][2]int {
	var out [][2]int
	start := 0
	inSpace := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if inSpace && !space {
			out = append(out, [2]int{start, i})
			start = i
		}
		inSpace = space
	}
	return append(out, [2]int{start, len(text)})
}

func splitRunes(s string, maxRunes int) []string {
	if maxRunes <= 0 {
		maxRunes = 1
	}
	var out []string
	for len(s) > 0 {
		n, i := 0, 0
		for i < len(s) && n < maxRunes {
			_, size := utf8.DecodeRuneInString(s[i:])
			i += size
			n++
		}
		out = append(out, s[:i])
		s = s[i:]
	}
	return out
}
