package resolver

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when no JSON object can be recovered from a response.
var ErrNoJSON = errors.New("no JSON object found in response")

// ExtractJSON recovers the answer object from free-form model output. It
// scans for top-level balanced {...} spans, honouring string literals and
// escapes inside a span, and returns the last span that decodes to a JSON
// object. Braces outside any span are treated as plain text.
func ExtractJSON(text string) (map[string]any, error) {
	spans := braceSpans(text)
	for i := len(spans) - 1; i >= 0; i-- {
		if obj, err := decodeObject(text[spans[i][0]:spans[i][1]]); err == nil {
			return obj, nil
		}
	}
	return nil, ErrNoJSON
}

// ParseJSON decodes text that should be exactly one JSON object. Markdown
// code fences around the object are tolerated.
func ParseJSON(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if stripped := stripCodeFences(text); stripped != "" {
		text = stripped
	}
	if text == "" {
		return nil, ErrNoJSON
	}
	return decodeObject(text)
}

// braceSpans returns byte ranges [start, end) of top-level balanced brace
// spans. A stray opening brace swallows the rest of the text, so scanning
// restarts just after it.
func braceSpans(text string) [][2]int {
	var spans [][2]int
	for offset := 0; offset < len(text); {
		found, stray := scanSpans(text[offset:])
		for _, sp := range found {
			spans = append(spans, [2]int{sp[0] + offset, sp[1] + offset})
		}
		if stray < 0 {
			break
		}
		offset += stray + 1
	}
	return spans
}

// scanSpans is one pass of braceSpans. stray is the start of a span left
// open at the end of text, or -1.
func scanSpans(text string) (spans [][2]int, stray int) {
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if depth > 0 && inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				spans = append(spans, [2]int{start, i + 1})
				start = -1
			}
		}
	}
	if depth > 0 {
		return spans, start
	}
	return spans, -1
}

// decodeObject decodes a single JSON object, keeping numbers as json.Number
// so integers survive without float rounding.
func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after JSON object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("JSON value is not an object")
	}
	return obj, nil
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
