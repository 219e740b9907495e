// Package examples loads few-shot example sets and ranks them by semantic
// similarity to the row being extracted.
package examples

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Example is an input text paired with the answer expected for it.
type Example struct {
	Input  string `json:"input" yaml:"input"`
	Output string `json:"output" yaml:"output"`
}

// SourceError reports an example set that cannot be used.
type SourceError struct {
	Path   string
	Record int // -1 when the error is not tied to a record
	Reason string
	Err    error
}

func (e *SourceError) Error() string {
	loc := e.Path
	if e.Record >= 0 {
		loc = fmt.Sprintf("%s record %d", e.Path, e.Record)
	}
	if e.Err != nil {
		return fmt.Sprintf("example source %s: %s: %v", loc, e.Reason, e.Err)
	}
	return fmt.Sprintf("example source %s: %s", loc, e.Reason)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Load reads an example set from a JSON array, JSONL or YAML list file.
// Every record must have exactly the string keys "input" and "output".
func Load(path string) ([]Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SourceError{Path: path, Record: -1, Reason: "unreadable", Err: err}
	}

	var records []map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		records, err = decodeJSONL(data)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &records)
	default:
		err = json.Unmarshal(data, &records)
	}
	if err != nil {
		return nil, &SourceError{Path: path, Record: -1, Reason: "malformed", Err: err}
	}
	if len(records) == 0 {
		return nil, &SourceError{Path: path, Record: -1, Reason: "no examples"}
	}

	out := make([]Example, 0, len(records))
	for i, rec := range records {
		ex, reason := toExample(rec)
		if reason != "" {
			return nil, &SourceError{Path: path, Record: i, Reason: reason}
		}
		out = append(out, ex)
	}
	return out, nil
}

func decodeJSONL(data []byte) ([]map[string]any, error) {
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

func toExample(rec map[string]any) (Example, string) {
	if rec == nil {
		return Example{}, "record is not an object"
	}
	var extra []string
	for k := range rec {
		if k != "input" && k != "output" {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return Example{}, fmt.Sprintf("unexpected keys %s", strings.Join(extra, ", "))
	}
	in, ok := rec["input"].(string)
	if !ok {
		return Example{}, `"input" must be a string`
	}
	out, ok := rec["output"].(string)
	if !ok {
		return Example{}, `"output" must be a string`
	}
	return Example{Input: in, Output: out}, ""
}
