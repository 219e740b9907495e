package task

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Dataset is the list of input rows for a task, in file order.
type Dataset struct {
	Path string
	Rows []map[string]any
}

// DatasetError reports a malformed dataset.
type DatasetError struct {
	Path   string
	Row    int
	Reason string
}

func (e *DatasetError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("dataset %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("dataset %s: row %d: %s", e.Path, e.Row, e.Reason)
}

// LoadDataset reads a JSON array of objects, a JSONL file or a CSV file with
// a header row. Numbers are kept as json.Number so carried values are
// written back unchanged.
func LoadDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	var rows []map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		rows, err = readJSONLines(path, f)
	case ".csv":
		rows, err = readCSV(path, f)
	default:
		rows, err = readJSONArray(path, f)
	}
	if err != nil {
		return nil, err
	}
	return &Dataset{Path: path, Rows: rows}, nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Rows) }

// Texts returns the input column for every row. Every row must carry the
// field; non-string values are rendered as JSON.
func (d *Dataset) Texts(field string) ([]string, error) {
	out := make([]string, len(d.Rows))
	for i, row := range d.Rows {
		v, ok := row[field]
		if !ok || v == nil {
			return nil, &DatasetError{Path: d.Path, Row: i, Reason: fmt.Sprintf("missing input field %q", field)}
		}
		switch s := v.(type) {
		case string:
			out[i] = s
		case json.Number:
			out[i] = s.String()
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, &DatasetError{Path: d.Path, Row: i, Reason: err.Error()}
			}
			out[i] = string(b)
		}
	}
	return out, nil
}

// HasColumn reports whether any row carries the column.
func (d *Dataset) HasColumn(name string) bool {
	for _, row := range d.Rows {
		if _, ok := row[name]; ok {
			return true
		}
	}
	return false
}

// Carried returns the columns of row i to copy into the output. Nil fields
// selects every column; a listed column missing from the row is null.
func (d *Dataset) Carried(i int, fields []string) map[string]any {
	row := d.Rows[i]
	if len(fields) == 0 {
		out := make(map[string]any, len(row))
		for k, v := range row {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f] = row[f]
	}
	return out
}

func readJSONArray(path string, r io.Reader) ([]map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, &DatasetError{Path: path, Row: -1, Reason: "expected a JSON array of objects: " + err.Error()}
	}
	rows := make([]map[string]any, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, &DatasetError{Path: path, Row: i, Reason: "not a JSON object"}
		}
		rows[i] = obj
	}
	return rows, nil
}

func readJSONLines(path string, r io.Reader) ([]map[string]any, error) {
	var rows []map[string]any
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil || obj == nil {
			reason := "not a JSON object"
			if err != nil {
				reason = err.Error()
			}
			return nil, &DatasetError{Path: path, Row: len(rows), Reason: reason}
		}
		rows = append(rows, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return rows, nil
}

func readCSV(path string, r io.Reader) ([]map[string]any, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, &DatasetError{Path: path, Row: -1, Reason: "read CSV header: " + err.Error()}
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	var rows []map[string]any
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DatasetError{Path: path, Row: len(rows), Reason: err.Error()}
		}
		row := make(map[string]any, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
