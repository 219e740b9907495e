package extract

import "github.com/jackzampolin/sieve/internal/resolver"

// RunSummary reports one repetition of a task.
type RunSummary struct {
	Index         int            `json:"index" yaml:"index"`
	Dir           string         `json:"dir" yaml:"dir"`
	Output        string         `json:"output,omitempty" yaml:"output,omitempty"`
	Skipped       bool           `json:"skipped" yaml:"skipped"`
	Chunks        int            `json:"chunks" yaml:"chunks"`
	ChunksWritten int            `json:"chunks_written" yaml:"chunks_written"`
	ChunksSkipped int            `json:"chunks_skipped" yaml:"chunks_skipped"`
	Counts        map[string]int `json:"counts" yaml:"counts"`
}

// Summary reports a whole Run call.
type Summary struct {
	Task     string         `json:"task" yaml:"task"`
	RunName  string         `json:"run_name" yaml:"run_name"`
	Rows     int            `json:"rows" yaml:"rows"`
	Runs     []RunSummary   `json:"runs" yaml:"runs"`
	Totals   map[string]int `json:"totals" yaml:"totals"`
	Duration string         `json:"duration" yaml:"duration"`
}

func (s *Summary) add(rs RunSummary) {
	s.Runs = append(s.Runs, rs)
	for status, n := range rs.Counts {
		s.Totals[status] += n
	}
}

// Failed returns the number of rows that did not resolve successfully.
func (s *Summary) Failed() int {
	n := 0
	for status, c := range s.Totals {
		if status != string(resolver.StatusSuccess) {
			n += c
		}
	}
	return n
}
