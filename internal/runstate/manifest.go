package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jackzampolin/sieve/internal/segment"
)

// Meta identifies a run. Rows and ChunkSize fix the chunk plan, so a
// manifest written with different values cannot be resumed.
type Meta struct {
	RunName       string `json:"run_name"`
	TaskName      string `json:"task_name"`
	RunIndex      int    `json:"run_index"`
	Model         string `json:"model,omitempty"`
	Seed          *int   `json:"seed,omitempty"`
	PromptVersion string `json:"prompt_version,omitempty"`
	Rows          int    `json:"rows"`
	ChunkSize     int    `json:"chunk_size"`
}

// ChunkMarker records a chunk whose results are durably on disk.
type ChunkMarker struct {
	segment.Chunk
	File      string         `json:"file"`
	Counts    map[string]int `json:"counts"`
	WrittenAt time.Time      `json:"written_at"`
}

// Manifest is the persisted run state (run.json).
type Manifest struct {
	Meta
	Chunks      []ChunkMarker `json:"chunks"`
	Complete    bool          `json:"complete"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// MismatchError reports an existing manifest whose chunk plan differs from
// the requested run.
type MismatchError struct {
	Dir    string
	Reason string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("run state in %s does not match this run (%s); rerun with overwrite to start over", e.Dir, e.Reason)
}

// marker returns the marker for the chunk starting at start, or nil.
func (m *Manifest) marker(start int) *ChunkMarker {
	for i := range m.Chunks {
		if m.Chunks[i].Start == start {
			return &m.Chunks[i]
		}
	}
	return nil
}

func (m *Manifest) setMarker(mk ChunkMarker) {
	if existing := m.marker(mk.Start); existing != nil {
		*existing = mk
		return
	}
	m.Chunks = append(m.Chunks, mk)
	sort.Slice(m.Chunks, func(i, j int) bool { return m.Chunks[i].Start < m.Chunks[j].Start })
}

// Counts sums the per-status counts over every written chunk.
func (m Manifest) Counts() map[string]int {
	out := make(map[string]int)
	for _, c := range m.Chunks {
		for status, n := range c.Counts {
			out[status] += n
		}
	}
	return out
}

func (m *Manifest) checkCompatible(dir string, meta Meta) error {
	switch {
	case m.TaskName != meta.TaskName:
		return &MismatchError{Dir: dir, Reason: fmt.Sprintf("task %q, want %q", m.TaskName, meta.TaskName)}
	case m.Rows != meta.Rows:
		return &MismatchError{Dir: dir, Reason: fmt.Sprintf("%d rows, want %d", m.Rows, meta.Rows)}
	case m.ChunkSize != meta.ChunkSize:
		return &MismatchError{Dir: dir, Reason: fmt.Sprintf("chunk size %d, want %d", m.ChunkSize, meta.ChunkSize)}
	}
	return nil
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run state: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse run state %s: %w", path, err)
	}
	return &m, nil
}

func saveManifest(path string, m *Manifest) error {
	m.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write run state: %w", err)
	}
	return nil
}
