// Package runstate persists extraction results chunk by chunk and tracks
// which chunks are done so an interrupted run can resume where it stopped.
package runstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jackzampolin/sieve/internal/resolver"
	"github.com/jackzampolin/sieve/internal/segment"
)

const (
	ManifestFile = "run.json"
	ResultFile   = "nlp-predictions-dataset.json"
	chunkPrefix  = "nlp-predictions-dataset-"
)

// Reserved output columns.
const (
	FieldRowID     = "_row_id"
	FieldStatus    = "_status"
	FieldAttempts  = "_attempts"
	FieldRawOutput = "_raw_output"
	FieldError     = "_error"
)

// Dir returns the output directory for one run of a task.
func Dir(outputDir, runName, taskName string, runIndex int) string {
	return filepath.Join(outputDir, runName, fmt.Sprintf("%s-run%d", taskName, runIndex))
}

// ChunkFile returns the name of the file holding a chunk's results.
func ChunkFile(c segment.Chunk) string {
	return chunkPrefix + strconv.Itoa(c.Start) + ".json"
}

// Writer owns the output directory of a single run.
type Writer struct {
	dir      string
	manifest *Manifest
	chunks   []segment.Chunk
	logger   *slog.Logger
}

// Open prepares dir for the run described by meta. With overwrite, any prior
// results and run state are removed; otherwise existing state is loaded so
// completed chunks can be skipped.
func Open(dir string, meta Meta, overwrite bool, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	w := &Writer{
		dir:    dir,
		chunks: segment.Plan(meta.Rows, meta.ChunkSize),
		logger: logger.With("dir", dir),
	}

	if overwrite {
		if err := w.clear(); err != nil {
			return nil, err
		}
	} else {
		m, err := loadManifest(w.path(ManifestFile))
		if err != nil {
			return nil, err
		}
		if m != nil {
			if err := m.checkCompatible(dir, meta); err != nil {
				return nil, err
			}
			w.manifest = m
			if err := w.reconcile(); err != nil {
				return nil, err
			}
			w.logger.Debug("loaded run state", "chunks_done", len(m.Chunks), "complete", m.Complete)
		}
	}

	if w.manifest == nil {
		now := time.Now().UTC()
		w.manifest = &Manifest{Meta: meta, Chunks: []ChunkMarker{}, CreatedAt: now}
		if err := saveManifest(w.path(ManifestFile), w.manifest); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// reconcile drops state the files on disk no longer back. A complete run
// whose result file is gone is reopened, keeping only markers whose chunk
// files still exist.
func (w *Writer) reconcile() error {
	m := w.manifest
	if !m.Complete || fileExists(w.ResultPath()) {
		return nil
	}
	kept := m.Chunks[:0]
	for _, mk := range m.Chunks {
		if fileExists(w.path(mk.File)) {
			kept = append(kept, mk)
		}
	}
	w.logger.Warn("result file missing, reopening completed run", "chunks_kept", len(kept), "chunks_dropped", len(m.Chunks)-len(kept))
	m.Chunks = kept
	m.Complete = false
	m.CompletedAt = nil
	return saveManifest(w.path(ManifestFile), m)
}

// Dir returns the run's output directory.
func (w *Writer) Dir() string { return w.dir }

// Chunks returns the chunk plan for the run.
func (w *Writer) Chunks() []segment.Chunk { return w.chunks }

// ResultPath returns the path of the merged result file.
func (w *Writer) ResultPath() string { return w.path(ResultFile) }

// Manifest returns a copy of the current run state.
func (w *Writer) Manifest() Manifest {
	m := *w.manifest
	m.Chunks = append([]ChunkMarker(nil), w.manifest.Chunks...)
	return m
}

// Complete reports whether the run finished and its result file exists.
func (w *Writer) Complete() bool {
	return w.manifest.Complete && fileExists(w.ResultPath())
}

// ChunkDone reports whether chunk c was durably written by an earlier pass.
func (w *Writer) ChunkDone(c segment.Chunk) bool {
	mk := w.manifest.marker(c.Start)
	if mk == nil || mk.End != c.End {
		return false
	}
	return fileExists(w.path(mk.File))
}

// WriteChunk persists the records of chunk c. The chunk file is written
// before its marker, so a marker always points at a complete file.
func (w *Writer) WriteChunk(c segment.Chunk, records []*resolver.Record) error {
	if len(records) != c.Len() {
		return fmt.Errorf("chunk %d: got %d records for %d rows", c.Index, len(records), c.Len())
	}

	rows := make([]map[string]any, len(records))
	counts := make(map[string]int)
	for i, rec := range records {
		rows[i] = OutputRow(rec)
		counts[string(rec.Status)]++
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chunk %d: %w", c.Index, err)
	}

	name := ChunkFile(c)
	if err := writeFileAtomic(w.path(name), data, 0o644); err != nil {
		return fmt.Errorf("write chunk %d: %w", c.Index, err)
	}

	w.manifest.Complete = false
	w.manifest.CompletedAt = nil
	w.manifest.setMarker(ChunkMarker{Chunk: c, File: name, Counts: counts, WrittenAt: time.Now().UTC()})
	if err := saveManifest(w.path(ManifestFile), w.manifest); err != nil {
		return err
	}
	w.logger.Info("chunk written", "chunk", c.Index, "start", c.Start, "rows", c.Len(), "file", name)
	return nil
}

// Finalize merges every chunk file, in ascending order, into the result
// file, marks the run complete and removes the chunk files.
func (w *Writer) Finalize() error {
	if w.Complete() {
		return nil
	}

	var buf bytes.Buffer
	buf.WriteString("[")
	first := true
	for _, c := range w.chunks {
		if !w.ChunkDone(c) {
			return fmt.Errorf("finalize: chunk %d (rows %d-%d) has not been written", c.Index, c.Start, c.End-1)
		}
		data, err := os.ReadFile(w.path(ChunkFile(c)))
		if err != nil {
			return fmt.Errorf("finalize: read chunk %d: %w", c.Index, err)
		}
		var rows []json.RawMessage
		if err := json.Unmarshal(data, &rows); err != nil {
			return fmt.Errorf("finalize: parse chunk %d: %w", c.Index, err)
		}
		for _, row := range rows {
			if !first {
				buf.WriteString(",")
			}
			buf.WriteString("\n  ")
			if err := json.Compact(&buf, row); err != nil {
				return fmt.Errorf("finalize: chunk %d: %w", c.Index, err)
			}
			first = false
		}
	}
	if !first {
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")

	if err := writeFileAtomic(w.ResultPath(), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	now := time.Now().UTC()
	w.manifest.Complete = true
	w.manifest.CompletedAt = &now
	if err := saveManifest(w.path(ManifestFile), w.manifest); err != nil {
		return err
	}

	for _, c := range w.chunks {
		if err := os.Remove(w.path(ChunkFile(c))); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to remove chunk file", "chunk", c.Index, "error", err)
		}
	}
	w.logger.Info("results finalized", "file", ResultFile, "chunks", len(w.chunks))
	return nil
}

// clear removes results and run state left by an earlier run.
func (w *Writer) clear() error {
	matches, err := filepath.Glob(filepath.Join(w.dir, chunkPrefix+"*.json"))
	if err != nil {
		return err
	}
	matches = append(matches, w.path(ResultFile), w.path(ManifestFile))
	for _, p := range matches {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear run state: %w", err)
		}
	}
	return nil
}

func (w *Writer) path(name string) string {
	return filepath.Join(w.dir, name)
}

// OutputRow flattens a record into one output row: carried-through fields,
// then extracted fields (which win on a name collision), then the reserved
// bookkeeping columns.
func OutputRow(rec *resolver.Record) map[string]any {
	row := make(map[string]any, len(rec.Carried)+len(rec.Extracted)+5)
	for k, v := range rec.Carried {
		row[k] = v
	}
	for k, v := range rec.Extracted {
		row[k] = v
	}
	row[FieldRowID] = rec.RowID
	row[FieldStatus] = string(rec.Status)
	row[FieldAttempts] = rec.Attempts
	if rec.RawOutput != "" {
		row[FieldRawOutput] = rec.RawOutput
	}
	if rec.Error != "" {
		row[FieldError] = rec.Error
	}
	return row
}

// ReadResults loads a result or chunk file.
func ReadResults(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rows, nil
}
