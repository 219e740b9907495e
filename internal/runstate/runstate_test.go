package runstate

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/jackzampolin/sieve/internal/resolver"
	"github.com/jackzampolin/sieve/internal/segment"
)

func testMeta(rows, chunkSize int) Meta {
	return Meta{RunName: "test", TaskName: "Task001_people", RunIndex: 0, Model: "llama3.1", Rows: rows, ChunkSize: chunkSize}
}

func records(c segment.Chunk) []*resolver.Record {
	out := make([]*resolver.Record, 0, c.Len())
	for i := c.Start; i < c.End; i++ {
		rec := &resolver.Record{
			RowID:     i,
			Status:    resolver.StatusSuccess,
			Extracted: map[string]any{"name": "Alice"},
			Carried:   map[string]any{"id": i, "name": "carried"},
			RawOutput: `{"name":"Alice"}`,
			Attempts:  1,
		}
		if i%2 == 1 {
			rec.Status = resolver.StatusSchemaFailure
			rec.Extracted = nil
			rec.Error = "name not in {Alice, Bob}"
			rec.Attempts = 2
		}
		out = append(out, rec)
	}
	return out
}

func TestDir(t *testing.T) {
	got := Dir("/out", "baseline", "Task002_notes", 3)
	if got != filepath.Join("/out", "baseline", "Task002_notes-run3") {
		t.Errorf("Dir() = %q", got)
	}
	if name := ChunkFile(segment.Chunk{Start: 20, End: 30}); name != "nlp-predictions-dataset-20.json" {
		t.Errorf("ChunkFile() = %q", name)
	}
}

func TestWriter_FullRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	w, err := Open(dir, testMeta(5, 2), false, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if w.Complete() {
		t.Fatal("fresh run should not be complete")
	}
	chunks := w.Chunks()
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}

	for _, c := range chunks {
		if w.ChunkDone(c) {
			t.Fatalf("chunk %d done before writing", c.Index)
		}
		if err := w.WriteChunk(c, records(c)); err != nil {
			t.Fatalf("WriteChunk(%d) error = %v", c.Index, err)
		}
		if !w.ChunkDone(c) {
			t.Fatalf("chunk %d not done after writing", c.Index)
		}
	}

	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if !w.Complete() {
		t.Fatal("run should be complete")
	}

	rows, err := ReadResults(w.ResultPath())
	if err != nil {
		t.Fatalf("ReadResults() error = %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("rows = %d, want 5", len(rows))
	}
	for i, row := range rows {
		if row[FieldRowID] != json.Number(strconv.Itoa(i)) {
			t.Errorf("row %d out of order: %v", i, row[FieldRowID])
		}
	}
	if rows[0]["name"] != "Alice" || rows[0][FieldStatus] != "success" {
		t.Errorf("row 0 = %v", rows[0])
	}
	if rows[1]["name"] != "carried" || rows[1][FieldError] != "name not in {Alice, Bob}" {
		t.Errorf("failed row keeps carried fields and error: %v", rows[1])
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, chunkPrefix+"*.json"))
	if len(leftovers) != 0 {
		t.Errorf("chunk files not removed: %v", leftovers)
	}

	counts := w.Manifest().Counts()
	if counts["success"] != 3 || counts["schema_failure"] != 2 {
		t.Errorf("counts = %v", counts)
	}
}

func TestWriter_Resume(t *testing.T) {
	dir := t.TempDir()
	meta := testMeta(6, 2)

	w, err := Open(dir, meta, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	first := w.Chunks()[0]
	if err := w.WriteChunk(first, records(first)); err != nil {
		t.Fatal(err)
	}

	resumed, err := Open(dir, meta, false, nil)
	if err != nil {
		t.Fatalf("Open() resume error = %v", err)
	}
	var pending []int
	for _, c := range resumed.Chunks() {
		if !resumed.ChunkDone(c) {
			pending = append(pending, c.Index)
		}
	}
	if len(pending) != 2 || pending[0] != 1 || pending[1] != 2 {
		t.Errorf("pending chunks = %v, want [1 2]", pending)
	}

	if err := resumed.Finalize(); err == nil {
		t.Error("Finalize() should fail while chunks are missing")
	}
}

func TestWriter_MarkerWithoutFile(t *testing.T) {
	dir := t.TempDir()
	meta := testMeta(2, 0)
	w, err := Open(dir, meta, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	c := w.Chunks()[0]
	if err := w.WriteChunk(c, records(c)); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, ChunkFile(c))); err != nil {
		t.Fatal(err)
	}
	if w.ChunkDone(c) {
		t.Error("chunk with a missing file must not count as done")
	}
}

func TestWriter_Overwrite(t *testing.T) {
	dir := t.TempDir()
	meta := testMeta(2, 0)

	w, _ := Open(dir, meta, false, nil)
	c := w.Chunks()[0]
	if err := w.WriteChunk(c, records(c)); err != nil {
		t.Fatal(err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatal(err)
	}

	again, err := Open(dir, meta, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Complete() {
		t.Fatal("reopened run should be complete")
	}

	fresh, err := Open(dir, meta, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Complete() || fresh.ChunkDone(c) {
		t.Error("overwrite should discard previous state")
	}
	if _, err := os.Stat(filepath.Join(dir, ResultFile)); !os.IsNotExist(err) {
		t.Errorf("result file should be removed, stat err = %v", err)
	}
}

func TestOpen_ResultFileRemoved(t *testing.T) {
	dir := t.TempDir()
	meta := testMeta(4, 2)

	w, _ := Open(dir, meta, false, nil)
	for _, c := range w.Chunks() {
		if err := w.WriteChunk(c, records(c)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(w.ResultPath()); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir, meta, false, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if reopened.Complete() || reopened.Manifest().Complete {
		t.Error("run without a result file should not be complete")
	}
	for _, c := range reopened.Chunks() {
		if reopened.ChunkDone(c) {
			t.Errorf("chunk %d counted as done after its file was merged away", c.Index)
		}
	}
	if n := len(reopened.Manifest().Chunks); n != 0 {
		t.Errorf("markers = %d, want 0", n)
	}

	for _, c := range reopened.Chunks() {
		if err := reopened.WriteChunk(c, records(c)); err != nil {
			t.Fatal(err)
		}
	}
	if err := reopened.Finalize(); err != nil {
		t.Fatalf("Finalize() after rewrite error = %v", err)
	}
	rows, err := ReadResults(reopened.ResultPath())
	if err != nil || len(rows) != 4 {
		t.Fatalf("ReadResults() = %d rows, %v", len(rows), err)
	}
}

func TestOpen_Mismatch(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir, testMeta(10, 5), false, nil); err != nil {
		t.Fatal(err)
	}
	_, err := Open(dir, testMeta(10, 3), false, nil)
	var mm *MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("expected MismatchError, got %v", err)
	}
	if !strings.Contains(err.Error(), "chunk size 5, want 3") {
		t.Errorf("error = %v", err)
	}
	if _, err := Open(dir, testMeta(10, 3), true, nil); err != nil {
		t.Errorf("overwrite should accept a new plan: %v", err)
	}
}

func TestWriteChunk_RecordCount(t *testing.T) {
	w, _ := Open(t.TempDir(), testMeta(3, 0), false, nil)
	c := w.Chunks()[0]
	if err := w.WriteChunk(c, records(c)[:2]); err == nil {
		t.Error("expected error for short chunk")
	}
}

func TestOutputRow(t *testing.T) {
	row := OutputRow(&resolver.Record{
		RowID:     4,
		Status:    resolver.StatusSuccess,
		Carried:   map[string]any{"id": "x", "age": "old"},
		Extracted: map[string]any{"age": int64(34)},
		Attempts:  1,
	})
	if row["id"] != "x" || row["age"] != int64(34) {
		t.Errorf("row = %v", row)
	}
	if _, ok := row[FieldError]; ok {
		t.Error("successful row should have no error column")
	}
	if _, ok := row[FieldRawOutput]; ok {
		t.Error("empty raw output should be omitted")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "file.json")
	if err := writeFileAtomic(path, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := writeFileAtomic(path, []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "two" {
		t.Errorf("content = %q", data)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}
