package llmcall

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS llm_calls (
	id TEXT PRIMARY KEY,
	timestamp DATETIME NOT NULL,
	latency_ms INTEGER NOT NULL,
	run_name TEXT,
	task_name TEXT,
	run_index INTEGER,
	row_id INTEGER,
	stage TEXT,
	prompt_hash TEXT,
	prompt_version TEXT,
	provider TEXT,
	model TEXT,
	temperature REAL,
	context_length INTEGER,
	input_tokens INTEGER,
	output_tokens INTEGER,
	response TEXT,
	success INTEGER NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_llm_calls_run ON llm_calls (run_name, task_name, run_index, row_id);
`

// Store persists LLM call records in a SQLite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the call log at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create call log schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores one call.
func (s *Store) Insert(ctx context.Context, c *Call) error {
	if c == nil {
		return nil
	}
	var temp sql.NullFloat64
	if c.Temperature != nil {
		temp = sql.NullFloat64{Float64: *c.Temperature, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO llm_calls (
		id, timestamp, latency_ms, run_name, task_name, run_index, row_id, stage,
		prompt_hash, prompt_version, provider, model, temperature, context_length,
		input_tokens, output_tokens, response, success, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Timestamp.UTC(), c.LatencyMs, c.RunName, c.TaskName, c.RunIndex, c.RowID, c.Stage,
		c.PromptHash, c.PromptVersion, c.Provider, c.Model, temp, c.ContextLength,
		c.InputTokens, c.OutputTokens, c.Response, c.Success, c.Error)
	if err != nil {
		return fmt.Errorf("insert call %s: %w", c.ID, err)
	}
	return nil
}

// QueryFilter specifies filters for listing LLM calls.
type QueryFilter struct {
	RunName  string
	TaskName string
	RunIndex *int
	RowID    *int
	Stage    string
	Success  *bool
	After    *time.Time
	Limit    int
	Offset   int
}

const selectColumns = `id, timestamp, latency_ms, run_name, task_name, run_index, row_id, stage,
	prompt_hash, prompt_version, provider, model, temperature, context_length,
	input_tokens, output_tokens, response, success, error`

// Get retrieves a single LLM call by ID. Returns nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM llm_calls WHERE id = ?`, id)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List retrieves LLM calls matching the filter, oldest first.
func (s *Store) List(ctx context.Context, f QueryFilter) ([]Call, error) {
	var where []string
	var args []any
	if f.RunName != "" {
		where = append(where, "run_name = ?")
		args = append(args, f.RunName)
	}
	if f.TaskName != "" {
		where = append(where, "task_name = ?")
		args = append(args, f.TaskName)
	}
	if f.RunIndex != nil {
		where = append(where, "run_index = ?")
		args = append(args, *f.RunIndex)
	}
	if f.RowID != nil {
		where = append(where, "row_id = ?")
		args = append(args, *f.RowID)
	}
	if f.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, f.Stage)
	}
	if f.Success != nil {
		where = append(where, "success = ?")
		args = append(args, *f.Success)
	}
	if f.After != nil {
		where = append(where, "timestamp > ?")
		args = append(args, f.After.UTC())
	}

	query := `SELECT ` + selectColumns + ` FROM llm_calls`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC, rowid ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(r scanner) (*Call, error) {
	var c Call
	var runName, taskName, stage, promptHash, promptVersion, provider, model, response, errMsg sql.NullString
	var temp sql.NullFloat64
	var runIndex, rowID, ctxLen, inTok, outTok sql.NullInt64
	if err := r.Scan(&c.ID, &c.Timestamp, &c.LatencyMs, &runName, &taskName, &runIndex, &rowID, &stage,
		&promptHash, &promptVersion, &provider, &model, &temp, &ctxLen,
		&inTok, &outTok, &response, &c.Success, &errMsg); err != nil {
		return nil, err
	}
	c.RunName = runName.String
	c.TaskName = taskName.String
	c.RunIndex = int(runIndex.Int64)
	c.RowID = int(rowID.Int64)
	c.Stage = stage.String
	c.PromptHash = promptHash.String
	c.PromptVersion = promptVersion.String
	c.Provider = provider.String
	c.Model = model.String
	if temp.Valid {
		t := temp.Float64
		c.Temperature = &t
	}
	c.ContextLength = int(ctxLen.Int64)
	c.InputTokens = int(inTok.Int64)
	c.OutputTokens = int(outTok.Int64)
	c.Response = response.String
	c.Error = errMsg.String
	return &c, nil
}
