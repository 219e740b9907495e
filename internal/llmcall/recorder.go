package llmcall

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackzampolin/sieve/internal/providers"
)

// Recorder writes call records to a Store. Recording never fails the
// caller: write errors are logged and dropped.
type Recorder struct {
	store   *Store
	logger  *slog.Logger
	timeout time.Duration
}

// NewRecorder creates a new LLM call recorder.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, timeout: 5 * time.Second}
}

// Record captures one inference call.
func (r *Recorder) Record(result *providers.ChatResult, callErr error, opts RecordOptions) {
	if r == nil || r.store == nil {
		return
	}
	r.RecordCall(FromChatResult(result, callErr, opts))
}

// RecordCall stores an already-constructed Call.
func (r *Recorder) RecordCall(call *Call) {
	if r == nil || r.store == nil || call == nil {
		return
	}
	// Detached from the run context so a cancelled run still logs its last call.
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.Insert(ctx, call); err != nil {
		r.logger.Warn("failed to record LLM call", "id", call.ID, "row_id", call.RowID, "error", err)
	}
}
