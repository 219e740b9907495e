package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jackzampolin/sieve/internal/examples"
	"github.com/jackzampolin/sieve/internal/fieldspec"
	"github.com/jackzampolin/sieve/internal/llmcall"
	"github.com/jackzampolin/sieve/internal/prompts"
	"github.com/jackzampolin/sieve/internal/resolver"
	"github.com/jackzampolin/sieve/internal/runstate"
	"github.com/jackzampolin/sieve/internal/segment"
	"github.com/jackzampolin/sieve/internal/task"
)

// plan is everything derived from a task before the first inference call.
type plan struct {
	task       *task.Task
	schema     *fieldspec.Schema
	rendered   string
	dataset    *task.Dataset
	texts      []string
	contexts   []int
	retriever  *examples.Retriever
	k          int
	numPredict int
	inputLimit int
}

// Run executes every configured repetition of t. Configuration, schema,
// dataset and example errors are returned before any inference call. Row
// failures are recorded in the output and counted in the summary. When ctx
// is cancelled, Run returns the summary so far together with ctx.Err();
// chunks already written stay on disk for the next attempt.
func (r *Runner) Run(ctx context.Context, t *task.Task) (*Summary, error) {
	start := time.Now()
	p, err := r.prepare(t)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Task:    t.Name,
		RunName: r.opts.RunName,
		Rows:    p.dataset.Len(),
		Totals:  map[string]int{},
	}
	logger := r.logger.With("task", t.Name)
	logger.Info("starting extraction",
		"rows", summary.Rows,
		"runs", r.opts.Runs,
		"examples", p.k,
		"context_policy", r.policy.String(),
		"reasoning", r.opts.Reasoning)

	for i := 0; i < r.opts.Runs; i++ {
		rs, err := r.runOnce(ctx, p, i)
		if rs != nil {
			summary.add(*rs)
		}
		if err != nil {
			summary.Duration = time.Since(start).Round(time.Millisecond).String()
			return summary, err
		}
	}

	summary.Duration = time.Since(start).Round(time.Millisecond).String()
	logger.Info("extraction finished", "totals", summary.Totals, "duration", summary.Duration)
	return summary, nil
}

func (r *Runner) prepare(t *task.Task) (*plan, error) {
	schema, err := fieldspec.Compile(t.Spec)
	if err != nil {
		return nil, err
	}

	ds, err := task.LoadDataset(filepath.Join(r.opts.DataDir, t.DataPath))
	if err != nil {
		return nil, err
	}
	texts, err := ds.Texts(t.InputField)
	if err != nil {
		return nil, err
	}
	for _, f := range t.CarryFields {
		if ds.Len() > 0 && !ds.HasColumn(f) {
			return nil, fmt.Errorf("carry field %q is not a column of %s", f, ds.Path)
		}
	}

	p := &plan{
		task:       t,
		schema:     schema,
		rendered:   schema.Describe(),
		dataset:    ds,
		texts:      texts,
		numPredict: segment.AdaptNumPredict(r.opts.NumPredict, r.opts.Reasoning),
	}

	if r.opts.NumExamples > 0 {
		if t.ExamplePath == "" {
			return nil, &examples.SourceError{Record: -1, Reason: fmt.Sprintf("num_examples is %d but task %s has no Example_Path", r.opts.NumExamples, t.Name)}
		}
		ret, err := r.retriever(filepath.Join(r.opts.ExampleDir, t.ExamplePath))
		if err != nil {
			return nil, err
		}
		p.retriever = ret
		p.k = min(r.opts.NumExamples, ret.Len())
	}

	base, err := prompts.Assemble(prompts.Input{
		Description: t.Description,
		Schema:      p.rendered,
		Reasoning:   r.opts.Reasoning,
	})
	if err != nil {
		return nil, err
	}
	baseTokens := segment.EstimateTokens(base.Text())

	budget := segment.Budget{
		Policy:      r.policy,
		Quantile:    r.opts.Quantile,
		NumExamples: p.k,
		NumPredict:  p.numPredict,
		BaseTokens:  baseTokens,
		MaxContext:  r.opts.ModelMaxContext,
	}
	p.contexts = budget.Resolve(texts)

	p.inputLimit = r.opts.MaxInputTokens
	if p.inputLimit <= 0 && r.opts.ModelMaxContext > 0 {
		p.inputLimit = r.opts.ModelMaxContext - baseTokens - p.numPredict - segment.DefaultBuffer
		if p.inputLimit <= 0 {
			return nil, fmt.Errorf("model context of %d tokens cannot hold the prompt (%d tokens) and output budget (%d tokens)",
				r.opts.ModelMaxContext, baseTokens, p.numPredict)
		}
	}
	return p, nil
}

// runOnce executes repetition i. It returns a summary for whatever was
// done, even on error.
func (r *Runner) runOnce(ctx context.Context, p *plan, i int) (*RunSummary, error) {
	dir := runstate.Dir(r.opts.OutputDir, r.opts.RunName, p.task.Name, i)
	seed := r.seedFor(i)
	logger := r.logger.With("task", p.task.Name, "run_index", i)

	w, err := runstate.Open(dir, runstate.Meta{
		RunName:       r.opts.RunName,
		TaskName:      p.task.Name,
		RunIndex:      i,
		Model:         r.opts.Model,
		Seed:          seed,
		PromptVersion: prompts.Version,
		Rows:          p.dataset.Len(),
		ChunkSize:     r.opts.ChunkSize,
	}, r.opts.Overwrite, logger)
	if err != nil {
		return nil, err
	}

	rs := &RunSummary{Index: i, Dir: dir, Chunks: len(w.Chunks())}
	if w.Complete() {
		logger.Info("run already complete, skipping", "dir", dir)
		rs.Skipped = true
		rs.ChunksSkipped = rs.Chunks
		rs.Counts = w.Manifest().Counts()
		rs.Output = w.ResultPath()
		return rs, nil
	}

	res, err := resolver.New(r.client, p.schema, resolver.Options{
		Model:       r.opts.Model,
		Temperature: r.opts.Temperature,
		TopK:        r.opts.TopK,
		TopP:        r.opts.TopP,
		NumPredict:  p.numPredict,
		Seed:        seed,
		Reasoning:   r.opts.Reasoning,
		MaxRetries:  r.opts.MaxRetries,
		RetryDelay:  r.opts.RetryDelay,
		Recorder:    r.recorder,
		CallLabels: llmcall.RecordOptions{
			RunName:       r.opts.RunName,
			TaskName:      p.task.Name,
			RunIndex:      i,
			PromptVersion: prompts.Version,
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	for _, c := range w.Chunks() {
		if w.ChunkDone(c) {
			logger.Debug("chunk already written, skipping", "chunk", c.Index)
			rs.ChunksSkipped++
			continue
		}
		records, err := r.processChunk(ctx, p, res, c)
		if err != nil {
			rs.Counts = w.Manifest().Counts()
			return rs, err
		}
		if err := w.WriteChunk(c, records); err != nil {
			return rs, err
		}
		rs.ChunksWritten++
	}

	if err := w.Finalize(); err != nil {
		return rs, err
	}
	rs.Counts = w.Manifest().Counts()
	rs.Output = w.ResultPath()
	return rs, nil
}

// processChunk resolves the rows of c in order. A cancelled context
// discards the partial chunk.
func (r *Runner) processChunk(ctx context.Context, p *plan, res *resolver.Resolver, c segment.Chunk) ([]*resolver.Record, error) {
	records := make([]*resolver.Record, 0, c.Len())
	for i := c.Start; i < c.End; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.processRow(ctx, p, res, i)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *Runner) processRow(ctx context.Context, p *plan, res *resolver.Resolver, i int) (*resolver.Record, error) {
	text := p.texts[i]
	carried := p.dataset.Carried(i, p.task.CarryFields)

	if err := segment.CheckCapacity(text, p.inputLimit, nil); err != nil {
		r.logger.Warn("row exceeds input capacity", "row_id", i, "error", err)
		return &resolver.Record{
			RowID:   i,
			Status:  resolver.StatusSegmentationFailure,
			Carried: carried,
			Error:   err.Error(),
		}, nil
	}

	var shots []examples.Example
	if p.retriever != nil && p.k > 0 {
		var err error
		shots, err = p.retriever.Select(ctx, text, p.k)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.logger.Warn("example selection failed", "row_id", i, "error", err)
			return &resolver.Record{
				RowID:   i,
				Status:  resolver.StatusInferenceFailure,
				Carried: carried,
				Error:   fmt.Sprintf("select examples: %v", err),
			}, nil
		}
	}

	prompt, err := prompts.Assemble(prompts.Input{
		Description: p.task.Description,
		Schema:      p.rendered,
		Examples:    shots,
		Text:        text,
		Reasoning:   r.opts.Reasoning,
	})
	if err != nil {
		return nil, err
	}

	return res.Resolve(ctx, resolver.Row{
		ID:            i,
		Prompt:        prompt,
		ContextLength: p.contexts[i],
		Carried:       carried,
	})
}

// seedFor derives the seed of repetition i so repeated runs sample
// differently while staying reproducible.
func (r *Runner) seedFor(i int) *int {
	if r.opts.Seed == nil {
		return nil
	}
	s := *r.opts.Seed + i
	return &s
}
