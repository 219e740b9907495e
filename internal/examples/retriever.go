package examples

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/jackzampolin/sieve/internal/providers"
)

// Retriever selects the examples most similar to a query. Example
// embeddings are computed once, on first use, and cached for the
// retriever's lifetime. A Retriever is scoped to one run.
type Retriever struct {
	embedder providers.Embedder
	examples []Example
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string][]float64
}

// NewRetriever creates a retriever over examples.
func NewRetriever(embedder providers.Embedder, examples []Example, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		examples: examples,
		logger:   logger,
	}
}

// Len returns the number of examples available.
func (r *Retriever) Len() int { return len(r.examples) }

// Select returns the k examples most similar to query by cosine similarity,
// most similar first. Ties keep the original example order. k is clamped to
// the number of examples; k <= 0 returns nil without touching the embedder.
func (r *Retriever) Select(ctx context.Context, query string, k int) ([]Example, error) {
	if k <= 0 || len(r.examples) == 0 {
		return nil, nil
	}
	if k > len(r.examples) {
		k = len(r.examples)
	}

	vecs, err := r.exampleVectors(ctx)
	if err != nil {
		return nil, err
	}
	q, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(q) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(q))
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(vecs))
	for i, v := range vecs {
		ranked[i] = scored{idx: i, score: cosine(q[0], v)}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})

	out := make([]Example, k)
	for i := 0; i < k; i++ {
		out[i] = r.examples[ranked[i].idx]
	}
	return out, nil
}

// exampleVectors returns one vector per example, embedding any that are
// not cached yet in a single batch.
func (r *Retriever) exampleVectors(ctx context.Context) ([][]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache == nil {
		r.cache = make(map[string][]float64, len(r.examples))
	}

	keys := make([]string, len(r.examples))
	var missing []int
	for i, ex := range r.examples {
		keys[i] = cacheKey(i, ex.Input)
		if _, ok := r.cache[keys[i]]; !ok {
			missing = append(missing, i)
		}
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = r.examples[i].Input
		}
		vecs, err := r.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed examples: %w", err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embed examples: got %d vectors for %d examples", len(vecs), len(texts))
		}
		for j, i := range missing {
			r.cache[keys[i]] = vecs[j]
		}
		r.logger.Debug("embedded examples", "count", len(missing), "embedder", r.embedder.Name())
	}

	out := make([][]float64, len(r.examples))
	for i, key := range keys {
		out[i] = r.cache[key]
	}
	return out, nil
}

// cacheKey identifies an example by position and content.
func cacheKey(i int, input string) string {
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%d:%s", i, hex.EncodeToString(sum[:8]))
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
