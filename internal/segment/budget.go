package segment

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	// DefaultBuffer is the headroom added to every computed context length.
	DefaultBuffer = 1000
	// DefaultQuantile separates short from long rows under the split policy.
	DefaultQuantile = 0.8
)

// PolicyKind selects how the context length is derived.
type PolicyKind int

const (
	PolicyMax PolicyKind = iota
	PolicySplit
	PolicyFixed
)

// Policy is a parsed max_context_len setting.
type Policy struct {
	Kind  PolicyKind
	Fixed int
}

// ParsePolicy accepts "max", "split" or a positive integer.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "max":
		return Policy{Kind: PolicyMax}, nil
	case "split":
		return Policy{Kind: PolicySplit}, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return Policy{}, fmt.Errorf("max_context_len must be 'max', 'split' or a positive integer, got %q", s)
	}
	return Policy{Kind: PolicyFixed, Fixed: n}, nil
}

func (p Policy) String() string {
	switch p.Kind {
	case PolicySplit:
		return "split"
	case PolicyFixed:
		return strconv.Itoa(p.Fixed)
	default:
		return "max"
	}
}

// Budget resolves the per-row context length requested from the model.
type Budget struct {
	Policy      Policy
	Quantile    float64
	NumExamples int
	NumPredict  int
	// BaseTokens covers the fixed part of every prompt: instructions,
	// description and schema rendering.
	BaseTokens int
	Buffer     int
	// MaxContext caps every result; zero disables the cap.
	MaxContext int
	Estimate   Estimator
}

// Resolve returns one context length per input text, in input order.
func (b Budget) Resolve(texts []string) []int {
	est := b.Estimate
	if est == nil {
		est = EstimateTokens
	}
	counts := make([]int, len(texts))
	for i, t := range texts {
		counts[i] = est(t)
	}

	out := make([]int, len(texts))
	switch b.Policy.Kind {
	case PolicyFixed:
		for i := range out {
			out[i] = b.cap(b.Policy.Fixed)
		}

	case PolicySplit:
		q := b.Quantile
		if q <= 0 || q > 1 {
			q = DefaultQuantile
		}
		threshold := Quantile(counts, q)
		shortMax, longMax := 0, 0
		for _, c := range counts {
			if float64(c) <= threshold {
				shortMax = max(shortMax, c)
			} else {
				longMax = max(longMax, c)
			}
		}
		shortCtx, longCtx := b.contextFor(shortMax), b.contextFor(longMax)
		for i, c := range counts {
			if float64(c) <= threshold {
				out[i] = shortCtx
			} else {
				out[i] = longCtx
			}
		}

	default:
		maxTokens := 0
		for _, c := range counts {
			maxTokens = max(maxTokens, c)
		}
		ctx := b.contextFor(maxTokens)
		for i := range out {
			out[i] = ctx
		}
	}
	return out
}

// contextFor sizes the window for the longest row of a group. Examples are
// assumed to be no longer than that row.
func (b Budget) contextFor(maxTokens int) int {
	buffer := b.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return b.cap(b.BaseTokens + maxTokens*(b.NumExamples+1) + b.NumPredict + buffer)
}

func (b Budget) cap(n int) int {
	if b.MaxContext > 0 && n > b.MaxContext {
		return b.MaxContext
	}
	return n
}

// Quantile returns the q-th quantile of values using linear interpolation
// between closest ranks.
func Quantile(values []int, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return float64(sorted[lo])
	}
	frac := pos - float64(lo)
	return float64(sorted[lo]) + frac*float64(sorted[hi]-sorted[lo])
}

// AdaptNumPredict widens the output budget for models that reason before
// answering.
func AdaptNumPredict(numPredict int, reasoning bool) int {
	if reasoning {
		return numPredict + DefaultBuffer
	}
	return numPredict
}
