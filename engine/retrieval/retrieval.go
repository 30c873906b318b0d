// Package retrieval implements the vehicle retrieval pipeline: it embeds a
// natural-language query, runs a similarity search against the vector store,
// then filters, re-ranks, and truncates the candidates into a deterministic
// result sequence. The pipeline holds no state between calls; everything it
// needs arrives through its constructor or the request.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BusinessTrucks/btagent/engine/domain"
	"github.com/BusinessTrucks/btagent/engine/semantic"
	"github.com/BusinessTrucks/btagent/pkg/fn"
	"github.com/BusinessTrucks/btagent/pkg/metrics"
)

// Embedder converts query text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the slice of semantic.Store the pipeline reads through.
type VectorSearcher interface {
	Query(ctx context.Context, vector []float32, k int) ([]semantic.Candidate, error)
}

// Options configures the pipeline. All values are fixed at construction;
// search never reads ambient globals.
type Options struct {
	// MaxTopK caps request.TopK. Out-of-range values are clamped here, never
	// silently unbounded.
	MaxTopK int
	// DefaultThreshold applies when the request leaves SimilarityThreshold
	// at zero.
	DefaultThreshold float32
	// OverfetchFactor over-fetches candidates so post-filtering does not need
	// a second round trip. 2x is the documented default, not a store contract.
	OverfetchFactor int
	// Timeout bounds one whole search call, both external hops included.
	Timeout time.Duration
	// EmbedRetryWait is the pause before the single embed retry.
	EmbedRetryWait time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxTopK:          10,
		DefaultThreshold: 0.25,
		OverfetchFactor:  2,
		Timeout:          10 * time.Second,
		EmbedRetryWait:   200 * time.Millisecond,
	}
}

// Pipeline is the retrieval service.
type Pipeline struct {
	embed  Embedder
	store  VectorSearcher
	opts   Options
	logger *slog.Logger

	searches *metrics.Counter
	failures *metrics.Counter
	clamps   *metrics.Counter
	latency  *metrics.Histogram
}

// New creates a Pipeline. A nil registry gets a private one; a nil logger
// falls back to slog.Default.
func New(embed Embedder, store VectorSearcher, opts Options, logger *slog.Logger, reg *metrics.Registry) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = DefaultOptions().MaxTopK
	}
	if opts.OverfetchFactor <= 0 {
		opts.OverfetchFactor = DefaultOptions().OverfetchFactor
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &Pipeline{
		embed:    embed,
		store:    store,
		opts:     opts,
		logger:   logger,
		searches: reg.Counter("retrieval_searches_total", "Search calls started"),
		failures: reg.Counter("retrieval_failures_total", "Search calls that returned an error"),
		clamps:   reg.Counter("retrieval_topk_clamped_total", "Requests with out-of-range top_k"),
		latency:  reg.Histogram("retrieval_search_seconds", "End-to-end search latency", nil),
	}
}

// Search transforms a QueryRequest into an ordered, filtered sequence of
// results. An empty sequence is a valid non-error outcome. Validation errors
// are never retried; the embed call is retried exactly once before failing
// with ErrEmbeddingUnavailable.
func (p *Pipeline) Search(ctx context.Context, req domain.QueryRequest) ([]domain.SearchResult, error) {
	p.searches.Inc()
	start := time.Now()
	defer p.latency.Since(start)

	if err := domain.ValidateRequest(req); err != nil {
		p.failures.Inc()
		return nil, err
	}

	topK := req.TopK
	if topK <= 0 || topK > p.opts.MaxTopK {
		p.clamps.Inc()
		p.logger.Warn("retrieval: top_k out of range, clamping",
			"requested", req.TopK, "max", p.opts.MaxTopK)
		topK = p.opts.MaxTopK
	}
	threshold := req.SimilarityThreshold
	if threshold == 0 {
		threshold = p.opts.DefaultThreshold
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	// One bounded retry: embedding calls cost money and latency, so repeated
	// silent retries are not acceptable.
	embedded := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: 2,
		InitialWait: p.opts.EmbedRetryWait,
		MaxWait:     p.opts.EmbedRetryWait,
	}, func(ctx context.Context) fn.Result[[]float32] {
		return fn.FromPair(p.embed.Embed(ctx, req.Text))
	})
	vector, err := embedded.Unwrap()
	if err != nil {
		p.failures.Inc()
		if deadlineHit(ctx, err) {
			return nil, fmt.Errorf("retrieval: embed query: %w", domain.ErrSearchTimeout)
		}
		return nil, fmt.Errorf("retrieval: embed query: %w: %w", domain.ErrEmbeddingUnavailable, err)
	}

	candidates, err := p.store.Query(ctx, vector, topK*p.opts.OverfetchFactor)
	if err != nil {
		p.failures.Inc()
		if deadlineHit(ctx, err) {
			return nil, fmt.Errorf("retrieval: vector query: %w", domain.ErrSearchTimeout)
		}
		return nil, fmt.Errorf("retrieval: vector query: %w: %w", domain.ErrVectorStoreUnavailable, err)
	}

	results := toResults(candidates)
	results = applyFilters(results, req.Filters)
	results = applyThreshold(results, threshold)
	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}

	p.logger.Info("retrieval: search done",
		"candidates", len(candidates), "results", len(results),
		"top_k", topK, "duration", time.Since(start))
	return results, nil
}

// deadlineHit reports whether the per-call timeout is the real cause of err.
func deadlineHit(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded
}
