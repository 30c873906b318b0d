package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BusinessTrucks/btagent/engine/domain"
	"github.com/BusinessTrucks/btagent/engine/semantic"
)

type fakeEmbedder struct {
	calls   int
	failFor int // fail this many leading calls
	err     error
	vector  []float32
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failFor {
		return nil, f.err
	}
	if f.vector == nil {
		return []float32{1, 0, 0}, nil
	}
	return f.vector, nil
}

type fakeStore struct {
	candidates []semantic.Candidate
	err        error
	gotK       int
}

func (f *fakeStore) Query(_ context.Context, _ []float32, k int) ([]semantic.Candidate, error) {
	f.gotK = k
	if f.err != nil {
		return nil, f.err
	}
	if len(f.candidates) > k {
		return f.candidates[:k], nil
	}
	return f.candidates, nil
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.EmbedRetryWait = time.Millisecond
	return opts
}

func candidate(id string, score float32, attrs map[string]any) semantic.Candidate {
	if attrs == nil {
		attrs = map[string]any{}
	}
	if _, ok := attrs["make"]; !ok {
		attrs["make"] = "KAMAZ"
	}
	return semantic.Candidate{ID: id, Score: score, Attributes: attrs}
}

func TestSearch_OrderAndTieBreak(t *testing.T) {
	// b and a tie at 0.9; c falls below the threshold. The result must be
	// a then b (ascending ID on ties) with c excluded.
	store := &fakeStore{candidates: []semantic.Candidate{
		candidate("b", 0.9, nil),
		candidate("c", 0.4, nil),
		candidate("a", 0.9, nil),
	}}
	p := New(&fakeEmbedder{}, store, testOptions(), nil, nil)

	results, err := p.Search(context.Background(), domain.QueryRequest{
		Text:                "flatbed truck",
		TopK:                10,
		SimilarityThreshold: 0.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Record.ID != "a" || results[1].Record.ID != "b" {
		t.Fatalf("expected [a b], got [%s %s]", results[0].Record.ID, results[1].Record.ID)
	}
}

func TestSearch_TruncatesToTopK(t *testing.T) {
	store := &fakeStore{candidates: []semantic.Candidate{
		candidate("a", 0.9, nil),
		candidate("b", 0.8, nil),
		candidate("c", 0.7, nil),
		candidate("d", 0.6, nil),
	}}
	p := New(&fakeEmbedder{}, store, testOptions(), nil, nil)

	results, err := p.Search(context.Background(), domain.QueryRequest{Text: "van", TopK: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Record.ID != "a" || results[1].Record.ID != "b" {
		t.Fatalf("expected top two by score, got [%s %s]", results[0].Record.ID, results[1].Record.ID)
	}
}

func TestSearch_Overfetch(t *testing.T) {
	store := &fakeStore{}
	opts := testOptions()
	opts.OverfetchFactor = 2
	p := New(&fakeEmbedder{}, store, opts, nil, nil)

	if _, err := p.Search(context.Background(), domain.QueryRequest{Text: "bus", TopK: 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.gotK != 8 {
		t.Fatalf("expected store queried with k=8, got %d", store.gotK)
	}
}

func TestSearch_ClampsTopK(t *testing.T) {
	store := &fakeStore{}
	opts := testOptions()
	opts.MaxTopK = 10
	p := New(&fakeEmbedder{}, store, opts, nil, nil)

	if _, err := p.Search(context.Background(), domain.QueryRequest{Text: "bus", TopK: 500}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.gotK != 10*opts.OverfetchFactor {
		t.Fatalf("expected clamped fetch %d, got %d", 10*opts.OverfetchFactor, store.gotK)
	}
	if got := p.clamps.Value(); got != 1 {
		t.Fatalf("expected 1 clamp recorded, got %d", got)
	}
}

func TestSearch_FilterExcludesAll(t *testing.T) {
	store := &fakeStore{candidates: []semantic.Candidate{
		candidate("a", 0.9, map[string]any{"make": "KAMAZ"}),
		candidate("b", 0.8, map[string]any{"make": "KAMAZ"}),
	}}
	p := New(&fakeEmbedder{}, store, testOptions(), nil, nil)

	results, err := p.Search(context.Background(), domain.QueryRequest{
		Text:    "truck",
		TopK:    5,
		Filters: []domain.Filter{{Attribute: "make", Equals: "Scania"}},
	})
	if err != nil {
		t.Fatalf("zero matches must not be an error, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty results, got %d", len(results))
	}
}

func TestSearch_RangeFilter(t *testing.T) {
	cheap := 3_000_000.0
	store := &fakeStore{candidates: []semantic.Candidate{
		candidate("a", 0.9, map[string]any{"make": "KAMAZ", "price": 4_500_000.0}),
		candidate("b", 0.8, map[string]any{"make": "KAMAZ", "price": 2_000_000.0}),
	}}
	p := New(&fakeEmbedder{}, store, testOptions(), nil, nil)

	results, err := p.Search(context.Background(), domain.QueryRequest{
		Text:    "truck",
		TopK:    5,
		Filters: []domain.Filter{{Attribute: "price", Max: &cheap}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Record.ID != "b" {
		t.Fatalf("expected only b, got %+v", results)
	}
}

func TestSearch_InvalidInputs(t *testing.T) {
	p := New(&fakeEmbedder{}, &fakeStore{}, testOptions(), nil, nil)

	_, err := p.Search(context.Background(), domain.QueryRequest{Text: "   "})
	if !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}

	_, err = p.Search(context.Background(), domain.QueryRequest{
		Text:    "truck",
		Filters: []domain.Filter{{Attribute: "nonsense", Equals: "x"}},
	})
	if !errors.Is(err, domain.ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}

func TestSearch_EmbedRetriedOnce(t *testing.T) {
	embed := &fakeEmbedder{failFor: 1, err: errors.New("transient")}
	store := &fakeStore{candidates: []semantic.Candidate{candidate("a", 0.9, nil)}}
	p := New(embed, store, testOptions(), nil, nil)

	results, err := p.Search(context.Background(), domain.QueryRequest{Text: "truck", TopK: 3})
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if embed.calls != 2 {
		t.Fatalf("expected 2 embed calls, got %d", embed.calls)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestSearch_EmbedFailsAfterRetry(t *testing.T) {
	embed := &fakeEmbedder{failFor: 10, err: errors.New("provider down")}
	p := New(embed, &fakeStore{}, testOptions(), nil, nil)

	_, err := p.Search(context.Background(), domain.QueryRequest{Text: "truck"})
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if embed.calls != 2 {
		t.Fatalf("expected exactly 2 embed calls, got %d", embed.calls)
	}
}

func TestSearch_StoreFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	p := New(&fakeEmbedder{}, store, testOptions(), nil, nil)

	_, err := p.Search(context.Background(), domain.QueryRequest{Text: "truck"})
	if !errors.Is(err, domain.ErrVectorStoreUnavailable) {
		t.Fatalf("expected ErrVectorStoreUnavailable, got %v", err)
	}
}

func TestSearch_DefaultThresholdApplied(t *testing.T) {
	store := &fakeStore{candidates: []semantic.Candidate{
		candidate("a", 0.9, nil),
		candidate("b", 0.1, nil),
	}}
	opts := testOptions()
	opts.DefaultThreshold = 0.25
	p := New(&fakeEmbedder{}, store, opts, nil, nil)

	results, err := p.Search(context.Background(), domain.QueryRequest{Text: "truck", TopK: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Record.ID != "a" {
		t.Fatalf("expected default threshold to drop b, got %+v", results)
	}
}

func TestSearch_Timeout(t *testing.T) {
	embed := &fakeEmbedder{}
	slow := &slowStore{delay: 50 * time.Millisecond}
	opts := testOptions()
	opts.Timeout = 5 * time.Millisecond
	p := New(embed, slow, opts, nil, nil)

	_, err := p.Search(context.Background(), domain.QueryRequest{Text: "truck"})
	if !errors.Is(err, domain.ErrSearchTimeout) {
		t.Fatalf("expected ErrSearchTimeout, got %v", err)
	}
}

type slowStore struct {
	delay time.Duration
}

func (s *slowStore) Query(ctx context.Context, _ []float32, _ int) ([]semantic.Candidate, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
		return nil, nil
	}
}
