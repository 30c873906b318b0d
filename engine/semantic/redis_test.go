package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/redis/go-redis/v9"
)

// fakeRedis is an in-memory redisCommander backed by hashes.
type fakeRedis struct {
	hashes map[string]map[string]string
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{hashes: make(map[string]map[string]string)}
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeRedis) HMGet(_ context.Context, key string, fields ...string) *redis.SliceCmd {
	if f.err != nil {
		return redis.NewSliceResult(nil, f.err)
	}
	h := f.hashes[key]
	out := make([]any, len(fields))
	for i, field := range fields {
		if h == nil {
			continue
		}
		if v, ok := h[field]; ok {
			out[i] = v
		}
	}
	return redis.NewSliceResult(out, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	n := int64(0)
	for _, k := range keys {
		if _, ok := f.hashes[k]; ok {
			delete(f.hashes, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Keys(_ context.Context, pattern string) *redis.StringSliceCmd {
	if f.err != nil {
		return redis.NewStringSliceResult(nil, f.err)
	}
	prefix := pattern[:len(pattern)-1] // trim trailing *
	var keys []string
	for k := range f.hashes {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return redis.NewStringSliceResult(keys, nil)
}

func record(id string, embedding []float32) VectorRecord {
	return VectorRecord{
		ID:        id,
		Embedding: embedding,
		Attributes: map[string]any{
			"id": id, "make": "KAMAZ", "model": "5490", "price": 4_500_000.0,
		},
		Description: "tractor unit",
	}
}

func TestRedisStore_UpsertGetDelete(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	store := NewRedisStore(rdb, "")

	rec := record("v1", []float32{1, 0, 0})
	if err := store.Upsert(ctx, []VectorRecord{rec}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.Get(ctx, "v1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected record, got nil")
	}
	if got.Description != "tractor unit" {
		t.Fatalf("description = %q", got.Description)
	}
	if got.Attributes["make"] != "KAMAZ" {
		t.Fatalf("make = %v", got.Attributes["make"])
	}
	if len(got.Embedding) != 3 || got.Embedding[0] != 1 {
		t.Fatalf("embedding = %v", got.Embedding)
	}

	n, err := store.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v", n, err)
	}

	if err := store.Delete(ctx, "v1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := store.Get(ctx, "v1"); got != nil {
		t.Fatal("expected nil after delete")
	}
	// Deleting an unknown ID is not an error.
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestRedisStore_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStore(newFakeRedis(), "")

	if err := store.Upsert(ctx, []VectorRecord{record("v1", []float32{1, 0, 0})}); err != nil {
		t.Fatal(err)
	}
	updated := record("v1", []float32{0, 1, 0})
	updated.Description = "updated"
	if err := store.Upsert(ctx, []VectorRecord{updated}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "v1")
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Description != "updated" || got.Embedding[1] != 1 {
		t.Fatalf("overwrite not applied: %+v", got)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestRedisStore_QueryRanksAndTruncates(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStore(newFakeRedis(), "")

	records := []VectorRecord{
		record("far", []float32{0, 1, 0}),
		record("near", []float32{1, 0, 0}),
		record("mid", []float32{1, 1, 0}),
	}
	if err := store.Upsert(ctx, records); err != nil {
		t.Fatal(err)
	}

	got, err := store.Query(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].ID != "near" || got[1].ID != "mid" {
		t.Fatalf("expected [near mid], got [%s %s]", got[0].ID, got[1].ID)
	}
	if got[0].Score <= got[1].Score {
		t.Fatalf("scores not descending: %v %v", got[0].Score, got[1].Score)
	}
}

func TestRedisStore_QueryTieBreaksByID(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStore(newFakeRedis(), "")

	if err := store.Upsert(ctx, []VectorRecord{
		record("b", []float32{1, 0, 0}),
		record("a", []float32{1, 0, 0}),
	}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Query(ctx, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("expected [a b], got %+v", got)
	}
}

func TestRedisStore_QuerySkipsCorruptHash(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	store := NewRedisStore(rdb, "")

	if err := store.Upsert(ctx, []VectorRecord{record("good", []float32{1, 0, 0})}); err != nil {
		t.Fatal(err)
	}
	rdb.hashes["btagent:vector:bad"] = map[string]string{
		"vector": "not json", "attributes": "{}", "description": "",
	}

	got, err := store.Query(ctx, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("corrupt hash must not fail the query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "good" {
		t.Fatalf("expected only the good record, got %+v", got)
	}
}

func TestRedisStore_QueryBackendError(t *testing.T) {
	rdb := newFakeRedis()
	rdb.err = errors.New("connection refused")
	store := NewRedisStore(rdb, "")

	if _, err := store.Query(context.Background(), []float32{1}, 5); err == nil {
		t.Fatal("expected error")
	}
}

func TestRedisStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStore(newFakeRedis(), "")

	if err := store.Upsert(ctx, []VectorRecord{
		record("a", []float32{1, 0, 0}),
		record("b", []float32{0, 1, 0}),
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Fatalf("count after clear = %d", n)
	}
	// Clearing an empty store is fine.
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear empty: %v", err)
	}
}

func TestRedisStore_AttributesRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStore(newFakeRedis(), "")

	rec := record("v1", []float32{1})
	rec.Attributes["city"] = "Санкт-Петербург"
	if err := store.Upsert(ctx, []VectorRecord{rec}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "v1")
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Attributes["city"] != "Санкт-Петербург" {
		t.Fatalf("city = %v", got.Attributes["city"])
	}
	// JSON round trip turns numbers into float64.
	if got.Attributes["price"] != 4_500_000.0 {
		t.Fatalf("price = %v (%T)", got.Attributes["price"], got.Attributes["price"])
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite clamped to zero", []float32{1, 0}, []float32{-1, 0}, 0},
		{"mismatched lengths", []float32{1, 0}, []float32{1}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Fatalf("Cosine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosine_ScaleInvariant(t *testing.T) {
	a := []float32{0.3, 0.7, 0.2}
	b := []float32{0.6, 1.4, 0.4} // a scaled by 2
	got := Cosine(a, b)
	if math.Abs(float64(got)-1) > 1e-6 {
		t.Fatalf("expected 1 for parallel vectors, got %v", got)
	}
}

func TestDecodeHashFields_BadAttributes(t *testing.T) {
	vec, _ := json.Marshal([]float32{1, 2})
	var rec VectorRecord
	err := decodeHashFields([]any{string(vec), "{broken", ""}, &rec)
	if err == nil {
		t.Fatal("expected error for broken attributes JSON")
	}
}
