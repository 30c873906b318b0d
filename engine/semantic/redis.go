package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces all engine keys in a shared Redis instance.
const DefaultPrefix = "btagent:"

// redisCommander is the subset of redis.Cmdable the store uses. *redis.Client
// satisfies it; tests provide a fake.
type redisCommander interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
}

// RedisStore persists vehicle vectors as Redis hashes, one hash per record
// under <prefix>vector:<id> with vector and attributes JSON-encoded.
// Similarity is computed client-side: the whole keyspace is scanned per
// query, which is the right trade-off for inventories of a few thousand
// listings and zero extra infrastructure.
type RedisStore struct {
	rdb    redisCommander
	prefix string
}

// NewRedisStore creates a store on an existing Redis client.
func NewRedisStore(rdb redisCommander, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + "vector:" + id
}

// Upsert stores records, overwriting any existing hash with the same ID.
func (s *RedisStore) Upsert(ctx context.Context, records []VectorRecord) error {
	for _, r := range records {
		vec, err := json.Marshal(r.Embedding)
		if err != nil {
			return fmt.Errorf("semantic: marshal vector %s: %w", r.ID, err)
		}
		attrs, err := json.Marshal(r.Attributes)
		if err != nil {
			return fmt.Errorf("semantic: marshal attributes %s: %w", r.ID, err)
		}
		err = s.rdb.HSet(ctx, s.key(r.ID),
			"vector", string(vec),
			"attributes", string(attrs),
			"description", r.Description,
			"created_at", time.Now().UTC().Format(time.RFC3339),
		).Err()
		if err != nil {
			return fmt.Errorf("semantic: store vector %s: %w", r.ID, err)
		}
	}
	return nil
}

// Get fetches a single record by ID. Returns nil when the ID is unknown.
func (s *RedisStore) Get(ctx context.Context, id string) (*VectorRecord, error) {
	vals, err := s.rdb.HMGet(ctx, s.key(id), "vector", "attributes", "description").Result()
	if err != nil {
		return nil, fmt.Errorf("semantic: get vector %s: %w", id, err)
	}
	if len(vals) < 3 || vals[0] == nil {
		return nil, nil
	}
	rec := VectorRecord{ID: id}
	if err := decodeHashFields(vals, &rec); err != nil {
		return nil, fmt.Errorf("semantic: decode vector %s: %w", id, err)
	}
	return &rec, nil
}

// Delete removes a record. Deleting an unknown ID is not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("semantic: delete vector %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored records.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	keys, err := s.rdb.Keys(ctx, s.prefix+"vector:*").Result()
	if err != nil {
		return 0, fmt.Errorf("semantic: count vectors: %w", err)
	}
	return len(keys), nil
}

// Clear removes every stored record under the prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.rdb.Keys(ctx, s.prefix+"vector:*").Result()
	if err != nil {
		return fmt.Errorf("semantic: list vectors: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("semantic: clear vectors: %w", err)
	}
	return nil
}

// Query scans all stored vectors, scores them against the query vector with
// cosine similarity, and returns the k best in descending score order. Ties
// are broken by ascending ID so repeated queries are deterministic.
func (s *RedisStore) Query(ctx context.Context, vector []float32, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, nil
	}
	keys, err := s.rdb.Keys(ctx, s.prefix+"vector:*").Result()
	if err != nil {
		return nil, fmt.Errorf("semantic: list vectors: %w", err)
	}

	candidates := make([]Candidate, 0, len(keys))
	for _, key := range keys {
		vals, err := s.rdb.HMGet(ctx, key, "vector", "attributes", "description").Result()
		if err != nil {
			return nil, fmt.Errorf("semantic: read %s: %w", key, err)
		}
		if len(vals) < 3 || vals[0] == nil {
			continue
		}
		rec := VectorRecord{ID: key[len(s.prefix)+len("vector:"):]}
		if err := decodeHashFields(vals, &rec); err != nil {
			// A single corrupt hash must not take the whole search down.
			continue
		}
		candidates = append(candidates, Candidate{
			ID:          rec.ID,
			Score:       Cosine(vector, rec.Embedding),
			Attributes:  rec.Attributes,
			Description: rec.Description,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// decodeHashFields fills rec from the HMGET result [vector, attributes, description].
func decodeHashFields(vals []any, rec *VectorRecord) error {
	raw, ok := vals[0].(string)
	if !ok {
		return fmt.Errorf("vector field is %T, want string", vals[0])
	}
	if err := json.Unmarshal([]byte(raw), &rec.Embedding); err != nil {
		return err
	}
	if s, ok := vals[1].(string); ok && s != "" {
		if err := json.Unmarshal([]byte(s), &rec.Attributes); err != nil {
			return err
		}
	}
	if s, ok := vals[2].(string); ok {
		rec.Description = s
	}
	return nil
}

// Cosine returns the cosine similarity of a and b clamped to [0,1].
// Mismatched or zero-length vectors score 0.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return float32(sim)
}
