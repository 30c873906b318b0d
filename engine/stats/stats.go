// Package stats maintains the dashboard's real-time statistics in Redis:
// search counters and history, per-category vehicle counts, and the scraper
// status keys. Everything lives under the shared engine prefix so the
// dashboard and the engine read the same numbers.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// historyLimit caps the retained search history.
const historyLimit = 100

// statsCommander is the subset of redis.Cmdable this package uses.
type statsCommander interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// Store reads and writes dashboard statistics.
type Store struct {
	rdb    statsCommander
	prefix string
}

// New creates a stats store on an existing Redis client.
func New(rdb statsCommander, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

// SearchEntry is one recorded search.
type SearchEntry struct {
	Query     string    `json:"query"`
	Results   int       `json:"results"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the dashboard statistics view.
type Snapshot struct {
	VehicleCount       int64            `json:"vehicle_count"`
	VehiclesByCategory map[string]int64 `json:"vehicles_by_category"`
	SearchCount        int64            `json:"search_count"`
	ScraperStatus      string           `json:"scraper_status"`
	ScraperProgress    float64          `json:"scraper_progress"`
	ScraperLastUpdate  time.Time        `json:"scraper_last_update,omitzero"`
	LastUpdate         time.Time        `json:"last_update"`
}

// RecordSearch increments the search counter and prepends the query to the
// trimmed search history.
func (s *Store) RecordSearch(ctx context.Context, query string, results int) error {
	if err := s.rdb.Incr(ctx, s.prefix+"search_count").Err(); err != nil {
		return fmt.Errorf("stats: incr search count: %w", err)
	}
	entry, err := json.Marshal(SearchEntry{Query: query, Results: results, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("stats: marshal search entry: %w", err)
	}
	if err := s.rdb.LPush(ctx, s.prefix+"search_history", string(entry)).Err(); err != nil {
		return fmt.Errorf("stats: push search history: %w", err)
	}
	if err := s.rdb.LTrim(ctx, s.prefix+"search_history", 0, historyLimit-1).Err(); err != nil {
		return fmt.Errorf("stats: trim search history: %w", err)
	}
	return nil
}

// RecentSearches returns up to n most recent searches, newest first.
func (s *Store) RecentSearches(ctx context.Context, n int) ([]SearchEntry, error) {
	if n <= 0 || n > historyLimit {
		n = historyLimit
	}
	raw, err := s.rdb.LRange(ctx, s.prefix+"search_history", 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("stats: read search history: %w", err)
	}
	entries := make([]SearchEntry, 0, len(raw))
	for _, item := range raw {
		var e SearchEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue // skip corrupt entries
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// RecordVehicle registers a vehicle in the category sets. Re-recording the
// same ID is a no-op thanks to set semantics.
func (s *Store) RecordVehicle(ctx context.Context, id, category string) error {
	if err := s.rdb.SAdd(ctx, s.prefix+"vehicles", id).Err(); err != nil {
		return fmt.Errorf("stats: add vehicle: %w", err)
	}
	if category == "" {
		return nil
	}
	if err := s.rdb.SAdd(ctx, s.prefix+"categories", category).Err(); err != nil {
		return fmt.Errorf("stats: add category: %w", err)
	}
	if err := s.rdb.SAdd(ctx, s.prefix+"category:"+category, id).Err(); err != nil {
		return fmt.Errorf("stats: add vehicle to category: %w", err)
	}
	return nil
}

// SetScraperStatus updates the scraper status keys the dashboard polls.
func (s *Store) SetScraperStatus(ctx context.Context, status string, progress float64) error {
	if err := s.rdb.Set(ctx, s.prefix+"scraper_status", status, 0).Err(); err != nil {
		return fmt.Errorf("stats: set scraper status: %w", err)
	}
	if err := s.rdb.Set(ctx, s.prefix+"scraper_progress", strconv.FormatFloat(progress, 'f', -1, 64), 0).Err(); err != nil {
		return fmt.Errorf("stats: set scraper progress: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := s.rdb.Set(ctx, s.prefix+"scraper_last_update", now, 0).Err(); err != nil {
		return fmt.Errorf("stats: set scraper last update: %w", err)
	}
	return nil
}

// Read assembles the current snapshot. Missing keys read as zero values so a
// fresh Redis instance yields an empty (not failed) dashboard.
func (s *Store) Read(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		VehiclesByCategory: make(map[string]int64),
		ScraperStatus:      "idle",
		LastUpdate:         time.Now().UTC(),
	}

	count, err := s.rdb.SCard(ctx, s.prefix+"vehicles").Result()
	if err != nil {
		return nil, fmt.Errorf("stats: vehicle count: %w", err)
	}
	snap.VehicleCount = count

	categories, err := s.rdb.SMembers(ctx, s.prefix+"categories").Result()
	if err != nil {
		return nil, fmt.Errorf("stats: categories: %w", err)
	}
	for _, c := range categories {
		n, err := s.rdb.SCard(ctx, s.prefix+"category:"+c).Result()
		if err != nil {
			return nil, fmt.Errorf("stats: category %s count: %w", c, err)
		}
		snap.VehiclesByCategory[c] = n
	}

	if v, err := s.getString(ctx, "search_count"); err != nil {
		return nil, err
	} else if v != "" {
		snap.SearchCount, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, err := s.getString(ctx, "scraper_status"); err != nil {
		return nil, err
	} else if v != "" {
		snap.ScraperStatus = v
	}
	if v, err := s.getString(ctx, "scraper_progress"); err != nil {
		return nil, err
	} else if v != "" {
		snap.ScraperProgress, _ = strconv.ParseFloat(v, 64)
	}
	if v, err := s.getString(ctx, "scraper_last_update"); err != nil {
		return nil, err
	} else if v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			snap.ScraperLastUpdate = t
		}
	}
	return snap, nil
}

// getString reads a key, mapping redis.Nil to "".
func (s *Store) getString(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stats: get %s: %w", key, err)
	}
	return v, nil
}
