// Command ingest consumes scraped listings from NATS and stores them as
// embedded vehicle records. With -file it instead backfills listings from a
// local JSON file and exits, which is how the mock inventory is loaded in
// development.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/BusinessTrucks/btagent/engine/domain"
	"github.com/BusinessTrucks/btagent/engine/ingest"
	"github.com/BusinessTrucks/btagent/engine/scraper"
	"github.com/BusinessTrucks/btagent/engine/semantic"
	"github.com/BusinessTrucks/btagent/engine/stats"
	"github.com/BusinessTrucks/btagent/pkg/events"
	"github.com/BusinessTrucks/btagent/pkg/metrics"
	"github.com/BusinessTrucks/btagent/pkg/openrouter"
)

func main() {
	_ = godotenv.Load()

	var (
		natsURL     = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
		redisURL    = flag.String("redis", envOr("REDIS_URL", "redis://localhost:6379/0"), "Redis URL")
		backend     = flag.String("backend", envOr("VECTOR_BACKEND", "redis"), "vector backend: redis or qdrant")
		qdrantAddr  = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
		collection  = flag.String("collection", envOr("QDRANT_COLLECTION", "btagent"), "Qdrant collection name")
		embedModel  = flag.String("model", envOr("EMBED_MODEL", "text-embedding-3-large"), "embedding model")
		file        = flag.String("file", "", "backfill listings from a JSON file and exit")
		metricsPort = flag.Int("metrics-port", 9091, "metrics server port")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*natsURL, *redisURL, *backend, *qdrantAddr, *collection, *embedModel, *file, *metricsPort, logger); err != nil {
		logger.Error("ingest exited with error", "err", err)
		os.Exit(1)
	}
}

func run(natsURL, redisURL, backend, qdrantAddr, collection, embedModel, file string, metricsPort int, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reg := metrics.New()
	go func() {
		if err := reg.Serve(metricsPort); err != nil {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	// --- Connect to Redis ---
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	statsStore := stats.New(rdb, semantic.DefaultPrefix)

	// --- Pick the vector store backend ---
	var store semantic.Store
	switch backend {
	case "qdrant":
		qs, err := semantic.NewQdrantStore(qdrantAddr, collection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer qs.Close()
		if err := qs.EnsureCollection(ctx, domain.EmbeddingDim); err != nil {
			return fmt.Errorf("qdrant collection: %w", err)
		}
		store = qs
	case "redis":
		store = semantic.NewRedisStore(rdb, semantic.DefaultPrefix)
	default:
		return fmt.Errorf("unknown vector backend %q", backend)
	}

	embedder := openrouter.New(openrouter.Config{
		APIKey:     os.Getenv("OPENROUTER_API_KEY"),
		EmbedModel: embedModel,
	})

	pipeline := ingest.NewPipeline(embedder, store, statsStore, logger, reg)

	if file != "" {
		return backfill(ctx, file, pipeline, logger)
	}

	// --- Consume from NATS ---
	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	// Scraper progress is broadcast alongside listings; log it so ingest
	// output lines up with what the crawl is doing.
	statusSub, err := events.Subscribe(nc, events.SubjectScraperStatus, func(_ context.Context, st scraper.Status) {
		logger.Info("scraper status", "state", st.State, "progress", st.Progress, "found", st.ListingsFound)
	})
	if err != nil {
		return fmt.Errorf("subscribe scraper status: %w", err)
	}
	defer statusSub.Unsubscribe()

	consumer := ingest.NewConsumer(nc, pipeline, logger)
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}

// backfill loads listings from a JSON array or a stream of JSON objects.
func backfill(ctx context.Context, path string, pipeline *ingest.Pipeline, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var listings []ingest.Listing
	dec := json.NewDecoder(f)
	if err := dec.Decode(&listings); err != nil {
		// Not an array; retry as a stream of objects.
		if _, seekErr := f.Seek(0, 0); seekErr != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		dec = json.NewDecoder(f)
		listings = nil
		for {
			var l ingest.Listing
			if err := dec.Decode(&l); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return fmt.Errorf("decode %s: %w", path, err)
			}
			listings = append(listings, l)
		}
	}

	stored, err := pipeline.IngestBatch(ctx, listings)
	logger.Info("backfill done", "file", path, "listings", len(listings), "stored", stored)
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
