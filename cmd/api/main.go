// Package main implements the Business Trucks agent API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/BusinessTrucks/btagent/engine/chat"
	"github.com/BusinessTrucks/btagent/engine/domain"
	"github.com/BusinessTrucks/btagent/engine/retrieval"
	"github.com/BusinessTrucks/btagent/engine/scraper"
	"github.com/BusinessTrucks/btagent/engine/semantic"
	"github.com/BusinessTrucks/btagent/engine/stats"
	"github.com/BusinessTrucks/btagent/pkg/events"
	"github.com/BusinessTrucks/btagent/pkg/metrics"
	"github.com/BusinessTrucks/btagent/pkg/mid"
	"github.com/BusinessTrucks/btagent/pkg/openrouter"
	"github.com/BusinessTrucks/btagent/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port            string
	RedisURL        string
	VectorBackend   string // "redis" or "qdrant"
	QdrantURL       string
	Collection      string
	NATSURL         string
	OpenRouterKey   string
	OpenRouterURL   string
	EmbedModel      string
	ChatModel       string
	ScraperAgentURL string
	CORSOrigin      string
	MaxTopK         int
	Threshold       float64
}

func loadConfig() Config {
	return Config{
		Port:            envOr("PORT", "8080"),
		RedisURL:        envOr("REDIS_URL", "redis://localhost:6379/0"),
		VectorBackend:   envOr("VECTOR_BACKEND", "redis"),
		QdrantURL:       envOr("QDRANT_URL", "localhost:6334"),
		Collection:      envOr("QDRANT_COLLECTION", "btagent"),
		NATSURL:         envOr("NATS_URL", nats.DefaultURL),
		OpenRouterKey:   os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterURL:   envOr("OPENROUTER_BASE_URL", openrouter.DefaultBaseURL),
		EmbedModel:      envOr("EMBED_MODEL", "text-embedding-3-large"),
		ChatModel:       envOr("CHAT_MODEL", "google/gemini-2.5-pro"),
		ScraperAgentURL: envOr("SCRAPER_AGENT_URL", "http://localhost:8090"),
		CORSOrigin:      envOr("CORS_ORIGIN", "*"),
		MaxTopK:         envIntOr("SEARCH_MAX_TOP_K", 10),
		Threshold:       envFloatOr("SEARCH_THRESHOLD", 0.25),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// --- Connect to Redis ---
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
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
	switch cfg.VectorBackend {
	case "qdrant":
		qs, err := semantic.NewQdrantStore(cfg.QdrantURL, cfg.Collection)
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
		return fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}

	// --- Embedding + chat provider ---
	provider := openrouter.New(openrouter.Config{
		BaseURL:    cfg.OpenRouterURL,
		APIKey:     cfg.OpenRouterKey,
		EmbedModel: cfg.EmbedModel,
		ChatModel:  cfg.ChatModel,
	})
	embedder := &guardedEmbedder{
		inner:   provider,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}

	// --- Retrieval pipeline + assistant ---
	opts := retrieval.DefaultOptions()
	opts.MaxTopK = cfg.MaxTopK
	opts.DefaultThreshold = float32(cfg.Threshold)
	pipeline := retrieval.New(embedder, store, opts, logger, reg)

	assistant := chat.New(pipeline, provider, chat.DefaultOptions(), logger)

	agent := scraper.NewAgentClient(cfg.ScraperAgentURL, logger)

	// NATS is optional here: without it scraper status events are not
	// broadcast, but the API stays fully functional.
	var nc *nats.Conn
	if conn, err := nats.Connect(cfg.NATSURL, nats.MaxReconnects(-1), nats.ReconnectWait(2*time.Second)); err != nil {
		logger.Warn("nats unavailable, scraper status events disabled", "err", err)
	} else {
		nc = conn
		defer nc.Drain()
	}
	watcher := &scraperWatcher{agent: agent, stats: statsStore, nc: nc, logger: logger}

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/catalog", handleCatalog)
	mux.HandleFunc("POST /api/search", handleSearch(pipeline, statsStore, logger))
	mux.HandleFunc("POST /api/chat", handleChat(assistant, logger))
	mux.HandleFunc("GET /api/stats", handleStats(statsStore, store, logger))
	mux.HandleFunc("POST /api/scraper/start", handleScraperStart(agent, statsStore, func() { watcher.follow(ctx) }, logger))
	mux.HandleFunc("POST /api/scraper/stop", handleScraperStop(agent, logger))
	mux.HandleFunc("GET /api/scraper/status", handleScraperStatus(agent, logger))
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("btagent-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "backend", cfg.VectorBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCatalog serves the make/model/category taxonomy the dashboard uses
// to build its filter dropdowns.
func handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"makes":      domain.SupportedMakes,
		"categories": domain.Categories,
	})
}

// SearchResponse is the JSON response for POST /api/search.
type SearchResponse struct {
	Results []domain.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

func handleSearch(pipeline *retrieval.Pipeline, statsStore *stats.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		results, err := pipeline.Search(r.Context(), req)
		if err != nil {
			status, msg := errorStatus(err)
			if status == http.StatusInternalServerError {
				logger.Error("search failed", "err", err)
			}
			writeError(w, status, msg)
			return
		}

		if err := statsStore.RecordSearch(r.Context(), req.Text, len(results)); err != nil {
			logger.Warn("search stats update failed", "err", err)
		}
		writeJSON(w, http.StatusOK, SearchResponse{Results: results, Count: len(results)})
	}
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	Question string               `json:"question"`
	History  []openrouter.Message `json:"history,omitempty"`
}

func handleChat(assistant *chat.Assistant, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		answer, err := assistant.Ask(r.Context(), req.Question, req.History)
		if err != nil {
			status, msg := errorStatus(err)
			if status == http.StatusInternalServerError {
				logger.Error("chat failed", "err", err)
			}
			writeError(w, status, msg)
			return
		}
		writeJSON(w, http.StatusOK, answer)
	}
}

// StatsResponse is the JSON response for GET /api/stats.
type StatsResponse struct {
	*stats.Snapshot
	StoredVectors  int                 `json:"stored_vectors"`
	RecentSearches []stats.SearchEntry `json:"recent_searches"`
}

func handleStats(statsStore *stats.Store, store semantic.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := statsStore.Read(r.Context())
		if err != nil {
			logger.Error("stats read failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		vectors, err := store.Count(r.Context())
		if err != nil {
			logger.Warn("vector count failed", "err", err)
		}
		recent, err := statsStore.RecentSearches(r.Context(), 10)
		if err != nil {
			logger.Warn("recent searches read failed", "err", err)
		}
		writeJSON(w, http.StatusOK, StatsResponse{
			Snapshot:       snap,
			StoredVectors:  vectors,
			RecentSearches: recent,
		})
	}
}

func handleScraperStart(agent *scraper.AgentClient, statsStore *stats.Store, follow func(), logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var job scraper.Job
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := agent.Start(r.Context(), job); err != nil {
			logger.Error("scraper start failed", "err", err)
			writeError(w, http.StatusBadGateway, "scraper agent unavailable")
			return
		}
		if err := statsStore.SetScraperStatus(r.Context(), scraper.StateRunning, 0); err != nil {
			logger.Warn("scraper status update failed", "err", err)
		}
		follow()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": scraper.StateRunning})
	}
}

func handleScraperStop(agent *scraper.AgentClient, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := agent.Stop(r.Context()); err != nil {
			logger.Error("scraper stop failed", "err", err)
			writeError(w, http.StatusBadGateway, "scraper agent unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": scraper.StateIdle})
	}
}

func handleScraperStatus(agent *scraper.AgentClient, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := agent.Status(r.Context())
		if err != nil {
			logger.Error("scraper status failed", "err", err)
			writeError(w, http.StatusBadGateway, "scraper agent unavailable")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// errorStatus maps domain errors to HTTP responses without leaking internals.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery),
		errors.Is(err, domain.ErrInvalidFilter):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrSearchTimeout):
		return http.StatusGatewayTimeout, "search timed out"
	case errors.Is(err, domain.ErrEmbeddingUnavailable),
		errors.Is(err, domain.ErrVectorStoreUnavailable),
		errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "search backend unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Adapters ---

// scraperWatcher follows an active scraping run, mirroring agent progress
// into the dashboard keys and broadcasting it on the status subject.
type scraperWatcher struct {
	agent  *scraper.AgentClient
	stats  *stats.Store
	nc     *nats.Conn
	logger *slog.Logger
}

// follow polls the agent in the background until the run finishes or ctx is
// cancelled. ctx is the server lifetime, not the request that started the run.
func (sw *scraperWatcher) follow(ctx context.Context) {
	go func() {
		err := sw.agent.Watch(ctx, 2*time.Second, func(st scraper.Status) {
			if err := sw.stats.SetScraperStatus(ctx, st.State, st.Progress); err != nil {
				sw.logger.Warn("scraper status update failed", "err", err)
			}
			if sw.nc != nil {
				if err := events.Publish(ctx, sw.nc, events.SubjectScraperStatus, st); err != nil {
					sw.logger.Warn("scraper status publish failed", "err", err)
				}
			}
		})
		if err != nil && ctx.Err() == nil {
			sw.logger.Warn("scraper watch ended", "err", err)
		}
	}()
}

// guardedEmbedder wraps the embedding provider with a circuit breaker so a
// dead provider fails fast instead of burning the whole request timeout.
type guardedEmbedder struct {
	inner   *openrouter.Client
	breaker *resilience.Breaker
}

func (g *guardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var embedErr error
		vector, embedErr = g.inner.Embed(ctx, text)
		return embedErr
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}
