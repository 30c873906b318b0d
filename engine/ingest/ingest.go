package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/BusinessTrucks/btagent/engine/domain"
	"github.com/BusinessTrucks/btagent/engine/semantic"
	"github.com/BusinessTrucks/btagent/pkg/events"
	"github.com/BusinessTrucks/btagent/pkg/fn"
	"github.com/BusinessTrucks/btagent/pkg/metrics"
	"github.com/BusinessTrucks/btagent/pkg/resilience"
)

// retryCountHeader carries the delivery attempt count across redeliveries.
const retryCountHeader = "X-Retry-Count"

// maxRetries bounds redeliveries before a listing is parked on the DLQ.
const maxRetries = 3

// Embedder converts listing text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VehicleRecorder is the stats slice the pipeline writes through.
type VehicleRecorder interface {
	RecordVehicle(ctx context.Context, id, category string) error
}

// Pipeline ingests listings end to end: validate, convert, embed, store.
type Pipeline struct {
	embed   Embedder
	store   semantic.Store
	stats   VehicleRecorder
	limiter *resilience.Limiter
	logger  *slog.Logger

	ingested *metrics.Counter
	rejected *metrics.Counter
	failures *metrics.Counter
	latency  *metrics.Histogram
}

// NewPipeline creates an ingest pipeline. stats may be nil when no dashboard
// counters are wanted (e.g. backfills).
func NewPipeline(embed Embedder, store semantic.Store, stats VehicleRecorder, logger *slog.Logger, reg *metrics.Registry) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Pipeline{
		embed: embed,
		store: store,
		stats: stats,
		// Embedding providers meter per-minute; 5/s with a small burst keeps a
		// full scraper run under their limits.
		limiter:  resilience.NewLimiter(resilience.LimiterOpts{Rate: 5, Burst: 10}),
		logger:   logger,
		ingested: reg.Counter("ingest_listings_total", "Listings stored"),
		rejected: reg.Counter("ingest_rejected_total", "Listings that failed validation"),
		failures: reg.Counter("ingest_failures_total", "Listings that failed embed or store"),
		latency:  reg.Histogram("ingest_listing_seconds", "Per-listing ingest latency", nil),
	}
}

// Ingest processes one listing. Validation errors are permanent; embed and
// store errors are transient and safe to redeliver because record IDs are
// derived from the source identity.
func (p *Pipeline) Ingest(ctx context.Context, listing Listing) error {
	start := time.Now()
	defer p.latency.Since(start)

	stage := fn.TracedStage("ingest.listing", fn.Then(
		p.validateStage(),
		fn.Then(p.embedStage(BuildEmbeddingText(listing)), p.storeStage()),
	))
	if _, err := stage(ctx, listing).Unwrap(); err != nil {
		return err
	}
	p.ingested.Inc()
	return nil
}

func (p *Pipeline) validateStage() fn.Stage[Listing, domain.VehicleRecord] {
	return func(_ context.Context, l Listing) fn.Result[domain.VehicleRecord] {
		if err := l.Validate(); err != nil {
			p.rejected.Inc()
			return fn.Err[domain.VehicleRecord](err)
		}
		return fn.Ok(toRecord(l))
	}
}

func (p *Pipeline) embedStage(text string) fn.Stage[domain.VehicleRecord, domain.VehicleRecord] {
	return func(ctx context.Context, rec domain.VehicleRecord) fn.Result[domain.VehicleRecord] {
		var vector []float32
		err := p.limiter.CallWait(ctx, func(ctx context.Context) error {
			var embedErr error
			vector, embedErr = p.embed.Embed(ctx, text)
			return embedErr
		})
		if err != nil {
			p.failures.Inc()
			return fn.Errf[domain.VehicleRecord]("ingest: embed %s: %w: %w", rec.ID, domain.ErrEmbeddingUnavailable, err)
		}
		rec.Embedding = vector
		if err := domain.ValidateRecord(rec); err != nil {
			p.rejected.Inc()
			return fn.Err[domain.VehicleRecord](err)
		}
		return fn.Ok(rec)
	}
}

func (p *Pipeline) storeStage() fn.Stage[domain.VehicleRecord, domain.VehicleRecord] {
	return func(ctx context.Context, rec domain.VehicleRecord) fn.Result[domain.VehicleRecord] {
		err := p.store.Upsert(ctx, []semantic.VectorRecord{{
			ID:          rec.ID,
			Embedding:   rec.Embedding,
			Attributes:  rec.Attributes,
			Description: rec.Description,
		}})
		if err != nil {
			p.failures.Inc()
			return fn.Errf[domain.VehicleRecord]("ingest: store %s: %w: %w", rec.ID, domain.ErrVectorStoreUnavailable, err)
		}
		if p.stats != nil {
			if err := p.stats.RecordVehicle(ctx, rec.ID, rec.Attr("category")); err != nil {
				// Dashboard counters are best effort; the record is stored.
				p.logger.Warn("ingest: stats update failed", "id", rec.ID, "error", err)
			}
		}
		return fn.Ok(rec)
	}
}

// IngestBatch processes listings sequentially, skipping invalid ones, and
// returns the number stored. A transient failure stops the batch so the
// caller can resume without re-embedding everything before it.
func (p *Pipeline) IngestBatch(ctx context.Context, listings []Listing) (int, error) {
	stored := 0
	for _, l := range listings {
		err := p.Ingest(ctx, l)
		if err == nil {
			stored++
			continue
		}
		if isPermanent(err) {
			p.logger.Warn("ingest: listing rejected", "source", l.Source, "source_id", l.SourceID, "error", err)
			continue
		}
		return stored, err
	}
	return stored, nil
}

// Consumer subscribes the pipeline to the listings subject with bounded
// redelivery and a dead-letter subject for poison messages.
type Consumer struct {
	nc       *nats.Conn
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewConsumer wires a pipeline to a NATS connection.
func NewConsumer(nc *nats.Conn, pipeline *Pipeline, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{nc: nc, pipeline: pipeline, logger: logger}
}

// Run subscribes and processes listings until ctx is cancelled. Permanent
// failures go straight to the DLQ; transient failures are republished with an
// incremented retry header up to maxRetries.
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.nc.QueueSubscribe(events.SubjectListings, "ingest", func(msg *nats.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("ingest: subscribe %s: %w", events.SubjectListings, err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("ingest: consumer started", "subject", events.SubjectListings)
	<-ctx.Done()
	return ctx.Err()
}

func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	var listing Listing
	if err := json.Unmarshal(msg.Data, &listing); err != nil {
		c.logger.Warn("ingest: malformed listing, sending to dlq", "error", err)
		c.deadLetter(msg)
		return
	}

	err := c.pipeline.Ingest(ctx, listing)
	if err == nil {
		return
	}
	if isPermanent(err) {
		c.logger.Warn("ingest: listing rejected, sending to dlq",
			"source", listing.Source, "source_id", listing.SourceID, "error", err)
		c.deadLetter(msg)
		return
	}

	attempt := retryCount(msg) + 1
	if attempt > maxRetries {
		c.logger.Error("ingest: retries exhausted, sending to dlq",
			"source", listing.Source, "source_id", listing.SourceID, "error", err)
		c.deadLetter(msg)
		return
	}

	retry := nats.NewMsg(events.SubjectListings)
	retry.Data = msg.Data
	retry.Header.Set(retryCountHeader, strconv.Itoa(attempt))
	if err := c.nc.PublishMsg(retry); err != nil {
		c.logger.Error("ingest: republish failed", "error", err)
	}
}

func (c *Consumer) deadLetter(msg *nats.Msg) {
	dlq := nats.NewMsg(events.SubjectListingsDLQ)
	dlq.Data = msg.Data
	if err := c.nc.PublishMsg(dlq); err != nil {
		c.logger.Error("ingest: dlq publish failed", "error", err)
	}
}

func retryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(retryCountHeader))
	if err != nil {
		return 0
	}
	return n
}

// isPermanent reports whether err is a validation failure that redelivery
// cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidRecord) || errors.Is(err, domain.ErrMissingAttribute)
}
