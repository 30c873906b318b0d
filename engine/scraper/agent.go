package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// AgentClient controls a scraper agent over its HTTP API. Control calls are
// rate limited so a misbehaving dashboard cannot hammer the agent.
type AgentClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewAgentClient creates a client for the agent at baseURL.
func NewAgentClient(baseURL string, logger *slog.Logger) *AgentClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
		logger:  logger,
	}
}

// Start submits a scraping job. The agent rejects a second job while one is
// running; that surfaces here as a non-2xx error.
func (a *AgentClient) Start(ctx context.Context, job Job) error {
	if job.Source == "" {
		return fmt.Errorf("scraper: start: source is required")
	}
	if err := a.do(ctx, http.MethodPost, "/scrape/start", job, nil); err != nil {
		return fmt.Errorf("scraper: start: %w", err)
	}
	a.logger.Info("scraper: job started", "source", job.Source, "query", job.Query)
	return nil
}

// Stop asks the agent to abort the current run.
func (a *AgentClient) Stop(ctx context.Context) error {
	if err := a.do(ctx, http.MethodPost, "/scrape/stop", nil, nil); err != nil {
		return fmt.Errorf("scraper: stop: %w", err)
	}
	a.logger.Info("scraper: job stopped")
	return nil
}

// Status fetches the agent's current run status.
func (a *AgentClient) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := a.do(ctx, http.MethodGet, "/scrape/status", nil, &st); err != nil {
		return nil, fmt.Errorf("scraper: status: %w", err)
	}
	return &st, nil
}

// Watch polls the agent status at the given interval and calls onStatus for
// every successful poll until ctx is cancelled or the run finishes. Poll
// failures are logged and do not stop the loop; the agent may just be
// restarting.
func (a *AgentClient) Watch(ctx context.Context, interval time.Duration, onStatus func(Status)) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		st, err := a.Status(ctx)
		if err != nil {
			a.logger.Warn("scraper: status poll failed", "error", err)
			continue
		}
		onStatus(*st)
		if st.State == StateDone || st.State == StateFailed {
			return nil
		}
	}
}

// do runs one rate-limited HTTP call against the agent.
func (a *AgentClient) do(ctx context.Context, method, path string, body, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
