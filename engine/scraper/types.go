// Package scraper talks to the external scraper agent that crawls listing
// sites and publishes scraped vehicles onto NATS. The agent exposes a small
// HTTP control API; this package wraps it and mirrors its status into the
// dashboard keys.
package scraper

import "time"

// Job describes one scraping run.
type Job struct {
	// Source names the listing site, e.g. "avito" or "drom".
	Source string `json:"source"`
	// Query narrows the crawl, e.g. "КАМАЗ 5490".
	Query string `json:"query,omitempty"`
	// MaxListings caps the run; 0 means the agent default.
	MaxListings int `json:"max_listings,omitempty"`
}

// Agent run states.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// Status is the agent's self-reported progress.
type Status struct {
	State         string    `json:"state"`
	Progress      float64   `json:"progress"` // 0.0-1.0
	ListingsFound int       `json:"listings_found"`
	Error         string    `json:"error,omitempty"`
	LastUpdate    time.Time `json:"last_update"`
}
