// Package ingest turns scraped listings into embedded vehicle records in the
// vector store. Listings arrive over NATS from the scraper agent; each one is
// validated, converted, embedded, and stored through a composable stage
// pipeline. Failed listings are retried a bounded number of times and then
// parked on a dead-letter subject.
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BusinessTrucks/btagent/engine/domain"
)

// Listing is the scraped wire form of one vehicle advertisement.
type Listing struct {
	SourceID    string    `json:"source_id"`
	Source      string    `json:"source"`
	Make        string    `json:"make"`
	Model       string    `json:"model"`
	Year        int       `json:"year,omitempty"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency,omitempty"`
	City        string    `json:"city,omitempty"`
	SellerType  string    `json:"seller_type,omitempty"`
	Mileage     float64   `json:"mileage,omitempty"`
	Category    string    `json:"category,omitempty"`
	URL         string    `json:"url,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Description string    `json:"description,omitempty"`
	PostedAt    time.Time `json:"posted_at,omitzero"`
}

// RecordID derives a stable record ID from the listing's source identity, so
// re-scraping the same advertisement updates in place instead of duplicating.
func (l Listing) RecordID() string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(l.Source+":"+l.SourceID)).String()
}

// Validate rejects listings that cannot become a stored record.
func (l Listing) Validate() error {
	switch {
	case strings.TrimSpace(l.SourceID) == "":
		return fmt.Errorf("%w: listing missing source_id", domain.ErrInvalidRecord)
	case strings.TrimSpace(l.Source) == "":
		return fmt.Errorf("%w: listing missing source", domain.ErrInvalidRecord)
	case strings.TrimSpace(l.Make) == "":
		return fmt.Errorf("%w: listing missing make", domain.ErrInvalidRecord)
	case strings.TrimSpace(l.Model) == "":
		return fmt.Errorf("%w: listing missing model", domain.ErrInvalidRecord)
	case l.Price <= 0:
		return fmt.Errorf("%w: listing price must be positive", domain.ErrInvalidRecord)
	}
	if l.Year != 0 && (l.Year < domain.MinModelYear || l.Year > domain.MaxModelYear) {
		return fmt.Errorf("%w: listing year %d out of range", domain.ErrInvalidRecord, l.Year)
	}
	if l.Category != "" && !domain.ValidCategories[l.Category] {
		return fmt.Errorf("%w: unknown category %q", domain.ErrInvalidRecord, l.Category)
	}
	return nil
}

// toRecord converts a validated listing into the open-schema record form.
// Optional fields are only set when present so filters on them behave.
func toRecord(l Listing) domain.VehicleRecord {
	id := l.RecordID()
	attrs := map[string]any{
		"id":        id,
		"make":      l.Make,
		"model":     l.Model,
		"price":     l.Price,
		"source":    l.Source,
		"source_id": l.SourceID,
	}
	if l.Year != 0 {
		attrs["year"] = l.Year
	}
	if l.Currency != "" {
		attrs["currency"] = l.Currency
	}
	if l.City != "" {
		attrs["city"] = l.City
	}
	if l.SellerType != "" {
		attrs["seller_type"] = l.SellerType
	}
	if l.Mileage > 0 {
		attrs["mileage"] = l.Mileage
	}
	if l.Category != "" {
		attrs["category"] = l.Category
	}
	if l.URL != "" {
		attrs["url"] = l.URL
	}
	if l.ImageURL != "" {
		attrs["image_url"] = l.ImageURL
	}
	return domain.VehicleRecord{
		ID:          id,
		Attributes:  attrs,
		Description: l.Description,
	}
}
