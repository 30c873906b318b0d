// Package domain defines the core data model, constants, and validation for
// the Business Trucks agent engine. It acts as the validation gate at pipeline
// entry points: nothing reaches the vector store or the embedding provider
// without passing through here first.
package domain

import (
	"fmt"
	"strconv"
)

// EmbeddingDim is the fixed embedding dimension used across the whole store.
// Records with a different dimension are rejected at ingestion.
const EmbeddingDim = 1536

// RequiredAttributes must be present on every stored record. The attribute
// schema is otherwise open: scrapers may add new fields at any time.
var RequiredAttributes = []string{"id", "make", "model", "price"}

// VehicleRecord represents one inventory listing.
type VehicleRecord struct {
	ID          string         `json:"id"`
	Attributes  map[string]any `json:"attributes"`
	Description string         `json:"description"`
	Embedding   []float32      `json:"embedding,omitempty"`
}

// Attr returns the string form of an attribute value, or "" when absent.
func (r VehicleRecord) Attr(name string) string {
	v, ok := r.Attributes[name]
	if !ok || v == nil {
		return ""
	}
	switch tv := v.(type) {
	case string:
		return tv
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case int:
		return strconv.Itoa(tv)
	case int64:
		return strconv.FormatInt(tv, 10)
	default:
		return fmt.Sprint(tv)
	}
}

// NumAttr returns an attribute as float64. The second return is false when
// the attribute is absent or not numeric.
func (r VehicleRecord) NumAttr(name string) (float64, bool) {
	v, ok := r.Attributes[name]
	if !ok || v == nil {
		return 0, false
	}
	switch tv := v.(type) {
	case float64:
		return tv, true
	case float32:
		return float64(tv), true
	case int:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case string:
		f, err := strconv.ParseFloat(tv, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Filter constrains one attribute of a candidate record. Exactly one of
// Equals or Min/Max must be set: Equals for equality, Min/Max for a numeric
// range (either bound may be omitted, both bounds are inclusive).
type Filter struct {
	Attribute string   `json:"attribute"`
	Equals    string   `json:"equals,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
}

// IsRange reports whether the filter carries a numeric range constraint.
func (f Filter) IsRange() bool { return f.Min != nil || f.Max != nil }

// QueryRequest is one natural-language search call. It is ephemeral: the
// retrieval pipeline holds no state between requests.
type QueryRequest struct {
	Text                string   `json:"text"`
	Filters             []Filter `json:"filters,omitempty"`
	TopK                int      `json:"top_k"`
	SimilarityThreshold float32  `json:"similarity_threshold"`
}

// SearchResult is one ranked match. Score is in [0,1], higher is better.
// Result sequences are ordered by descending score, ties broken by
// ascending record ID for determinism.
type SearchResult struct {
	Record VehicleRecord `json:"record"`
	Score  float32       `json:"score"`
}
