package domain

import (
	"fmt"
	"strings"
)

// RecognizedAttributes is the set of attribute names filters may reference.
// Unrecognized names fail fast with ErrInvalidFilter rather than silently
// matching nothing, which would present a wrong "no results" to the user.
var RecognizedAttributes = map[string]bool{
	"id":          true,
	"make":        true,
	"model":       true,
	"year":        true,
	"price":       true,
	"mileage":     true,
	"city":        true,
	"location":    true,
	"category":    true,
	"seller_type": true,
	"currency":    true,
	"url":         true,
}

// ValidateRequest checks a QueryRequest before it touches any external
// service. TopK bounds are not checked here; the retrieval pipeline clamps
// them with a warning instead of rejecting the call.
func ValidateRequest(q QueryRequest) error {
	if strings.TrimSpace(q.Text) == "" {
		return NewValidationError("text", q.Text, ErrInvalidQuery)
	}
	if q.SimilarityThreshold < 0 || q.SimilarityThreshold > 1 {
		return NewValidationError("similarity_threshold",
			fmt.Sprintf("%g", q.SimilarityThreshold), ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if err := ValidateFilter(f); err != nil {
			return err
		}
	}
	return nil
}

// ValidateFilter checks a single filter constraint.
func ValidateFilter(f Filter) error {
	if !RecognizedAttributes[f.Attribute] {
		return NewValidationError("attribute", f.Attribute, ErrInvalidFilter)
	}
	hasEq := f.Equals != ""
	if hasEq && f.IsRange() {
		return NewValidationError("attribute", f.Attribute, ErrInvalidFilter)
	}
	if !hasEq && !f.IsRange() {
		return NewValidationError("attribute", f.Attribute, ErrInvalidFilter)
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return NewValidationError("attribute",
			fmt.Sprintf("%s[%g..%g]", f.Attribute, *f.Min, *f.Max), ErrInvalidFilter)
	}
	return nil
}

// ValidateRecord checks a VehicleRecord before it is persisted. Records with
// a wrong-dimension embedding never reach the store.
func ValidateRecord(r VehicleRecord) error {
	if strings.TrimSpace(r.ID) == "" {
		return NewValidationError("id", r.ID, ErrInvalidRecord)
	}
	for _, name := range RequiredAttributes {
		if name == "id" {
			continue
		}
		if r.Attr(name) == "" {
			return NewValidationError(name, "", ErrMissingAttribute)
		}
	}
	if len(r.Embedding) > 0 && len(r.Embedding) != EmbeddingDim {
		return NewValidationError("embedding",
			fmt.Sprintf("dim=%d", len(r.Embedding)), ErrInvalidRecord)
	}
	return nil
}

// Matches reports whether a record satisfies the filter. Equality compares
// case-insensitively on the string form; ranges compare numerically and
// never match non-numeric attributes.
func (f Filter) Matches(r VehicleRecord) bool {
	if f.Equals != "" {
		got := r.Attr(f.Attribute)
		if f.Attribute == "id" {
			got = r.ID
		}
		return strings.EqualFold(got, f.Equals)
	}
	v, ok := r.NumAttr(f.Attribute)
	if !ok {
		return false
	}
	if f.Min != nil && v < *f.Min {
		return false
	}
	if f.Max != nil && v > *f.Max {
		return false
	}
	return true
}
