package retrieval

import (
	"sort"

	"github.com/BusinessTrucks/btagent/engine/domain"
	"github.com/BusinessTrucks/btagent/engine/semantic"
)

// toResults converts raw store candidates into result values.
func toResults(candidates []semantic.Candidate) []domain.SearchResult {
	results := make([]domain.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = domain.SearchResult{
			Record: domain.VehicleRecord{
				ID:          c.ID,
				Attributes:  c.Attributes,
				Description: c.Description,
			},
			Score: c.Score,
		}
	}
	return results
}

// applyFilters drops results failing any filter. Filters are validated
// before the store is queried, so unknown attributes never reach here.
func applyFilters(results []domain.SearchResult, filters []domain.Filter) []domain.SearchResult {
	if len(filters) == 0 {
		return results
	}
	kept := results[:0]
	for _, r := range results {
		ok := true
		for _, f := range filters {
			if !f.Matches(r.Record) {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, r)
		}
	}
	return kept
}

// applyThreshold drops results scoring below the similarity threshold.
func applyThreshold(results []domain.SearchResult, threshold float32) []domain.SearchResult {
	kept := results[:0]
	for _, r := range results {
		if r.Score >= threshold {
			kept = append(kept, r)
		}
	}
	return kept
}

// sortResults orders by descending score, ties broken by ascending record ID.
func sortResults(results []domain.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.ID < results[j].Record.ID
	})
}
