package ingest

import (
	"fmt"
	"strings"
)

// BuildEmbeddingText renders a listing into the canonical text the embedding
// model sees. Stored records and search queries share the same vector space,
// so this stays plain prose: structured fields first, free-text description
// last.
func BuildEmbeddingText(l Listing) string {
	var b strings.Builder

	b.WriteString(l.Make)
	b.WriteByte(' ')
	b.WriteString(l.Model)
	if l.Year != 0 {
		fmt.Fprintf(&b, " %d", l.Year)
	}
	if l.Category != "" {
		fmt.Fprintf(&b, ", %s", l.Category)
	}
	if l.Price > 0 {
		currency := l.Currency
		if currency == "" {
			currency = "RUB"
		}
		fmt.Fprintf(&b, ", price %.0f %s", l.Price, currency)
	}
	if l.Mileage > 0 {
		fmt.Fprintf(&b, ", mileage %.0f km", l.Mileage)
	}
	if l.City != "" {
		fmt.Fprintf(&b, ", located in %s", l.City)
	}
	if l.SellerType != "" {
		fmt.Fprintf(&b, ", %s seller", l.SellerType)
	}
	if desc := strings.TrimSpace(l.Description); desc != "" {
		b.WriteString(". ")
		b.WriteString(desc)
	}
	return b.String()
}
