package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxQueryLength bounds free-text queries in runes.
const MaxQueryLength = 2000

// ValidateProduct checks that every product field is present. Ingestion
// refuses partial products.
func ValidateProduct(p Product) error {
	fields := []struct{ name, value string }{
		{"product_id", p.ProductID},
		{"title", p.Title},
		{"description", p.Description},
		{"link", p.Link},
		{"video_url", p.VideoURL},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return NewValidationError(f.name, f.value, ErrMissingField)
		}
	}
	return nil
}

// ValidateQuery checks a free-text search query.
func ValidateQuery(q string) error {
	text := strings.TrimSpace(q)
	if text == "" {
		return NewValidationError("query", q, ErrEmptyQuery)
	}
	if utf8.RuneCountInString(text) > MaxQueryLength {
		return NewValidationError("query", string([]rune(text)[:32]), ErrQueryTooLong)
	}
	return nil
}
