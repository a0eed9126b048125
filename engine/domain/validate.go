package domain

import "strings"

// MinQueryLen is the minimum number of non-space characters for a search query.
const MinQueryLen = 2

// ValidateQuery checks a raw search query before it enters the pipeline.
func ValidateQuery(query string) error {
	q := strings.TrimSpace(query)
	if q == "" {
		return NewValidationError("query", query, ErrInvalidQuery)
	}
	if len(q) < MinQueryLen {
		return NewValidationError("query", query, ErrQueryTooShort)
	}
	return nil
}

// ValidateRecord checks a VenueRecord before ingestion or indexing.
func ValidateRecord(rec VenueRecord) error {
	if strings.TrimSpace(rec.Name) == "" {
		return NewValidationError("name", rec.Name, ErrInvalidRecord)
	}
	if rec.Rating != nil && (*rec.Rating < 1 || *rec.Rating > 5) {
		return NewValidationError("rating", rec.Name, ErrInvalidRecord)
	}
	if rec.ReviewCount != nil && *rec.ReviewCount < 0 {
		return NewValidationError("review_count", rec.Name, ErrInvalidRecord)
	}
	if rec.Coordinates != nil {
		c := rec.Coordinates
		if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
			return NewValidationError("coordinates", rec.Name, ErrInvalidRecord)
		}
	}
	return nil
}
