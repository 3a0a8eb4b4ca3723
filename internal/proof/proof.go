// Package proof validates submitted evidence against a group's requirements.
package proof

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"rewardline/internal/domain"
)

// ValidationError names the first requirement the payload failed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("proof %s: %s", e.Field, e.Reason)
}

// Validate checks payload against cfg. A nil cfg accepts any non-empty payload.
// The slot is left for the caller to mutate; this package only judges input.
func Validate(cfg *domain.ProofConfig, payload domain.ProofPayload) error {
	if cfg == nil {
		if empty(payload) {
			return ValidationError{Field: "payload", Reason: "must not be empty"}
		}
		return nil
	}
	if cfg.Photo != nil && cfg.Photo.Enabled {
		if len(payload.Photos) == 0 {
			return ValidationError{Field: "photos", Reason: "at least one photo reference required"}
		}
		if cfg.Photo.Count > 0 && len(payload.Photos) < cfg.Photo.Count {
			return ValidationError{Field: "photos", Reason: fmt.Sprintf("requires %d photos, got %d", cfg.Photo.Count, len(payload.Photos))}
		}
		for i, f := range payload.Photos {
			if strings.TrimSpace(f.URL) == "" {
				return ValidationError{Field: fmt.Sprintf("photos[%d].url", i), Reason: "must not be empty"}
			}
		}
	}
	if cfg.GPS != nil && cfg.GPS.Enabled {
		if payload.GPS == nil {
			return ValidationError{Field: "gps", Reason: "location required"}
		}
		if payload.GPS.Latitude == nil {
			return ValidationError{Field: "gps.latitude", Reason: "numeric latitude required"}
		}
		if payload.GPS.Longitude == nil {
			return ValidationError{Field: "gps.longitude", Reason: "numeric longitude required"}
		}
		if *payload.GPS.Latitude < -90 || *payload.GPS.Latitude > 90 {
			return ValidationError{Field: "gps.latitude", Reason: "out of range"}
		}
		if *payload.GPS.Longitude < -180 || *payload.GPS.Longitude > 180 {
			return ValidationError{Field: "gps.longitude", Reason: "out of range"}
		}
	}
	if cfg.Description != nil && cfg.Description.Enabled {
		// Character count, not word count: non-space-delimited scripts must
		// not be penalized for having no word boundaries.
		got := utf8.RuneCountInString(strings.TrimSpace(payload.Description))
		min := cfg.Description.MinChars
		if min < 1 {
			min = 1
		}
		if got < min {
			return ValidationError{Field: "description", Reason: fmt.Sprintf("requires at least %d characters, got %d", min, got)}
		}
	}
	return nil
}

func empty(p domain.ProofPayload) bool {
	return len(p.Photos) == 0 && p.GPS == nil && strings.TrimSpace(p.Description) == ""
}
