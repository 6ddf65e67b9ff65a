// Package security validates untrusted identifiers and snapshot contents
// before they reach the store. Fund ids become file names, so they are held
// to a strict pattern.
package security

import (
	"math"
	"regexp"
	"unicode"
	"unicode/utf8"

	apperrors "etfwatch/internal/errors"
	"etfwatch/internal/models"
)

const maxCodeLen = 20

// Fund id pattern: starts alphanumeric, no path separators or dots-only names
var fundIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,31}$`)

// ValidateFundID checks that id is safe to use as a file name and a key.
func ValidateFundID(id string) error {
	if id == "" {
		return apperrors.NewValidationError("fund", id, "fund id cannot be empty")
	}
	if !fundIDPattern.MatchString(id) {
		return apperrors.NewValidationError("fund", id, "invalid fund id format")
	}
	return nil
}

// ValidateCode checks an instrument code. Codes are free-form but must be
// printable and short.
func ValidateCode(code string) error {
	if code == "" {
		return apperrors.NewValidationError("code", code, "instrument code cannot be empty")
	}
	if utf8.RuneCountInString(code) > maxCodeLen {
		return apperrors.NewValidationError("code", code, "instrument code too long (max 20 characters)")
	}
	for _, r := range code {
		if unicode.IsControl(r) || unicode.IsSpace(r) || r == utf8.RuneError {
			return apperrors.NewValidationError("code", code, "instrument code contains invalid characters")
		}
	}
	return nil
}

// ValidateSnapshot checks every holding of snap: valid codes, non-negative
// counts and finite weights. The first problem found is returned.
func ValidateSnapshot(snap models.Snapshot) error {
	if snap.Date.IsZero() {
		return apperrors.NewValidationError("data_date", snap.Date, "snapshot date is missing")
	}
	for _, code := range snap.Codes() {
		if err := ValidateCode(code); err != nil {
			return err
		}
		h := snap.Holdings[code]
		if h.Count < 0 {
			return apperrors.NewValidationError("holdings."+code+".count", h.Count, "share count cannot be negative")
		}
		if math.IsNaN(h.Weight) || math.IsInf(h.Weight, 0) {
			return apperrors.NewValidationError("holdings."+code+".weight", h.Weight, "weight must be a finite number")
		}
	}
	return nil
}
