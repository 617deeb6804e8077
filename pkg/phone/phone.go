package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when the caller does not supply one
const DefaultRegion = "US"

// ErrEmpty is returned for blank input
var ErrEmpty = errors.New("phone number cannot be empty")

// Normalize converts a phone number to E.164 format
func Normalize(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmpty
	}
	if region == "" {
		region = DefaultRegion
	}

	parsed, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("failed to parse phone number: %w", err)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// NormalizeOrKeep returns the E.164 form when the number parses and the trimmed input otherwise.
// Simulated callers often use numbers outside any numbering plan.
func NormalizeOrKeep(raw, region string) (string, error) {
	normalized, err := Normalize(raw, region)
	if errors.Is(err, ErrEmpty) {
		return "", err
	}
	if err != nil {
		return strings.TrimSpace(raw), nil
	}
	return normalized, nil
}
