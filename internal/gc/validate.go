package gc

import (
	"fmt"
	"net/url"
	"regexp"
)

var (
	idPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)
	regionPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,50}$`)
)

// validateID enforces spec §4.5: 1-255 chars, [A-Za-z0-9_-].
func validateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("id must be 1-255 chars matching [A-Za-z0-9_-]")
	}
	return nil
}

// validateRegion enforces spec §4.5: 1-50 chars, alphanumeric/-.
func validateRegion(region string) error {
	if !regionPattern.MatchString(region) {
		return fmt.Errorf("region must be 1-50 chars, alphanumeric or '-'")
	}
	return nil
}

// validateEndpoint enforces spec §4.5: 1-255 chars, syntactically URL-safe.
func validateEndpoint(endpoint string) error {
	if len(endpoint) == 0 || len(endpoint) > 255 {
		return fmt.Errorf("endpoint must be 1-255 chars")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("endpoint must be a valid absolute URL")
	}
	return nil
}

// clampInt32 clamps n into the int32 range (spec §4.5: "capacities clamped
// into i32 range").
func clampInt32(n int64) int32 {
	const (
		maxI32 = int64(1<<31 - 1)
		minI32 = -int64(1 << 31)
	)
	if n > maxI32 {
		return int32(maxI32)
	}
	if n < minI32 {
		return int32(minI32)
	}
	return int32(n)
}
