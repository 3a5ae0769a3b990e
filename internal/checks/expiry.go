package checks

import (
	"fmt"
	"math"
	"time"
)

const day = 24 * time.Hour

// DaysUntil is floor((t - now) / 24h).
func DaysUntil(t, now time.Time) int {
	return int(math.Floor(float64(t.Sub(now)) / float64(day)))
}

// CalendarDaysUntil is ceil((t - now) / 24h). A date set N days ahead of a
// clock read just before now still counts as N days.
func CalendarDaysUntil(t, now time.Time) int {
	return int(math.Ceil(float64(t.Sub(now)) / float64(day)))
}

// expiryFinding applies the shared expiry window: a negative day count
// expires unless already expired, 0..window warns while still active.
func expiryFinding(stage string, days, window int, passedFmt, upcomingFmt string) (Finding, bool) {
	switch {
	case days < 0:
		return Finding{
			Stage:    stage,
			Severity: SeverityExpired,
			When:     WhenNotExpired,
			Message:  fmt.Sprintf(passedFmt, -days),
		}, true
	case days <= window:
		return Finding{
			Stage:    stage,
			Severity: SeverityWarning,
			When:     WhenActive,
			Message:  fmt.Sprintf(upcomingFmt, days),
		}, true
	default:
		return Finding{}, false
	}
}

// ProductExpiry evaluates the product-level expiry date.
func ProductExpiry(expiresAt, now time.Time, window int) (Finding, bool) {
	return expiryFinding("expiry", CalendarDaysUntil(expiresAt, now), window,
		"Product expiration date has passed (%d days ago)", "Product expires in %d days")
}

// RegistrationExpiry evaluates a domain registration expiry date.
func RegistrationExpiry(expiresAt, now time.Time, window int) (Finding, bool) {
	return expiryFinding("registration", CalendarDaysUntil(expiresAt, now), window,
		"Domain registration expired %d days ago", "Domain registration expires in %d days")
}
