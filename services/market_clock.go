package services

import (
	"math"
	"time"
)

var easternTime = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Fall back to a fixed offset; close enough for DTE granularity.
		loc = time.FixedZone("ET", -5*60*60)
	}
	return loc
}()

// atMarketClose pins a timestamp to 16:00 Eastern on its calendar day.
func atMarketClose(t time.Time) time.Time {
	et := t.In(easternTime)
	return time.Date(et.Year(), et.Month(), et.Day(), 16, 0, 0, 0, easternTime)
}

// marketCloseDTE computes days to expiration with both dates pinned to
// market close, avoiding partial-day rounding. Floored at zero.
func marketCloseDTE(now, expiration time.Time) int {
	d := atMarketClose(expiration).Sub(atMarketClose(now))
	days := int(math.Round(d.Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

// minutesToMarketClose returns minutes remaining until 16:00 Eastern.
// Negative after the close.
func minutesToMarketClose(now time.Time) float64 {
	return atMarketClose(now).Sub(now.In(easternTime)).Minutes()
}

// isMarketOpen reports whether regular trading hours are in session
// (9:30-16:00 Eastern, weekdays). Exchange holidays are not modeled.
func isMarketOpen(now time.Time) bool {
	et := now.In(easternTime)
	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return false
	}
	open := time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, easternTime)
	return !et.Before(open) && et.Before(atMarketClose(et))
}
