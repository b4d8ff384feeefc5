package util

import (
	"time"

	"stocktest/internal/domain"
)

// settleHour/settleMinute mark when US daily bars (extended hours included)
// are final, in exchange time.
const (
	settleHour   = 20
	settleMinute = 5
)

var exchangeLoc = loadExchangeLocation()

func loadExchangeLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("ET", -5*3600)
	}
	return loc
}

// Clock returns the current time. Tests replace it with a fixed clock.
type Clock func() time.Time

// SettledDay returns the latest calendar day whose daily bar can no longer
// change: today in New York once the clock passes 20:05 ET, otherwise
// yesterday.
func SettledDay(now time.Time) domain.Day {
	et := now.In(exchangeLoc)
	cutoff := time.Date(et.Year(), et.Month(), et.Day(), settleHour, settleMinute, 0, 0, exchangeLoc)
	today := domain.DayOf(et)
	if et.Before(cutoff) {
		return today - 1
	}
	return today
}
