// Package bidding knows the COE bidding calendar: how rounds are identified,
// labelled and when they close.
//
// Exercise 1 closes on the first Wednesday of the month and exercise 2 on the
// third Wednesday, both at 16:00 Singapore time.
package bidding

import (
	"fmt"
	"time"
)

const (
	monthLayout = "2006-01"
	closingHour = 16
)

// SGT is Singapore Standard Time. Singapore has no DST so a fixed zone is exact.
var SGT = time.FixedZone("SGT", 8*60*60)

// Round identifies one bidding exercise within a month.
type Round struct {
	Month    time.Time // first day of the month, SGT
	Exercise int
}

// ParseRound builds a Round from an upstream month ("2026-02") and bidding
// number.
func ParseRound(month string, exercise int) (Round, error) {
	m, err := time.ParseInLocation(monthLayout, month, SGT)
	if err != nil {
		return Round{}, fmt.Errorf("parse month %q: %w", month, err)
	}
	if exercise < 1 {
		return Round{}, fmt.Errorf("invalid exercise number %d for %s", exercise, month)
	}
	return Round{Month: m, Exercise: exercise}, nil
}

// ID returns the stable round identifier, e.g. "2026-02-1".
func (r Round) ID() string {
	return fmt.Sprintf("%s-%d", r.Month.Format(monthLayout), r.Exercise)
}

// Label returns the human-readable round label, e.g. "Feb 2026 Ex 1".
func (r Round) Label() string {
	return fmt.Sprintf("%s Ex %d", r.Month.Format("Jan 2006"), r.Exercise)
}

// ClosingDate returns the moment bidding closes for the round, in UTC.
func (r Round) ClosingDate() time.Time {
	ordinal := 3
	if r.Exercise == 1 {
		ordinal = 1
	}
	day := nthWeekday(r.Month.Year(), r.Month.Month(), time.Wednesday, ordinal)
	return time.Date(r.Month.Year(), r.Month.Month(), day, closingHour, 0, 0, 0, SGT).UTC()
}

// nthWeekday returns the day of month of the nth occurrence of wd.
func nthWeekday(year int, month time.Month, wd time.Weekday, n int) int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, SGT).Weekday()
	diff := (int(wd) - int(first) + 7) % 7
	return 1 + diff + (n-1)*7
}
