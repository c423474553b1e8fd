// internal/engine/operator/duration.go
package operator

import (
	"fmt"
	"strings"
	"time"
)

// DurationUnit is the unit of a duration criterion.
type DurationUnit string

const (
	Days   DurationUnit = "days"
	Months DurationUnit = "months"
	Years  DurationUnit = "years"
)

const (
	daysPerYear   = 365
	leapTolerance = 24 * time.Hour
)

func ParseUnit(name string) (DurationUnit, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "day", "days":
		return Days, nil
	case "month", "months":
		return Months, nil
	case "", "year", "years":
		return Years, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedUnit, name)
	}
}

// Elapsed returns floor(now - since) in unit.
//
// Days are exact elapsed 24h periods. Months are calendar months: a month
// is complete once the same day-of-month (and time of day) is reached.
// Years follow the calendar anniversary. A leap day may bring the boundary
// forward by at most one day: when the next anniversary is within a day
// and 365 days per year have elapsed, the year counts as complete.
func Elapsed(since, now time.Time, unit DurationUnit) int64 {
	switch unit {
	case Days:
		return floorDiv(int64(now.Sub(since)), int64(24*time.Hour))
	case Months:
		return calendarMonths(since, now)
	default:
		years := floorDiv(calendarMonths(since, now), 12)
		days := floorDiv(int64(now.Sub(since)), int64(24*time.Hour))
		if byDays := floorDiv(days, daysPerYear); byDays == years+1 {
			next := since.In(now.Location()).AddDate(int(byDays), 0, 0)
			if next.Sub(now) <= leapTolerance {
				return byDays
			}
		}
		return years
	}
}

func calendarMonths(since, now time.Time) int64 {
	if now.Before(since) {
		return -calendarMonths(now, since)
	}
	since = since.In(now.Location())
	months := int64(now.Year()-since.Year())*12 + int64(now.Month()-since.Month())
	if months > 0 && since.AddDate(0, int(months), 0).After(now) {
		months--
	}
	return months
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
