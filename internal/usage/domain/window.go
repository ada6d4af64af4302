package domain

import "time"

// WindowStart returns the start of the calendar period containing now, in
// loc. Weeks start on Sunday. Unknown periods fall back to lastResetAt, or
// the Unix epoch when the limit was never reset.
func WindowStart(period ResetPeriod, now time.Time, loc *time.Location, lastResetAt *time.Time) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()

	switch period {
	case ResetDaily:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case ResetWeekly:
		return time.Date(y, m, d-int(local.Weekday()), 0, 0, 0, 0, loc)
	case ResetMonthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case ResetYearly:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	}
	if lastResetAt != nil {
		return lastResetAt.In(loc)
	}
	return time.Unix(0, 0).In(loc)
}

// NeedsReset reports whether a limit last reset at lastResetAt belongs to an
// earlier calendar period than the one containing now.
func NeedsReset(period ResetPeriod, lastResetAt *time.Time, now time.Time, loc *time.Location) bool {
	if lastResetAt == nil {
		return true
	}
	return lastResetAt.Before(WindowStart(period, now, loc, nil))
}
