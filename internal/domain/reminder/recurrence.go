package reminder

import "time"

// NextOccurrence returns the next due time after t for the given policy,
// in t's location, keeping the wall-clock time of day. Monthly and yearly
// steps clamp to the last day of the target month (Jan 31 + 1 month is the
// last day of February). RepeatNone returns t unchanged.
func NextOccurrence(t time.Time, p RepeatPolicy) time.Time {
	switch p {
	case RepeatDaily:
		return t.AddDate(0, 0, 1)
	case RepeatMonthly:
		return addMonthsClamped(t, 1)
	case RepeatYearly:
		return addMonthsClamped(t, 12)
	default:
		return t
	}
}

// NextFutureOccurrence advances t by the policy until it is strictly after
// now. Used after a fire and when catching up reminders missed while the
// process was down. RepeatNone returns t unchanged.
func NextFutureOccurrence(t time.Time, p RepeatPolicy, now time.Time) time.Time {
	if !p.Repeats() {
		return t
	}
	next := NextOccurrence(t, p)
	// Monthly steps are re-derived from the anchor so a clamp in February
	// does not drag every later month to the 28th.
	for step := 2; !next.After(now); step++ {
		switch p {
		case RepeatMonthly:
			next = addMonthsClamped(t, step)
		case RepeatYearly:
			next = addMonthsClamped(t, 12*step)
		default:
			next = NextOccurrence(next, p)
		}
	}
	return next
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	total := int(m) - 1 + months
	year := y + total/12
	month := time.Month(total%12 + 1)

	if last := daysIn(year, month, t.Location()); d > last {
		d = last
	}
	return time.Date(year, month, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
