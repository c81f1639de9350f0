package store

import "time"

// Range selects the created_at lower bound for stats and history queries.
type Range string

const (
	RangeToday  Range = "today"
	Range7Days  Range = "7days"
	Range30Days Range = "30days"
	RangeAll    Range = "all"
)

func ParseRange(raw string) (Range, bool) {
	switch Range(raw) {
	case RangeToday, Range7Days, Range30Days, RangeAll:
		return Range(raw), true
	case "":
		return RangeToday, true
	default:
		return "", false
	}
}

// LowerBound returns the inclusive created_at cutoff for the range. The
// second return value is false for RangeAll, meaning no filter applies.
func (r Range) LowerBound(now time.Time, loc *time.Location) (time.Time, bool) {
	switch r {
	case RangeToday:
		start, _ := DayWindow(now, loc)
		return start, true
	case Range7Days:
		return now.AddDate(0, 0, -7), true
	case Range30Days:
		return now.AddDate(0, 0, -30), true
	default:
		return time.Time{}, false
	}
}
