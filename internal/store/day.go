package store

import (
	"fmt"
	"time"
)

// DayWindow returns the [start, end) bounds of the calendar day containing
// now in the given location. The location is the single authority for
// "today" across ticket numbering, queue filtering, resets, and stats.
func DayWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// DayKey is the sequence-table key for the day containing now.
func DayKey(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("2006-01-02")
}

// TicketLabel formats a daily sequence number as a display ticket, e.g. #0007.
func TicketLabel(seq int64) string {
	return fmt.Sprintf("#%04d", seq)
}
