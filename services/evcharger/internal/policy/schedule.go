package policy

import (
	"time"

	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/config"
	"github.com/rhernaus/victron-alfen-charger-sub000/x/timex"
)

// WithinAnySchedule reports whether now (evaluated in loc) falls inside any
// enabled schedule window. Day bit 0 is Sunday. A window covers
// [start, end) minutes-of-day and wraps midnight when end <= start; items
// with start == end are ignored.
func WithinAnySchedule(items []config.ScheduleItem, now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	day := timex.SundayIndex(local)
	minute := timex.MinuteOfDay(local)

	for _, item := range items {
		if !item.Enabled {
			continue
		}
		if item.DaysMask&(1<<day) == 0 {
			continue
		}
		start, err := config.ParseHHMM(item.Start)
		if err != nil {
			continue
		}
		end, err := config.ParseHHMM(item.End)
		if err != nil {
			continue
		}
		if start == end {
			continue
		}
		if start < end {
			if minute >= start && minute < end {
				return true
			}
		} else if minute >= start || minute < end {
			return true
		}
	}
	return false
}
