package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// MinuteOfDay returns the minute index [0,1439] of t in its own location.
func MinuteOfDay(t time.Time) int { return t.Hour()*60 + t.Minute() }

// SundayIndex returns the day-of-week with Sunday = 0, matching the
// schedule day-mask bit layout.
func SundayIndex(t time.Time) int { return int(t.Weekday()) }
