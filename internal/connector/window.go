package connector

import "time"

// Window is an inclusive date range.
type Window struct {
	From time.Time
	To   time.Time
}

// Windows splits [from, to] into consecutive ranges of days days: each
// window is [start, min(start+days, to)] and the next starts the day after.
// days <= 0 returns the whole range as one window.
func Windows(from, to time.Time, days int) []Window {
	from, to = truncateDay(from), truncateDay(to)
	if to.Before(from) {
		return nil
	}
	if days <= 0 {
		return []Window{{From: from, To: to}}
	}

	var out []Window
	for start := from; !start.After(to); {
		end := start.AddDate(0, 0, days)
		if end.After(to) {
			end = to
		}
		out = append(out, Window{From: start, To: end})
		start = end.AddDate(0, 0, 1)
	}
	return out
}

// DaysBack returns the range [today-days, today].
func DaysBack(now time.Time, days int) (time.Time, time.Time) {
	to := truncateDay(now)
	return to.AddDate(0, 0, -days), to
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
