package store

import (
	"regexp"
	"strconv"
	"time"
)

// parsePGInterval parses Postgres's default textual INTERVAL output (e.g.
// "1 day 01:00:00", "01:00:00", "30 days") into a time.Duration. lib/pq does
// not do this conversion itself; INTERVAL columns come back as plain text.
var pgIntervalDayRe = regexp.MustCompile(`(-?\d+)\s+days?`)
var pgIntervalTimeRe = regexp.MustCompile(`(-?\d+):(\d+):(\d+(?:\.\d+)?)`)

func parsePGInterval(s string) (time.Duration, bool) {
	var total time.Duration
	matched := false

	if m := pgIntervalDayRe.FindStringSubmatch(s); m != nil {
		days, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		total += time.Duration(days) * 24 * time.Hour
		matched = true
	}

	if m := pgIntervalTimeRe.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		sec, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			return 0, false
		}
		total += time.Duration(h)*time.Hour + time.Duration(min)*time.Minute +
			time.Duration(sec*float64(time.Second))
		matched = true
	}

	return total, matched
}
