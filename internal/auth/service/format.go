package service

import (
	"strconv"
	"time"
)

func boolString(b bool) string { return strconv.FormatBool(b) }

func formatInt(n int64) string { return strconv.FormatInt(n, 10) }

// humanDuration renders d for an email: "15 minutes", "24 hours".
func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return formatInt(n) + " " + unit + "s"
}
