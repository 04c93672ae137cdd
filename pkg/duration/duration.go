// Package duration renders durations in a compact human-readable form
// for configuration output, extending the standard units with days and
// weeks. Zero components are omitted: 1h0m0s becomes 1h.
package duration

import (
	"fmt"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

// Format converts a duration to a human-readable string using the
// largest fitting units, largest first. Sub-second remainders fall back
// to time.Duration's own formatting so no precision is lost.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}

	units := []struct {
		size  time.Duration
		label string
	}{
		{Week, "w"},
		{Day, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
	}
	for _, u := range units {
		if n := d / u.size; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.label)
			d -= n * u.size
		}
	}
	if d > 0 {
		// Remainder smaller than a second.
		b.WriteString(d.String())
	}
	return b.String()
}
