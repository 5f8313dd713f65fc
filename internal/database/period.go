package database

import (
	"fmt"
	"strings"
	"time"
)

// FormatPeriodDisplay formats an inclusive date range for human-readable display.
// Single day: "Feb 06, 2026"
// Range: "Feb 01 - Feb 06, 2026"
func FormatPeriodDisplay(start, end string) string {
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return start + ".." + end
	}
	if start == end || end == "" {
		return s.Format("Jan 02, 2006")
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return start + ".." + end
	}
	if s.Year() != e.Year() {
		return fmt.Sprintf("%s - %s", s.Format("Jan 02, 2006"), e.Format("Jan 02, 2006"))
	}
	return fmt.Sprintf("%s - %s", s.Format("Jan 02"), e.Format("Jan 02, 2006"))
}

// SplitPeriodKey splits a summary key such as "weekly:2024-03-04" into the
// period name and start date. ok is false for malformed keys.
func SplitPeriodKey(key string) (name, start string, ok bool) {
	name, start, ok = strings.Cut(key, ":")
	if !ok || name == "" {
		return "", "", false
	}
	if _, err := time.Parse("2006-01-02", start); err != nil {
		return "", "", false
	}
	return name, start, true
}
