package businessday

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical business-day key format.
const DateLayout = "2006-01-02"

// RolloverHours holds the cut-off hour for each weekday, indexed by time.Weekday.
// Before the cut-off, the clock still belongs to the previous business day.
type RolloverHours [7]int

// DefaultRolloverHours mirrors the venue's all-night schedule.
var DefaultRolloverHours = RolloverHours{
	time.Sunday:    2,
	time.Monday:    0,
	time.Tuesday:   5,
	time.Wednesday: 5,
	time.Thursday:  5,
	time.Friday:    6,
	time.Saturday:  6,
}

// Validate checks every hour is within 0-23.
func (h RolloverHours) Validate() error {
	for wd, hour := range h {
		if hour < 0 || hour > 23 {
			return fmt.Errorf("rollover hour for %s out of range: %d", time.Weekday(wd), hour)
		}
	}
	return nil
}

// Resolver maps wall-clock instants to logical business days.
type Resolver struct {
	loc   *time.Location
	hours RolloverHours
}

// NewResolver creates a resolver for the given civil calendar location.
// A nil location means UTC.
func NewResolver(loc *time.Location, hours RolloverHours) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc, hours: hours}
}

// Location returns the resolver's civil calendar location.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// LogicalBusinessDay returns the business day that now belongs to.
func (r *Resolver) LogicalBusinessDay(now time.Time) time.Time {
	local := now.In(r.loc)
	day := DateOf(local)
	if local.Hour() < r.hours[local.Weekday()] {
		return day.AddDate(0, 0, -1)
	}
	return day
}

// DateOf truncates t to its civil date, expressed as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Key formats a date as YYYY-MM-DD.
func Key(d time.Time) string {
	return d.Format(DateLayout)
}

// ParseKey parses a YYYY-MM-DD key into a date.
func ParseKey(key string) (time.Time, error) {
	return time.Parse(DateLayout, key)
}

// DaysBetween returns the whole days from a to b (positive when b is later).
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// InferEntryDate resolves a calendar cell's day-of-month to an absolute date.
// Candidates come from the reference month and both adjacent months; the one
// nearest the reference wins, ties going to the earlier date. Returns false
// when day is outside 1-31.
func InferEntryDate(day int, reference time.Time) (time.Time, bool) {
	if day < 1 || day > 31 {
		return time.Time{}, false
	}
	ref := DateOf(reference)
	first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)

	var best time.Time
	bestDist := -1
	for _, offset := range []int{-1, 0, 1} {
		month := first.AddDate(0, offset, 0)
		if day > daysIn(month) {
			continue
		}
		candidate := time.Date(month.Year(), month.Month(), day, 0, 0, 0, 0, time.UTC)
		dist := DaysBetween(candidate, ref)
		if dist < 0 {
			dist = -dist
		}
		// Offsets are visited in ascending order, so strict < keeps the earlier date on ties.
		if bestDist < 0 || dist < bestDist {
			best, bestDist = candidate, dist
		}
	}
	return best, bestDist >= 0
}

func daysIn(month time.Time) int {
	return time.Date(month.Year(), month.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseWeekday parses a three-letter weekday abbreviation (case-insensitive).
func ParseWeekday(s string) (time.Weekday, error) {
	wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return wd, nil
}

// ShortName returns the three-letter English abbreviation of wd.
func ShortName(wd time.Weekday) string {
	return wd.String()[:3]
}
