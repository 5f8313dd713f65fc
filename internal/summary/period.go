package summary

import (
	"fmt"
	"time"

	"github.com/TobiSchelling/cheekschecker/internal/businessday"
)

// Period is an inclusive run of Length business days starting at Start.
type Period struct {
	Name   string    `json:"name"`
	Start  time.Time `json:"start"`
	Length int       `json:"length"`
}

// End returns the last day of the period.
func (p Period) End() time.Time {
	return p.Start.AddDate(0, 0, p.Length-1)
}

// Contains reports whether day falls within the period.
func (p Period) Contains(day time.Time) bool {
	d := businessday.DateOf(day)
	return !d.Before(p.Start) && !d.After(p.End())
}

// Previous returns the equal-length period immediately before p.
func (p Period) Previous() Period {
	return Period{Name: p.Name, Start: p.Start.AddDate(0, 0, -p.Length), Length: p.Length}
}

// Key identifies the period in the summaries table, e.g. "weekly:2024-03-04".
func (p Period) Key() string {
	return fmt.Sprintf("%s:%s", p.Name, businessday.Key(p.Start))
}

func (p Period) String() string {
	return fmt.Sprintf("%s..%s", businessday.Key(p.Start), businessday.Key(p.End()))
}

// LastNDays is the n days ending on end, inclusive.
func LastNDays(end time.Time, n int) Period {
	if n < 1 {
		n = 1
	}
	end = businessday.DateOf(end)
	return Period{Name: fmt.Sprintf("last%d", n), Start: end.AddDate(0, 0, -(n - 1)), Length: n}
}

// WeeklyPeriod is the Monday-Sunday week before the week containing today.
func WeeklyPeriod(today time.Time) Period {
	today = businessday.DateOf(today)
	sinceMonday := (int(today.Weekday()) + 6) % 7
	start := today.AddDate(0, 0, -sinceMonday-7)
	return Period{Name: "weekly", Start: start, Length: 7}
}

// MonthlyPeriod is the calendar month before the month containing today.
func MonthlyPeriod(today time.Time) Period {
	today = businessday.DateOf(today)
	thisMonth := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := thisMonth.AddDate(0, -1, 0)
	return Period{Name: "monthly", Start: start, Length: businessday.DaysBetween(start, thisMonth)}
}
