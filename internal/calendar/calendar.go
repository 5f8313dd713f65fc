// Package calendar extracts per-day participant text from the venue's monthly
// calendar page and turns it into evaluated daily entries.
package calendar

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/cheekschecker/internal/businessday"
	"github.com/TobiSchelling/cheekschecker/internal/criteria"
	"github.com/TobiSchelling/cheekschecker/internal/participant"
	"github.com/TobiSchelling/cheekschecker/internal/stage"
	"github.com/TobiSchelling/cheekschecker/internal/summary"
)

var dayPattern = regexp.MustCompile(`\d+`)

// Cell is one day square of the calendar grid.
type Cell struct {
	DayOfMonth int
	Column     int
	Lines      []string
}

// Parse reads calendar HTML (UTF-8) and returns its day cells.
//
// The grid is the table with border=2, falling back to the first table and
// then the whole document. Day cells are td elements with valign=top whose
// first center holds the day number; participant lines are the font elements
// under the third (or second) center.
func Parse(r io.Reader) ([]Cell, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing calendar html: %w", err)
	}

	scope := doc.Find(`table[border="2"]`).First()
	hint := `table[border="2"]`
	if scope.Length() == 0 {
		scope = doc.Find("table").First()
		hint = "table-fallback"
	}
	if scope.Length() == 0 {
		scope = doc.Selection
		hint = "document"
	}
	log.WithField("scope", hint).Debug("Parsing calendar cells")

	var cells []Cell
	scope.Find("tr").Each(func(_ int, row *goquery.Selection) {
		col := 0
		row.ChildrenFiltered("td").Each(func(_ int, td *goquery.Selection) {
			valign, _ := td.Attr("valign")
			if !strings.EqualFold(valign, "top") {
				return
			}
			column := col
			col++
			if cell, ok := parseCell(td, column); ok {
				cells = append(cells, cell)
			}
		})
	})
	return cells, nil
}

func parseCell(td *goquery.Selection, column int) (Cell, bool) {
	centers := td.Find("center")
	if centers.Length() == 0 {
		return Cell{}, false
	}
	dayText := participant.Normalize(strings.TrimSpace(centers.First().Text()))
	m := dayPattern.FindString(dayText)
	if m == "" {
		return Cell{}, false
	}
	day, err := strconv.Atoi(m)
	if err != nil {
		return Cell{}, false
	}

	var parent *goquery.Selection
	switch {
	case centers.Length() >= 3:
		parent = centers.Eq(2)
	case centers.Length() == 2:
		parent = centers.Eq(1)
	}
	var fonts *goquery.Selection
	if parent != nil {
		fonts = parent.Find("font")
	}
	if fonts == nil || fonts.Length() == 0 {
		fonts = td.Find("font")
	}

	cell := Cell{DayOfMonth: day, Column: column}
	fonts.Each(func(_ int, f *goquery.Selection) {
		if text := strings.TrimSpace(f.Text()); text != "" {
			cell.Lines = append(cell.Lines, text)
		}
	})
	return cell, true
}

// DailyEntry is one evaluated business day.
type DailyEntry struct {
	BusinessDay time.Time          `json:"business_day"`
	DayOfMonth  int                `json:"day"`
	Column      int                `json:"column"`
	Counts      participant.Counts `json:"counts"`
	Result      criteria.Result    `json:"result"`
	Lines       []string           `json:"lines"`
}

// Key returns the canonical business day key.
func (e DailyEntry) Key() string {
	return businessday.Key(e.BusinessDay)
}

// Weekday is the weekday of the business day.
func (e DailyEntry) Weekday() time.Weekday {
	return e.BusinessDay.Weekday()
}

// Observation converts the entry for the notification stager.
func (e DailyEntry) Observation() stage.Observation {
	return stage.Observation{
		BusinessDay:    e.BusinessDay,
		Counts:         e.Counts,
		Ratio:          e.Result.Ratio,
		Meets:          e.Result.Meets,
		RequiredSingle: e.Result.RequiredSingle,
	}
}

// SummaryEntry converts the entry for aggregation.
func (e DailyEntry) SummaryEntry() summary.Entry {
	return summary.Entry{
		BusinessDay:  e.BusinessDay,
		SingleFemale: e.Counts.SingleFemale,
		Female:       e.Counts.Female,
		Total:        e.Counts.Total,
		Ratio:        e.Result.Ratio,
	}
}

// BuildEntries resolves each cell to a date near reference, extracts its
// counts and evaluates them. Cells whose day cannot be resolved are skipped.
// When two cells resolve to the same date the one listing more people wins.
// Entries come back ordered by date.
func BuildEntries(cells []Cell, reference time.Time, evaluator *criteria.Evaluator, excludeKeywords []string) []DailyEntry {
	byKey := map[string]int{}
	var entries []DailyEntry
	for _, cell := range cells {
		date, ok := businessday.InferEntryDate(cell.DayOfMonth, reference)
		if !ok {
			log.WithField("day", cell.DayOfMonth).Debug("Skipping cell with out-of-range day")
			continue
		}
		counts, kept := participant.ExtractLines(cell.Lines, excludeKeywords)
		entry := DailyEntry{
			BusinessDay: date,
			DayOfMonth:  cell.DayOfMonth,
			Column:      cell.Column,
			Counts:      counts,
			Result:      evaluator.Evaluate(date, counts),
			Lines:       kept,
		}
		key := entry.Key()
		if i, dup := byKey[key]; dup {
			if entries[i].Counts.Total < counts.Total {
				entries[i] = entry
			}
			log.WithField("business_day", key).Debug("Duplicate calendar cell for date")
			continue
		}
		byKey[key] = len(entries)
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].BusinessDay.Before(entries[j].BusinessDay)
	})
	return entries
}

// Observations converts entries for the stager.
func Observations(entries []DailyEntry) []stage.Observation {
	out := make([]stage.Observation, len(entries))
	for i, e := range entries {
		out[i] = e.Observation()
	}
	return out
}

// FormatEntry renders an entry as a one-line summary, e.g.
// "2024-03-15 単女3 女5 男4 全9 (55%)".
func FormatEntry(e DailyEntry) string {
	return fmt.Sprintf("%s 単女%d 女%d 男%d 全%d (%d%%)",
		e.Key(), e.Counts.SingleFemale, e.Counts.Female, e.Counts.Male, e.Counts.Total, percent(e.Result.Ratio))
}

func percent(ratio float64) int {
	return int(ratio*100 + 0.5)
}

// LogSnapshot writes a debug overview of what was parsed.
func LogSnapshot(entries []DailyEntry, logicalToday time.Time) {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	if len(entries) == 0 {
		log.Debug("days_coverage: count=0")
		return
	}
	minDay, maxDay := entries[0].DayOfMonth, entries[0].DayOfMonth
	for _, e := range entries {
		if e.DayOfMonth < minDay {
			minDay = e.DayOfMonth
		}
		if e.DayOfMonth > maxDay {
			maxDay = e.DayOfMonth
		}
	}
	log.Debugf("days_coverage: count=%d min=%d max=%d", len(entries), minDay, maxDay)

	preview := func(list []DailyEntry) []string {
		out := make([]string, len(list))
		for i, e := range list {
			out[i] = FormatEntry(e)
		}
		return out
	}
	first := entries
	if len(first) > 10 {
		first = first[:10]
	}
	last := entries
	if len(last) > 5 {
		last = last[len(last)-5:]
	}
	log.Debugf("parsed first days: %v", preview(first))
	log.Debugf("parsed last days: %v", preview(last))

	latest := "none"
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.BusinessDay.Month() == logicalToday.Month() && e.Counts.Total > 0 {
			latest = FormatEntry(e)
			break
		}
	}
	log.Debugf("latest_nonzero: %s", latest)
}
