// Package summary aggregates daily entries into period statistics.
package summary

import (
	"math"
	"sort"
	"time"

	"github.com/TobiSchelling/cheekschecker/internal/businessday"
	"github.com/TobiSchelling/cheekschecker/internal/mask"
)

// TopN is the number of ranked days kept in a summary.
const TopN = 3

// Entry is one day of input. Ratio is 0-1.
type Entry struct {
	BusinessDay  time.Time `json:"business_day"`
	SingleFemale int       `json:"single_female"`
	Female       int       `json:"female"`
	Total        int       `json:"total"`
	Ratio        float64   `json:"ratio"`
}

// Stats is mean/median/max of one measure.
type Stats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}

// Profile holds per-weekday means.
type Profile struct {
	Days   int     `json:"days"`
	Single float64 `json:"single"`
	Female float64 `json:"female"`
	Total  float64 `json:"total"`
	Ratio  float64 `json:"ratio"`
}

// Trend is the change of each mean against the previous period.
type Trend struct {
	Single float64 `json:"single"`
	Female float64 `json:"female"`
	Ratio  float64 `json:"ratio"`
}

// Context is the computed summary for a period.
type Context struct {
	Period       Period                   `json:"period"`
	Empty        bool                     `json:"empty"`
	Days         int                      `json:"days"`
	PreviousDays int                      `json:"previous_days"`
	Single       Stats                    `json:"single"`
	Female       Stats                    `json:"female"`
	Total        Stats                    `json:"total"`
	Ratio        Stats                    `json:"ratio"`
	MaxDay       *Entry                   `json:"max_day,omitempty"`
	Top          []Entry                  `json:"top"`
	Weekdays     map[time.Weekday]Profile `json:"weekdays"`
	Trend        Trend                    `json:"trend"`
}

// HasPrevious reports whether the trend compares against real data.
func (c Context) HasPrevious() bool {
	return c.PreviousDays > 0
}

// Summarize computes the summary of entries falling inside period. Entries
// outside both period and its predecessor are ignored. When two entries share
// a day the later one wins.
func Summarize(entries []Entry, period Period) Context {
	current := filter(entries, period)
	previous := filter(entries, period.Previous())

	ctx := Context{
		Period:       period,
		Days:         len(current),
		PreviousDays: len(previous),
		Weekdays:     map[time.Weekday]Profile{},
	}
	if len(current) == 0 {
		ctx.Empty = true
		return ctx
	}

	ctx.Single, ctx.Female, ctx.Total, ctx.Ratio = measure(current)

	ranked := rank(current)
	top := ranked[0]
	ctx.MaxDay = &top
	if len(ranked) > TopN {
		ranked = ranked[:TopN]
	}
	ctx.Top = ranked

	byDay := map[time.Weekday][]Entry{}
	for _, e := range current {
		wd := e.BusinessDay.Weekday()
		byDay[wd] = append(byDay[wd], e)
	}
	for wd, items := range byDay {
		s, f, t, r := measure(items)
		ctx.Weekdays[wd] = Profile{Days: len(items), Single: s.Mean, Female: f.Mean, Total: t.Mean, Ratio: r.Mean}
	}

	var prevSingle, prevFemale, prevRatio float64
	if len(previous) > 0 {
		s, f, _, r := measure(previous)
		prevSingle, prevFemale, prevRatio = s.Mean, f.Mean, r.Mean
	}
	ctx.Trend = Trend{
		Single: ctx.Single.Mean - prevSingle,
		Female: ctx.Female.Mean - prevFemale,
		Ratio:  ctx.Ratio.Mean - prevRatio,
	}
	return ctx
}

func filter(entries []Entry, p Period) []Entry {
	byKey := map[string]Entry{}
	for _, e := range entries {
		if p.Contains(e.BusinessDay) {
			byKey[businessday.Key(e.BusinessDay)] = e
		}
	}
	out := make([]Entry, 0, len(byKey))
	for _, e := range byKey {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusinessDay.Before(out[j].BusinessDay) })
	return out
}

// rank orders by female desc, ratio desc, then earlier date.
func rank(entries []Entry) []Entry {
	out := append([]Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Female != b.Female {
			return a.Female > b.Female
		}
		if a.Ratio != b.Ratio {
			return a.Ratio > b.Ratio
		}
		return a.BusinessDay.Before(b.BusinessDay)
	})
	return out
}

func measure(entries []Entry) (single, female, total, ratio Stats) {
	n := len(entries)
	s := make([]float64, n)
	f := make([]float64, n)
	t := make([]float64, n)
	r := make([]float64, n)
	for i, e := range entries {
		s[i] = float64(e.SingleFemale)
		f[i] = float64(e.Female)
		t[i] = float64(e.Total)
		r[i] = e.Ratio
	}
	return stats(s), stats(f), stats(t), stats(r)
}

func stats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return Stats{Mean: sum / float64(len(sorted)), Median: median, Max: sorted[len(sorted)-1]}
}

// EntriesFromMasked reads masked history back into entries using the lower
// bound of each label. Records with labels unknown to cfg are skipped and
// counted.
func EntriesFromMasked(records []mask.Record, cfg mask.Config) ([]Entry, int) {
	var out []Entry
	skipped := 0
	for _, rec := range records {
		day, err := businessday.ParseKey(rec.BusinessDay)
		if err != nil {
			skipped++
			continue
		}
		counts, ratio, ok := cfg.Unmask(rec)
		if !ok {
			skipped++
			continue
		}
		out = append(out, Entry{
			BusinessDay:  day,
			SingleFemale: counts.SingleFemale,
			Female:       counts.Female,
			Total:        counts.Total,
			Ratio:        math.Min(1, ratio),
		})
	}
	return out, skipped
}
