package summary

import (
	"math"
	"time"

	"github.com/TobiSchelling/cheekschecker/internal/businessday"
	"github.com/TobiSchelling/cheekschecker/internal/mask"
)

// Direction is a coarse trend.
type Direction string

const (
	Up      Direction = "up"
	Down    Direction = "down"
	Flat    Direction = "flat"
	Unknown Direction = "unknown"
)

// deadBand is the change below which a trend counts as flat. Ratios are
// compared in percentage points.
const deadBand = 0.5

func direction(diff float64) Direction {
	switch {
	case diff > deadBand:
		return Up
	case diff < -deadBand:
		return Down
	}
	return Flat
}

// MaskedStats is Stats rendered as labels.
type MaskedStats struct {
	Mean   string `json:"mean"`
	Median string `json:"median"`
	Max    string `json:"max"`
}

// MaskedDay is one ranked day rendered as labels.
type MaskedDay struct {
	BusinessDay string `json:"business_day"`
	Single      string `json:"single"`
	Female      string `json:"female"`
	Total       string `json:"total"`
	Ratio       string `json:"ratio"`
}

// MaskedTrend holds trend directions.
type MaskedTrend struct {
	Single Direction `json:"single"`
	Female Direction `json:"female"`
	Ratio  Direction `json:"ratio"`
}

// Masked is a Context safe to archive.
type Masked struct {
	Status      string               `json:"status"`
	GeneratedAt time.Time            `json:"generated_at"`
	Level       mask.Level           `json:"mask_level"`
	PeriodStart string               `json:"period_start"`
	PeriodEnd   string               `json:"period_end"`
	Days        int                  `json:"day_count"`
	Single      MaskedStats          `json:"single"`
	Female      MaskedStats          `json:"female"`
	Total       MaskedStats          `json:"total"`
	Ratio       MaskedStats          `json:"ratio"`
	Top         []MaskedDay          `json:"top_days"`
	Trend       MaskedTrend          `json:"trend"`
	Weekdays    map[string]MaskedDay `json:"weekday_profile"`
}

const (
	StatusOK     = "ok"
	StatusNoData = "no-data"
)

// MaskContext renders ctx through the band tables of cfg at level.
func MaskContext(ctx Context, cfg mask.Config, level mask.Level, now time.Time) Masked {
	m := Masked{
		Status:      StatusOK,
		GeneratedAt: now,
		Level:       level,
		PeriodStart: businessday.Key(ctx.Period.Start),
		PeriodEnd:   businessday.Key(ctx.Period.End()),
		Days:        ctx.Days,
		Weekdays:    map[string]MaskedDay{},
	}
	if ctx.Empty {
		m.Status = StatusNoData
		return m
	}

	count := func(v float64, t *mask.BandTable) string { return mask.Mask(math.Round(v), t, level) }
	ratio := func(v float64) string { return mask.Mask(v, cfg.Ratio, level) }
	countStats := func(s Stats, t *mask.BandTable) MaskedStats {
		return MaskedStats{Mean: count(s.Mean, t), Median: count(s.Median, t), Max: count(s.Max, t)}
	}

	m.Single = countStats(ctx.Single, cfg.Single)
	m.Female = countStats(ctx.Female, cfg.Female)
	m.Total = countStats(ctx.Total, cfg.Total)
	m.Ratio = MaskedStats{Mean: ratio(ctx.Ratio.Mean), Median: ratio(ctx.Ratio.Median), Max: ratio(ctx.Ratio.Max)}

	for _, e := range ctx.Top {
		m.Top = append(m.Top, MaskedDay{
			BusinessDay: businessday.Key(e.BusinessDay),
			Single:      count(float64(e.SingleFemale), cfg.Single),
			Female:      count(float64(e.Female), cfg.Female),
			Total:       count(float64(e.Total), cfg.Total),
			Ratio:       ratio(e.Ratio),
		})
	}

	if ctx.HasPrevious() {
		m.Trend = MaskedTrend{
			Single: direction(ctx.Trend.Single),
			Female: direction(ctx.Trend.Female),
			Ratio:  direction(ctx.Trend.Ratio * 100),
		}
	} else {
		m.Trend = MaskedTrend{Single: Unknown, Female: Unknown, Ratio: Unknown}
	}

	for wd, p := range ctx.Weekdays {
		m.Weekdays[businessday.ShortName(wd)] = MaskedDay{
			Single: count(p.Single, cfg.Single),
			Female: count(p.Female, cfg.Female),
			Total:  count(p.Total, cfg.Total),
			Ratio:  ratio(p.Ratio),
		}
	}
	return m
}
