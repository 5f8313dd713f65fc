// Package report composes period summaries from stored daily data.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/cheekschecker/internal/businessday"
	"github.com/TobiSchelling/cheekschecker/internal/database"
	"github.com/TobiSchelling/cheekschecker/internal/mask"
	"github.com/TobiSchelling/cheekschecker/internal/summary"
)

// Source names where summary entries came from.
const (
	SourceDailyStats    = "daily_stats"
	SourceMaskedHistory = "masked_history"
)

// Result is a composed and stored summary.
type Result struct {
	Title   string
	Source  string
	Context summary.Context
	Masked  summary.Masked
	Stored  *database.Summary
}

// Composer builds period summaries.
type Composer struct {
	db    *database.DB
	mask  mask.Config
	level mask.Level
	now   func() time.Time
}

// NewComposer creates a summary composer masking at level.
func NewComposer(db *database.DB, cfg mask.Config, level mask.Level) *Composer {
	return &Composer{db: db, mask: cfg, level: level, now: time.Now}
}

// Title returns the display title of a period.
func Title(p summary.Period) string {
	switch p.Name {
	case "weekly":
		return "週次サマリー"
	case "monthly":
		return "月次サマリー"
	}
	return fmt.Sprintf("直近%d日サマリー", p.Length)
}

// ComposeSummary summarizes period, preferring unmasked daily stats and
// falling back to masked history when none are stored, then archives the
// masked result in the summaries table.
func (c *Composer) ComposeSummary(period summary.Period) (*Result, error) {
	entries, source, err := c.loadEntries(period)
	if err != nil {
		return nil, err
	}

	ctx := summary.Summarize(entries, period)
	masked := summary.MaskContext(ctx, c.mask, c.level, c.now())
	title := Title(period)

	maskedJSON, err := json.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("encoding masked summary: %w", err)
	}
	stored := database.Summary{
		PeriodKey:    period.Key(),
		PeriodName:   period.Name,
		PeriodStart:  masked.PeriodStart,
		PeriodEnd:    masked.PeriodEnd,
		Status:       masked.Status,
		MaskLevel:    int(c.level),
		DayCount:     masked.Days,
		MaskedJSON:   string(maskedJSON),
		BodyMarkdown: AssembleBody(title, masked),
	}
	if err := c.db.InsertSummary(stored); err != nil {
		return nil, fmt.Errorf("storing summary: %w", err)
	}

	log.WithFields(log.Fields{
		"period": period.Key(),
		"days":   ctx.Days,
		"source": source,
	}).Info("summary composed")

	archived, err := c.db.GetSummary(period.Key())
	if err != nil {
		return nil, err
	}
	return &Result{Title: title, Source: source, Context: ctx, Masked: masked, Stored: archived}, nil
}

// loadEntries reads the period and its predecessor.
func (c *Composer) loadEntries(period summary.Period) ([]summary.Entry, string, error) {
	from := businessday.Key(period.Previous().Start)
	to := businessday.Key(period.End())

	stats, err := c.db.GetDailyStats(from, to)
	if err != nil {
		return nil, "", fmt.Errorf("loading daily stats: %w", err)
	}
	if len(stats) > 0 {
		entries := make([]summary.Entry, 0, len(stats))
		for _, s := range stats {
			day, err := businessday.ParseKey(s.BusinessDay)
			if err != nil {
				log.WithField("business_day", s.BusinessDay).Debug("skipping daily stat with bad key")
				continue
			}
			entries = append(entries, summary.Entry{
				BusinessDay:  day,
				SingleFemale: s.Counts.SingleFemale,
				Female:       s.Counts.Female,
				Total:        s.Counts.Total,
				Ratio:        s.Ratio,
			})
		}
		return entries, SourceDailyStats, nil
	}

	records, err := c.db.GetMaskedHistory(from, to)
	if err != nil {
		return nil, "", fmt.Errorf("loading masked history: %w", err)
	}
	entries, skipped := summary.EntriesFromMasked(records, c.mask)
	if skipped > 0 {
		log.WithField("skipped", skipped).Warn("masked history records with unknown labels ignored")
	}
	return entries, SourceMaskedHistory, nil
}

// AssembleBody renders a masked summary as markdown.
func AssembleBody(title string, m summary.Masked) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Cheekschecker %s\n\n", title)
	fmt.Fprintf(&b, "**対象期間**: %s 〜 %s\n\n", m.PeriodStart, m.PeriodEnd)

	if m.Status != summary.StatusOK {
		b.WriteString("No data for this period / 集計対象なし\n")
		return b.String()
	}
	fmt.Fprintf(&b, "**対象営業日**: %d日\n\n", m.Days)

	b.WriteString("## 統計\n\n")
	b.WriteString("| 指標 | 平均 | 中央 | 最大 |\n|---|---|---|---|\n")
	for _, row := range []struct {
		name string
		s    summary.MaskedStats
	}{
		{"単独女性", m.Single},
		{"女性総数", m.Female},
		{"全体", m.Total},
		{"女性比率", m.Ratio},
	} {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", row.name, row.s.Mean, row.s.Median, row.s.Max)
	}

	b.WriteString("\n## Hot day Top3\n\n")
	if len(m.Top) == 0 {
		b.WriteString("該当なし\n")
	}
	for i, d := range m.Top {
		fmt.Fprintf(&b, "%d. %s 単女%s 女%s/全%s (%s)\n", i+1, d.BusinessDay, d.Single, d.Female, d.Total, d.Ratio)
	}

	b.WriteString("\n## 傾向 (直前比)\n\n")
	fmt.Fprintf(&b, "- 単独女性: %s\n- 女性総数: %s\n- 女性比率: %s\n", m.Trend.Single, m.Trend.Female, m.Trend.Ratio)

	b.WriteString("\n## 曜日別プロファイル\n\n")
	wrote := false
	for i := 1; i <= 7; i++ {
		name := businessday.ShortName(time.Weekday(i % 7))
		p, ok := m.Weekdays[name]
		if !ok {
			continue
		}
		wrote = true
		fmt.Fprintf(&b, "- %s: 単%s 女%s/全%s (%s)\n", name, p.Single, p.Female, p.Total, p.Ratio)
	}
	if !wrote {
		b.WriteString("- データ不足\n")
	}
	return b.String()
}
