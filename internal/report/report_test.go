package report

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/cheekschecker/internal/database"
	"github.com/TobiSchelling/cheekschecker/internal/mask"
	"github.com/TobiSchelling/cheekschecker/internal/participant"
	"github.com/TobiSchelling/cheekschecker/internal/summary"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newComposer(db *database.DB, level mask.Level) *Composer {
	c := NewComposer(db, mask.DefaultConfig(), level)
	c.now = func() time.Time { return time.Date(2024, 3, 11, 1, 0, 0, 0, time.UTC) }
	return c
}

func stat(day string, female, single, total int) database.DailyStat {
	c := participant.Counts{Female: female, SingleFemale: single, Total: total, Male: total - female}
	return database.DailyStat{BusinessDay: day, Counts: c, Ratio: c.Ratio(), Considered: true}
}

func TestComposeSummaryFromDailyStats(t *testing.T) {
	db := openTestDB(t)
	err := db.UpsertDailyStats([]database.DailyStat{
		stat("2024-02-28", 2, 1, 10), // previous week
		stat("2024-03-05", 4, 3, 10),
		stat("2024-03-08", 9, 6, 20),
		stat("2024-03-11", 20, 10, 25), // next week, ignored
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	period := summary.WeeklyPeriod(date(2024, 3, 11))
	res, err := newComposer(db, mask.LevelBanded).ComposeSummary(period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != SourceDailyStats {
		t.Errorf("expected daily stats source, got %q", res.Source)
	}
	if res.Context.Days != 2 || !res.Context.HasPrevious() {
		t.Errorf("expected 2 days with previous data, got %d/%d", res.Context.Days, res.Context.PreviousDays)
	}
	if res.Stored == nil || res.Stored.PeriodKey != "weekly:2024-03-04" {
		t.Fatalf("expected stored summary, got %+v", res.Stored)
	}
	if res.Stored.Status != summary.StatusOK || res.Stored.DayCount != 2 {
		t.Errorf("unexpected stored summary %+v", res.Stored)
	}

	var archived summary.Masked
	if err := json.Unmarshal([]byte(res.Stored.MaskedJSON), &archived); err != nil {
		t.Fatalf("decoding archived summary: %v", err)
	}
	if len(archived.Top) != 2 || archived.Top[0].BusinessDay != "2024-03-08" {
		t.Errorf("expected 2024-03-08 first, got %+v", archived.Top)
	}
	if archived.Top[0].Female != "9+" {
		t.Errorf("expected banded female label, got %q", archived.Top[0].Female)
	}
	if !strings.Contains(res.Stored.BodyMarkdown, "# Cheekschecker 週次サマリー") {
		t.Errorf("unexpected body:\n%s", res.Stored.BodyMarkdown)
	}
}

func TestComposeSummaryFallsBackToMaskedHistory(t *testing.T) {
	db := openTestDB(t)
	cfg := mask.DefaultConfig()
	err := db.UpsertMaskedHistory([]mask.Record{
		cfg.MaskEntry(date(2024, 3, 6), participant.Counts{Female: 5, SingleFemale: 3, Total: 12}, mask.LevelBanded),
		cfg.MaskEntry(date(2024, 3, 9), participant.Counts{Female: 7, SingleFemale: 5, Total: 14}, mask.LevelBanded),
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	res, err := newComposer(db, mask.LevelBanded).ComposeSummary(summary.WeeklyPeriod(date(2024, 3, 11)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != SourceMaskedHistory {
		t.Errorf("expected masked history source, got %q", res.Source)
	}
	if res.Context.Days != 2 {
		t.Errorf("expected 2 days, got %d", res.Context.Days)
	}
	if res.Context.HasPrevious() {
		t.Error("expected no previous period data")
	}
	if res.Masked.Trend.Female != summary.Unknown {
		t.Errorf("expected unknown trend, got %q", res.Masked.Trend.Female)
	}
}

func TestComposeSummaryEmpty(t *testing.T) {
	db := openTestDB(t)
	res, err := newComposer(db, mask.LevelBanded).ComposeSummary(summary.MonthlyPeriod(date(2024, 3, 1)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Masked.Status != summary.StatusNoData {
		t.Errorf("expected no-data status, got %q", res.Masked.Status)
	}
	if !strings.Contains(res.Stored.BodyMarkdown, "集計対象なし") {
		t.Errorf("expected no-data body, got:\n%s", res.Stored.BodyMarkdown)
	}
	if res.Stored.PeriodStart != "2024-02-01" || res.Stored.PeriodEnd != "2024-02-29" {
		t.Errorf("unexpected period %s..%s", res.Stored.PeriodStart, res.Stored.PeriodEnd)
	}
}

func TestComposeSummaryReplacesPreviousRun(t *testing.T) {
	db := openTestDB(t)
	c := newComposer(db, mask.LevelAbstract)
	period := summary.WeeklyPeriod(date(2024, 3, 11))
	if _, err := c.ComposeSummary(period); err != nil {
		t.Fatalf("first run: %v", err)
	}
	db.UpsertDailyStats([]database.DailyStat{stat("2024-03-07", 3, 2, 8)})
	res, err := c.ComposeSummary(period)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Stored.Status != summary.StatusOK || res.Stored.MaskLevel != 2 {
		t.Errorf("expected replaced summary, got %+v", res.Stored)
	}
	all, _ := db.GetAllSummaries()
	if len(all) != 1 {
		t.Errorf("expected a single archived summary, got %d", len(all))
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		period summary.Period
		want   string
	}{
		{summary.WeeklyPeriod(date(2024, 3, 11)), "週次サマリー"},
		{summary.MonthlyPeriod(date(2024, 3, 11)), "月次サマリー"},
		{summary.LastNDays(date(2024, 3, 11), 14), "直近14日サマリー"},
	}
	for _, tt := range tests {
		if got := Title(tt.period); got != tt.want {
			t.Errorf("Title(%s): expected %q, got %q", tt.period.Name, tt.want, got)
		}
	}
}

func TestAssembleBodyWeekdayOrder(t *testing.T) {
	body := AssembleBody("週次サマリー", summary.Masked{
		Status:      summary.StatusOK,
		PeriodStart: "2024-03-04",
		PeriodEnd:   "2024-03-10",
		Days:        2,
		Weekdays: map[string]summary.MaskedDay{
			"Sun": {Single: "1"},
			"Mon": {Single: "2"},
		},
	})
	if strings.Index(body, "- Mon:") > strings.Index(body, "- Sun:") {
		t.Errorf("expected Monday before Sunday:\n%s", body)
	}
	if !strings.Contains(body, "該当なし") {
		t.Error("expected empty top-day marker")
	}
}
