package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/cheekschecker/internal/database"
	"github.com/TobiSchelling/cheekschecker/internal/mask"
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

func newTestServer(t *testing.T, db *database.DB) *Server {
	t.Helper()
	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	srv.now = func() time.Time { return time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC) }
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func weeklySummary() database.Summary {
	return database.Summary{
		PeriodKey:    "weekly:2024-03-11",
		PeriodName:   "weekly",
		PeriodStart:  "2024-03-11",
		PeriodEnd:    "2024-03-17",
		Status:       "ok",
		MaskLevel:    1,
		DayCount:     5,
		MaskedJSON:   "{}",
		BodyMarkdown: "# 週次サマリー\n\n| 指標 | 平均 |\n|---|---|\n| 単女 | 3-4 |\n",
	}
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	if err := db.InsertSummary(weeklySummary()); err != nil {
		t.Fatalf("InsertSummary: %v", err)
	}
	srv := newTestServer(t, db)

	rec := get(t, srv, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Summaries") {
		t.Error("expected 'Summaries' in response body")
	}
	if !strings.Contains(body, `href="/summary/weekly:2024-03-11"`) {
		t.Error("expected link to the weekly summary")
	}
	if !strings.Contains(body, "Mar 11 - Mar 17, 2024") {
		t.Error("expected formatted period")
	}
}

func TestIndexEmpty(t *testing.T) {
	srv := newTestServer(t, openTestDB(t))
	rec := get(t, srv, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No summaries yet") {
		t.Error("expected empty state")
	}
}

func TestUnknownPath(t *testing.T) {
	srv := newTestServer(t, openTestDB(t))
	if rec := get(t, srv, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestSummaryRoute(t *testing.T) {
	db := openTestDB(t)
	if err := db.InsertSummary(weeklySummary()); err != nil {
		t.Fatalf("InsertSummary: %v", err)
	}
	srv := newTestServer(t, db)

	rec := get(t, srv, "/summary/weekly:2024-03-11")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h1>週次サマリー</h1>") {
		t.Error("expected rendered markdown heading")
	}
	if !strings.Contains(body, "<table>") {
		t.Error("expected markdown table to render")
	}
	if !strings.Contains(body, "banded") {
		t.Error("expected mask level name")
	}
}

func TestSummaryNotFound(t *testing.T) {
	srv := newTestServer(t, openTestDB(t))

	rec := get(t, srv, "/summary/weekly:2020-01-06")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Summary not found") {
		t.Error("expected not found page")
	}

	if rec := get(t, srv, "/summary/garbage"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for malformed key, got %d", rec.Code)
	}
	if rec := get(t, srv, "/summary/"); rec.Code != http.StatusFound {
		t.Errorf("expected redirect for empty key, got %d", rec.Code)
	}
}

func TestHistoryRoute(t *testing.T) {
	db := openTestDB(t)
	err := db.UpsertMaskedHistory([]mask.Record{
		{BusinessDay: "2024-03-15", Level: mask.LevelBanded, Single: "3-4", Female: "5-6", Total: "10-19", Ratio: "50±"},
		{BusinessDay: "2024-01-02", Level: mask.LevelBanded, Single: "1", Female: "1", Total: "<10", Ratio: "<40%"},
	})
	if err != nil {
		t.Fatalf("UpsertMaskedHistory: %v", err)
	}
	srv := newTestServer(t, db)

	rec := get(t, srv, "/history")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "2024-03-15") {
		t.Error("expected recent day in default window")
	}
	if strings.Contains(body, "2024-01-02") {
		t.Error("day outside the default window must not be listed")
	}

	rec = get(t, srv, "/history?from=2024-01-01&to=2024-01-31")
	if !strings.Contains(rec.Body.String(), "2024-01-02") {
		t.Error("expected day inside explicit range")
	}

	if rec := get(t, srv, "/history?to=yesterday"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	srv := newTestServer(t, openTestDB(t))

	rec := get(t, srv, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cheekschecker_") {
		t.Error("expected cheekschecker metrics")
	}

	rec = get(t, srv, "/healthz")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "ok" {
		t.Errorf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestStaticFiles(t *testing.T) {
	srv := newTestServer(t, openTestDB(t))
	rec := get(t, srv, "/static/style.css")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
