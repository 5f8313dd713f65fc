package database

import (
	"database/sql"
)

// InsertSummary inserts or replaces the archived summary of a period.
func (db *DB) InsertSummary(s Summary) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO summaries
		(period_key, period_name, period_start, period_end, status, mask_level, day_count, masked_json, body_markdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.PeriodKey, s.PeriodName, s.PeriodStart, s.PeriodEnd, s.Status, s.MaskLevel,
		s.DayCount, s.MaskedJSON, s.BodyMarkdown,
	)
	return err
}

const summaryColumns = `period_key, period_name, period_start, period_end, status, mask_level,
	day_count, masked_json, body_markdown, generated_at`

func scanSummary(scan func(...any) error) (Summary, error) {
	var s Summary
	err := scan(&s.PeriodKey, &s.PeriodName, &s.PeriodStart, &s.PeriodEnd, &s.Status,
		&s.MaskLevel, &s.DayCount, &s.MaskedJSON, &s.BodyMarkdown, &s.GeneratedAt)
	return s, err
}

// GetSummary returns the summary for a period key, or nil when absent.
func (db *DB) GetSummary(periodKey string) (*Summary, error) {
	row := db.conn.QueryRow(
		"SELECT "+summaryColumns+" FROM summaries WHERE period_key = ?", periodKey,
	)
	s, err := scanSummary(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetAllSummaries returns all summaries, newest period first.
func (db *DB) GetAllSummaries() ([]Summary, error) {
	rows, err := db.conn.Query(
		"SELECT " + summaryColumns + " FROM summaries ORDER BY period_start DESC, period_name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		s, err := scanSummary(rows.Scan)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// InsertReport inserts or replaces a run report.
func (db *DB) InsertReport(r RunReport) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO run_reports
		(run_id, kind, started_at, finished_at, status, entry_count, notification_count, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Kind, r.StartedAt, r.FinishedAt, r.Status, r.EntryCount, r.NotificationCount, r.Detail,
	)
	return err
}

// GetRecentReports returns up to limit run reports, newest first.
func (db *DB) GetRecentReports(limit int) ([]RunReport, error) {
	rows, err := db.conn.Query(
		`SELECT run_id, kind, started_at, finished_at, status, entry_count, notification_count, detail
		FROM run_reports ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []RunReport
	for rows.Next() {
		var r RunReport
		if err := rows.Scan(&r.RunID, &r.Kind, &r.StartedAt, &r.FinishedAt, &r.Status,
			&r.EntryCount, &r.NotificationCount, &r.Detail); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM notification_state", &s.StateDays},
		{"SELECT COUNT(*) FROM notification_state WHERE last_notified_at IS NOT NULL", &s.NotifiedDays},
		{"SELECT COUNT(*) FROM daily_stats", &s.DailyStats},
		{"SELECT COUNT(*) FROM masked_history", &s.MaskedDays},
		{"SELECT COUNT(*) FROM summaries", &s.Summaries},
		{"SELECT COUNT(*) FROM run_reports", &s.Runs},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	if err := db.conn.QueryRow(
		"SELECT COALESCE(MIN(day), ''), COALESCE(MAX(day), '') FROM daily_stats",
	).Scan(&s.FirstDay, &s.LastDay); err != nil {
		return nil, err
	}

	err := db.conn.QueryRow(
		"SELECT started_at, status FROM run_reports ORDER BY started_at DESC LIMIT 1",
	).Scan(&s.LastRunAt, &s.LastRunStatus)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return s, nil
}
