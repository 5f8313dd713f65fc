package database

import (
	"database/sql"
	"fmt"

	"github.com/TobiSchelling/cheekschecker/internal/mask"
)

// UpsertDailyStats writes the evaluated days, replacing earlier values.
func (db *DB) UpsertDailyStats(stats []DailyStat) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin daily stats: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO daily_stats
		(day, male, female, single_female, total, ratio, meets, considered, required_single)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
		male = excluded.male, female = excluded.female, single_female = excluded.single_female,
		total = excluded.total, ratio = excluded.ratio, meets = excluded.meets,
		considered = excluded.considered, required_single = excluded.required_single,
		updated_at = datetime('now')`,
	)
	if err != nil {
		return fmt.Errorf("preparing daily stats: %w", err)
	}
	defer stmt.Close()

	for _, s := range stats {
		if _, err := stmt.Exec(s.BusinessDay, s.Counts.Male, s.Counts.Female, s.Counts.SingleFemale,
			s.Counts.Total, s.Ratio, boolInt(s.Meets), boolInt(s.Considered), s.RequiredSingle); err != nil {
			return fmt.Errorf("writing daily stats of %s: %w", s.BusinessDay, err)
		}
	}
	return tx.Commit()
}

// GetDailyStats returns the days within [start, end] (inclusive, YYYY-MM-DD)
// ordered by day.
func (db *DB) GetDailyStats(start, end string) ([]DailyStat, error) {
	rows, err := db.conn.Query(
		`SELECT day, male, female, single_female, total, ratio, meets, considered, required_single, updated_at
		FROM daily_stats WHERE day >= ? AND day <= ? ORDER BY day`,
		start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var (
			s                           DailyStat
			male, female, single, total int
			meets, considered           int
		)
		if err := rows.Scan(&s.BusinessDay, &male, &female, &single, &total, &s.Ratio,
			&meets, &considered, &s.RequiredSingle, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Counts = countsFrom(male, female, single, total)
		s.Meets = meets != 0
		s.Considered = considered != 0
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// UpsertMaskedHistory stores masked days. The last write for a day wins.
func (db *DB) UpsertMaskedHistory(records []mask.Record) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin masked history: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO masked_history (day, mask_level, single_female, female, total, ratio)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
		mask_level = excluded.mask_level, single_female = excluded.single_female,
		female = excluded.female, total = excluded.total, ratio = excluded.ratio,
		updated_at = datetime('now')`,
	)
	if err != nil {
		return fmt.Errorf("preparing masked history: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.BusinessDay, int(r.Level), r.Single, r.Female, r.Total, r.Ratio); err != nil {
			return fmt.Errorf("writing masked history of %s: %w", r.BusinessDay, err)
		}
	}
	return tx.Commit()
}

// GetMaskedHistory returns masked days within [start, end] ordered by day.
// Empty bounds are open.
func (db *DB) GetMaskedHistory(start, end string) ([]mask.Record, error) {
	if end == "" {
		end = "9999-12-31"
	}
	rows, err := db.conn.Query(
		`SELECT day, mask_level, single_female, female, total, ratio
		FROM masked_history WHERE day >= ? AND day <= ? ORDER BY day`,
		start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []mask.Record
	for rows.Next() {
		var (
			r     mask.Record
			level int
		)
		if err := rows.Scan(&r.BusinessDay, &level, &r.Single, &r.Female, &r.Total, &r.Ratio); err != nil {
			return nil, err
		}
		r.Level = mask.Level(level)
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetFetchMeta returns the stored validators for url. A URL never fetched
// yields a zero FetchMeta.
func (db *DB) GetFetchMeta(url string) (FetchMeta, error) {
	meta := FetchMeta{URL: url}
	var etag, lastModified sql.NullString
	err := db.conn.QueryRow(
		"SELECT etag, last_modified, updated_at FROM fetch_meta WHERE url = ?", url,
	).Scan(&etag, &lastModified, &meta.UpdatedAt)
	if err == sql.ErrNoRows {
		return meta, nil
	}
	if err != nil {
		return meta, err
	}
	meta.ETag = etag.String
	meta.LastModified = lastModified.String
	return meta, nil
}

// SaveFetchMeta stores the validators of the latest fetch of meta.URL.
func (db *DB) SaveFetchMeta(meta FetchMeta) error {
	_, err := db.conn.Exec(
		`INSERT INTO fetch_meta (url, etag, last_modified) VALUES (?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
		etag = excluded.etag, last_modified = excluded.last_modified, updated_at = datetime('now')`,
		meta.URL, nullString(meta.ETag), nullString(meta.LastModified),
	)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
