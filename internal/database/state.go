package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/cheekschecker/internal/businessday"
	"github.com/TobiSchelling/cheekschecker/internal/participant"
	"github.com/TobiSchelling/cheekschecker/internal/stage"
)

// ErrStateConflict is returned when another writer changed the notification
// state between load and commit.
var ErrStateConflict = errors.New("notification state changed concurrently")

const (
	// MaxStateAttempts bounds the optimistic retries of UpdateState.
	MaxStateAttempts = 5

	// StateRetentionDays is how long records are kept behind the reference day.
	StateRetentionDays = 62
)

// versioned is a snapshot of the notification state plus per-row versions.
type versioned struct {
	state    stage.State
	versions map[string]int64
}

// LoadState returns the current notification state.
func (db *DB) LoadState(ctx context.Context) (stage.State, error) {
	snap, err := db.loadState(ctx)
	if err != nil {
		return nil, err
	}
	return snap.state, nil
}

func (db *DB) loadState(ctx context.Context) (*versioned, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT day, stage, last_notified_at, male, female, single_female, total,
		ratio, required_single, meets, notified_male, notified_female,
		notified_single_female, notified_total, version FROM notification_state`,
	)
	if err != nil {
		return nil, fmt.Errorf("loading notification state: %w", err)
	}
	defer rows.Close()

	snap := &versioned{state: stage.State{}, versions: map[string]int64{}}
	for rows.Next() {
		var (
			day, st  string
			notified sql.NullString
			rec      stage.Record
			meets    int
			version  int64
		)
		if err := rows.Scan(&day, &st, &notified, &rec.Counts.Male, &rec.Counts.Female,
			&rec.Counts.SingleFemale, &rec.Counts.Total, &rec.Ratio, &rec.RequiredSingle,
			&meets, &rec.NotifiedCounts.Male, &rec.NotifiedCounts.Female,
			&rec.NotifiedCounts.SingleFemale, &rec.NotifiedCounts.Total, &version); err != nil {
			return nil, fmt.Errorf("scanning notification state: %w", err)
		}
		parsed, err := stage.ParseStage(st)
		if err != nil {
			log.WithField("business_day", day).Warnf("unknown stored stage %q, treating as none", st)
			parsed = stage.None
		}
		rec.Stage = parsed
		rec.Meets = meets != 0
		if notified.Valid {
			at, err := time.Parse(time.RFC3339Nano, notified.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last_notified_at of %s: %w", day, err)
			}
			rec.LastNotifiedAt = &at
		}
		snap.state[day] = rec
		snap.versions[day] = version
	}
	return snap, rows.Err()
}

// UpdateState runs fn against the current state and writes the result back
// with a per-row compare-and-swap. On ErrStateConflict the state is reloaded
// and fn is called again, up to MaxStateAttempts times, so fn must be free of
// side effects. Records older than StateRetentionDays before reference are
// removed. It returns the number of attempts made.
func (db *DB) UpdateState(ctx context.Context, reference time.Time, fn func(stage.State) (stage.State, error)) (int, error) {
	for attempt := 1; attempt <= MaxStateAttempts; attempt++ {
		err := db.updateStateOnce(ctx, reference, fn)
		if err == nil {
			return attempt, nil
		}
		if !errors.Is(err, ErrStateConflict) {
			return attempt, err
		}
		log.WithField("attempt", attempt).Warn("notification state conflict, retrying")
		if err := ctx.Err(); err != nil {
			return attempt, err
		}
	}
	return MaxStateAttempts, fmt.Errorf("updating state after %d attempts: %w", MaxStateAttempts, ErrStateConflict)
}

func (db *DB) updateStateOnce(ctx context.Context, reference time.Time, fn func(stage.State) (stage.State, error)) error {
	snap, err := db.loadState(ctx)
	if err != nil {
		return err
	}

	next, err := fn(snap.state.Clone())
	if err != nil {
		return err
	}
	prune(next, reference)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state update: %w", err)
	}
	defer tx.Rollback()

	for day, rec := range next {
		prev, existed := snap.state[day]
		switch {
		case !existed:
			if err := insertState(ctx, tx, day, rec); err != nil {
				return err
			}
		case !sameRecord(prev, rec):
			if err := updateState(ctx, tx, day, rec, snap.versions[day]); err != nil {
				return err
			}
		}
	}
	for day := range snap.state {
		if _, kept := next[day]; kept {
			continue
		}
		res, err := tx.ExecContext(ctx,
			"DELETE FROM notification_state WHERE day = ? AND version = ?",
			day, snap.versions[day])
		if err != nil {
			return fmt.Errorf("deleting state of %s: %w", day, err)
		}
		if err := expectOneRow(res); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state update: %w", err)
	}
	return nil
}

func insertState(ctx context.Context, tx *sql.Tx, day string, rec stage.Record) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO notification_state
		(day, stage, last_notified_at, male, female, single_female, total, ratio, required_single, meets,
		notified_male, notified_female, notified_single_female, notified_total, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(day) DO NOTHING`,
		append([]any{day}, stateArgs(rec)...)...,
	)
	if err != nil {
		return fmt.Errorf("inserting state of %s: %w", day, err)
	}
	return expectOneRow(res)
}

func updateState(ctx context.Context, tx *sql.Tx, day string, rec stage.Record, version int64) error {
	args := append(stateArgs(rec), day, version)
	res, err := tx.ExecContext(ctx,
		`UPDATE notification_state SET
		stage = ?, last_notified_at = ?, male = ?, female = ?, single_female = ?, total = ?,
		ratio = ?, required_single = ?, meets = ?, notified_male = ?, notified_female = ?,
		notified_single_female = ?, notified_total = ?, version = version + 1, updated_at = datetime('now')
		WHERE day = ? AND version = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("updating state of %s: %w", day, err)
	}
	return expectOneRow(res)
}

func stateArgs(rec stage.Record) []any {
	st := rec.Stage
	if st == "" {
		st = stage.None
	}
	var notified any
	if rec.LastNotifiedAt != nil {
		notified = rec.LastNotifiedAt.UTC().Format(time.RFC3339Nano)
	}
	return []any{
		string(st), notified,
		rec.Counts.Male, rec.Counts.Female, rec.Counts.SingleFemale, rec.Counts.Total,
		rec.Ratio, rec.RequiredSingle, boolInt(rec.Meets),
		rec.NotifiedCounts.Male, rec.NotifiedCounts.Female,
		rec.NotifiedCounts.SingleFemale, rec.NotifiedCounts.Total,
	}
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n != 1 {
		return ErrStateConflict
	}
	return nil
}

// prune drops records older than the retention window and any key that is
// not a canonical date.
func prune(state stage.State, reference time.Time) {
	for day := range state {
		d, err := businessday.ParseKey(day)
		if err != nil || businessday.DaysBetween(d, reference) > StateRetentionDays {
			delete(state, day)
		}
	}
}

func sameRecord(a, b stage.Record) bool {
	if a.Stage != b.Stage || a.Counts != b.Counts || a.Ratio != b.Ratio ||
		a.RequiredSingle != b.RequiredSingle || a.Meets != b.Meets ||
		a.NotifiedCounts != b.NotifiedCounts {
		return false
	}
	switch {
	case a.LastNotifiedAt == nil && b.LastNotifiedAt == nil:
		return true
	case a.LastNotifiedAt == nil || b.LastNotifiedAt == nil:
		return false
	default:
		return a.LastNotifiedAt.Equal(*b.LastNotifiedAt)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// countsFrom is a convenience for scanning count columns.
func countsFrom(male, female, single, total int) participant.Counts {
	return participant.Counts{Male: male, Female: female, SingleFemale: single, Total: total}
}
