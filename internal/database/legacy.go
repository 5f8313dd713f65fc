package database

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/cheekschecker/internal/participant"
	"github.com/TobiSchelling/cheekschecker/internal/stage"
)

// legacyState is the JSON file written by the previous watcher.
type legacyState struct {
	ETag         *string              `json:"etag"`
	LastModified *string              `json:"last_modified"`
	Days         map[string]legacyDay `json:"days"`
}

type legacyDay struct {
	Male           int             `json:"male"`
	Female         int             `json:"female"`
	SingleFemale   int             `json:"single_female"`
	Total          int             `json:"total"`
	Ratio          float64         `json:"ratio"`
	Meets          bool            `json:"meets"`
	RequiredSingle *int            `json:"required_single_female"`
	Stage          string          `json:"stage"`
	LastNotifiedAt json.RawMessage `json:"last_notified_at"`
}

// ImportResult describes what ImportLegacyState did.
type ImportResult struct {
	Imported []string
	Dropped  []string
	Attempts int
}

// ImportLegacyState reads a legacy state file and merges it into the
// database. Day-of-month keys are resolved against reference; imported
// records replace stored ones. The file's validators are stored for pageURL.
func (db *DB) ImportLegacyState(ctx context.Context, r io.Reader, pageURL string, reference time.Time) (*ImportResult, error) {
	var raw legacyState
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding legacy state: %w", err)
	}

	records := make(map[string]stage.Record, len(raw.Days))
	for key, day := range raw.Days {
		records[key] = day.record(key)
	}
	migrated, dropped := stage.MigrateKeys(records, reference)
	for _, key := range dropped {
		log.WithField("key", key).Warn("dropping legacy state entry with unresolvable key")
	}

	result := &ImportResult{Dropped: dropped}
	attempts, err := db.UpdateState(ctx, reference, func(current stage.State) (stage.State, error) {
		for day, rec := range migrated {
			current[day] = rec
		}
		return current, nil
	})
	result.Attempts = attempts
	if err != nil {
		return result, fmt.Errorf("writing imported state: %w", err)
	}

	stats := make([]DailyStat, 0, len(migrated))
	for day, rec := range migrated {
		result.Imported = append(result.Imported, day)
		stats = append(stats, DailyStat{
			BusinessDay:    day,
			Counts:         rec.Counts,
			Ratio:          rec.Ratio,
			Meets:          rec.Meets,
			// The legacy file does not say whether a day was considered.
			Considered:     false,
			RequiredSingle: rec.RequiredSingle,
		})
	}
	if err := db.UpsertDailyStats(stats); err != nil {
		return result, fmt.Errorf("writing imported daily stats: %w", err)
	}

	if raw.ETag != nil || raw.LastModified != nil {
		meta := FetchMeta{URL: pageURL}
		if raw.ETag != nil {
			meta.ETag = *raw.ETag
		}
		if raw.LastModified != nil {
			meta.LastModified = *raw.LastModified
		}
		if err := db.SaveFetchMeta(meta); err != nil {
			return result, fmt.Errorf("writing imported fetch metadata: %w", err)
		}
	}
	sort.Strings(result.Imported)
	return result, nil
}

func (d legacyDay) record(key string) stage.Record {
	st, err := stage.ParseStage(d.Stage)
	if err != nil {
		st = stage.None
	}
	rec := stage.Record{
		Stage: st,
		Counts: participant.Counts{
			Male:         d.Male,
			Female:       d.Female,
			SingleFemale: d.SingleFemale,
			Total:        d.Total,
		},
		Ratio: d.Ratio,
		Meets: d.Meets,
	}
	if d.RequiredSingle != nil {
		rec.RequiredSingle = *d.RequiredSingle
	}
	if at, ok := parseEpoch(d.LastNotifiedAt); ok {
		rec.LastNotifiedAt = &at
	} else if len(d.LastNotifiedAt) > 0 && string(d.LastNotifiedAt) != "null" {
		log.WithField("key", key).Debugf("ignoring last_notified_at %s", d.LastNotifiedAt)
	}
	return rec
}

// parseEpoch accepts epoch seconds as a JSON number or numeric string.
func parseEpoch(raw json.RawMessage) (time.Time, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(int64(secs), 0).UTC(), true
}
