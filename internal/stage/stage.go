// Package stage is the per-business-day notification state machine.
//
// A day moves none -> first -> bonus -> none. Transitions are pure: the caller
// loads a State snapshot, calls Apply, persists the result and sends the
// returned requests.
package stage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/cheekschecker/internal/businessday"
	"github.com/TobiSchelling/cheekschecker/internal/participant"
)

// Stage is the notification stage of one business day.
type Stage string

const (
	None  Stage = "none"
	First Stage = "first"
	Bonus Stage = "bonus"
)

// ParseStage parses a stored stage name. The legacy name "initial" means First.
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "first", "initial":
		return First, nil
	case "bonus":
		return Bonus, nil
	}
	return None, fmt.Errorf("unknown stage %q", s)
}

// Mode controls when a day that already notified may notify again.
type Mode string

const (
	// ModeNewly notifies a day at most once per FIRST.
	ModeNewly Mode = "newly"
	// ModeChanged also re-notifies a reset day whose counts changed.
	ModeChanged Mode = "changed"
)

// ParseMode parses a notify mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeNewly:
		return ModeNewly, nil
	case ModeChanged:
		return ModeChanged, nil
	}
	return "", fmt.Errorf("unknown notify mode %q (want newly or changed)", s)
}

// Config holds the transition parameters.
type Config struct {
	Mode                Mode
	Cooldown            time.Duration
	BonusSingleDelta    int
	BonusRatioThreshold float64
	IgnoreOlderThan     int // days before the logical today still evaluated
}

// DefaultConfig returns the stock transition parameters.
func DefaultConfig() Config {
	return Config{
		Mode:                ModeNewly,
		Cooldown:            180 * time.Minute,
		BonusSingleDelta:    2,
		BonusRatioThreshold: 0.50,
		IgnoreOlderThan:     1,
	}
}

// Validate checks the config is usable.
func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown is negative: %s", c.Cooldown)
	}
	if c.BonusSingleDelta < 0 {
		return fmt.Errorf("bonus single delta is negative: %d", c.BonusSingleDelta)
	}
	if c.BonusRatioThreshold < 0 || c.BonusRatioThreshold > 1 {
		return fmt.Errorf("bonus ratio threshold out of range [0,1]: %v", c.BonusRatioThreshold)
	}
	if c.IgnoreOlderThan < 0 {
		return fmt.Errorf("ignore_older_than is negative: %d", c.IgnoreOlderThan)
	}
	return nil
}

// Record is the persisted notification state of one business day.
type Record struct {
	Stage          Stage              `json:"stage"`
	LastNotifiedAt *time.Time         `json:"last_notified_at,omitempty"`
	Counts         participant.Counts `json:"counts"`
	Ratio          float64            `json:"ratio"`
	RequiredSingle int                `json:"required_single"` // floor captured at FIRST
	Meets          bool               `json:"meets"`
	NotifiedCounts participant.Counts `json:"notified_counts"` // counts last announced
}

// announced returns the counts the last notification carried. Records
// written before the snapshot existed fall back to the last observed counts.
func (r Record) announced() participant.Counts {
	if r.NotifiedCounts == (participant.Counts{}) {
		return r.Counts
	}
	return r.NotifiedCounts
}

// State maps canonical YYYY-MM-DD keys to records.
type State map[string]Record

// Clone returns a shallow copy of s.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Observation is the current evaluation of one business day.
type Observation struct {
	BusinessDay    time.Time
	Counts         participant.Counts
	Ratio          float64
	Meets          bool
	RequiredSingle int
}

// Request asks the transport to announce a stage change.
type Request struct {
	BusinessDay time.Time
	Stage       Stage
	Counts      participant.Counts
	Ratio       float64
}

// Key returns the canonical state key of the request's day.
func (r Request) Key() string {
	return businessday.Key(r.BusinessDay)
}

// Transition advances a single day by at most one stage.
// It returns the next record and a request when a notification is due.
// Like FIRST, BONUS is only announced while the day still meets the criteria.
// In changed mode a reset day compares against the counts last announced.
func Transition(prev Record, obs Observation, now time.Time, cfg Config) (Record, *Request) {
	next := prev
	if next.Stage == "" {
		next.Stage = None
	}
	next.Counts = obs.Counts
	next.Ratio = obs.Ratio
	next.Meets = obs.Meets

	notify := func(to Stage) *Request {
		at := now
		next.Stage = to
		next.LastNotifiedAt = &at
		next.NotifiedCounts = obs.Counts
		return &Request{BusinessDay: obs.BusinessDay, Stage: to, Counts: obs.Counts, Ratio: obs.Ratio}
	}

	switch next.Stage {
	case None:
		if !obs.Meets {
			return next, nil
		}
		changed := cfg.Mode == ModeChanged && prev.announced() != obs.Counts
		if prev.LastNotifiedAt == nil || changed {
			next.RequiredSingle = obs.RequiredSingle
			return next, notify(First)
		}
	case First:
		if !obs.Meets {
			return next, nil
		}
		floor := prev.RequiredSingle
		if floor == 0 {
			floor = obs.RequiredSingle
		}
		bySingle := obs.Counts.SingleFemale >= floor+cfg.BonusSingleDelta
		byRatio := obs.Ratio >= cfg.BonusRatioThreshold
		if bySingle || byRatio {
			return next, notify(Bonus)
		}
	case Bonus:
		if prev.LastNotifiedAt == nil || now.Sub(*prev.LastNotifiedAt) >= cfg.Cooldown {
			next.Stage = None
		}
	}
	return next, nil
}

// InWindow reports whether day falls within [today-ignoreOlderThan, today].
func InWindow(day, logicalToday time.Time, ignoreOlderThan int) bool {
	age := businessday.DaysBetween(day, logicalToday)
	return age >= 0 && age <= ignoreOlderThan
}

// Apply runs Transition for every observation inside the evaluation window.
// Records for other days carry over unchanged. Requests are ordered by day.
func Apply(state State, observations []Observation, logicalToday, now time.Time, cfg Config) (State, []Request) {
	next := state.Clone()
	seen := make(map[string]bool, len(observations))
	var requests []Request
	for _, obs := range observations {
		key := businessday.Key(obs.BusinessDay)
		if seen[key] || !InWindow(obs.BusinessDay, logicalToday, cfg.IgnoreOlderThan) {
			continue
		}
		seen[key] = true
		rec, req := Transition(state[key], obs, now, cfg)
		next[key] = rec
		if req != nil {
			requests = append(requests, *req)
		}
	}
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].BusinessDay.Before(requests[j].BusinessDay)
	})
	return next, requests
}

// MigrateKeys rewrites legacy day-of-month keys to canonical dates inferred
// against reference. Canonical keys are kept as-is and win on collision.
// Keys that are neither are dropped and returned.
func MigrateKeys(raw map[string]Record, reference time.Time) (State, []string) {
	out := make(State, len(raw))
	var legacy, dropped []string
	for key, rec := range raw {
		if isCanonical(key) {
			out[key] = rec
			continue
		}
		legacy = append(legacy, key)
	}
	sort.Strings(legacy)
	for _, key := range legacy {
		day, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			dropped = append(dropped, key)
			continue
		}
		date, ok := businessday.InferEntryDate(day, reference)
		if !ok {
			dropped = append(dropped, key)
			continue
		}
		canonical := businessday.Key(date)
		if _, exists := out[canonical]; exists {
			continue
		}
		out[canonical] = raw[key]
	}
	return out, dropped
}

func isCanonical(key string) bool {
	d, err := businessday.ParseKey(key)
	return err == nil && businessday.Key(d) == key
}
