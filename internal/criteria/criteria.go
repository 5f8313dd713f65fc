// Package criteria decides whether a day's counts meet the alert conditions.
package criteria

import (
	"fmt"
	"math"
	"time"

	"github.com/TobiSchelling/cheekschecker/internal/participant"
)

// BaselineRatioFloor is the lowest female ratio that can ever qualify a day.
const BaselineRatioFloor = 0.40

// ThresholdTable is the single-female floor for each weekday, indexed by time.Weekday.
type ThresholdTable [7]int

// NewThresholdTable builds the two-tier table: weekday applies Sunday to
// Thursday, weekend applies Friday and Saturday.
func NewThresholdTable(weekday, weekend int) ThresholdTable {
	var t ThresholdTable
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		t[wd] = weekday
	}
	t[time.Friday] = weekend
	t[time.Saturday] = weekend
	return t
}

// DefaultThresholds is 3 for Sunday-Thursday and 5 for Friday/Saturday.
var DefaultThresholds = NewThresholdTable(3, 5)

// Settings are the evaluation parameters.
type Settings struct {
	Thresholds     ThresholdTable
	FemaleMin      int            // 0 disables the check
	FemaleRatioMin float64        // raised to BaselineRatioFloor when lower
	MinTotal       *int           // nil disables the check
	IncludeDays    []time.Weekday // empty means every weekday
}

// Validate rejects negative thresholds and ratios outside [0,1].
func (s Settings) Validate() error {
	for wd, v := range s.Thresholds {
		if v < 0 {
			return fmt.Errorf("single threshold for %s is negative: %d", time.Weekday(wd), v)
		}
	}
	if s.FemaleMin < 0 {
		return fmt.Errorf("female_min is negative: %d", s.FemaleMin)
	}
	if s.FemaleRatioMin < 0 || s.FemaleRatioMin > 1 {
		return fmt.Errorf("female_ratio_min out of range [0,1]: %v", s.FemaleRatioMin)
	}
	if s.MinTotal != nil && *s.MinTotal < 0 {
		return fmt.Errorf("min_total is negative: %d", *s.MinTotal)
	}
	return nil
}

// Result is the outcome of evaluating one day.
type Result struct {
	Meets          bool    `json:"meets"`
	Considered     bool    `json:"considered"`
	Ratio          float64 `json:"ratio"`
	RequiredSingle int     `json:"required_single"`
	RatioFloor     float64 `json:"ratio_floor"`
}

// Evaluator applies Settings to daily counts.
type Evaluator struct {
	settings   Settings
	ratioFloor float64
	included   map[time.Weekday]bool
}

// NewEvaluator creates an evaluator. Settings are assumed validated.
func NewEvaluator(s Settings) *Evaluator {
	e := &Evaluator{
		settings:   s,
		ratioFloor: math.Max(s.FemaleRatioMin, BaselineRatioFloor),
	}
	if len(s.IncludeDays) > 0 {
		e.included = make(map[time.Weekday]bool, len(s.IncludeDays))
		for _, wd := range s.IncludeDays {
			e.included[wd] = true
		}
	}
	return e
}

// RatioFloor returns the effective ratio floor.
func (e *Evaluator) RatioFloor() float64 {
	return e.ratioFloor
}

// RequiredSingle returns the single-female floor for a weekday.
func (e *Evaluator) RequiredSingle(wd time.Weekday) int {
	return e.settings.Thresholds[wd]
}

// Evaluate decides whether the counts for day meet the conditions.
func (e *Evaluator) Evaluate(day time.Time, c participant.Counts) Result {
	wd := day.Weekday()
	r := Result{
		Considered:     true,
		Ratio:          c.Ratio(),
		RequiredSingle: e.RequiredSingle(wd),
		RatioFloor:     e.ratioFloor,
	}
	if e.included != nil && !e.included[wd] {
		r.Considered = false
	}
	if e.settings.MinTotal != nil && c.Total < *e.settings.MinTotal {
		r.Considered = false
	}
	r.Meets = r.Considered &&
		c.SingleFemale >= r.RequiredSingle &&
		r.Ratio >= r.RatioFloor &&
		(e.settings.FemaleMin <= 0 || c.Female >= e.settings.FemaleMin)
	return r
}
