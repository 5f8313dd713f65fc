// Package mask replaces exact counts and ratios with coarse bands so that
// durable history never stores more precision than the configured level.
package mask

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/cheekschecker/internal/businessday"
	"github.com/TobiSchelling/cheekschecker/internal/participant"
)

var (
	ErrBandsNotAscending = errors.New("band thresholds must be strictly ascending")
	ErrNegativeThreshold = errors.New("band thresholds must not be negative")
	ErrLabelCount        = errors.New("band labels must number one more than thresholds")
	ErrAbstractGroups    = errors.New("abstract words must number one more than cuts, with cuts ascending inside the band range")
)

// Level selects how much precision survives masking.
type Level int

const (
	LevelRaw      Level = 0
	LevelBanded   Level = 1
	LevelAbstract Level = 2
)

// Validate rejects levels outside 0-2.
func (l Level) Validate() error {
	if l < LevelRaw || l > LevelAbstract {
		return fmt.Errorf("mask level out of range 0-2: %d", l)
	}
	return nil
}

// Kind distinguishes integer counts from 0-1 ratios.
type Kind int

const (
	KindCount Kind = iota
	KindRatio
)

// Abstract collapses consecutive bands into words for level 2.
// Cuts are band indices where a new word starts.
type Abstract struct {
	Words []string
	Cuts  []int
}

// BandTable maps values onto labelled bands. Band i covers
// [thresholds[i-1], thresholds[i]); the first band catches everything below
// thresholds[0] and the last everything at or above the final threshold.
type BandTable struct {
	kind       Kind
	thresholds []float64
	labels     []string
	abstract   *Abstract
}

// NewBandTable validates and builds a band table. Labels may be nil, in which
// case range labels are generated. Abstract may be nil, in which case level 2
// falls back to the band label.
func NewBandTable(kind Kind, thresholds []float64, labels []string, abstract *Abstract) (*BandTable, error) {
	for i := 1; i < len(thresholds); i++ {
		if !(thresholds[i] > thresholds[i-1]) {
			return nil, fmt.Errorf("%w: %v", ErrBandsNotAscending, thresholds)
		}
	}
	for _, t := range thresholds {
		if t < 0 || math.IsNaN(t) {
			return nil, fmt.Errorf("%w: %v", ErrNegativeThreshold, t)
		}
	}
	b := &BandTable{kind: kind, thresholds: append([]float64(nil), thresholds...)}
	bands := len(thresholds) + 1
	if len(labels) == 0 {
		b.labels = make([]string, bands)
		for i := range b.labels {
			b.labels[i] = b.rangeLabel(i)
		}
	} else {
		if len(labels) != bands {
			return nil, fmt.Errorf("%w: %d thresholds, %d labels", ErrLabelCount, len(thresholds), len(labels))
		}
		b.labels = append([]string(nil), labels...)
	}
	if abstract != nil {
		if len(abstract.Words) != len(abstract.Cuts)+1 {
			return nil, fmt.Errorf("%w: %d words, %d cuts", ErrAbstractGroups, len(abstract.Words), len(abstract.Cuts))
		}
		prev := 0
		for _, c := range abstract.Cuts {
			if c <= prev || c >= bands {
				return nil, fmt.Errorf("%w: cut %d", ErrAbstractGroups, c)
			}
			prev = c
		}
		b.abstract = &Abstract{
			Words: append([]string(nil), abstract.Words...),
			Cuts:  append([]int(nil), abstract.Cuts...),
		}
	}
	return b, nil
}

// MustBandTable is NewBandTable that panics on error. Used for the built-in defaults.
func MustBandTable(kind Kind, thresholds []float64, labels []string, abstract *Abstract) *BandTable {
	b, err := NewBandTable(kind, thresholds, labels, abstract)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *BandTable) rangeLabel(i int) string {
	n := len(b.thresholds)
	if n == 0 {
		return "*"
	}
	if b.kind == KindRatio {
		pct := func(v float64) int { return int(math.Round(v * 100)) }
		switch {
		case i == 0:
			return fmt.Sprintf("<%d%%", pct(b.thresholds[0]))
		case i == n:
			return fmt.Sprintf("%d%%+", pct(b.thresholds[n-1]))
		default:
			return fmt.Sprintf("%d-%d%%", pct(b.thresholds[i-1]), pct(b.thresholds[i])-1)
		}
	}
	switch {
	case i == 0:
		return fmt.Sprintf("<%s", formatCount(b.thresholds[0]))
	case i == n:
		return formatCount(b.thresholds[n-1]) + "+"
	}
	lo, hi := math.Ceil(b.thresholds[i-1]), math.Ceil(b.thresholds[i])-1
	if lo >= hi {
		return formatCount(lo)
	}
	return formatCount(lo) + "-" + formatCount(hi)
}

func formatCount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Bands returns the number of bands.
func (b *BandTable) Bands() int {
	return len(b.thresholds) + 1
}

// Index returns the band index for v.
func (b *BandTable) Index(v float64) int {
	i := 0
	for i < len(b.thresholds) && v >= b.thresholds[i] {
		i++
	}
	return i
}

// Label returns the level 1 label of band i.
func (b *BandTable) Label(i int) string {
	return b.labels[i]
}

// Word returns the level 2 word for band i.
func (b *BandTable) Word(i int) string {
	if b.abstract == nil {
		return b.labels[i]
	}
	g := 0
	for g < len(b.abstract.Cuts) && i >= b.abstract.Cuts[g] {
		g++
	}
	return b.abstract.Words[g]
}

// LowerBound returns the smallest value that lands in band i.
func (b *BandTable) LowerBound(i int) float64 {
	if i <= 0 {
		return 0
	}
	return b.thresholds[i-1]
}

// Raw formats an exact value the way level 0 stores it.
func (b *BandTable) Raw(v float64) string {
	if b.kind == KindRatio {
		return strconv.FormatFloat(v, 'f', 3, 64)
	}
	return strconv.Itoa(int(v))
}

// Mask renders value at the given level.
func Mask(value float64, table *BandTable, level Level) string {
	switch level {
	case LevelRaw:
		return table.Raw(value)
	case LevelAbstract:
		return table.Word(table.Index(value))
	default:
		return table.Label(table.Index(value))
	}
}

// Floor converts a masked label back into the lowest value it can stand for.
// Raw labels parse exactly; band labels and abstract words map to the lower
// bound of their (first) band.
func (b *BandTable) Floor(label string) (float64, bool) {
	label = strings.TrimSpace(label)
	if v, err := strconv.ParseFloat(label, 64); err == nil && !b.isLabel(label) {
		return v, true
	}
	for i, l := range b.labels {
		if l == label {
			return b.LowerBound(i), true
		}
	}
	if b.abstract != nil {
		for g, w := range b.abstract.Words {
			if w != label {
				continue
			}
			if g == 0 {
				return 0, true
			}
			return b.LowerBound(b.abstract.Cuts[g-1]), true
		}
	}
	return 0, false
}

func (b *BandTable) isLabel(s string) bool {
	for _, l := range b.labels {
		if l == s {
			return true
		}
	}
	return false
}

// Config is the set of band tables used for a masked record.
type Config struct {
	Single *BandTable
	Female *BandTable
	Total  *BandTable
	Ratio  *BandTable
}

// DefaultConfig returns the built-in band tables.
func DefaultConfig() Config {
	countLabels := []string{"0", "1", "2", "3-4", "5-6", "7-8", "9+"}
	countThresholds := []float64{1, 2, 3, 5, 7, 9}
	return Config{
		Single: MustBandTable(KindCount, countThresholds, countLabels,
			&Abstract{Words: []string{"静", "穏", "賑"}, Cuts: []int{3, 5}}),
		Female: MustBandTable(KindCount, countThresholds, countLabels,
			&Abstract{Words: []string{"薄", "適", "厚"}, Cuts: []int{4, 6}}),
		Total: MustBandTable(KindCount, []float64{10, 20, 30, 50},
			[]string{"<10", "10-19", "20-29", "30-49", "50+"},
			&Abstract{Words: []string{"少", "並", "盛"}, Cuts: []int{1, 3}}),
		Ratio: MustBandTable(KindRatio, []float64{0.40, 0.50, 0.60, 0.70, 0.80},
			[]string{"<40%", "40±", "50±", "60±", "70±", "80+%"},
			&Abstract{Words: []string{"低", "中", "高"}, Cuts: []int{1, 3}}),
	}
}

// Record is one masked day of history.
type Record struct {
	BusinessDay string `json:"business_day"`
	Level       Level  `json:"level"`
	Single      string `json:"single_female"`
	Female      string `json:"female"`
	Total       string `json:"total"`
	Ratio       string `json:"ratio"`
}

// MaskEntry masks one day's counts.
func (c Config) MaskEntry(day time.Time, counts participant.Counts, level Level) Record {
	return Record{
		BusinessDay: businessday.Key(day),
		Level:       level,
		Single:      Mask(float64(counts.SingleFemale), c.Single, level),
		Female:      Mask(float64(counts.Female), c.Female, level),
		Total:       Mask(float64(counts.Total), c.Total, level),
		Ratio:       Mask(counts.Ratio(), c.Ratio, level),
	}
}

// Unmask returns the conservative counts and ratio a record stands for.
// ok is false when any label is unknown to the config.
func (c Config) Unmask(r Record) (counts participant.Counts, ratio float64, ok bool) {
	single, ok1 := c.Single.Floor(r.Single)
	female, ok2 := c.Female.Floor(r.Female)
	total, ok3 := c.Total.Floor(r.Total)
	ratio, ok4 := c.Ratio.Floor(r.Ratio)
	counts = participant.Counts{
		SingleFemale: int(single),
		Female:       int(female),
		Total:        int(total),
	}
	if counts.Total < counts.Female {
		counts.Total = counts.Female
	}
	counts.Male = counts.Total - counts.Female
	return counts, ratio, ok1 && ok2 && ok3 && ok4
}
