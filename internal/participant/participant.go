// Package participant turns the free-form text of a calendar cell into
// male/female/single-female counts.
package participant

import (
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/text/width"
)

const (
	femaleMarker = "♀"
	maleMarker   = "♂"
)

// Lines carrying one of these are always counted, even when an exclusion keyword matches.
var staffMarkers = []string{"スタッフ", "staff"}

// Patterns run on width-folded text, so full-width digits and symbols are already ASCII.
var (
	multiplierPattern = regexp.MustCompile(`[×xX*]\s*([0-9]+)`)
	groupPattern      = regexp.MustCompile(`([0-9]+)\s*(?:人|名|組)`)
	parenPattern      = regexp.MustCompile(`\(\s*([0-9]+)\s*(?:人|名|組)?\s*\)`)
)

// Counts is the participant tally for one day.
type Counts struct {
	Male         int `json:"male"`
	Female       int `json:"female"`
	SingleFemale int `json:"single_female"`
	Total        int `json:"total"`
}

// Ratio returns female/total, or 0 when nobody is listed.
func (c Counts) Ratio() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Female) / float64(c.Total)
}

func (c *Counts) add(l Line) {
	c.Male += l.Male
	c.Female += l.Female
	if l.Single {
		c.SingleFemale++
	}
	c.Total = c.Male + c.Female
}

// Line is the contribution of a single text fragment.
type Line struct {
	Male      int
	Female    int
	Magnitude int // largest numeral on the line, 0 if none
	Single    bool
}

// Normalize folds full-width characters to their ASCII forms.
func Normalize(text string) string {
	return width.Narrow.String(text)
}

// CountLine interprets one text fragment.
//
// A female-only line counts max(♀ occurrences, largest numeral), so "♀♀" and
// "♀×2" agree. When both markers appear, only marker occurrences count.
func CountLine(text string) Line {
	folded := Normalize(text)
	l := Line{
		Male:      strings.Count(folded, maleMarker),
		Female:    strings.Count(folded, femaleMarker),
		Magnitude: maxNumeral(folded),
	}
	if l.Female > 0 && l.Male == 0 && l.Magnitude > l.Female {
		l.Female = l.Magnitude
	}
	l.Single = l.Female == 1 && l.Male == 0 && l.Magnitude <= 1
	return l
}

func maxNumeral(folded string) int {
	best := 0
	for _, re := range []*regexp.Regexp{multiplierPattern, groupPattern, parenPattern} {
		for _, m := range re.FindAllStringSubmatch(folded, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if n > best {
				best = n
			}
		}
	}
	return best
}

// HasStaffMarker reports whether the text names a staff member, in either
// character width.
func HasStaffMarker(text string) bool {
	// Fold rather than Normalize: half-width katakana must widen to match.
	lowered := strings.ToLower(width.Fold.String(text))
	for _, marker := range staffMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// Excluded reports whether a line should be dropped because it matches one of
// the exclusion keywords. Staff lines are never excluded.
func Excluded(text string, keywords []string) bool {
	if HasStaffMarker(text) {
		return false
	}
	lowered := strings.ToLower(Normalize(text))
	for _, kw := range keywords {
		kw = strings.ToLower(Normalize(strings.TrimSpace(kw)))
		if kw == "" || HasStaffMarker(kw) {
			continue
		}
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// Extract sums the counts of every kept line.
func Extract(lines, excludeKeywords []string) Counts {
	counts, _ := ExtractLines(lines, excludeKeywords)
	return counts
}

// ExtractLines is Extract that also returns the lines that were kept.
func ExtractLines(lines, excludeKeywords []string) (Counts, []string) {
	var counts Counts
	var kept []string
	for _, raw := range lines {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		if Excluded(text, excludeKeywords) {
			log.WithField("text", text).Debug("Excluded line by keyword")
			continue
		}
		counts.add(CountLine(text))
		kept = append(kept, text)
	}
	return counts, kept
}
