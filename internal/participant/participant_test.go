package participant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountLine(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		male   int
		female int
		single bool
	}{
		{"multiplier", "♀×3", 0, 3, false},
		{"two marks", "♀♀", 0, 2, false},
		{"single mark", "♀", 0, 1, true},
		{"multiplier one", "♀×1", 0, 1, true},
		{"asterisk full-width", "♀＊２", 0, 2, false},
		{"group suffix", "♀ 2名", 0, 2, false},
		{"full-width group suffix", "♀３人", 0, 3, false},
		{"parenthesised", "♀（4）", 0, 4, false},
		{"whitespace before digit", "♀ x  2", 0, 2, false},
		{"more marks than numeral", "♀♀♀×2", 0, 3, false},
		{"mixed ignores numerals", "♂♀×5", 1, 1, false},
		{"male only", "♂♂", 2, 0, false},
		{"no marker", "OPEN 20:00", 0, 0, false},
		{"age in parentheses is not a count", "♀(20代)", 0, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CountLine(tt.text)
			assert.Equal(t, tt.male, got.Male, "male")
			assert.Equal(t, tt.female, got.Female, "female")
			assert.Equal(t, tt.single, got.Single, "single")
		})
	}
}

func TestExtract(t *testing.T) {
	lines := []string{"♀", " ♀ ", "♀×2", "♂♀", "♂", "", "close"}
	got := Extract(lines, nil)

	assert.Equal(t, Counts{Male: 2, Female: 5, SingleFemale: 2, Total: 7}, got)
	assert.InDelta(t, 5.0/7.0, got.Ratio(), 1e-9)
}

func TestExtractExclusion(t *testing.T) {
	lines := []string{"♀ guest", "♀ Staff", "♀ スタッフ guest", "♀"}
	counts, kept := ExtractLines(lines, []string{"GUEST"})

	assert.Equal(t, 3, counts.Female)
	assert.Equal(t, 3, counts.SingleFemale)
	assert.Equal(t, []string{"♀ Staff", "♀ スタッフ guest", "♀"}, kept)
}

func TestExcludedIgnoresStaffKeywords(t *testing.T) {
	assert.False(t, Excluded("♀ staff member", []string{"staff"}))
	assert.False(t, Excluded("♀", []string{"", "  "}))
	assert.True(t, Excluded("♀ ＴＥＳＴ", []string{"test"}))
}

func TestHasStaffMarkerWidths(t *testing.T) {
	assert.True(t, HasStaffMarker("♀ ＳＴＡＦＦ"))
	assert.True(t, HasStaffMarker("♀ Staff"))
	assert.True(t, HasStaffMarker("♀ スタッフ"))
	assert.True(t, HasStaffMarker("♀ ｽﾀｯﾌ"))
	assert.False(t, HasStaffMarker("♀ guest"))
	assert.False(t, Excluded("♀ ＳＴＡＦＦ", []string{"ｓｔａｆｆ"}))
}

func TestRatioZeroTotal(t *testing.T) {
	assert.Equal(t, 0.0, Counts{}.Ratio())
}
