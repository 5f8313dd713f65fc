package mask

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/cheekschecker/internal/participant"
)

func TestIndex(t *testing.T) {
	b, err := NewBandTable(KindCount, []float64{3, 5, 7}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, b.Index(2))
	assert.Equal(t, 1, b.Index(3))
	assert.Equal(t, 2, b.Index(5))
	assert.Equal(t, 3, b.Index(100))
	assert.Equal(t, 4, b.Bands())
}

func TestGeneratedLabels(t *testing.T) {
	counts := MustBandTable(KindCount, []float64{3, 5, 6}, nil, nil)
	assert.Equal(t, []string{"<3", "3-4", "5", "6+"}, counts.labels)

	ratios := MustBandTable(KindRatio, []float64{0.4, 0.6}, nil, nil)
	assert.Equal(t, []string{"<40%", "40-59%", "60%+"}, ratios.labels)
}

func TestNewBandTableRejects(t *testing.T) {
	_, err := NewBandTable(KindCount, []float64{3, 3, 7}, nil, nil)
	assert.ErrorIs(t, err, ErrBandsNotAscending)

	_, err = NewBandTable(KindCount, []float64{5, 3}, nil, nil)
	assert.ErrorIs(t, err, ErrBandsNotAscending)

	_, err = NewBandTable(KindCount, []float64{-1, 3}, nil, nil)
	assert.ErrorIs(t, err, ErrNegativeThreshold)

	_, err = NewBandTable(KindCount, []float64{3, 5}, []string{"low", "high"}, nil)
	assert.ErrorIs(t, err, ErrLabelCount)

	_, err = NewBandTable(KindCount, []float64{3, 5}, nil, &Abstract{Words: []string{"a", "b"}, Cuts: []int{3}})
	assert.ErrorIs(t, err, ErrAbstractGroups)

	_, err = NewBandTable(KindCount, []float64{3, 5}, nil, &Abstract{Words: []string{"a"}, Cuts: []int{1}})
	assert.ErrorIs(t, err, ErrAbstractGroups)
}

func TestMaskLevels(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "4", Mask(4, cfg.Single, LevelRaw))
	assert.Equal(t, "3-4", Mask(4, cfg.Single, LevelBanded))
	assert.Equal(t, "穏", Mask(4, cfg.Single, LevelAbstract))
	assert.Equal(t, "静", Mask(2, cfg.Single, LevelAbstract))
	assert.Equal(t, "賑", Mask(12, cfg.Single, LevelAbstract))

	assert.Equal(t, "0.455", Mask(0.4549, cfg.Ratio, LevelRaw))
	assert.Equal(t, "40±", Mask(0.40, cfg.Ratio, LevelBanded))
	assert.Equal(t, "<40%", Mask(0.39, cfg.Ratio, LevelBanded))
	assert.Equal(t, "中", Mask(0.55, cfg.Ratio, LevelAbstract))
	assert.Equal(t, "高", Mask(0.9, cfg.Ratio, LevelAbstract))

	assert.Equal(t, "少", Mask(9, cfg.Total, LevelAbstract))
	assert.Equal(t, "並", Mask(25, cfg.Total, LevelAbstract))
}

func TestAbstractFallsBackToLabel(t *testing.T) {
	b := MustBandTable(KindCount, []float64{3}, []string{"few", "many"}, nil)
	assert.Equal(t, "many", Mask(8, b, LevelAbstract))
}

func TestMaskIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	c := participant.Counts{Male: 6, Female: 7, SingleFemale: 4, Total: 13}

	for _, level := range []Level{LevelRaw, LevelBanded, LevelAbstract} {
		first := cfg.MaskEntry(day, c, level)
		second := cfg.MaskEntry(day, c, level)
		assert.Equal(t, first, second)
		assert.Equal(t, "2024-03-15", first.BusinessDay)
		assert.Equal(t, level, first.Level)
	}
}

func TestFloor(t *testing.T) {
	cfg := DefaultConfig()

	v, ok := cfg.Single.Floor("3-4")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	v, ok = cfg.Single.Floor("1")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	v, ok = cfg.Single.Floor("11")
	require.True(t, ok)
	assert.Equal(t, 11.0, v)

	v, ok = cfg.Ratio.Floor("高")
	require.True(t, ok)
	assert.Equal(t, 0.60, v)

	v, ok = cfg.Total.Floor("少")
	require.True(t, ok)
	assert.Equal(t, 0.0, v)

	_, ok = cfg.Total.Floor("???")
	assert.False(t, ok)
}

func TestMaskedNeverMorePreciseThanFloor(t *testing.T) {
	cfg := DefaultConfig()
	for v := 0; v <= 60; v++ {
		for _, level := range []Level{LevelBanded, LevelAbstract} {
			floor, ok := cfg.Total.Floor(Mask(float64(v), cfg.Total, level))
			require.True(t, ok)
			assert.LessOrEqual(t, floor, float64(v))
		}
	}
}

func TestUnmask(t *testing.T) {
	cfg := DefaultConfig()
	rec := Record{BusinessDay: "2024-03-15", Level: LevelBanded, Single: "3-4", Female: "5-6", Total: "10-19", Ratio: "50±"}

	counts, ratio, ok := cfg.Unmask(rec)
	require.True(t, ok)
	assert.Equal(t, participant.Counts{SingleFemale: 3, Female: 5, Male: 5, Total: 10}, counts)
	assert.Equal(t, 0.50, ratio)
}

func TestLevelValidate(t *testing.T) {
	assert.NoError(t, LevelAbstract.Validate())
	assert.Error(t, Level(3).Validate())
	assert.Error(t, Level(-1).Validate())
}
