package stage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/cheekschecker/internal/participant"
)

var (
	today = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	now   = time.Date(2024, 3, 15, 22, 0, 0, 0, time.UTC)
)

func meeting(single, female, male int) Observation {
	c := participant.Counts{Male: male, Female: female, SingleFemale: single, Total: male + female}
	return Observation{BusinessDay: today, Counts: c, Ratio: c.Ratio(), Meets: true, RequiredSingle: 3}
}

func TestFirstNotificationOnce(t *testing.T) {
	cfg := DefaultConfig()
	obs := meeting(3, 5, 6)

	state, reqs := Apply(State{}, []Observation{obs}, today, now, cfg)
	require.Len(t, reqs, 1)
	assert.Equal(t, First, reqs[0].Stage)
	assert.Equal(t, "2024-03-15", reqs[0].Key())
	rec := state["2024-03-15"]
	assert.Equal(t, First, rec.Stage)
	assert.Equal(t, 3, rec.RequiredSingle)
	require.NotNil(t, rec.LastNotifiedAt)
	assert.True(t, rec.LastNotifiedAt.Equal(now))

	// Re-evaluating the same snapshot emits nothing new.
	again, reqs := Apply(state, []Observation{obs}, today, now.Add(time.Minute), cfg)
	assert.Empty(t, reqs)
	assert.Equal(t, First, again["2024-03-15"].Stage)
}

func TestBonusExactlyOnce(t *testing.T) {
	cfg := DefaultConfig()
	state, _ := Apply(State{}, []Observation{meeting(3, 5, 5)}, today, now, cfg)

	// single 5 = floor 3 + delta 2, ratio stays below the bonus threshold.
	grown := meeting(5, 6, 8)
	total := 0
	for i := 1; i <= 5; i++ {
		var reqs []Request
		state, reqs = Apply(state, []Observation{grown}, today, now.Add(time.Duration(i)*10*time.Minute), cfg)
		for _, r := range reqs {
			assert.Equal(t, Bonus, r.Stage)
			total++
		}
	}
	assert.Equal(t, 1, total)
	assert.Equal(t, Bonus, state["2024-03-15"].Stage)
}

func TestBonusByRatio(t *testing.T) {
	cfg := DefaultConfig()
	prev := Record{Stage: First, RequiredSingle: 3, LastNotifiedAt: &now}

	next, req := Transition(prev, meeting(3, 6, 4), now.Add(time.Minute), cfg)
	require.NotNil(t, req)
	assert.Equal(t, Bonus, next.Stage)
}

func TestBonusUsesFloorCapturedAtFirst(t *testing.T) {
	cfg := DefaultConfig()
	prev := Record{Stage: First, RequiredSingle: 5, LastNotifiedAt: &now}

	// Observation floor is 3 now, but the captured floor 5 + delta 2 is required.
	_, req := Transition(prev, meeting(5, 5, 10), now, cfg)
	assert.Nil(t, req)
	_, req = Transition(prev, meeting(7, 7, 10), now, cfg)
	assert.NotNil(t, req)
}

func TestCooldownResetsBonus(t *testing.T) {
	cfg := DefaultConfig()
	notified := now.Add(-179 * time.Minute)
	prev := Record{Stage: Bonus, LastNotifiedAt: &notified}

	next, req := Transition(prev, meeting(5, 6, 8), now, cfg)
	assert.Nil(t, req)
	assert.Equal(t, Bonus, next.Stage)

	next, req = Transition(prev, meeting(5, 6, 8), now.Add(time.Minute), cfg)
	assert.Nil(t, req, "reset emits no notification")
	assert.Equal(t, None, next.Stage)
	assert.Equal(t, &notified, next.LastNotifiedAt)
}

func TestNonMeetingDoesNotReset(t *testing.T) {
	cfg := DefaultConfig()
	prev := Record{Stage: First, RequiredSingle: 3, LastNotifiedAt: &now}
	obs := meeting(0, 1, 9)
	obs.Meets = false

	next, req := Transition(prev, obs, now.Add(5*time.Hour), cfg)
	assert.Nil(t, req)
	assert.Equal(t, First, next.Stage)
	assert.False(t, next.Meets)
}

func TestResetDayModes(t *testing.T) {
	notified := now.Add(-4 * time.Hour)
	obs := meeting(3, 5, 5)
	prev := Record{Stage: None, LastNotifiedAt: &notified, Counts: obs.Counts}

	newly := DefaultConfig()
	_, req := Transition(prev, obs, now, newly)
	assert.Nil(t, req, "newly mode never repeats a notified day")

	changed := DefaultConfig()
	changed.Mode = ModeChanged
	_, req = Transition(prev, obs, now, changed)
	assert.Nil(t, req, "unchanged counts")

	more := meeting(4, 6, 5)
	next, req := Transition(prev, more, now, changed)
	require.NotNil(t, req)
	assert.Equal(t, First, req.Stage)
	assert.Equal(t, First, next.Stage)
}

func TestBonusRequiresMeets(t *testing.T) {
	cfg := DefaultConfig()
	prev := Record{Stage: First, RequiredSingle: 3, LastNotifiedAt: &now}
	obs := meeting(6, 8, 2)
	obs.Meets = false

	next, req := Transition(prev, obs, now.Add(time.Minute), cfg)
	assert.Nil(t, req, "bonus thresholds alone do not announce a day that stopped meeting")
	assert.Equal(t, First, next.Stage)
}

func TestChangedModeComparesAnnouncedCounts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeChanged

	first := meeting(3, 5, 5)
	rec, req := Transition(Record{}, first, now, cfg)
	require.NotNil(t, req)
	assert.Equal(t, first.Counts, rec.NotifiedCounts)

	bonus := meeting(5, 6, 8)
	rec, req = Transition(rec, bonus, now.Add(10*time.Minute), cfg)
	require.NotNil(t, req)
	require.Equal(t, Bonus, rec.Stage)
	assert.Equal(t, bonus.Counts, rec.NotifiedCounts)

	// Counts move during the cooldown without another announcement.
	drift := meeting(4, 6, 7)
	rec, req = Transition(rec, drift, now.Add(time.Hour), cfg)
	require.Nil(t, req)
	assert.Equal(t, drift.Counts, rec.Counts)
	assert.Equal(t, bonus.Counts, rec.NotifiedCounts)

	rec, req = Transition(rec, drift, now.Add(4*time.Hour), cfg)
	require.Nil(t, req)
	require.Equal(t, None, rec.Stage)

	// Same observed counts as the reset, but not what was last announced.
	next, req := Transition(rec, drift, now.Add(4*time.Hour+time.Minute), cfg)
	require.NotNil(t, req)
	assert.Equal(t, First, req.Stage)
	assert.Equal(t, First, next.Stage)
	assert.Equal(t, drift.Counts, next.NotifiedCounts)

	// Announced counts seen again after a reset stay quiet.
	quiet := next
	quiet.Stage = None
	_, req = Transition(quiet, drift, now.Add(8*time.Hour), cfg)
	assert.Nil(t, req)
}

func TestApplyWindow(t *testing.T) {
	cfg := DefaultConfig()
	old := Record{Stage: First, RequiredSingle: 3}
	state := State{"2024-03-10": old}

	obs := []Observation{
		{BusinessDay: today.AddDate(0, 0, -5), Meets: true, RequiredSingle: 3},
		{BusinessDay: today.AddDate(0, 0, -1), Meets: true, RequiredSingle: 3},
		{BusinessDay: today.AddDate(0, 0, 1), Meets: true, RequiredSingle: 3},
	}
	next, reqs := Apply(state, obs, today, now, cfg)

	require.Len(t, reqs, 1)
	assert.Equal(t, "2024-03-14", reqs[0].Key())
	assert.Equal(t, old, next["2024-03-10"])
	assert.NotContains(t, next, "2024-03-16")
}

func TestApplyRequestsOrderedByDay(t *testing.T) {
	cfg := DefaultConfig()
	a := meeting(3, 5, 5)
	b := meeting(3, 5, 5)
	b.BusinessDay = today.AddDate(0, 0, -1)

	_, reqs := Apply(State{}, []Observation{a, b}, today, now, cfg)
	require.Len(t, reqs, 2)
	assert.Equal(t, "2024-03-14", reqs[0].Key())
	assert.Equal(t, "2024-03-15", reqs[1].Key())
}

func TestApplyIsPure(t *testing.T) {
	state := State{}
	Apply(state, []Observation{meeting(3, 5, 5)}, today, now, DefaultConfig())
	assert.Empty(t, state)
}

func TestMigrateKeys(t *testing.T) {
	ref := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	raw := map[string]Record{
		"15":         {Stage: First},
		"2024-03-16": {Stage: Bonus},
		"16":         {Stage: First},
		"junk":       {Stage: First},
		"40":         {Stage: First},
	}

	state, dropped := MigrateKeys(raw, ref)

	assert.Equal(t, First, state["2024-03-15"].Stage)
	assert.Equal(t, Bonus, state["2024-03-16"].Stage, "canonical key wins")
	assert.Len(t, state, 2)
	assert.ElementsMatch(t, []string{"junk", "40"}, dropped)

	again, dropped := MigrateKeys(state, ref.AddDate(0, 2, 0))
	assert.Equal(t, state, again)
	assert.Empty(t, dropped)
}

func TestParseStage(t *testing.T) {
	for in, want := range map[string]Stage{"": None, "none": None, "initial": First, "FIRST": First, "bonus": Bonus} {
		got, err := ParseStage(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStage("later")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Mode = "always"
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.BonusRatioThreshold = 2
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.IgnoreOlderThan = -1
	assert.Error(t, bad.Validate())
}
