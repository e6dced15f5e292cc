package playback

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestComputePlanBeforeAnchor(t *testing.T) {
	anchor := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := anchor.Add(-500 * time.Millisecond)

	plan := ComputePlan(now, anchor, 0, 20*time.Second, false)

	assert.Equal(t, ActionWait, plan.Action)
	assert.Equal(t, 500*time.Millisecond, plan.Delay)
	assert.Zero(t, plan.SeekSec)
}

func TestComputePlanMidClip(t *testing.T) {
	anchor := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := anchor.Add(2 * time.Second)

	plan := ComputePlan(now, anchor, 0, 20*time.Second, false)

	assert.Equal(t, ActionPlay, plan.Action)
	assert.InDelta(t, 2.0, plan.SeekSec, 1e-9)
}

func TestComputePlanAfterClip(t *testing.T) {
	anchor := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := anchor.Add(25 * time.Second)

	plan := ComputePlan(now, anchor, 0, 20*time.Second, false)

	assert.Equal(t, ActionEnded, plan.Action)
}

func TestComputePlanUnlimitedNeverEnds(t *testing.T) {
	anchor := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := anchor.Add(10 * time.Minute)

	plan := ComputePlan(now, anchor, 0, 20*time.Second, true)

	assert.Equal(t, ActionPlay, plan.Action)
	assert.InDelta(t, 600.0, plan.SeekSec, 1e-9)
}

func TestComputePlanStartPosShiftsSeek(t *testing.T) {
	anchor := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := anchor.Add(3 * time.Second)

	plan := ComputePlan(now, anchor, 30, 20*time.Second, false)

	assert.Equal(t, ActionPlay, plan.Action)
	assert.InDelta(t, 33.0, plan.SeekSec, 1e-9)
}

func TestHostAnchorLeadsNow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(FixedLead), HostAnchor(now))
}

func TestPlayerStaleGenerationDiscarded(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	p := NewPlayer(clock)

	gen1 := p.LoadSong(clock.Now().Add(FixedLead), 0, 20*time.Second, false)
	gen2 := p.LoadSong(clock.Now().Add(FixedLead), 0, 20*time.Second, false)

	_, ok := p.Plan(gen1)
	assert.False(t, ok, "plan for a superseded load must be discarded")

	plan, ok := p.Plan(gen2)
	assert.True(t, ok)
	assert.Equal(t, ActionWait, plan.Action)
}

func TestPlayerAnchorChangedBumpsGeneration(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	p := NewPlayer(clock)

	gen := p.LoadSong(clock.Now(), 0, 20*time.Second, false)
	newGen := p.AnchorChanged(clock.Now().Add(FixedLead))

	assert.Greater(t, newGen, gen)
	_, ok := p.Plan(gen)
	assert.False(t, ok)
}

func TestPlayerLocalPauseResume(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	p := NewPlayer(clock)
	p.LoadSong(clock.Now(), 0, 20*time.Second, false)

	_, ok := p.ResumeLocal()
	assert.False(t, ok, "resume without pause is a no-op")

	p.PauseLocal(7.5)
	pos, ok := p.ResumeLocal()
	assert.True(t, ok)
	assert.InDelta(t, 7.5, pos, 1e-9)

	_, ok = p.ResumeLocal()
	assert.False(t, ok, "second resume must not replay the position")
}

func TestPlayerLoadSongClearsLocalPause(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	p := NewPlayer(clock)
	p.LoadSong(clock.Now(), 0, 20*time.Second, false)
	p.PauseLocal(4)

	p.LoadSong(clock.Now().Add(time.Minute), 0, 20*time.Second, false)

	_, ok := p.ResumeLocal()
	assert.False(t, ok, "a new song discards the old pause position")
}
