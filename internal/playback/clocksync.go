// Package playback computes what a client's audio player should do right
// now, given the room-wide song anchor. Clients within ~200ms of each other
// is the accepted tolerance; network and decode latency dominate beyond
// that.
package playback

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// FixedLead is the future buffer the host adds when writing the anchor, so
// every client, host included, goes through the wait-then-play branch.
const FixedLead = time.Second

// Action tells the audio layer what to do.
type Action int

const (
	// ActionWait schedules playback to begin after Plan.Delay.
	ActionWait Action = iota
	// ActionPlay starts immediately, seeking to Plan.SeekSec.
	ActionPlay
	// ActionEnded signals the clip is already over; play nothing.
	ActionEnded
)

// Plan is the result of one offset computation.
type Plan struct {
	Action  Action
	Delay   time.Duration // ActionWait: how long until the clip starts
	SeekSec float64       // ActionPlay: position within the track
}

// ComputePlan derives the immediate playback plan from the shared anchor.
func ComputePlan(now, anchor time.Time, startPosSec float64, clipDur time.Duration, unlimited bool) Plan {
	offset := now.Sub(anchor)

	switch {
	case offset < 0:
		return Plan{Action: ActionWait, Delay: -offset, SeekSec: startPosSec}
	case offset < clipDur || unlimited:
		return Plan{Action: ActionPlay, SeekSec: startPosSec + offset.Seconds()}
	default:
		return Plan{Action: ActionEnded}
	}
}

// HostAnchor returns the anchor value the host writes for a new song.
func HostAnchor(now time.Time) time.Time {
	return now.Add(FixedLead)
}

// Player tracks the current song load and local pause position for one
// client. Every song load advances a generation; async callbacks carry the
// generation they were issued for and are discarded once it is stale.
type Player struct {
	clock clockwork.Clock

	mu          sync.Mutex
	generation  uint64
	anchor      time.Time
	startPos    float64
	clipDur     time.Duration
	unlimited   bool
	localPos    float64
	localPaused bool
}

func NewPlayer(clock clockwork.Clock) *Player {
	return &Player{clock: clock}
}

// LoadSong installs a new song anchor and returns its generation.
func (p *Player) LoadSong(anchor time.Time, startPosSec float64, clipDur time.Duration, unlimited bool) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.anchor = anchor
	p.startPos = startPosSec
	p.clipDur = clipDur
	p.unlimited = unlimited
	p.localPaused = false
	p.localPos = 0
	return p.generation
}

// AnchorChanged re-anchors the current song (host pause/resume) and bumps
// the generation: in-flight callbacks for the old anchor must not land.
func (p *Player) AnchorChanged(anchor time.Time) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.anchor = anchor
	p.localPaused = false
	return p.generation
}

// Generation returns the current song-load generation.
func (p *Player) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Plan computes the playback plan for a callback issued at generation gen.
// It returns false when the generation has advanced, in which case the
// caller must discard its result entirely.
func (p *Player) Plan(gen uint64) (Plan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		return Plan{}, false
	}
	return ComputePlan(p.clock.Now(), p.anchor, p.startPos, p.clipDur, p.unlimited), true
}

// PauseLocal records the locally observed position when the client itself
// pauses (tab backgrounded). This does not touch the shared anchor.
func (p *Player) PauseLocal(posSec float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localPaused = true
	p.localPos = posSec
}

// ResumeLocal returns the remembered local position. A local resume must
// not re-run the offset calculation: the audio is already positioned and
// re-seeking it would glitch playback.
func (p *Player) ResumeLocal() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.localPaused {
		return 0, false
	}
	p.localPaused = false
	return p.localPos, true
}
