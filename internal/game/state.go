// Package game holds the room state machine: a reducer that folds change
// feed events into a read-through cache, and the host-authority operations
// that write phase transitions back to the store.
package game

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jdorel/blindtest/internal/feed"
	"github.com/jdorel/blindtest/internal/models"
	"github.com/jdorel/blindtest/internal/playback"
	"github.com/rs/zerolog/log"
)

// Command is a side effect the reducer asks its caller to run. The reducer
// itself never touches the store, timers, or audio.
type Command interface{ isCommand() }

// CmdLoadSong asks the audio layer to load a song against a shared anchor.
type CmdLoadSong struct {
	SongID    string
	Anchor    time.Time
	StartPos  float64
	ClipDur   time.Duration
	Unlimited bool
}

// CmdStopAudio asks the audio layer to stop whatever is playing.
type CmdStopAudio struct{}

// CmdStartTimer asks the caller to schedule a guess timer.
type CmdStartTimer struct{ Duration time.Duration }

// CmdStopTimer cancels a pending guess timer.
type CmdStopTimer struct{}

// CmdArmRound tells the buzz arbiter a new round began.
type CmdArmRound struct{ SongID string }

func (CmdLoadSong) isCommand()   {}
func (CmdStopAudio) isCommand()  {}
func (CmdStartTimer) isCommand() {}
func (CmdStopTimer) isCommand()  {}
func (CmdArmRound) isCommand()   {}

// State is one client's cache of the shared room. The store is the single
// source of truth: every feed event overwrites the cached value, and local
// mutations never win against a store-confirmed row.
type State struct {
	Room    *models.Room
	Players map[uuid.UUID]models.Player

	// lastPhase remembers the most recent non-paused phase so a resume
	// lands exactly where the pause happened.
	lastPhase models.GamePhase
}

func NewState() *State {
	return &State{Players: make(map[uuid.UUID]models.Player)}
}

// PlayersByJoin returns cached players ordered by join time, earliest first.
func (s *State) PlayersByJoin() []models.Player {
	players := make([]models.Player, 0, len(s.Players))
	for _, p := range s.Players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].ID.String() < players[j].ID.String()
		}
		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})
	return players
}

// LastActivePhase returns the phase the room was in before a pause.
func (s *State) LastActivePhase() models.GamePhase {
	if s.lastPhase == "" {
		return models.PhaseWaiting
	}
	return s.lastPhase
}

// ApplyRoomChange folds a room feed event into the cache and emits the
// commands the transition implies. Applying the same event twice yields no
// commands the second time and leaves the state identical.
func (s *State) ApplyRoomChange(ev feed.Event) []Command {
	if ev.Op == feed.OpDelete {
		s.Room = nil
		return []Command{CmdStopAudio{}, CmdStopTimer{}}
	}

	rm, err := feed.DecodeRoom(ev)
	if err != nil {
		log.Error().Err(err).Msg("dropping malformed room event")
		return nil
	}

	prev := s.Room
	s.Room = rm
	if rm.Phase != models.PhasePaused {
		s.lastPhase = rm.Phase
	}

	var cmds []Command

	// A new or re-anchored song drives audio; same anchor twice is a no-op.
	if rm.CurrentSongID != nil && rm.CurrentSongStartedAt != nil {
		if anchorChanged(prev, rm) {
			cmds = append(cmds,
				CmdArmRound{SongID: *rm.CurrentSongID},
				CmdLoadSong{
					SongID:    *rm.CurrentSongID,
					Anchor:    *rm.CurrentSongStartedAt,
					ClipDur:   time.Duration(rm.Settings.ClipDurationSec) * time.Second,
					Unlimited: rm.Settings.UnlimitedPlay,
				},
			)
		}
	}

	if prev == nil || prev.Phase == rm.Phase {
		return cmds
	}

	switch rm.Phase {
	case models.PhaseBuzzed, models.PhasePaused:
		cmds = append(cmds, CmdStopAudio{}, CmdStopTimer{})
	case models.PhaseTimer:
		cmds = append(cmds, CmdStartTimer{Duration: time.Duration(rm.Settings.TimerDurationSec) * time.Second})
	case models.PhaseReveal, models.PhaseEnded:
		cmds = append(cmds, CmdStopTimer{})
	}
	return cmds
}

// ApplyPlayerChange folds a player feed event into the cache. Duplicate
// inserts for a known id are merges, not errors.
func (s *State) ApplyPlayerChange(ev feed.Event) []Command {
	p, err := feed.DecodePlayer(ev)
	if err != nil {
		log.Error().Err(err).Msg("dropping malformed player event")
		return nil
	}
	if ev.Op == feed.OpDelete {
		delete(s.Players, p.ID)
		return nil
	}
	s.Players[p.ID] = *p
	return nil
}

func anchorChanged(prev, next *models.Room) bool {
	if next.CurrentSongStartedAt == nil {
		return false
	}
	if prev == nil || prev.CurrentSongStartedAt == nil || prev.CurrentSongID == nil {
		return true
	}
	return *prev.CurrentSongID != *next.CurrentSongID ||
		!prev.CurrentSongStartedAt.Equal(*next.CurrentSongStartedAt)
}

// Hydrate seeds the cache from store reads, used on connect and reconnect.
func (s *State) Hydrate(rm *models.Room, players []models.Player) {
	s.Room = rm
	s.Players = make(map[uuid.UUID]models.Player, len(players))
	for _, p := range players {
		s.Players[p.ID] = p
	}
	if rm != nil && rm.Phase != models.PhasePaused {
		s.lastPhase = rm.Phase
	}
}

// PlanFor computes the playback plan a freshly hydrated client should run.
func (s *State) PlanFor(now time.Time) (playback.Plan, bool) {
	if s.Room == nil || s.Room.CurrentSongID == nil || s.Room.CurrentSongStartedAt == nil {
		return playback.Plan{}, false
	}
	return playback.ComputePlan(
		now,
		*s.Room.CurrentSongStartedAt,
		0,
		time.Duration(s.Room.Settings.ClipDurationSec)*time.Second,
		s.Room.Settings.UnlimitedPlay,
	), true
}
