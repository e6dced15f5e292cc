package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jdorel/blindtest/internal/models"
	"github.com/jdorel/blindtest/internal/playback"
	"github.com/jdorel/blindtest/internal/room"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Guard violations. These are programming errors when the UI enforces its
// own guards; they fail loudly and never corrupt state.
var (
	ErrNotEnoughPlayers = errors.New("starting a game requires at least two players")
	ErrNoCurrentWinner  = errors.New("validate requires a current buzz winner")
	ErrWrongPhase       = errors.New("operation not allowed in current phase")
	ErrGameEnded        = errors.New("game has ended; only restart is allowed")
	ErrQuickScoreOnly   = errors.New("self-reported scoring requires quick score mode")
)

// Writer is what the machine needs to persist host decisions.
type Writer interface {
	UpdateRoomState(ctx context.Context, id uuid.UUID, req room.UpdateRoomStateRequest) (*models.Room, error)
	AddScore(ctx context.Context, id uuid.UUID, delta int) (*models.Player, error)
	ResetGame(ctx context.Context, roomID uuid.UUID) error
}

// WinnerSource exposes the arbiter's resolved winner to the machine.
type WinnerSource interface {
	CurrentWinner() *models.Buzz
}

// Machine executes phase transitions for one client. Host-only operations
// check authority against the cached room before writing; guests can only
// mutate their own presence and, in quick score mode, their own score.
type Machine struct {
	selfID uuid.UUID
	state  *State
	writer Writer
	winner WinnerSource
	clock  clockwork.Clock
}

func NewMachine(selfID uuid.UUID, state *State, writer Writer, winner WinnerSource, clock clockwork.Clock) *Machine {
	return &Machine{
		selfID: selfID,
		state:  state,
		writer: writer,
		winner: winner,
		clock:  clock,
	}
}

// State returns the machine's cache for read access.
func (m *Machine) State() *State { return m.state }

// IsHost reports whether this client currently holds host authority.
func (m *Machine) IsHost() bool {
	return m.state.Room != nil && m.state.Room.HostID == m.selfID
}

func (m *Machine) requireHost() error {
	if m.state.Room == nil {
		return room.ErrRoomNotFound
	}
	if !m.IsHost() {
		return room.ErrNotHost
	}
	return nil
}

// roundPhase picks the phase a fresh round starts in. Quick score rounds
// have no buzz to wait for, so they run the guess countdown immediately;
// buzzer rounds stay in playing until someone buzzes.
func (m *Machine) roundPhase() models.GamePhase {
	s := m.state.Room.Settings
	if s.GuessMode == models.GuessModeQuickScore && s.TimerDurationSec > 0 {
		return models.PhaseTimer
	}
	return models.PhasePlaying
}

// StartGame begins the first round. Requires at least two players.
func (m *Machine) StartGame(ctx context.Context, songID string) error {
	if err := m.requireHost(); err != nil {
		return err
	}
	if m.state.Room.Status != models.RoomStatusWaiting {
		return fmt.Errorf("%w: status is %s", ErrWrongPhase, m.state.Room.Status)
	}
	if len(m.state.Players) < 2 {
		return ErrNotEnoughPlayers
	}

	status := models.RoomStatusPlaying
	phase := m.roundPhase()
	anchor := playback.HostAnchor(m.clock.Now())
	_, err := m.writer.UpdateRoomState(ctx, m.state.Room.ID, room.UpdateRoomStateRequest{
		Status:               &status,
		Phase:                &phase,
		CurrentSongID:        &songID,
		CurrentSongStartedAt: &anchor,
	})
	if err != nil {
		return fmt.Errorf("failed to start game: %w", err)
	}
	log.Info().Str("room_id", m.state.Room.ID.String()).Str("song_id", songID).Msg("game started")
	return nil
}

// MarkBuzzed moves the room into the buzzed phase after a winner resolved.
func (m *Machine) MarkBuzzed(ctx context.Context) error {
	if err := m.requireHost(); err != nil {
		return err
	}
	if m.state.Room.Phase != models.PhasePlaying && m.state.Room.Phase != models.PhaseTimer {
		return fmt.Errorf("%w: phase is %s", ErrWrongPhase, m.state.Room.Phase)
	}
	phase := models.PhaseBuzzed
	_, err := m.writer.UpdateRoomState(ctx, m.state.Room.ID, room.UpdateRoomStateRequest{Phase: &phase})
	return err
}

// Validate settles the current buzz: on a correct answer the winner gets a
// point, either way the room moves to reveal.
func (m *Machine) Validate(ctx context.Context, correct bool) error {
	if err := m.requireHost(); err != nil {
		return err
	}
	w := m.winner.CurrentWinner()
	if w == nil {
		return ErrNoCurrentWinner
	}

	if correct {
		if _, err := m.writer.AddScore(ctx, w.PlayerID, 1); err != nil {
			return fmt.Errorf("failed to award point: %w", err)
		}
	}
	return m.Reveal(ctx)
}

// ClaimPoint is the quick score fast path: a player reports "I knew it" and
// scores without host confirmation. Deliberately trust-based; kept separate
// from Validate so the two trust models never blur.
func (m *Machine) ClaimPoint(ctx context.Context) error {
	if m.state.Room == nil {
		return room.ErrRoomNotFound
	}
	if m.state.Room.Settings.GuessMode != models.GuessModeQuickScore {
		return ErrQuickScoreOnly
	}
	if m.state.Room.Phase != models.PhasePlaying && m.state.Room.Phase != models.PhaseTimer {
		return fmt.Errorf("%w: phase is %s", ErrWrongPhase, m.state.Room.Phase)
	}
	_, err := m.writer.AddScore(ctx, m.selfID, 1)
	return err
}

// Reveal discloses the current song.
func (m *Machine) Reveal(ctx context.Context) error {
	if err := m.requireHost(); err != nil {
		return err
	}
	if m.state.Room.Status != models.RoomStatusPlaying {
		return fmt.Errorf("%w: status is %s", ErrWrongPhase, m.state.Room.Status)
	}
	phase := models.PhaseReveal
	_, err := m.writer.UpdateRoomState(ctx, m.state.Room.ID, room.UpdateRoomStateRequest{Phase: &phase})
	return err
}

// NextSong advances to the next round. Requires the reveal phase.
func (m *Machine) NextSong(ctx context.Context, songID string) error {
	if err := m.requireHost(); err != nil {
		return err
	}
	if m.state.Room.Phase != models.PhaseReveal {
		return fmt.Errorf("%w: next song requires reveal, phase is %s", ErrWrongPhase, m.state.Room.Phase)
	}

	phase := m.roundPhase()
	anchor := playback.HostAnchor(m.clock.Now())
	_, err := m.writer.UpdateRoomState(ctx, m.state.Room.ID, room.UpdateRoomStateRequest{
		Phase:                &phase,
		CurrentSongID:        &songID,
		CurrentSongStartedAt: &anchor,
	})
	if err != nil {
		return fmt.Errorf("failed to advance song: %w", err)
	}
	return nil
}

// Pause suspends the game from any in-round phase.
func (m *Machine) Pause(ctx context.Context) error {
	if err := m.requireHost(); err != nil {
		return err
	}
	switch m.state.Room.Phase {
	case models.PhasePlaying, models.PhaseBuzzed, models.PhaseTimer, models.PhaseReveal:
	default:
		return fmt.Errorf("%w: cannot pause from %s", ErrWrongPhase, m.state.Room.Phase)
	}
	phase := models.PhasePaused
	_, err := m.writer.UpdateRoomState(ctx, m.state.Room.ID, room.UpdateRoomStateRequest{Phase: &phase})
	return err
}

// Resume returns to exactly the phase the room was paused from, and
// re-anchors the song so clients recompute their offsets once.
func (m *Machine) Resume(ctx context.Context) error {
	if err := m.requireHost(); err != nil {
		return err
	}
	if m.state.Room.Phase != models.PhasePaused {
		return fmt.Errorf("%w: resume requires paused, phase is %s", ErrWrongPhase, m.state.Room.Phase)
	}

	phase := m.state.LastActivePhase()
	req := room.UpdateRoomStateRequest{Phase: &phase}
	if (phase == models.PhasePlaying || phase == models.PhaseTimer) && m.state.Room.CurrentSongID != nil {
		anchor := playback.HostAnchor(m.clock.Now())
		req.CurrentSongStartedAt = &anchor
	}
	_, err := m.writer.UpdateRoomState(ctx, m.state.Room.ID, req)
	return err
}

// EndGame is reachable from any in-game state.
func (m *Machine) EndGame(ctx context.Context) error {
	if err := m.requireHost(); err != nil {
		return err
	}
	if m.state.Room.Status == models.RoomStatusEnded {
		return ErrGameEnded
	}
	status := models.RoomStatusEnded
	phase := models.PhaseEnded
	_, err := m.writer.UpdateRoomState(ctx, m.state.Room.ID, room.UpdateRoomStateRequest{
		Status:    &status,
		Phase:     &phase,
		ClearSong: true,
	})
	if err != nil {
		return fmt.Errorf("failed to end game: %w", err)
	}
	log.Info().Str("room_id", m.state.Room.ID.String()).Msg("game ended")
	return nil
}

// RestartGame is the only exit from ended: scores reset, buzzes cleared,
// room back to waiting.
func (m *Machine) RestartGame(ctx context.Context) error {
	if err := m.requireHost(); err != nil {
		return err
	}
	if m.state.Room.Status != models.RoomStatusEnded {
		return fmt.Errorf("%w: restart requires ended, status is %s", ErrWrongPhase, m.state.Room.Status)
	}

	if err := m.writer.ResetGame(ctx, m.state.Room.ID); err != nil {
		return fmt.Errorf("failed to reset game: %w", err)
	}

	status := models.RoomStatusWaiting
	phase := models.PhaseWaiting
	_, err := m.writer.UpdateRoomState(ctx, m.state.Room.ID, room.UpdateRoomStateRequest{
		Status:    &status,
		Phase:     &phase,
		ClearSong: true,
	})
	if err != nil {
		return fmt.Errorf("failed to restart game: %w", err)
	}
	log.Info().Str("room_id", m.state.Room.ID.String()).Msg("game restarted")
	return nil
}

// HandleTimerExpired fires when the guess timer runs out: the host reveals.
// Guests ignore the tick; the host write is what every client follows.
func (m *Machine) HandleTimerExpired(ctx context.Context) error {
	if !m.IsHost() {
		return nil
	}
	if m.state.Room.Phase != models.PhaseTimer && m.state.Room.Phase != models.PhasePlaying {
		return nil
	}
	return m.Reveal(ctx)
}
