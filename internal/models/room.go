package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus defines the lifecycle status of a room.
type RoomStatus string

const (
	RoomStatusWaiting RoomStatus = "WAITING"
	RoomStatusPlaying RoomStatus = "PLAYING"
	RoomStatusEnded   RoomStatus = "ENDED"
)

// GamePhase defines the in-round phase driven by the host.
type GamePhase string

const (
	PhaseWaiting GamePhase = "WAITING"
	PhasePlaying GamePhase = "PLAYING"
	PhaseBuzzed  GamePhase = "BUZZED"
	PhaseTimer   GamePhase = "TIMER"
	PhaseReveal  GamePhase = "REVEAL"
	PhasePaused  GamePhase = "PAUSED"
	PhaseEnded   GamePhase = "ENDED"
)

// GuessMode selects how answers are validated.
type GuessMode string

const (
	// GuessModeBuzzer is the host-validated buzz race.
	GuessModeBuzzer GuessMode = "BUZZER"
	// GuessModeQuickScore lets a player self-report a correct guess.
	// Trust-based fast path for solo or low-stakes play.
	GuessModeQuickScore GuessMode = "QUICK_SCORE"
)

// RoomSettings holds JSONB game configuration for a room.
type RoomSettings struct {
	GuessMode        GuessMode `json:"guess_mode"`
	ClipDurationSec  int       `json:"clip_duration_sec"`
	TimerDurationSec int       `json:"timer_duration_sec"`
	RevealSec        int       `json:"reveal_sec"`
	UnlimitedPlay    bool      `json:"unlimited_play,omitempty"`
	MaxPlayers       int       `json:"max_players,omitempty"`
}

// DefaultRoomSettings returns the settings a freshly created room starts with.
func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		GuessMode:        GuessModeBuzzer,
		ClipDurationSec:  20,
		TimerDurationSec: 30,
		RevealSec:        10,
		MaxPlayers:       10,
	}
}

// Room represents one shared game session.
type Room struct {
	ID                   uuid.UUID    `json:"id"`
	Code                 string       `json:"code"`
	HostID               uuid.UUID    `json:"host_id"`
	Status               RoomStatus   `json:"status"`
	Phase                GamePhase    `json:"phase"`
	Settings             RoomSettings `json:"settings"`
	CurrentSongID        *string      `json:"current_song_id,omitempty"`
	CurrentSongStartedAt *time.Time   `json:"current_song_started_at,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}
