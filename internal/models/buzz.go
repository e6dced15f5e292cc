package models

import (
	"time"

	"github.com/google/uuid"
)

// Buzz is a timestamped claim by a player to answer first in a round.
// Seq is the store-assigned commit order and is the authoritative
// tiebreaker; BuzzedAt is the client-claimed wall clock and is display-only.
type Buzz struct {
	ID       uuid.UUID `json:"id"`
	Seq      int64     `json:"seq"`
	RoomID   uuid.UUID `json:"room_id"`
	PlayerID uuid.UUID `json:"player_id"`
	SongID   string    `json:"song_id"`
	BuzzedAt time.Time `json:"buzzed_at"`
	IsWinner bool      `json:"is_winner"`
}
