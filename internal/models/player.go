package models

import (
	"time"

	"github.com/google/uuid"
)

// Player represents a participant bound to a room.
type Player struct {
	ID         uuid.UUID `json:"id"`
	RoomID     uuid.UUID `json:"room_id"`
	Nickname   string    `json:"nickname"`
	Score      int       `json:"score"`
	IsHost     bool      `json:"is_host"`
	LastSeenAt time.Time `json:"last_seen_at"`
	JoinedAt   time.Time `json:"joined_at"`
}
