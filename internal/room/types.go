package room

import (
	"time"

	"github.com/google/uuid"
	"github.com/jdorel/blindtest/internal/models"
)

// CreateRoomRequest carries everything needed to insert a room row.
type CreateRoomRequest struct {
	ID       uuid.UUID
	Code     string
	HostID   uuid.UUID
	Settings models.RoomSettings
}

// CreatePlayerRequest carries everything needed to insert a player row.
type CreatePlayerRequest struct {
	ID       uuid.UUID
	RoomID   uuid.UUID
	Nickname string
	IsHost   bool
}

// UpdateRoomStateRequest is the host-only write of phase and song anchor.
// Nil pointers leave the corresponding column untouched.
type UpdateRoomStateRequest struct {
	Status               *models.RoomStatus
	Phase                *models.GamePhase
	CurrentSongID        *string
	CurrentSongStartedAt *time.Time
	ClearSong            bool
}
