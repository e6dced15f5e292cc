package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jdorel/blindtest/internal/models"
	"github.com/jdorel/blindtest/internal/roomcode"
	"github.com/rs/zerolog/log"
)

// DefaultCapacity is the player cap applied when settings carry none.
const DefaultCapacity = 10

// codeAttempts bounds collision retries during room creation.
const codeAttempts = 5

// reassignAttempts bounds compare-and-write retries during host handoff.
const reassignAttempts = 3

// RoomsRepository defines what the app layer needs from the repository.
type RoomsRepository interface {
	CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	DeleteRoom(ctx context.Context, id uuid.UUID) error
	UpdateRoomState(ctx context.Context, id uuid.UUID, req UpdateRoomStateRequest) (*models.Room, error)
	ReassignHost(ctx context.Context, roomID, oldHostID, newHostID uuid.UUID) (bool, error)
	CreatePlayer(ctx context.Context, req CreatePlayerRequest) (*models.Player, error)
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
	ListPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error)
	CountPlayers(ctx context.Context, roomID uuid.UUID) (int, error)
	DeletePlayer(ctx context.Context, id uuid.UUID) error
	TouchPlayer(ctx context.Context, id uuid.UUID) error
	AddScore(ctx context.Context, id uuid.UUID, delta int) (*models.Player, error)
	ResetScores(ctx context.Context, roomID uuid.UUID) error
	ResetGame(ctx context.Context, roomID uuid.UUID) error
	CreateBuzz(ctx context.Context, roomID, playerID uuid.UUID, songID string, buzzedAt time.Time) (*models.Buzz, error)
	ListBuzzes(ctx context.Context, roomID uuid.UUID, songID string) ([]models.Buzz, error)
	ResolveWinner(ctx context.Context, roomID uuid.UUID, songID string) (*models.Buzz, error)
	GetWinner(ctx context.Context, roomID uuid.UUID, songID string) (*models.Buzz, error)
	ClearBuzzes(ctx context.Context, roomID uuid.UUID) error
}

// App handles room business logic: creation, joining, presence writes.
type App struct {
	repo RoomsRepository
}

func NewApp(repo RoomsRepository) *App {
	return &App{repo: repo}
}

// CreateRoom generates a code, inserts the room and its host player.
// If the host insert fails the room row is compensatingly deleted so no
// orphan rooms are left behind.
func (a *App) CreateRoom(ctx context.Context, nickname string) (*models.Room, *models.Player, error) {
	nickname, err := normalizeNickname(nickname)
	if err != nil {
		return nil, nil, err
	}

	hostID := uuid.New()
	var rm *models.Room
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := roomcode.Generate()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate room code: %w", err)
		}
		rm, err = a.repo.CreateRoom(ctx, CreateRoomRequest{
			ID:       uuid.New(),
			Code:     code,
			HostID:   hostID,
			Settings: models.DefaultRoomSettings(),
		})
		if err != nil {
			if IsCodeCollision(err) {
				log.Debug().Str("code", code).Int("attempt", attempt+1).Msg("room code collision, retrying")
				continue
			}
			return nil, nil, err
		}
		break
	}
	if rm == nil {
		return nil, nil, ErrCodeGenerationExhausted
	}

	host, err := a.repo.CreatePlayer(ctx, CreatePlayerRequest{
		ID:       hostID,
		RoomID:   rm.ID,
		Nickname: nickname,
		IsHost:   true,
	})
	if err != nil {
		if delErr := a.repo.DeleteRoom(ctx, rm.ID); delErr != nil {
			log.Error().Err(delErr).Str("room_id", rm.ID.String()).Msg("failed to roll back orphan room")
		}
		return nil, nil, fmt.Errorf("failed to create host player: %w", err)
	}

	log.Info().Str("room_id", rm.ID.String()).Str("code", rm.Code).Msg("room created")
	return rm, host, nil
}

// JoinRoom validates the code and room state, then inserts a player.
func (a *App) JoinRoom(ctx context.Context, code, nickname string) (*models.Player, error) {
	nickname, err := normalizeNickname(nickname)
	if err != nil {
		return nil, err
	}
	code = roomcode.Normalize(code)
	if !roomcode.Valid(code) {
		return nil, ErrInvalidCode
	}

	rm, err := a.repo.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	switch rm.Status {
	case models.RoomStatusPlaying:
		return nil, ErrRoomInProgress
	case models.RoomStatusEnded:
		return nil, ErrRoomEnded
	}

	capacity := rm.Settings.MaxPlayers
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	count, err := a.repo.CountPlayers(ctx, rm.ID)
	if err != nil {
		return nil, err
	}
	if count >= capacity {
		return nil, ErrRoomFull
	}

	player, err := a.repo.CreatePlayer(ctx, CreatePlayerRequest{
		ID:       uuid.New(),
		RoomID:   rm.ID,
		Nickname: nickname,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("room_id", rm.ID.String()).Str("player_id", player.ID.String()).Msg("player joined")
	return player, nil
}

// Leave removes a player's own row. A leaving host first hands authority
// to the earliest-joined survivor; a room must never be left headless
// while players remain.
func (a *App) Leave(ctx context.Context, playerID uuid.UUID) error {
	p, err := a.repo.GetPlayer(ctx, playerID)
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return nil
		}
		return err
	}

	rm, err := a.repo.GetRoom(ctx, p.RoomID)
	switch {
	case errors.Is(err, ErrRoomNotFound):
		// Room already gone; just drop the row.
	case err != nil:
		return err
	case rm.HostID == playerID:
		if err := a.handOffHost(ctx, rm.ID, playerID); err != nil {
			return fmt.Errorf("failed to hand off host before leaving: %w", err)
		}
	}
	return a.repo.DeletePlayer(ctx, playerID)
}

// handOffHost moves authority to the earliest-joined survivor via
// read-then-compare-and-write, retried when a concurrent writer won.
func (a *App) handOffHost(ctx context.Context, roomID, leavingID uuid.UUID) error {
	players, err := a.repo.ListPlayers(ctx, roomID)
	if err != nil {
		return err
	}
	var successor *models.Player
	for i := range players {
		if players[i].ID == leavingID {
			continue
		}
		if successor == nil || players[i].JoinedAt.Before(successor.JoinedAt) {
			successor = &players[i]
		}
	}
	if successor == nil {
		// Sole player leaving; housekeeping owns the empty room.
		return nil
	}

	for attempt := 0; attempt < reassignAttempts; attempt++ {
		rm, err := a.repo.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if rm.HostID != leavingID {
			// Someone else already moved the host.
			return nil
		}
		ok, err := a.repo.ReassignHost(ctx, roomID, leavingID, successor.ID)
		if err != nil {
			return err
		}
		if ok {
			log.Info().
				Str("room_id", roomID.String()).
				Str("new_host_id", successor.ID.String()).
				Msg("host handed off on leave")
			return nil
		}
	}
	return fmt.Errorf("host compare-and-write lost %d times", reassignAttempts)
}

// Kick removes a player on the host's behalf. Self-kick is forbidden;
// the host steps down via Leave, which hands authority off first.
func (a *App) Kick(ctx context.Context, roomID, byPlayerID, targetID uuid.UUID) error {
	rm, err := a.repo.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if rm.HostID != byPlayerID {
		return ErrNotHost
	}
	if byPlayerID == targetID {
		return ErrSelfKick
	}
	target, err := a.repo.GetPlayer(ctx, targetID)
	if err != nil {
		return err
	}
	if target.RoomID != roomID {
		return ErrPlayerNotFound
	}
	return a.repo.DeletePlayer(ctx, targetID)
}

// Heartbeat refreshes the caller's last-seen timestamp.
func (a *App) Heartbeat(ctx context.Context, playerID uuid.UUID) error {
	return a.repo.TouchPlayer(ctx, playerID)
}

// GetRoomByCode looks up a room by its normalized code.
func (a *App) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	code = roomcode.Normalize(code)
	if !roomcode.Valid(code) {
		return nil, ErrInvalidCode
	}
	return a.repo.GetRoomByCode(ctx, code)
}

func normalizeNickname(nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || utf8.RuneCountInString(nickname) > 20 {
		return "", ErrInvalidNickname
	}
	return nickname, nil
}
