package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jdorel/blindtest/internal/models"
	"github.com/jdorel/blindtest/internal/sqlutil"
)

const uniqueViolation = "23505"

// Repository maps rooms/players/buzzes rows to domain entities.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const roomColumns = `id, code, host_id, status, phase, settings,
	current_song_id, current_song_started_at, created_at, updated_at`

func (r *Repository) CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Room, error) {
	settingsBytes, err := json.Marshal(req.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal room settings: %w", err)
	}

	query := `
		INSERT INTO rooms (id, code, host_id, status, phase, settings)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + roomColumns
	row := r.db.QueryRow(ctx, query,
		req.ID, req.Code, req.HostID, models.RoomStatusWaiting, models.PhaseWaiting, settingsBytes)

	rm, err := scanRoom(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return rm, nil
}

// IsCodeCollision reports whether err is a unique violation on the room code.
func IsCodeCollision(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *Repository) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	row := r.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id)
	rm, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return rm, nil
}

func (r *Repository) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	row := r.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE code = $1`, code)
	rm, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room by code: %w", err)
	}
	return rm, nil
}

func (r *Repository) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

// UpdateRoomState applies the host's phase/anchor write. Untouched fields
// keep their current value via COALESCE; ClearSong nulls the song columns.
func (r *Repository) UpdateRoomState(ctx context.Context, id uuid.UUID, req UpdateRoomStateRequest) (*models.Room, error) {
	query := `
		UPDATE rooms
		SET status = COALESCE($2, status),
		    phase = COALESCE($3, phase),
		    current_song_id = CASE WHEN $6 THEN NULL ELSE COALESCE($4, current_song_id) END,
		    current_song_started_at = CASE WHEN $6 THEN NULL ELSE COALESCE($5, current_song_started_at) END,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + roomColumns
	row := r.db.QueryRow(ctx, query,
		id, req.Status, req.Phase, req.CurrentSongID, req.CurrentSongStartedAt, req.ClearSong)

	rm, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to update room state: %w", err)
	}
	return rm, nil
}

// ReassignHost is a compare-and-write: it only succeeds if the host is still
// the one the caller observed. Returns false when the guard lost the race.
// The host_id move and the is_host flag sync must never diverge, so both
// writes share a transaction.
func (r *Repository) ReassignHost(ctx context.Context, roomID, oldHostID, newHostID uuid.UUID) (bool, error) {
	reassigned := false
	err := sqlutil.Run(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE rooms SET host_id = $3, updated_at = now()
			WHERE id = $1 AND host_id = $2`,
			roomID, oldHostID, newHostID)
		if err != nil {
			return fmt.Errorf("failed to reassign host: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			UPDATE players SET is_host = (id = $2) WHERE room_id = $1`,
			roomID, newHostID); err != nil {
			return fmt.Errorf("failed to update host flags: %w", err)
		}
		reassigned = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return reassigned, nil
}

func (r *Repository) CreatePlayer(ctx context.Context, req CreatePlayerRequest) (*models.Player, error) {
	query := `
		INSERT INTO players (id, room_id, nickname, is_host)
		VALUES ($1, $2, $3, $4)
		RETURNING id, room_id, nickname, score, is_host, last_seen_at, joined_at`
	row := r.db.QueryRow(ctx, query, req.ID, req.RoomID, req.Nickname, req.IsHost)

	p, err := scanPlayer(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}
	return p, nil
}

func (r *Repository) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, room_id, nickname, score, is_host, last_seen_at, joined_at
		FROM players WHERE id = $1`, id)
	p, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return p, nil
}

// ListPlayers returns a room's players ordered by join time, earliest first.
func (r *Repository) ListPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, room_id, nickname, score, is_host, last_seen_at, joined_at
		FROM players WHERE room_id = $1
		ORDER BY joined_at ASC, id ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func (r *Repository) CountPlayers(ctx context.Context, roomID uuid.UUID) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM players WHERE room_id = $1`, roomID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count players: %w", err)
	}
	return n, nil
}

func (r *Repository) DeletePlayer(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM players WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete player: %w", err)
	}
	return nil
}

// TouchPlayer refreshes a player's heartbeat.
func (r *Repository) TouchPlayer(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE players SET last_seen_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// AddScore increments a player's score, clamped at zero from below.
func (r *Repository) AddScore(ctx context.Context, id uuid.UUID, delta int) (*models.Player, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE players SET score = GREATEST(score + $2, 0)
		WHERE id = $1
		RETURNING id, room_id, nickname, score, is_host, last_seen_at, joined_at`,
		id, delta)
	p, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to add score: %w", err)
	}
	return p, nil
}

func (r *Repository) ResetScores(ctx context.Context, roomID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `UPDATE players SET score = 0 WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("failed to reset scores: %w", err)
	}
	return nil
}

func (r *Repository) CreateBuzz(ctx context.Context, roomID, playerID uuid.UUID, songID string, buzzedAt time.Time) (*models.Buzz, error) {
	query := `
		INSERT INTO buzzes (id, room_id, player_id, song_id, buzzed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, seq, room_id, player_id, song_id, buzzed_at, is_winner`
	row := r.db.QueryRow(ctx, query, uuid.New(), roomID, playerID, songID, buzzedAt)

	b, err := scanBuzz(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create buzz: %w", err)
	}
	return b, nil
}

// ListBuzzes returns a round's buzzes in commit order.
func (r *Repository) ListBuzzes(ctx context.Context, roomID uuid.UUID, songID string) ([]models.Buzz, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, seq, room_id, player_id, song_id, buzzed_at, is_winner
		FROM buzzes WHERE room_id = $1 AND song_id = $2
		ORDER BY seq ASC`, roomID, songID)
	if err != nil {
		return nil, fmt.Errorf("failed to list buzzes: %w", err)
	}
	defer rows.Close()

	var buzzes []models.Buzz
	for rows.Next() {
		b, err := scanBuzz(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan buzz: %w", err)
		}
		buzzes = append(buzzes, *b)
	}
	return buzzes, rows.Err()
}

// ResolveWinner marks the first-committed buzz of the round as winner.
// The NOT EXISTS guard makes the statement idempotent: once a winner row
// exists for (room, song) no later call changes it, regardless of
// client-claimed timestamps.
func (r *Repository) ResolveWinner(ctx context.Context, roomID uuid.UUID, songID string) (*models.Buzz, error) {
	query := `
		UPDATE buzzes SET is_winner = TRUE
		WHERE id = (
			SELECT id FROM buzzes
			WHERE room_id = $1 AND song_id = $2
			ORDER BY seq ASC LIMIT 1
		)
		AND NOT EXISTS (
			SELECT 1 FROM buzzes
			WHERE room_id = $1 AND song_id = $2 AND is_winner
		)
		RETURNING id, seq, room_id, player_id, song_id, buzzed_at, is_winner`
	row := r.db.QueryRow(ctx, query, roomID, songID)

	b, err := scanBuzz(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either no buzzes yet or a winner was already resolved.
			return r.GetWinner(ctx, roomID, songID)
		}
		return nil, fmt.Errorf("failed to resolve winner: %w", err)
	}
	return b, nil
}

// GetWinner returns the resolved winner of a round, or nil if none yet.
func (r *Repository) GetWinner(ctx context.Context, roomID uuid.UUID, songID string) (*models.Buzz, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, seq, room_id, player_id, song_id, buzzed_at, is_winner
		FROM buzzes WHERE room_id = $1 AND song_id = $2 AND is_winner`, roomID, songID)
	b, err := scanBuzz(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get winner: %w", err)
	}
	return b, nil
}

func (r *Repository) ClearBuzzes(ctx context.Context, roomID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM buzzes WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("failed to clear buzzes: %w", err)
	}
	return nil
}

// ResetGame atomically clears scores and buzzes for a restart. Partial
// resets must never be observable, so both writes share a transaction.
func (r *Repository) ResetGame(ctx context.Context, roomID uuid.UUID) error {
	return sqlutil.Run(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE players SET score = 0 WHERE room_id = $1`, roomID); err != nil {
			return fmt.Errorf("failed to reset scores: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM buzzes WHERE room_id = $1`, roomID); err != nil {
			return fmt.Errorf("failed to clear buzzes: %w", err)
		}
		return nil
	})
}

// ListActiveRoomIDs returns ids of rooms that still have players, for the
// presence sweep.
func (r *Repository) ListActiveRoomIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT room_id FROM players`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rooms: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan room id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteIdleEmptyRooms removes rooms with no players older than cutoff.
func (r *Repository) DeleteIdleEmptyRooms(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM rooms
		WHERE created_at < $1
		AND NOT EXISTS (SELECT 1 FROM players WHERE players.room_id = rooms.id)`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete empty rooms: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteEndedRooms removes ended rooms older than cutoff.
func (r *Repository) DeleteEndedRooms(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM rooms WHERE status = $1 AND updated_at < $2`,
		models.RoomStatusEnded, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete ended rooms: %w", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*models.Room, error) {
	var (
		rm            models.Room
		settingsBytes []byte
	)
	if err := row.Scan(
		&rm.ID, &rm.Code, &rm.HostID, &rm.Status, &rm.Phase, &settingsBytes,
		&rm.CurrentSongID, &rm.CurrentSongStartedAt, &rm.CreatedAt, &rm.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(settingsBytes, &rm.Settings); err != nil {
		rm.Settings = models.DefaultRoomSettings()
	}
	return &rm, nil
}

func scanPlayer(row rowScanner) (*models.Player, error) {
	var p models.Player
	if err := row.Scan(
		&p.ID, &p.RoomID, &p.Nickname, &p.Score, &p.IsHost, &p.LastSeenAt, &p.JoinedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanBuzz(row rowScanner) (*models.Buzz, error) {
	var b models.Buzz
	if err := row.Scan(
		&b.ID, &b.Seq, &b.RoomID, &b.PlayerID, &b.SongID, &b.BuzzedAt, &b.IsWinner,
	); err != nil {
		return nil, err
	}
	return &b, nil
}
