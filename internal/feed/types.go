// Package feed carries row-level change events from the shared store to
// every connected client. Postgres triggers append each rooms/players/buzzes
// mutation to a feed log and NOTIFY the relay, which publishes the row image
// to a per-room NATS subject. Delivery is at-least-once; consumers must
// merge idempotently.
package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jdorel/blindtest/internal/models"
)

// Table identifies which store table a change event belongs to.
type Table string

const (
	TableRooms   Table = "rooms"
	TablePlayers Table = "players"
	TableBuzzes  Table = "buzzes"
)

// Op is the row-level operation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event is the wire envelope for one row change. Row holds the full row
// image (the old image for deletes). Unknown extra fields in Row are
// tolerated for forward compatibility.
type Event struct {
	Seq    int64           `json:"seq"`
	Table  Table           `json:"table"`
	Op     Op              `json:"op"`
	RoomID uuid.UUID       `json:"room_id"`
	Row    json.RawMessage `json:"row"`
	At     time.Time       `json:"at"`
}

// DecodeRoom parses the event row as a room. Events for other tables or
// malformed payloads return an error; callers log and drop them rather
// than propagate untyped data into the state machine.
func DecodeRoom(ev Event) (*models.Room, error) {
	if ev.Table != TableRooms {
		return nil, fmt.Errorf("event is for table %q, not rooms", ev.Table)
	}
	var rm models.Room
	if err := json.Unmarshal(ev.Row, &rm); err != nil {
		return nil, fmt.Errorf("failed to decode room row: %w", err)
	}
	if rm.ID == uuid.Nil {
		return nil, fmt.Errorf("room row missing id")
	}
	return &rm, nil
}

// DecodePlayer parses the event row as a player.
func DecodePlayer(ev Event) (*models.Player, error) {
	if ev.Table != TablePlayers {
		return nil, fmt.Errorf("event is for table %q, not players", ev.Table)
	}
	var p models.Player
	if err := json.Unmarshal(ev.Row, &p); err != nil {
		return nil, fmt.Errorf("failed to decode player row: %w", err)
	}
	if p.ID == uuid.Nil {
		return nil, fmt.Errorf("player row missing id")
	}
	return &p, nil
}

// DecodeBuzz parses the event row as a buzz.
func DecodeBuzz(ev Event) (*models.Buzz, error) {
	if ev.Table != TableBuzzes {
		return nil, fmt.Errorf("event is for table %q, not buzzes", ev.Table)
	}
	var b models.Buzz
	if err := json.Unmarshal(ev.Row, &b); err != nil {
		return nil, fmt.Errorf("failed to decode buzz row: %w", err)
	}
	if b.ID == uuid.Nil {
		return nil, fmt.Errorf("buzz row missing id")
	}
	return &b, nil
}

// Subject returns the NATS subject a room's events are published on.
func Subject(roomID uuid.UUID) string {
	return fmt.Sprintf("room.feed.%s", roomID)
}
