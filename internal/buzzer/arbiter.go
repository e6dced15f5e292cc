// Package buzzer resolves concurrent buzz attempts into exactly one winner
// per round. The store's commit order (buzzes.seq) is authoritative;
// client-claimed timestamps are display-only and cannot win a race through
// clock skew.
package buzzer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jdorel/blindtest/internal/feed"
	"github.com/jdorel/blindtest/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Store is what the arbiter needs from the room repository.
type Store interface {
	CreateBuzz(ctx context.Context, roomID, playerID uuid.UUID, songID string, buzzedAt time.Time) (*models.Buzz, error)
	ResolveWinner(ctx context.Context, roomID uuid.UUID, songID string) (*models.Buzz, error)
}

// Arbiter tracks one room's current round and decides the buzz winner.
// Per round the state goes Armed -> Won; arming the next song resets it.
type Arbiter struct {
	store Store
	clock clockwork.Clock

	mu     sync.Mutex
	roomID uuid.UUID
	songID string
	buzzes map[uuid.UUID]models.Buzz
	winner *models.Buzz
}

func NewArbiter(roomID uuid.UUID, store Store, clock clockwork.Clock) *Arbiter {
	return &Arbiter{
		store:  store,
		clock:  clock,
		roomID: roomID,
		buzzes: make(map[uuid.UUID]models.Buzz),
	}
}

// SubmitBuzz inserts a buzz row for the current round and asks the store to
// resolve the winner. The returned buzz reflects the submission, not
// necessarily the win: the committed order decides that.
func (a *Arbiter) SubmitBuzz(ctx context.Context, playerID uuid.UUID, songID string) (*models.Buzz, error) {
	if err := a.ValidateRound(songID); err != nil {
		return nil, err
	}

	b, err := a.store.CreateBuzz(ctx, a.roomID, playerID, songID, a.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to submit buzz: %w", err)
	}

	// First-committed-wins; the statement is idempotent, so every racing
	// client can call it and the outcome is identical.
	if _, err := a.store.ResolveWinner(ctx, a.roomID, songID); err != nil {
		log.Error().Err(err).Str("room_id", a.roomID.String()).Msg("failed to resolve buzz winner")
	}
	return b, nil
}

// ArmRound resets the arbiter for a new song. Buzzes for any previous song
// are discarded; late events for them will be ignored as stale.
func (a *Arbiter) ArmRound(songID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.songID == songID {
		return
	}
	a.songID = songID
	a.buzzes = make(map[uuid.UUID]models.Buzz)
	a.winner = nil
}

// Armed reports whether the round can still be won.
func (a *Arbiter) Armed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.songID != "" && a.winner == nil
}

// ApplyBuzzChange merges one buzz feed event. Duplicate deliveries and
// buzzes for a stale song are no-ops. Once a winner is recorded it never
// changes, even if a later event claims an earlier timestamp.
func (a *Arbiter) ApplyBuzzChange(ev feed.Event) {
	if ev.Op == feed.OpDelete {
		a.applyDelete(ev)
		return
	}

	b, err := feed.DecodeBuzz(ev)
	if err != nil {
		log.Error().Err(err).Msg("dropping malformed buzz event")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if b.RoomID != a.roomID || b.SongID != a.songID {
		// Stale round: a client buzzed after the host advanced.
		return
	}

	a.buzzes[b.ID] = *b

	if b.IsWinner && a.winner == nil {
		w := *b
		a.winner = &w
	}
}

func (a *Arbiter) applyDelete(ev feed.Event) {
	b, err := feed.DecodeBuzz(ev)
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	// Round reset: the host cleared buzzes. Winner stability only holds
	// within a round, so a delete of the winner row rearms.
	if a.winner != nil && a.winner.ID == b.ID {
		a.winner = nil
	}
	delete(a.buzzes, b.ID)
}

// CurrentWinner returns the resolved winner's player id, or nil while armed.
func (a *Arbiter) CurrentWinner() *models.Buzz {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.winner == nil {
		return nil
	}
	w := *a.winner
	return &w
}

// OtherBuzzers returns the round's non-winning buzzes in commit order.
func (a *Arbiter) OtherBuzzers() []models.Buzz {
	a.mu.Lock()
	defer a.mu.Unlock()

	others := make([]models.Buzz, 0, len(a.buzzes))
	for _, b := range a.buzzes {
		if a.winner != nil && b.ID == a.winner.ID {
			continue
		}
		others = append(others, b)
	}
	sort.Slice(others, func(i, j int) bool { return others[i].Seq < others[j].Seq })
	return others
}

// SongID returns the round the arbiter is armed for.
func (a *Arbiter) SongID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.songID
}

// ValidateRound guards submissions against stale rounds before they hit the
// store.
func (a *Arbiter) ValidateRound(songID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if songID != a.songID {
		return fmt.Errorf("buzz for stale song %q, current round is %q", songID, a.songID)
	}
	return nil
}
