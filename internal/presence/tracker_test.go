package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jdorel/blindtest/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	room    models.Room
	players map[uuid.UUID]models.Player

	touched    []uuid.UUID
	deleted    []uuid.UUID
	casMisses  int
	reassigned []uuid.UUID
}

func newFakeStore(rm models.Room, players ...models.Player) *fakeStore {
	s := &fakeStore{room: rm, players: make(map[uuid.UUID]models.Player)}
	for _, p := range players {
		s.players[p.ID] = p
	}
	return s
}

func (s *fakeStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	rm := s.room
	return &rm, nil
}

func (s *fakeStore) ListPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error) {
	var out []models.Player
	for _, p := range s.players {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) DeletePlayer(ctx context.Context, id uuid.UUID) error {
	delete(s.players, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) TouchPlayer(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, id)
	return nil
}

func (s *fakeStore) touchedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.touched)
}

func (s *fakeStore) ReassignHost(ctx context.Context, roomID, oldHostID, newHostID uuid.UUID) (bool, error) {
	if s.casMisses > 0 {
		s.casMisses--
		return false, nil
	}
	if s.room.HostID != oldHostID {
		return false, nil
	}
	s.room.HostID = newHostID
	s.reassigned = append(s.reassigned, newHostID)
	if p, ok := s.players[newHostID]; ok {
		p.IsHost = true
		s.players[newHostID] = p
	}
	return true, nil
}

func TestRunHeartbeatTouchesOnEachTick(t *testing.T) {
	rm := models.Room{ID: uuid.New()}
	store := newFakeStore(rm)
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tracker := NewTracker(store, clock, Config{HeartbeatInterval: 20 * time.Second, GracePeriod: 75 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	playerID := uuid.New()
	go tracker.RunHeartbeat(ctx, playerID)

	clock.BlockUntil(1)
	clock.Advance(20 * time.Second)
	require.Eventually(t, func() bool { return store.touchedCount() >= 1 }, time.Second, time.Millisecond)

	clock.Advance(20 * time.Second)
	require.Eventually(t, func() bool { return store.touchedCount() >= 2 }, time.Second, time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, id := range store.touched {
		assert.Equal(t, playerID, id)
	}
}

func TestSweepEvictsStalePlayers(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rm := models.Room{ID: uuid.New()}
	host := models.Player{ID: uuid.New(), RoomID: rm.ID, Nickname: "host", IsHost: true, LastSeenAt: now, JoinedAt: now.Add(-time.Hour)}
	fresh := models.Player{ID: uuid.New(), RoomID: rm.ID, Nickname: "fresh", LastSeenAt: now, JoinedAt: now.Add(-30 * time.Minute)}
	stale := models.Player{ID: uuid.New(), RoomID: rm.ID, Nickname: "stale", LastSeenAt: now.Add(-2 * time.Minute), JoinedAt: now.Add(-20 * time.Minute)}
	rm.HostID = host.ID

	store := newFakeStore(rm, host, fresh, stale)
	clock := clockwork.NewFakeClockAt(now)
	tracker := NewTracker(store, clock, DefaultConfig())

	evicted, err := tracker.SweepRoom(context.Background(), rm.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, []uuid.UUID{stale.ID}, store.deleted)
}

func TestSweepWithinGraceDoesNothing(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rm := models.Room{ID: uuid.New()}
	a := models.Player{ID: uuid.New(), RoomID: rm.ID, LastSeenAt: now.Add(-time.Minute), JoinedAt: now}
	b := models.Player{ID: uuid.New(), RoomID: rm.ID, LastSeenAt: now.Add(-70 * time.Second), JoinedAt: now}

	store := newFakeStore(rm, a, b)
	tracker := NewTracker(store, clockwork.NewFakeClockAt(now), DefaultConfig())

	evicted, err := tracker.SweepRoom(context.Background(), rm.ID)
	require.NoError(t, err)
	assert.Zero(t, evicted)
	assert.Empty(t, store.deleted)
}

func TestSweepNeverEvictsSoleRemainingPlayer(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rm := models.Room{ID: uuid.New()}
	lone := models.Player{ID: uuid.New(), RoomID: rm.ID, LastSeenAt: now.Add(-time.Hour), JoinedAt: now.Add(-2 * time.Hour)}
	rm.HostID = lone.ID

	store := newFakeStore(rm, lone)
	tracker := NewTracker(store, clockwork.NewFakeClockAt(now), DefaultConfig())

	evicted, err := tracker.SweepRoom(context.Background(), rm.ID)
	require.NoError(t, err)
	assert.Zero(t, evicted)
	assert.Contains(t, store.players, lone.ID)
}

func TestSweepHandsHostToEarliestJoinedSurvivor(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rm := models.Room{ID: uuid.New()}
	host := models.Player{ID: uuid.New(), RoomID: rm.ID, Nickname: "host", IsHost: true, LastSeenAt: now.Add(-time.Hour), JoinedAt: now.Add(-3 * time.Hour)}
	second := models.Player{ID: uuid.New(), RoomID: rm.ID, Nickname: "second", LastSeenAt: now, JoinedAt: now.Add(-2 * time.Hour)}
	third := models.Player{ID: uuid.New(), RoomID: rm.ID, Nickname: "third", LastSeenAt: now, JoinedAt: now.Add(-time.Hour)}
	rm.HostID = host.ID

	store := newFakeStore(rm, host, second, third)
	tracker := NewTracker(store, clockwork.NewFakeClockAt(now), DefaultConfig())

	evicted, err := tracker.SweepRoom(context.Background(), rm.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, second.ID, store.room.HostID, "earliest-joined survivor takes over")
	assert.NotContains(t, store.players, host.ID)
}

func TestSweepRetriesLostCompareAndWrite(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rm := models.Room{ID: uuid.New()}
	host := models.Player{ID: uuid.New(), RoomID: rm.ID, IsHost: true, LastSeenAt: now.Add(-time.Hour), JoinedAt: now.Add(-3 * time.Hour)}
	other := models.Player{ID: uuid.New(), RoomID: rm.ID, LastSeenAt: now, JoinedAt: now.Add(-time.Hour)}
	rm.HostID = host.ID

	store := newFakeStore(rm, host, other)
	store.casMisses = 2
	tracker := NewTracker(store, clockwork.NewFakeClockAt(now), Config{GracePeriod: 75 * time.Second, ReassignAttempts: 3})

	evicted, err := tracker.SweepRoom(context.Background(), rm.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, other.ID, store.room.HostID)
}
