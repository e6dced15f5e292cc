package housekeeping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	emptyCutoff time.Time
	endedCutoff time.Time
	emptyErr    error

	emptyDeleted int64
	endedDeleted int64
}

func (s *fakeStore) DeleteIdleEmptyRooms(ctx context.Context, cutoff time.Time) (int64, error) {
	s.emptyCutoff = cutoff
	return s.emptyDeleted, s.emptyErr
}

func (s *fakeStore) DeleteEndedRooms(ctx context.Context, cutoff time.Time) (int64, error) {
	s.endedCutoff = cutoff
	return s.endedDeleted, nil
}

func TestCleanOnceUsesConfiguredCutoffs(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	store := &fakeStore{emptyDeleted: 2, endedDeleted: 1}

	cleaner := NewCleaner(store, clock, Config{
		Interval:   10 * time.Minute,
		EmptyAfter: time.Hour,
		EndedAfter: 24 * time.Hour,
	})

	require.NoError(t, cleaner.CleanOnce(context.Background()))
	assert.Equal(t, now.Add(-time.Hour), store.emptyCutoff)
	assert.Equal(t, now.Add(-24*time.Hour), store.endedCutoff)
}

func TestCleanOnceSurfacesStoreError(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := &fakeStore{emptyErr: errors.New("db down")}
	cleaner := NewCleaner(store, clock, DefaultConfig())

	err := cleaner.CleanOnce(context.Background())
	assert.Error(t, err)
}
