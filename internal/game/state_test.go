package game

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jdorel/blindtest/internal/feed"
	"github.com/jdorel/blindtest/internal/models"
	"github.com/jdorel/blindtest/internal/playback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoom() models.Room {
	return models.Room{
		ID:       uuid.New(),
		Code:     "ABC234",
		HostID:   uuid.New(),
		Status:   models.RoomStatusWaiting,
		Phase:    models.PhaseWaiting,
		Settings: models.DefaultRoomSettings(),
	}
}

func roomEvent(t *testing.T, rm models.Room, op feed.Op) feed.Event {
	t.Helper()
	row, err := json.Marshal(rm)
	require.NoError(t, err)
	return feed.Event{Table: feed.TableRooms, Op: op, RoomID: rm.ID, Row: row}
}

func playerEvent(t *testing.T, p models.Player, op feed.Op) feed.Event {
	t.Helper()
	row, err := json.Marshal(p)
	require.NoError(t, err)
	return feed.Event{Table: feed.TablePlayers, Op: op, RoomID: p.RoomID, Row: row}
}

func TestApplyRoomChangeNewAnchorEmitsArmAndLoad(t *testing.T) {
	s := NewState()
	rm := testRoom()
	s.Hydrate(&rm, nil)

	playing := rm
	playing.Status = models.RoomStatusPlaying
	playing.Phase = models.PhasePlaying
	songID := "song-1"
	anchor := time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC)
	playing.CurrentSongID = &songID
	playing.CurrentSongStartedAt = &anchor

	cmds := s.ApplyRoomChange(roomEvent(t, playing, feed.OpUpdate))

	require.Len(t, cmds, 2)
	arm, ok := cmds[0].(CmdArmRound)
	require.True(t, ok)
	assert.Equal(t, "song-1", arm.SongID)

	load, ok := cmds[1].(CmdLoadSong)
	require.True(t, ok)
	assert.Equal(t, "song-1", load.SongID)
	assert.Equal(t, anchor, load.Anchor)
	assert.Equal(t, 20*time.Second, load.ClipDur)
}

func TestApplyRoomChangeSameEventTwiceIsIdempotent(t *testing.T) {
	s := NewState()
	rm := testRoom()
	s.Hydrate(&rm, nil)

	playing := rm
	playing.Phase = models.PhasePlaying
	songID := "song-1"
	anchor := time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC)
	playing.CurrentSongID = &songID
	playing.CurrentSongStartedAt = &anchor

	ev := roomEvent(t, playing, feed.OpUpdate)
	first := s.ApplyRoomChange(ev)
	second := s.ApplyRoomChange(ev)

	assert.NotEmpty(t, first)
	assert.Empty(t, second, "redelivered event must not re-trigger audio")
}

func TestApplyRoomChangePhaseCommands(t *testing.T) {
	cases := []struct {
		phase models.GamePhase
		want  []Command
	}{
		{models.PhaseBuzzed, []Command{CmdStopAudio{}, CmdStopTimer{}}},
		{models.PhasePaused, []Command{CmdStopAudio{}, CmdStopTimer{}}},
		{models.PhaseTimer, []Command{CmdStartTimer{Duration: 30 * time.Second}}},
		{models.PhaseReveal, []Command{CmdStopTimer{}}},
		{models.PhaseEnded, []Command{CmdStopTimer{}}},
	}

	for _, tc := range cases {
		t.Run(string(tc.phase), func(t *testing.T) {
			s := NewState()
			rm := testRoom()
			rm.Phase = models.PhasePlaying
			s.Hydrate(&rm, nil)

			next := rm
			next.Phase = tc.phase
			cmds := s.ApplyRoomChange(roomEvent(t, next, feed.OpUpdate))
			assert.Equal(t, tc.want, cmds)
		})
	}
}

func TestApplyRoomChangeDeleteStopsEverything(t *testing.T) {
	s := NewState()
	rm := testRoom()
	s.Hydrate(&rm, nil)

	cmds := s.ApplyRoomChange(feed.Event{Table: feed.TableRooms, Op: feed.OpDelete, RoomID: rm.ID})

	assert.Equal(t, []Command{CmdStopAudio{}, CmdStopTimer{}}, cmds)
	assert.Nil(t, s.Room)
}

func TestLastActivePhaseSurvivesPause(t *testing.T) {
	s := NewState()
	rm := testRoom()
	rm.Phase = models.PhaseTimer
	s.Hydrate(&rm, nil)

	paused := rm
	paused.Phase = models.PhasePaused
	s.ApplyRoomChange(roomEvent(t, paused, feed.OpUpdate))

	assert.Equal(t, models.PhaseTimer, s.LastActivePhase())
}

func TestApplyPlayerChangeMergeAndDelete(t *testing.T) {
	s := NewState()
	rm := testRoom()
	s.Hydrate(&rm, nil)

	p := models.Player{ID: uuid.New(), RoomID: rm.ID, Nickname: "alice", Score: 0}
	s.ApplyPlayerChange(playerEvent(t, p, feed.OpInsert))
	require.Len(t, s.Players, 1)

	p.Score = 3
	s.ApplyPlayerChange(playerEvent(t, p, feed.OpUpdate))
	assert.Equal(t, 3, s.Players[p.ID].Score)

	// Duplicate insert for a known id merges instead of erroring.
	s.ApplyPlayerChange(playerEvent(t, p, feed.OpInsert))
	require.Len(t, s.Players, 1)

	s.ApplyPlayerChange(playerEvent(t, p, feed.OpDelete))
	assert.Empty(t, s.Players)
}

func TestPlayersByJoinOrder(t *testing.T) {
	s := NewState()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	early := models.Player{ID: uuid.New(), Nickname: "early", JoinedAt: base}
	late := models.Player{ID: uuid.New(), Nickname: "late", JoinedAt: base.Add(time.Minute)}
	s.Hydrate(nil, []models.Player{late, early})

	players := s.PlayersByJoin()
	require.Len(t, players, 2)
	assert.Equal(t, "early", players[0].Nickname)
	assert.Equal(t, "late", players[1].Nickname)
}

func TestPlanForMidRoundJoiner(t *testing.T) {
	s := NewState()
	rm := testRoom()
	songID := "song-1"
	anchor := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rm.CurrentSongID = &songID
	rm.CurrentSongStartedAt = &anchor
	s.Hydrate(&rm, nil)

	plan, ok := s.PlanFor(anchor.Add(5 * time.Second))
	require.True(t, ok)
	assert.Equal(t, playback.ActionPlay, plan.Action)
	assert.InDelta(t, 5.0, plan.SeekSec, 1e-9)

	// No song, no plan.
	s2 := NewState()
	bare := testRoom()
	s2.Hydrate(&bare, nil)
	_, ok = s2.PlanFor(anchor)
	assert.False(t, ok)
}
