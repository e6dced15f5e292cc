package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jdorel/blindtest/internal/feed"
	"github.com/jdorel/blindtest/internal/models"
	"github.com/jdorel/blindtest/internal/room"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo is an in-memory room.RoomsRepository for handler tests.
type fakeRepo struct {
	rooms   map[uuid.UUID]*models.Room
	players map[uuid.UUID]*models.Player
	buzzes  []models.Buzz
	seq     int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rooms:   make(map[uuid.UUID]*models.Room),
		players: make(map[uuid.UUID]*models.Player),
	}
}

func (r *fakeRepo) CreateRoom(ctx context.Context, req room.CreateRoomRequest) (*models.Room, error) {
	rm := &models.Room{
		ID:       req.ID,
		Code:     req.Code,
		HostID:   req.HostID,
		Status:   models.RoomStatusWaiting,
		Phase:    models.PhaseWaiting,
		Settings: req.Settings,
	}
	r.rooms[rm.ID] = rm
	return rm, nil
}

func (r *fakeRepo) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	rm, ok := r.rooms[id]
	if !ok {
		return nil, room.ErrRoomNotFound
	}
	return rm, nil
}

func (r *fakeRepo) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	for _, rm := range r.rooms {
		if rm.Code == code {
			return rm, nil
		}
	}
	return nil, room.ErrRoomNotFound
}

func (r *fakeRepo) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	delete(r.rooms, id)
	return nil
}

func (r *fakeRepo) UpdateRoomState(ctx context.Context, id uuid.UUID, req room.UpdateRoomStateRequest) (*models.Room, error) {
	return r.GetRoom(ctx, id)
}

func (r *fakeRepo) ReassignHost(ctx context.Context, roomID, oldHostID, newHostID uuid.UUID) (bool, error) {
	return true, nil
}

func (r *fakeRepo) CreatePlayer(ctx context.Context, req room.CreatePlayerRequest) (*models.Player, error) {
	p := &models.Player{ID: req.ID, RoomID: req.RoomID, Nickname: req.Nickname, IsHost: req.IsHost, JoinedAt: time.Now()}
	r.players[p.ID] = p
	return p, nil
}

func (r *fakeRepo) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	p, ok := r.players[id]
	if !ok {
		return nil, room.ErrPlayerNotFound
	}
	return p, nil
}

func (r *fakeRepo) ListPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error) {
	var out []models.Player
	for _, p := range r.players {
		if p.RoomID == roomID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *fakeRepo) CountPlayers(ctx context.Context, roomID uuid.UUID) (int, error) {
	players, _ := r.ListPlayers(ctx, roomID)
	return len(players), nil
}

func (r *fakeRepo) DeletePlayer(ctx context.Context, id uuid.UUID) error {
	delete(r.players, id)
	return nil
}

func (r *fakeRepo) TouchPlayer(ctx context.Context, id uuid.UUID) error { return nil }

func (r *fakeRepo) AddScore(ctx context.Context, id uuid.UUID, delta int) (*models.Player, error) {
	p, ok := r.players[id]
	if !ok {
		return nil, room.ErrPlayerNotFound
	}
	p.Score += delta
	return p, nil
}

func (r *fakeRepo) ResetScores(ctx context.Context, roomID uuid.UUID) error { return nil }
func (r *fakeRepo) ResetGame(ctx context.Context, roomID uuid.UUID) error   { return nil }

func (r *fakeRepo) CreateBuzz(ctx context.Context, roomID, playerID uuid.UUID, songID string, buzzedAt time.Time) (*models.Buzz, error) {
	r.seq++
	b := models.Buzz{ID: uuid.New(), Seq: r.seq, RoomID: roomID, PlayerID: playerID, SongID: songID, BuzzedAt: buzzedAt}
	r.buzzes = append(r.buzzes, b)
	return &b, nil
}

func (r *fakeRepo) ListBuzzes(ctx context.Context, roomID uuid.UUID, songID string) ([]models.Buzz, error) {
	return r.buzzes, nil
}

func (r *fakeRepo) ResolveWinner(ctx context.Context, roomID uuid.UUID, songID string) (*models.Buzz, error) {
	for i := range r.buzzes {
		b := &r.buzzes[i]
		if b.RoomID == roomID && b.SongID == songID {
			b.IsWinner = true
			w := *b
			return &w, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) GetWinner(ctx context.Context, roomID uuid.UUID, songID string) (*models.Buzz, error) {
	for _, b := range r.buzzes {
		if b.RoomID == roomID && b.SongID == songID && b.IsWinner {
			w := b
			return &w, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) ClearBuzzes(ctx context.Context, roomID uuid.UUID) error { return nil }

type fakeSubscriber struct{}

func (fakeSubscriber) Subscribe(ctx context.Context, roomID uuid.UUID, handlers feed.Handlers) (*feed.Subscription, error) {
	return &feed.Subscription{}, nil
}

func newTestService() (*Service, *fakeRepo) {
	repo := newFakeRepo()
	app := room.NewApp(repo)
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewService(app, repo, fakeSubscriber{}, DefaultConnectionConfig(), clock), repo
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestCreateAndJoinRoom(t *testing.T) {
	svc, _ := newTestService()
	router := svc.Router()

	w := doJSON(t, router, http.MethodPost, "/api/rooms", createRoomRequest{Nickname: "alice"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created roomResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.True(t, created.Player.IsHost)
	assert.Len(t, created.Room.Code, 6)

	w = doJSON(t, router, http.MethodPost, "/api/rooms/"+created.Room.Code+"/join", joinRoomRequest{Nickname: "bob"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var joined roomResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&joined))
	assert.Equal(t, created.Room.ID, joined.Player.RoomID)
	assert.False(t, joined.Player.IsHost)
}

func TestJoinUnknownRoomIs404(t *testing.T) {
	svc, _ := newTestService()
	w := doJSON(t, svc.Router(), http.MethodPost, "/api/rooms/ZZZZZZ/join", joinRoomRequest{Nickname: "bob"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJoinPlayingRoomIs409(t *testing.T) {
	svc, repo := newTestService()
	router := svc.Router()

	w := doJSON(t, router, http.MethodPost, "/api/rooms", createRoomRequest{Nickname: "alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created roomResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))

	repo.rooms[created.Room.ID].Status = models.RoomStatusPlaying
	w = doJSON(t, router, http.MethodPost, "/api/rooms/"+created.Room.Code+"/join", joinRoomRequest{Nickname: "bob"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestInvalidNicknameIs400(t *testing.T) {
	svc, _ := newTestService()
	w := doJSON(t, svc.Router(), http.MethodPost, "/api/rooms", createRoomRequest{Nickname: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSnapshotIncludesPlayersAndWinner(t *testing.T) {
	svc, repo := newTestService()
	router := svc.Router()

	w := doJSON(t, router, http.MethodPost, "/api/rooms", createRoomRequest{Nickname: "alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created roomResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))

	songID := "song-1"
	repo.rooms[created.Room.ID].CurrentSongID = &songID
	_, err := repo.CreateBuzz(context.Background(), created.Room.ID, created.Player.ID, songID, time.Now())
	require.NoError(t, err)
	_, err = repo.ResolveWinner(context.Background(), created.Room.ID, songID)
	require.NoError(t, err)

	w = doJSON(t, router, http.MethodGet, "/api/rooms/"+created.Room.Code, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap snapshotResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Len(t, snap.Players, 1)
	require.NotNil(t, snap.Winner)
	assert.Equal(t, created.Player.ID, snap.Winner.PlayerID)
}

func TestBuzzResolvesWinner(t *testing.T) {
	svc, _ := newTestService()
	router := svc.Router()

	w := doJSON(t, router, http.MethodPost, "/api/rooms", createRoomRequest{Nickname: "alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created roomResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))

	w = doJSON(t, router, http.MethodPost, "/api/rooms/"+created.Room.ID.String()+"/buzz",
		buzzRequest{PlayerID: created.Player.ID, SongID: "song-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Buzz   *models.Buzz `json:"buzz"`
		Winner *models.Buzz `json:"winner"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Winner)
	assert.Equal(t, created.Player.ID, resp.Winner.PlayerID)
}

func TestBuzzRequiresSongID(t *testing.T) {
	svc, _ := newTestService()
	w := doJSON(t, svc.Router(), http.MethodPost, "/api/rooms/"+uuid.NewString()+"/buzz",
		buzzRequest{PlayerID: uuid.New()})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKickAndLeave(t *testing.T) {
	svc, repo := newTestService()
	router := svc.Router()

	w := doJSON(t, router, http.MethodPost, "/api/rooms", createRoomRequest{Nickname: "alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created roomResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))

	w = doJSON(t, router, http.MethodPost, "/api/rooms/"+created.Room.Code+"/join", joinRoomRequest{Nickname: "bob"})
	require.Equal(t, http.StatusCreated, w.Code)
	var joined roomResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&joined))

	// Guest kicking the host is a conflict.
	w = doJSON(t, router, http.MethodPost, "/api/rooms/"+created.Room.ID.String()+"/kick",
		kickRequest{ByPlayerID: joined.Player.ID, TargetPlayerID: created.Player.ID})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/rooms/"+created.Room.ID.String()+"/kick",
		kickRequest{ByPlayerID: created.Player.ID, TargetPlayerID: joined.Player.ID})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotContains(t, repo.players, joined.Player.ID)

	w = doJSON(t, router, http.MethodPost, "/api/players/"+created.Player.ID.String()+"/leave", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, repo.players)
}

func TestHeartbeatEndpoint(t *testing.T) {
	svc, _ := newTestService()
	w := doJSON(t, svc.Router(), http.MethodPost, "/api/players/"+uuid.NewString()+"/heartbeat", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	svc, _ := newTestService()
	w := doJSON(t, svc.Router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
