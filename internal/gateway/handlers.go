package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jdorel/blindtest/internal/models"
	"github.com/jdorel/blindtest/internal/room"
	"github.com/rs/zerolog/log"
)

type createRoomRequest struct {
	Nickname string `json:"nickname"`
}

type joinRoomRequest struct {
	Nickname string `json:"nickname"`
}

type buzzRequest struct {
	PlayerID uuid.UUID `json:"player_id"`
	SongID   string    `json:"song_id"`
}

type kickRequest struct {
	ByPlayerID     uuid.UUID `json:"by_player_id"`
	TargetPlayerID uuid.UUID `json:"target_player_id"`
}

type roomResponse struct {
	Room   *models.Room   `json:"room"`
	Player *models.Player `json:"player"`
}

type snapshotResponse struct {
	Room    *models.Room    `json:"room"`
	Players []models.Player `json:"players"`
	Winner  *models.Buzz    `json:"winner,omitempty"`
}

func (s *Service) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rm, host, err := s.app.CreateRoom(r.Context(), req.Nickname)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, roomResponse{Room: rm, Player: host})
}

func (s *Service) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	player, err := s.app.JoinRoom(r.Context(), code, req.Nickname)
	if err != nil {
		writeAppError(w, err)
		return
	}
	rm, err := s.repo.GetRoom(r.Context(), player.RoomID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, roomResponse{Room: rm, Player: player})
}

// handleGetSnapshot returns the full room state for hydration: the room row,
// its players, and the current round's winner when one is resolved.
func (s *Service) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	rm, err := s.app.GetRoomByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	players, err := s.repo.ListPlayers(r.Context(), rm.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	var winner *models.Buzz
	if rm.CurrentSongID != nil {
		winner, err = s.repo.GetWinner(r.Context(), rm.ID, *rm.CurrentSongID)
		if err != nil {
			writeAppError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Room: rm, Players: players, Winner: winner})
}

// handleBuzz inserts the buzz and resolves the winner in one round trip.
// Racing clients all get 200; the committed order decides who won.
func (s *Service) handleBuzz(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	var req buzzRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SongID == "" {
		writeError(w, http.StatusBadRequest, "song_id is required")
		return
	}

	buzz, err := s.repo.CreateBuzz(r.Context(), roomID, req.PlayerID, req.SongID, s.clock.Now())
	if err != nil {
		writeAppError(w, err)
		return
	}
	winner, err := s.repo.ResolveWinner(r.Context(), roomID, req.SongID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to resolve buzz winner")
	}

	writeJSON(w, http.StatusOK, struct {
		Buzz   *models.Buzz `json:"buzz"`
		Winner *models.Buzz `json:"winner,omitempty"`
	}{Buzz: buzz, Winner: winner})
}

func (s *Service) handleKick(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	var req kickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.app.Kick(r.Context(), roomID, req.ByPlayerID, req.TargetPlayerID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleLeave(w http.ResponseWriter, r *http.Request) {
	playerID, err := uuid.Parse(chi.URLParam(r, "playerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player id")
		return
	}
	if err := s.app.Leave(r.Context(), playerID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	playerID, err := uuid.Parse(chi.URLParam(r, "playerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player id")
		return
	}
	if err := s.app.Heartbeat(r.Context(), playerID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket upgrades a feed connection for one player in one room.
func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(r.URL.Query().Get("room_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "room_id is required")
		return
	}
	playerID, err := uuid.Parse(r.URL.Query().Get("player_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "player_id is required")
		return
	}

	if err := s.manager.Upgrade(w, r, playerID, roomID); err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID.String()).
			Str("player_id", playerID.String()).
			Msg("failed to upgrade WebSocket connection")
	}
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps application sentinels onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrPlayerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case room.NotJoinable(err), errors.Is(err, room.ErrNotHost), errors.Is(err, room.ErrSelfKick):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, room.ErrInvalidNickname), errors.Is(err, room.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
