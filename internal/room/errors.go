package room

import "errors"

// Sentinel errors surfaced by the room application layer. The gateway maps
// these onto HTTP statuses; everything else is treated as internal.
var (
	// Not found.
	ErrRoomNotFound   = errors.New("room not found")
	ErrPlayerNotFound = errors.New("player not found")

	// Conflict.
	ErrRoomInProgress = errors.New("room is not joinable: game already playing")
	ErrRoomEnded      = errors.New("room is not joinable: game has ended")
	ErrRoomFull       = errors.New("room is full")
	ErrNotHost        = errors.New("only the host may perform this action")
	ErrSelfKick       = errors.New("host cannot kick themselves")

	// Validation.
	ErrInvalidNickname = errors.New("nickname must be 1-20 characters")
	ErrInvalidCode     = errors.New("malformed room code")

	// Exhausted. Rare systemic failure, surfaced as a generic creation error.
	ErrCodeGenerationExhausted = errors.New("room code generation attempts exhausted")
)

// NotJoinable reports whether err is one of the join-refusal conflicts.
func NotJoinable(err error) bool {
	return errors.Is(err, ErrRoomInProgress) || errors.Is(err, ErrRoomEnded) || errors.Is(err, ErrRoomFull)
}
