package session

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// TokenFileName matches the key the web client uses in local storage.
const TokenFileName = "blindtest_player_id"

// TokenStore persists the player token as a single opaque identifier.
type TokenStore struct {
	path string
}

func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{path: filepath.Join(dir, TokenFileName)}
}

// Load reads the persisted player id. Missing or garbage content reads as
// "no token"; reconnection then degrades to joining fresh.
func (s *TokenStore) Load() (uuid.UUID, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Save writes the player id for the next startup.
func (s *TokenStore) Save(id uuid.UUID) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(id.String()), 0o600)
}

// Clear removes the persisted token.
func (s *TokenStore) Clear() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
