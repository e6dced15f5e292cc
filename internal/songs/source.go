// Package songs is the boundary to the song library collaborator. The core
// only needs two things from it: the audio bytes for an opaque song id and
// the track duration.
package songs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Source resolves opaque song ids to audio and metadata.
type Source interface {
	// Audio streams the track bytes. The caller owns closing the reader.
	Audio(ctx context.Context, songID string) (io.ReadCloser, error)
	// Duration returns the full track length.
	Duration(ctx context.Context, songID string) (time.Duration, error)
}

// HTTPSource talks to the song library service over HTTP.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *HTTPSource) Audio(ctx context.Context, songID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/songs/%s/audio", s.baseURL, songID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audio: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("song service returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (s *HTTPSource) Duration(ctx context.Context, songID string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/songs/%s", s.baseURL, songID), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch song metadata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("song service returned status %d", resp.StatusCode)
	}

	var meta struct {
		DurationMs int64 `json:"duration_ms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return 0, fmt.Errorf("failed to decode song metadata: %w", err)
	}
	return time.Duration(meta.DurationMs) * time.Millisecond, nil
}

// Prefetch warms the next round's audio. Best effort: a single attempt,
// failures are silent and never block the critical path.
func Prefetch(ctx context.Context, src Source, songID string) {
	body, err := src.Audio(ctx, songID)
	if err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	body.Close()
}
