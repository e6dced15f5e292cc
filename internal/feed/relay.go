package feed

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

// RelayConfig tunes the feed relay.
type RelayConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // channel the feed trigger NOTIFYs on
	FallbackInterval time.Duration // how often to poll for missed events
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		NotifyChannel:    "room_feed",
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// Relay bridges the Postgres feed log to NATS. The trigger NOTIFYs the log
// seq; the relay fetches the row, publishes it per room, and marks it
// published. A fallback poll sweeps rows whose notification was lost, so
// delivery is at-least-once.
type Relay struct {
	db        *sql.DB
	listener  *pq.Listener
	publisher Publisher
	cfg       RelayConfig
}

func NewRelay(db *sql.DB, publisher Publisher, cfg RelayConfig) (*Relay, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for feed notifications")

	return &Relay{
		db:        db,
		listener:  l,
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

func (r *Relay) Start(ctx context.Context) error {
	log.Info().
		Str("channel", r.cfg.NotifyChannel).
		Dur("ping_interval", r.cfg.PingInterval).
		Dur("fallback_interval", r.cfg.FallbackInterval).
		Msg("feed relay started")

	pingTicker := time.NewTicker(r.cfg.PingInterval)
	fallbackTicker := time.NewTicker(r.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("feed relay shutting down")
			return r.Stop()
		case note := <-r.listener.Notify:
			if note == nil {
				// nil notification means the connection was lost; pq reconnects
				continue
			}
			if err := r.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle feed notification")
			}
		case <-fallbackTicker.C:
			if err := r.processUnpublished(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unpublished feed rows")
			}
		case <-pingTicker.C:
			if err := r.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (r *Relay) Stop() error {
	return r.listener.Close()
}

// handleNotification fetches the feed-log row named by the NOTIFY payload
// and publishes it.
func (r *Relay) handleNotification(ctx context.Context, extra string) error {
	var seq int64
	if _, err := fmt.Sscanf(extra, "%d", &seq); err != nil {
		return fmt.Errorf("invalid feed seq in notification %q: %w", extra, err)
	}

	ev, ok, err := r.fetchEvent(ctx, seq)
	if err != nil {
		return fmt.Errorf("failed to fetch feed row: %w", err)
	}
	if !ok {
		// Already published by the fallback sweep.
		return nil
	}

	if err := r.publishWithRetry(ctx, ev); err != nil {
		return fmt.Errorf("failed to publish feed event: %w", err)
	}
	return r.markPublished(ctx, seq)
}

// processUnpublished sweeps feed rows whose notification was lost.
func (r *Relay) processUnpublished(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, table_name, op, room_id, row_data, created_at
		FROM room_feed_log
		WHERE published_at IS NULL
		ORDER BY seq ASC
		LIMIT $1`, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch unpublished feed rows: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanFeedRow(rows)
		if err != nil {
			return err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, ev := range events {
		if err := r.publishWithRetry(ctx, ev); err != nil {
			log.Error().Err(err).Int64("seq", ev.Seq).Msg("failed to publish feed event")
			continue
		}
		if err := r.markPublished(ctx, ev.Seq); err != nil {
			log.Error().Err(err).Int64("seq", ev.Seq).Msg("failed to mark feed row published")
		}
	}
	return nil
}

func (r *Relay) fetchEvent(ctx context.Context, seq int64) (Event, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT seq, table_name, op, room_id, row_data, created_at
		FROM room_feed_log
		WHERE seq = $1 AND published_at IS NULL`, seq)
	ev, err := scanFeedRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Event{}, false, nil
		}
		return Event{}, false, err
	}
	return ev, true, nil
}

func (r *Relay) markPublished(ctx context.Context, seq int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE room_feed_log SET published_at = now() WHERE seq = $1`, seq); err != nil {
		return fmt.Errorf("failed to mark feed row published: %w", err)
	}
	return nil
}

func (r *Relay) publishWithRetry(ctx context.Context, ev Event) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := r.publisher.Publish(ctx, ev); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Int64("seq", ev.Seq).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().Int("attempt", attempt+1).Int64("seq", ev.Seq).Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanFeedRow(row sqlScanner) (Event, error) {
	var (
		ev       Event
		table    string
		op       string
		roomID   string
		rowImage pqtype.NullRawMessage
	)
	if err := row.Scan(&ev.Seq, &table, &op, &roomID, &rowImage, &ev.At); err != nil {
		return Event{}, err
	}
	id, err := uuid.Parse(roomID)
	if err != nil {
		return Event{}, fmt.Errorf("invalid room id in feed row: %w", err)
	}
	ev.Table = Table(table)
	ev.Op = Op(op)
	ev.RoomID = id
	if rowImage.Valid {
		ev.Row = rowImage.RawMessage
	}
	return ev, nil
}
