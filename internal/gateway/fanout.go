package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/jdorel/blindtest/internal/feed"
	"github.com/rs/zerolog/log"
)

// Subscriber opens per-room feed subscriptions. Satisfied by feed.Consumer.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID uuid.UUID, handlers feed.Handlers) (*feed.Subscription, error)
}

// Fanout bridges the change feed to the WebSocket pools. A room's feed
// subscription is opened when its first socket connects and closed when the
// pool empties, so idle rooms cost nothing on the bus.
type Fanout struct {
	consumer Subscriber
	manager  *ConnectionManager

	mu   sync.Mutex
	subs map[uuid.UUID]*feed.Subscription
}

func NewFanout(consumer Subscriber, manager *ConnectionManager) *Fanout {
	f := &Fanout{
		consumer: consumer,
		manager:  manager,
		subs:     make(map[uuid.UUID]*feed.Subscription),
	}
	manager.SetPoolHooks(f.attach, f.detach)
	return f
}

func (f *Fanout) attach(roomID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[roomID]; ok {
		return
	}

	forward := func(ev feed.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal feed event for fanout")
			return
		}
		f.manager.BroadcastToRoom(roomID, payload)
	}

	sub, err := f.consumer.Subscribe(context.Background(), roomID, feed.Handlers{
		OnRoomChange:   forward,
		OnPlayerChange: forward,
		OnBuzzChange:   forward,
	})
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to open feed subscription for fanout")
		return
	}
	f.subs[roomID] = sub
	log.Debug().Str("room_id", roomID.String()).Msg("fanout attached to room feed")
}

func (f *Fanout) detach(roomID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[roomID]; ok {
		sub.Stop()
		delete(f.subs, roomID)
		log.Debug().Str("room_id", roomID.String()).Msg("fanout detached from room feed")
	}
}

// Close stops every open subscription.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for roomID, sub := range f.subs {
		sub.Stop()
		delete(f.subs, roomID)
	}
}
