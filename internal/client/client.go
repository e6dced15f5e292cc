// Package client runs one participant's event loop: it hydrates state from
// the store, folds feed events through the game reducer, executes the
// resulting commands, and exposes the player-facing operations. All
// coordination between participants goes through the shared store and its
// change feed; there is no peer-to-peer state.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jdorel/blindtest/internal/buzzer"
	"github.com/jdorel/blindtest/internal/feed"
	"github.com/jdorel/blindtest/internal/game"
	"github.com/jdorel/blindtest/internal/models"
	"github.com/jdorel/blindtest/internal/playback"
	"github.com/jdorel/blindtest/internal/presence"
	"github.com/jdorel/blindtest/internal/retry"
	"github.com/jdorel/blindtest/internal/room"
	"github.com/jdorel/blindtest/internal/session"
	"github.com/jdorel/blindtest/internal/songs"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrNotBound is returned by operations that need an active room session.
var ErrNotBound = errors.New("client is not bound to a room")

// AudioSink is the external audio component. The core tells it what to do;
// it never drives game state directly.
type AudioSink interface {
	Play(songID string, seekSec float64)
	ScheduleStart(songID string, delay time.Duration, startSec float64)
	Stop()
	ClipEnded()
}

// NopAudio discards audio commands, for headless clients and tests.
type NopAudio struct{}

func (NopAudio) Play(string, float64)                         {}
func (NopAudio) ScheduleStart(string, time.Duration, float64) {}
func (NopAudio) Stop()                                        {}
func (NopAudio) ClipEnded()                                   {}

// Client is one participant's core. Events are applied on a single
// goroutine (the feed callbacks serialize through mu), matching the
// single-threaded event-loop model.
type Client struct {
	app      *room.App
	repo     room.RoomsRepository
	consumer *feed.Consumer
	sessions *session.Manager
	tracker  *presence.Tracker
	audio    AudioSink
	songs    songs.Source
	clock    clockwork.Clock
	retryCfg retry.Config

	mu       sync.Mutex
	self     *models.Player
	state    *game.State
	machine  *game.Machine
	arbiter  *buzzer.Arbiter
	player   *playback.Player
	sub      *feed.Subscription
	stopHB   context.CancelFunc
	timerGen uint64
}

func New(app *room.App, repo room.RoomsRepository, consumer *feed.Consumer, sessions *session.Manager, tracker *presence.Tracker, audio AudioSink, clock clockwork.Clock) *Client {
	if audio == nil {
		audio = NopAudio{}
	}
	return &Client{
		app:      app,
		repo:     repo,
		consumer: consumer,
		sessions: sessions,
		tracker:  tracker,
		audio:    audio,
		clock:    clock,
		retryCfg: retry.DefaultConfig(),
	}
}

// SetSongSource enables audio prefetching against the song library. Leave
// unset when the audio component fetches tracks itself.
func (c *Client) SetSongSource(src songs.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.songs = src
}

// CreateRoom creates a room, binds this client as its host, and opens the
// feed subscription.
func (c *Client) CreateRoom(ctx context.Context, nickname string) (*models.Room, error) {
	rm, host, err := c.app.CreateRoom(ctx, nickname)
	if err != nil {
		return nil, err
	}
	if err := c.bind(ctx, rm, host); err != nil {
		return nil, err
	}
	return rm, nil
}

// JoinRoom joins an existing room by code.
func (c *Client) JoinRoom(ctx context.Context, code, nickname string) (*models.Room, error) {
	player, err := c.app.JoinRoom(ctx, code, nickname)
	if err != nil {
		return nil, err
	}
	rm, err := c.repo.GetRoom(ctx, player.RoomID)
	if err != nil {
		return nil, err
	}
	if err := c.bind(ctx, rm, player); err != nil {
		return nil, err
	}
	return rm, nil
}

// Resume restores a previous session from the persisted token. Returns
// false when the client must join fresh instead; that is not an error.
func (c *Client) Resume(ctx context.Context, code string) bool {
	resumed, ok := c.sessions.Reconnect(ctx, code)
	if !ok {
		return false
	}
	if err := c.bindResumed(ctx, resumed); err != nil {
		log.Warn().Err(err).Msg("failed to bind resumed session")
		return false
	}
	return true
}

func (c *Client) bind(ctx context.Context, rm *models.Room, self *models.Player) error {
	var players []models.Player
	err := retry.Do(ctx, c.retryCfg, func(ctx context.Context) error {
		var err error
		players, err = c.repo.ListPlayers(ctx, rm.ID)
		return err
	})
	if err != nil {
		return err
	}
	return c.bindResumed(ctx, &session.Resumed{Room: rm, Player: self, Players: players})
}

func (c *Client) bindResumed(ctx context.Context, resumed *session.Resumed) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.self = resumed.Player
	c.state = game.NewState()
	c.state.Hydrate(resumed.Room, resumed.Players)
	c.arbiter = buzzer.NewArbiter(resumed.Room.ID, c.repo, c.clock)
	c.player = playback.NewPlayer(c.clock)
	c.machine = game.NewMachine(resumed.Player.ID, c.state, c.repo, c.arbiter, c.clock)

	if resumed.Room.CurrentSongID != nil {
		c.arbiter.ArmRound(*resumed.Room.CurrentSongID)
	}

	sub, err := c.consumer.Subscribe(ctx, resumed.Room.ID, feed.Handlers{
		OnRoomChange:   c.onRoomChange,
		OnPlayerChange: c.onPlayerChange,
		OnBuzzChange:   c.onBuzzChange,
	})
	if err != nil {
		return err
	}
	c.sub = sub

	if err := c.sessions.Remember(resumed.Player.ID); err != nil {
		log.Warn().Err(err).Msg("failed to persist player token")
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	c.stopHB = cancel
	go c.tracker.RunHeartbeat(hbCtx, resumed.Player.ID)

	// A mid-round joiner computes its playback plan from the anchor once.
	if plan, ok := c.state.PlanFor(c.clock.Now()); ok && resumed.Room.CurrentSongID != nil {
		c.runPlan(*resumed.Room.CurrentSongID, plan)
	}
	return nil
}

// Close tears the session down without leaving the room; the player row
// stays for the grace period so the client can reconnect silently.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		c.sub.Stop()
		c.sub = nil
	}
	if c.stopHB != nil {
		c.stopHB()
		c.stopHB = nil
	}
}

// Leave removes this player's row and forgets the token.
func (c *Client) Leave(ctx context.Context) error {
	c.Close()
	c.mu.Lock()
	self := c.self
	c.mu.Unlock()
	if self == nil {
		return nil
	}
	if err := c.app.Leave(ctx, self.ID); err != nil {
		return err
	}
	return c.sessions.Forget()
}

// Machine exposes the host/guest operations once bound.
func (c *Client) Machine() *game.Machine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine
}

// Buzz submits a buzz for the current round.
func (c *Client) Buzz(ctx context.Context) (*models.Buzz, error) {
	c.mu.Lock()
	arbiter := c.arbiter
	self := c.self
	songID := ""
	if c.state != nil && c.state.Room != nil && c.state.Room.CurrentSongID != nil {
		songID = *c.state.Room.CurrentSongID
	}
	c.mu.Unlock()

	if arbiter == nil || self == nil {
		return nil, ErrNotBound
	}
	return arbiter.SubmitBuzz(ctx, self.ID, songID)
}

// Winner returns the current round's resolved winner, if any.
func (c *Client) Winner() *models.Buzz {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.arbiter == nil {
		return nil
	}
	return c.arbiter.CurrentWinner()
}

func (c *Client) onRoomChange(ev feed.Event) {
	c.mu.Lock()
	cmds := c.state.ApplyRoomChange(ev)
	c.mu.Unlock()
	c.execute(cmds)
}

func (c *Client) onPlayerChange(ev feed.Event) {
	c.mu.Lock()
	cmds := c.state.ApplyPlayerChange(ev)
	c.mu.Unlock()
	c.execute(cmds)
}

func (c *Client) onBuzzChange(ev feed.Event) {
	c.mu.Lock()
	arbiter := c.arbiter
	c.mu.Unlock()
	arbiter.ApplyBuzzChange(ev)

	// The host moves the room to buzzed once a winner exists.
	if w := arbiter.CurrentWinner(); w != nil {
		c.mu.Lock()
		machine := c.machine
		isHost := machine != nil && machine.IsHost()
		c.mu.Unlock()
		if isHost {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := machine.MarkBuzzed(ctx); err != nil {
				log.Debug().Err(err).Msg("mark buzzed skipped")
			}
		}
	}
}

func (c *Client) execute(cmds []game.Command) {
	for _, cmd := range cmds {
		switch cmd := cmd.(type) {
		case game.CmdArmRound:
			c.mu.Lock()
			arbiter := c.arbiter
			c.mu.Unlock()
			arbiter.ArmRound(cmd.SongID)
		case game.CmdLoadSong:
			c.loadSong(cmd)
		case game.CmdStopAudio:
			c.audio.Stop()
		case game.CmdStartTimer:
			c.startTimer(cmd.Duration)
		case game.CmdStopTimer:
			c.mu.Lock()
			c.timerGen++
			c.mu.Unlock()
		}
	}
}

func (c *Client) loadSong(cmd game.CmdLoadSong) {
	c.mu.Lock()
	gen := c.player.LoadSong(cmd.Anchor, cmd.StartPos, cmd.ClipDur, cmd.Unlimited)
	plan, ok := c.player.Plan(gen)
	src := c.songs
	c.mu.Unlock()
	if !ok {
		return
	}

	if src != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			songs.Prefetch(ctx, src, cmd.SongID)
		}()
	}
	c.runPlan(cmd.SongID, plan)
}

func (c *Client) runPlan(songID string, plan playback.Plan) {
	switch plan.Action {
	case playback.ActionWait:
		c.audio.ScheduleStart(songID, plan.Delay, plan.SeekSec)
	case playback.ActionPlay:
		c.audio.Play(songID, plan.SeekSec)
	case playback.ActionEnded:
		c.audio.ClipEnded()
	}
}

// startTimer schedules the guess timer. The generation guard drops the
// callback when a newer phase change cancelled or replaced the timer.
func (c *Client) startTimer(d time.Duration) {
	c.mu.Lock()
	c.timerGen++
	gen := c.timerGen
	machine := c.machine
	c.mu.Unlock()

	timer := c.clock.NewTimer(d)
	go func() {
		defer timer.Stop()
		<-timer.Chan()

		c.mu.Lock()
		stale := gen != c.timerGen
		c.mu.Unlock()
		if stale {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := machine.HandleTimerExpired(ctx); err != nil {
			log.Error().Err(err).Msg("timer expiry handling failed")
		}
	}()
}
