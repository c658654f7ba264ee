// view/view.go
package view

import (
	"context"
	"errors"
	"sync"

	"github.com/wfunc/splendor-client/auth"
	"github.com/wfunc/splendor-client/config"
	"github.com/wfunc/splendor-client/connection"
	"github.com/wfunc/splendor-client/logger"
	"github.com/wfunc/splendor-client/models"
	"github.com/wfunc/splendor-client/monitor"
	"github.com/wfunc/splendor-client/network"
	"github.com/wfunc/splendor-client/snapshot"
	"github.com/wfunc/splendor-client/timer"
	"github.com/wfunc/splendor-client/validator"
)

var (
	ErrViewClosed = errors.New("view: closed")
	ErrNotOpen    = errors.New("view: not open")
)

// API is the remote query and command surface a view needs.
type API interface {
	snapshot.Fetcher
	TakeGems(ctx context.Context, gameID int64, gems models.Gems) error
	PurchaseCard(ctx context.Context, gameID, cardID int64, fromReserve bool) error
	ReserveCard(ctx context.Context, gameID, cardID int64, tier int) error
}

// Deps are shared by every view of a process.
type Deps struct {
	API     API
	Dialer  network.Dialer
	Tokens  auth.TokenSource
	Timers  *timer.Manager
	Metrics *monitor.Metrics
}

type Options struct {
	ActingPlayerID int64
	Sync           config.SyncConfig
}

// GameView is one open game: its own connection, its synchronizer, the
// waiting-room poll and move submission.
type GameView struct {
	gameID int64
	deps   Deps
	opts   Options
	conn   *connection.Manager
	sync   *snapshot.Synchronizer

	mutex        sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	runErr       error
	closed       bool
	ownTimers    bool
	pollTimer    int64
	refreshTimer int64
	selection    validator.Selection
}

func NewGameView(gameID int64, deps Deps, opts Options) *GameView {
	ownTimers := deps.Timers == nil
	if ownTimers {
		deps.Timers = timer.NewManager(opts.Sync.TimerResolution)
	}
	conn := connection.NewManager(deps.Dialer, connection.Options{
		ReconnectDelay:   opts.Sync.ReconnectDelay,
		HandshakeTimeout: opts.Sync.HandshakeTimeout,
		Timers:           deps.Timers,
		Metrics:          deps.Metrics,
	})
	return &GameView{
		gameID: gameID,
		deps:   deps,
		opts:   opts,
		conn:   conn,
		sync: snapshot.New(gameID, deps.API, conn, deps.Tokens, snapshot.Options{
			FetchTimeout: opts.Sync.FetchTimeout,
			Metrics:      deps.Metrics,
		}),
		selection: validator.NewSelection(),
		ownTimers: ownTimers,
	}
}

func (v *GameView) GameID() int64 { return v.gameID }

// Open starts synchronizing in the background. The view lives until Close or
// until ctx is done.
func (v *GameView) Open(ctx context.Context) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	if v.closed {
		return ErrViewClosed
	}
	if v.done != nil {
		return nil
	}

	v.ctx, v.cancel = context.WithCancel(ctx)
	v.done = make(chan struct{})
	states := v.sync.Subscribe()

	go func() {
		defer close(v.done)
		err := v.sync.Run(v.ctx)
		v.mutex.Lock()
		v.runErr = err
		v.mutex.Unlock()
	}()
	go v.watch(states)

	logger.Log.Infow("game view opened", "game_id", v.gameID, "player_id", v.opts.ActingPlayerID)
	return nil
}

// Close stops the poll and any pending refresh, ends synchronization and
// releases the connection. Safe to call more than once.
func (v *GameView) Close() error {
	v.mutex.Lock()
	if v.closed {
		v.mutex.Unlock()
		return nil
	}
	v.closed = true
	v.stopPollLocked()
	if v.refreshTimer != 0 {
		v.deps.Timers.RemoveTimer(v.refreshTimer)
		v.refreshTimer = 0
	}
	cancel, done := v.cancel, v.done
	v.mutex.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	v.conn.Close()
	if v.ownTimers {
		v.deps.Timers.Stop()
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()
	logger.Log.Infow("game view closed", "game_id", v.gameID)
	return v.runErr
}

func (v *GameView) State() snapshot.State { return v.sync.State() }

func (v *GameView) Subscribe() <-chan snapshot.State { return v.sync.Subscribe() }

func (v *GameView) Unsubscribe(ch <-chan snapshot.State) { v.sync.Unsubscribe(ch) }

// Refresh refetches the snapshot now.
func (v *GameView) Refresh(ctx context.Context) error {
	return v.sync.Refresh(ctx)
}

// LastError is the connection's last failure, for a status line.
func (v *GameView) LastError() error { return v.conn.LastError() }

// watch keeps the waiting-room poll running only while the game is waiting
// for players. Push events remain the primary sync path; the poll only
// covers pushes the server never sends for lobby changes.
func (v *GameView) watch(states <-chan snapshot.State) {
	for st := range states {
		waiting := st.Snapshot != nil && st.Snapshot.Game.Status == models.GameStatusWaiting

		v.mutex.Lock()
		switch {
		case v.closed:
		case waiting && v.pollTimer == 0 && v.opts.Sync.PollInterval > 0:
			every := v.opts.Sync.PollInterval
			v.pollTimer = v.deps.Timers.AddTimer(every, every, v.refreshInBackground)
			logger.Log.Debugw("waiting-room poll started", "game_id", v.gameID, "every", every)
		case !waiting && v.pollTimer != 0:
			v.stopPollLocked()
			logger.Log.Debugw("waiting-room poll stopped", "game_id", v.gameID)
		}
		v.mutex.Unlock()
	}
}

func (v *GameView) stopPollLocked() {
	if v.pollTimer != 0 {
		v.deps.Timers.RemoveTimer(v.pollTimer)
		v.pollTimer = 0
	}
}

func (v *GameView) refreshInBackground() {
	v.mutex.Lock()
	ctx, closed := v.ctx, v.closed
	v.mutex.Unlock()
	if closed || ctx == nil || ctx.Err() != nil {
		return
	}
	if err := v.sync.Refresh(ctx); err != nil {
		logger.Log.Debugw("background refresh failed", "game_id", v.gameID, "error", err)
	}
}

// scheduleRefresh arms the one-shot refresh that follows a successful
// command, replacing one that is still pending.
func (v *GameView) scheduleRefresh() {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	if v.closed || v.opts.Sync.RefreshAfterCommand <= 0 {
		return
	}
	if v.refreshTimer != 0 {
		v.deps.Timers.RemoveTimer(v.refreshTimer)
	}
	v.refreshTimer = v.deps.Timers.AddTimer(v.opts.Sync.RefreshAfterCommand, 0, func() {
		v.mutex.Lock()
		v.refreshTimer = 0
		v.mutex.Unlock()
		v.refreshInBackground()
	})
}
