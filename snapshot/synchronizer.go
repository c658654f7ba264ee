// snapshot/synchronizer.go
package snapshot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wfunc/splendor-client/auth"
	"github.com/wfunc/splendor-client/broadcast"
	"github.com/wfunc/splendor-client/logger"
	"github.com/wfunc/splendor-client/models"
	"github.com/wfunc/splendor-client/monitor"
	"github.com/wfunc/splendor-client/network"
	"github.com/wfunc/splendor-client/state"
)

var ErrAlreadyStarted = errors.New("snapshot: synchronizer already started")

const DefaultFetchTimeout = 5 * time.Second

// Fetcher loads the full snapshot of a game.
type Fetcher interface {
	GetGameState(ctx context.Context, gameID int64) (*models.Snapshot, error)
}

// Connector is the realtime side the synchronizer drives.
type Connector interface {
	Connect(ctx context.Context, gameID int64, token string) error
	Disconnect()
	Events() <-chan network.Event
	IsConnected() bool
}

type stateNotifier interface {
	OnStateChange(fn func(from, to state.ConnState))
}

// ServerError is an error pushed by the server over the realtime channel.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// State is what the presentation layer renders. Snapshot is shared and must
// not be modified.
type State struct {
	Snapshot    *models.Snapshot
	Loading     bool
	Err         error
	IsConnected bool
}

type Options struct {
	FetchTimeout time.Duration
	Metrics      *monitor.Metrics
}

// Synchronizer keeps the latest snapshot of one game. Every relevant push
// event causes a full refetch; responses to superseded requests are dropped.
type Synchronizer struct {
	gameID  int64
	fetcher Fetcher
	conn    Connector
	tokens  auth.TokenSource
	opts    Options
	hub     *broadcast.Hub[State]
	ready   chan struct{}

	mutex     sync.Mutex
	snapshot  *models.Snapshot
	loading   bool
	err       error
	issued    uint64
	started   bool
	readyOnce sync.Once

	publishMutex sync.Mutex
	refetches    sync.WaitGroup
}

func New(gameID int64, fetcher Fetcher, conn Connector, tokens auth.TokenSource, opts Options) *Synchronizer {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	s := &Synchronizer{
		gameID:  gameID,
		fetcher: fetcher,
		conn:    conn,
		tokens:  tokens,
		opts:    opts,
		hub:     broadcast.NewHub[State](),
		ready:   make(chan struct{}),
		loading: true,
	}
	if n, ok := conn.(stateNotifier); ok {
		n.OnStateChange(func(from, to state.ConnState) { s.publish() })
	}
	return s
}

func (s *Synchronizer) GameID() int64 { return s.gameID }

// Run fetches the snapshot, connects once one exists and refetches on push
// events until ctx is done. The connection is released on every exit path.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.mutex.Lock()
	if s.started {
		s.mutex.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mutex.Unlock()

	defer s.hub.Close()
	defer s.conn.Disconnect()
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.refetches.Wait()
	}()

	s.publish()
	if err := s.Refresh(ctx); err != nil {
		logger.Log.Warnw("initial snapshot fetch failed", "game_id", s.gameID, "error", err)
	}

	ready := s.ready
	events := s.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ready:
			ready = nil
			s.connect(ctx)
		case ev := <-events:
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Synchronizer) connect(ctx context.Context) {
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		logger.Log.Warnw("cannot connect without a token", "game_id", s.gameID, "error", err)
		s.mutex.Lock()
		s.err = err
		s.mutex.Unlock()
		s.publish()
		return
	}
	// a failed handshake is retried by the connection's reconnect timer
	if err := s.conn.Connect(ctx, s.gameID, tok); err != nil {
		logger.Log.Warnw("realtime connect failed", "game_id", s.gameID, "error", err)
	}
	s.publish()
}

func (s *Synchronizer) handleEvent(ctx context.Context, ev network.Event) {
	switch {
	case ev.Type.TriggersRefresh():
		logger.Log.Debugw("refetching snapshot", "game_id", s.gameID, "event", ev.Type)
		s.refetches.Add(1)
		go func() {
			defer s.refetches.Done()
			if err := s.Refresh(ctx); err != nil {
				logger.Log.Warnw("snapshot refetch failed", "game_id", s.gameID, "event", ev.Type, "error", err)
			}
		}()
	case ev.Type == network.EventError:
		msg := ev.ErrorMessage()
		if msg == "" {
			msg = "server error"
		}
		s.mutex.Lock()
		s.err = &ServerError{Message: msg}
		s.mutex.Unlock()
		s.publish()
	default:
		logger.Log.Debugw("realtime event", "game_id", s.gameID, "type", ev.Type, "payload", string(ev.Payload))
	}
}

// Refresh refetches the snapshot. Only the most recently issued request may
// change state; an older response is discarded and Refresh returns nil. A
// failure keeps the previous snapshot and is also returned.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mutex.Lock()
	s.issued++
	seq := s.issued
	s.mutex.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	start := time.Now()
	snap, err := s.fetcher.GetGameState(fetchCtx, s.gameID)
	if err == nil {
		err = snap.Validate()
	}

	s.mutex.Lock()
	if seq != s.issued {
		s.mutex.Unlock()
		s.opts.Metrics.ObserveFetch("stale", time.Since(start))
		logger.Log.Debugw("discarding superseded snapshot response", "game_id", s.gameID, "seq", seq)
		return nil
	}
	s.loading = false
	if err != nil {
		s.err = err
	} else {
		s.snapshot = snap
		s.err = nil
	}
	s.mutex.Unlock()

	if err != nil {
		s.opts.Metrics.ObserveFetch("error", time.Since(start))
	} else {
		s.opts.Metrics.ObserveFetch("ok", time.Since(start))
		s.readyOnce.Do(func() { close(s.ready) })
	}
	s.publish()
	return err
}

func (s *Synchronizer) State() State {
	s.mutex.Lock()
	st := State{Snapshot: s.snapshot, Loading: s.loading, Err: s.err}
	s.mutex.Unlock()
	st.IsConnected = s.conn.IsConnected()
	return st
}

// Subscribe returns a channel that always holds the latest State. It is
// closed when Run returns.
func (s *Synchronizer) Subscribe() <-chan State {
	return s.hub.Subscribe()
}

func (s *Synchronizer) Unsubscribe(ch <-chan State) {
	s.hub.Unsubscribe(ch)
}

func (s *Synchronizer) publish() {
	s.publishMutex.Lock()
	defer s.publishMutex.Unlock()
	s.hub.Publish(s.State())
}
