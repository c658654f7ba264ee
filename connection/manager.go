// connection/manager.go
package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/splendor-client/logger"
	"github.com/wfunc/splendor-client/monitor"
	"github.com/wfunc/splendor-client/network"
	"github.com/wfunc/splendor-client/state"
	"github.com/wfunc/splendor-client/timer"
)

var (
	ErrNotConnected = errors.New("connection: not connected")
	// ErrSuperseded is returned by Connect when a Disconnect or a newer
	// Connect happened while the handshake was in flight.
	ErrSuperseded = errors.New("connection: superseded")
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultEventBuffer    = 64
)

type Options struct {
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	// Timers schedules reconnects. When nil the Manager owns one and stops it
	// on Close.
	Timers      *timer.Manager
	Metrics     *monitor.Metrics
	EventBuffer int
}

// Manager keeps at most one realtime connection to a game open. After an
// unexpected close it schedules exactly one reconnect attempt; Disconnect
// cancels any pending attempt.
type Manager struct {
	dialer    network.Dialer
	opts      Options
	timers    *timer.Manager
	ownTimers bool
	machine   *state.Machine
	events    chan network.Event

	mutex          sync.Mutex
	transport      network.Transport
	connID         string
	epoch          uint64 // bumped by Connect and Disconnect
	wanted         bool   // a target is set and reconnects are allowed
	gameID         int64
	token          string
	reconnectTimer int64
	lastEvent      *network.Event
	lastError      error
}

func NewManager(dialer network.Dialer, opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	m := &Manager{
		dialer:  dialer,
		opts:    opts,
		timers:  opts.Timers,
		machine: state.NewConnectionMachine(),
		events:  make(chan network.Event, opts.EventBuffer),
	}
	if m.timers == nil {
		m.timers = timer.NewManager(timer.DefaultResolution)
		m.ownTimers = true
	}
	return m
}

// Connect opens a connection to gameID, replacing any existing one. A failed
// handshake returns the error and arms a reconnect.
func (m *Manager) Connect(ctx context.Context, gameID int64, token string) error {
	m.mutex.Lock()
	m.cancelReconnectLocked()
	old := m.transport
	m.transport = nil
	m.epoch++
	epoch := m.epoch
	m.wanted = true
	m.gameID, m.token = gameID, token
	m.moveLocked(state.Idle, nil)
	m.moveLocked(state.Connecting, nil)
	m.mutex.Unlock()

	if old != nil {
		old.Close()
	}
	return m.handshake(ctx, epoch, gameID, token)
}

// Disconnect closes the connection and cancels a pending reconnect. It is
// safe to call in any state, any number of times.
func (m *Manager) Disconnect() {
	m.mutex.Lock()
	m.epoch++
	m.wanted = false
	m.cancelReconnectLocked()
	tr := m.transport
	m.transport = nil
	m.moveLocked(state.Idle, nil)
	m.mutex.Unlock()

	if tr != nil {
		logger.Log.Infow("realtime connection closed by client", "conn_id", m.ID())
		tr.Close()
	}
}

// Close disconnects and releases the timer manager if the Manager owns it.
func (m *Manager) Close() {
	m.Disconnect()
	if m.ownTimers {
		m.timers.Stop()
	}
}

func (m *Manager) SendMessage(ev network.Event) error {
	m.mutex.Lock()
	tr := m.transport
	open := m.machine.Current() == state.Open
	m.mutex.Unlock()

	if tr == nil || !open {
		return ErrNotConnected
	}
	return tr.WriteEvent(ev)
}

// Events delivers decoded inbound events. When the buffer is full the oldest
// queued event is discarded. The channel is never closed.
func (m *Manager) Events() <-chan network.Event {
	return m.events
}

func (m *Manager) LastEvent() (network.Event, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.lastEvent == nil {
		return network.Event{}, false
	}
	return *m.lastEvent, true
}

func (m *Manager) State() state.ConnState {
	return m.machine.Current()
}

func (m *Manager) IsConnected() bool {
	return m.machine.Current() == state.Open
}

// LastError is the error behind the most recent close or failed handshake.
func (m *Manager) LastError() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.lastError
}

// ID identifies the current connection attempt in logs.
func (m *Manager) ID() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.connID
}

func (m *Manager) handshake(ctx context.Context, epoch uint64, gameID int64, token string) error {
	connID := uuid.NewString()
	m.mutex.Lock()
	m.connID = connID
	m.mutex.Unlock()

	m.opts.Metrics.IncConnectAttempts()
	dialCtx := ctx
	if m.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.opts.HandshakeTimeout)
		defer cancel()
	}
	logger.Log.Debugw("dialing realtime endpoint", "conn_id", connID, "game_id", gameID)
	tr, err := m.dialer.Dial(dialCtx, gameID, token)

	m.mutex.Lock()
	if m.epoch != epoch {
		m.mutex.Unlock()
		if tr != nil {
			tr.Close()
		}
		return ErrSuperseded
	}
	if err != nil {
		m.lastError = err
		m.moveLocked(state.Closed, err)
		m.armReconnectLocked()
		m.mutex.Unlock()
		logger.Log.Warnw("realtime handshake failed", "conn_id", connID, "game_id", gameID, "error", err)
		return err
	}
	m.transport = tr
	m.lastError = nil
	m.moveLocked(state.Open, nil)
	m.mutex.Unlock()

	m.opts.Metrics.ConnectionOpened()
	logger.Log.Infow("realtime connection open", "conn_id", connID, "game_id", gameID)
	go m.readLoop(tr, epoch, connID)
	return nil
}

func (m *Manager) readLoop(tr network.Transport, epoch uint64, connID string) {
	defer m.opts.Metrics.ConnectionClosed()

	for {
		ev, err := tr.ReadEvent()
		if err != nil {
			if errors.Is(err, network.ErrMalformedFrame) {
				m.opts.Metrics.IncFramesDropped()
				logger.Log.Warnw("dropping malformed frame", "conn_id", connID, "error", err)
				continue
			}
			m.handleClose(tr, epoch, connID, err)
			return
		}
		m.opts.Metrics.IncFrameReceived(string(ev.Type))

		m.mutex.Lock()
		stale := m.epoch != epoch || m.transport != tr
		if !stale {
			last := ev
			m.lastEvent = &last
		}
		m.mutex.Unlock()
		if stale {
			return
		}

		m.deliver(ev)
	}
}

func (m *Manager) deliver(ev network.Event) {
	for {
		select {
		case m.events <- ev:
			return
		default:
		}
		select {
		case dropped := <-m.events:
			logger.Log.Debugw("event buffer full, discarding oldest", "type", dropped.Type)
		default:
		}
	}
}

// handleClose runs when the read side of tr fails. A close the client asked
// for has already bumped the epoch and is ignored here.
func (m *Manager) handleClose(tr network.Transport, epoch uint64, connID string, err error) {
	m.mutex.Lock()
	if m.epoch != epoch || m.transport != tr {
		m.mutex.Unlock()
		return
	}
	m.transport = nil
	m.lastError = err
	m.moveLocked(state.Closed, err)
	m.armReconnectLocked()
	m.mutex.Unlock()

	logger.Log.Warnw("realtime connection lost", "conn_id", connID, "error", err, "retry_in", m.opts.ReconnectDelay)
	tr.Close()
}

func (m *Manager) armReconnectLocked() {
	if !m.wanted || m.reconnectTimer != 0 {
		return
	}
	epoch := m.epoch
	m.reconnectTimer = m.timers.AddTimer(m.opts.ReconnectDelay, 0, func() {
		m.reconnect(epoch)
	})
	m.opts.Metrics.IncReconnectsArmed()
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnectTimer != 0 {
		m.timers.RemoveTimer(m.reconnectTimer)
		m.reconnectTimer = 0
	}
}

func (m *Manager) reconnect(epoch uint64) {
	m.mutex.Lock()
	if m.epoch != epoch || !m.wanted || m.transport != nil {
		m.mutex.Unlock()
		return
	}
	m.reconnectTimer = 0
	gameID, token := m.gameID, m.token
	m.moveLocked(state.Connecting, nil)
	m.mutex.Unlock()

	logger.Log.Infow("reconnecting", "game_id", gameID)
	if err := m.handshake(context.Background(), epoch, gameID, token); err != nil && !errors.Is(err, ErrSuperseded) {
		logger.Log.Debugw("reconnect attempt failed", "game_id", gameID, "error", err)
	}
}

func (m *Manager) moveLocked(to state.ConnState, reason error) {
	from := m.machine.Current()
	if from == to && to != state.Idle {
		return
	}
	if err := m.machine.ChangeState(to, reason); err != nil {
		logger.Log.Errorw("unexpected connection transition", "from", from, "to", to, "error", err)
	}
}

// OnStateChange registers fn to run after every lifecycle transition. fn must
// not call back into the Manager's mutating methods.
func (m *Manager) OnStateChange(fn func(from, to state.ConnState)) {
	for _, s := range []state.ConnState{state.Idle, state.Connecting, state.Open, state.Closed} {
		to := s
		m.machine.OnEnter(to, func(from state.ConnState) { fn(from, to) })
	}
}
