package state

import (
	"errors"
	"fmt"
	"sync"
)

// ConnState is the lifecycle state of a realtime connection.
type ConnState string

const (
	Idle       ConnState = "idle"
	Connecting ConnState = "connecting"
	Open       ConnState = "open"
	Closed     ConnState = "closed"
)

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// Machine is a small guarded state machine. Only registered transitions are
// allowed; a registered condition may veto one.
type Machine struct {
	currentState ConnState
	reason       error
	transitions  map[ConnState]map[ConnState]func() bool // fromState -> toState -> condition
	onEnter      map[ConnState][]func(from ConnState)
	mutex        sync.RWMutex
}

func NewMachine(initial ConnState) *Machine {
	return &Machine{
		currentState: initial,
		transitions:  make(map[ConnState]map[ConnState]func() bool),
		onEnter:      make(map[ConnState][]func(from ConnState)),
	}
}

// NewConnectionMachine returns a machine in Idle with the connection
// lifecycle registered:
//
//	idle -> connecting -> open -> closed -> connecting ...
//	connecting -> closed       (handshake failed)
//	any -> idle                (explicit disconnect)
func NewConnectionMachine() *Machine {
	m := NewMachine(Idle)
	m.AddTransition(Idle, Connecting, nil)
	m.AddTransition(Closed, Connecting, nil)
	m.AddTransition(Connecting, Open, nil)
	m.AddTransition(Connecting, Closed, nil)
	m.AddTransition(Open, Closed, nil)
	for _, s := range []ConnState{Idle, Connecting, Open, Closed} {
		m.AddTransition(s, Idle, nil)
	}
	return m
}

func (sm *Machine) AddTransition(from, to ConnState, condition func() bool) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if _, exists := sm.transitions[from]; !exists {
		sm.transitions[from] = make(map[ConnState]func() bool)
	}
	sm.transitions[from][to] = condition
}

// OnEnter registers fn to run after the machine enters state. Hooks run
// outside the machine lock.
func (sm *Machine) OnEnter(state ConnState, fn func(from ConnState)) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.onEnter[state] = append(sm.onEnter[state], fn)
}

// ChangeState moves to newState. reason is kept as the cause of the current
// state (meaningful for Closed) and cleared otherwise.
func (sm *Machine) ChangeState(newState ConnState, reason error) error {
	sm.mutex.Lock()

	from := sm.currentState
	conditions, exists := sm.transitions[from]
	if !exists {
		sm.mutex.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, from, newState)
	}
	condition, exists := conditions[newState]
	if !exists || (condition != nil && !condition()) {
		sm.mutex.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, from, newState)
	}

	sm.currentState = newState
	sm.reason = reason
	hooks := append([]func(ConnState){}, sm.onEnter[newState]...)
	sm.mutex.Unlock()

	for _, fn := range hooks {
		fn(from)
	}
	return nil
}

func (sm *Machine) Current() ConnState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

// Reason returns the error that caused the current state, if any.
func (sm *Machine) Reason() error {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.reason
}
