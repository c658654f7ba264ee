package view

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// Manager owns the open game views, one per game id.
type Manager struct {
	deps  Deps
	opts  Options
	views map[int64]*GameView
	mutex sync.RWMutex
}

func NewManager(deps Deps, opts Options) *Manager {
	return &Manager{
		deps:  deps,
		opts:  opts,
		views: make(map[int64]*GameView),
	}
}

// Open returns the view for gameID, opening it first if needed.
func (m *Manager) Open(ctx context.Context, gameID int64) (*GameView, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if v, exists := m.views[gameID]; exists {
		return v, nil
	}
	v := NewGameView(gameID, m.deps, m.opts)
	if err := v.Open(ctx); err != nil {
		return nil, err
	}
	m.views[gameID] = v
	return v, nil
}

func (m *Manager) Get(gameID int64) (*GameView, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	v, exists := m.views[gameID]
	return v, exists
}

func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.views)
}

func (m *Manager) Close(gameID int64) error {
	m.mutex.Lock()
	v, exists := m.views[gameID]
	delete(m.views, gameID)
	m.mutex.Unlock()

	if !exists {
		return nil
	}
	return v.Close()
}

// CloseAll closes every view and combines their errors.
func (m *Manager) CloseAll() error {
	m.mutex.Lock()
	views := m.views
	m.views = make(map[int64]*GameView)
	m.mutex.Unlock()

	var err error
	for _, v := range views {
		err = multierr.Append(err, v.Close())
	}
	return err
}
