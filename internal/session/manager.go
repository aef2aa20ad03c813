package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/qualys/compliance-console/internal/dashboard"
)

// Factory builds the app for a session from its snapshot.
type Factory func(state dashboard.State) *dashboard.App

// Manager maps session ids to live apps. Apps are rebuilt from the store
// when a request reaches a replica, or a restarted process, that has not
// seen the session yet.
type Manager struct {
	store   Store
	factory Factory
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	apps map[string]*liveApp
}

// liveApp is an app held in process. It expires with the session TTL unless
// Save extends it.
type liveApp struct {
	app       *dashboard.App
	expiresAt time.Time
}

const sweepInterval = time.Minute

type ManagerOption func(*Manager)

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(store Store, factory Factory, ttl time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		factory: factory,
		ttl:     ttl,
		logger:  slog.Default(),
		now:     time.Now,
		apps:    make(map[string]*liveApp),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a session for state and persists its snapshot.
func (m *Manager) Create(ctx context.Context, state dashboard.State) (*dashboard.App, error) {
	if state.SessionID == "" {
		return nil, errors.New("session id is required")
	}

	app := m.factory(state)
	if err := m.store.Save(ctx, app.State(), m.ttl); err != nil {
		app.Close()
		return nil, fmt.Errorf("creating session: %w", err)
	}

	m.mu.Lock()
	if old, ok := m.apps[state.SessionID]; ok {
		old.app.Close()
	}
	m.apps[state.SessionID] = &liveApp{app: app, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()

	m.logger.Info("session created", "session", state.SessionID, "user", state.User)
	return app, nil
}

// Get returns the app for id, restoring it from the store if needed. A live
// app past its TTL is closed and reported as ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*dashboard.App, error) {
	m.mu.Lock()
	app, ok := m.liveLocked(id)
	m.mu.Unlock()
	if ok {
		return app, nil
	}

	state, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if app, ok := m.liveLocked(id); ok {
		return app, nil
	}
	app = m.factory(*state)
	m.apps[id] = &liveApp{app: app, expiresAt: m.now().Add(m.ttl)}

	m.logger.Debug("session restored", "session", id, "page", state.CurrentPage)
	return app, nil
}

// liveLocked returns the open, unexpired app for id. Expired or closed
// entries are dropped.
func (m *Manager) liveLocked(id string) (*dashboard.App, bool) {
	entry, ok := m.apps[id]
	if !ok {
		return nil, false
	}
	if entry.app.Closed() || m.now().After(entry.expiresAt) {
		entry.app.Close()
		delete(m.apps, id)
		return nil, false
	}
	return entry.app, true
}

// Save persists the app's current snapshot and extends its TTL.
func (m *Manager) Save(ctx context.Context, app *dashboard.App) error {
	if err := m.store.Save(ctx, app.State(), m.ttl); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	id := app.State().SessionID
	m.mu.Lock()
	if entry, ok := m.apps[id]; ok && entry.app == app {
		entry.expiresAt = m.now().Add(m.ttl)
	}
	m.mu.Unlock()
	return nil
}

// Destroy closes the session's app, cancelling its in-flight work, and
// removes the snapshot.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	if entry, ok := m.apps[id]; ok {
		entry.app.Close()
		delete(m.apps, id)
	}
	m.mu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}
	m.logger.Info("session destroyed", "session", id)
	return nil
}

// Active returns the number of live apps in this process.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.apps)
}

// Close closes every live app. Snapshots are kept.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.apps {
		entry.app.Close()
		delete(m.apps, id)
	}
}

// sweeper is implemented by stores that hold expired snapshots until
// they are purged.
type sweeper interface {
	Sweep()
}

// Run sweeps expired apps, and expired snapshots of stores that need it,
// until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	expired := 0
	for id := range m.apps {
		if _, ok := m.liveLocked(id); !ok {
			expired++
		}
	}
	m.mu.Unlock()

	if s, ok := m.store.(sweeper); ok {
		s.Sweep()
	}
	if expired > 0 {
		m.logger.Debug("expired sessions swept", "count", expired)
	}
}
