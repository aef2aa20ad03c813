package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/qualys/compliance-console/internal/reports"
)

var (
	ErrUnknownPage      = errors.New("unknown page")
	ErrClosed           = errors.New("console session closed")
	ErrActionInProgress = errors.New("action already in progress")
)

// FallbackPolicy decides what a table shows when its collection cannot be
// loaded.
type FallbackPolicy string

const (
	FallbackSample FallbackPolicy = "sample"
	FallbackEmpty  FallbackPolicy = "empty"
	FallbackError  FallbackPolicy = "error"
)

// State is the serialisable part of an App, persisted between requests.
type State struct {
	SessionID   string `json:"session_id"`
	User        string `json:"user"`
	AuthToken   string `json:"auth_token,omitempty"`
	CurrentPage PageID `json:"current_page"`
}

// maxNotifications bounds the pending notification queue.
const maxNotifications = 20

// App is the application state of one operator session: the current page,
// the backend credentials and the rendered view. All methods are safe for
// concurrent use.
type App struct {
	backend  Backend
	archiver Archiver
	exporter *reports.Exporter
	logger   *slog.Logger
	fallback FallbackPolicy
	now      func() time.Time

	modals    *ModalRegistry
	observers []Observer

	mu        sync.Mutex
	state     State
	view      View
	epoch     uint64
	pageCtx   context.Context
	cancel    context.CancelFunc
	closed    bool
	loaded    bool
	seq       map[resource]uint64
	committed map[resource]uint64
	notifySeq uint64

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

type Option func(*App)

func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

func WithFallback(policy FallbackPolicy) Option {
	return func(a *App) {
		a.fallback = policy
	}
}

func WithState(state State) Option {
	return func(a *App) {
		a.state = state
	}
}

func WithObserver(o Observer) Option {
	return func(a *App) {
		a.observers = append(a.observers, o)
	}
}

func WithArchiver(archiver Archiver) Option {
	return func(a *App) {
		a.archiver = archiver
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.now = now
	}
}

// New creates the state for one session. The restored page, if any, is
// shown but not loaded; the next Navigate loads it.
func New(be Backend, opts ...Option) *App {
	a := &App{
		backend:   be,
		exporter:  reports.NewExporter(),
		logger:    slog.Default(),
		fallback:  FallbackSample,
		now:       time.Now,
		view:      newView(),
		seq:       make(map[resource]uint64),
		committed: make(map[resource]uint64),
	}
	for _, opt := range opts {
		opt(a)
	}

	if !IsPage(a.state.CurrentPage) {
		a.state.CurrentPage = PageDashboard
	}
	a.rootCtx, a.rootCancel = context.WithCancel(context.Background())
	a.pageCtx, a.cancel = context.WithCancel(a.rootCtx)
	a.showPageLocked(a.state.CurrentPage)

	a.modals = NewModalRegistry()
	for _, id := range modalIDs {
		id := id
		a.modals.Subscribe(id, func(DismissTrigger) {
			a.closeModal(id)
		})
	}

	return a
}

func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *App) CurrentPage() PageID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.CurrentPage
}

// Snapshot returns a deep copy of the view.
func (a *App) Snapshot() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view.clone()
}

// Render returns the view and clears the pending notifications, which are
// shown exactly once.
func (a *App) Render() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := a.view.clone()
	a.view.Notifications = nil
	return v
}

func (a *App) Modals() *ModalRegistry {
	return a.modals
}

// Close cancels all in-flight work. Further loads and actions are dropped.
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.epoch++
	a.rootCancel()
}

func (a *App) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// DismissNotification removes a pending notification.
func (a *App) DismissNotification(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.view.Notifications[:0]
	for _, n := range a.view.Notifications {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	a.view.Notifications = kept
}

func (a *App) notifyLocked(level Level, message string) {
	a.notifySeq++
	a.view.Notifications = append(a.view.Notifications, Notification{
		ID:      a.notifySeq,
		Level:   level,
		Message: message,
		At:      a.now(),
	})
	if over := len(a.view.Notifications) - maxNotifications; over > 0 {
		a.view.Notifications = append([]Notification(nil), a.view.Notifications[over:]...)
	}
}

func (a *App) notify(level Level, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifyLocked(level, message)
}

func (a *App) setStatus(id StatusID, kind StatusKind, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.view.Statuses[id] = &Status{Text: text, Kind: kind, Visible: true}
}

func (a *App) closeModal(id ModalID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.view.Modals[id]; ok {
		m.Open = false
	}
}
