package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/qualys/compliance-console/internal/dashboard"
)

// Activity is one recorded operator or scheduler action.
type Activity struct {
	ID        uuid.UUID `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Username  string    `json:"username" db:"username"`
	Action    string    `json:"action" db:"action"`
	Target    string    `json:"target" db:"target"`
	OK        bool      `json:"ok" db:"ok"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ActivityStore records actions and lists the most recent ones.
type ActivityStore interface {
	Record(ctx context.Context, ev dashboard.ActionEvent) error
	ListRecent(ctx context.Context, limit int) ([]Activity, error)
}

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultActivityLimit
	}
	if limit > maxActivityLimit {
		return maxActivityLimit
	}
	return limit
}

func (s *Store) Record(ctx context.Context, ev dashboard.ActionEvent) error {
	query := `
		INSERT INTO activity_log (id, session_id, username, action, target, ok, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		uuid.New(),
		ev.SessionID,
		ev.User,
		string(ev.Action),
		ev.Target,
		ev.OK,
		ev.Message,
		at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]Activity, error) {
	query := `
		SELECT id, session_id, username, action, target, ok, message, created_at
		FROM activity_log
		ORDER BY created_at DESC
		LIMIT $1
	`
	var entries []Activity
	if err := s.db.SelectContext(ctx, &entries, query, clampLimit(limit)); err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	return entries, nil
}

// NopActivityStore is used when no database is configured.
type NopActivityStore struct{}

func (NopActivityStore) Record(context.Context, dashboard.ActionEvent) error { return nil }

func (NopActivityStore) ListRecent(context.Context, int) ([]Activity, error) {
	return []Activity{}, nil
}

// Recorder adapts an ActivityStore to a dashboard observer. Failures are
// logged and never reach the action.
type Recorder struct {
	store  ActivityStore
	logger *slog.Logger
}

func NewRecorder(store ActivityStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

func (r *Recorder) ObserveAction(ctx context.Context, ev dashboard.ActionEvent) {
	if err := r.store.Record(ctx, ev); err != nil {
		r.logger.Error("failed to record activity", "action", ev.Action, "error", err)
	}
}

var (
	_ ActivityStore      = (*Store)(nil)
	_ ActivityStore      = NopActivityStore{}
	_ dashboard.Observer = (*Recorder)(nil)
)
