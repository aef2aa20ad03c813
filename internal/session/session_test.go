package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/qualys/compliance-console/internal/dashboard"
)

func newFactory(built *int) Factory {
	return func(state dashboard.State) *dashboard.App {
		*built++
		return dashboard.New(nil, dashboard.WithState(state))
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	state := dashboard.State{SessionID: "s1", User: "alice", CurrentPage: dashboard.PageReports}
	if err := store.Save(ctx, state, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *got != state {
		t.Errorf("expected %+v, got %+v", state, *got)
	}

	now = now.Add(2 * time.Minute)
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}

	store.Save(ctx, state, time.Minute)
	store.Delete(ctx, "s1")
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestManager_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	built := 0
	m := NewManager(NewMemoryStore(), newFactory(&built), time.Hour)
	defer m.Close()

	app, err := m.Create(ctx, dashboard.State{SessionID: "s1", User: "alice"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := m.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != app {
		t.Error("expected the live app to be returned")
	}
	if built != 1 {
		t.Errorf("expected 1 build, got %d", built)
	}

	if _, err := m.Create(ctx, dashboard.State{}); err == nil {
		t.Error("expected error for empty session id")
	}
}

func TestManager_RestoresFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Save(ctx, dashboard.State{
		SessionID:   "s2",
		User:        "bob",
		CurrentPage: dashboard.PageScan,
	}, time.Hour)

	built := 0
	m := NewManager(store, newFactory(&built), time.Hour)
	defer m.Close()

	app, err := m.Get(ctx, "s2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if app.CurrentPage() != dashboard.PageScan {
		t.Errorf("expected restored page scan, got %s", app.CurrentPage())
	}
	if app.State().User != "bob" {
		t.Errorf("expected user bob, got %q", app.State().User)
	}
	if m.Active() != 1 {
		t.Errorf("expected 1 active app, got %d", m.Active())
	}

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_Destroy(t *testing.T) {
	ctx := context.Background()
	built := 0
	store := NewMemoryStore()
	m := NewManager(store, newFactory(&built), time.Hour)

	app, _ := m.Create(ctx, dashboard.State{SessionID: "s3"})
	if err := m.Destroy(ctx, "s3"); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	if !app.Closed() {
		t.Error("destroyed app should be closed")
	}
	if _, err := store.Load(ctx, "s3"); !errors.Is(err, ErrNotFound) {
		t.Error("snapshot should be removed")
	}
	if _, err := m.Get(ctx, "s3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_SavePersistsPage(t *testing.T) {
	ctx := context.Background()
	built := 0
	store := NewMemoryStore()
	m := NewManager(store, newFactory(&built), time.Hour)
	defer m.Close()

	m.Create(ctx, dashboard.State{SessionID: "s4", CurrentPage: dashboard.PageUpload})
	app, _ := m.Get(ctx, "s4")

	// The upload page has no loader, so this does not touch the backend.
	if _, err := app.Navigate(ctx, dashboard.PageUpload); err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	if err := m.Save(ctx, app); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	m.Close()
	restored, err := m.Get(ctx, "s4")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if restored.CurrentPage() != dashboard.PageUpload {
		t.Errorf("expected upload page, got %s", restored.CurrentPage())
	}
	if built != 2 {
		t.Errorf("expected app to be rebuilt after Close, got %d builds", built)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CONSOLE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CONSOLE_TEST_REDIS_ADDR not set")
	}

	store, err := NewRedisStore(RedisConfig{Addr: addr})
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	state := dashboard.State{SessionID: "redis-test", User: "carol", CurrentPage: dashboard.PagePolicies}
	if err := store.Save(ctx, state, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	defer store.Delete(ctx, state.SessionID)

	got, err := store.Load(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *got != state {
		t.Errorf("expected %+v, got %+v", state, *got)
	}

	store.Delete(ctx, state.SessionID)
	if _, err := store.Load(ctx, state.SessionID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_ExpiresLiveApps(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := NewMemoryStore()
	store.now = clock
	built := 0
	m := NewManager(store, newFactory(&built), time.Minute)
	m.now = clock
	defer m.Close()

	app, err := m.Create(ctx, dashboard.State{SessionID: "s1", User: "alice"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	now = now.Add(45 * time.Second)
	if err := m.Save(ctx, app); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	now = now.Add(45 * time.Second)
	if got, err := m.Get(ctx, "s1"); err != nil || got != app {
		t.Fatalf("expected Save to extend the session, got app=%v err=%v", got == app, err)
	}

	now = now.Add(time.Hour)
	if _, err := m.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after TTL, got %v", err)
	}
	if !app.Closed() {
		t.Error("expired app should be closed")
	}
	if m.Active() != 0 {
		t.Errorf("expected 0 active apps, got %d", m.Active())
	}
}

func TestManager_SweepDropsIdleSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := NewMemoryStore()
	store.now = clock
	built := 0
	m := NewManager(store, newFactory(&built), time.Minute)
	m.now = clock
	defer m.Close()

	abandoned, _ := m.Create(ctx, dashboard.State{SessionID: "abandoned"})
	now = now.Add(50 * time.Second)
	kept, _ := m.Create(ctx, dashboard.State{SessionID: "kept"})

	now = now.Add(30 * time.Second)
	m.sweep()

	if !abandoned.Closed() {
		t.Error("abandoned app should be closed")
	}
	if kept.Closed() {
		t.Error("recent app should stay open")
	}
	if m.Active() != 1 {
		t.Errorf("expected 1 active app, got %d", m.Active())
	}
	if _, ok := store.entries["abandoned"]; ok {
		t.Error("expired snapshot should be swept from the store")
	}
	if _, ok := store.entries["kept"]; !ok {
		t.Error("live snapshot should be kept")
	}
}
