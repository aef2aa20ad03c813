package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/qualys/compliance-console/internal/archive"
	"github.com/qualys/compliance-console/internal/auth"
	"github.com/qualys/compliance-console/internal/backend"
	"github.com/qualys/compliance-console/internal/config"
	"github.com/qualys/compliance-console/internal/dashboard"
	"github.com/qualys/compliance-console/internal/notifications"
	"github.com/qualys/compliance-console/internal/scheduler"
	"github.com/qualys/compliance-console/internal/session"
	"github.com/qualys/compliance-console/internal/store"
	"github.com/qualys/compliance-console/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("compliance-console %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// .env is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client, err := backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
	}, backend.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("initializing backend client: %w", err)
	}

	authSvc, err := newAuthService(cfg, client, logger)
	if err != nil {
		return err
	}

	sessionStore, closeSessions, err := newSessionStore(cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	activity, closeActivity, err := newActivityStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeActivity()

	notifier := notifications.NewService(notifications.Config{
		MinSeverity: notifications.ParseSeverity(cfg.Notifications.MinSeverity),
		Slack: notifications.SlackConfig{
			WebhookURL: cfg.Notifications.Slack.WebhookURL,
			Channel:    cfg.Notifications.Slack.Channel,
			Enabled:    cfg.Notifications.Slack.Enabled,
		},
		Email: notifications.EmailConfig{
			SMTPHost: cfg.Notifications.Email.SMTPHost,
			SMTPPort: cfg.Notifications.Email.SMTPPort,
			Username: cfg.Notifications.Email.Username,
			Password: cfg.Notifications.Email.Password,
			From:     cfg.Notifications.Email.From,
			To:       cfg.Notifications.Email.To,
			Enabled:  cfg.Notifications.Email.Enabled,
		},
	}, logger)
	defer notifier.Close()

	archiver, err := archive.New(ctx, cfg.Archive, logger)
	if err != nil {
		return fmt.Errorf("initializing archive: %w", err)
	}
	if archiver != nil {
		defer archiver.Close()
	}

	recorder := store.NewRecorder(activity, logger)
	newApp := func(state dashboard.State) *dashboard.App {
		opts := []dashboard.Option{
			dashboard.WithState(state),
			dashboard.WithLogger(logger),
			dashboard.WithFallback(dashboard.FallbackPolicy(cfg.Console.Fallback)),
			dashboard.WithObserver(recorder),
		}
		if notifier.Enabled() {
			opts = append(opts, dashboard.WithObserver(notifier))
		}
		if archiver != nil {
			opts = append(opts, dashboard.WithArchiver(archiver))
		}
		return dashboard.New(client.WithToken(state.AuthToken), opts...)
	}

	sessions := session.NewManager(sessionStore, newApp, cfg.Session.TTL, session.WithLogger(logger))
	defer sessions.Close()
	go sessions.Run(ctx)

	sched, err := newScheduler(ctx, cfg, authSvc, newApp, logger)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	server, err := web.NewServer(cfg, authSvc, sessions,
		web.WithLogger(logger),
		web.WithActivityStore(activity),
		web.WithScheduler(sched),
		web.WithBackend(client),
	)
	if err != nil {
		return fmt.Errorf("initializing server: %w", err)
	}

	return server.Run(ctx)
}

func newAuthService(cfg *config.Config, client *backend.Client, logger *slog.Logger) (*auth.Service, error) {
	ops := make([]auth.Operator, len(cfg.Auth.Operators))
	for i, op := range cfg.Auth.Operators {
		ops[i] = auth.Operator{Username: op.Username, Name: op.Name, PasswordHash: op.PasswordHash}
	}
	operators, err := auth.NewStaticOperatorStore(ops)
	if err != nil {
		return nil, fmt.Errorf("loading operators: %w", err)
	}
	if operators.Len() == 0 {
		logger.Warn("no operators configured, nobody can sign in")
	}

	opts := []auth.Option{auth.WithLogger(logger)}
	if cfg.Backend.Auth.Username != "" {
		opts = append(opts, auth.WithBackendCredentials(client, cfg.Backend.Auth.Username, cfg.Backend.Auth.Password))
	}

	return auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		CookieName:  cfg.Auth.CookieName,
		Secure:      cfg.Auth.Secure,
	}, operators, opts...), nil
}

func newSessionStore(cfg *config.Config) (session.Store, func(), error) {
	if cfg.Session.Store != "redis" {
		return session.NewMemoryStore(), func() {}, nil
	}

	rs, err := session.NewRedisStore(session.RedisConfig{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing session store: %w", err)
	}
	return rs, func() { _ = rs.Close() }, nil
}

func newActivityStore(ctx context.Context, cfg *config.Config) (store.ActivityStore, func(), error) {
	if !cfg.Database.Enabled() {
		return store.NopActivityStore{}, func() {}, nil
	}

	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("migrating store: %w", err)
	}
	return st, func() { _ = st.Close() }, nil
}

// newScheduler registers the configured jobs against a headless app that
// signs in to the backend with the service credentials, if any.
func newScheduler(ctx context.Context, cfg *config.Config, authSvc *auth.Service, newApp session.Factory, logger *slog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler(logger)
	if len(cfg.Schedule) == 0 {
		return sched, nil
	}

	state := dashboard.State{SessionID: "scheduler", User: "scheduler"}
	if token, err := authSvc.BackendToken(ctx); err != nil {
		logger.Warn("scheduler backend login failed, running jobs unauthenticated", "error", err)
	} else {
		state.AuthToken = token
	}
	scheduler.ActionHandlers(sched, newApp(state))

	for _, job := range cfg.Schedule {
		err := sched.AddJob(&scheduler.Job{
			Name:     job.Name,
			Schedule: job.Spec,
			JobType:  scheduler.JobType(job.Action),
			Enabled:  job.IsEnabled(),
		})
		if err != nil {
			return nil, fmt.Errorf("scheduling %s: %w", job.Name, err)
		}
	}
	return sched, nil
}
