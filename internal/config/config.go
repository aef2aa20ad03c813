package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	Console       ConsoleConfig       `yaml:"console"`
	Auth          AuthConfig          `yaml:"auth"`
	Session       SessionConfig       `yaml:"session"`
	Redis         RedisConfig         `yaml:"redis"`
	Database      DatabaseConfig      `yaml:"database"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Schedule      []ScheduleJobConfig `yaml:"schedule"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// Mutating console routes are limited per client IP.
	RateLimitRPS   int `yaml:"rate_limit_rps"`
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

type BackendConfig struct {
	BaseURL string            `yaml:"base_url"`
	Timeout time.Duration     `yaml:"timeout"`
	Auth    BackendAuthConfig `yaml:"auth"`
}

// BackendAuthConfig holds the service credentials exchanged at
// /api/auth/login. Empty Username disables the exchange.
type BackendAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type ConsoleConfig struct {
	Title string `yaml:"title"`
	// Fallback is one of "sample", "empty" or "error".
	Fallback       string `yaml:"fallback"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type AuthConfig struct {
	JWTSecret   string          `yaml:"jwt_secret"`
	TokenExpiry time.Duration   `yaml:"token_expiry"`
	CookieName  string          `yaml:"cookie_name"`
	Secure      bool            `yaml:"secure_cookie"`
	Operators   []OperatorEntry `yaml:"operators"`
}

type OperatorEntry struct {
	Username     string `yaml:"username"`
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"`
}

type SessionConfig struct {
	// Store is "memory" or "redis".
	Store string        `yaml:"store"`
	TTL   time.Duration `yaml:"ttl"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// Enabled reports whether an activity database is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.Database != ""
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type NotificationsConfig struct {
	MinSeverity string            `yaml:"min_severity"`
	Slack       SlackNotifyConfig `yaml:"slack"`
	Email       EmailNotifyConfig `yaml:"email"`
}

type SlackNotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type EmailNotifyConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type ScheduleJobConfig struct {
	Name string `yaml:"name"`
	// Spec is a cron expression (seconds optional) or descriptor such as "@every 6h".
	Spec string `yaml:"spec"`
	// Action is "scan" or "generate_report".
	Action  string `yaml:"action"`
	Enabled *bool  `yaml:"enabled"`
}

func (j ScheduleJobConfig) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

type ArchiveConfig struct {
	// Provider is "", "s3", "gcs" or "azure".
	Provider string      `yaml:"provider"`
	Prefix   string      `yaml:"prefix"`
	S3       S3Config    `yaml:"s3"`
	GCS      GCSConfig   `yaml:"gcs"`
	Azure    AzureConfig `yaml:"azure"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
}

type AzureConfig struct {
	AccountURL   string `yaml:"account_url"`
	Container    string `yaml:"container"`
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {

		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Validate rejects settings that would only fail later at request time.
func (c *Config) Validate() error {
	switch c.Console.Fallback {
	case "sample", "empty", "error":
	default:
		return fmt.Errorf("console.fallback: unknown policy %q", c.Console.Fallback)
	}

	switch c.Session.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("session.store: unknown store %q", c.Session.Store)
	}

	switch c.Archive.Provider {
	case "":
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required")
		}
	case "gcs":
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket is required")
		}
	case "azure":
		if c.Archive.Azure.AccountURL == "" || c.Archive.Azure.Container == "" {
			return fmt.Errorf("archive.azure.account_url and archive.azure.container are required")
		}
	default:
		return fmt.Errorf("archive.provider: unknown provider %q", c.Archive.Provider)
	}

	for i, job := range c.Schedule {
		if job.Spec == "" {
			return fmt.Errorf("schedule[%d]: spec is required", i)
		}
		switch job.Action {
		case "scan", "generate_report":
		default:
			return fmt.Errorf("schedule[%d]: unknown action %q", i, job.Action)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = 5
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = 10
	}

	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://localhost:8000"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 30 * time.Second
	}

	if c.Console.Title == "" {
		c.Console.Title = "Compliance Console"
	}
	if c.Console.Fallback == "" {
		c.Console.Fallback = "sample"
	}
	if c.Console.MaxUploadBytes == 0 {
		c.Console.MaxUploadBytes = 50 * 1024 * 1024
	}

	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "change-me-in-production"

		fmt.Println("WARNING: Using default JWT secret. Set auth.jwt_secret in production!")
	}
	if c.Auth.TokenExpiry == 0 {
		c.Auth.TokenExpiry = 8 * time.Hour
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "console_session"
	}

	if c.Session.Store == "" {
		c.Session.Store = "memory"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = c.Auth.TokenExpiry
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}

	if c.Notifications.MinSeverity == "" {
		c.Notifications.MinSeverity = "medium"
	}
	if c.Notifications.Email.SMTPPort == 0 {
		c.Notifications.Email.SMTPPort = 587
	}

	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "reports/"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}
