package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/qualys/compliance-console/internal/backend"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrUnauthorized       = errors.New("unauthorized")
)

// Operator is a console user.
type Operator struct {
	Username     string
	Name         string
	PasswordHash string
}

// Claims identify the operator and the console session they own.
type Claims struct {
	SessionID string `json:"sid"`
	Username  string `json:"username"`
	Name      string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Session is the result of a successful login.
type Session struct {
	Claims       *Claims
	Token        string
	ExpiresAt    time.Time
	BackendToken string
}

type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
	Issuer      string
	CookieName  string
	Secure      bool
}

// TokenExchanger obtains a backend bearer token. *backend.Client
// satisfies it.
type TokenExchanger interface {
	Login(ctx context.Context, username, password string) (*backend.Token, error)
}

type Service struct {
	config    Config
	operators OperatorStore
	logger    *slog.Logger
	now       func() time.Time
	check     func(password, hash string) bool

	exchanger       TokenExchanger
	backendUser     string
	backendPassword string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithBackendCredentials makes every login also exchange the service
// credentials for a backend token.
func WithBackendCredentials(exchanger TokenExchanger, username, password string) Option {
	return func(s *Service) {
		s.exchanger = exchanger
		s.backendUser = username
		s.backendPassword = password
	}
}

func NewService(config Config, operators OperatorStore, opts ...Option) *Service {
	if config.TokenExpiry == 0 {
		config.TokenExpiry = 8 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "compliance-console"
	}
	if config.CookieName == "" {
		config.CookieName = "console_session"
	}

	s := &Service{
		config:    config,
		operators: operators,
		logger:    slog.Default(),
		now:       time.Now,
		check:     CheckPassword,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// dummyHash is compared against when the username is unknown, so a failed
// login costs one bcrypt comparison either way.
var dummyHash = sync.OnceValue(func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("compliance-console"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("auth: generating dummy hash: %v", err))
	}
	return string(h)
})

// Login checks the operator's password and starts a new session.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	op, err := s.operators.GetOperator(ctx, username)
	if err != nil {
		s.check(password, dummyHash())
		return nil, ErrInvalidCredentials
	}
	if !s.check(password, op.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	sess, err := s.issue(op)
	if err != nil {
		return nil, err
	}

	if sess.BackendToken, err = s.BackendToken(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("operator logged in", "user", op.Username, "session", sess.Claims.SessionID)
	return sess, nil
}

// BackendToken exchanges the configured service credentials for a backend
// bearer token. It returns "" when no credentials are configured.
func (s *Service) BackendToken(ctx context.Context) (string, error) {
	if s.exchanger == nil || s.backendUser == "" {
		return "", nil
	}
	tok, err := s.exchanger.Login(ctx, s.backendUser, s.backendPassword)
	if err != nil {
		return "", fmt.Errorf("backend login: %w", err)
	}
	return tok.AccessToken, nil
}

func (s *Service) issue(op *Operator) (*Session, error) {
	now := s.now()
	expiresAt := now.Add(s.config.TokenExpiry)

	claims := &Claims{
		SessionID: uuid.New().String(),
		Username:  op.Username,
		Name:      op.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.config.Issuer,
			Subject:   op.Username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &Session{Claims: claims, Token: signed, ExpiresAt: expiresAt}, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// SetCookie stores the session token in an HttpOnly cookie.
func (s *Service) SetCookie(w http.ResponseWriter, sess *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Service) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// FromRequest validates the session cookie, falling back to a bearer
// header for API clients.
func (s *Service) FromRequest(r *http.Request) (*Claims, error) {
	if c, err := r.Cookie(s.config.CookieName); err == nil && c.Value != "" {
		return s.ValidateToken(c.Value)
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
		return s.ValidateToken(parts[1])
	}
	return nil, ErrUnauthorized
}

type contextKey string

const ClaimsContextKey contextKey = "claims"

func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	return claims, ok
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}

// RequireSession rejects requests without a valid session. Page requests
// are redirected to loginPath; /api requests get 401.
func (s *Service) RequireSession(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := s.FromRequest(r)
			if err != nil {
				if strings.HasPrefix(r.URL.Path, "/api/") {
					msg := "unauthorized"
					if errors.Is(err, ErrTokenExpired) {
						msg = "token expired"
					}
					http.Error(w, msg, http.StatusUnauthorized)
					return
				}
				if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrInvalidToken) {
					s.ClearCookie(w)
				}
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
