package service

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/ifuryst/herald/internal/config"
)

const (
	// SessionCookie carries the operator session id.
	SessionCookie = "herald_session"
	// OperatorKey is the gin context key holding the authenticated operator name.
	OperatorKey = "operator"
	// DashboardOperator is recorded as approver when login is disabled.
	DashboardOperator = "dashboard"
)

type session struct {
	operator  string
	expiresAt time.Time
}

// AuthService guards the review API with TOTP operator sessions and an
// optional static API key. Sessions live in memory and end on restart.
type AuthService struct {
	logger     *zap.Logger
	totpSecret string
	operator   string
	apiKey     string
	ttl        time.Duration

	mu       sync.Mutex
	sessions map[string]session
	now      func() time.Time
}

func NewAuthService(cfg *config.AuthConfig, logger *zap.Logger) *AuthService {
	ttl := config.Duration(cfg.SessionTTL)
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if cfg.TOTPSecret == "" {
		logger.Warn("auth.totp_secret is empty, review API is open to anyone who can reach it")
	}
	return &AuthService{
		logger:     logger,
		totpSecret: cfg.TOTPSecret,
		operator:   cfg.Operator,
		apiKey:     cfg.APIKey,
		ttl:        ttl,
		sessions:   make(map[string]session),
		now:        time.Now,
	}
}

// Enabled reports whether requests must authenticate.
func (a *AuthService) Enabled() bool {
	return a.totpSecret != ""
}

// GenerateSecret creates a new TOTP secret and its otpauth:// URL for authenticator apps.
func GenerateSecret(issuer, accountName string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	return key.Secret(), key.URL(), nil
}

func (a *AuthService) ValidateToken(token string) bool {
	valid := totp.Validate(strings.TrimSpace(token), a.totpSecret)
	if valid {
		a.logger.Info("TOTP token validation successful")
	} else {
		a.logger.Warn("TOTP token validation failed")
	}
	return valid
}

// Login exchanges a TOTP code for a session id.
func (a *AuthService) Login(code string) (string, bool) {
	if !a.Enabled() || !a.ValidateToken(code) {
		return "", false
	}
	return a.CreateSession(), true
}

func (a *AuthService) CreateSession() string {
	id := uuid.NewString()

	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for key, s := range a.sessions {
		if now.After(s.expiresAt) {
			delete(a.sessions, key)
		}
	}
	a.sessions[id] = session{operator: a.operator, expiresAt: now.Add(a.ttl)}
	return id
}

func (a *AuthService) Logout(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, id)
}

// SessionTTL is the lifetime of a new session.
func (a *AuthService) SessionTTL() time.Duration {
	return a.ttl
}

func (a *AuthService) lookupSession(id string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	if !ok {
		return "", false
	}
	if a.now().After(s.expiresAt) {
		delete(a.sessions, id)
		return "", false
	}
	return s.operator, true
}

// Authenticate resolves the operator behind a request, from either a
// bearer API key or the session cookie.
func (a *AuthService) Authenticate(c *gin.Context) (string, bool) {
	if !a.Enabled() {
		return DashboardOperator, true
	}

	if header := c.GetHeader("Authorization"); a.apiKey != "" && strings.HasPrefix(header, "Bearer ") {
		key := strings.TrimPrefix(header, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) == 1 {
			return a.operator, true
		}
		return "", false
	}

	id, err := c.Cookie(SessionCookie)
	if err != nil || id == "" {
		return "", false
	}
	return a.lookupSession(id)
}

func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		operator, ok := a.Authenticate(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		c.Set(OperatorKey, operator)
		c.Next()
	}
}
