// Package oauth owns the LinkedIn authorization-code flow and the bearer
// token it produces.
package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ifuryst/herald/internal/models"
)

// TokenSecretName is the credential that holds the current token.
const TokenSecretName = "linkedin-access-token"

// DefaultScopes allow posting as the member and reading the basic profile.
var DefaultScopes = []string{"openid", "profile", "w_member_social"}

// CredentialStore is where the token is persisted. Get must return the newest version.
type CredentialStore interface {
	Get(ctx context.Context, name string) (string, error)
	Put(ctx context.Context, name, value string) error
}

type Config struct {
	ClientID        string
	ClientSecret    string
	RedirectURL     string
	AuthURL         string
	TokenURL        string
	UserInfoURL     string
	Scopes          []string
	DefaultValidity time.Duration
	Timeout         time.Duration
}

type Manager struct {
	cfg    Config
	oauth  *oauth2.Config
	store  CredentialStore
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	// exchangeMu keeps a single code exchange in flight.
	exchangeMu sync.Mutex

	mu      sync.Mutex
	token   *models.OAuthToken
	subject string
}

func NewManager(cfg Config, store CredentialStore, logger *zap.Logger) *Manager {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.DefaultValidity <= 0 {
		cfg.DefaultValidity = models.DefaultTokenValidity
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Manager{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:  store,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
	}
}

func (m *Manager) checkClientConfig() error {
	if m.cfg.ClientID == "" {
		return &models.ConfigurationError{Field: "linkedin.client_id"}
	}
	if m.cfg.ClientSecret == "" {
		return &models.ConfigurationError{Field: "linkedin.client_secret"}
	}
	return nil
}

// AuthorizationURL builds the consent page URL carrying the caller's CSRF state.
func (m *Manager) AuthorizationURL(state string) (string, error) {
	if err := m.checkClientConfig(); err != nil {
		return "", err
	}
	return m.oauth.AuthCodeURL(state), nil
}

// CompleteAuthorization verifies the callback state against the one issued
// for the session and only then exchanges the code.
func (m *Manager) CompleteAuthorization(ctx context.Context, expectedState, returnedState, code string) (*models.OAuthToken, error) {
	if expectedState == "" || returnedState == "" ||
		subtle.ConstantTimeCompare([]byte(expectedState), []byte(returnedState)) != 1 {
		return nil, models.ErrInvalidState
	}
	return m.ExchangeCode(ctx, code)
}

// ExchangeCode trades an authorization code for a token and stores it as the
// new current credential version.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (*models.OAuthToken, error) {
	if err := m.checkClientConfig(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: authorization code is empty", models.ErrAuthExchange)
	}

	m.exchangeMu.Lock()
	defer m.exchangeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)

	issuedAt := m.now()
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			m.logger.Error("Token exchange rejected",
				zap.Int("status", retrieveErr.Response.StatusCode))
			return nil, &models.AuthExchangeError{
				StatusCode: retrieveErr.Response.StatusCode,
				Body:       string(retrieveErr.Body),
			}
		}
		return nil, fmt.Errorf("%w: %w", models.ErrAuthExchange, err)
	}

	validity := m.cfg.DefaultValidity
	switch {
	case tok.ExpiresIn > 0:
		validity = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		if remaining := time.Until(tok.Expiry); remaining > 0 {
			validity = remaining.Round(time.Second)
		}
	}

	token := &models.OAuthToken{
		AccessToken:    tok.AccessToken,
		IssuedAt:       issuedAt,
		ValidityWindow: validity,
	}

	encoded, err := encodeToken(token)
	if err != nil {
		return nil, err
	}
	// Persist even if the caller has gone away.
	storeCtx, storeCancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.Timeout)
	defer storeCancel()
	if err := m.store.Put(storeCtx, TokenSecretName, encoded); err != nil {
		return nil, fmt.Errorf("%w: failed to store access token: %w", models.ErrPersistence, err)
	}

	m.mu.Lock()
	m.token = token
	m.subject = ""
	m.mu.Unlock()

	m.logger.Info("LinkedIn authorization completed",
		zap.Time("expires_at", token.ExpiresAt()))
	return token, nil
}

// Token returns the current token, loading it from the credential store on first use.
func (m *Manager) Token(ctx context.Context) (*models.OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTokenLocked(ctx)
}

func (m *Manager) currentTokenLocked(ctx context.Context) (*models.OAuthToken, error) {
	if m.token != nil {
		return m.token, nil
	}

	raw, err := m.store.Get(ctx, TokenSecretName)
	if err != nil {
		if errors.Is(err, models.ErrSecretNotFound) {
			return nil, models.ErrNotAuthorized
		}
		return nil, fmt.Errorf("failed to load access token: %w", err)
	}

	token := decodeToken(raw)
	if token.AccessToken == "" {
		return nil, models.ErrNotAuthorized
	}
	m.token = token
	return token, nil
}

// ResolveAccountIdentity returns the member id behind the token, fetching it
// once and caching it until the token changes.
func (m *Manager) ResolveAccountIdentity(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.subject != "" {
		subject := m.subject
		m.mu.Unlock()
		return subject, nil
	}
	token, err := m.currentTokenLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	subject, err := m.fetchSubject(ctx, token)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A new token may have been stored while the request was in flight.
	if m.token != token {
		return subject, nil
	}
	m.subject = subject
	m.logger.Info("Resolved LinkedIn account", zap.String("subject", subject))
	return subject, nil
}

// fetchSubject reads the member id from the userinfo endpoint without holding m.mu.
func (m *Manager) fetchSubject(ctx context.Context, token *models.OAuthToken) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.UserInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read userinfo response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", fmt.Errorf("%w: userinfo: %d: %s", models.ErrNotAuthorized, resp.StatusCode, string(body))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("userinfo request failed: %d: %s", resp.StatusCode, string(body))
	}

	var info struct {
		Sub string `json:"sub"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("failed to parse userinfo response: %w", err)
	}
	if info.Sub == "" {
		return "", errors.New("userinfo response has no sub")
	}

	return info.Sub, nil
}

// Status describes the current token without exposing it.
func (m *Manager) Status(ctx context.Context) (models.TokenStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, err := m.currentTokenLocked(ctx)
	if errors.Is(err, models.ErrNotAuthorized) {
		return models.TokenStatus{}, nil
	}
	if err != nil {
		return models.TokenStatus{}, err
	}

	status := models.TokenStatus{
		Connected: true,
		Subject:   m.subject,
	}
	if !token.IssuedAt.IsZero() {
		issuedAt := token.IssuedAt
		expiresAt := token.ExpiresAt()
		status.IssuedAt = &issuedAt
		status.ExpiresAt = &expiresAt
		status.Expired = token.Expired(m.now())
	}
	return status, nil
}

type storedToken struct {
	AccessToken string    `json:"access_token"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresIn   int64     `json:"expires_in"`
}

func encodeToken(token *models.OAuthToken) (string, error) {
	data, err := json.Marshal(storedToken{
		AccessToken: token.AccessToken,
		IssuedAt:    token.IssuedAt.UTC(),
		ExpiresIn:   int64(token.ValidityWindow / time.Second),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode access token: %w", err)
	}
	return string(data), nil
}

// decodeToken also accepts a bare token string written by hand.
func decodeToken(raw string) *models.OAuthToken {
	var stored storedToken
	if err := json.Unmarshal([]byte(raw), &stored); err != nil || stored.AccessToken == "" {
		return &models.OAuthToken{AccessToken: strings.TrimSpace(raw)}
	}
	return &models.OAuthToken{
		AccessToken:    stored.AccessToken,
		IssuedAt:       stored.IssuedAt,
		ValidityWindow: time.Duration(stored.ExpiresIn) * time.Second,
	}
}
