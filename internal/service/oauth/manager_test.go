package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/herald/internal/models"
)

type memoryStore struct {
	mu       sync.Mutex
	versions map[string][]string
	putErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{versions: map[string][]string{}}
}

func (s *memoryStore) Get(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.versions[name]
	if len(v) == 0 {
		return "", fmt.Errorf("%w: %s", models.ErrSecretNotFound, name)
	}
	return v[len(v)-1], nil
}

func (s *memoryStore) Put(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.versions[name] = append(s.versions[name], value)
	return nil
}

type fakeLinkedIn struct {
	server        *httptest.Server
	tokenCalls    atomic.Int32
	userinfoCalls atomic.Int32
	inFlight      atomic.Int32
	maxInFlight   atomic.Int32
	tokenStatus   int
	tokenBody     string
	lastForm      url.Values
	mu            sync.Mutex
}

func newFakeLinkedIn(t *testing.T) *fakeLinkedIn {
	f := &fakeLinkedIn{
		tokenStatus: http.StatusOK,
		tokenBody:   `{"access_token":"tok-1","expires_in":5184000,"token_type":"Bearer"}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v2/accessToken", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		n := f.inFlight.Add(1)
		defer f.inFlight.Add(-1)
		for {
			peak := f.maxInFlight.Load()
			if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)

		assert.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.lastForm = r.PostForm
		status, body := f.tokenStatus, f.tokenBody
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		f.userinfoCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"abc-member","name":"Test Member"}`))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeLinkedIn) config() Config {
	return Config{
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		RedirectURL:  "http://localhost:5334/auth/linkedin/callback",
		AuthURL:      "https://www.linkedin.com/oauth/v2/authorization",
		TokenURL:     f.server.URL + "/oauth/v2/accessToken",
		UserInfoURL:  f.server.URL + "/v2/userinfo",
		Timeout:      5 * time.Second,
	}
}

func TestAuthorizationURL(t *testing.T) {
	m := NewManager(Config{
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		RedirectURL:  "http://localhost/cb",
		AuthURL:      "https://www.linkedin.com/oauth/v2/authorization",
	}, newMemoryStore(), zap.NewNop())

	authURL, err := m.AuthorizationURL("abc123")
	require.NoError(t, err)
	assert.Contains(t, authURL, "state=abc123")
	assert.Contains(t, authURL, "client_id=client-123")
	assert.Contains(t, authURL, "response_type=code")

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "openid profile w_member_social", parsed.Query().Get("scope"))
}

func TestAuthorizationURLRequiresClientCredentials(t *testing.T) {
	m := NewManager(Config{ClientID: "client-123"}, newMemoryStore(), zap.NewNop())

	_, err := m.AuthorizationURL("abc123")
	require.ErrorIs(t, err, models.ErrConfiguration)
	var cfgErr *models.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "linkedin.client_secret", cfgErr.Field)
}

func TestExchangeCodePersistsToken(t *testing.T) {
	fake := newFakeLinkedIn(t)
	store := newMemoryStore()
	m := NewManager(fake.config(), store, zap.NewNop())
	issued := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }

	token, err := m.ExchangeCode(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token.AccessToken)
	assert.Equal(t, issued, token.IssuedAt)

	assert.Equal(t, "code-1", fake.lastForm.Get("code"))
	assert.Equal(t, "client-123", fake.lastForm.Get("client_id"))
	assert.Equal(t, "secret-456", fake.lastForm.Get("client_secret"))

	raw, err := store.Get(context.Background(), TokenSecretName)
	require.NoError(t, err)
	var stored storedToken
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "tok-1", stored.AccessToken)
	assert.InDelta(t, 5184000, stored.ExpiresIn, 5)
}

func TestExchangeCodeUpstreamFailure(t *testing.T) {
	fake := newFakeLinkedIn(t)
	fake.tokenStatus = http.StatusBadRequest
	fake.tokenBody = `{"error":"invalid_grant","error_description":"authorization code expired"}`
	store := newMemoryStore()
	m := NewManager(fake.config(), store, zap.NewNop())

	_, err := m.ExchangeCode(context.Background(), "stale")
	require.ErrorIs(t, err, models.ErrAuthExchange)

	var exchangeErr *models.AuthExchangeError
	require.True(t, errors.As(err, &exchangeErr))
	assert.Equal(t, http.StatusBadRequest, exchangeErr.StatusCode)
	assert.Contains(t, exchangeErr.Body, "authorization code expired")

	_, err = store.Get(context.Background(), TokenSecretName)
	assert.ErrorIs(t, err, models.ErrSecretNotFound)
}

func TestExchangeCodePersistFailureDoesNotCache(t *testing.T) {
	fake := newFakeLinkedIn(t)
	store := newMemoryStore()
	store.putErr = errors.New("db down")
	m := NewManager(fake.config(), store, zap.NewNop())

	_, err := m.ExchangeCode(context.Background(), "code-1")
	require.ErrorIs(t, err, models.ErrPersistence)

	_, err = m.Token(context.Background())
	assert.ErrorIs(t, err, models.ErrNotAuthorized)
}

func TestExchangesAreSerialized(t *testing.T) {
	fake := newFakeLinkedIn(t)
	m := NewManager(fake.config(), newMemoryStore(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.ExchangeCode(context.Background(), fmt.Sprintf("code-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(4), fake.tokenCalls.Load())
	assert.Equal(t, int32(1), fake.maxInFlight.Load())
}

func TestCompleteAuthorizationStateMismatch(t *testing.T) {
	fake := newFakeLinkedIn(t)
	m := NewManager(fake.config(), newMemoryStore(), zap.NewNop())

	cases := map[string][2]string{
		"mismatch":       {"expected", "forged"},
		"empty returned": {"expected", ""},
		"empty stored":   {"", "anything"},
	}
	for name, states := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := m.CompleteAuthorization(context.Background(), states[0], states[1], "code-1")
			assert.ErrorIs(t, err, models.ErrInvalidState)
		})
	}
	assert.Equal(t, int32(0), fake.tokenCalls.Load())
}

func TestCompleteAuthorizationExchanges(t *testing.T) {
	fake := newFakeLinkedIn(t)
	m := NewManager(fake.config(), newMemoryStore(), zap.NewNop())

	token, err := m.CompleteAuthorization(context.Background(), "s-1", "s-1", "code-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token.AccessToken)
	assert.Equal(t, int32(1), fake.tokenCalls.Load())
}

func TestResolveAccountIdentityCaches(t *testing.T) {
	fake := newFakeLinkedIn(t)
	m := NewManager(fake.config(), newMemoryStore(), zap.NewNop())

	_, err := m.ResolveAccountIdentity(context.Background())
	assert.ErrorIs(t, err, models.ErrNotAuthorized)
	assert.Equal(t, int32(0), fake.userinfoCalls.Load())

	_, err = m.ExchangeCode(context.Background(), "code-1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		sub, err := m.ResolveAccountIdentity(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "abc-member", sub)
	}
	assert.Equal(t, int32(1), fake.userinfoCalls.Load())

	// A new token invalidates the cached identity.
	_, err = m.ExchangeCode(context.Background(), "code-2")
	require.NoError(t, err)
	_, err = m.ResolveAccountIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.userinfoCalls.Load())
}

func TestResolveAccountIdentityDoesNotBlockStatus(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	userinfo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = w.Write([]byte(`{"sub":"slow-member"}`))
	}))
	t.Cleanup(userinfo.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	fake := newFakeLinkedIn(t)
	cfg := fake.config()
	cfg.UserInfoURL = userinfo.URL
	store := newMemoryStore()
	require.NoError(t, store.Put(context.Background(), TokenSecretName, "tok-1"))
	m := NewManager(cfg, store, zap.NewNop())

	resolved := make(chan string, 1)
	go func() {
		sub, err := m.ResolveAccountIdentity(context.Background())
		assert.NoError(t, err)
		resolved <- sub
	}()
	<-entered

	statusDone := make(chan models.TokenStatus, 1)
	go func() {
		status, err := m.Status(context.Background())
		assert.NoError(t, err)
		statusDone <- status
	}()

	select {
	case status := <-statusDone:
		assert.True(t, status.Connected)
		assert.Empty(t, status.Subject)
	case <-time.After(2 * time.Second):
		t.Fatal("Status blocked behind the userinfo request")
	}

	close(release)
	assert.Equal(t, "slow-member", <-resolved)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "slow-member", status.Subject)
}

func TestResolveAccountIdentityRejectedToken(t *testing.T) {
	fake := newFakeLinkedIn(t)
	store := newMemoryStore()
	require.NoError(t, store.Put(context.Background(), TokenSecretName, "revoked-token"))
	m := NewManager(fake.config(), store, zap.NewNop())

	_, err := m.ResolveAccountIdentity(context.Background())
	assert.ErrorIs(t, err, models.ErrNotAuthorized)

	// Failures are not cached.
	_, err = m.ResolveAccountIdentity(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(2), fake.userinfoCalls.Load())
}

func TestStatus(t *testing.T) {
	fake := newFakeLinkedIn(t)
	store := newMemoryStore()
	m := NewManager(fake.config(), store, zap.NewNop())
	issued := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Connected)

	_, err = m.ExchangeCode(context.Background(), "code-1")
	require.NoError(t, err)

	status, err = m.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Connected)
	require.NotNil(t, status.ExpiresAt)
	assert.WithinDuration(t, issued.Add(60*24*time.Hour), *status.ExpiresAt, time.Minute)
	assert.False(t, status.Expired)

	encoded, err := json.Marshal(status)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "tok-1")
}

func TestDecodeLegacyToken(t *testing.T) {
	token := decodeToken("  raw-token\n")
	assert.Equal(t, "raw-token", token.AccessToken)
	assert.True(t, token.IssuedAt.IsZero())

	encoded, err := encodeToken(&models.OAuthToken{AccessToken: "t", IssuedAt: time.Unix(0, 0), ValidityWindow: time.Hour})
	require.NoError(t, err)
	decoded := decodeToken(encoded)
	assert.Equal(t, "t", decoded.AccessToken)
	assert.Equal(t, time.Hour, decoded.ValidityWindow)
}
