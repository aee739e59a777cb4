package medium

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/herald/internal/models"
)

type staticSecrets map[string]string

func (s staticSecrets) Get(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", models.ErrSecretNotFound, name)
}

type fakeMedium struct {
	server    *httptest.Server
	meCalls   atomic.Int32
	lastPost  postRequest
	postPath  string
	postReply string
	postCode  int
}

func newFakeMedium(t *testing.T) *fakeMedium {
	f := &fakeMedium{
		postCode:  http.StatusCreated,
		postReply: `{"data":{"id":"e6f36a","url":"https://medium.com/@me/e6f36a","publishStatus":"public"}}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/me", func(w http.ResponseWriter, r *http.Request) {
		f.meCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer medium-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"errors":[{"message":"Token was invalid.","code":6003}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":"user-42","username":"me"}}`))
	})
	mux.HandleFunc("/v1/users/", func(w http.ResponseWriter, r *http.Request) {
		f.postPath = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastPost))
		w.WriteHeader(f.postCode)
		_, _ = w.Write([]byte(f.postReply))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func article(tags ...string) *models.Content {
	return &models.Content{LongForm: &models.LongForm{
		Title:    "This Week in Agents",
		Markdown: "# This Week in Agents\n\nBody text.",
		Tags:     tags,
	}}
}

func TestPublishSuccess(t *testing.T) {
	fake := newFakeMedium(t)
	p := NewMediumPublisher(Config{APIBase: fake.server.URL + "/v1"}, staticSecrets{TokenSecretName: "medium-token"}, zap.NewNop())

	outcome := p.Publish(context.Background(), article("AI", "LLM", "Agents", "Cloud", "Go", "Rust", "Extra"))

	require.True(t, outcome.Success, outcome.Error)
	assert.Equal(t, "medium", outcome.Platform)
	assert.Equal(t, "e6f36a", outcome.ExternalID)
	assert.Equal(t, "https://medium.com/@me/e6f36a", outcome.ExternalURL)

	assert.Equal(t, "/v1/users/user-42/posts", fake.postPath)
	assert.Equal(t, "This Week in Agents", fake.lastPost.Title)
	assert.Equal(t, "markdown", fake.lastPost.ContentFormat)
	assert.Equal(t, "public", fake.lastPost.PublishStatus)
	assert.Len(t, fake.lastPost.Tags, MaxTags)
	assert.Equal(t, []string{"AI", "LLM", "Agents", "Cloud", "Go"}, fake.lastPost.Tags)
}

func TestPublishCachesUserID(t *testing.T) {
	fake := newFakeMedium(t)
	p := NewMediumPublisher(Config{APIBase: fake.server.URL + "/v1", PublishStatus: StatusDraft}, staticSecrets{TokenSecretName: "medium-token"}, zap.NewNop())

	for i := 0; i < 3; i++ {
		outcome := p.Publish(context.Background(), article("AI"))
		require.True(t, outcome.Success, outcome.Error)
	}
	assert.Equal(t, int32(1), fake.meCalls.Load())
	assert.Equal(t, "draft", fake.lastPost.PublishStatus)
}

func TestPublishDerivesTitleFromMarkdown(t *testing.T) {
	fake := newFakeMedium(t)
	p := NewMediumPublisher(Config{APIBase: fake.server.URL + "/v1"}, staticSecrets{TokenSecretName: "medium-token"}, zap.NewNop())

	content := &models.Content{LongForm: &models.LongForm{Markdown: "Intro\n\n# Derived Title\n\nbody"}}
	outcome := p.Publish(context.Background(), content)

	require.True(t, outcome.Success, outcome.Error)
	assert.Equal(t, "Derived Title", fake.lastPost.Title)
	assert.NotNil(t, fake.lastPost.Tags)
}

func TestPublishInvalidToken(t *testing.T) {
	fake := newFakeMedium(t)
	p := NewMediumPublisher(Config{APIBase: fake.server.URL + "/v1"}, staticSecrets{TokenSecretName: "wrong"}, zap.NewNop())

	outcome := p.Publish(context.Background(), article())

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "401")
	assert.Contains(t, outcome.Error, "Token was invalid.")

	// Failed lookups are retried on the next publish.
	p.Publish(context.Background(), article())
	assert.Equal(t, int32(2), fake.meCalls.Load())
}

func TestPublishUpstreamRejection(t *testing.T) {
	fake := newFakeMedium(t)
	fake.postCode = http.StatusBadRequest
	fake.postReply = `{"errors":[{"message":"Invalid tags","code":2004}]}`
	p := NewMediumPublisher(Config{APIBase: fake.server.URL + "/v1"}, staticSecrets{TokenSecretName: "medium-token"}, zap.NewNop())

	outcome := p.Publish(context.Background(), article())

	assert.False(t, outcome.Success)
	assert.Equal(t, `400: {"errors":[{"message":"Invalid tags","code":2004}]}`, outcome.Error)
}

func TestPublishMissingID(t *testing.T) {
	fake := newFakeMedium(t)
	fake.postReply = `{}`
	p := NewMediumPublisher(Config{APIBase: fake.server.URL + "/v1"}, staticSecrets{TokenSecretName: "medium-token"}, zap.NewNop())

	outcome := p.Publish(context.Background(), article())

	assert.True(t, outcome.Success)
	assert.Equal(t, UnknownPostID, outcome.ExternalID)
}

func TestPublishWithoutToken(t *testing.T) {
	p := NewMediumPublisher(Config{APIBase: "http://127.0.0.1:1"}, staticSecrets{}, zap.NewNop())

	outcome := p.Publish(context.Background(), article())

	assert.False(t, outcome.Success)
	assert.Equal(t, "medium integration token is not configured", outcome.Error)
}

func TestPublishWithoutLongForm(t *testing.T) {
	p := NewMediumPublisher(Config{}, staticSecrets{}, zap.NewNop())

	outcome := p.Publish(context.Background(), &models.Content{ShortForm: &models.ShortForm{Text: "post"}})

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "long-form")
}
