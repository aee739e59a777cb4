package service

import (
	"context"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ifuryst/herald/internal/config"
	"github.com/ifuryst/herald/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("herald"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(connStr), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func TestPipelineStore(t *testing.T) {
	db := newTestDB(t)
	store := NewPipelineStore(db, zap.NewNop())
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		p := models.NewPipeline(sampleContent(), base)
		require.NoError(t, store.Create(ctx, p, "generator"))

		got, err := store.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDraft, got.Status)
		assert.Equal(t, int64(1), got.Version)
		require.NotNil(t, got.Content)
		assert.Equal(t, p.Content.ShortForm.Text, got.Content.ShortForm.Text)
		assert.Equal(t, p.Content.LongForm.Tags, got.Content.LongForm.Tags)
		assert.Empty(t, got.PlatformResults)
	})

	t.Run("get unknown", func(t *testing.T) {
		_, err := store.Get(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("save bumps version and rejects stale writes", func(t *testing.T) {
		p := models.NewPipeline(sampleContent(), base)
		require.NoError(t, store.Create(ctx, p, "generator"))

		stale, err := store.Get(ctx, p.ID)
		require.NoError(t, err)

		require.NoError(t, p.Approve("alice", base.Add(time.Minute)))
		require.NoError(t, store.Save(ctx, p, Change{Event: &models.PipelineEvent{
			FromStatus: models.StatusDraft, ToStatus: models.StatusApproved, Actor: "alice",
		}}))
		assert.Equal(t, int64(2), p.Version)

		require.NoError(t, stale.Reject(base.Add(2*time.Minute)))
		err = store.Save(ctx, stale, Change{})
		assert.ErrorIs(t, err, models.ErrConcurrentUpdate)

		got, err := store.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, got.Status)
		assert.Equal(t, "alice", got.ApprovedBy)
		require.NotNil(t, got.ApprovedAt)
	})

	t.Run("save unknown", func(t *testing.T) {
		p := models.NewPipeline(sampleContent(), base)
		err := store.Save(ctx, p, Change{})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("publish results and history", func(t *testing.T) {
		p := models.NewPipeline(sampleContent(), base)
		require.NoError(t, store.Create(ctx, p, "generator"))
		require.NoError(t, p.Approve("alice", base))
		require.NoError(t, store.Save(ctx, p, Change{}))

		outcomes := []models.PublishOutcome{
			models.Succeeded("linkedin", "urn:li:share:1", "https://www.linkedin.com/feed/update/urn:li:share:1", base),
			models.Failed("medium", "401: invalid token", base),
		}
		require.NoError(t, p.RecordPublication(outcomes, base.Add(time.Minute)))
		attempts := []models.PublishAttempt{
			models.NewPublishAttempt(p.ID, outcomes[0]),
			models.NewPublishAttempt(p.ID, outcomes[1]),
		}
		require.NoError(t, store.Save(ctx, p, Change{
			Event:    &models.PipelineEvent{FromStatus: models.StatusApproved, ToStatus: models.StatusPublished, Actor: "alice"},
			Attempts: attempts,
		}))

		got, err := store.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPublished, got.Status)
		require.Len(t, got.PlatformResults, 2)
		assert.True(t, got.PlatformResults["linkedin"].Success)
		assert.Equal(t, "401: invalid token", got.PlatformResults["medium"].Error)

		history, err := store.History(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, history.Attempts, 2)
		require.Len(t, history.Events, 2)
		assert.Equal(t, models.StatusDraft, history.Events[0].ToStatus)
		assert.Equal(t, models.StatusPublished, history.Events[1].ToStatus)
	})

	t.Run("list newest first with status filter", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			p := models.NewPipeline(sampleContent(), base.Add(time.Duration(i+10)*time.Hour))
			require.NoError(t, store.Create(ctx, p, "generator"))
		}

		drafts, err := store.List(ctx, ListOptions{Status: models.StatusDraft, Limit: 2})
		require.NoError(t, err)
		require.Len(t, drafts, 2)
		assert.True(t, drafts[0].CreatedAt.After(drafts[1].CreatedAt))
		for _, p := range drafts {
			assert.Equal(t, models.StatusDraft, p.Status)
		}

		published, err := store.List(ctx, ListOptions{Status: models.StatusPublished})
		require.NoError(t, err)
		assert.Len(t, published, 1)
	})
}

func TestSecretStoreVersions(t *testing.T) {
	db := newTestDB(t)
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	store, err := NewSecretStore(db, config.CredentialsConfig{AgeIdentity: identity.String()}, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	t.Setenv("LINKEDIN_ACCESS_TOKEN", "")
	_, err = store.Get(ctx, SecretLinkedInAccessToken)
	assert.ErrorIs(t, err, models.ErrSecretNotFound)

	require.NoError(t, store.Put(ctx, SecretLinkedInAccessToken, "first"))
	require.NoError(t, store.Put(ctx, SecretLinkedInAccessToken, "second"))

	value, err := store.Get(ctx, SecretLinkedInAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "second", value)

	var versions []models.Secret
	require.NoError(t, db.Where("name = ?", SecretLinkedInAccessToken).Order("version").Find(&versions).Error)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)
}

func TestMonitoringService(t *testing.T) {
	db := newTestDB(t)
	monitoring := NewMonitoringService(db, zap.NewNop())

	require.NoError(t, monitoring.RecordError(LevelError, "publisher", "Failed to publish to medium", "401: invalid token",
		WithPlatform("medium"), WithPipeline("p-1")))
	require.NoError(t, monitoring.RecordError(LevelWarn, "oauth", "Token expires soon", "3 days left"))
	require.NoError(t, monitoring.RecordMetric("publish_failure", MetricCounter, 1, map[string]interface{}{"platform": "medium"}))
	require.NoError(t, monitoring.RecordMetric("publish_success", MetricCounter, 1, nil))

	logs, err := monitoring.GetRecentErrors(10, true)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	var publishErr models.ErrorLog
	for _, l := range logs {
		if l.Source == "publisher" {
			publishErr = l
		}
	}
	assert.Equal(t, "medium", publishErr.PlatformName)
	assert.Equal(t, "p-1", publishErr.PipelineID)

	require.NoError(t, monitoring.ResolveError(publishErr.ID))
	logs, err = monitoring.GetRecentErrors(10, true)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	assert.ErrorIs(t, monitoring.ResolveError(999999), gorm.ErrRecordNotFound)
	require.NoError(t, monitoring.CleanupOldData(30))
}
