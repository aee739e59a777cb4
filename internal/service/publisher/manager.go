package publisher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifuryst/herald/internal/models"
)

// Manager is the registry of publishers and fans publish calls out to them.
type Manager struct {
	publishers map[string]Publisher
	logger     *zap.Logger
	timeout    time.Duration
	now        func() time.Time
}

func NewPublishManager(logger *zap.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		publishers: make(map[string]Publisher),
		logger:     logger,
		timeout:    timeout,
		now:        time.Now,
	}
}

func (m *Manager) RegisterPublisher(publisher Publisher) error {
	platformName := normalize(publisher.GetPlatformName())
	if platformName == "" {
		return fmt.Errorf("publisher has no platform name")
	}
	if _, exists := m.publishers[platformName]; exists {
		return fmt.Errorf("publisher for platform %s already registered", platformName)
	}

	m.publishers[platformName] = publisher
	m.logger.Info("Publisher registered", zap.String("platform", platformName))
	return nil
}

func (m *Manager) GetPublisher(platformName string) (Publisher, error) {
	publisher, exists := m.publishers[normalize(platformName)]
	if !exists {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownPlatform, platformName)
	}
	return publisher, nil
}

// Platforms lists registered platform names in sorted order.
func (m *Manager) Platforms() []string {
	names := make([]string, 0, len(m.publishers))
	for name := range m.publishers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolvePlatforms normalises and de-duplicates requested, substituting
// defaults when it is empty. Any unregistered name fails the whole request.
func (m *Manager) ResolvePlatforms(requested, defaults []string) ([]string, error) {
	if len(requested) == 0 {
		requested = defaults
	}

	platforms := make([]string, 0, len(requested))
	seen := make(map[string]bool, len(requested))
	var unknown []string

	for _, name := range requested {
		name = normalize(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if _, exists := m.publishers[name]; !exists {
			unknown = append(unknown, name)
			continue
		}
		platforms = append(platforms, name)
	}

	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownPlatform, strings.Join(unknown, ", "))
	}
	if len(platforms) == 0 {
		return nil, fmt.Errorf("%w: no platforms requested", models.ErrUnknownPlatform)
	}
	return platforms, nil
}

// PublishToPlatforms invokes every named publisher concurrently and returns
// one outcome per platform in the order given. Platforms must already be
// resolved.
func (m *Manager) PublishToPlatforms(ctx context.Context, content *models.Content, platforms []string) []models.PublishOutcome {
	outcomes := make([]models.PublishOutcome, len(platforms))

	// Publishers never fail the group, so no sibling is ever cancelled.
	var g errgroup.Group
	for i, platformName := range platforms {
		g.Go(func() error {
			outcomes[i] = m.publishOne(ctx, platformName, content)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (m *Manager) publishOne(ctx context.Context, platformName string, content *models.Content) (outcome models.PublishOutcome) {
	start := m.now()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Publisher panicked",
				zap.String("platform", platformName),
				zap.Any("panic", r))
			outcome = models.Failed(platformName, fmt.Sprintf("publisher panicked: %v", r), m.now())
		}
	}()

	publisher, err := m.GetPublisher(platformName)
	if err != nil {
		return models.Failed(platformName, err.Error(), start)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	outcome = sanitize(publisher.Publish(callCtx, content), platformName, start)

	m.logger.Info("Publishing completed",
		zap.String("platform", platformName),
		zap.Bool("success", outcome.Success),
		zap.String("external_id", outcome.ExternalID),
		zap.String("error", outcome.Error),
		zap.Duration("elapsed", m.now().Sub(start)))
	return outcome
}

// sanitize enforces the outcome field rules regardless of what a publisher returned.
func sanitize(outcome models.PublishOutcome, platformName string, start time.Time) models.PublishOutcome {
	outcome.Platform = platformName
	if outcome.AttemptedAt.IsZero() {
		outcome.AttemptedAt = start
	}
	if outcome.Success {
		outcome.Error = ""
		return outcome
	}
	outcome.ExternalID = ""
	outcome.ExternalURL = ""
	if outcome.Error == "" {
		outcome.Error = "unknown error"
	}
	return outcome
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
