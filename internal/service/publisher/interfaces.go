package publisher

import (
	"context"

	"github.com/ifuryst/herald/internal/models"
)

// Publisher posts content to one external platform.
//
// Publish never returns an error: transport failures, rejected requests and
// missing credentials are reported as an outcome with Success set to false,
// so that one platform's failure cannot stop its siblings. Implementations
// do not retry.
type Publisher interface {
	GetPlatformName() string
	Publish(ctx context.Context, content *models.Content) models.PublishOutcome
}

// Func adapts a function to the Publisher interface.
type Func struct {
	Name string
	Fn   func(ctx context.Context, content *models.Content) models.PublishOutcome
}

func (f Func) GetPlatformName() string {
	return f.Name
}

func (f Func) Publish(ctx context.Context, content *models.Content) models.PublishOutcome {
	return f.Fn(ctx, content)
}
