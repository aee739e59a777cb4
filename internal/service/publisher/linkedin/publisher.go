package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/herald/internal/models"
	"github.com/ifuryst/herald/internal/service/publisher"
	"github.com/ifuryst/herald/pkg/util"
)

// Account supplies the bearer token and the member it belongs to.
type Account interface {
	Token(ctx context.Context) (*models.OAuthToken, error)
	ResolveAccountIdentity(ctx context.Context) (string, error)
}

type Config struct {
	APIBase    string
	APIVersion string
}

// LinkedInPublisher creates member posts through the Posts API.
type LinkedInPublisher struct {
	cfg     Config
	account Account
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time
}

type postRequest struct {
	Author                    string       `json:"author"`
	Commentary                string       `json:"commentary"`
	Visibility                string       `json:"visibility"`
	Distribution              distribution `json:"distribution"`
	LifecycleState            string       `json:"lifecycleState"`
	IsReshareDisabledByAuthor bool         `json:"isReshareDisabledByAuthor"`
}

type distribution struct {
	FeedDistribution               string   `json:"feedDistribution"`
	TargetEntities                 []string `json:"targetEntities"`
	ThirdPartyDistributionChannels []string `json:"thirdPartyDistributionChannels"`
}

func NewLinkedInPublisher(cfg Config, account Account, logger *zap.Logger) *LinkedInPublisher {
	return &LinkedInPublisher{
		cfg:     cfg,
		account: account,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
		now:    time.Now,
	}
}

var _ publisher.Publisher = (*LinkedInPublisher)(nil)

func (p *LinkedInPublisher) GetPlatformName() string {
	return PlatformName
}

func (p *LinkedInPublisher) Publish(ctx context.Context, content *models.Content) models.PublishOutcome {
	if !content.HasShortForm() {
		return p.failed("no short-form draft to publish")
	}

	token, err := p.account.Token(ctx)
	if err != nil {
		return p.failed(authDiagnostic(err))
	}

	subject, err := p.account.ResolveAccountIdentity(ctx)
	if err != nil {
		return p.failed(authDiagnostic(err))
	}

	payload := postRequest{
		Author:     authorURNPrefix + subject,
		Commentary: content.ShortForm.Text,
		Visibility: visibilityPublic,
		Distribution: distribution{
			FeedDistribution:               feedDistributionMain,
			TargetEntities:                 []string{},
			ThirdPartyDistributionChannels: []string{},
		},
		LifecycleState:            lifecyclePublished,
		IsReshareDisabledByAuthor: false,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return p.failed(fmt.Sprintf("failed to marshal post: %v", err))
	}

	url := strings.TrimRight(p.cfg.APIBase, "/") + postsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return p.failed(fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", restliProtocolVersion)
	req.Header.Set("Linkedin-Version", p.cfg.APIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Error("Failed to send LinkedIn request", zap.Error(err), zap.String("url", url))
		return p.failed(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		p.logger.Error("LinkedIn API error",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response_body", string(body)))
		return p.failed(fmt.Sprintf("%d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	postID := resp.Header.Get("x-restli-id")
	if postID == "" {
		p.logger.Warn("LinkedIn accepted post without x-restli-id")
		postID = UnknownPostID
	}

	return models.Succeeded(PlatformName, postID, feedURLPrefix+postID, p.now())
}

func (p *LinkedInPublisher) failed(diagnostic string) models.PublishOutcome {
	return models.Failed(PlatformName, util.Truncate(diagnostic, maxErrorBody), p.now())
}

func authDiagnostic(err error) string {
	if errors.Is(err, models.ErrNotAuthorized) {
		return fmt.Sprintf("not authorized, complete LinkedIn authorization first: %v", err)
	}
	return fmt.Sprintf("failed to resolve LinkedIn account: %v", err)
}
