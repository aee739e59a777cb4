package medium

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/herald/internal/models"
	"github.com/ifuryst/herald/internal/service/publisher"
	"github.com/ifuryst/herald/pkg/util"
)

// Secrets returns the newest version of a named credential.
type Secrets interface {
	Get(ctx context.Context, name string) (string, error)
}

type Config struct {
	APIBase       string
	PublishStatus string
}

// MediumPublisher posts Markdown articles with an integration token.
type MediumPublisher struct {
	cfg     Config
	secrets Secrets
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	userID    string
	userToken string
}

type postRequest struct {
	Title         string   `json:"title"`
	ContentFormat string   `json:"contentFormat"`
	Content       string   `json:"content"`
	Tags          []string `json:"tags"`
	PublishStatus string   `json:"publishStatus"`
}

type envelope struct {
	Data struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"data"`
}

func NewMediumPublisher(cfg Config, secrets Secrets, logger *zap.Logger) *MediumPublisher {
	if cfg.PublishStatus == "" {
		cfg.PublishStatus = StatusPublic
	}
	return &MediumPublisher{
		cfg:     cfg,
		secrets: secrets,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
		now:    time.Now,
	}
}

var _ publisher.Publisher = (*MediumPublisher)(nil)

func (p *MediumPublisher) GetPlatformName() string {
	return PlatformName
}

func (p *MediumPublisher) Publish(ctx context.Context, content *models.Content) models.PublishOutcome {
	if !content.HasLongForm() {
		return p.failed("no long-form draft to publish")
	}

	token, err := p.secrets.Get(ctx, TokenSecretName)
	if err != nil {
		if errors.Is(err, models.ErrSecretNotFound) {
			return p.failed("medium integration token is not configured")
		}
		return p.failed(fmt.Sprintf("failed to load medium token: %v", err))
	}

	userID, err := p.resolveUserID(ctx, token)
	if err != nil {
		return p.failed(err.Error())
	}

	article := content.LongForm
	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = util.MarkdownTitle(article.Markdown)
	}
	tags := util.CapTags(article.Tags, MaxTags)
	if tags == nil {
		tags = []string{}
	}

	payload := postRequest{
		Title:         title,
		ContentFormat: contentFormatMarkdown,
		Content:       article.Markdown,
		Tags:          tags,
		PublishStatus: p.cfg.PublishStatus,
	}

	var result envelope
	if err := p.do(ctx, http.MethodPost, "/users/"+userID+"/posts", token, payload, &result); err != nil {
		return p.failed(err.Error())
	}

	postID := result.Data.ID
	if postID == "" {
		p.logger.Warn("Medium accepted post without data.id")
		postID = UnknownPostID
	}

	return models.Succeeded(PlatformName, postID, result.Data.URL, p.now())
}

// resolveUserID looks the author up once per token.
func (p *MediumPublisher) resolveUserID(ctx context.Context, token string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.userID != "" && p.userToken == token {
		return p.userID, nil
	}

	var me envelope
	if err := p.do(ctx, http.MethodGet, "/me", token, nil, &me); err != nil {
		return "", fmt.Errorf("failed to resolve medium user: %w", err)
	}
	if me.Data.ID == "" {
		return "", errors.New("failed to resolve medium user: response has no data.id")
	}

	p.userID = me.Data.ID
	p.userToken = token
	p.logger.Info("Resolved Medium user", zap.String("user_id", p.userID))
	return p.userID, nil
}

func (p *MediumPublisher) do(ctx context.Context, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	url := strings.TrimRight(p.cfg.APIBase, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Error("Failed to send Medium request", zap.Error(err), zap.String("url", url))
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Error("Medium API error",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response_body", util.Truncate(string(respBody), maxErrorBody)))
		return fmt.Errorf("%d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			p.logger.Warn("Failed to parse Medium response", zap.Error(err))
		}
	}
	return nil
}

func (p *MediumPublisher) failed(diagnostic string) models.PublishOutcome {
	return models.Failed(PlatformName, util.Truncate(diagnostic, maxErrorBody), p.now())
}
