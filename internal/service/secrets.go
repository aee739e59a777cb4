package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/herald/internal/config"
	"github.com/ifuryst/herald/internal/models"
	"github.com/ifuryst/herald/internal/service/oauth"
	"github.com/ifuryst/herald/internal/service/publisher/medium"
)

// Credential names shared by the publishers and the token manager.
const (
	SecretLinkedInClientID     = "linkedin-client-id"
	SecretLinkedInClientSecret = "linkedin-client-secret"
	SecretLinkedInAccessToken  = oauth.TokenSecretName
	SecretMediumToken          = medium.TokenSecretName
)

// CredentialStore holds versioned secrets. Get returns the newest version.
type CredentialStore interface {
	Get(ctx context.Context, name string) (string, error)
	Put(ctx context.Context, name, value string) error
}

// SecretStore keeps every secret version in postgres, sealed with age.
type SecretStore struct {
	db          *gorm.DB
	identity    *age.X25519Identity
	envFallback bool
	logger      *zap.Logger
}

func NewSecretStore(db *gorm.DB, cfg config.CredentialsConfig, logger *zap.Logger) (*SecretStore, error) {
	store := &SecretStore{
		db:          db,
		envFallback: cfg.EnvFallback,
		logger:      logger,
	}

	if cfg.AgeIdentity != "" {
		identity, err := age.ParseX25519Identity(strings.TrimSpace(cfg.AgeIdentity))
		if err != nil {
			return nil, fmt.Errorf("failed to parse age identity: %w", err)
		}
		store.identity = identity
	} else {
		logger.Warn("No age identity configured, stored credentials are unavailable")
	}

	return store, nil
}

// Get returns the newest stored version of name. When nothing is stored and
// env fallback is enabled, LINKEDIN_CLIENT_ID style variables are consulted.
func (s *SecretStore) Get(ctx context.Context, name string) (string, error) {
	if s.identity != nil {
		var secret models.Secret
		err := s.db.WithContext(ctx).
			Where("name = ?", name).
			Order("version desc").
			First(&secret).Error
		switch {
		case err == nil:
			return openSecret(s.identity, secret.Ciphertext)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return "", fmt.Errorf("failed to load secret %s: %w", name, err)
		}
	}

	if s.envFallback {
		if value := os.Getenv(EnvName(name)); value != "" {
			return value, nil
		}
	}

	return "", fmt.Errorf("%w: %s", models.ErrSecretNotFound, name)
}

// Put stores value as the next version of name. Earlier versions are kept.
func (s *SecretStore) Put(ctx context.Context, name, value string) error {
	if s.identity == nil {
		return &models.ConfigurationError{Field: "credentials.age_identity"}
	}

	ciphertext, err := sealSecret(s.identity.Recipient(), value)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest int
		if err := tx.Model(&models.Secret{}).
			Where("name = ?", name).
			Select("COALESCE(MAX(version), 0)").
			Scan(&latest).Error; err != nil {
			return fmt.Errorf("failed to read secret version: %w", err)
		}

		secret := &models.Secret{
			Name:       name,
			Version:    latest + 1,
			Ciphertext: ciphertext,
		}
		if err := tx.Create(secret).Error; err != nil {
			return fmt.Errorf("failed to store secret %s: %w", name, err)
		}

		s.logger.Info("Stored new secret version", zap.String("name", name), zap.Int("version", secret.Version))
		return nil
	})
}

// EnvName maps a credential name to its environment variable.
func EnvName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func sealSecret(recipient age.Recipient, value string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}
	if _, err := io.WriteString(w, value); err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}
	return buf.Bytes(), nil
}

func openSecret(identity age.Identity, ciphertext []byte) (string, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}
