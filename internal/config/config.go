package config

import (
	"fmt"
	"strings"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"
	"github.com/ifuryst/herald/pkg/logger"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Logger      logger.Config     `yaml:"logger"`
	Auth        AuthConfig        `yaml:"auth"`
	Credentials CredentialsConfig `yaml:"credentials"`
	LinkedIn    LinkedInConfig    `yaml:"linkedin"`
	Medium      MediumConfig      `yaml:"medium"`
	Publishing  PublishingConfig  `yaml:"publishing"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

// DSN renders the postgres connection string for gorm.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		d.Host, d.Username, d.Password, d.Database, d.Port, d.SSLMode, d.TimeZone)
}

// AuthConfig controls operator access to the review API.
// An empty TOTPSecret disables operator login entirely.
type AuthConfig struct {
	TOTPSecret string `yaml:"totp_secret"`
	Operator   string `yaml:"operator"`
	APIKey     string `yaml:"api_key"`
	SessionTTL string `yaml:"session_ttl"`
}

type CredentialsConfig struct {
	// AgeIdentity is an AGE-SECRET-KEY-1... X25519 identity used to seal stored secrets.
	AgeIdentity string `yaml:"age_identity"`
	EnvFallback bool   `yaml:"env_fallback"`
}

type LinkedInConfig struct {
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	RedirectURL   string `yaml:"redirect_url"`
	APIVersion    string `yaml:"api_version"`
	AuthURL       string `yaml:"auth_url"`
	TokenURL      string `yaml:"token_url"`
	UserInfoURL   string `yaml:"userinfo_url"`
	APIBase       string `yaml:"api_base"`
	TokenValidity string `yaml:"token_validity"`
}

type MediumConfig struct {
	APIBase       string `yaml:"api_base"`
	PublishStatus string `yaml:"publish_status"`
}

type PublishingConfig struct {
	Timeout          string   `yaml:"timeout"`
	StoreTimeout     string   `yaml:"store_timeout"`
	DefaultPlatforms []string `yaml:"default_platforms"`
}

type SchedulerConfig struct {
	Interval string `yaml:"interval"`
	Enabled  bool   `yaml:"enabled"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Auth.Operator == "" {
		cfg.Auth.Operator = "operator"
	}
	if cfg.Auth.SessionTTL == "" {
		cfg.Auth.SessionTTL = "12h"
	}
	if cfg.LinkedIn.APIVersion == "" {
		cfg.LinkedIn.APIVersion = "202602"
	}
	if cfg.LinkedIn.AuthURL == "" {
		cfg.LinkedIn.AuthURL = "https://www.linkedin.com/oauth/v2/authorization"
	}
	if cfg.LinkedIn.TokenURL == "" {
		cfg.LinkedIn.TokenURL = "https://www.linkedin.com/oauth/v2/accessToken"
	}
	if cfg.LinkedIn.UserInfoURL == "" {
		cfg.LinkedIn.UserInfoURL = "https://api.linkedin.com/v2/userinfo"
	}
	if cfg.LinkedIn.APIBase == "" {
		cfg.LinkedIn.APIBase = "https://api.linkedin.com"
	}
	if cfg.LinkedIn.TokenValidity == "" {
		cfg.LinkedIn.TokenValidity = "1440h"
	}
	if cfg.Medium.APIBase == "" {
		cfg.Medium.APIBase = "https://api.medium.com/v1"
	}
	if cfg.Medium.PublishStatus == "" {
		cfg.Medium.PublishStatus = "public"
	}
	if cfg.Publishing.Timeout == "" {
		cfg.Publishing.Timeout = "30s"
	}
	if cfg.Publishing.StoreTimeout == "" {
		cfg.Publishing.StoreTimeout = "30s"
	}
	if len(cfg.Publishing.DefaultPlatforms) == 0 {
		cfg.Publishing.DefaultPlatforms = []string{"linkedin", "medium"}
	}
	if cfg.Scheduler.Interval == "" {
		cfg.Scheduler.Interval = "15m"
	}
}

// Validate checks values that would otherwise fail deep inside a component.
func (cfg *Config) Validate() error {
	durations := map[string]string{
		"auth.session_ttl":         cfg.Auth.SessionTTL,
		"linkedin.token_validity":  cfg.LinkedIn.TokenValidity,
		"publishing.timeout":       cfg.Publishing.Timeout,
		"publishing.store_timeout": cfg.Publishing.StoreTimeout,
		"scheduler.interval":       cfg.Scheduler.Interval,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s %q: must be positive", key, value)
		}
	}

	switch strings.ToLower(cfg.Medium.PublishStatus) {
	case "draft", "public", "unlisted":
		cfg.Medium.PublishStatus = strings.ToLower(cfg.Medium.PublishStatus)
	default:
		return fmt.Errorf("invalid medium.publish_status %q: must be draft, public or unlisted", cfg.Medium.PublishStatus)
	}

	return nil
}

// Duration parses a value already checked by Validate.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}
