package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/herald/internal/config"
	"github.com/ifuryst/herald/internal/models"
	"github.com/ifuryst/herald/internal/service"
	"github.com/ifuryst/herald/internal/service/oauth"
	"github.com/ifuryst/herald/internal/service/publisher"
	"github.com/ifuryst/herald/internal/service/publisher/linkedin"
	"github.com/ifuryst/herald/internal/service/publisher/medium"
)

// LinkedInAuth is the part of the OAuth token manager the HTTP layer drives.
type LinkedInAuth interface {
	AuthorizationURL(state string) (string, error)
	CompleteAuthorization(ctx context.Context, expectedState, returnedState, code string) (*models.OAuthToken, error)
	Status(ctx context.Context) (models.TokenStatus, error)
}

// ErrorLog exposes recorded failures to operators.
type ErrorLog interface {
	GetRecentErrors(limit int, unresolvedOnly bool) ([]models.ErrorLog, error)
	ResolveError(id uint) error
}

// Services are the components behind the HTTP routes. Monitoring and
// Scheduler may be nil.
type Services struct {
	Review     *service.ReviewService
	Publisher  *service.PublisherService
	Auth       *service.AuthService
	LinkedIn   LinkedInAuth
	Monitoring ErrorLog
	Scheduler  *service.Scheduler
}

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	Services
}

// NewServer connects to the database and wires every component from cfg.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := service.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	services, err := buildServices(cfg, db, logger)
	if err != nil {
		return nil, err
	}

	srv := New(cfg, services, logger)
	srv.DB = db
	return srv, nil
}

func buildServices(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (Services, error) {
	secrets, err := service.NewSecretStore(db, cfg.Credentials, logger)
	if err != nil {
		return Services{}, fmt.Errorf("failed to initialize secret store: %w", err)
	}
	monitoring := service.NewMonitoringService(db, logger)
	store := service.NewPipelineStore(db, logger)

	ctx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Publishing.StoreTimeout))
	defer cancel()
	clientID := lookupCredential(ctx, secrets, cfg.LinkedIn.ClientID, service.SecretLinkedInClientID, logger)
	clientSecret := lookupCredential(ctx, secrets, cfg.LinkedIn.ClientSecret, service.SecretLinkedInClientSecret, logger)

	account := oauth.NewManager(oauth.Config{
		ClientID:        clientID,
		ClientSecret:    clientSecret,
		RedirectURL:     cfg.LinkedIn.RedirectURL,
		AuthURL:         cfg.LinkedIn.AuthURL,
		TokenURL:        cfg.LinkedIn.TokenURL,
		UserInfoURL:     cfg.LinkedIn.UserInfoURL,
		Scopes:          oauth.DefaultScopes,
		DefaultValidity: config.Duration(cfg.LinkedIn.TokenValidity),
		Timeout:         config.Duration(cfg.Publishing.Timeout),
	}, secrets, logger)

	manager := publisher.NewPublishManager(logger, config.Duration(cfg.Publishing.Timeout))
	platforms := []publisher.Publisher{
		linkedin.NewLinkedInPublisher(linkedin.Config{
			APIBase:    cfg.LinkedIn.APIBase,
			APIVersion: cfg.LinkedIn.APIVersion,
		}, account, logger),
		medium.NewMediumPublisher(medium.Config{
			APIBase:       cfg.Medium.APIBase,
			PublishStatus: cfg.Medium.PublishStatus,
		}, secrets, logger),
	}
	for _, p := range platforms {
		if err := manager.RegisterPublisher(p); err != nil {
			return Services{}, fmt.Errorf("failed to register publisher: %w", err)
		}
	}

	publisherService := service.NewPublisherService(&cfg.Publishing, store, manager, monitoring, logger)

	return Services{
		Review:     service.NewReviewService(store, publisherService, logger),
		Publisher:  publisherService,
		Auth:       service.NewAuthService(&cfg.Auth, logger),
		LinkedIn:   account,
		Monitoring: monitoring,
		Scheduler:  service.NewScheduler(&cfg.Scheduler, publisherService, monitoring, logger),
	}, nil
}

// lookupCredential prefers the configured value and falls back to the secret store.
func lookupCredential(ctx context.Context, secrets service.CredentialStore, configured, name string, logger *zap.Logger) string {
	if strings.TrimSpace(configured) != "" {
		return configured
	}
	value, err := secrets.Get(ctx, name)
	if err != nil {
		if !errors.Is(err, models.ErrSecretNotFound) {
			logger.Warn("Failed to load credential", zap.String("name", name), zap.Error(err))
		}
		return ""
	}
	return value
}

// New builds the router around already constructed services.
func New(cfg *config.Config, services Services, logger *zap.Logger) *Server {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	srv := &Server{
		Config:   cfg,
		Router:   gin.New(),
		Logger:   logger,
		Services: services,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health"},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	s.Router.POST("/api/v1/auth/login", s.handleLogin)

	// LinkedIn connects the operator's own account, so it needs a session too.
	linkedInAuth := s.Router.Group("/auth/linkedin", s.Auth.AuthMiddleware())
	{
		linkedInAuth.GET("", s.handleLinkedInAuthorize)
		linkedInAuth.GET("/callback", s.handleLinkedInCallback)
	}

	api := s.Router.Group("/api/v1", s.Auth.AuthMiddleware())
	{
		api.POST("/auth/logout", s.handleLogout)
		api.GET("/auth/linkedin/status", s.handleLinkedInStatus)

		pipelines := api.Group("/pipelines")
		{
			pipelines.POST("", s.handleCreatePipeline)
			pipelines.GET("", s.handleListPipelines)
			pipelines.GET("/:id", s.handleGetPipeline)
			pipelines.GET("/:id/history", s.handlePipelineHistory)
			pipelines.PUT("/:id/content", s.handleEditContent)
			pipelines.POST("/:id/approve", s.handleApprove)
			pipelines.POST("/:id/reject", s.handleReject)
			pipelines.POST("/:id/approve-and-publish", s.handleApproveAndPublish)
		}

		api.POST("/publish", s.handlePublish)
		api.GET("/platforms", s.handlePlatforms)

		api.GET("/errors", s.handleRecentErrors)
		api.POST("/errors/:id/resolve", s.handleResolveError)
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Start scheduler
	if s.Scheduler != nil {
		if err := s.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	var err error
	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		err = s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	} else {
		err = s.Server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop scheduler first
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
