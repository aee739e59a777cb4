package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/herald/internal/models"
	"github.com/ifuryst/herald/internal/service"
)

const (
	oauthStateCookie = "herald_linkedin_state"
	oauthStateMaxAge = 600
	maxListLimit     = 100
	maxCreateBody    = 1 << 20
)

type publishRequest struct {
	PipelineID string   `json:"pipeline_id" binding:"required"`
	Platforms  []string `json:"platforms"`
}

type approveRequest struct {
	Approver string          `json:"approver"`
	Content  *models.Content `json:"content"`
}

type platformsRequest struct {
	Platforms []string `json:"platforms"`
}

type loginRequest struct {
	Code string `json:"code" binding:"required"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrContentLocked),
		errors.Is(err, models.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, models.ErrUnknownPlatform),
		errors.Is(err, models.ErrMissingContent),
		errors.Is(err, models.ErrApproverRequired):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrNotAuthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrAuthExchange):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(c *gin.Context, msg string, err error) {
	var persistErr *models.PublishPersistenceError
	if errors.As(err, &persistErr) {
		s.Logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Publish results could not be saved",
			"results": outcomeMap(persistErr.Outcomes),
		})
		return
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error(msg, zap.Error(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	s.Logger.Warn(msg, zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error()})
}

func outcomeMap(outcomes []models.PublishOutcome) map[string]models.PublishOutcome {
	results := make(map[string]models.PublishOutcome, len(outcomes))
	for _, outcome := range outcomes {
		results[outcome.Platform] = outcome
	}
	return results
}

func operator(c *gin.Context) string {
	return c.GetString(service.OperatorKey)
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleLogin(c *gin.Context) {
	if !s.Auth.Enabled() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Login is disabled"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, ok := s.Auth.Login(req.Code)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid code"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(service.SessionCookie, id, int(s.Auth.SessionTTL().Seconds()), "/", "", s.secureCookies(), true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged in"})
}

func (s *Server) handleLogout(c *gin.Context) {
	if id, err := c.Cookie(service.SessionCookie); err == nil {
		s.Auth.Logout(id)
	}
	c.SetCookie(service.SessionCookie, "", -1, "/", "", s.secureCookies(), true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (s *Server) secureCookies() bool {
	return s.Config.Server.CertFile != ""
}

func (s *Server) handleLinkedInAuthorize(c *gin.Context) {
	state := uuid.NewString()
	url, err := s.LinkedIn.AuthorizationURL(state)
	if err != nil {
		s.respondError(c, "LinkedIn is not configured", err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, oauthStateMaxAge, "/auth/linkedin", "", s.secureCookies(), true)
	c.Redirect(http.StatusFound, url)
}

func (s *Server) handleLinkedInCallback(c *gin.Context) {
	expected, _ := c.Cookie(oauthStateCookie)
	c.SetCookie(oauthStateCookie, "", -1, "/auth/linkedin", "", s.secureCookies(), true)

	if reason := c.Query("error"); reason != "" {
		s.Logger.Warn("LinkedIn authorization denied",
			zap.String("error", reason),
			zap.String("description", c.Query("error_description")))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Authorization denied: " + reason})
		return
	}

	token, err := s.LinkedIn.CompleteAuthorization(c.Request.Context(), expected, c.Query("state"), c.Query("code"))
	if err != nil {
		s.respondError(c, "LinkedIn authorization failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "connected",
		"expires_at": token.ExpiresAt(),
	})
}

func (s *Server) handleLinkedInStatus(c *gin.Context) {
	status, err := s.LinkedIn.Status(c.Request.Context())
	if err != nil {
		s.respondError(c, "Failed to read LinkedIn status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleCreatePipeline(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCreateBody)

	var input service.CreatePipelineInput
	if err := c.ShouldBindJSON(&input); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := s.Review.CreatePipeline(c.Request.Context(), input, operator(c))
	if err != nil {
		s.respondError(c, "Failed to create pipeline", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) handleListPipelines(c *gin.Context) {
	var opts service.ListOptions

	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts.Status = status
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		opts.Limit = min(limit, maxListLimit)
	}

	pipelines, err := s.Review.List(c.Request.Context(), opts)
	if err != nil {
		s.respondError(c, "Failed to list pipelines", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pipelines": pipelines})
}

func (s *Server) handleGetPipeline(c *gin.Context) {
	p, err := s.Review.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, "Failed to get pipeline", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handlePipelineHistory(c *gin.Context) {
	history, err := s.Review.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, "Failed to get pipeline history", err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) handleEditContent(c *gin.Context) {
	var content models.Content
	if err := c.ShouldBindJSON(&content); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := s.Review.EditContent(c.Request.Context(), c.Param("id"), &content)
	if err != nil {
		s.respondError(c, "Failed to edit pipeline", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// approver is the logged in operator. Without login the request may name one.
func (s *Server) approver(c *gin.Context, requested string) string {
	if !s.Auth.Enabled() && requested != "" {
		return requested
	}
	return operator(c)
}

func (s *Server) handleApprove(c *gin.Context) {
	var req approveRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := s.Review.Approve(c.Request.Context(), c.Param("id"), s.approver(c, req.Approver), req.Content)
	if err != nil {
		s.respondError(c, "Failed to approve pipeline", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleReject(c *gin.Context) {
	p, err := s.Review.Reject(c.Request.Context(), c.Param("id"), operator(c))
	if err != nil {
		s.respondError(c, "Failed to reject pipeline", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleApproveAndPublish(c *gin.Context) {
	var req platformsRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := s.Review.ApproveAndPublish(c.Request.Context(), c.Param("id"), operator(c), req.Platforms)
	if err != nil {
		s.respondError(c, "Failed to approve and publish pipeline", err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handlePublish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := s.Publisher.PublishPipeline(c.Request.Context(), req.PipelineID, req.Platforms, operator(c))
	if err != nil {
		s.respondError(c, "Failed to publish pipeline", err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handlePlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": s.Publisher.GetAvailablePlatforms()})
}

func (s *Server) handleRecentErrors(c *gin.Context) {
	if s.Monitoring == nil {
		c.JSON(http.StatusOK, gin.H{"errors": []models.ErrorLog{}})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxListLimit)
	}

	logs, err := s.Monitoring.GetRecentErrors(limit, c.Query("unresolved") == "true")
	if err != nil {
		s.respondError(c, "Failed to get errors", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": logs})
}

func (s *Server) handleResolveError(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid error id"})
		return
	}
	if s.Monitoring == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Error not found"})
		return
	}

	if err := s.Monitoring.ResolveError(uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Error not found"})
			return
		}
		s.respondError(c, "Failed to resolve error", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Resolved"})
}
