package services

import (
	"errors"
	"net/http"
	"time"

	"asplatform-backend/pkg/config"
	"asplatform-backend/pkg/server/middleware"
	"asplatform-backend/pkg/store"
	"asplatform-backend/pkg/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IntegrationService 第三方平台集成管理服务
type IntegrationService struct {
	config *config.ServerConfig
	logger zerolog.Logger
	store  store.Store
	auth   *middleware.Authenticator
}

// NewIntegrationService 创建集成服务实例
func NewIntegrationService(cfg *config.ServerConfig, logger zerolog.Logger, store store.Store, auth *middleware.Authenticator) *IntegrationService {
	return &IntegrationService{
		config: cfg,
		logger: logger.With().Str("service", "integration").Logger(),
		store:  store,
		auth:   auth,
	}
}

// RegisterRoutes 注册路由
func (s *IntegrationService) RegisterRoutes(r *gin.Engine) {
	integrations := r.Group("/api/integrations", s.auth.AuthRequired())
	{
		integrations.POST("", s.HandleCreate)
		integrations.GET("", s.HandleList)
		integrations.GET("/:id", s.HandleGet)
		integrations.PUT("/:id", s.HandleUpdate)
		integrations.DELETE("/:id", s.HandleDelete)
	}
}

// HandleCreate 连接新平台
func (s *IntegrationService) HandleCreate(c *gin.Context) {
	var req struct {
		Platform    types.IntegrationPlatform `json:"platform" binding:"required"`
		Name        string                    `json:"name"`
		AccessToken string                    `json:"access_token"`
		Config      string                    `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if !types.KnownPlatform(req.Platform) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported platform", "details": string(req.Platform)})
		return
	}

	now := time.Now()
	integration := &types.Integration{
		ID:          uuid.NewString(),
		UserID:      middleware.UserID(c),
		Platform:    req.Platform,
		Name:        req.Name,
		Status:      "connected",
		AccessToken: req.AccessToken,
		Config:      req.Config,
		ConnectedAt: &now,
	}

	if err := s.store.CreateIntegration(c.Request.Context(), integration); err != nil {
		s.logger.Error().Err(err).Msg("Failed to create integration")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, integration)
}

// HandleList 列出当前用户的集成
func (s *IntegrationService) HandleList(c *gin.Context) {
	integrations, err := s.store.ListIntegrations(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list integrations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"integrations": integrations})
}

// HandleGet 获取单个集成
func (s *IntegrationService) HandleGet(c *gin.Context) {
	integration, err := s.store.GetIntegration(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Integration not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get integration")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, integration)
}

// HandleUpdate 更新集成配置
func (s *IntegrationService) HandleUpdate(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Status      string `json:"status"`
		AccessToken string `json:"access_token"`
		Config      string `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	userID := middleware.UserID(c)
	integration, err := s.store.GetIntegration(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Integration not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get integration")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if req.Name != "" {
		integration.Name = req.Name
	}
	if req.Status != "" {
		integration.Status = req.Status
	}
	if req.AccessToken != "" {
		integration.AccessToken = req.AccessToken
	}
	if req.Config != "" {
		integration.Config = req.Config
	}

	if err := s.store.UpdateIntegration(c.Request.Context(), integration); err != nil {
		s.logger.Error().Err(err).Msg("Failed to update integration")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, integration)
}

// HandleDelete 断开集成
func (s *IntegrationService) HandleDelete(c *gin.Context) {
	err := s.store.DeleteIntegration(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Integration not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to delete integration")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Integration disconnected"})
}
