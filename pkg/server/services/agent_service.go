package services

import (
	"errors"
	"net/http"

	"asplatform-backend/pkg/config"
	"asplatform-backend/pkg/server/middleware"
	"asplatform-backend/pkg/store"
	"asplatform-backend/pkg/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AgentService AI代理管理服务
type AgentService struct {
	config *config.ServerConfig
	logger zerolog.Logger
	store  store.Store
	auth   *middleware.Authenticator
}

// NewAgentService 创建代理服务实例
func NewAgentService(cfg *config.ServerConfig, logger zerolog.Logger, store store.Store, auth *middleware.Authenticator) *AgentService {
	return &AgentService{
		config: cfg,
		logger: logger.With().Str("service", "agent").Logger(),
		store:  store,
		auth:   auth,
	}
}

// RegisterRoutes 注册路由
func (s *AgentService) RegisterRoutes(r *gin.Engine) {
	agents := r.Group("/api/agents", s.auth.AuthRequired())
	{
		agents.POST("", s.HandleCreate)
		agents.GET("", s.HandleList)
		agents.GET("/:id", s.HandleGet)
		agents.PUT("/:id", s.HandleUpdate)
		agents.DELETE("/:id", s.HandleDelete)
	}
}

// agentRequest 创建/更新代理的请求体
type agentRequest struct {
	Name         string  `json:"name" binding:"required"`
	Type         string  `json:"type"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt"`
	Temperature  float64 `json:"temperature"`
	Active       *bool   `json:"active"`
	Config       string  `json:"config"`
}

// HandleCreate 创建代理
func (s *AgentService) HandleCreate(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	agent := &types.Agent{
		ID:           uuid.NewString(),
		UserID:       middleware.UserID(c),
		Name:         req.Name,
		Type:         req.Type,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		Active:       true,
		Config:       req.Config,
	}
	if req.Active != nil {
		agent.Active = *req.Active
	}

	if err := s.store.CreateAgent(c.Request.Context(), agent); err != nil {
		s.logger.Error().Err(err).Msg("Failed to create agent")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, agent)
}

// HandleList 列出当前用户的代理
func (s *AgentService) HandleList(c *gin.Context) {
	agents, err := s.store.ListAgents(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list agents")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// HandleGet 获取单个代理
func (s *AgentService) HandleGet(c *gin.Context) {
	agent, err := s.store.GetAgent(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get agent")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, agent)
}

// HandleUpdate 更新代理
func (s *AgentService) HandleUpdate(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	userID := middleware.UserID(c)
	agent, err := s.store.GetAgent(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get agent")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	agent.Name = req.Name
	agent.Type = req.Type
	agent.Model = req.Model
	agent.SystemPrompt = req.SystemPrompt
	agent.Temperature = req.Temperature
	if req.Active != nil {
		agent.Active = *req.Active
	}
	if req.Config != "" {
		agent.Config = req.Config
	}

	if err := s.store.UpdateAgent(c.Request.Context(), agent); err != nil {
		s.logger.Error().Err(err).Msg("Failed to update agent")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, agent)
}

// HandleDelete 删除代理
func (s *AgentService) HandleDelete(c *gin.Context) {
	err := s.store.DeleteAgent(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to delete agent")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Agent deleted"})
}
