package services

import (
	"errors"
	"net/http"
	"strconv"

	"asplatform-backend/pkg/config"
	"asplatform-backend/pkg/server/middleware"
	"asplatform-backend/pkg/store"
	"asplatform-backend/pkg/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WorkflowService 工作流管理服务
// 工作流本体托管在外部引擎，这里维护其元数据与聚合统计
type WorkflowService struct {
	config *config.ServerConfig
	logger zerolog.Logger
	store  store.Store
	auth   *middleware.Authenticator
}

// NewWorkflowService 创建工作流服务实例
func NewWorkflowService(cfg *config.ServerConfig, logger zerolog.Logger, store store.Store, auth *middleware.Authenticator) *WorkflowService {
	return &WorkflowService{
		config: cfg,
		logger: logger.With().Str("service", "workflow").Logger(),
		store:  store,
		auth:   auth,
	}
}

// RegisterRoutes 注册路由
func (s *WorkflowService) RegisterRoutes(r *gin.Engine) {
	workflows := r.Group("/api/workflows", s.auth.AuthRequired())
	{
		workflows.POST("", s.HandleCreate)
		workflows.GET("", s.HandleList)
		workflows.GET("/:id", s.HandleGet)
		workflows.PUT("/:id", s.HandleUpdate)
		workflows.DELETE("/:id", s.HandleDelete)
		workflows.GET("/:id/executions", s.HandleListExecutions)
	}
}

// workflowRequest 创建/更新工作流的请求体
type workflowRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	EngineID    string `json:"engine_id"`
	Active      *bool  `json:"active"`
}

// HandleCreate 创建工作流
func (s *WorkflowService) HandleCreate(c *gin.Context) {
	var req workflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	workflow := &types.Workflow{
		ID:          uuid.NewString(),
		UserID:      middleware.UserID(c),
		Name:        req.Name,
		Description: req.Description,
		EngineID:    req.EngineID,
		Active:      true,
	}
	if req.Active != nil {
		workflow.Active = *req.Active
	}

	if err := s.store.CreateWorkflow(c.Request.Context(), workflow); err != nil {
		s.logger.Error().Err(err).Msg("Failed to create workflow")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, workflow)
}

// HandleList 列出当前用户的工作流
func (s *WorkflowService) HandleList(c *gin.Context) {
	workflows, err := s.store.ListWorkflows(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list workflows")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"workflows": workflows})
}

// HandleGet 获取单个工作流
func (s *WorkflowService) HandleGet(c *gin.Context) {
	workflow, err := s.store.GetWorkflow(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get workflow")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, workflow)
}

// HandleUpdate 更新工作流元数据
func (s *WorkflowService) HandleUpdate(c *gin.Context) {
	var req workflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	userID := middleware.UserID(c)
	workflow, err := s.store.GetWorkflow(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get workflow")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	workflow.Name = req.Name
	workflow.Description = req.Description
	if req.EngineID != "" {
		workflow.EngineID = req.EngineID
	}
	if req.Active != nil {
		workflow.Active = *req.Active
	}

	if err := s.store.UpdateWorkflow(c.Request.Context(), workflow); err != nil {
		s.logger.Error().Err(err).Msg("Failed to update workflow")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, workflow)
}

// HandleDelete 删除工作流
func (s *WorkflowService) HandleDelete(c *gin.Context) {
	err := s.store.DeleteWorkflow(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to delete workflow")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Workflow deleted"})
}

// HandleListExecutions 列出工作流的执行记录
func (s *WorkflowService) HandleListExecutions(c *gin.Context) {
	userID := middleware.UserID(c)
	workflowID := c.Param("id")

	// 先校验归属，避免跨用户读取执行记录
	if _, err := s.store.GetWorkflow(c.Request.Context(), userID, workflowID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get workflow")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	executions, err := s.store.ListExecutions(c.Request.Context(), workflowID, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list executions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"executions": executions})
}
