package services

import (
	"errors"
	"net/http"
	"strings"

	"asplatform-backend/pkg/config"
	"asplatform-backend/pkg/n8n"
	"asplatform-backend/pkg/server/middleware"
	"asplatform-backend/pkg/store"
	"asplatform-backend/pkg/types"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// TaskService AI任务派发服务，HTTP层薄封装
type TaskService struct {
	config *config.ServerConfig
	logger zerolog.Logger
	store  store.Store
	client *n8n.Client
	auth   *middleware.Authenticator
}

// NewTaskService 创建任务服务实例
func NewTaskService(cfg *config.ServerConfig, logger zerolog.Logger, store store.Store, client *n8n.Client, auth *middleware.Authenticator) *TaskService {
	return &TaskService{
		config: cfg,
		logger: logger.With().Str("service", "task").Logger(),
		store:  store,
		client: client,
		auth:   auth,
	}
}

// RegisterRoutes 注册路由
func (s *TaskService) RegisterRoutes(r *gin.Engine) {
	tasks := r.Group("/api/ai/tasks", s.auth.AuthRequired())
	{
		tasks.POST("", s.HandleDispatch)
		tasks.GET("", s.HandleStatus)
		tasks.DELETE("", s.HandleCancel)
	}
}

// HandleDispatch 派发任务，batch=true时并发派发一组
func (s *TaskService) HandleDispatch(c *gin.Context) {
	var req struct {
		TaskType   types.TaskType         `json:"taskType"`
		Data       map[string]interface{} `json:"data"`
		WorkflowID string                 `json:"workflowId"`
		Priority   string                 `json:"priority"`
		Timeout    int                    `json:"timeout"`
		Batch      bool                   `json:"batch"`
		Tasks      []n8n.BatchItem        `json:"tasks"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	userID := middleware.UserID(c)

	if req.Batch {
		if len(req.Tasks) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tasks is required for batch dispatch"})
			return
		}
		results := s.client.DispatchBatch(c.Request.Context(), userID, req.Tasks)
		c.JSON(http.StatusOK, gin.H{"results": results})
		return
	}

	if req.TaskType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "taskType is required"})
		return
	}

	result := s.client.Dispatch(c.Request.Context(), n8n.DispatchRequest{
		WorkflowID: req.WorkflowID,
		TaskType:   req.TaskType,
		Data:       req.Data,
		UserID:     userID,
		Priority:   req.Priority,
		Timeout:    req.Timeout,
	})

	if !result.Success {
		if strings.HasPrefix(result.Error, "unsupported task type") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported task type", "details": result.Error})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Dispatch failed", "details": result.Error})
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleStatus 查询任务状态
func (s *TaskService) HandleStatus(c *gin.Context) {
	taskID := c.Query("taskId")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "taskId is required"})
		return
	}

	info, err := s.client.TaskStatus(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "not_found"})
			return
		}
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to query task status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, info)
}

// HandleCancel 取消任务，仅在引擎确认停止后改写本地状态
func (s *TaskService) HandleCancel(c *gin.Context) {
	var req struct {
		TaskID string `json:"taskId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	cancelled, err := s.client.Cancel(c.Request.Context(), req.TaskID, middleware.UserID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		s.logger.Error().Err(err).Str("task_id", req.TaskID).Msg("Failed to cancel task")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if !cancelled {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Engine rejected stop request",
			"cancelled": false,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
