package services

import (
	"errors"
	"net/http"

	"asplatform-backend/pkg/config"
	"asplatform-backend/pkg/server/middleware"
	"asplatform-backend/pkg/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// NotificationService 用户通知服务
// 通知由回调处理端写入，这里只暴露读取与已读状态切换
type NotificationService struct {
	config *config.ServerConfig
	logger zerolog.Logger
	store  store.Store
	auth   *middleware.Authenticator
}

// NewNotificationService 创建通知服务实例
func NewNotificationService(cfg *config.ServerConfig, logger zerolog.Logger, store store.Store, auth *middleware.Authenticator) *NotificationService {
	return &NotificationService{
		config: cfg,
		logger: logger.With().Str("service", "notification").Logger(),
		store:  store,
		auth:   auth,
	}
}

// RegisterRoutes 注册路由
func (s *NotificationService) RegisterRoutes(r *gin.Engine) {
	notifications := r.Group("/api/notifications", s.auth.AuthRequired())
	{
		notifications.GET("", s.HandleList)
		notifications.POST("/:id/read", s.HandleMarkRead)
		notifications.POST("/read-all", s.HandleMarkAllRead)
		notifications.DELETE("/:id", s.HandleDelete)
	}
}

// HandleList 列出通知，unread=true时仅返回未读
func (s *NotificationService) HandleList(c *gin.Context) {
	unreadOnly := c.Query("unread") == "true"

	notifications, err := s.store.ListNotifications(c.Request.Context(), middleware.UserID(c), unreadOnly)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list notifications")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// HandleMarkRead 标记单条通知已读
func (s *NotificationService) HandleMarkRead(c *gin.Context) {
	err := s.store.MarkNotificationRead(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to mark notification")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}

// HandleMarkAllRead 标记全部通知已读
func (s *NotificationService) HandleMarkAllRead(c *gin.Context) {
	if err := s.store.MarkAllNotificationsRead(c.Request.Context(), middleware.UserID(c)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to mark notifications")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "All notifications marked as read"})
}

// HandleDelete 删除通知
func (s *NotificationService) HandleDelete(c *gin.Context) {
	err := s.store.DeleteNotification(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to delete notification")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Notification deleted"})
}
