package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"asplatform-backend/pkg/config"
	"asplatform-backend/pkg/logger"
	"asplatform-backend/pkg/n8n"
	"asplatform-backend/pkg/server/middleware"
	"asplatform-backend/pkg/server/services"
	"asplatform-backend/pkg/store"
)

// Server 服务器结构
type Server struct {
	config *config.ServerConfig
	logger zerolog.Logger
	store  store.Store

	// 服务实例
	userService         *services.UserService
	agentService        *services.AgentService
	integrationService  *services.IntegrationService
	workflowService     *services.WorkflowService
	notificationService *services.NotificationService
	taskService         *services.TaskService
	webhookService      *services.WebhookService
	statusService       *services.StatusService

	httpServer *http.Server
	stopCh     chan struct{}
}

// New 创建服务器实例
func New(cfg *config.ServerConfig, log *logger.Logger) (*Server, error) {
	// 创建存储实例
	st, err := store.NewStore(&store.Config{
		Type: cfg.Storage.Type,
		SQLite: store.SQLiteConfig{
			Path: cfg.Storage.SQLite.Path,
		},
		Postgres: store.PostgresConfig{
			Host:     cfg.Storage.Postgres.Host,
			Port:     cfg.Storage.Postgres.Port,
			User:     cfg.Storage.Postgres.User,
			Password: cfg.Storage.Postgres.Password,
			DBName:   cfg.Storage.Postgres.DBName,
			SSLMode:  cfg.Storage.Postgres.SSLMode,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	serviceLogger := log.GetLogger("server")

	// 认证器与派发客户端
	auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, serviceLogger)
	client := n8n.NewClient(cfg, st, log)

	// 创建服务实例
	userService := services.NewUserService(cfg, serviceLogger, st, auth)
	agentService := services.NewAgentService(cfg, serviceLogger, st, auth)
	integrationService := services.NewIntegrationService(cfg, serviceLogger, st, auth)
	workflowService := services.NewWorkflowService(cfg, serviceLogger, st, auth)
	notificationService := services.NewNotificationService(cfg, serviceLogger, st, auth)
	taskService := services.NewTaskService(cfg, serviceLogger, st, client, auth)
	webhookService := services.NewWebhookService(cfg, serviceLogger, st)
	statusService := services.NewStatusService(cfg, serviceLogger, st)

	// 创建gin引擎并注册路由
	if !cfg.Log.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log.GetLogger("http")))

	userService.RegisterRoutes(engine)
	agentService.RegisterRoutes(engine)
	integrationService.RegisterRoutes(engine)
	workflowService.RegisterRoutes(engine)
	notificationService.RegisterRoutes(engine)
	taskService.RegisterRoutes(engine)
	webhookService.RegisterRoutes(engine)
	statusService.RegisterRoutes(engine)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	return &Server{
		config:              cfg,
		logger:              serviceLogger,
		store:               st,
		userService:         userService,
		agentService:        agentService,
		integrationService:  integrationService,
		workflowService:     workflowService,
		notificationService: notificationService,
		taskService:         taskService,
		webhookService:      webhookService,
		statusService:       statusService,
		httpServer:          httpServer,
		stopCh:              make(chan struct{}),
	}, nil
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.httpServer.Addr).
		Str("storage", s.config.Storage.Type).
		Msg("Server started")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	go s.cleanupLoop()

	return nil
}

// cleanupLoop 周期清理过期的Webhook日志与去重记录
func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := s.store.Cleanup(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Store cleanup failed")
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// Stop 停止服务器
func (s *Server) Stop() error {
	close(s.stopCh)

	// 优雅关闭 HTTP 服务器
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	// 关闭存储
	if err := s.store.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing store")
	}

	s.logger.Info().Msg("Server stopped")
	return nil
}

// requestLogger HTTP访问日志中间件
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}
