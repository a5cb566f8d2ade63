package services

import (
	"net/http"
	"time"

	"asplatform-backend/pkg/config"
	"asplatform-backend/pkg/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// StatusService 系统状态服务
type StatusService struct {
	config    *config.ServerConfig
	logger    zerolog.Logger
	store     store.Store
	startTime time.Time
}

// NewStatusService 创建状态服务实例
func NewStatusService(cfg *config.ServerConfig, logger zerolog.Logger, store store.Store) *StatusService {
	return &StatusService{
		config:    cfg,
		logger:    logger.With().Str("service", "status").Logger(),
		store:     store,
		startTime: time.Now(),
	}
}

// RegisterRoutes 注册路由
func (s *StatusService) RegisterRoutes(r *gin.Engine) {
	r.GET("/status", s.HandleGetStatus)
}

// HandleGetStatus 返回系统状态与任务面板数据
func (s *StatusService) HandleGetStatus(c *gin.Context) {
	status := gin.H{
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
		"system": s.systemMetrics(),
	}

	counts, err := s.store.CountTasksByStatus(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to count tasks")
	} else {
		status["tasks"] = counts
	}

	c.JSON(http.StatusOK, status)
}

// systemMetrics 采集主机指标，单项失败以零值填充
func (s *StatusService) systemMetrics() gin.H {
	metrics := gin.H{}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		metrics["cpu_usage"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		metrics["memory_usage"] = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		metrics["disk_usage"] = du.UsedPercent
	}

	return metrics
}
