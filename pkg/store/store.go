package store

import (
	"context"
	"errors"
	"fmt"

	"asplatform-backend/pkg/types"
)

// ErrNotFound 资源不存在
var ErrNotFound = errors.New("not found")

// TaskCallbackUpdate 回调对任务行的一次更新
type TaskCallbackUpdate struct {
	TaskID          string
	Status          types.TaskStatus
	Result          string
	ErrorMessage    string
	ExecutionTimeMs int64
}

// Store 定义存储接口
type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	CheckUserExists(ctx context.Context, email string) (bool, error)

	// Agent operations
	CreateAgent(ctx context.Context, agent *types.Agent) error
	GetAgent(ctx context.Context, userID, agentID string) (*types.Agent, error)
	UpdateAgent(ctx context.Context, agent *types.Agent) error
	DeleteAgent(ctx context.Context, userID, agentID string) error
	ListAgents(ctx context.Context, userID string) ([]*types.Agent, error)

	// Integration operations
	CreateIntegration(ctx context.Context, integration *types.Integration) error
	GetIntegration(ctx context.Context, userID, integrationID string) (*types.Integration, error)
	UpdateIntegration(ctx context.Context, integration *types.Integration) error
	DeleteIntegration(ctx context.Context, userID, integrationID string) error
	ListIntegrations(ctx context.Context, userID string) ([]*types.Integration, error)

	// Workflow operations
	CreateWorkflow(ctx context.Context, workflow *types.Workflow) error
	GetWorkflow(ctx context.Context, userID, workflowID string) (*types.Workflow, error)
	UpdateWorkflow(ctx context.Context, workflow *types.Workflow) error
	DeleteWorkflow(ctx context.Context, userID, workflowID string) error
	ListWorkflows(ctx context.Context, userID string) ([]*types.Workflow, error)

	// Execution operations
	// RecordExecution 以执行ID为键upsert执行记录，终态时在同一事务内重算所属工作流的聚合统计
	RecordExecution(ctx context.Context, exec *types.WorkflowExecution) error
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]*types.WorkflowExecution, error)

	// Task operations
	CreateTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, taskID string) (*types.Task, error)
	UpdateTask(ctx context.Context, task *types.Task) error
	ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error)
	CountTasksByStatus(ctx context.Context) (map[types.TaskStatus]int64, error)
	// ApplyTaskCallback 在单个事务内应用任务更新、用量计数与通知写入
	ApplyTaskCallback(ctx context.Context, upd TaskCallbackUpdate) (*types.Task, error)

	// Webhook operations
	CreateWebhookLog(ctx context.Context, log *types.WebhookLog) error
	MarkWebhookProcessed(ctx context.Context, logID uint, result string) error
	ListWebhookLogs(ctx context.Context, limit int) ([]*types.WebhookLog, error)
	// MarkWebhookEventSeen 记录(source, eventID)，返回该事件此前是否已出现过
	MarkWebhookEventSeen(ctx context.Context, source, eventID string) (bool, error)
	// ForgetWebhookEvent 释放(source, eventID)，处理失败时回退去重记录以便发送方重试
	ForgetWebhookEvent(ctx context.Context, source, eventID string) error

	// Notification operations
	CreateNotification(ctx context.Context, notification *types.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]*types.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	DeleteNotification(ctx context.Context, userID, notificationID string) error

	// Usage operations
	IncrementUsage(ctx context.Context, userID, day string, taskType types.TaskType) error
	GetUsage(ctx context.Context, userID, day string) ([]*types.UsageRecord, error)

	// Maintenance
	Cleanup(ctx context.Context) error
	Close() error
}

// Config 存储配置
type Config struct {
	Type     string         `json:"type"` // 存储类型：sqlite, postgres, memory
	SQLite   SQLiteConfig   `json:"sqlite"`
	Postgres PostgresConfig `json:"postgres"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path string `json:"path"` // 数据库文件路径
}

// PostgresConfig PostgreSQL配置
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// NewStore 创建存储实例
func NewStore(cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite)
	case "postgres":
		return NewPostgreStore(cfg.Postgres)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
