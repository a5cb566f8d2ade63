package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"asplatform-backend/pkg/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore 通用GORM存储实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建GORM存储实例
func NewGormStore(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})

	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &GormStore{db: db}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	return store, nil
}

// initialize 初始化数据库
func (s *GormStore) initialize() error {
	err := s.db.AutoMigrate(
		&types.User{},
		&types.Agent{},
		&types.Integration{},
		&types.Workflow{},
		&types.WorkflowExecution{},
		&types.Task{},
		&types.WebhookLog{},
		&types.WebhookEvent{},
		&types.Notification{},
		&types.UsageRecord{},
	)
	if err != nil {
		return fmt.Errorf("auto migrating tables: %w", err)
	}
	return nil
}

// CreateUser 创建用户
func (s *GormStore) CreateUser(ctx context.Context, user *types.User) error {
	result := s.db.WithContext(ctx).Create(user)
	if result.Error != nil {
		return fmt.Errorf("creating user: %w", result.Error)
	}
	return nil
}

// GetUser 获取用户
func (s *GormStore) GetUser(ctx context.Context, id string) (*types.User, error) {
	var user types.User
	result := s.db.WithContext(ctx).First(&user, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying user: %w", result.Error)
	}
	return &user, nil
}

// GetUserByEmail 按邮箱获取用户
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	var user types.User
	result := s.db.WithContext(ctx).First(&user, "email = ?", email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying user: %w", result.Error)
	}
	return &user, nil
}

// CheckUserExists 检查邮箱是否已注册
func (s *GormStore) CheckUserExists(ctx context.Context, email string) (bool, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&types.User{}).Where("email = ?", email).Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("counting users: %w", result.Error)
	}
	return count > 0, nil
}

// CreateAgent 创建代理
func (s *GormStore) CreateAgent(ctx context.Context, agent *types.Agent) error {
	result := s.db.WithContext(ctx).Create(agent)
	if result.Error != nil {
		return fmt.Errorf("creating agent: %w", result.Error)
	}
	return nil
}

// GetAgent 获取代理，按所属用户过滤
func (s *GormStore) GetAgent(ctx context.Context, userID, agentID string) (*types.Agent, error) {
	var agent types.Agent
	result := s.db.WithContext(ctx).First(&agent, "id = ? AND user_id = ?", agentID, userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying agent: %w", result.Error)
	}
	return &agent, nil
}

// UpdateAgent 更新代理
func (s *GormStore) UpdateAgent(ctx context.Context, agent *types.Agent) error {
	result := s.db.WithContext(ctx).Model(&types.Agent{}).
		Where("id = ? AND user_id = ?", agent.ID, agent.UserID).
		Updates(agent)
	if result.Error != nil {
		return fmt.Errorf("updating agent: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAgent 删除代理
func (s *GormStore) DeleteAgent(ctx context.Context, userID, agentID string) error {
	result := s.db.WithContext(ctx).Delete(&types.Agent{}, "id = ? AND user_id = ?", agentID, userID)
	if result.Error != nil {
		return fmt.Errorf("deleting agent: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAgents 列出用户的所有代理
func (s *GormStore) ListAgents(ctx context.Context, userID string) ([]*types.Agent, error) {
	var agents []*types.Agent
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&agents)
	if result.Error != nil {
		return nil, fmt.Errorf("querying agents: %w", result.Error)
	}
	return agents, nil
}

// CreateIntegration 创建集成
func (s *GormStore) CreateIntegration(ctx context.Context, integration *types.Integration) error {
	result := s.db.WithContext(ctx).Create(integration)
	if result.Error != nil {
		return fmt.Errorf("creating integration: %w", result.Error)
	}
	return nil
}

// GetIntegration 获取集成
func (s *GormStore) GetIntegration(ctx context.Context, userID, integrationID string) (*types.Integration, error) {
	var integration types.Integration
	result := s.db.WithContext(ctx).First(&integration, "id = ? AND user_id = ?", integrationID, userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying integration: %w", result.Error)
	}
	return &integration, nil
}

// UpdateIntegration 更新集成
func (s *GormStore) UpdateIntegration(ctx context.Context, integration *types.Integration) error {
	result := s.db.WithContext(ctx).Model(&types.Integration{}).
		Where("id = ? AND user_id = ?", integration.ID, integration.UserID).
		Updates(integration)
	if result.Error != nil {
		return fmt.Errorf("updating integration: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteIntegration 删除集成
func (s *GormStore) DeleteIntegration(ctx context.Context, userID, integrationID string) error {
	result := s.db.WithContext(ctx).Delete(&types.Integration{}, "id = ? AND user_id = ?", integrationID, userID)
	if result.Error != nil {
		return fmt.Errorf("deleting integration: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIntegrations 列出用户的所有集成
func (s *GormStore) ListIntegrations(ctx context.Context, userID string) ([]*types.Integration, error) {
	var integrations []*types.Integration
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&integrations)
	if result.Error != nil {
		return nil, fmt.Errorf("querying integrations: %w", result.Error)
	}
	return integrations, nil
}

// CreateWorkflow 创建工作流
func (s *GormStore) CreateWorkflow(ctx context.Context, workflow *types.Workflow) error {
	result := s.db.WithContext(ctx).Create(workflow)
	if result.Error != nil {
		return fmt.Errorf("creating workflow: %w", result.Error)
	}
	return nil
}

// GetWorkflow 获取工作流
func (s *GormStore) GetWorkflow(ctx context.Context, userID, workflowID string) (*types.Workflow, error) {
	var workflow types.Workflow
	result := s.db.WithContext(ctx).First(&workflow, "id = ? AND user_id = ?", workflowID, userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying workflow: %w", result.Error)
	}
	return &workflow, nil
}

// UpdateWorkflow 更新工作流
func (s *GormStore) UpdateWorkflow(ctx context.Context, workflow *types.Workflow) error {
	result := s.db.WithContext(ctx).Model(&types.Workflow{}).
		Where("id = ? AND user_id = ?", workflow.ID, workflow.UserID).
		Updates(workflow)
	if result.Error != nil {
		return fmt.Errorf("updating workflow: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWorkflow 删除工作流
func (s *GormStore) DeleteWorkflow(ctx context.Context, userID, workflowID string) error {
	result := s.db.WithContext(ctx).Delete(&types.Workflow{}, "id = ? AND user_id = ?", workflowID, userID)
	if result.Error != nil {
		return fmt.Errorf("deleting workflow: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWorkflows 列出用户的所有工作流
func (s *GormStore) ListWorkflows(ctx context.Context, userID string) ([]*types.Workflow, error) {
	var workflows []*types.Workflow
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&workflows)
	if result.Error != nil {
		return nil, fmt.Errorf("querying workflows: %w", result.Error)
	}
	return workflows, nil
}

// RecordExecution upsert执行记录并重算工作流聚合统计
// 统计只在执行首次进入终态时累加一次，整个应用过程在一个事务内完成
func (s *GormStore) RecordExecution(ctx context.Context, exec *types.WorkflowExecution) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev types.WorkflowExecution
		prevTerminal := false
		result := tx.First(&prev, "id = ?", exec.ID)
		switch {
		case result.Error == nil:
			prevTerminal = prev.Status != types.ExecutionStatusRunning
		case errors.Is(result.Error, gorm.ErrRecordNotFound):
			// 首次见到该执行
		default:
			return fmt.Errorf("querying execution: %w", result.Error)
		}

		if err := tx.Save(exec).Error; err != nil {
			return fmt.Errorf("upserting execution: %w", err)
		}

		nowTerminal := exec.Status != types.ExecutionStatusRunning
		if !nowTerminal || prevTerminal {
			return nil
		}

		var workflow types.Workflow
		if err := tx.First(&workflow, "id = ?", exec.WorkflowID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// 执行引用的工作流不在本地，仅保留执行记录
				return nil
			}
			return fmt.Errorf("querying workflow: %w", err)
		}

		workflow.TotalRuns++
		if exec.Status == types.ExecutionStatusSuccess {
			workflow.SuccessRuns++
		} else {
			workflow.FailedRuns++
		}
		// 由上一均值和计数递推运行时长均值
		n := float64(workflow.TotalRuns)
		workflow.AvgDurationMs = workflow.AvgDurationMs + (float64(exec.DurationMs)-workflow.AvgDurationMs)/n
		now := time.Now()
		workflow.LastRunAt = &now

		if err := tx.Save(&workflow).Error; err != nil {
			return fmt.Errorf("updating workflow stats: %w", err)
		}
		return nil
	})
	return err
}

// ListExecutions 列出工作流的执行记录
func (s *GormStore) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*types.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	var execs []*types.WorkflowExecution
	result := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("started_at DESC").
		Limit(limit).
		Find(&execs)
	if result.Error != nil {
		return nil, fmt.Errorf("querying executions: %w", result.Error)
	}
	return execs, nil
}

// CreateTask 创建任务
func (s *GormStore) CreateTask(ctx context.Context, task *types.Task) error {
	result := s.db.WithContext(ctx).Create(task)
	if result.Error != nil {
		return fmt.Errorf("creating task: %w", result.Error)
	}
	return nil
}

// GetTask 获取任务
func (s *GormStore) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	var task types.Task
	result := s.db.WithContext(ctx).First(&task, "id = ?", taskID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying task: %w", result.Error)
	}
	return &task, nil
}

// UpdateTask 更新任务
func (s *GormStore) UpdateTask(ctx context.Context, task *types.Task) error {
	result := s.db.WithContext(ctx).Model(&types.Task{}).
		Where("id = ?", task.ID).
		Updates(task)
	if result.Error != nil {
		return fmt.Errorf("updating task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasks 按过滤条件列出任务
func (s *GormStore) ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	query := s.db.WithContext(ctx).Model(&types.Task{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Type != nil {
		query = query.Where("task_type = ?", *filter.Type)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var tasks []*types.Task
	result := query.Order("created_at DESC").Find(&tasks)
	if result.Error != nil {
		return nil, fmt.Errorf("querying tasks: %w", result.Error)
	}
	return tasks, nil
}

// CountTasksByStatus 按状态统计任务数
func (s *GormStore) CountTasksByStatus(ctx context.Context) (map[types.TaskStatus]int64, error) {
	type row struct {
		Status types.TaskStatus
		Count  int64
	}
	var rows []row
	result := s.db.WithContext(ctx).Model(&types.Task{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("counting tasks: %w", result.Error)
	}

	counts := make(map[types.TaskStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// ApplyTaskCallback 在单个事务内应用回调：任务行更新、用量计数、用户通知
func (s *GormStore) ApplyTaskCallback(ctx context.Context, upd TaskCallbackUpdate) (*types.Task, error) {
	var task types.Task

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&task, "id = ?", upd.TaskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("querying task: %w", err)
		}

		task.Status = upd.Status
		if upd.Result != "" {
			task.Result = upd.Result
		}
		if upd.ErrorMessage != "" {
			task.ErrorMessage = upd.ErrorMessage
		}
		if upd.ExecutionTimeMs > 0 {
			task.ExecutionTime = upd.ExecutionTimeMs
		}

		if err := tx.Save(&task).Error; err != nil {
			return fmt.Errorf("updating task: %w", err)
		}

		if upd.Status == types.TaskStatusCompleted {
			day := time.Now().Format("2006-01-02")
			if err := incrementUsageTx(tx, task.UserID, day, task.TaskType); err != nil {
				return err
			}
		}

		if upd.Status.Terminal() {
			notification := taskNotification(&task)
			if err := tx.Create(notification).Error; err != nil {
				return fmt.Errorf("creating notification: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// taskNotification 根据任务终态生成通知内容
func taskNotification(task *types.Task) *types.Notification {
	n := &types.Notification{
		ID:       uuid.NewString(),
		UserID:   task.UserID,
		Category: "ai_task",
		Metadata: fmt.Sprintf(`{"task_id":%q,"task_type":%q}`, task.ID, task.TaskType),
	}
	switch task.Status {
	case types.TaskStatusCompleted:
		n.Title = "Task completed"
		n.Message = fmt.Sprintf("%s task finished successfully", task.TaskType)
		n.Type = types.NotificationSuccess
		n.Priority = types.PriorityMedium
	case types.TaskStatusCancelled:
		n.Title = "Task cancelled"
		n.Message = fmt.Sprintf("%s task was cancelled", task.TaskType)
		n.Type = types.NotificationWarning
		n.Priority = types.PriorityLow
	default:
		n.Title = "Task failed"
		n.Message = fmt.Sprintf("%s task failed: %s", task.TaskType, task.ErrorMessage)
		n.Type = types.NotificationError
		n.Priority = types.PriorityHigh
	}
	return n
}

// incrementUsageTx 在事务内upsert当日用量计数
func incrementUsageTx(tx *gorm.DB, userID, day string, taskType types.TaskType) error {
	record := types.UsageRecord{
		UserID:   userID,
		Day:      day,
		TaskType: taskType,
		Count:    1,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "day"}, {Name: "task_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count":      gorm.Expr("count + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("upserting usage record: %w", err)
	}
	return nil
}

// CreateWebhookLog 写入入站Webhook日志
func (s *GormStore) CreateWebhookLog(ctx context.Context, log *types.WebhookLog) error {
	result := s.db.WithContext(ctx).Create(log)
	if result.Error != nil {
		return fmt.Errorf("creating webhook log: %w", result.Error)
	}
	return nil
}

// MarkWebhookProcessed 标记日志为已处理并记录处理结果
func (s *GormStore) MarkWebhookProcessed(ctx context.Context, logID uint, processingResult string) error {
	result := s.db.WithContext(ctx).Model(&types.WebhookLog{}).
		Where("id = ?", logID).
		Updates(map[string]interface{}{
			"processed":         true,
			"processing_result": processingResult,
		})
	if result.Error != nil {
		return fmt.Errorf("marking webhook log: %w", result.Error)
	}
	return nil
}

// ListWebhookLogs 按时间倒序列出入站日志
func (s *GormStore) ListWebhookLogs(ctx context.Context, limit int) ([]*types.WebhookLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []*types.WebhookLog
	result := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs)
	if result.Error != nil {
		return nil, fmt.Errorf("listing webhook logs: %w", result.Error)
	}
	return logs, nil
}

// MarkWebhookEventSeen 记录事件并报告是否为重放
func (s *GormStore) MarkWebhookEventSeen(ctx context.Context, source, eventID string) (bool, error) {
	event := types.WebhookEvent{Source: source, EventID: eventID}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&event)
	if result.Error != nil {
		return false, fmt.Errorf("recording webhook event: %w", result.Error)
	}
	// 冲突时不写入任何行，说明事件已出现过
	return result.RowsAffected == 0, nil
}

// ForgetWebhookEvent 删除事件记录，释放事件ID供重试投递
func (s *GormStore) ForgetWebhookEvent(ctx context.Context, source, eventID string) error {
	result := s.db.WithContext(ctx).
		Where("source = ? AND event_id = ?", source, eventID).
		Delete(&types.WebhookEvent{})
	if result.Error != nil {
		return fmt.Errorf("deleting webhook event: %w", result.Error)
	}
	return nil
}

// CreateNotification 创建通知
func (s *GormStore) CreateNotification(ctx context.Context, notification *types.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	result := s.db.WithContext(ctx).Create(notification)
	if result.Error != nil {
		return fmt.Errorf("creating notification: %w", result.Error)
	}
	return nil
}

// ListNotifications 列出用户通知
func (s *GormStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]*types.Notification, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read = ?", false)
	}

	var notifications []*types.Notification
	result := query.Order("created_at DESC").Find(&notifications)
	if result.Error != nil {
		return nil, fmt.Errorf("querying notifications: %w", result.Error)
	}
	return notifications, nil
}

// MarkNotificationRead 标记单条通知已读
func (s *GormStore) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	result := s.db.WithContext(ctx).Model(&types.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("read", true)
	if result.Error != nil {
		return fmt.Errorf("marking notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead 标记用户全部通知已读
func (s *GormStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).Model(&types.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	if result.Error != nil {
		return fmt.Errorf("marking notifications: %w", result.Error)
	}
	return nil
}

// DeleteNotification 删除通知
func (s *GormStore) DeleteNotification(ctx context.Context, userID, notificationID string) error {
	result := s.db.WithContext(ctx).Delete(&types.Notification{}, "id = ? AND user_id = ?", notificationID, userID)
	if result.Error != nil {
		return fmt.Errorf("deleting notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementUsage upsert当日用量计数
func (s *GormStore) IncrementUsage(ctx context.Context, userID, day string, taskType types.TaskType) error {
	return incrementUsageTx(s.db.WithContext(ctx), userID, day, taskType)
}

// GetUsage 获取用户某日的用量记录
func (s *GormStore) GetUsage(ctx context.Context, userID, day string) ([]*types.UsageRecord, error) {
	var records []*types.UsageRecord
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("querying usage records: %w", result.Error)
	}
	return records, nil
}

// Cleanup 清理过期数据：旧的Webhook日志与去重记录
func (s *GormStore) Cleanup(ctx context.Context) error {
	cutoff := time.Now().Add(-30 * 24 * time.Hour)

	if err := s.db.WithContext(ctx).Delete(&types.WebhookLog{}, "created_at < ?", cutoff).Error; err != nil {
		return fmt.Errorf("cleaning webhook logs: %w", err)
	}
	if err := s.db.WithContext(ctx).Delete(&types.WebhookEvent{}, "created_at < ?", cutoff).Error; err != nil {
		return fmt.Errorf("cleaning webhook events: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func (s *GormStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return nil
	}
	return db.Close()
}
