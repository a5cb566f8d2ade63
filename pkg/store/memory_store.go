package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"asplatform-backend/pkg/types"

	"github.com/google/uuid"
)

// MemoryStore 内存存储实现，用于开发模式和测试
type MemoryStore struct {
	sync.RWMutex
	users         map[string]*types.User
	agents        map[string]*types.Agent
	integrations  map[string]*types.Integration
	workflows     map[string]*types.Workflow
	executions    map[string]*types.WorkflowExecution
	tasks         map[string]*types.Task
	webhookLogs   map[uint]*types.WebhookLog
	webhookEvents map[string]bool // source + "\x00" + eventID
	notifications map[string]*types.Notification
	usage         map[string]*types.UsageRecord // userID + "\x00" + day + "\x00" + taskType
	nextLogID     uint
}

// NewMemoryStore 创建内存存储实例
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*types.User),
		agents:        make(map[string]*types.Agent),
		integrations:  make(map[string]*types.Integration),
		workflows:     make(map[string]*types.Workflow),
		executions:    make(map[string]*types.WorkflowExecution),
		tasks:         make(map[string]*types.Task),
		webhookLogs:   make(map[uint]*types.WebhookLog),
		webhookEvents: make(map[string]bool),
		notifications: make(map[string]*types.Notification),
		usage:         make(map[string]*types.UsageRecord),
	}
}

// CreateUser 创建用户
func (s *MemoryStore) CreateUser(_ context.Context, user *types.User) error {
	s.Lock()
	defer s.Unlock()

	for _, u := range s.users {
		if u.Email == user.Email {
			return fmt.Errorf("user %s already exists", user.Email)
		}
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	s.users[user.ID] = user
	return nil
}

// GetUser 获取用户
func (s *MemoryStore) GetUser(_ context.Context, id string) (*types.User, error) {
	s.RLock()
	defer s.RUnlock()

	user, exists := s.users[id]
	if !exists {
		return nil, ErrNotFound
	}
	return user, nil
}

// GetUserByEmail 按邮箱获取用户
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*types.User, error) {
	s.RLock()
	defer s.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

// CheckUserExists 检查邮箱是否已注册
func (s *MemoryStore) CheckUserExists(_ context.Context, email string) (bool, error) {
	s.RLock()
	defer s.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// CreateAgent 创建代理
func (s *MemoryStore) CreateAgent(_ context.Context, agent *types.Agent) error {
	s.Lock()
	defer s.Unlock()

	agent.CreatedAt = time.Now()
	agent.UpdatedAt = agent.CreatedAt
	s.agents[agent.ID] = agent
	return nil
}

// GetAgent 获取代理
func (s *MemoryStore) GetAgent(_ context.Context, userID, agentID string) (*types.Agent, error) {
	s.RLock()
	defer s.RUnlock()

	agent, exists := s.agents[agentID]
	if !exists || agent.UserID != userID {
		return nil, ErrNotFound
	}
	return agent, nil
}

// UpdateAgent 更新代理
func (s *MemoryStore) UpdateAgent(_ context.Context, agent *types.Agent) error {
	s.Lock()
	defer s.Unlock()

	existing, exists := s.agents[agent.ID]
	if !exists || existing.UserID != agent.UserID {
		return ErrNotFound
	}
	agent.UpdatedAt = time.Now()
	s.agents[agent.ID] = agent
	return nil
}

// DeleteAgent 删除代理
func (s *MemoryStore) DeleteAgent(_ context.Context, userID, agentID string) error {
	s.Lock()
	defer s.Unlock()

	agent, exists := s.agents[agentID]
	if !exists || agent.UserID != userID {
		return ErrNotFound
	}
	delete(s.agents, agentID)
	return nil
}

// ListAgents 列出用户的所有代理
func (s *MemoryStore) ListAgents(_ context.Context, userID string) ([]*types.Agent, error) {
	s.RLock()
	defer s.RUnlock()

	var agents []*types.Agent
	for _, a := range s.agents {
		if a.UserID == userID {
			agents = append(agents, a)
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].CreatedAt.After(agents[j].CreatedAt) })
	return agents, nil
}

// CreateIntegration 创建集成
func (s *MemoryStore) CreateIntegration(_ context.Context, integration *types.Integration) error {
	s.Lock()
	defer s.Unlock()

	integration.CreatedAt = time.Now()
	integration.UpdatedAt = integration.CreatedAt
	s.integrations[integration.ID] = integration
	return nil
}

// GetIntegration 获取集成
func (s *MemoryStore) GetIntegration(_ context.Context, userID, integrationID string) (*types.Integration, error) {
	s.RLock()
	defer s.RUnlock()

	integration, exists := s.integrations[integrationID]
	if !exists || integration.UserID != userID {
		return nil, ErrNotFound
	}
	return integration, nil
}

// UpdateIntegration 更新集成
func (s *MemoryStore) UpdateIntegration(_ context.Context, integration *types.Integration) error {
	s.Lock()
	defer s.Unlock()

	existing, exists := s.integrations[integration.ID]
	if !exists || existing.UserID != integration.UserID {
		return ErrNotFound
	}
	integration.UpdatedAt = time.Now()
	s.integrations[integration.ID] = integration
	return nil
}

// DeleteIntegration 删除集成
func (s *MemoryStore) DeleteIntegration(_ context.Context, userID, integrationID string) error {
	s.Lock()
	defer s.Unlock()

	integration, exists := s.integrations[integrationID]
	if !exists || integration.UserID != userID {
		return ErrNotFound
	}
	delete(s.integrations, integrationID)
	return nil
}

// ListIntegrations 列出用户的所有集成
func (s *MemoryStore) ListIntegrations(_ context.Context, userID string) ([]*types.Integration, error) {
	s.RLock()
	defer s.RUnlock()

	var integrations []*types.Integration
	for _, i := range s.integrations {
		if i.UserID == userID {
			integrations = append(integrations, i)
		}
	}
	sort.Slice(integrations, func(i, j int) bool {
		return integrations[i].CreatedAt.After(integrations[j].CreatedAt)
	})
	return integrations, nil
}

// CreateWorkflow 创建工作流
func (s *MemoryStore) CreateWorkflow(_ context.Context, workflow *types.Workflow) error {
	s.Lock()
	defer s.Unlock()

	workflow.CreatedAt = time.Now()
	workflow.UpdatedAt = workflow.CreatedAt
	s.workflows[workflow.ID] = workflow
	return nil
}

// GetWorkflow 获取工作流
func (s *MemoryStore) GetWorkflow(_ context.Context, userID, workflowID string) (*types.Workflow, error) {
	s.RLock()
	defer s.RUnlock()

	workflow, exists := s.workflows[workflowID]
	if !exists || workflow.UserID != userID {
		return nil, ErrNotFound
	}
	return workflow, nil
}

// UpdateWorkflow 更新工作流
func (s *MemoryStore) UpdateWorkflow(_ context.Context, workflow *types.Workflow) error {
	s.Lock()
	defer s.Unlock()

	existing, exists := s.workflows[workflow.ID]
	if !exists || existing.UserID != workflow.UserID {
		return ErrNotFound
	}
	workflow.UpdatedAt = time.Now()
	s.workflows[workflow.ID] = workflow
	return nil
}

// DeleteWorkflow 删除工作流
func (s *MemoryStore) DeleteWorkflow(_ context.Context, userID, workflowID string) error {
	s.Lock()
	defer s.Unlock()

	workflow, exists := s.workflows[workflowID]
	if !exists || workflow.UserID != userID {
		return ErrNotFound
	}
	delete(s.workflows, workflowID)
	return nil
}

// ListWorkflows 列出用户的所有工作流
func (s *MemoryStore) ListWorkflows(_ context.Context, userID string) ([]*types.Workflow, error) {
	s.RLock()
	defer s.RUnlock()

	var workflows []*types.Workflow
	for _, w := range s.workflows {
		if w.UserID == userID {
			workflows = append(workflows, w)
		}
	}
	sort.Slice(workflows, func(i, j int) bool { return workflows[i].CreatedAt.After(workflows[j].CreatedAt) })
	return workflows, nil
}

// RecordExecution upsert执行记录并重算工作流聚合统计
func (s *MemoryStore) RecordExecution(_ context.Context, exec *types.WorkflowExecution) error {
	s.Lock()
	defer s.Unlock()

	prevTerminal := false
	if prev, exists := s.executions[exec.ID]; exists {
		prevTerminal = prev.Status != types.ExecutionStatusRunning
	}
	exec.UpdatedAt = time.Now()
	s.executions[exec.ID] = exec

	nowTerminal := exec.Status != types.ExecutionStatusRunning
	if !nowTerminal || prevTerminal {
		return nil
	}

	workflow, exists := s.workflows[exec.WorkflowID]
	if !exists {
		return nil
	}
	workflow.TotalRuns++
	if exec.Status == types.ExecutionStatusSuccess {
		workflow.SuccessRuns++
	} else {
		workflow.FailedRuns++
	}
	n := float64(workflow.TotalRuns)
	workflow.AvgDurationMs = workflow.AvgDurationMs + (float64(exec.DurationMs)-workflow.AvgDurationMs)/n
	now := time.Now()
	workflow.LastRunAt = &now
	return nil
}

// ListExecutions 列出工作流的执行记录
func (s *MemoryStore) ListExecutions(_ context.Context, workflowID string, limit int) ([]*types.WorkflowExecution, error) {
	s.RLock()
	defer s.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var execs []*types.WorkflowExecution
	for _, e := range s.executions {
		if e.WorkflowID == workflowID {
			execs = append(execs, e)
		}
	}
	sort.Slice(execs, func(i, j int) bool { return execs[i].StartedAt.After(execs[j].StartedAt) })
	if len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

// CreateTask 创建任务
func (s *MemoryStore) CreateTask(_ context.Context, task *types.Task) error {
	s.Lock()
	defer s.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	task.CreatedAt = time.Now()
	task.UpdatedAt = task.CreatedAt
	s.tasks[task.ID] = task
	return nil
}

// GetTask 获取任务
func (s *MemoryStore) GetTask(_ context.Context, taskID string) (*types.Task, error) {
	s.RLock()
	defer s.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return nil, ErrNotFound
	}
	return task, nil
}

// UpdateTask 更新任务
func (s *MemoryStore) UpdateTask(_ context.Context, task *types.Task) error {
	s.Lock()
	defer s.Unlock()

	if _, exists := s.tasks[task.ID]; !exists {
		return ErrNotFound
	}
	task.UpdatedAt = time.Now()
	s.tasks[task.ID] = task
	return nil
}

// ListTasks 按过滤条件列出任务
func (s *MemoryStore) ListTasks(_ context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	s.RLock()
	defer s.RUnlock()

	var tasks []*types.Task
	for _, t := range s.tasks {
		if filter.UserID != nil && t.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.Type != nil && t.TaskType != *filter.Type {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(tasks) {
			return nil, nil
		}
		tasks = tasks[filter.Offset:]
	}
	if filter.Limit > 0 && len(tasks) > filter.Limit {
		tasks = tasks[:filter.Limit]
	}
	return tasks, nil
}

// CountTasksByStatus 按状态统计任务数
func (s *MemoryStore) CountTasksByStatus(_ context.Context) (map[types.TaskStatus]int64, error) {
	s.RLock()
	defer s.RUnlock()

	counts := make(map[types.TaskStatus]int64)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// ApplyTaskCallback 应用回调：任务行更新、用量计数、用户通知
func (s *MemoryStore) ApplyTaskCallback(_ context.Context, upd TaskCallbackUpdate) (*types.Task, error) {
	s.Lock()
	defer s.Unlock()

	task, exists := s.tasks[upd.TaskID]
	if !exists {
		return nil, ErrNotFound
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
	task.UpdatedAt = time.Now()

	if upd.Status == types.TaskStatusCompleted {
		day := time.Now().Format("2006-01-02")
		key := task.UserID + "\x00" + day + "\x00" + string(task.TaskType)
		if record, ok := s.usage[key]; ok {
			record.Count++
			record.UpdatedAt = time.Now()
		} else {
			s.usage[key] = &types.UsageRecord{
				UserID:    task.UserID,
				Day:       day,
				TaskType:  task.TaskType,
				Count:     1,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}
		}
	}

	if upd.Status.Terminal() {
		notification := taskNotification(task)
		notification.CreatedAt = time.Now()
		s.notifications[notification.ID] = notification
	}

	return task, nil
}

// CreateWebhookLog 写入入站Webhook日志
func (s *MemoryStore) CreateWebhookLog(_ context.Context, log *types.WebhookLog) error {
	s.Lock()
	defer s.Unlock()

	s.nextLogID++
	log.ID = s.nextLogID
	log.CreatedAt = time.Now()
	s.webhookLogs[log.ID] = log
	return nil
}

// MarkWebhookProcessed 标记日志为已处理
func (s *MemoryStore) MarkWebhookProcessed(_ context.Context, logID uint, result string) error {
	s.Lock()
	defer s.Unlock()

	log, exists := s.webhookLogs[logID]
	if !exists {
		return ErrNotFound
	}
	log.Processed = true
	log.ProcessingResult = result
	return nil
}

// ListWebhookLogs 按时间倒序列出入站日志
func (s *MemoryStore) ListWebhookLogs(_ context.Context, limit int) ([]*types.WebhookLog, error) {
	s.RLock()
	defer s.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	logs := make([]*types.WebhookLog, 0, len(s.webhookLogs))
	for _, l := range s.webhookLogs {
		logs = append(logs, l)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].ID > logs[j].ID })
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// MarkWebhookEventSeen 记录事件并报告是否为重放
func (s *MemoryStore) MarkWebhookEventSeen(_ context.Context, source, eventID string) (bool, error) {
	s.Lock()
	defer s.Unlock()

	key := source + "\x00" + eventID
	if s.webhookEvents[key] {
		return true, nil
	}
	s.webhookEvents[key] = true
	return false, nil
}

// ForgetWebhookEvent 删除事件记录，释放事件ID供重试投递
func (s *MemoryStore) ForgetWebhookEvent(_ context.Context, source, eventID string) error {
	s.Lock()
	defer s.Unlock()

	delete(s.webhookEvents, source+"\x00"+eventID)
	return nil
}

// CreateNotification 创建通知
func (s *MemoryStore) CreateNotification(_ context.Context, notification *types.Notification) error {
	s.Lock()
	defer s.Unlock()

	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	notification.CreatedAt = time.Now()
	s.notifications[notification.ID] = notification
	return nil
}

// ListNotifications 列出用户通知
func (s *MemoryStore) ListNotifications(_ context.Context, userID string, unreadOnly bool) ([]*types.Notification, error) {
	s.RLock()
	defer s.RUnlock()

	var notifications []*types.Notification
	for _, n := range s.notifications {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		notifications = append(notifications, n)
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	return notifications, nil
}

// MarkNotificationRead 标记单条通知已读
func (s *MemoryStore) MarkNotificationRead(_ context.Context, userID, notificationID string) error {
	s.Lock()
	defer s.Unlock()

	n, exists := s.notifications[notificationID]
	if !exists || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

// MarkAllNotificationsRead 标记用户全部通知已读
func (s *MemoryStore) MarkAllNotificationsRead(_ context.Context, userID string) error {
	s.Lock()
	defer s.Unlock()

	for _, n := range s.notifications {
		if n.UserID == userID {
			n.Read = true
		}
	}
	return nil
}

// DeleteNotification 删除通知
func (s *MemoryStore) DeleteNotification(_ context.Context, userID, notificationID string) error {
	s.Lock()
	defer s.Unlock()

	n, exists := s.notifications[notificationID]
	if !exists || n.UserID != userID {
		return ErrNotFound
	}
	delete(s.notifications, notificationID)
	return nil
}

// IncrementUsage upsert当日用量计数
func (s *MemoryStore) IncrementUsage(_ context.Context, userID, day string, taskType types.TaskType) error {
	s.Lock()
	defer s.Unlock()

	key := userID + "\x00" + day + "\x00" + string(taskType)
	if record, ok := s.usage[key]; ok {
		record.Count++
		record.UpdatedAt = time.Now()
		return nil
	}
	s.usage[key] = &types.UsageRecord{
		UserID:    userID,
		Day:       day,
		TaskType:  taskType,
		Count:     1,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	return nil
}

// GetUsage 获取用户某日的用量记录
func (s *MemoryStore) GetUsage(_ context.Context, userID, day string) ([]*types.UsageRecord, error) {
	s.RLock()
	defer s.RUnlock()

	var records []*types.UsageRecord
	for _, r := range s.usage {
		if r.UserID == userID && r.Day == day {
			records = append(records, r)
		}
	}
	return records, nil
}

// Cleanup 内存存储无需清理
func (s *MemoryStore) Cleanup(_ context.Context) error {
	return nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	return nil
}
