package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asplatform-backend/pkg/types"
)

func TestSQLiteStore(t *testing.T) {
	// 初始化临时数据库
	store, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	day := time.Now().Format("2006-01-02")

	// 测试用户操作
	t.Run("User Operations", func(t *testing.T) {
		user := &types.User{
			ID:       "user-1",
			Email:    "alice@example.com",
			Name:     "Alice",
			Password: "argon2-hash",
			Plan:     "free",
		}
		require.NoError(t, store.CreateUser(ctx, user))

		retrieved, err := store.GetUserByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID, retrieved.ID)
		assert.Equal(t, user.Name, retrieved.Name)

		exists, err := store.CheckUserExists(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.True(t, exists)

		_, err = store.GetUser(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	// 测试任务操作
	t.Run("Task Operations", func(t *testing.T) {
		task := &types.Task{
			ID:        "exec_task-1",
			UserID:    "user-1",
			TaskType:  types.TaskTypeLeadScoring,
			Status:    types.TaskStatusQueued,
			InputData: `{"leadId":"lead-42"}`,
		}
		require.NoError(t, store.CreateTask(ctx, task))

		retrieved, err := store.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusQueued, retrieved.Status)

		status := types.TaskStatusQueued
		tasks, err := store.ListTasks(ctx, types.TaskFilter{Status: &status})
		require.NoError(t, err)
		assert.Len(t, tasks, 1)

		counts, err := store.CountTasksByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[types.TaskStatusQueued])
	})

	// 测试任务回调事务：状态、用量与通知一并落库
	t.Run("Task Callback", func(t *testing.T) {
		task, err := store.ApplyTaskCallback(ctx, TaskCallbackUpdate{
			TaskID:          "exec_task-1",
			Status:          types.TaskStatusCompleted,
			Result:          `{"score":87}`,
			ExecutionTimeMs: 1200,
		})
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusCompleted, task.Status)
		assert.Equal(t, `{"score":87}`, task.Result)
		assert.Equal(t, int64(1200), task.ExecutionTime)

		// 完成回调累加当日用量
		usage, err := store.GetUsage(ctx, "user-1", day)
		require.NoError(t, err)
		require.Len(t, usage, 1)
		assert.Equal(t, types.TaskTypeLeadScoring, usage[0].TaskType)
		assert.Equal(t, int64(1), usage[0].Count)

		// 终态回调产生通知
		notifications, err := store.ListNotifications(ctx, "user-1", true)
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, types.NotificationSuccess, notifications[0].Type)
		assert.Equal(t, "ai_task", notifications[0].Category)

		// 不存在的任务返回ErrNotFound
		_, err = store.ApplyTaskCallback(ctx, TaskCallbackUpdate{
			TaskID: "exec_missing",
			Status: types.TaskStatusCompleted,
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	// 中间态回调不产生用量和通知
	t.Run("Task Callback Processing", func(t *testing.T) {
		task := &types.Task{
			ID:       "exec_task-2",
			UserID:   "user-1",
			TaskType: types.TaskTypeContentGeneration,
			Status:   types.TaskStatusQueued,
		}
		require.NoError(t, store.CreateTask(ctx, task))

		updated, err := store.ApplyTaskCallback(ctx, TaskCallbackUpdate{
			TaskID: task.ID,
			Status: types.TaskStatusProcessing,
		})
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusProcessing, updated.Status)

		usage, err := store.GetUsage(ctx, "user-1", day)
		require.NoError(t, err)
		require.Len(t, usage, 1)
		assert.Equal(t, types.TaskTypeLeadScoring, usage[0].TaskType)

		notifications, err := store.ListNotifications(ctx, "user-1", false)
		require.NoError(t, err)
		assert.Len(t, notifications, 1)
	})

	// 取消回调产生取消通知，而非失败通知
	t.Run("Task Callback Cancelled", func(t *testing.T) {
		task := &types.Task{
			ID:       "exec_task-3",
			UserID:   "user-cancel",
			TaskType: types.TaskTypeSocialPost,
			Status:   types.TaskStatusProcessing,
		}
		require.NoError(t, store.CreateTask(ctx, task))

		updated, err := store.ApplyTaskCallback(ctx, TaskCallbackUpdate{
			TaskID: task.ID,
			Status: types.TaskStatusCancelled,
		})
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusCancelled, updated.Status)

		notifications, err := store.ListNotifications(ctx, "user-cancel", false)
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, "Task cancelled", notifications[0].Title)
		assert.Equal(t, types.NotificationWarning, notifications[0].Type)
		assert.NotContains(t, notifications[0].Message, "failed")

		// 取消不计入用量
		usage, err := store.GetUsage(ctx, "user-cancel", day)
		require.NoError(t, err)
		assert.Empty(t, usage)
	})

	// 测试Webhook事件去重
	t.Run("Webhook Dedupe", func(t *testing.T) {
		seen, err := store.MarkWebhookEventSeen(ctx, "n8n", "evt-1")
		require.NoError(t, err)
		assert.False(t, seen)

		seen, err = store.MarkWebhookEventSeen(ctx, "n8n", "evt-1")
		require.NoError(t, err)
		assert.True(t, seen)

		// 不同来源的同名事件互不影响
		seen, err = store.MarkWebhookEventSeen(ctx, "platform", "evt-1")
		require.NoError(t, err)
		assert.False(t, seen)

		// 释放后同一事件可以再次投递
		require.NoError(t, store.ForgetWebhookEvent(ctx, "n8n", "evt-1"))
		seen, err = store.MarkWebhookEventSeen(ctx, "n8n", "evt-1")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	// 测试Webhook日志
	t.Run("Webhook Log", func(t *testing.T) {
		log := &types.WebhookLog{
			Source:    "n8n",
			EventType: "task.completed",
			Payload:   `{"taskId":"exec_task-1"}`,
		}
		require.NoError(t, store.CreateWebhookLog(ctx, log))
		require.NotZero(t, log.ID)

		require.NoError(t, store.MarkWebhookProcessed(ctx, log.ID, "task exec_task-1 -> completed"))
	})

	// 测试执行记录与工作流统计
	t.Run("Workflow Stats", func(t *testing.T) {
		workflow := &types.Workflow{
			ID:     "wf-1",
			UserID: "user-1",
			Name:   "Lead pipeline",
		}
		require.NoError(t, store.CreateWorkflow(ctx, workflow))

		// running状态不计入统计
		require.NoError(t, store.RecordExecution(ctx, &types.WorkflowExecution{
			ID:         "run-1",
			WorkflowID: "wf-1",
			Status:     types.ExecutionStatusRunning,
			StartedAt:  time.Now(),
		}))
		wf, err := store.GetWorkflow(ctx, "user-1", "wf-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), wf.TotalRuns)

		// 转入终态时统计一次
		require.NoError(t, store.RecordExecution(ctx, &types.WorkflowExecution{
			ID:         "run-1",
			WorkflowID: "wf-1",
			Status:     types.ExecutionStatusSuccess,
			DurationMs: 1000,
			StartedAt:  time.Now(),
		}))
		wf, err = store.GetWorkflow(ctx, "user-1", "wf-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), wf.TotalRuns)
		assert.Equal(t, int64(1), wf.SuccessRuns)
		assert.InDelta(t, 1000, wf.AvgDurationMs, 0.001)

		// 同一执行的终态重放不再累计
		require.NoError(t, store.RecordExecution(ctx, &types.WorkflowExecution{
			ID:         "run-1",
			WorkflowID: "wf-1",
			Status:     types.ExecutionStatusSuccess,
			DurationMs: 1000,
			StartedAt:  time.Now(),
		}))
		wf, err = store.GetWorkflow(ctx, "user-1", "wf-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), wf.TotalRuns)

		// 第二次执行失败，均值按递推公式更新
		require.NoError(t, store.RecordExecution(ctx, &types.WorkflowExecution{
			ID:         "run-2",
			WorkflowID: "wf-1",
			Status:     types.ExecutionStatusError,
			DurationMs: 3000,
			StartedAt:  time.Now(),
		}))
		wf, err = store.GetWorkflow(ctx, "user-1", "wf-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), wf.TotalRuns)
		assert.Equal(t, int64(1), wf.FailedRuns)
		assert.InDelta(t, 2000, wf.AvgDurationMs, 0.001)
		assert.NotNil(t, wf.LastRunAt)

		execs, err := store.ListExecutions(ctx, "wf-1", 10)
		require.NoError(t, err)
		assert.Len(t, execs, 2)
	})

	// 测试用量upsert累加
	t.Run("Usage Upsert", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			require.NoError(t, store.IncrementUsage(ctx, "user-2", day, types.TaskTypeEmailCampaign))
		}
		usage, err := store.GetUsage(ctx, "user-2", day)
		require.NoError(t, err)
		require.Len(t, usage, 1)
		assert.Equal(t, int64(3), usage[0].Count)
	})

	// 测试通知的归属检查
	t.Run("Notification Ownership", func(t *testing.T) {
		notification := &types.Notification{
			ID:      "note-1",
			UserID:  "user-2",
			Title:   "Test",
			Message: "hello",
			Type:    types.NotificationInfo,
		}
		require.NoError(t, store.CreateNotification(ctx, notification))

		// 其他用户不能操作该通知
		err := store.MarkNotificationRead(ctx, "user-1", "note-1")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.MarkNotificationRead(ctx, "user-2", "note-1"))
		unread, err := store.ListNotifications(ctx, "user-2", true)
		require.NoError(t, err)
		assert.Empty(t, unread)

		require.NoError(t, store.DeleteNotification(ctx, "user-2", "note-1"))
		err = store.DeleteNotification(ctx, "user-2", "note-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	// 测试Agent归属隔离
	t.Run("Agent Operations", func(t *testing.T) {
		agent := &types.Agent{
			ID:     "agent-1",
			UserID: "user-1",
			Name:   "Scoring bot",
			Type:   "lead_scoring",
		}
		require.NoError(t, store.CreateAgent(ctx, agent))

		_, err := store.GetAgent(ctx, "user-2", "agent-1")
		assert.ErrorIs(t, err, ErrNotFound)

		agents, err := store.ListAgents(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, agents, 1)

		require.NoError(t, store.DeleteAgent(ctx, "user-1", "agent-1"))
		_, err = store.GetAgent(ctx, "user-1", "agent-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
