package n8n

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asplatform-backend/pkg/config"
	"asplatform-backend/pkg/logger"
	"asplatform-backend/pkg/store"
	"asplatform-backend/pkg/types"
)

// capturedRequest 记录引擎侧收到的一次请求
type capturedRequest struct {
	Path    string
	Headers http.Header
	Body    map[string]interface{}
}

// newTestEngine 构造一个记录请求的假引擎
func newTestEngine(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	var mu sync.Mutex
	var requests []capturedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)

		mu.Lock()
		requests = append(requests, capturedRequest{
			Path:    r.URL.Path,
			Headers: r.Header.Clone(),
			Body:    body,
		})
		mu.Unlock()

		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	return server, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		out := make([]capturedRequest, len(requests))
		copy(out, requests)
		return out
	}
}

func newTestClient(engineURL string) (*Client, store.Store) {
	cfg := config.DefaultServerConfig()
	cfg.Engine.BaseURL = engineURL
	cfg.Engine.APIKey = "test-key"

	st := store.NewMemoryStore()
	return NewClient(cfg, st, logger.NewLogger(false)), st
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Happy Path", func(t *testing.T) {
		engine, captured := newTestEngine(t, http.StatusOK)
		client, st := newTestClient(engine.URL)

		result := client.Dispatch(ctx, DispatchRequest{
			TaskType: types.TaskTypeLeadScoring,
			Data:     map[string]interface{}{"leadId": "lead-42"},
			UserID:   "user-1",
		})

		require.True(t, result.Success)
		assert.True(t, strings.HasPrefix(result.ExecutionID, "exec_"))
		assert.Equal(t, types.TaskStatusQueued, result.Status)

		// 跟踪行已登记为queued
		task, err := st.GetTask(ctx, result.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusQueued, task.Status)
		assert.Equal(t, "user-1", task.UserID)
		assert.JSONEq(t, `{"leadId":"lead-42"}`, task.InputData)

		// 引擎收到带标准头的信封
		reqs := captured()
		require.Len(t, reqs, 1)
		assert.Equal(t, "/webhook/lead-scoring", reqs[0].Path)
		assert.Equal(t, "Bearer test-key", reqs[0].Headers.Get("Authorization"))
		assert.Equal(t, "asplatform", reqs[0].Headers.Get("X-Webhook-Source"))
		assert.Equal(t, result.ExecutionID, reqs[0].Headers.Get("X-Execution-Id"))
		assert.Equal(t, result.ExecutionID, reqs[0].Body["executionId"])
		assert.Equal(t, "lead_scoring", reqs[0].Body["taskType"])
		assert.NotEmpty(t, reqs[0].Body["callbackUrl"])
	})

	t.Run("Unsupported Type", func(t *testing.T) {
		engine, captured := newTestEngine(t, http.StatusOK)
		client, st := newTestClient(engine.URL)

		result := client.Dispatch(ctx, DispatchRequest{
			TaskType: types.TaskType("video_editing"),
			UserID:   "user-1",
		})

		require.False(t, result.Success)
		assert.Equal(t, types.TaskStatusFailed, result.Status)
		assert.Contains(t, result.Error, "unsupported task type")
		assert.Empty(t, result.ExecutionID)

		// 不写任何行，也不触达引擎
		tasks, err := st.ListTasks(ctx, types.TaskFilter{})
		require.NoError(t, err)
		assert.Empty(t, tasks)
		assert.Empty(t, captured())
	})

	t.Run("Engine Failure", func(t *testing.T) {
		engine, _ := newTestEngine(t, http.StatusInternalServerError)
		client, st := newTestClient(engine.URL)

		result := client.Dispatch(ctx, DispatchRequest{
			TaskType: types.TaskTypeContentGeneration,
			UserID:   "user-1",
		})

		require.False(t, result.Success)
		assert.Equal(t, types.TaskStatusFailed, result.Status)
		assert.NotEmpty(t, result.ExecutionID)

		// 已登记的行被标记为failed
		task, err := st.GetTask(ctx, result.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusFailed, task.Status)
		assert.NotEmpty(t, task.ErrorMessage)
	})
}

func TestDispatchBatch(t *testing.T) {
	engine, _ := newTestEngine(t, http.StatusOK)
	client, _ := newTestClient(engine.URL)

	items := []BatchItem{
		{TaskType: types.TaskTypeLeadScoring, Data: map[string]interface{}{"i": "0"}},
		{TaskType: types.TaskType("bogus")},
		{TaskType: types.TaskTypeEmailCampaign, Data: map[string]interface{}{"i": "2"}},
	}

	results := client.DispatchBatch(context.Background(), "user-1", items)
	require.Len(t, results, 3)

	// 结果按输入顺序返回，单项失败不影响其余项
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "unsupported task type")
	assert.True(t, results[2].Success)
}

func TestTaskStatus(t *testing.T) {
	engine, _ := newTestEngine(t, http.StatusOK)
	client, st := newTestClient(engine.URL)
	ctx := context.Background()

	_, err := client.TaskStatus(ctx, "exec_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.CreateTask(ctx, &types.Task{
		ID:            "exec_done",
		UserID:        "user-1",
		TaskType:      types.TaskTypeLeadScoring,
		Status:        types.TaskStatusCompleted,
		Result:        `{"score":87}`,
		ExecutionTime: 1500,
	}))

	info, err := client.TaskStatus(ctx, "exec_done")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, info.Status)
	assert.JSONEq(t, `{"score":87}`, string(info.Result))
	assert.Equal(t, int64(1500), info.ExecutionTime)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("Engine Confirms", func(t *testing.T) {
		engine, captured := newTestEngine(t, http.StatusOK)
		client, st := newTestClient(engine.URL)

		require.NoError(t, st.CreateTask(ctx, &types.Task{
			ID:       "exec_run",
			UserID:   "user-1",
			TaskType: types.TaskTypeLeadScoring,
			Status:   types.TaskStatusProcessing,
		}))

		cancelled, err := client.Cancel(ctx, "exec_run", "user-1")
		require.NoError(t, err)
		assert.True(t, cancelled)

		task, err := st.GetTask(ctx, "exec_run")
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusCancelled, task.Status)

		reqs := captured()
		require.Len(t, reqs, 1)
		assert.Equal(t, "/api/v1/executions/exec_run/stop", reqs[0].Path)
	})

	t.Run("Engine Rejects", func(t *testing.T) {
		engine, _ := newTestEngine(t, http.StatusConflict)
		client, st := newTestClient(engine.URL)

		require.NoError(t, st.CreateTask(ctx, &types.Task{
			ID:       "exec_run",
			UserID:   "user-1",
			TaskType: types.TaskTypeLeadScoring,
			Status:   types.TaskStatusProcessing,
		}))

		cancelled, err := client.Cancel(ctx, "exec_run", "user-1")
		require.NoError(t, err)
		assert.False(t, cancelled)

		// 本地状态保持不变
		task, err := st.GetTask(ctx, "exec_run")
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusProcessing, task.Status)
	})

	t.Run("Wrong Owner", func(t *testing.T) {
		engine, captured := newTestEngine(t, http.StatusOK)
		client, st := newTestClient(engine.URL)

		require.NoError(t, st.CreateTask(ctx, &types.Task{
			ID:       "exec_run",
			UserID:   "user-1",
			TaskType: types.TaskTypeLeadScoring,
			Status:   types.TaskStatusProcessing,
		}))

		_, err := client.Cancel(ctx, "exec_run", "user-2")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Empty(t, captured())
	})
}

func TestRegistry(t *testing.T) {
	ep, ok := Resolve(types.TaskTypeSocialPost)
	require.True(t, ok)
	assert.Equal(t, "social-post", ep.Path)

	_, ok = Resolve(types.TaskType("bogus"))
	assert.False(t, ok)

	assert.Len(t, RegisteredTypes(), 6)
}
