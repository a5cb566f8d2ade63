package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asplatform-backend/pkg/config"
	"asplatform-backend/pkg/store"
	"asplatform-backend/pkg/types"
)

func newWebhookTest(secret string) (*gin.Engine, store.Store) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultServerConfig()
	cfg.Engine.WebhookSecret = secret
	cfg.Engine.VerifyToken = "verify-me"

	st := store.NewMemoryStore()
	svc := NewWebhookService(cfg, zerolog.Nop(), st)

	r := gin.New()
	svc.RegisterRoutes(r)
	return r, st
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(r *gin.Engine, url string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookSignature(t *testing.T) {
	r, _ := newWebhookTest("topsecret")
	body := []byte(`{"taskId":"exec_x","status":"completed"}`)

	t.Run("Mismatch Rejected", func(t *testing.T) {
		w := postWebhook(r, "/api/webhooks?source=n8n", body, map[string]string{
			"X-Signature": "sha256=deadbeef",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Valid Accepted", func(t *testing.T) {
		// 签名正确但任务不存在，走处理失败分支而不是签名拒绝
		w := postWebhook(r, "/api/webhooks?source=n8n", body, map[string]string{
			"X-Signature": sign("topsecret", body),
		})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("Alternate Header", func(t *testing.T) {
		w := postWebhook(r, "/api/webhooks?source=platform", body, map[string]string{
			"X-Hub-Signature-256": sign("topsecret", body),
		})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestWebhookReceive(t *testing.T) {
	ctx := context.Background()

	t.Run("Malformed JSON", func(t *testing.T) {
		r, _ := newWebhookTest("")
		w := postWebhook(r, "/api/webhooks?source=n8n", []byte("{not json"), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Task Callback End To End", func(t *testing.T) {
		r, st := newWebhookTest("")
		require.NoError(t, st.CreateTask(ctx, &types.Task{
			ID:       "exec_lead",
			UserID:   "user-1",
			TaskType: types.TaskTypeLeadScoring,
			Status:   types.TaskStatusQueued,
		}))

		// 中间态回调
		processing := []byte(`{"taskId":"exec_lead","status":"processing"}`)
		w := postWebhook(r, "/api/webhooks?source=n8n", processing, nil)
		require.Equal(t, http.StatusOK, w.Code)

		task, err := st.GetTask(ctx, "exec_lead")
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusProcessing, task.Status)

		// 终态回调：状态、结果、用量、通知一并落库
		completed := []byte(`{"taskId":"exec_lead","status":"completed","result":{"score":87},"executionTime":1200}`)
		w = postWebhook(r, "/api/webhooks?source=n8n", completed, nil)
		require.Equal(t, http.StatusOK, w.Code)

		task, err = st.GetTask(ctx, "exec_lead")
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusCompleted, task.Status)
		assert.JSONEq(t, `{"score":87}`, task.Result)
		assert.Equal(t, int64(1200), task.ExecutionTime)

		day := time.Now().Format("2006-01-02")
		usage, err := st.GetUsage(ctx, "user-1", day)
		require.NoError(t, err)
		require.Len(t, usage, 1)
		assert.Equal(t, int64(1), usage[0].Count)

		notifications, err := st.ListNotifications(ctx, "user-1", true)
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, types.NotificationSuccess, notifications[0].Type)

		// 同一终态回调重放：确认但跳过，用量不会翻倍
		w = postWebhook(r, "/api/webhooks?source=n8n", completed, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["duplicate"])

		usage, err = st.GetUsage(ctx, "user-1", day)
		require.NoError(t, err)
		require.Len(t, usage, 1)
		assert.Equal(t, int64(1), usage[0].Count)
	})

	t.Run("Retry After Failure", func(t *testing.T) {
		r, st := newWebhookTest("")

		// 任务行尚不存在时回调失败
		completed := []byte(`{"taskId":"exec_early","status":"completed","result":{"score":42}}`)
		w := postWebhook(r, "/api/webhooks?source=n8n", completed, nil)
		require.Equal(t, http.StatusInternalServerError, w.Code)

		// 任务行落库后，发送方的重试投递必须被应用而不是当作重放跳过
		require.NoError(t, st.CreateTask(ctx, &types.Task{
			ID:       "exec_early",
			UserID:   "user-1",
			TaskType: types.TaskTypeLeadScoring,
			Status:   types.TaskStatusQueued,
		}))

		w = postWebhook(r, "/api/webhooks?source=n8n", completed, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotContains(t, resp, "duplicate")

		task, err := st.GetTask(ctx, "exec_early")
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusCompleted, task.Status)

		// 重试成功后事件ID再次生效，后续重放被跳过
		w = postWebhook(r, "/api/webhooks?source=n8n", completed, nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["duplicate"])
	})

	t.Run("Rejected Requests Logged", func(t *testing.T) {
		r, st := newWebhookTest("topsecret")

		body := []byte(`{"taskId":"exec_x","status":"completed"}`)
		w := postWebhook(r, "/api/webhooks?source=n8n", body, map[string]string{
			"X-Signature": "sha256=deadbeef",
		})
		require.Equal(t, http.StatusUnauthorized, w.Code)

		w = postWebhook(r, "/api/webhooks?source=n8n", []byte("{not json"), map[string]string{
			"X-Signature": sign("topsecret", []byte("{not json")),
		})
		require.Equal(t, http.StatusBadRequest, w.Code)

		// 被拒绝的请求同样留痕
		logs, err := st.ListWebhookLogs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "rejected: malformed payload", logs[0].ProcessingResult)
		assert.Equal(t, "rejected: invalid signature", logs[1].ProcessingResult)
	})

	t.Run("Unknown Status Rejected", func(t *testing.T) {
		r, st := newWebhookTest("")
		require.NoError(t, st.CreateTask(ctx, &types.Task{
			ID:       "exec_x",
			UserID:   "user-1",
			TaskType: types.TaskTypeLeadScoring,
			Status:   types.TaskStatusQueued,
		}))

		body := []byte(`{"taskId":"exec_x","status":"exploded"}`)
		w := postWebhook(r, "/api/webhooks?source=n8n", body, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("Workflow Execution Event", func(t *testing.T) {
		r, st := newWebhookTest("")
		require.NoError(t, st.CreateWorkflow(ctx, &types.Workflow{
			ID:     "wf-1",
			UserID: "user-1",
			Name:   "Campaign",
		}))

		body := []byte(`{"executionId":"run-1","workflowId":"wf-1","userId":"user-1","status":"success","durationMs":800}`)
		w := postWebhook(r, "/api/webhooks?source=n8n", body, nil)
		require.Equal(t, http.StatusOK, w.Code)

		wf, err := st.GetWorkflow(ctx, "user-1", "wf-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), wf.TotalRuns)
		assert.Equal(t, int64(1), wf.SuccessRuns)

		notifications, err := st.ListNotifications(ctx, "user-1", true)
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, "workflow", notifications[0].Category)
	})

	t.Run("Platform Event", func(t *testing.T) {
		r, st := newWebhookTest("")
		body := []byte(`{"id":"evt-9","type":"invoice.paid","userId":"user-1"}`)
		w := postWebhook(r, "/api/webhooks?source=platform&platform=stripe", body, nil)
		require.Equal(t, http.StatusOK, w.Code)

		notifications, err := st.ListNotifications(ctx, "user-1", true)
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, "platform", notifications[0].Category)
	})

	t.Run("Unknown Source Acknowledged", func(t *testing.T) {
		r, _ := newWebhookTest("")
		body := []byte(`{"hello":"world"}`)
		w := postWebhook(r, "/api/webhooks?source=telegram", body, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestWebhookVerify(t *testing.T) {
	r, _ := newWebhookTest("")

	t.Run("Challenge Echo", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/webhooks?hub.challenge=abc123&hub.verify_token=verify-me", nil)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "abc123", w.Body.String())
	})

	t.Run("Token Mismatch", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/webhooks?hub.challenge=abc123&hub.verify_token=wrong", nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("No Challenge", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/webhooks", nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestExtractEventID(t *testing.T) {
	// 独立事件ID优先
	assert.Equal(t, "evt-1", extractEventID(map[string]interface{}{"eventId": "evt-1", "taskId": "exec_x"}))

	// 回退为任务ID+状态的组合，不同阶段回调不会互相冲突
	assert.Equal(t, "exec_x:processing", extractEventID(map[string]interface{}{"taskId": "exec_x", "status": "processing"}))
	assert.Equal(t, "exec_x:completed", extractEventID(map[string]interface{}{"taskId": "exec_x", "status": "completed"}))

	// 无可用标识时跳过去重
	assert.Equal(t, "", extractEventID(map[string]interface{}{"hello": "world"}))
}
