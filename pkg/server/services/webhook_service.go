package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"asplatform-backend/pkg/config"
	"asplatform-backend/pkg/store"
	"asplatform-backend/pkg/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// signatureHeaders 按优先级检查的签名头
var signatureHeaders = []string{"X-Signature", "X-Hub-Signature-256", "Stripe-Signature"}

// platformHandler 单个平台的回调处理函数
type platformHandler func(ctx context.Context, payload map[string]interface{}) (string, error)

// WebhookService 入站Webhook接收服务
// 每次入站调用先落日志再分发，处理结束后回写处理结果
// 入站投递不做重试，重试责任在发送方
type WebhookService struct {
	config *config.ServerConfig
	logger zerolog.Logger
	store  store.Store

	// 封闭的平台处理器注册表，未登记的平台走默认确认分支
	platforms map[types.IntegrationPlatform]platformHandler
}

// NewWebhookService 创建Webhook服务实例
func NewWebhookService(cfg *config.ServerConfig, logger zerolog.Logger, st store.Store) *WebhookService {
	s := &WebhookService{
		config: cfg,
		logger: logger.With().Str("service", "webhook").Logger(),
		store:  st,
	}
	s.platforms = map[types.IntegrationPlatform]platformHandler{
		types.PlatformStripe:    s.handleStripe,
		types.PlatformShopify:   s.handleShopify,
		types.PlatformMailchimp: s.handleMailchimp,
		types.PlatformSlack:     s.handleSlack,
	}
	return s
}

// RegisterRoutes 注册路由，入站端点不经过会话认证
func (s *WebhookService) RegisterRoutes(r *gin.Engine) {
	r.POST("/api/webhooks", s.HandleReceive)
	r.GET("/api/webhooks", s.HandleVerify)
}

// HandleReceive 接收入站回调
// 每次入站调用无条件先落日志，被拒绝的请求也会留痕
func (s *WebhookService) HandleReceive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	ctx := c.Request.Context()
	source := c.Query("source")

	var payload map[string]interface{}
	parseErr := json.Unmarshal(body, &payload)

	// 落日志先于校验与分发；日志写入失败不阻断处理
	logEntry := &types.WebhookLog{
		Source:  source,
		Payload: string(body),
	}
	if parseErr == nil {
		logEntry.EventType = eventType(payload)
	}
	if err := s.store.CreateWebhookLog(ctx, logEntry); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write webhook log")
	}

	// 签名校验基于原始报文
	if s.config.Engine.WebhookSecret != "" {
		if sig := firstSignature(c); sig != "" && !verifySignature(s.config.Engine.WebhookSecret, body, sig) {
			s.logger.Warn().Str("source", source).Msg("Webhook signature mismatch")
			s.finishLog(ctx, logEntry.ID, "rejected: invalid signature")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
			return
		}
	}

	if parseErr != nil {
		s.finishLog(ctx, logEntry.ID, "rejected: malformed payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	// 事件去重：携带事件ID的重放直接确认并跳过
	eventID := extractEventID(payload)
	if eventID != "" {
		seen, err := s.store.MarkWebhookEventSeen(ctx, source, eventID)
		if err != nil {
			s.logger.Error().Err(err).Str("event_id", eventID).Msg("Failed to record webhook event")
		} else if seen {
			s.logger.Info().Str("source", source).Str("event_id", eventID).Msg("Duplicate webhook delivery skipped")
			s.finishLog(ctx, logEntry.ID, "duplicate delivery, skipped")
			c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
			return
		}
	} else {
		s.logger.Debug().Str("source", source).Msg("Webhook payload carries no event id, dedupe skipped")
	}

	result, err := s.dispatch(ctx, c, source, payload)
	if err != nil {
		// 处理失败时释放事件ID，发送方的重试投递不会被当作重放跳过
		if eventID != "" {
			if ferr := s.store.ForgetWebhookEvent(ctx, source, eventID); ferr != nil {
				s.logger.Error().Err(ferr).Str("event_id", eventID).Msg("Failed to release webhook event")
			}
		}
		s.logger.Error().Err(err).Str("source", source).Msg("Webhook processing failed")
		s.finishLog(ctx, logEntry.ID, "error: "+err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook processing failed", "details": err.Error()})
		return
	}

	s.finishLog(ctx, logEntry.ID, result)
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// HandleVerify 处理平台接入时的challenge握手
func (s *WebhookService) HandleVerify(c *gin.Context) {
	challenge := c.Query("hub.challenge")
	if challenge == "" {
		challenge = c.Query("challenge")
	}
	if challenge == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	verifyToken := c.Query("hub.verify_token")
	if verifyToken == "" {
		verifyToken = c.Query("verify_token")
	}
	if s.config.Engine.VerifyToken != "" && verifyToken != s.config.Engine.VerifyToken {
		c.JSON(http.StatusForbidden, gin.H{"error": "Verify token mismatch"})
		return
	}

	c.String(http.StatusOK, challenge)
}

// dispatch 按source参数分发到对应的子处理器
// 未识别的来源记录后按成功确认，不产生副作用
func (s *WebhookService) dispatch(ctx context.Context, c *gin.Context, source string, payload map[string]interface{}) (string, error) {
	switch source {
	case "n8n":
		return s.handleEngineCallback(ctx, payload)
	case "platform":
		platform := types.IntegrationPlatform(c.Query("platform"))
		handler, ok := s.platforms[platform]
		if !ok {
			s.logger.Warn().Str("platform", string(platform)).Msg("Unknown platform, acknowledged without processing")
			return "unknown platform, not processed", nil
		}
		return handler(ctx, payload)
	default:
		s.logger.Warn().Str("source", source).Msg("Unknown webhook source, acknowledged without processing")
		return "unknown source, not processed", nil
	}
}

// handleEngineCallback 处理来自工作流引擎的回调
// 带taskId的按任务完成处理，带workflowId的按执行记录处理
func (s *WebhookService) handleEngineCallback(ctx context.Context, payload map[string]interface{}) (string, error) {
	raw, _ := json.Marshal(payload)

	if _, ok := payload["taskId"]; ok {
		return s.handleTaskCallback(ctx, raw)
	}
	if _, ok := payload["workflowId"]; ok {
		return s.handleWorkflowExecution(ctx, raw)
	}
	s.logger.Warn().Msg("Engine callback without taskId or workflowId, acknowledged without processing")
	return "unrecognized engine event, not processed", nil
}

// handleTaskCallback 应用任务回调：状态/结果/用量/通知在一个事务内落库
func (s *WebhookService) handleTaskCallback(ctx context.Context, raw []byte) (string, error) {
	var cb struct {
		TaskID        string          `json:"taskId"`
		Status        string          `json:"status"`
		Result        json.RawMessage `json:"result"`
		Error         string          `json:"error"`
		ExecutionTime int64           `json:"executionTime"`
	}
	if err := json.Unmarshal(raw, &cb); err != nil {
		return "", fmt.Errorf("decoding task callback: %w", err)
	}
	if cb.TaskID == "" || cb.Status == "" {
		return "", fmt.Errorf("task callback requires taskId and status")
	}

	status := types.TaskStatus(cb.Status)
	switch status {
	case types.TaskStatusProcessing, types.TaskStatusCompleted, types.TaskStatusFailed, types.TaskStatusCancelled:
	default:
		return "", fmt.Errorf("unknown task status: %s", cb.Status)
	}

	task, err := s.store.ApplyTaskCallback(ctx, store.TaskCallbackUpdate{
		TaskID:          cb.TaskID,
		Status:          status,
		Result:          string(cb.Result),
		ErrorMessage:    cb.Error,
		ExecutionTimeMs: cb.ExecutionTime,
	})
	if err != nil {
		return "", fmt.Errorf("applying task callback: %w", err)
	}

	s.logger.Info().
		Str("task_id", task.ID).
		Str("status", string(task.Status)).
		Str("user_id", task.UserID).
		Msg("Task callback applied")

	return fmt.Sprintf("task %s -> %s", task.ID, task.Status), nil
}

// handleWorkflowExecution upsert执行记录并在终态时通知用户
func (s *WebhookService) handleWorkflowExecution(ctx context.Context, raw []byte) (string, error) {
	var ev struct {
		ExecutionID string `json:"executionId"`
		WorkflowID  string `json:"workflowId"`
		UserID      string `json:"userId"`
		Status      string `json:"status"`
		DurationMs  int64  `json:"durationMs"`
		Error       string `json:"error"`
		StartedAt   string `json:"startedAt"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return "", fmt.Errorf("decoding execution event: %w", err)
	}
	if ev.ExecutionID == "" || ev.WorkflowID == "" {
		return "", fmt.Errorf("execution event requires executionId and workflowId")
	}

	exec := &types.WorkflowExecution{
		ID:         ev.ExecutionID,
		WorkflowID: ev.WorkflowID,
		UserID:     ev.UserID,
		Status:     types.ExecutionStatus(ev.Status),
		DurationMs: ev.DurationMs,
		Error:      ev.Error,
		Payload:    string(raw),
		StartedAt:  time.Now(),
	}
	if ev.StartedAt != "" {
		if t, err := time.Parse(time.RFC3339, ev.StartedAt); err == nil {
			exec.StartedAt = t
		}
	}
	if exec.Status != types.ExecutionStatusRunning {
		now := time.Now()
		exec.FinishedAt = &now
	}

	if err := s.store.RecordExecution(ctx, exec); err != nil {
		return "", fmt.Errorf("recording execution: %w", err)
	}

	// 终态时生成通知；通知失败不回滚执行记录
	if exec.Status != types.ExecutionStatusRunning && ev.UserID != "" {
		notification := &types.Notification{
			ID:       uuid.NewString(),
			UserID:   ev.UserID,
			Category: "workflow",
			Metadata: fmt.Sprintf(`{"execution_id":%q,"workflow_id":%q}`, ev.ExecutionID, ev.WorkflowID),
		}
		if exec.Status == types.ExecutionStatusSuccess {
			notification.Title = "Workflow run finished"
			notification.Message = fmt.Sprintf("Workflow execution %s completed", ev.ExecutionID)
			notification.Type = types.NotificationSuccess
			notification.Priority = types.PriorityMedium
		} else {
			notification.Title = "Workflow run failed"
			notification.Message = fmt.Sprintf("Workflow execution %s failed: %s", ev.ExecutionID, ev.Error)
			notification.Type = types.NotificationError
			notification.Priority = types.PriorityHigh
		}
		if err := s.store.CreateNotification(ctx, notification); err != nil {
			s.logger.Error().Err(err).Msg("Failed to create workflow notification")
		}
	}

	return fmt.Sprintf("execution %s -> %s", ev.ExecutionID, ev.Status), nil
}

// handleStripe 处理Stripe事件
func (s *WebhookService) handleStripe(ctx context.Context, payload map[string]interface{}) (string, error) {
	event := eventType(payload)
	s.logger.Info().Str("event", event).Msg("Stripe event received")
	s.notifyPlatformEvent(ctx, payload, types.PlatformStripe, event)
	return "stripe event " + event, nil
}

// handleShopify 处理Shopify事件
func (s *WebhookService) handleShopify(ctx context.Context, payload map[string]interface{}) (string, error) {
	event := eventType(payload)
	s.logger.Info().Str("event", event).Msg("Shopify event received")
	s.notifyPlatformEvent(ctx, payload, types.PlatformShopify, event)
	return "shopify event " + event, nil
}

// handleMailchimp 处理Mailchimp事件
func (s *WebhookService) handleMailchimp(ctx context.Context, payload map[string]interface{}) (string, error) {
	event := eventType(payload)
	s.logger.Info().Str("event", event).Msg("Mailchimp event received")
	s.notifyPlatformEvent(ctx, payload, types.PlatformMailchimp, event)
	return "mailchimp event " + event, nil
}

// handleSlack 处理Slack事件
func (s *WebhookService) handleSlack(ctx context.Context, payload map[string]interface{}) (string, error) {
	event := eventType(payload)
	s.logger.Info().Str("event", event).Msg("Slack event received")
	s.notifyPlatformEvent(ctx, payload, types.PlatformSlack, event)
	return "slack event " + event, nil
}

// notifyPlatformEvent 平台事件携带userId时生成一条信息类通知
func (s *WebhookService) notifyPlatformEvent(ctx context.Context, payload map[string]interface{}, platform types.IntegrationPlatform, event string) {
	userID, _ := payload["userId"].(string)
	if userID == "" {
		return
	}
	notification := &types.Notification{
		ID:       uuid.NewString(),
		UserID:   userID,
		Title:    fmt.Sprintf("%s event", platform),
		Message:  fmt.Sprintf("Received %s event from %s", event, platform),
		Type:     types.NotificationInfo,
		Category: "platform",
		Priority: types.PriorityLow,
	}
	if err := s.store.CreateNotification(ctx, notification); err != nil {
		s.logger.Error().Err(err).Str("platform", string(platform)).Msg("Failed to create platform notification")
	}
}

// finishLog 回写日志处理结果，失败仅记录
func (s *WebhookService) finishLog(ctx context.Context, logID uint, result string) {
	if logID == 0 {
		return
	}
	if err := s.store.MarkWebhookProcessed(ctx, logID, result); err != nil {
		s.logger.Error().Err(err).Uint("log_id", logID).Msg("Failed to mark webhook log processed")
	}
}

// firstSignature 返回第一个出现的签名头
func firstSignature(c *gin.Context) string {
	for _, h := range signatureHeaders {
		if v := c.GetHeader(h); v != "" {
			return v
		}
	}
	return ""
}

// verifySignature 对原始报文做HMAC-SHA256并恒定时间比较
// 接受可选的sha256=前缀
func verifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// eventType 从松散的事件信封中提取事件类型
func eventType(payload map[string]interface{}) string {
	for _, key := range []string{"event", "type", "eventType"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return "unknown"
}

// extractEventID 提取用于去重的事件标识
// 没有独立事件ID时退化为 任务/执行ID+状态 的组合，
// 这样同一任务的不同阶段回调不会被误判为重放
func extractEventID(payload map[string]interface{}) string {
	for _, key := range []string{"eventId", "deliveryId", "id"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}

	status, _ := payload["status"].(string)
	for _, key := range []string{"taskId", "executionId"} {
		if v, ok := payload[key].(string); ok && v != "" {
			if status != "" {
				return v + ":" + status
			}
			return v
		}
	}
	return ""
}
