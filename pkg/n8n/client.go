package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"asplatform-backend/pkg/config"
	"asplatform-backend/pkg/logger"
	"asplatform-backend/pkg/store"
	"asplatform-backend/pkg/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// sourceTag 出站请求的来源标识
const sourceTag = "asplatform"

// Client 工作流引擎派发客户端
// 每次派发是一次独立的HTTP调用，本层不做重试
type Client struct {
	config *config.ServerConfig
	store  store.Store
	http   *http.Client
	logger zerolog.Logger
}

// NewClient 创建派发客户端实例
func NewClient(cfg *config.ServerConfig, store store.Store, logger *logger.Logger) *Client {
	return &Client{
		config: cfg,
		store:  store,
		http:   &http.Client{Timeout: cfg.Engine.Timeout},
		logger: logger.GetLogger("n8n-client"),
	}
}

// DispatchRequest 派发请求
type DispatchRequest struct {
	WorkflowID  string                 `json:"workflow_id"`
	TaskType    types.TaskType         `json:"task_type"`
	Data        map[string]interface{} `json:"data"`
	UserID      string                 `json:"user_id"`
	CallbackURL string                 `json:"callback_url,omitempty"`
	Priority    string                 `json:"priority,omitempty"`
	Timeout     int                    `json:"timeout,omitempty"` // 秒，透传给引擎，本进程不执行
}

// DispatchResult 派发结果，错误折叠在结果中返回
type DispatchResult struct {
	Success     bool             `json:"success"`
	ExecutionID string           `json:"execution_id"`
	Status      types.TaskStatus `json:"status"`
	Message     string           `json:"message,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// BatchItem 批量派发中的一项
type BatchItem struct {
	TaskType types.TaskType         `json:"task_type"`
	Data     map[string]interface{} `json:"data"`
}

// TaskStatusInfo 任务状态查询结果
type TaskStatusInfo struct {
	Status        types.TaskStatus `json:"status"`
	Result        json.RawMessage  `json:"result,omitempty"`
	Error         string           `json:"error,omitempty"`
	ExecutionTime int64            `json:"execution_time,omitempty"`
}

// envelope 发给引擎的JSON信封
type envelope struct {
	ExecutionID string                 `json:"executionId"`
	WorkflowID  string                 `json:"workflowId,omitempty"`
	TaskType    types.TaskType         `json:"taskType"`
	UserID      string                 `json:"userId"`
	Data        map[string]interface{} `json:"data"`
	CallbackURL string                 `json:"callbackUrl"`
	Priority    string                 `json:"priority,omitempty"`
	Timeout     int                    `json:"timeout,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Source      string                 `json:"source"`
}

// Dispatch 将任务转发给外部工作流引擎并登记跟踪行
// 未注册的任务类型直接失败且不写任何行；转发失败将已登记的行标记为failed
func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) *DispatchResult {
	ep, ok := Resolve(req.TaskType)
	if !ok {
		return &DispatchResult{
			Success:     false,
			ExecutionID: "",
			Status:      types.TaskStatusFailed,
			Error:       fmt.Sprintf("unsupported task type: %s", req.TaskType),
		}
	}

	executionID := "exec_" + uuid.NewString()

	inputData, err := json.Marshal(req.Data)
	if err != nil {
		return &DispatchResult{
			Success: false,
			Status:  types.TaskStatusFailed,
			Error:   fmt.Sprintf("encoding input data: %v", err),
		}
	}

	task := &types.Task{
		ID:         executionID,
		UserID:     req.UserID,
		WorkflowID: req.WorkflowID,
		TaskType:   req.TaskType,
		Status:     types.TaskStatusQueued,
		InputData:  string(inputData),
		Priority:   req.Priority,
	}
	if err := c.store.CreateTask(ctx, task); err != nil {
		c.logger.Error().Err(err).Str("task_type", string(req.TaskType)).Msg("Failed to create task row")
		return &DispatchResult{
			Success: false,
			Status:  types.TaskStatusFailed,
			Error:   err.Error(),
		}
	}

	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = c.config.CallbackURL()
	}

	env := envelope{
		ExecutionID: executionID,
		WorkflowID:  req.WorkflowID,
		TaskType:    req.TaskType,
		UserID:      req.UserID,
		Data:        req.Data,
		CallbackURL: callbackURL,
		Priority:    req.Priority,
		Timeout:     req.Timeout,
		Timestamp:   time.Now().UTC(),
		Source:      sourceTag,
	}

	if err := c.post(ctx, c.config.Engine.BaseURL+"/webhook/"+ep.Path, executionID, env); err != nil {
		c.logger.Error().Err(err).
			Str("execution_id", executionID).
			Str("task_type", string(req.TaskType)).
			Msg("Dispatch failed")

		task.Status = types.TaskStatusFailed
		task.ErrorMessage = err.Error()
		if uerr := c.store.UpdateTask(ctx, task); uerr != nil {
			c.logger.Error().Err(uerr).Str("execution_id", executionID).Msg("Failed to mark task failed")
		}
		return &DispatchResult{
			Success:     false,
			ExecutionID: executionID,
			Status:      types.TaskStatusFailed,
			Error:       err.Error(),
		}
	}

	c.logger.Info().
		Str("execution_id", executionID).
		Str("task_type", string(req.TaskType)).
		Str("user_id", req.UserID).
		Msg("Task dispatched")

	return &DispatchResult{
		Success:     true,
		ExecutionID: executionID,
		Status:      types.TaskStatusQueued,
		Message:     fmt.Sprintf("dispatched to %s", ep.Name),
	}
}

// DispatchBatch 并发派发一组任务，结果按输入顺序返回
// 各项相互独立，单项失败不影响其余项
func (c *Client) DispatchBatch(ctx context.Context, userID string, items []BatchItem) []*DispatchResult {
	results := make([]*DispatchResult, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item BatchItem) {
			defer wg.Done()
			results[i] = c.Dispatch(ctx, DispatchRequest{
				TaskType: item.TaskType,
				Data:     item.Data,
				UserID:   userID,
			})
		}(i, item)
	}
	wg.Wait()

	return results
}

// TaskStatus 查询任务状态
func (c *Client) TaskStatus(ctx context.Context, executionID string) (*TaskStatusInfo, error) {
	task, err := c.store.GetTask(ctx, executionID)
	if err != nil {
		return nil, err
	}

	info := &TaskStatusInfo{
		Status:        task.Status,
		Error:         task.ErrorMessage,
		ExecutionTime: task.ExecutionTime,
	}
	if task.Result != "" {
		info.Result = json.RawMessage(task.Result)
	}
	return info, nil
}

// Cancel 请求引擎停止执行，仅在引擎确认后将本地任务行标记为cancelled
// 停止请求失败时本地状态保持不变
func (c *Client) Cancel(ctx context.Context, taskID, userID string) (bool, error) {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task.UserID != userID {
		return false, store.ErrNotFound
	}

	url := fmt.Sprintf("%s/api/v1/executions/%s/stop", c.config.Engine.BaseURL, taskID)
	if err := c.post(ctx, url, taskID, map[string]string{"reason": "user_cancelled"}); err != nil {
		c.logger.Warn().Err(err).Str("execution_id", taskID).Msg("Engine stop request failed")
		return false, nil
	}

	task.Status = types.TaskStatusCancelled
	if err := c.store.UpdateTask(ctx, task); err != nil {
		return false, fmt.Errorf("marking task cancelled: %w", err)
	}

	c.logger.Info().Str("execution_id", taskID).Msg("Task cancelled")
	return true, nil
}

// post 向引擎发送一次JSON请求，非2xx视为失败
func (c *Client) post(ctx context.Context, url, executionID string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.Engine.APIKey)
	req.Header.Set("X-Webhook-Source", sourceTag)
	req.Header.Set("X-Execution-Id", executionID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
