package types

import "time"

// Workflow 自动化工作流模型，对应外部引擎中的一个工作流
// 聚合统计字段由回调接收端维护
type Workflow struct {
	ID            string     `json:"id" gorm:"primaryKey;size:36"`
	UserID        string     `json:"user_id" gorm:"size:36;index;not null"`
	Name          string     `json:"name" gorm:"not null"`
	Description   string     `json:"description" gorm:"type:text"`
	EngineID      string     `json:"engine_id" gorm:"size:64"` // 外部引擎中的工作流ID
	Active        bool       `json:"active" gorm:"default:true"`
	TotalRuns     int64      `json:"total_runs"`
	SuccessRuns   int64      `json:"success_runs"`
	FailedRuns    int64      `json:"failed_runs"`
	AvgDurationMs float64    `json:"avg_duration_ms"`
	LastRunAt     *time.Time `json:"last_run_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ExecutionStatus 工作流执行状态
type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusError   ExecutionStatus = "error"
)

// WorkflowExecution 工作流执行记录，以执行ID为主键做幂等upsert
type WorkflowExecution struct {
	ID         string          `json:"id" gorm:"primaryKey;size:64"`
	WorkflowID string          `json:"workflow_id" gorm:"size:36;index;not null"`
	UserID     string          `json:"user_id" gorm:"size:36;index"`
	Status     ExecutionStatus `json:"status" gorm:"size:20"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty" gorm:"type:text"`
	Payload    string          `json:"payload,omitempty" gorm:"type:text"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
