package types

import "time"

// TaskType 定义AI任务类型
type TaskType string

const (
	TaskTypeLeadScoring       TaskType = "lead_scoring"       // 线索评分
	TaskTypeContentGeneration TaskType = "content_generation" // 内容生成
	TaskTypeEmailCampaign     TaskType = "email_campaign"     // 邮件营销
	TaskTypeSocialPost        TaskType = "social_post"        // 社媒发布
	TaskTypeDataEnrichment    TaskType = "data_enrichment"    // 数据补全
	TaskTypeCustomerSupport   TaskType = "customer_support"   // 客服问答
)

// TaskStatus 定义任务状态
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"     // 已入队
	TaskStatusProcessing TaskStatus = "processing" // 正在执行
	TaskStatusCompleted  TaskStatus = "completed"  // 执行成功
	TaskStatusFailed     TaskStatus = "failed"     // 执行失败
	TaskStatusCancelled  TaskStatus = "cancelled"  // 已取消
)

// Terminal 判断状态是否为终态
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task 定义任务结构，ID即执行ID（exec_前缀）
// 任务行只增不删，作为审计记录保留
type Task struct {
	ID            string     `json:"id" gorm:"primaryKey;size:64"`
	UserID        string     `json:"user_id" gorm:"size:36;index;not null"`
	WorkflowID    string     `json:"workflow_id" gorm:"size:64"`
	TaskType      TaskType   `json:"task_type" gorm:"size:40;not null"`
	Status        TaskStatus `json:"status" gorm:"size:20;index;not null"`
	InputData     string     `json:"input_data" gorm:"type:text"` // JSON文本
	Result        string     `json:"result,omitempty" gorm:"type:text"`
	ErrorMessage  string     `json:"error_message,omitempty" gorm:"type:text"`
	Priority      string     `json:"priority" gorm:"size:10"`
	ExecutionTime int64      `json:"execution_time,omitempty"` // 毫秒
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TaskFilter 定义任务过滤条件
type TaskFilter struct {
	UserID *string
	Status *TaskStatus
	Type   *TaskType
	Limit  int
	Offset int
}
