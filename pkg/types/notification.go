package types

import "time"

// NotificationType 通知类型
type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationInfo    NotificationType = "info"
	NotificationWarning NotificationType = "warning"
)

// NotificationPriority 通知优先级
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
)

// Notification 用户通知模型，由任务/工作流回调产生
type Notification struct {
	ID        string               `json:"id" gorm:"primaryKey;size:36"`
	UserID    string               `json:"user_id" gorm:"size:36;index;not null"`
	Title     string               `json:"title" gorm:"not null"`
	Message   string               `json:"message" gorm:"type:text"`
	Type      NotificationType     `json:"type" gorm:"size:20"`
	Category  string               `json:"category" gorm:"size:30"` // ai_task, workflow, platform
	Priority  NotificationPriority `json:"priority" gorm:"size:10"`
	Read      bool                 `json:"read" gorm:"default:false;index"`
	ActionURL string               `json:"action_url,omitempty"`
	Metadata  string               `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt time.Time            `json:"created_at"`
}
