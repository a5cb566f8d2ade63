package types

import "time"

// WebhookLog 入站Webhook日志，追加写入
// 仅processed/processing_result在处理完成后更新一次
type WebhookLog struct {
	ID               uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Source           string    `json:"source" gorm:"size:30;index"`
	EventType        string    `json:"event_type" gorm:"size:60"`
	Payload          string    `json:"payload" gorm:"type:text"`
	Processed        bool      `json:"processed" gorm:"default:false"`
	ProcessingResult string    `json:"processing_result" gorm:"type:text"`
	CreatedAt        time.Time `json:"created_at"`
}

// WebhookEvent 入站事件去重表，(source, event_id)唯一
// 重放的回调在写入该表时冲突，处理端据此跳过
type WebhookEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Source    string    `json:"source" gorm:"size:30;uniqueIndex:idx_webhook_event,priority:1"`
	EventID   string    `json:"event_id" gorm:"size:128;uniqueIndex:idx_webhook_event,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageRecord 按用户/日期/任务类型维度的用量计数
// (user_id, day, task_type)唯一，计数以upsert方式累加
type UsageRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    string    `json:"user_id" gorm:"size:36;uniqueIndex:idx_usage,priority:1"`
	Day       string    `json:"day" gorm:"size:10;uniqueIndex:idx_usage,priority:2"` // YYYY-MM-DD
	TaskType  TaskType  `json:"task_type" gorm:"size:40;uniqueIndex:idx_usage,priority:3"`
	Count     int64     `json:"count" gorm:"default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
