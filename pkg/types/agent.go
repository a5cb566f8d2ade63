package types

import "time"

// Agent AI代理模型
type Agent struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	UserID       string    `json:"user_id" gorm:"size:36;index;not null"`
	Name         string    `json:"name" gorm:"not null"`
	Type         string    `json:"type" gorm:"size:40"` // sales, marketing, support
	Model        string    `json:"model" gorm:"size:60"`
	SystemPrompt string    `json:"system_prompt" gorm:"type:text"`
	Temperature  float64   `json:"temperature" gorm:"default:0.7"`
	Active       bool      `json:"active" gorm:"default:true"`
	Config       string    `json:"config" gorm:"type:text"` // JSON文本
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
