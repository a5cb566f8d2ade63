package types

import "time"

// IntegrationPlatform 支持的第三方平台
type IntegrationPlatform string

const (
	PlatformStripe    IntegrationPlatform = "stripe"
	PlatformShopify   IntegrationPlatform = "shopify"
	PlatformMailchimp IntegrationPlatform = "mailchimp"
	PlatformSlack     IntegrationPlatform = "slack"
)

// KnownPlatform 判断平台标识是否受支持
func KnownPlatform(p IntegrationPlatform) bool {
	switch p {
	case PlatformStripe, PlatformShopify, PlatformMailchimp, PlatformSlack:
		return true
	}
	return false
}

// Integration 第三方平台集成模型
type Integration struct {
	ID          string              `json:"id" gorm:"primaryKey;size:36"`
	UserID      string              `json:"user_id" gorm:"size:36;index;not null"`
	Platform    IntegrationPlatform `json:"platform" gorm:"size:30;not null"`
	Name        string              `json:"name"`
	Status      string              `json:"status" gorm:"size:20;default:connected"`
	AccessToken string              `json:"-" gorm:"type:text"` // 凭证不会在JSON中返回
	Config      string              `json:"config" gorm:"type:text"`
	ConnectedAt *time.Time          `json:"connected_at"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}
