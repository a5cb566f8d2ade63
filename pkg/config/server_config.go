package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ServerConfig 服务端配置
type ServerConfig struct {
	// 服务器配置
	Server struct {
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		PublicURL  string `yaml:"public_url"` // 对外可达地址，用于生成回调URL
	} `yaml:"server"`

	// 外部工作流引擎配置
	Engine struct {
		BaseURL       string        `yaml:"base_url"`       // N8N实例地址
		APIKey        string        `yaml:"api_key"`        // Bearer凭证
		WebhookSecret string        `yaml:"webhook_secret"` // 入站签名密钥，为空则跳过校验
		VerifyToken   string        `yaml:"verify_token"`   // GET握手校验令牌
		Timeout       time.Duration `yaml:"timeout"`        // 出站请求超时
	} `yaml:"engine"`

	// 认证配置
	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	// 日志配置
	Log struct {
		Debug bool   `yaml:"debug"`
		File  string `yaml:"file"`
	} `yaml:"log"`

	// 存储配置
	Storage struct {
		Type   string `yaml:"type"` // sqlite, postgres, memory
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		Postgres struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			DBName   string `yaml:"dbname"`
			SSLMode  string `yaml:"sslmode"`
		} `yaml:"postgres"`
	} `yaml:"storage"`
}

// LoadServerConfig 加载服务端配置
func LoadServerConfig(path string, workspaceRoot string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := LoadConfig(path, cfg); err != nil {
		return nil, err
	}

	// 处理相对路径
	if err := cfg.resolveRelativePaths(workspaceRoot); err != nil {
		return nil, fmt.Errorf("resolving paths: %w", err)
	}

	return cfg, nil
}

// Validate 实现Config接口
func (c *ServerConfig) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Engine.BaseURL == "" {
		return fmt.Errorf("engine.base_url is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Storage.Type == "" {
		return fmt.Errorf("storage.type is required")
	}
	if c.Engine.Timeout <= 0 {
		c.Engine.Timeout = 30 * time.Second
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	return nil
}

// CallbackURL 返回回调端点的完整地址
func (c *ServerConfig) CallbackURL() string {
	base := c.Server.PublicURL
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	return base + "/api/webhooks?source=n8n"
}

// resolveRelativePaths 处理相对路径
func (c *ServerConfig) resolveRelativePaths(baseDir string) error {
	// 处理日志文件路径
	if c.Log.File != "" && !filepath.IsAbs(c.Log.File) {
		c.Log.File = filepath.Join(baseDir, c.Log.File)
	}

	// 处理SQLite数据库路径
	if c.Storage.Type == "sqlite" && !filepath.IsAbs(c.Storage.SQLite.Path) {
		c.Storage.SQLite.Path = filepath.Join(baseDir, c.Storage.SQLite.Path)
		// 确保数据库目录存在
		if err := os.MkdirAll(filepath.Dir(c.Storage.SQLite.Path), 0755); err != nil {
			return fmt.Errorf("creating sqlite directory: %w", err)
		}
	}

	return nil
}

// DefaultServerConfig 返回默认服务端配置
func DefaultServerConfig() *ServerConfig {
	cfg := &ServerConfig{}

	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080

	cfg.Engine.BaseURL = "http://localhost:5678"
	cfg.Engine.Timeout = 30 * time.Second

	cfg.Auth.TokenTTL = 24 * time.Hour

	cfg.Log.Debug = false
	cfg.Log.File = "data/asplatform.log"

	cfg.Storage.Type = "sqlite"
	cfg.Storage.SQLite.Path = "data/asplatform.db"

	return cfg
}
