package services

import (
	"errors"
	"net/http"

	"asplatform-backend/pkg/config"
	"asplatform-backend/pkg/server/middleware"
	"asplatform-backend/pkg/store"
	"asplatform-backend/pkg/types"
	"asplatform-backend/pkg/utils/password"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UserService 用户服务
type UserService struct {
	config *config.ServerConfig
	logger zerolog.Logger
	store  store.Store
	auth   *middleware.Authenticator
}

// NewUserService 创建用户服务实例
func NewUserService(cfg *config.ServerConfig, logger zerolog.Logger, store store.Store, auth *middleware.Authenticator) *UserService {
	return &UserService{
		config: cfg,
		logger: logger.With().Str("service", "user").Logger(),
		store:  store,
		auth:   auth,
	}
}

// RegisterRoutes 注册路由
func (s *UserService) RegisterRoutes(r *gin.Engine) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", s.HandleRegister)
		authGroup.POST("/login", s.HandleLogin)
		authGroup.GET("/me", s.auth.AuthRequired(), s.HandleMe)
	}
}

// HandleRegister 处理用户注册
func (s *UserService) HandleRegister(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Name     string `json:"name"`
		Password string `json:"password" binding:"required,min=8"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	// 检查邮箱是否已注册
	exists, err := s.store.CheckUserExists(c.Request.Context(), req.Email)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to check user existence")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if exists {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}

	// 使用 Argon2id 哈希密码
	hashedPassword, err := password.Hash(req.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	user := &types.User{
		ID:       uuid.NewString(),
		Email:    req.Email,
		Name:     req.Name,
		Password: hashedPassword,
	}

	if err := s.store.CreateUser(c.Request.Context(), user); err != nil {
		s.logger.Error().Err(err).Msg("Failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
		},
	})
}

// HandleLogin 处理用户登录
func (s *UserService) HandleLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	user, err := s.store.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// 验证密码
	valid, err := password.Verify(req.Password, user.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to verify password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if !valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	// 签发会话令牌
	token, err := s.auth.GenerateToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
			"plan":  user.Plan,
		},
	})
}

// HandleMe 返回当前会话用户
func (s *UserService) HandleMe(c *gin.Context) {
	user, err := s.store.GetUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unknown user"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, user)
}
