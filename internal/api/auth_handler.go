package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/config"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/middleware"
)

type AuthHandler struct {
	cfg    config.AuthConfig
	tokens *middleware.TokenIssuer
	logger *zap.Logger
}

// LoginRequest authenticates the operator. A tenant_id scopes the issued
// token to that tenant; without one the token carries the admin role.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TenantID string `json:"tenant_id,omitempty" binding:"omitempty,uuid"`
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func NewAuthHandler(cfg config.AuthConfig, tokens *middleware.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		cfg:    cfg,
		tokens: tokens,
		logger: logger,
	}
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if !h.validCredentials(req.Username, req.Password) {
		h.logger.Warn("Rejected login", zap.String("username", req.Username))
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid credentials"})
		return
	}

	role := middleware.RoleAdmin
	if req.TenantID != "" {
		role = middleware.RoleOperator
	}

	resp, err := h.issue(req.Username, req.TenantID, role)
	if err != nil {
		h.logger.Error("Failed to issue tokens", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to generate token"})
		return
	}

	h.logger.Info("Operator logged in",
		zap.String("user_id", req.Username),
		zap.String("role", role),
		zap.String("tenant_id", req.TenantID))

	c.JSON(http.StatusOK, resp)
}

// RefreshToken handles POST /auth/refresh
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	claims, err := h.tokens.ValidateToken(req.RefreshToken)
	if err != nil || claims.Role != middleware.RoleRefresh {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid refresh token"})
		return
	}
	if claims.UserID != h.cfg.OperatorUsername {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Unknown user"})
		return
	}

	role := middleware.RoleAdmin
	if claims.TenantID != "" {
		role = middleware.RoleOperator
	}

	resp, err := h.issue(claims.UserID, claims.TenantID, role)
	if err != nil {
		h.logger.Error("Failed to refresh tokens", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to generate token"})
		return
	}

	h.logger.Info("Token refreshed", zap.String("user_id", claims.UserID))
	c.JSON(http.StatusOK, resp)
}

// Logout handles POST /auth/logout. Tokens are stateless, so the client
// discards them.
func (h *AuthHandler) Logout(c *gin.Context) {
	if userID, exists := c.Get("user_id"); exists {
		h.logger.Info("Operator logged out", zap.Any("user_id", userID))
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *AuthHandler) validCredentials(username, password string) bool {
	if h.cfg.OperatorUsername == "" || h.cfg.OperatorPassword == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.cfg.OperatorUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.cfg.OperatorPassword)) == 1
	return userOK && passOK
}

func (h *AuthHandler) issue(userID, tenantID, role string) (*LoginResponse, error) {
	if tenantID != "" {
		if _, err := uuid.Parse(tenantID); err != nil {
			return nil, err
		}
	}

	access, err := h.tokens.GenerateToken(userID, tenantID, role)
	if err != nil {
		return nil, err
	}
	refresh, err := h.tokens.GenerateRefreshToken(userID, tenantID)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.tokens.TokenExpiry().Seconds()),
	}, nil
}
