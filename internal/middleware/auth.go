package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/config"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleRefresh  = "refresh"

	issuer = "multi-tenant-outreach-engine"
)

type Claims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HS256 tokens with the configured secret.
type TokenIssuer struct {
	secret        []byte
	tokenExpiry   time.Duration
	refreshExpiry time.Duration
	now           func() time.Time
}

func NewTokenIssuer(cfg config.AuthConfig) *TokenIssuer {
	tokenExpiry := cfg.TokenExpiry
	if tokenExpiry <= 0 {
		tokenExpiry = 24 * time.Hour
	}
	refreshExpiry := cfg.RefreshExpiry
	if refreshExpiry <= 0 {
		refreshExpiry = 7 * 24 * time.Hour
	}
	return &TokenIssuer{
		secret:        []byte(cfg.JWTSecret),
		tokenExpiry:   tokenExpiry,
		refreshExpiry: refreshExpiry,
		now:           time.Now,
	}
}

// TokenExpiry is the access token lifetime.
func (i *TokenIssuer) TokenExpiry() time.Duration {
	return i.tokenExpiry
}

// GenerateToken generates an access token for a user
func (i *TokenIssuer) GenerateToken(userID, tenantID, role string) (string, error) {
	return i.sign(Claims{UserID: userID, TenantID: tenantID, Role: role}, i.tokenExpiry)
}

// GenerateRefreshToken generates a refresh token. The tenant scope survives the refresh.
func (i *TokenIssuer) GenerateRefreshToken(userID, tenantID string) (string, error) {
	return i.sign(Claims{UserID: userID, TenantID: tenantID, Role: RoleRefresh}, i.refreshExpiry)
}

func (i *TokenIssuer) sign(claims Claims, ttl time.Duration) (string, error) {
	now := i.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    issuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates and parses a token
func (i *TokenIssuer) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// JWTAuthMiddleware validates bearer tokens from the Authorization header.
// Refresh tokens are not accepted as access tokens.
func JWTAuthMiddleware(issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}

		claims, err := issuer.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token", "details": err.Error()})
			return
		}
		if claims.Role == RoleRefresh {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Refresh token cannot be used for API access"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("tenant_id", claims.TenantID)
		c.Set("role", claims.Role)
		c.Set("claims", claims)

		c.Next()
	}
}

// TenantAuthMiddleware ensures a tenant-scoped operator only reaches its own tenant
func TenantAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestedTenantID := c.Param("id")

		userTenantID, exists := c.Get("tenant_id")
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "No tenant information in token"})
			return
		}

		role, exists := c.Get("role")
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "No role information in token"})
			return
		}

		if role == RoleAdmin {
			c.Next()
			return
		}

		if requestedTenantID != "" && userTenantID != requestedTenantID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied to this tenant"})
			return
		}

		c.Next()
	}
}

// AdminOnlyMiddleware ensures only admin operators can access the endpoint
func AdminOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "No role information in token"})
			return
		}

		if role != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}

		c.Next()
	}
}
