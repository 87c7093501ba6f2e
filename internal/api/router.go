package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/config"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/middleware"
)

type Server struct {
	router        *gin.Engine
	config        *config.Config
	tokens        *middleware.TokenIssuer
	tenantHandler *TenantHandler
	authHandler   *AuthHandler
	logger        *zap.Logger
}

func NewServer(cfg *config.Config, tenantManager TenantManagerInterface, logger *zap.Logger) *Server {
	router := gin.New()

	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())

	if cfg.Metrics.Enabled {
		router.Use(middleware.PrometheusMiddleware(cfg.Metrics.Path))
	}

	tokens := middleware.NewTokenIssuer(cfg.Auth)

	return &Server{
		router:        router,
		config:        cfg,
		tokens:        tokens,
		tenantHandler: NewTenantHandler(tenantManager, logger),
		authHandler:   NewAuthHandler(cfg.Auth, tokens, logger),
		logger:        logger,
	}
}

func (s *Server) SetupRoutes() {
	s.router.GET("/health", s.healthCheck)

	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	auth := s.router.Group("/auth")
	{
		auth.POST("/login", s.authHandler.Login)
		auth.POST("/refresh", s.authHandler.RefreshToken)
		auth.POST("/logout", middleware.JWTAuthMiddleware(s.tokens), s.authHandler.Logout)
	}

	v1 := s.router.Group("/api/v1")
	if s.config.Auth.RequireAuth {
		v1.Use(middleware.JWTAuthMiddleware(s.tokens))
	}

	{
		tenants := v1.Group("/tenants")
		{
			tenants.GET("", s.adminOnly(), s.tenantHandler.GetAllTenants)
			tenants.GET("/stats", s.adminOnly(), s.tenantHandler.GetTenantStats)

			tenantAuth := tenants.Group("")
			if s.config.Auth.RequireAuth {
				tenantAuth.Use(middleware.TenantAuthMiddleware())
			}
			{
				tenantAuth.GET("/:id", s.tenantHandler.GetTenant)
				tenantAuth.PUT("/:id/pause", s.tenantHandler.PauseTenant)
				tenantAuth.PUT("/:id/resume", s.tenantHandler.ResumeTenant)
				tenantAuth.PUT("/:id/warmup", s.tenantHandler.UpdateWarmup)
				tenantAuth.PUT("/:id/limits", s.tenantHandler.UpdateLimits)
				tenantAuth.GET("/:id/records", s.tenantHandler.ListTenantRecords)
			}
		}

		// Record ids carry no tenant in the path, so only admins reach them.
		records := v1.Group("/records", s.adminOnly())
		{
			records.GET("/:id", s.tenantHandler.GetRecord)
			records.PUT("/:id/manual-check", s.tenantHandler.MarkManualCheck)
		}
	}
}

// adminOnly enforces the admin role when authentication is required.
func (s *Server) adminOnly() gin.HandlerFunc {
	if s.config.Auth.RequireAuth {
		return middleware.AdminOnlyMiddleware()
	}
	return func(c *gin.Context) { c.Next() }
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "multi-tenant-outreach-engine",
	})
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
