package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/tenant"
)

// TenantManagerInterface defines the admin operations the handlers need.
// *tenant.Manager satisfies it.
type TenantManagerInterface interface {
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetAllTenants(ctx context.Context) ([]models.Tenant, error)
	PauseTenant(ctx context.Context, id uuid.UUID) error
	ResumeTenant(ctx context.Context, id uuid.UUID) error
	UpdateWarmup(ctx context.Context, id uuid.UUID, req *models.UpdateWarmupRequest) (*models.Tenant, error)
	UpdateLimits(ctx context.Context, id uuid.UUID, req *models.UpdateLimitsRequest) (*models.Tenant, error)
	GetTenantStats(ctx context.Context) (*tenant.Overview, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, error)
	ListRecords(ctx context.Context, tenantID uuid.UUID, filter models.RecordFilter, params models.PaginationParams) (*models.RecordListResponse, error)
	MarkManualCheck(ctx context.Context, id uuid.UUID) (*models.Record, error)
}

type TenantHandler struct {
	tenantManager TenantManagerInterface
	logger        *zap.Logger
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewTenantHandler(tenantManager TenantManagerInterface, logger *zap.Logger) *TenantHandler {
	return &TenantHandler{
		tenantManager: tenantManager,
		logger:        logger,
	}
}

// GetTenant handles GET /tenants/:id
func (h *TenantHandler) GetTenant(c *gin.Context) {
	id, ok := parseID(c, "tenant")
	if !ok {
		return
	}

	t, err := h.tenantManager.GetTenant(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get tenant", err, zap.String("id", id.String()))
		return
	}

	c.JSON(http.StatusOK, t)
}

// GetAllTenants handles GET /tenants
func (h *TenantHandler) GetAllTenants(c *gin.Context) {
	tenants, err := h.tenantManager.GetAllTenants(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to get tenants", err)
		return
	}

	c.JSON(http.StatusOK, tenants)
}

// PauseTenant handles PUT /tenants/:id/pause
func (h *TenantHandler) PauseTenant(c *gin.Context) {
	id, ok := parseID(c, "tenant")
	if !ok {
		return
	}

	if err := h.tenantManager.PauseTenant(c.Request.Context(), id); err != nil {
		h.respondError(c, "Failed to pause tenant", err, zap.String("id", id.String()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "tenant paused"})
}

// ResumeTenant handles PUT /tenants/:id/resume
func (h *TenantHandler) ResumeTenant(c *gin.Context) {
	id, ok := parseID(c, "tenant")
	if !ok {
		return
	}

	if err := h.tenantManager.ResumeTenant(c.Request.Context(), id); err != nil {
		h.respondError(c, "Failed to resume tenant", err, zap.String("id", id.String()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "tenant resumed"})
}

// UpdateWarmup handles PUT /tenants/:id/warmup
func (h *TenantHandler) UpdateWarmup(c *gin.Context) {
	id, ok := parseID(c, "tenant")
	if !ok {
		return
	}

	var req models.UpdateWarmupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	t, err := h.tenantManager.UpdateWarmup(c.Request.Context(), id, &req)
	if err != nil {
		h.respondError(c, "Failed to update warm-up", err, zap.String("id", id.String()))
		return
	}

	c.JSON(http.StatusOK, t)
}

// UpdateLimits handles PUT /tenants/:id/limits
func (h *TenantHandler) UpdateLimits(c *gin.Context) {
	id, ok := parseID(c, "tenant")
	if !ok {
		return
	}

	var req models.UpdateLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	t, err := h.tenantManager.UpdateLimits(c.Request.Context(), id, &req)
	if err != nil {
		h.respondError(c, "Failed to update limits", err, zap.String("id", id.String()))
		return
	}

	c.JSON(http.StatusOK, t)
}

// GetTenantStats handles GET /tenants/stats
func (h *TenantHandler) GetTenantStats(c *gin.Context) {
	stats, err := h.tenantManager.GetTenantStats(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to build tenant stats", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func parseID(c *gin.Context, kind string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + kind + " ID format"})
		return uuid.Nil, false
	}
	return id, true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrTenantNotFound), errors.Is(err, models.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidRequest), errors.Is(err, models.ErrUnknownStatus):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrStaleRecord):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *TenantHandler) respondError(c *gin.Context, msg string, err error, fields ...zap.Field) {
	status := statusFor(err)
	fields = append(fields, zap.Error(err), zap.Int("status", status))
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, fields...)
		c.JSON(status, ErrorResponse{Error: "internal server error"})
		return
	}
	h.logger.Warn(msg, fields...)
	c.JSON(status, ErrorResponse{Error: err.Error()})
}
