package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

const maxPageSize = 100

// ListTenantRecords handles GET /tenants/:id/records?status=&cursor=&limit=
func (h *TenantHandler) ListTenantRecords(c *gin.Context) {
	id, ok := parseID(c, "tenant")
	if !ok {
		return
	}

	var filter models.RecordFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	var params models.PaginationParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if params.Limit < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must not be negative"})
		return
	}
	if params.Limit > maxPageSize {
		params.Limit = maxPageSize
	}

	resp, err := h.tenantManager.ListRecords(c.Request.Context(), id, filter, params)
	if err != nil {
		h.respondError(c, "Failed to list records", err, zap.String("tenant_id", id.String()))
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetRecord handles GET /records/:id
func (h *TenantHandler) GetRecord(c *gin.Context) {
	id, ok := parseID(c, "record")
	if !ok {
		return
	}

	record, err := h.tenantManager.GetRecord(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get record", err, zap.String("id", id.String()))
		return
	}

	c.JSON(http.StatusOK, record)
}

// MarkManualCheck handles PUT /records/:id/manual-check
func (h *TenantHandler) MarkManualCheck(c *gin.Context) {
	id, ok := parseID(c, "record")
	if !ok {
		return
	}

	record, err := h.tenantManager.MarkManualCheck(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to mark record for manual check", err, zap.String("id", id.String()))
		return
	}

	c.JSON(http.StatusOK, record)
}
