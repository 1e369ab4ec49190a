package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"clinicore/internal/common"
	"clinicore/internal/models"
	"clinicore/internal/services"
)

// AuditLogsHandlers exposes the organization's audit trail to its
// administrators.
type AuditLogsHandlers struct {
	auditLogsSvc services.AuditLogsService
}

// NewAuditLogsHandlers creates a new audit logs handlers instance
func NewAuditLogsHandlers(auditLogsSvc services.AuditLogsService) *AuditLogsHandlers {
	return &AuditLogsHandlers{auditLogsSvc: auditLogsSvc}
}

// ListAuditLogs returns audit entries for the caller's organization,
// filtered by the optional query parameters.
func (h *AuditLogsHandlers) ListAuditLogs(c echo.Context) error {
	caller, ok := callerFromContext(c)
	if !ok || caller.OrganizationID == nil {
		return common.SendUnauthorizedError(c)
	}

	filters := &models.AuditLogFilters{}
	if v := c.QueryParam("table_name"); v != "" {
		filters.TableName = &v
	}
	if v := c.QueryParam("record_id"); v != "" {
		filters.RecordID = &v
	}
	if v := c.QueryParam("action"); v != "" {
		filters.Action = &v
	}
	if v := c.QueryParam("changed_by"); v != "" {
		changedBy, err := uuid.Parse(v)
		if err != nil {
			return common.SendValidationError(c, "changed_by", "must be a valid UUID")
		}
		filters.ChangedBy = &changedBy
	}
	if v := c.QueryParam("start_date"); v != "" {
		start, err := time.Parse("2006-01-02", v)
		if err != nil {
			return common.SendValidationError(c, "start_date", "must be a date in YYYY-MM-DD format")
		}
		filters.StartDate = &start
	}
	if v := c.QueryParam("end_date"); v != "" {
		end, err := time.Parse("2006-01-02", v)
		if err != nil {
			return common.SendValidationError(c, "end_date", "must be a date in YYYY-MM-DD format")
		}
		filters.EndDate = &end
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	filters.Limit, filters.Offset = common.ValidatePaginationParams(limit, offset)

	logs, err := h.auditLogsSvc.ListAuditLogs(c.Request().Context(), *caller.OrganizationID, filters)
	if err != nil {
		return common.SendError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"audit_logs": logs,
		"limit":      filters.Limit,
		"offset":     filters.Offset,
	})
}

// GetAuditLog returns a single audit entry scoped to the caller's
// organization.
func (h *AuditLogsHandlers) GetAuditLog(c echo.Context) error {
	caller, ok := callerFromContext(c)
	if !ok || caller.OrganizationID == nil {
		return common.SendUnauthorizedError(c)
	}

	auditLogID, err := common.ValidateUUID(c.Param("id"), "audit log id")
	if err != nil {
		return common.SendValidationError(c, "id", err.Error())
	}

	log, err := h.auditLogsSvc.GetAuditLog(c.Request().Context(), *caller.OrganizationID, auditLogID)
	if err != nil {
		return common.SendError(c, err)
	}

	return c.JSON(http.StatusOK, log)
}
