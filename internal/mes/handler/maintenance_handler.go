package handler

import (
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/gin-gonic/gin"
)

// MaintenanceHandler 维修记录接口（append-only，挂在停机单下）
type MaintenanceHandler struct {
	downtimeRepo    *repository.DowntimeRepository
	maintenanceRepo *repository.MaintenanceRepository
}

func NewMaintenanceHandler(
	downtimeRepo *repository.DowntimeRepository,
	maintenanceRepo *repository.MaintenanceRepository,
) *MaintenanceHandler {
	return &MaintenanceHandler{
		downtimeRepo:    downtimeRepo,
		maintenanceRepo: maintenanceRepo,
	}
}

// CreateActionReq 追加维修记录请求
type CreateActionReq struct {
	ActionDescription string     `json:"action_description" binding:"required"`
	PerformedBy       string     `json:"performed_by"`
	PerformedAt       *time.Time `json:"performed_at"`
	SparePartsUsed    string     `json:"spare_parts_used"`
	Notes             string     `json:"notes"`
}

// CreateAction POST /downtime/:id/actions
func (h *MaintenanceHandler) CreateAction(c *gin.Context) {
	var req CreateActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	downtimeID := c.Param("id")
	if _, err := h.downtimeRepo.FindByID(c.Request.Context(), downtimeID); err != nil {
		HandleServiceError(c, err)
		return
	}

	performedBy := req.PerformedBy
	if performedBy == "" {
		performedBy = GetEmployeeID(c)
	}
	performedAt := time.Now()
	if req.PerformedAt != nil {
		performedAt = *req.PerformedAt
	}

	action := &entity.MaintenanceAction{
		DowntimeID:        downtimeID,
		ActionDescription: req.ActionDescription,
		PerformedBy:       performedBy,
		PerformedAt:       performedAt,
		SparePartsUsed:    req.SparePartsUsed,
		Notes:             req.Notes,
	}
	if err := h.maintenanceRepo.Create(c.Request.Context(), action); err != nil {
		InternalError(c, err.Error())
		return
	}
	Created(c, action)
}

// ListActions GET /downtime/:id/actions
func (h *MaintenanceHandler) ListActions(c *gin.Context) {
	downtimeID := c.Param("id")
	if _, err := h.downtimeRepo.FindByID(c.Request.Context(), downtimeID); err != nil {
		HandleServiceError(c, err)
		return
	}

	actions, err := h.maintenanceRepo.FindByDowntimeID(c.Request.Context(), downtimeID)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, actions)
}
