package handler

import (
	"errors"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// MachineStatusHandler 机台状态接口
type MachineStatusHandler struct {
	transitionSvc *service.TransitionService
	statusRepo    *repository.StatusRepository
	machineRepo   *repository.MachineRepository
}

func NewMachineStatusHandler(
	transitionSvc *service.TransitionService,
	statusRepo *repository.StatusRepository,
	machineRepo *repository.MachineRepository,
) *MachineStatusHandler {
	return &MachineStatusHandler{
		transitionSvc: transitionSvc,
		statusRepo:    statusRepo,
		machineRepo:   machineRepo,
	}
}

// ListMachines GET /machines 机台目录（给报修下拉和看板用）
func (h *MachineStatusHandler) ListMachines(c *gin.Context) {
	machines, err := h.machineRepo.List(c.Request.Context())
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, machines)
}

// SetStatusReq 人工设置机台状态请求
type SetStatusReq struct {
	Status string `json:"status" binding:"required"`
}

// SetStatus PUT /machines/:id/status 人工设置机台状态
func (h *MachineStatusHandler) SetStatus(c *gin.Context) {
	var req SetStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	machineID := c.Param("id")
	status, err := h.transitionSvc.SetMachineStatus(c.Request.Context(), machineID, req.Status, GetEmployeeID(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, gin.H{
		"machine_id": machineID,
		"status":     status.Status,
	})
}

// GetStatus GET /machines/:id/status 当前状态与最近流转日志
func (h *MachineStatusHandler) GetStatus(c *gin.Context) {
	machineID := c.Param("id")

	if _, err := h.machineRepo.FindByID(c.Request.Context(), machineID); err != nil {
		HandleServiceError(c, err)
		return
	}

	status, err := h.statusRepo.FindByMachineID(c.Request.Context(), machineID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			InternalError(c, err.Error())
			return
		}
		// 尚无任何流转记录的机台视为running
		status = &entity.MachineStatus{MachineID: machineID, Status: entity.StatusRunning}
	}

	logs, err := h.statusRepo.FindLogs(c.Request.Context(), machineID, 20)
	if err != nil {
		InternalError(c, err.Error())
		return
	}

	Success(c, gin.H{
		"status": status,
		"logs":   logs,
	})
}
