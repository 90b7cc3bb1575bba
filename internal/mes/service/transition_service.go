package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TransitionService 机台状态流转引擎。
// 每个操作在一个事务内完成对 machine_status、machine_status_log、
// machine_downtime 三张表的全部写入；事务内第一步持同机台的
// advisory lock，同一机台的并发流转串行执行。
type TransitionService struct {
	db           *gorm.DB
	machineRepo  *repository.MachineRepository
	statusRepo   *repository.StatusRepository
	downtimeRepo *repository.DowntimeRepository
	reasonRepo   *repository.ReasonRepository
	logger       *zap.Logger
}

func NewTransitionService(
	db *gorm.DB,
	machineRepo *repository.MachineRepository,
	statusRepo *repository.StatusRepository,
	downtimeRepo *repository.DowntimeRepository,
	reasonRepo *repository.ReasonRepository,
	logger *zap.Logger,
) *TransitionService {
	return &TransitionService{
		db:           db,
		machineRepo:  machineRepo,
		statusRepo:   statusRepo,
		downtimeRepo: downtimeRepo,
		reasonRepo:   reasonRepo,
		logger:       logger,
	}
}

// lockMachine 同机台流转串行化
func lockMachine(tx *gorm.DB, machineID string) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", machineID).Error
}

// roundMinutes 停机时长取整分钟
func roundMinutes(start, end time.Time) int {
	return int(math.Round(end.Sub(start).Seconds() / 60))
}

// ReportDowntimeReq 报修请求
type ReportDowntimeReq struct {
	MachineID          string     `json:"machine_id" binding:"required"`
	ProblemDescription string     `json:"problem_description" binding:"required"`
	ReasonID           *int64     `json:"reason_id"`
	ReportedBy         string     `json:"reported_by"`
	StartTime          *time.Time `json:"start_time"`
	Priority           string     `json:"priority"`
	WorkOrder          string     `json:"work_order"`
	Shift              string     `json:"shift"`
}

// ReportDowntime 报修：开停机单，机台状态置为active并记日志。
// 机台已有未关闭的停机单时拒绝（一台机同时最多一张未关闭单）。
func (s *TransitionService) ReportDowntime(ctx context.Context, req ReportDowntimeReq) (*entity.MachineDowntime, error) {
	if req.MachineID == "" || req.ProblemDescription == "" || req.ReportedBy == "" {
		return nil, validationError("machine_id, problem_description and reported_by are required")
	}

	ok, err := s.machineRepo.Exists(ctx, req.MachineID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundError("machine %s", req.MachineID)
	}

	if req.ReasonID != nil {
		if _, err := s.reasonRepo.FindByID(ctx, *req.ReasonID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, validationError("unknown reason_id %d", *req.ReasonID)
			}
			return nil, err
		}
	}

	priority := req.Priority
	switch priority {
	case "":
		priority = entity.PriorityMedium
	case entity.PriorityHigh, entity.PriorityMedium, entity.PriorityLow:
	default:
		return nil, validationError("invalid priority %q", priority)
	}

	startTime := time.Now()
	if req.StartTime != nil {
		startTime = *req.StartTime
	}

	downtime := &entity.MachineDowntime{
		ID:                 uuid.New().String()[:32],
		MachineID:          req.MachineID,
		ProblemDescription: req.ProblemDescription,
		ReasonID:           req.ReasonID,
		ReportedBy:         req.ReportedBy,
		StartTime:          startTime,
		Status:             entity.DowntimeStatusActive,
		Priority:           priority,
		WorkOrder:          req.WorkOrder,
		Shift:              req.Shift,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMachine(tx, req.MachineID); err != nil {
			return err
		}
		if open, err := s.downtimeRepo.FindOpenByMachine(tx, req.MachineID); err == nil {
			return conflictError("machine %s already has open downtime %s", req.MachineID, open.ID)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if err := tx.Create(downtime).Error; err != nil {
			return err
		}
		return s.statusRepo.ApplyTransition(tx,
			req.MachineID, entity.StatusActive,
			entity.StatusSourceIncident, &downtime.ID,
			req.ReportedBy, startTime)
	})
	if err != nil {
		s.logger.Error("report downtime failed",
			zap.String("machine_id", req.MachineID), zap.Error(err))
		return nil, fmt.Errorf("report downtime: %w", err)
	}

	return downtime, nil
}

// AssignTechnician 指派技术员：active → maintenance
func (s *TransitionService) AssignTechnician(ctx context.Context, downtimeID, technicianID string) (*entity.MachineDowntime, error) {
	if technicianID == "" {
		return nil, validationError("technician_id is required")
	}

	var downtime entity.MachineDowntime
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", downtimeID).First(&downtime).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundError("downtime %s", downtimeID)
			}
			return err
		}
		if err := lockMachine(tx, downtime.MachineID); err != nil {
			return err
		}
		// 锁内重读，避免和同机台的其他流转交错
		if err := tx.Where("id = ?", downtimeID).First(&downtime).Error; err != nil {
			return err
		}
		if downtime.Status != entity.DowntimeStatusActive {
			return conflictError("downtime %s is %s, technician can only be assigned while active", downtimeID, downtime.Status)
		}

		downtime.Status = entity.DowntimeStatusMaintenance
		downtime.TechnicianID = &technicianID
		if err := tx.Save(&downtime).Error; err != nil {
			return err
		}
		// 指派不是停机时段的边界，日志记在业务时间线上（记start_time，
		// ApplyTransition 会抬到该机台最后一条日志的时间），报修被回填
		// 过去的时间时链和回放都不受指派的墙上时钟影响
		return s.statusRepo.ApplyTransition(tx,
			downtime.MachineID, entity.StatusMaintenance,
			entity.StatusSourceIncident, &downtime.ID,
			technicianID, downtime.StartTime)
	})
	if err != nil {
		return nil, err
	}
	return &downtime, nil
}

// ResolveReq 完修请求
type ResolveReq struct {
	SolutionDescription string     `json:"solution_description"`
	TechnicianID        string     `json:"technician_id"`
	EndTime             *time.Time `json:"end_time"`
	DowntimeMinutes     *int       `json:"downtime_minutes"`
}

// Resolve 完修：关停机时间段，进入 waiting_leader_approval 等待组长确认。
// downtime_minutes 未给定时按 end_time-start_time 取整分钟。
func (s *TransitionService) Resolve(ctx context.Context, downtimeID string, req ResolveReq) (*entity.MachineDowntime, error) {
	if req.SolutionDescription == "" {
		return nil, validationError("solution_description is required")
	}

	var downtime entity.MachineDowntime
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", downtimeID).First(&downtime).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundError("downtime %s", downtimeID)
			}
			return err
		}
		if err := lockMachine(tx, downtime.MachineID); err != nil {
			return err
		}
		if err := tx.Where("id = ?", downtimeID).First(&downtime).Error; err != nil {
			return err
		}
		if downtime.Status != entity.DowntimeStatusActive && downtime.Status != entity.DowntimeStatusMaintenance {
			return conflictError("downtime %s is %s and cannot be resolved", downtimeID, downtime.Status)
		}

		endTime := time.Now()
		if req.EndTime != nil {
			endTime = *req.EndTime
		}
		downtime.EndTime = &endTime
		downtime.SolutionDescription = req.SolutionDescription
		if req.TechnicianID != "" {
			downtime.TechnicianID = &req.TechnicianID
		}
		if req.DowntimeMinutes != nil {
			downtime.DowntimeMinutes = req.DowntimeMinutes
		} else if downtime.DowntimeMinutes == nil {
			minutes := roundMinutes(downtime.StartTime, endTime)
			downtime.DowntimeMinutes = &minutes
		}
		downtime.Status = entity.DowntimeStatusWaitingLeaderApproval

		if err := tx.Save(&downtime).Error; err != nil {
			return err
		}
		return s.statusRepo.ApplyTransition(tx,
			downtime.MachineID, entity.StatusWaitingLeaderApproval,
			entity.StatusSourceIncident, &downtime.ID,
			req.TechnicianID, endTime)
	})
	if err != nil {
		return nil, err
	}
	return &downtime, nil
}

// SetMachineStatus 人工设置机台状态。
// 置为 running 时关闭当前未关闭的停机单；置为其他状态时总是
// 新开一张停机单，即使该机台已有未关闭的单（沿用既有语义）。
func (s *TransitionService) SetMachineStatus(ctx context.Context, machineID, targetStatus, updatedBy string) (*entity.MachineStatus, error) {
	if !entity.IsValidMachineStatus(targetStatus) {
		return nil, validationError("invalid status %q", targetStatus)
	}

	ok, err := s.machineRepo.Exists(ctx, machineID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundError("machine %s", machineID)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMachine(tx, machineID); err != nil {
			return err
		}

		now := time.Now()

		if targetStatus == entity.StatusRunning {
			open, err := s.downtimeRepo.FindOpenByMachine(tx, machineID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}

			changedAt := now
			if err == nil {
				if open.EndTime == nil {
					open.EndTime = &now
				}
				if open.DowntimeMinutes == nil {
					minutes := roundMinutes(open.StartTime, *open.EndTime)
					open.DowntimeMinutes = &minutes
				}
				if open.SolutionDescription == "" {
					open.SolutionDescription = "Resolved via manual status change"
				}
				open.Status = entity.DowntimeStatusResolved
				if err := tx.Save(open).Error; err != nil {
					return err
				}
				// 日志时间取业务上的恢复时间，回放才能还原停机时长
				changedAt = *open.EndTime
			}
			return s.statusRepo.ApplyTransition(tx,
				machineID, entity.StatusRunning,
				entity.StatusSourceManual, nil,
				updatedBy, changedAt)
		}

		downtime := &entity.MachineDowntime{
			ID:                 uuid.New().String()[:32],
			MachineID:          machineID,
			ProblemDescription: fmt.Sprintf("Status changed to %s", targetStatus),
			ReportedBy:         updatedBy,
			StartTime:          now,
			Status:             targetStatus,
			Priority:           entity.PriorityMedium,
		}
		if err := tx.Create(downtime).Error; err != nil {
			return err
		}
		return s.statusRepo.ApplyTransition(tx,
			machineID, targetStatus,
			entity.StatusSourceIncident, &downtime.ID,
			updatedBy, now)
	})
	if err != nil {
		s.logger.Error("set machine status failed",
			zap.String("machine_id", machineID),
			zap.String("target", targetStatus), zap.Error(err))
		return nil, err
	}

	return s.statusRepo.FindByMachineID(ctx, machineID)
}

// UpdateDowntimeReq 停机单编辑请求
type UpdateDowntimeReq struct {
	ProblemDescription  *string `json:"problem_description"`
	ReasonID            *int64  `json:"reason_id"`
	Priority            *string `json:"priority"`
	TechnicianID        *string `json:"technician_id"`
	WorkOrder           *string `json:"work_order"`
	Shift               *string `json:"shift"`
	SolutionDescription *string `json:"solution_description"`
	DowntimeMinutes     *int    `json:"downtime_minutes"`
	Status              *string `json:"status"`
}

// UpdateDowntime 编辑停机单。带technician_id且单据active时执行指派流转；
// status=cancelled 作废单据并把机台置回running；其余状态不允许从此入口修改。
func (s *TransitionService) UpdateDowntime(ctx context.Context, downtimeID string, req UpdateDowntimeReq) (*entity.MachineDowntime, error) {
	if req.Status != nil && *req.Status != entity.DowntimeStatusCancelled {
		return nil, conflictError("status can only be set to cancelled via update")
	}
	if req.Priority != nil {
		switch *req.Priority {
		case entity.PriorityHigh, entity.PriorityMedium, entity.PriorityLow:
		default:
			return nil, validationError("invalid priority %q", *req.Priority)
		}
	}
	if req.ReasonID != nil {
		if _, err := s.reasonRepo.FindByID(ctx, *req.ReasonID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, validationError("unknown reason_id %d", *req.ReasonID)
			}
			return nil, err
		}
	}

	var downtime entity.MachineDowntime
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", downtimeID).First(&downtime).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundError("downtime %s", downtimeID)
			}
			return err
		}
		if err := lockMachine(tx, downtime.MachineID); err != nil {
			return err
		}
		if err := tx.Where("id = ?", downtimeID).First(&downtime).Error; err != nil {
			return err
		}

		if req.ProblemDescription != nil {
			downtime.ProblemDescription = *req.ProblemDescription
		}
		if req.ReasonID != nil {
			downtime.ReasonID = req.ReasonID
		}
		if req.Priority != nil {
			downtime.Priority = *req.Priority
		}
		if req.WorkOrder != nil {
			downtime.WorkOrder = *req.WorkOrder
		}
		if req.Shift != nil {
			downtime.Shift = *req.Shift
		}
		if req.SolutionDescription != nil {
			downtime.SolutionDescription = *req.SolutionDescription
		}
		if req.DowntimeMinutes != nil {
			downtime.DowntimeMinutes = req.DowntimeMinutes
		}

		now := time.Now()

		assigning := req.TechnicianID != nil && *req.TechnicianID != "" &&
			downtime.Status == entity.DowntimeStatusActive
		if req.TechnicianID != nil {
			downtime.TechnicianID = req.TechnicianID
		}
		if assigning {
			downtime.Status = entity.DowntimeStatusMaintenance
		}

		cancelling := req.Status != nil
		if cancelling {
			if !downtime.IsOpen() {
				return conflictError("downtime %s is already %s", downtimeID, downtime.Status)
			}
			if downtime.EndTime == nil {
				downtime.EndTime = &now
			}
			downtime.Status = entity.DowntimeStatusCancelled
		}

		if err := tx.Save(&downtime).Error; err != nil {
			return err
		}

		if cancelling {
			return s.statusRepo.ApplyTransition(tx,
				downtime.MachineID, entity.StatusRunning,
				entity.StatusSourceManual, nil,
				downtime.ReportedBy, *downtime.EndTime)
		}
		if assigning {
			// 同 AssignTechnician：指派日志记在业务时间线上
			return s.statusRepo.ApplyTransition(tx,
				downtime.MachineID, entity.StatusMaintenance,
				entity.StatusSourceIncident, &downtime.ID,
				*req.TechnicianID, downtime.StartTime)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &downtime, nil
}
