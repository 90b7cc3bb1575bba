package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StatusRepository 机台当前状态与状态日志仓库
type StatusRepository struct {
	db *gorm.DB
}

func NewStatusRepository(db *gorm.DB) *StatusRepository {
	return &StatusRepository{db: db}
}

// FindByMachineID 查找机台当前状态行
func (r *StatusRepository) FindByMachineID(ctx context.Context, machineID string) (*entity.MachineStatus, error) {
	var st entity.MachineStatus
	err := r.db.WithContext(ctx).Where("machine_id = ?", machineID).First(&st).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

// FindLogs 按时间逆序取机台最近的状态日志
func (r *StatusRepository) FindLogs(ctx context.Context, machineID string, limit int) ([]entity.MachineStatusLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var logs []entity.MachineStatusLog
	err := r.db.WithContext(ctx).
		Where("machine_id = ?", machineID).
		Order("changed_at DESC, created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// FindLogsInRange 在给定事务内取时间窗口内的全部状态日志，
// 按机台、业务时间、落库时间升序（给看板回放用）
func (r *StatusRepository) FindLogsInRange(tx *gorm.DB, start, end time.Time) ([]entity.MachineStatusLog, error) {
	var logs []entity.MachineStatusLog
	err := tx.
		Where("changed_at >= ? AND changed_at < ?", start, end).
		Order("machine_id ASC, changed_at ASC, created_at ASC").
		Find(&logs).Error
	return logs, err
}

// ApplyTransition 在同一事务内更新状态投影并追加日志。
// 所有对 machine_status / machine_status_log 的写都必须经过这里。
// at 是业务时间，同机台不允许回退：新日志的 changed_at 不早于
// 该机台最后一条日志，否则按时间排序后 old=上条new 的链会断。
func (r *StatusRepository) ApplyTransition(tx *gorm.DB, machineID, newStatus, source string, sourceID *string, updatedBy string, at time.Time) error {
	var st entity.MachineStatus
	err := tx.Where("machine_id = ?", machineID).First(&st).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	var last entity.MachineStatusLog
	lastErr := tx.Where("machine_id = ?", machineID).
		Order("changed_at DESC, created_at DESC").
		First(&last).Error
	if lastErr != nil && !errors.Is(lastErr, gorm.ErrRecordNotFound) {
		return lastErr
	}
	if lastErr == nil && at.Before(last.ChangedAt) {
		at = last.ChangedAt
	}

	oldStatus := entity.StatusRunning
	if err == nil {
		oldStatus = st.Status
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		st = entity.MachineStatus{
			ID:        uuid.New().String()[:32],
			MachineID: machineID,
		}
	}
	st.Status = newStatus
	st.Source = source
	st.SourceID = sourceID
	st.UpdatedBy = updatedBy
	st.UpdatedAt = at

	if err := tx.Save(&st).Error; err != nil {
		return err
	}

	logEntry := entity.MachineStatusLog{
		ID:        uuid.New().String()[:32],
		MachineID: machineID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		ChangedAt: at,
	}
	return tx.Create(&logEntry).Error
}
