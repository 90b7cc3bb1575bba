package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// DowntimeRepository 停机单仓库
type DowntimeRepository struct {
	db *gorm.DB
}

func NewDowntimeRepository(db *gorm.DB) *DowntimeRepository {
	return &DowntimeRepository{db: db}
}

// DowntimeFilter 列表过滤条件。所有条件可选，AND 组合，
// 不做任何标识符字符串拼接。
type DowntimeFilter struct {
	MachineID string
	Status    string
	StartDate *time.Time
	EndDate   *time.Time
	SortBy    string // start_time/end_time/priority/status/created_at
	SortDir   string // asc/desc
	Page      int
	Limit     int
}

// 排序字段白名单
var downtimeSortColumns = map[string]string{
	"start_time": "start_time",
	"end_time":   "end_time",
	"priority":   "priority",
	"status":     "status",
	"created_at": "created_at",
}

func (f *DowntimeFilter) apply(q *gorm.DB) *gorm.DB {
	if f.MachineID != "" {
		q = q.Where("machine_id = ?", f.MachineID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.StartDate != nil {
		q = q.Where("start_time >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		q = q.Where("start_time < ?", *f.EndDate)
	}
	return q
}

func (f *DowntimeFilter) order() string {
	col, ok := downtimeSortColumns[f.SortBy]
	if !ok {
		col = "start_time"
	}
	if f.SortDir == "asc" {
		return col + " ASC"
	}
	return col + " DESC"
}

// List 停机单分页列表
func (r *DowntimeRepository) List(ctx context.Context, filter DowntimeFilter) ([]entity.MachineDowntime, int64, error) {
	var items []entity.MachineDowntime
	var total int64

	query := filter.apply(r.db.WithContext(ctx).Model(&entity.MachineDowntime{}))

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 || limit > 100 {
		limit = 20
	}

	err := query.
		Preload("Reason").
		Preload("Machine").
		Order(filter.order()).
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&items).Error

	return items, total, err
}

// FindByID 查找停机单
func (r *DowntimeRepository) FindByID(ctx context.Context, id string) (*entity.MachineDowntime, error) {
	var d entity.MachineDowntime
	err := r.db.WithContext(ctx).
		Preload("Reason").
		Preload("Machine").
		Where("id = ?", id).
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// FindOpenByMachine 在给定事务内查找机台当前未关闭的停机单（最早开的一条）
func (r *DowntimeRepository) FindOpenByMachine(tx *gorm.DB, machineID string) (*entity.MachineDowntime, error) {
	var d entity.MachineDowntime
	err := tx.
		Where("machine_id = ? AND status NOT IN ?", machineID,
			[]string{entity.DowntimeStatusResolved, entity.DowntimeStatusCancelled}).
		Order("start_time ASC").
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// FindOpen 在给定事务内取全部未关闭的停机单，优先级降序、开始时间升序
func (r *DowntimeRepository) FindOpen(tx *gorm.DB, limit int) ([]entity.MachineDowntime, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	var items []entity.MachineDowntime
	err := tx.
		Preload("Reason").
		Preload("Machine").
		Where("status NOT IN ?", []string{entity.DowntimeStatusResolved, entity.DowntimeStatusCancelled}).
		Order(`CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END ASC, start_time ASC`).
		Limit(limit).
		Find(&items).Error
	return items, err
}
