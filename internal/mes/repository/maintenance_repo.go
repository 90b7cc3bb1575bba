package repository

import (
	"context"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaintenanceRepository 维修记录仓库（append-only）
type MaintenanceRepository struct {
	db *gorm.DB
}

func NewMaintenanceRepository(db *gorm.DB) *MaintenanceRepository {
	return &MaintenanceRepository{db: db}
}

// Create 追加维修记录
func (r *MaintenanceRepository) Create(ctx context.Context, action *entity.MaintenanceAction) error {
	if action.ID == "" {
		action.ID = uuid.New().String()[:32]
	}
	return r.db.WithContext(ctx).Create(action).Error
}

// FindByDowntimeID 按停机单取维修记录，按执行时间升序
func (r *MaintenanceRepository) FindByDowntimeID(ctx context.Context, downtimeID string) ([]entity.MaintenanceAction, error) {
	var items []entity.MaintenanceAction
	err := r.db.WithContext(ctx).
		Where("downtime_id = ?", downtimeID).
		Order("performed_at ASC").
		Find(&items).Error
	return items, err
}
