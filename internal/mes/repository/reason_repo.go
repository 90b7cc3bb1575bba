package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// ReasonRepository 停机原因参考表仓库（参考数据维护在外部）
type ReasonRepository struct {
	db *gorm.DB
}

func NewReasonRepository(db *gorm.DB) *ReasonRepository {
	return &ReasonRepository{db: db}
}

// FindByID 查找停机原因
func (r *ReasonRepository) FindByID(ctx context.Context, id int64) (*entity.DowntimeReason, error) {
	var reason entity.DowntimeReason
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&reason).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &reason, nil
}

// List 停机原因列表，按类别分组展示
func (r *ReasonRepository) List(ctx context.Context) ([]entity.DowntimeReason, error) {
	var items []entity.DowntimeReason
	err := r.db.WithContext(ctx).Order("category ASC, id ASC").Find(&items).Error
	return items, err
}
