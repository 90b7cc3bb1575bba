package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const machineCacheTTL = 5 * time.Minute

// MachineRepository 机台目录仓库（目录本身由外部系统维护，这里只读）
type MachineRepository struct {
	db  *gorm.DB
	rdb *redis.Client
}

func NewMachineRepository(db *gorm.DB, rdb *redis.Client) *MachineRepository {
	return &MachineRepository{db: db, rdb: rdb}
}

// FindByID 查找机台，目录为读多写少数据，命中redis缓存则不落库
func (r *MachineRepository) FindByID(ctx context.Context, id string) (*entity.Machine, error) {
	if r.rdb != nil {
		if data, err := r.rdb.Get(ctx, "mes:machine:"+id).Bytes(); err == nil {
			var m entity.Machine
			if json.Unmarshal(data, &m) == nil {
				return &m, nil
			}
		}
	}

	var m entity.Machine
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if r.rdb != nil {
		if data, err := json.Marshal(&m); err == nil {
			r.rdb.Set(ctx, "mes:machine:"+id, data, machineCacheTTL)
		}
	}
	return &m, nil
}

// Exists 机台是否存在
func (r *MachineRepository) Exists(ctx context.Context, id string) (bool, error) {
	if _, err := r.FindByID(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List 机台列表（供看板展示机台名称等）
func (r *MachineRepository) List(ctx context.Context) ([]entity.Machine, error) {
	var items []entity.Machine
	err := r.db.WithContext(ctx).Order("number ASC").Find(&items).Error
	return items, err
}
