package repository

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Repositories MES仓库集合
type Repositories struct {
	Machine     *MachineRepository
	Status      *StatusRepository
	Downtime    *DowntimeRepository
	Reason      *ReasonRepository
	Maintenance *MaintenanceRepository
}

// NewRepositories 创建MES仓库集合（rdb 可为 nil，机台目录缓存会被关闭）
func NewRepositories(db *gorm.DB, rdb *redis.Client) *Repositories {
	return &Repositories{
		Machine:     NewMachineRepository(db, rdb),
		Status:      NewStatusRepository(db),
		Downtime:    NewDowntimeRepository(db),
		Reason:      NewReasonRepository(db),
		Maintenance: NewMaintenanceRepository(db),
	}
}
