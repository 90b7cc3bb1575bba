package service

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services MES服务集合
type Services struct {
	Transition  *TransitionService
	Aggregation *AggregationService
}

// NewServices 创建MES服务集合
func NewServices(db *gorm.DB, repos *repository.Repositories, logger *zap.Logger) *Services {
	return &Services{
		Transition:  NewTransitionService(db, repos.Machine, repos.Status, repos.Downtime, repos.Reason, logger),
		Aggregation: NewAggregationService(db, repos.Status, repos.Downtime),
	}
}
