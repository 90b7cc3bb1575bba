package entity

import "time"

// MaintenanceAction 维修过程记录（append-only，归属停机单）
type MaintenanceAction struct {
	ID         string `json:"id" gorm:"primaryKey;size:32"`
	DowntimeID string `json:"downtime_id" gorm:"size:32;not null;index:idx_action_downtime"`

	ActionDescription string    `json:"action_description" gorm:"type:text;not null"`
	PerformedBy       string    `json:"performed_by" gorm:"size:32;not null"`
	PerformedAt       time.Time `json:"performed_at" gorm:"not null"`

	SparePartsUsed string `json:"spare_parts_used" gorm:"type:text"`
	Notes          string `json:"notes" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
}

func (MaintenanceAction) TableName() string {
	return "maintenance_actions"
}
