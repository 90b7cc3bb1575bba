package entity

import "time"

// MachineStatus 机台当前状态（每台机一行，随状态日志同事务更新）
type MachineStatus struct {
	ID        string `json:"id" gorm:"primaryKey;size:32"`
	MachineID string `json:"machine_id" gorm:"size:32;uniqueIndex;not null"`
	Status    string `json:"status" gorm:"size:30;not null;default:running"` // running/active/maintenance/waiting_leader_approval/idle

	// 状态来源：人工设置或由停机单驱动
	Source   string  `json:"source" gorm:"size:20;default:manual"` // manual/incident
	SourceID *string `json:"source_id" gorm:"size:32"`             // 关联停机单

	UpdatedBy string    `json:"updated_by" gorm:"size:32"`
	UpdatedAt time.Time `json:"updated_at"`

	Downtime *MachineDowntime `json:"downtime,omitempty" gorm:"foreignKey:SourceID;references:ID;constraint:OnDelete:SET NULL"`
}

func (MachineStatus) TableName() string {
	return "machine_status"
}

// 机台状态
const (
	StatusRunning               = "running"
	StatusActive                = "active"
	StatusMaintenance           = "maintenance"
	StatusWaitingLeaderApproval = "waiting_leader_approval"
	StatusIdle                  = "idle"
)

// 状态来源
const (
	StatusSourceManual   = "manual"
	StatusSourceIncident = "incident"
)

// MachineStatuses 所有合法机台状态
var MachineStatuses = []string{
	StatusRunning,
	StatusActive,
	StatusMaintenance,
	StatusWaitingLeaderApproval,
	StatusIdle,
}

// IsValidMachineStatus 校验机台状态取值
func IsValidMachineStatus(s string) bool {
	for _, v := range MachineStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// MachineStatusLog 机台状态流转日志（append-only，链式：本条old=上条new）。
// changed_at 是业务时间，created_at 是落库时间，业务时间相同时按落库顺序排。
type MachineStatusLog struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	MachineID string    `json:"machine_id" gorm:"size:32;not null;index:idx_status_log_machine"`
	OldStatus string    `json:"old_status" gorm:"size:30;not null"`
	NewStatus string    `json:"new_status" gorm:"size:30;not null"`
	ChangedAt time.Time `json:"changed_at" gorm:"not null;index:idx_status_log_changed"`
	CreatedAt time.Time `json:"created_at"`
}

func (MachineStatusLog) TableName() string {
	return "machine_status_log"
}
