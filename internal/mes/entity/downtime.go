package entity

import "time"

// MachineDowntime 停机单
type MachineDowntime struct {
	ID        string `json:"id" gorm:"primaryKey;size:32"`
	MachineID string `json:"machine_id" gorm:"size:32;not null;index:idx_downtime_machine"`

	ProblemDescription string `json:"problem_description" gorm:"type:text;not null"`
	ReasonID           *int64 `json:"reason_id" gorm:"index"`

	ReportedBy   string  `json:"reported_by" gorm:"size:32;not null"`
	TechnicianID *string `json:"technician_id" gorm:"size:32"`

	StartTime time.Time  `json:"start_time" gorm:"not null;index:idx_downtime_start"`
	EndTime   *time.Time `json:"end_time"`

	Status   string `json:"status" gorm:"size:30;not null;default:active;index:idx_downtime_status"` // active/maintenance/waiting_leader_approval/resolved/cancelled
	Priority string `json:"priority" gorm:"size:10;default:medium"`                                  // high/medium/low

	// 可由调用方直接给定（人工覆盖），否则按 end_time-start_time 取整分钟
	DowntimeMinutes *int `json:"downtime_minutes"`

	WorkOrder           string `json:"work_order" gorm:"size:50"`
	Shift               string `json:"shift" gorm:"size:20"`
	SolutionDescription string `json:"solution_description" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Reason  *DowntimeReason     `json:"reason,omitempty" gorm:"foreignKey:ReasonID"`
	Machine *Machine            `json:"machine,omitempty" gorm:"foreignKey:MachineID"`
	Actions []MaintenanceAction `json:"actions,omitempty" gorm:"foreignKey:DowntimeID"`
}

func (MachineDowntime) TableName() string {
	return "machine_downtime"
}

// 停机单状态
const (
	DowntimeStatusActive                = "active"
	DowntimeStatusMaintenance           = "maintenance"
	DowntimeStatusWaitingLeaderApproval = "waiting_leader_approval"
	DowntimeStatusResolved              = "resolved"
	DowntimeStatusCancelled             = "cancelled"
)

// 优先级
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// IsOpen 停机单是否仍处于未关闭状态
func (d *MachineDowntime) IsOpen() bool {
	return d.Status != DowntimeStatusResolved && d.Status != DowntimeStatusCancelled
}

// DowntimeReason 停机原因（参考数据，由外部维护）
type DowntimeReason struct {
	ID          int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Category    string `json:"category" gorm:"size:50;not null"`
	Reason      string `json:"reason" gorm:"size:200;not null"`
	IsPlanned   bool   `json:"is_planned" gorm:"default:false"`
	Description string `json:"description" gorm:"type:text"`
}

func (DowntimeReason) TableName() string {
	return "downtime_reasons"
}
