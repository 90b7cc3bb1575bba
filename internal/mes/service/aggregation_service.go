package service

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"gorm.io/gorm"
)

// AggregationService 停机分析看板，只读。
// 每次调用在一个 repeatable-read 只读事务里完成，取一致快照；
// 失败直接向上抛，不降级、不返回半截结果。
type AggregationService struct {
	db           *gorm.DB
	statusRepo   *repository.StatusRepository
	downtimeRepo *repository.DowntimeRepository
	now          func() time.Time
}

func NewAggregationService(
	db *gorm.DB,
	statusRepo *repository.StatusRepository,
	downtimeRepo *repository.DowntimeRepository,
) *AggregationService {
	return &AggregationService{
		db:           db,
		statusRepo:   statusRepo,
		downtimeRepo: downtimeRepo,
		now:          time.Now,
	}
}

func (s *AggregationService) readTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// DashboardSummary 看板汇总
type DashboardSummary struct {
	Summary SummaryStats  `json:"summary"`
	Issues  []ActiveIssue `json:"issues"`
}

// SummaryStats 汇总指标。total_downtime_hours 由状态日志回放得出，
// 与 stats 路径按 downtime_minutes 直接求和的口径是两条线，不强行对齐。
type SummaryStats struct {
	TotalDowntimeHours       float64 `json:"total_downtime_hours"`
	ActiveIssues             int64   `json:"active_issues"`
	MaintenanceIssues        int64   `json:"maintenance_issues"`
	ResolvedToday            int64   `json:"resolved_today"`
	AvgResolutionTimeMinutes float64 `json:"avg_resolution_time_minutes"`
}

// ActiveIssue 当前未关闭的停机项
type ActiveIssue struct {
	ID                 string    `json:"id"`
	MachineID          string    `json:"machine_id"`
	MachineName        string    `json:"machine_name"`
	MachineNumber      string    `json:"machine_number"`
	ProblemDescription string    `json:"problem_description"`
	Priority           string    `json:"priority"`
	Status             string    `json:"status"`
	StartTime          time.Time `json:"start_time"`
	Reason             string    `json:"reason"`
}

const topActiveIssueLimit = 5

// GetDashboardSummary 看板汇总。
// 停机总时长按状态日志回放：进入非running状态到回到running为一段，
// 查询时仍未回running的段不计入历史总时长。
func (s *AggregationService) GetDashboardSummary(ctx context.Context, timeRange string) (*DashboardSummary, error) {
	start, end, err := ResolveTimeRange(timeRange, s.now())
	if err != nil {
		return nil, err
	}

	result := &DashboardSummary{Issues: []ActiveIssue{}}

	err = s.readTx(ctx, func(tx *gorm.DB) error {
		logs, err := s.statusRepo.FindLogsInRange(tx, start, end)
		if err != nil {
			return err
		}
		result.Summary.TotalDowntimeHours = round1(replayDowntimeHours(logs))

		if err := tx.Model(&entity.MachineDowntime{}).
			Where("status = ?", entity.DowntimeStatusActive).
			Count(&result.Summary.ActiveIssues).Error; err != nil {
			return err
		}
		if err := tx.Model(&entity.MachineDowntime{}).
			Where("status = ?", entity.DowntimeStatusMaintenance).
			Count(&result.Summary.MaintenanceIssues).Error; err != nil {
			return err
		}

		todayStart := startOfDay(s.now())
		if err := tx.Model(&entity.MachineDowntime{}).
			Where("end_time >= ? AND end_time < ? AND status IN ?",
				todayStart, endOfDay(s.now()),
				[]string{entity.DowntimeStatusWaitingLeaderApproval, entity.DowntimeStatusResolved}).
			Count(&result.Summary.ResolvedToday).Error; err != nil {
			return err
		}

		var avg sql.NullFloat64
		row := tx.Raw(`
			SELECT AVG(EXTRACT(EPOCH FROM (end_time - start_time)) / 60)
			FROM machine_downtime
			WHERE status = ? AND end_time IS NOT NULL AND end_time >= ? AND end_time < ?
		`, entity.DowntimeStatusResolved, start, end).Row()
		if err := row.Scan(&avg); err != nil {
			return err
		}
		if avg.Valid {
			result.Summary.AvgResolutionTimeMinutes = round1(avg.Float64)
		}

		// 当前未关闭停机项：高优先级在前，同级先报先列
		open, err := s.downtimeRepo.FindOpen(tx, topActiveIssueLimit)
		if err != nil {
			return err
		}
		for i := range open {
			d := &open[i]
			issue := ActiveIssue{
				ID:                 d.ID,
				MachineID:          d.MachineID,
				ProblemDescription: d.ProblemDescription,
				Priority:           d.Priority,
				Status:             d.Status,
				StartTime:          d.StartTime,
			}
			if d.Machine != nil {
				issue.MachineName = d.Machine.Name
				issue.MachineNumber = d.Machine.Number
			}
			if d.Reason != nil {
				issue.Reason = d.Reason.Reason
			}
			result.Issues = append(result.Issues, issue)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replayDowntimeHours 回放状态日志：每台机从进入非running到回到running
// 记一段停机区间；窗口内未闭合的区间不计。
func replayDowntimeHours(logs []entity.MachineStatusLog) float64 {
	var total time.Duration
	downSince := map[string]*time.Time{}

	for i := range logs {
		l := &logs[i]
		if l.NewStatus == entity.StatusRunning {
			if since := downSince[l.MachineID]; since != nil {
				total += l.ChangedAt.Sub(*since)
				downSince[l.MachineID] = nil
			}
			continue
		}
		if downSince[l.MachineID] == nil {
			t := l.ChangedAt
			downSince[l.MachineID] = &t
		}
	}

	return total.Hours()
}

// TimeSeriesPoint 时序桶
type TimeSeriesPoint struct {
	Bucket             string  `json:"bucket"`
	IssueCount         int64   `json:"issue_count"`
	TotalDowntimeHours float64 `json:"total_downtime_hours"`
}

// GetTimeSeries 停机时序。today 按小时分桶，其余按天。
func (s *AggregationService) GetTimeSeries(ctx context.Context, timeRange string) ([]TimeSeriesPoint, error) {
	start, end, err := ResolveTimeRange(timeRange, s.now())
	if err != nil {
		return nil, err
	}

	trunc := "day"
	format := "2006-01-02"
	if timeRange == RangeToday || timeRange == "" {
		trunc = "hour"
		format = "2006-01-02 15:00"
	}

	type bucketRow struct {
		Bucket     time.Time
		IssueCount int64
		Minutes    sql.NullFloat64
	}

	points := []TimeSeriesPoint{}
	err = s.readTx(ctx, func(tx *gorm.DB) error {
		var rows []bucketRow
		if err := tx.Raw(`
			SELECT date_trunc(?, start_time) AS bucket,
			       COUNT(*) AS issue_count,
			       SUM(COALESCE(downtime_minutes, 0)) AS minutes
			FROM machine_downtime
			WHERE start_time >= ? AND start_time < ?
			GROUP BY bucket
			ORDER BY bucket ASC
		`, trunc, start, end).Scan(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			p := TimeSeriesPoint{
				Bucket:     r.Bucket.Local().Format(format),
				IssueCount: r.IssueCount,
			}
			if r.Minutes.Valid {
				p.TotalDowntimeHours = round1(r.Minutes.Float64 / 60)
			}
			points = append(points, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// ReasonBreakdown 按停机原因统计
type ReasonBreakdown struct {
	ReasonID           int64   `json:"reason_id"`
	Category           string  `json:"category"`
	Reason             string  `json:"reason"`
	IssueCount         int64   `json:"issue_count"`
	TotalDowntimeHours float64 `json:"total_downtime_hours"`
}

// GetByReason 窗口内按原因的停机分布，总时长降序
func (s *AggregationService) GetByReason(ctx context.Context, timeRange string) ([]ReasonBreakdown, error) {
	start, end, err := ResolveTimeRange(timeRange, s.now())
	if err != nil {
		return nil, err
	}

	items := []ReasonBreakdown{}
	err = s.readTx(ctx, func(tx *gorm.DB) error {
		type row struct {
			ReasonID   int64
			Category   string
			Reason     string
			IssueCount int64
			Minutes    sql.NullFloat64
		}
		var rows []row
		if err := tx.Raw(`
			SELECT r.id AS reason_id, r.category, r.reason,
			       COUNT(*) AS issue_count,
			       SUM(COALESCE(d.downtime_minutes, 0)) AS minutes
			FROM machine_downtime d
			JOIN downtime_reasons r ON r.id = d.reason_id
			WHERE d.start_time >= ? AND d.start_time < ?
			GROUP BY r.id, r.category, r.reason
			ORDER BY SUM(COALESCE(d.downtime_minutes, 0)) DESC
		`, start, end).Scan(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			b := ReasonBreakdown{
				ReasonID:   r.ReasonID,
				Category:   r.Category,
				Reason:     r.Reason,
				IssueCount: r.IssueCount,
			}
			if r.Minutes.Valid {
				b.TotalDowntimeHours = round1(r.Minutes.Float64 / 60)
			}
			items = append(items, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MachineStats 按机台统计（只统计已resolve的停机单）
type MachineStats struct {
	MachineID            string  `json:"machine_id"`
	MachineName          string  `json:"machine_name"`
	MachineNumber        string  `json:"machine_number"`
	IncidentCount        int64   `json:"incident_count"`
	TotalDowntimeMinutes int64   `json:"total_downtime_minutes"`
	AvgDowntimeMinutes   float64 `json:"avg_downtime_minutes"`
}

// GetStatsByMachine 按机台统计窗口内 status=resolved 的停机单。
// 未resolve的单即使落在窗口内也不计。
func (s *AggregationService) GetStatsByMachine(ctx context.Context, start, end time.Time) ([]MachineStats, error) {
	if start.IsZero() || end.IsZero() {
		return nil, validationError("start_date and end_date are required")
	}

	items := []MachineStats{}
	err := s.readTx(ctx, func(tx *gorm.DB) error {
		return tx.Raw(`
			SELECT d.machine_id,
			       COALESCE(m.name, '') AS machine_name,
			       COALESCE(m.number, '') AS machine_number,
			       COUNT(*) AS incident_count,
			       COALESCE(SUM(d.downtime_minutes), 0) AS total_downtime_minutes,
			       ROUND(COALESCE(AVG(d.downtime_minutes), 0)::numeric, 1) AS avg_downtime_minutes
			FROM machine_downtime d
			LEFT JOIN machines m ON m.id = d.machine_id
			WHERE d.status = ? AND d.start_time >= ? AND d.start_time < ?
			GROUP BY d.machine_id, m.name, m.number
			ORDER BY total_downtime_minutes DESC
		`, entity.DowntimeStatusResolved, start, end).Scan(&items).Error
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ReasonStats 按原因统计（只统计已resolve的停机单）
type ReasonStats struct {
	ReasonID             int64   `json:"reason_id"`
	Category             string  `json:"category"`
	Reason               string  `json:"reason"`
	IncidentCount        int64   `json:"incident_count"`
	TotalDowntimeMinutes int64   `json:"total_downtime_minutes"`
	AvgDowntimeMinutes   float64 `json:"avg_downtime_minutes"`
}

// GetTopReasons 窗口内停机时长最多的原因，limit 必须有界
func (s *AggregationService) GetTopReasons(ctx context.Context, start, end time.Time, limit int) ([]ReasonStats, error) {
	if start.IsZero() || end.IsZero() {
		return nil, validationError("start_date and end_date are required")
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	items := []ReasonStats{}
	err := s.readTx(ctx, func(tx *gorm.DB) error {
		return tx.Raw(`
			SELECT r.id AS reason_id, r.category, r.reason,
			       COUNT(*) AS incident_count,
			       COALESCE(SUM(d.downtime_minutes), 0) AS total_downtime_minutes,
			       ROUND(COALESCE(AVG(d.downtime_minutes), 0)::numeric, 1) AS avg_downtime_minutes
			FROM machine_downtime d
			JOIN downtime_reasons r ON r.id = d.reason_id
			WHERE d.status = ? AND d.start_time >= ? AND d.start_time < ?
			GROUP BY r.id, r.category, r.reason
			ORDER BY total_downtime_minutes DESC
			LIMIT ?
		`, entity.DowntimeStatusResolved, start, end, limit).Scan(&items).Error
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
