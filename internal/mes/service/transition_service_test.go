package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTransitionTest(t *testing.T) (*gorm.DB, *repository.Repositories, *TransitionService) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db, nil)
	svc := NewTransitionService(db, repos.Machine, repos.Status, repos.Downtime, repos.Reason, zap.NewNop())
	return db, repos, svc
}

// TestReportDowntime verifies reporting opens an incident, mirrors the
// machine status and appends a log entry at the reported start time.
func TestReportDowntime(t *testing.T) {
	db, repos, svc := setupTransitionTest(t)
	ctx := context.Background()

	testutil.SeedMachine(t, db, "m-001", "CNC Mill 1", "M-001")
	reason := testutil.SeedReason(t, db, "mechanical", "belt failure", false)

	t0 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local)
	downtime, err := svc.ReportDowntime(ctx, ReportDowntimeReq{
		MachineID:          "m-001",
		ProblemDescription: "belt jam",
		ReasonID:           &reason.ID,
		ReportedBy:         "emp-001",
		StartTime:          &t0,
	})
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}

	if downtime.Status != entity.DowntimeStatusActive {
		t.Fatalf("expected status active, got %s", downtime.Status)
	}
	if downtime.EndTime != nil {
		t.Fatal("expected end_time to be nil")
	}
	if downtime.Priority != entity.PriorityMedium {
		t.Fatalf("expected default priority medium, got %s", downtime.Priority)
	}

	status, err := repos.Status.FindByMachineID(ctx, "m-001")
	if err != nil {
		t.Fatalf("machine status not found: %v", err)
	}
	if status.Status != entity.StatusActive {
		t.Fatalf("expected machine status active, got %s", status.Status)
	}
	if status.SourceID == nil || *status.SourceID != downtime.ID {
		t.Fatal("expected machine status source_id to point at the new downtime")
	}

	logs, err := repos.Status.FindLogs(ctx, "m-001", 10)
	if err != nil {
		t.Fatalf("find logs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logs))
	}
	if logs[0].OldStatus != entity.StatusRunning || logs[0].NewStatus != entity.StatusActive {
		t.Fatalf("expected running→active, got %s→%s", logs[0].OldStatus, logs[0].NewStatus)
	}
	if !logs[0].ChangedAt.Equal(t0) {
		t.Fatalf("expected log at %v, got %v", t0, logs[0].ChangedAt)
	}
}

func TestReportDowntimeValidation(t *testing.T) {
	_, _, svc := setupTransitionTest(t)

	_, err := svc.ReportDowntime(context.Background(), ReportDowntimeReq{
		MachineID: "m-001",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReportDowntimeUnknownMachine(t *testing.T) {
	_, _, svc := setupTransitionTest(t)

	_, err := svc.ReportDowntime(context.Background(), ReportDowntimeReq{
		MachineID:          "nope",
		ProblemDescription: "belt jam",
		ReportedBy:         "emp-001",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// TestReportDowntimeConflictWhenOpen: one open incident per machine —
// a second report on the same machine is rejected until the first closes.
func TestReportDowntimeConflictWhenOpen(t *testing.T) {
	db, _, svc := setupTransitionTest(t)
	ctx := context.Background()

	testutil.SeedMachine(t, db, "m-001", "CNC Mill 1", "M-001")

	downtime, err := svc.ReportDowntime(ctx, ReportDowntimeReq{
		MachineID:          "m-001",
		ProblemDescription: "belt jam",
		ReportedBy:         "emp-001",
	})
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}

	_, err = svc.ReportDowntime(ctx, ReportDowntimeReq{
		MachineID:          "m-001",
		ProblemDescription: "also noisy",
		ReportedBy:         "emp-002",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on second report, got %v", err)
	}

	// Cancelling the open record frees the machine for a new report
	cancelled := entity.DowntimeStatusCancelled
	if _, err := svc.UpdateDowntime(ctx, downtime.ID, UpdateDowntimeReq{Status: &cancelled}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := svc.ReportDowntime(ctx, ReportDowntimeReq{
		MachineID:          "m-001",
		ProblemDescription: "also noisy",
		ReportedBy:         "emp-002",
	}); err != nil {
		t.Fatalf("report after cancel failed: %v", err)
	}
}

// TestAssignAndResolve walks the full lifecycle: report → assign → resolve,
// checking mirrors, computed minutes and the log chain.
func TestAssignAndResolve(t *testing.T) {
	db, repos, svc := setupTransitionTest(t)
	ctx := context.Background()

	testutil.SeedMachine(t, db, "m-001", "CNC Mill 1", "M-001")

	t0 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local)
	downtime, err := svc.ReportDowntime(ctx, ReportDowntimeReq{
		MachineID:          "m-001",
		ProblemDescription: "belt jam",
		ReportedBy:         "emp-001",
		StartTime:          &t0,
	})
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}

	assigned, err := svc.AssignTechnician(ctx, downtime.ID, "tech-001")
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if assigned.Status != entity.DowntimeStatusMaintenance {
		t.Fatalf("expected maintenance, got %s", assigned.Status)
	}
	if assigned.TechnicianID == nil || *assigned.TechnicianID != "tech-001" {
		t.Fatal("expected technician to be set")
	}

	status, _ := repos.Status.FindByMachineID(ctx, "m-001")
	if status.Status != entity.StatusMaintenance {
		t.Fatalf("expected machine status maintenance, got %s", status.Status)
	}

	end := t0.Add(90 * time.Minute)
	resolved, err := svc.Resolve(ctx, downtime.ID, ResolveReq{
		SolutionDescription: "replaced belt",
		TechnicianID:        "tech-001",
		EndTime:             &end,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Status != entity.DowntimeStatusWaitingLeaderApproval {
		t.Fatalf("expected waiting_leader_approval, got %s", resolved.Status)
	}
	if resolved.EndTime == nil || !resolved.EndTime.Equal(end) {
		t.Fatalf("expected end_time %v, got %v", end, resolved.EndTime)
	}
	if resolved.DowntimeMinutes == nil || *resolved.DowntimeMinutes != 90 {
		t.Fatalf("expected 90 downtime minutes, got %v", resolved.DowntimeMinutes)
	}

	// Log entries must form a chain: each old_status equals the previous
	// new_status, ordered by business time. The whole lifecycle here is
	// backdated months before the run date, so assign's entry must sit on
	// the business timeline rather than at its wall-clock insert time.
	var logs []entity.MachineStatusLog
	if err := db.Where("machine_id = ?", "m-001").
		Order("changed_at ASC, created_at ASC").Find(&logs).Error; err != nil {
		t.Fatalf("load logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(logs))
	}
	for i := 1; i < len(logs); i++ {
		if logs[i].OldStatus != logs[i-1].NewStatus {
			t.Fatalf("broken chain at %d: %s != %s", i, logs[i].OldStatus, logs[i-1].NewStatus)
		}
	}
	if logs[1].NewStatus != entity.StatusMaintenance {
		t.Fatalf("expected maintenance entry second, got %s", logs[1].NewStatus)
	}
	if logs[1].ChangedAt.After(end) {
		t.Fatalf("assign entry logged at %v, outside the incident window ending %v", logs[1].ChangedAt, end)
	}

	// Exactly one status row per machine
	var count int64
	db.Model(&entity.MachineStatus{}).Where("machine_id = ?", "m-001").Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one machine_status row, got %d", count)
	}
}

func TestAssignTechnicianConflict(t *testing.T) {
	db, _, svc := setupTransitionTest(t)
	ctx := context.Background()

	testutil.SeedMachine(t, db, "m-001", "CNC Mill 1", "M-001")

	downtime, err := svc.ReportDowntime(ctx, ReportDowntimeReq{
		MachineID:          "m-001",
		ProblemDescription: "belt jam",
		ReportedBy:         "emp-001",
	})
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}

	if _, err := svc.AssignTechnician(ctx, downtime.ID, "tech-001"); err != nil {
		t.Fatalf("first assign failed: %v", err)
	}

	// Record is now maintenance, a second assignment must be rejected
	_, err = svc.AssignTechnician(ctx, downtime.ID, "tech-002")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAssignTechnicianNotFound(t *testing.T) {
	_, _, svc := setupTransitionTest(t)

	_, err := svc.AssignTechnician(context.Background(), "missing", "tech-001")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolveValidation(t *testing.T) {
	_, _, svc := setupTransitionTest(t)

	_, err := svc.Resolve(context.Background(), "any", ResolveReq{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = svc.Resolve(context.Background(), "missing", ResolveReq{SolutionDescription: "fixed"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// TestSetMachineStatusRunning closes the open incident and logs the
// return to running at the incident's end time.
func TestSetMachineStatusRunning(t *testing.T) {
	db, _, svc := setupTransitionTest(t)
	ctx := context.Background()

	testutil.SeedMachine(t, db, "m-001", "CNC Mill 1", "M-001")

	t0 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local)
	downtime, err := svc.ReportDowntime(ctx, ReportDowntimeReq{
		MachineID:          "m-001",
		ProblemDescription: "belt jam",
		ReportedBy:         "emp-001",
		StartTime:          &t0,
	})
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}

	end := t0.Add(90 * time.Minute)
	if _, err := svc.Resolve(ctx, downtime.ID, ResolveReq{
		SolutionDescription: "replaced belt",
		TechnicianID:        "tech-001",
		EndTime:             &end,
	}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	status, err := svc.SetMachineStatus(ctx, "m-001", entity.StatusRunning, "leader-001")
	if err != nil {
		t.Fatalf("set status failed: %v", err)
	}
	if status.Status != entity.StatusRunning {
		t.Fatalf("expected running, got %s", status.Status)
	}

	var closed entity.MachineDowntime
	if err := db.Where("id = ?", downtime.ID).First(&closed).Error; err != nil {
		t.Fatalf("load downtime: %v", err)
	}
	if closed.Status != entity.DowntimeStatusResolved {
		t.Fatalf("expected resolved, got %s", closed.Status)
	}

	var last entity.MachineStatusLog
	if err := db.Where("machine_id = ? AND new_status = ?", "m-001", entity.StatusRunning).
		Order("changed_at DESC").First(&last).Error; err != nil {
		t.Fatalf("load running log entry: %v", err)
	}
	if !last.ChangedAt.Equal(end) {
		t.Fatalf("expected running logged at incident end %v, got %v", end, last.ChangedAt)
	}
}

// TestSetMachineStatusOpensNewIncident documents the inherited override
// semantics: a non-running target always opens a fresh incident, even
// when the machine already has one open.
func TestSetMachineStatusOpensNewIncident(t *testing.T) {
	db, repos, svc := setupTransitionTest(t)
	ctx := context.Background()

	testutil.SeedMachine(t, db, "m-001", "CNC Mill 1", "M-001")

	if _, err := svc.ReportDowntime(ctx, ReportDowntimeReq{
		MachineID:          "m-001",
		ProblemDescription: "belt jam",
		ReportedBy:         "emp-001",
	}); err != nil {
		t.Fatalf("report failed: %v", err)
	}

	status, err := svc.SetMachineStatus(ctx, "m-001", entity.StatusIdle, "leader-001")
	if err != nil {
		t.Fatalf("set status failed: %v", err)
	}
	if status.Status != entity.StatusIdle {
		t.Fatalf("expected idle, got %s", status.Status)
	}

	var open int64
	db.Model(&entity.MachineDowntime{}).
		Where("machine_id = ? AND status NOT IN ?", "m-001",
			[]string{entity.DowntimeStatusResolved, entity.DowntimeStatusCancelled}).
		Count(&open)
	if open != 2 {
		t.Fatalf("expected 2 open incidents after override, got %d", open)
	}

	latest, err := repos.Downtime.FindByID(ctx, *status.SourceID)
	if err != nil {
		t.Fatalf("load override incident: %v", err)
	}
	if latest.ProblemDescription != "Status changed to idle" {
		t.Fatalf("unexpected problem description %q", latest.ProblemDescription)
	}
}

func TestSetMachineStatusErrors(t *testing.T) {
	db, _, svc := setupTransitionTest(t)
	ctx := context.Background()

	testutil.SeedMachine(t, db, "m-001", "CNC Mill 1", "M-001")

	_, err := svc.SetMachineStatus(ctx, "missing", entity.StatusRunning, "leader-001")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	_, err = svc.SetMachineStatus(ctx, "m-001", "exploded", "leader-001")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// TestUpdateDowntimeCancel cancels the incident and returns the machine to running.
func TestUpdateDowntimeCancel(t *testing.T) {
	db, repos, svc := setupTransitionTest(t)
	ctx := context.Background()

	testutil.SeedMachine(t, db, "m-001", "CNC Mill 1", "M-001")

	downtime, err := svc.ReportDowntime(ctx, ReportDowntimeReq{
		MachineID:          "m-001",
		ProblemDescription: "belt jam",
		ReportedBy:         "emp-001",
	})
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}

	cancelled := entity.DowntimeStatusCancelled
	updated, err := svc.UpdateDowntime(ctx, downtime.ID, UpdateDowntimeReq{Status: &cancelled})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if updated.Status != entity.DowntimeStatusCancelled {
		t.Fatalf("expected cancelled, got %s", updated.Status)
	}
	if updated.EndTime == nil {
		t.Fatal("expected end_time to be set on cancel")
	}

	status, _ := repos.Status.FindByMachineID(ctx, "m-001")
	if status.Status != entity.StatusRunning {
		t.Fatalf("expected machine back to running, got %s", status.Status)
	}

	// A second cancel must be rejected
	_, err = svc.UpdateDowntime(ctx, downtime.ID, UpdateDowntimeReq{Status: &cancelled})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

// TestUpdateDowntimeAssignsViaTechnician mirrors the assign transition
// when a technician is set through the generic update path.
func TestUpdateDowntimeAssignsViaTechnician(t *testing.T) {
	db, repos, svc := setupTransitionTest(t)
	ctx := context.Background()

	testutil.SeedMachine(t, db, "m-001", "CNC Mill 1", "M-001")

	downtime, err := svc.ReportDowntime(ctx, ReportDowntimeReq{
		MachineID:          "m-001",
		ProblemDescription: "belt jam",
		ReportedBy:         "emp-001",
	})
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}

	tech := "tech-001"
	updated, err := svc.UpdateDowntime(ctx, downtime.ID, UpdateDowntimeReq{TechnicianID: &tech})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Status != entity.DowntimeStatusMaintenance {
		t.Fatalf("expected maintenance after technician assignment, got %s", updated.Status)
	}

	status, _ := repos.Status.FindByMachineID(ctx, "m-001")
	if status.Status != entity.StatusMaintenance {
		t.Fatalf("expected machine status maintenance, got %s", status.Status)
	}
}
