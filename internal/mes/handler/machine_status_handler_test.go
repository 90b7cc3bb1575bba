package handler

import (
	"net/http"
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
)

func TestGetMachineStatusDefaultsToRunning(t *testing.T) {
	db, r := setupHandlerTest(t)
	token := testutil.DefaultTestToken()

	testutil.SeedMachine(t, db, "m-001", "CNC Mill 1", "M-001")

	// No transitions yet: the machine reads as running with no history
	w := testutil.DoRequest(r, "GET", "/api/v1/machines/m-001/status", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	status := data["status"].(map[string]interface{})
	if status["status"] != "running" {
		t.Fatalf("expected running, got %v", status["status"])
	}
	if logs, ok := data["logs"].([]interface{}); ok && len(logs) != 0 {
		t.Fatalf("expected empty log history, got %d entries", len(logs))
	}

	w = testutil.DoRequest(r, "GET", "/api/v1/machines/ghost/status", nil, token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown machine, got %d", w.Code)
	}
}

func TestListMachinesEndpoint(t *testing.T) {
	db, r := setupHandlerTest(t)
	token := testutil.DefaultTestToken()

	testutil.SeedMachine(t, db, "m-001", "CNC Mill 1", "M-001")
	testutil.SeedMachine(t, db, "m-002", "CNC Mill 2", "M-002")

	w := testutil.DoRequest(r, "GET", "/api/v1/machines", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	machines := testutil.ParseResponse(w)["data"].([]interface{})
	if len(machines) != 2 {
		t.Fatalf("expected 2 machines, got %d", len(machines))
	}
	first := machines[0].(map[string]interface{})
	if first["name"] == "" || first["number"] == "" {
		t.Fatalf("expected machine fields populated, got %v", first)
	}
}

func TestSetMachineStatusEndpoint(t *testing.T) {
	db, r := setupHandlerTest(t)
	token := testutil.DefaultTestToken()

	testutil.SeedMachine(t, db, "m-001", "CNC Mill 1", "M-001")

	w := testutil.DoRequest(r, "PUT", "/api/v1/machines/m-001/status", map[string]interface{}{
		"status": "idle",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["status"] != "idle" {
		t.Fatalf("expected idle, got %v", data["status"])
	}

	// The override opened an incident, visible in the downtime list
	w = testutil.DoRequest(r, "GET", "/api/v1/downtime?machine_id=m-001", nil, token)
	list := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if list["pagination"].(map[string]interface{})["total"].(float64) != 1 {
		t.Fatalf("expected 1 incident from override, got %v", list["pagination"])
	}

	// Back to running closes it again
	w = testutil.DoRequest(r, "PUT", "/api/v1/machines/m-001/status", map[string]interface{}{
		"status": "running",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Status history reflects both transitions
	w = testutil.DoRequest(r, "GET", "/api/v1/machines/m-001/status", nil, token)
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if status := data["status"].(map[string]interface{}); status["status"] != "running" {
		t.Fatalf("expected running after close, got %v", status["status"])
	}
	if logs := data["logs"].([]interface{}); len(logs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs))
	}

	// Invalid target status
	w = testutil.DoRequest(r, "PUT", "/api/v1/machines/m-001/status", map[string]interface{}{
		"status": "exploded",
	}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid status, got %d", w.Code)
	}
}

func TestDashboardEndpoints(t *testing.T) {
	db, r := setupHandlerTest(t)
	token := testutil.DefaultTestToken()

	testutil.SeedMachine(t, db, "m-001", "CNC Mill 1", "M-001")
	reportDowntime(t, r, token, "m-001", "belt jam")

	w := testutil.DoRequest(r, "GET", "/api/v1/dashboard/summary?timeRange=today", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	summary := data["summary"].(map[string]interface{})
	if summary["active_issues"].(float64) != 1 {
		t.Fatalf("expected 1 active issue, got %v", summary["active_issues"])
	}
	if len(data["issues"].([]interface{})) != 1 {
		t.Fatalf("expected issue listed, got %v", data["issues"])
	}

	w = testutil.DoRequest(r, "GET", "/api/v1/dashboard/summary?timeRange=quarter", nil, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown range, got %d", w.Code)
	}

	w = testutil.DoRequest(r, "GET", "/api/v1/dashboard/time-series?timeRange=week", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("time-series: expected 200, got %d", w.Code)
	}
}

func TestStatsEndpointsRequireRange(t *testing.T) {
	_, r := setupHandlerTest(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(r, "GET", "/api/v1/stats/by-machine", nil, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without dates, got %d", w.Code)
	}

	w = testutil.DoRequest(r, "GET",
		"/api/v1/stats/by-machine?start_date=2026-03-01&end_date=2026-03-31", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(r, "GET",
		"/api/v1/stats/top-reasons?start_date=2026-03-01&end_date=2026-03-31&limit=5", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
