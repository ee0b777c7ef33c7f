/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario registers approvable types,
	approver layers, employees, roles and leave categories that demonstrate
	specific workflow features.

AVAILABLE SCENARIOS:

	line-then-hr:  Leave goes to the supervisor, then to any HR manager
	auto-approve:  Types registered without layers; requests approve at once

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Register approvable types and their layers
 3. Create employees and grant roles
 4. Create leave categories and holidays

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "line-then-hr"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, seeder)
 3. Add it to the loaders map

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler context
  - store/sqlite: the Seeder implementation
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/directory"
	"github.com/warp/approval-engine/entitlement"
)

// Seeder writes reference data. *sqlite.Store implements it.
type Seeder interface {
	Reset(ctx context.Context) error
	SaveApprovableType(ctx context.Context, t approval.ApprovableType) error
	SaveLayer(ctx context.Context, l approval.ApproverLayer) error
	SaveEmployee(ctx context.Context, e directory.Employee) error
	GrantRole(ctx context.Context, roleID, userID string) error
	SaveCategory(ctx context.Context, c entitlement.LeaveCategory) error
	SaveHoliday(ctx context.Context, id string, h entitlement.Holiday) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// Demo identities shared by the scenarios.
const (
	scenarioBossID    = "emp-boss"
	scenarioAliceID   = "emp-alice"
	scenarioBossUser  = "u-boss"
	scenarioAliceUser = "u-alice"
	scenarioHRUser    = "u-hr"
	scenarioHRRole    = "hr-manager"
	scenarioAnnualID  = "cat-annual"
	scenarioSickID    = "cat-sick"
)

var scenarios = []ScenarioDTO{
	{
		ID:          "line-then-hr",
		Name:        "Supervisor then HR",
		Description: "Leave needs the supervisor (level 1) and any HR manager (level 2); overtime only the supervisor",
	},
	{
		ID:          "auto-approve",
		Name:        "Auto-approve",
		Description: "Types registered without layers: every request is approved on submission",
	},
}

type scenarioLoader func(ctx context.Context, s Seeder, now time.Time) error

var loaders = map[string]scenarioLoader{
	"line-then-hr": loadLineThenHRScenario,
	"auto-approve": loadAutoApproveScenario,
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: h.currentScenario, Name: h.currentScenario})
}

// LoadScenario resets the database and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if err := h.Seeder.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx, h.Seeder, h.Now()); err != nil {
		h.Log.Error().Err(err).Str("scenario", req.ScenarioID).Msg("Failed to load scenario")
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Log.Info().Str("scenario", req.ScenarioID).Msg("Scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadLineThenHRScenario(ctx context.Context, s Seeder, now time.Time) error {
	if err := saveTypes(ctx, s); err != nil {
		return err
	}
	layers := []approval.ApproverLayer{
		{TypeID: typeID(approval.KindLeaveRequest), Level: 1, Approver: approval.ApprovalLineSpec()},
		{TypeID: typeID(approval.KindLeaveRequest), Level: 2, Approver: approval.RoleSpec(scenarioHRRole)},
		{TypeID: typeID(approval.KindOvertime), Level: 1, Approver: approval.ApprovalLineSpec()},
		{TypeID: typeID(approval.KindEmployeeHistory), Level: 1, Approver: approval.RoleSpec(scenarioHRRole)},
	}
	for _, l := range layers {
		if err := s.SaveLayer(ctx, l); err != nil {
			return err
		}
	}
	if err := saveStaff(ctx, s, now); err != nil {
		return err
	}
	if err := s.GrantRole(ctx, scenarioHRRole, scenarioHRUser); err != nil {
		return err
	}
	if err := saveCategories(ctx, s); err != nil {
		return err
	}
	return saveHolidays(ctx, s, now.Year())
}

func loadAutoApproveScenario(ctx context.Context, s Seeder, now time.Time) error {
	if err := saveTypes(ctx, s); err != nil {
		return err
	}
	if err := saveStaff(ctx, s, now); err != nil {
		return err
	}
	return saveCategories(ctx, s)
}

func typeID(k approval.Kind) string { return "type-" + string(k) }

func saveTypes(ctx context.Context, s Seeder) error {
	names := map[approval.Kind]string{
		approval.KindLeaveRequest:    "Leave request",
		approval.KindOvertime:        "Overtime",
		approval.KindEmployeeHistory: "Employee history",
	}
	for _, k := range approval.Kinds {
		t := approval.ApprovableType{ID: typeID(k), Name: names[k], Kind: k, Active: true}
		if err := s.SaveApprovableType(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// saveStaff creates a supervisor and a report who joined two years ago.
func saveStaff(ctx context.Context, s Seeder, now time.Time) error {
	joined := time.Date(now.Year()-2, time.March, 1, 0, 0, 0, 0, time.UTC)
	staff := []directory.Employee{
		{ID: scenarioBossID, Code: "B001", Name: "Bima Santoso", UserID: scenarioBossUser, JoinDate: &joined},
		{ID: scenarioAliceID, Code: "A001", Name: "Alice Johnson", UserID: scenarioAliceUser, SupervisorCode: "B001", JoinDate: &joined},
	}
	for _, e := range staff {
		if err := s.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// saveCategories creates a tracked annual category and untracked sick leave.
func saveCategories(ctx context.Context, s Seeder) error {
	expiry := 3
	cats := []entitlement.LeaveCategory{
		{
			ID:                    scenarioAnnualID,
			Code:                  "ANNUAL",
			Name:                  "Annual leave",
			Paid:                  true,
			DeductBalance:         true,
			HalfDayAllowed:        true,
			WeekendRule:           entitlement.RuleWorkdays,
			BaseQuotaDays:         entitlement.DaysPtr(12),
			ProrateOnJoin:         true,
			ProrateOnResign:       true,
			CarryoverMaxDays:      entitlement.DaysPtr(5),
			CarryoverExpiryMonths: &expiry,
		},
		{
			ID:            scenarioSickID,
			Code:          "SICK",
			Name:          "Sick leave",
			Paid:          true,
			WeekendRule:   entitlement.RuleCalendar,
			ProofRequired: true,
		},
	}
	for _, c := range cats {
		if err := s.SaveCategory(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func saveHolidays(ctx context.Context, s Seeder, year int) error {
	holidays := map[string]entitlement.Holiday{
		"new-year":  {Date: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), Name: "New Year", Recurring: true},
		"labour":    {Date: time.Date(year, time.May, 1, 0, 0, 0, 0, time.UTC), Name: "Labour Day", Recurring: true},
		"christmas": {Date: time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC), Name: "Christmas", Recurring: true},
	}
	for id, hol := range holidays {
		if err := s.SaveHoliday(ctx, id, hol); err != nil {
			return err
		}
	}
	return nil
}
