package requests_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/approval-engine/approval"
	approvalmem "github.com/warp/approval-engine/approval/memory"
	"github.com/warp/approval-engine/directory"
	"github.com/warp/approval-engine/entitlement"
	entitlementmem "github.com/warp/approval-engine/entitlement/memory"
	"github.com/warp/approval-engine/requests"
	requestsmem "github.com/warp/approval-engine/requests/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// 2025-03-03 is a Monday.
var monday = entitlement.Date(2025, time.March, 3)

type fixture struct {
	svc       *requests.Service
	approvals *approvalmem.Store
	ents      *entitlementmem.Store
	store     *requestsmem.Store
	dir       *directory.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)

	dir := directory.NewMemory()
	dir.PutEmployee(directory.Employee{ID: "emp-boss", Code: "B001", UserID: "user-boss"})
	dir.PutEmployee(directory.Employee{ID: "emp-alice", Code: "A001", UserID: "user-alice", SupervisorCode: "B001"})
	dir.Grant("hr-manager", "user-hr")

	approvals := approvalmem.New()
	approvals.PutType(approval.ApprovableType{ID: "t-leave", Kind: approval.KindLeaveRequest, Active: true})
	approvals.PutType(approval.ApprovableType{ID: "t-history", Kind: approval.KindEmployeeHistory, Active: true})
	approvals.PutLayer(approval.ApproverLayer{TypeID: "t-leave", Level: 1, Approver: approval.ApprovalLineSpec()})
	approvals.PutLayer(approval.ApproverLayer{TypeID: "t-history", Level: 1, Approver: approval.RoleSpec("hr-manager")})

	store := requestsmem.New()
	engine := approval.NewEngine(approvals, approvals, dir, dir)
	engine.Now = func() time.Time { return now }
	requests.RegisterLoaders(engine.Subjects, store)

	ents := entitlementmem.New()
	ents.PutCategory(entitlement.LeaveCategory{
		ID: "cat-annual", Code: "ANNUAL", DeductBalance: true, HalfDayAllowed: true,
		WeekendRule: entitlement.RuleWorkdays, BaseQuotaDays: entitlement.DaysPtr(12),
	})
	ents.PutCategory(entitlement.LeaveCategory{
		ID: "cat-sick", Code: "SICK", WeekendRule: entitlement.RuleCalendar, ProofRequired: true,
	})
	leaves := requests.ApprovedLeaveSource{Leaves: store, Approvals: engine}
	entEngine := entitlement.NewEngine(ents, ents, leaves, dir)
	entEngine.Now = func() time.Time { return now }
	entEngine.StaleAfter = 0

	svc := requests.NewService(store, engine, entEngine)
	svc.Now = func() time.Time { return now }

	return &fixture{svc: svc, approvals: approvals, ents: ents, store: store, dir: dir}
}

func annualLeave(start time.Time, days int) requests.LeaveInput {
	return requests.LeaveInput{
		EmployeeID: "emp-alice",
		CategoryID: "cat-annual",
		Start:      start,
		End:        start.AddDate(0, 0, days-1),
		Reason:     "holiday",
	}
}

func (f *fixture) approveFirst(t *testing.T, flow *approval.FlowResult, user string) *approval.DecideResult {
	t.Helper()
	require.NotNil(t, flow.First)
	res, err := f.svc.Decide(context.Background(), flow.First.ID, approval.Approve, user, "")
	require.NoError(t, err)
	return res
}

// =============================================================================
// LEAVE SUBMISSION
// =============================================================================

func TestSubmitLeave_StartsFlow(t *testing.T) {
	f := newFixture(t)

	req, flow, err := f.svc.SubmitLeave(context.Background(), annualLeave(monday, 7))
	require.NoError(t, err)

	assert.True(t, req.Days.Equal(entitlement.Days(5)), "Mon-Sun costs 5 workdays, got %s", req.Days)
	assert.Equal(t, approval.StatusPending, flow.Status)
	assert.Equal(t, approval.Approver{Kind: approval.ApproverUser, ID: "user-boss"}, flow.First.Approver)
}

func TestSubmitLeave_PendingRequestsHoldBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: 10 of 12 days pending
	_, _, err := f.svc.SubmitLeave(ctx, annualLeave(monday, 12))
	require.NoError(t, err)

	// WHEN: requesting another 5
	_, _, err = f.svc.SubmitLeave(ctx, annualLeave(monday.AddDate(0, 1, 0), 5))

	// THEN: refused with the remaining 2 days
	var insufficient *requests.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2025, insufficient.Year)
	assert.True(t, insufficient.Available.Equal(entitlement.Days(2)))
	assert.True(t, requests.IsClientError(err))

	// AND: exactly the remaining 2 days still fit (Thu 3 Apr, Fri 4 Apr)
	_, _, err = f.svc.SubmitLeave(ctx, annualLeave(monday.AddDate(0, 1, 0), 2))
	require.NoError(t, err)
}

func TestSubmitLeave_ApprovalRefreshesEntitlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, flow, err := f.svc.SubmitLeave(ctx, annualLeave(monday, 5))
	require.NoError(t, err)

	res := f.approveFirst(t, flow, "user-boss")
	assert.Equal(t, approval.StatusApproved, res.Status)

	ent, err := f.ents.Entitlement(ctx, "emp-alice", "cat-annual", "2025")
	require.NoError(t, err)
	assert.True(t, ent.Consumed.Equal(entitlement.Days(5)))
	assert.True(t, ent.Closing.Equal(entitlement.Days(7)))
}

func TestSubmitLeave_AutoApprovedCountsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: the boss has no supervisor, so the approval line resolves nothing
	_, flow, err := f.svc.SubmitLeave(ctx, requests.LeaveInput{
		EmployeeID: "emp-boss", CategoryID: "cat-annual", Start: monday, End: monday,
	})
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, flow.Status)

	ent, err := f.ents.Entitlement(ctx, "emp-boss", "cat-annual", "2025")
	require.NoError(t, err)
	assert.True(t, ent.Consumed.Equal(entitlement.Days(1)))
}

func TestSubmitLeave_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	saturday := monday.AddDate(0, 0, 5)

	tests := []struct {
		name string
		in   requests.LeaveInput
		want error
	}{
		{"end before start", requests.LeaveInput{EmployeeID: "emp-alice", CategoryID: "cat-annual", Start: monday, End: monday.AddDate(0, 0, -1)}, requests.ErrInvalidDates},
		{"missing dates", requests.LeaveInput{EmployeeID: "emp-alice", CategoryID: "cat-annual"}, requests.ErrInvalidDates},
		{"half day over two days", requests.LeaveInput{EmployeeID: "emp-alice", CategoryID: "cat-annual", Start: monday, End: monday.AddDate(0, 0, 1), HalfDay: true}, requests.ErrHalfDayNotAllowed},
		{"half day not allowed", requests.LeaveInput{EmployeeID: "emp-alice", CategoryID: "cat-sick", Start: monday, End: monday, HalfDay: true, ProofURL: "x"}, requests.ErrHalfDayNotAllowed},
		{"proof missing", requests.LeaveInput{EmployeeID: "emp-alice", CategoryID: "cat-sick", Start: monday, End: monday}, requests.ErrProofRequired},
		{"weekend only", requests.LeaveInput{EmployeeID: "emp-alice", CategoryID: "cat-annual", Start: saturday, End: saturday.AddDate(0, 0, 1)}, requests.ErrNoCountableDays},
		{"unknown employee", requests.LeaveInput{EmployeeID: "ghost", CategoryID: "cat-annual", Start: monday, End: monday}, directory.ErrEmployeeNotFound},
		{"unknown category", requests.LeaveInput{EmployeeID: "emp-alice", CategoryID: "cat-x", Start: monday, End: monday}, entitlement.ErrCategoryNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.SubmitLeave(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSubmitLeave_HalfDayAndUntrackedCategories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	half, _, err := f.svc.SubmitLeave(ctx, requests.LeaveInput{
		EmployeeID: "emp-alice", CategoryID: "cat-annual", Start: monday, End: monday, HalfDay: true,
	})
	require.NoError(t, err)
	assert.True(t, half.Days.Equal(entitlement.Days(0.5)))

	// sick leave is untracked: no balance check even for a long absence
	sick, _, err := f.svc.SubmitLeave(ctx, requests.LeaveInput{
		EmployeeID: "emp-alice", CategoryID: "cat-sick", Start: monday, End: monday.AddDate(0, 0, 29), ProofURL: "https://files/note.pdf",
	})
	require.NoError(t, err)
	assert.True(t, sick.Days.Equal(entitlement.Days(30)))
}

// =============================================================================
// EDIT AND DELETE
// =============================================================================

func TestUpdateLeave_OnlyWhilePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, flow, err := f.svc.SubmitLeave(ctx, annualLeave(monday, 12))
	require.NoError(t, err)

	// editing does not count the request against itself
	updated, err := f.svc.UpdateLeave(ctx, req.ID, annualLeave(monday, 5))
	require.NoError(t, err)
	assert.True(t, updated.Days.Equal(entitlement.Days(5)))
	assert.Equal(t, "emp-alice", updated.EmployeeID)

	_, err = f.svc.Decide(ctx, flow.First.ID, approval.Reject, "user-boss", "team offsite")
	require.NoError(t, err)

	_, err = f.svc.UpdateLeave(ctx, req.ID, annualLeave(monday, 2))
	assert.ErrorIs(t, err, requests.ErrNotEditable)
}

func TestDeleteLeave_RestoresBalanceAndDropsChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, flow, err := f.svc.SubmitLeave(ctx, annualLeave(monday, 5))
	require.NoError(t, err)
	f.approveFirst(t, flow, "user-boss")

	require.NoError(t, f.svc.DeleteLeave(ctx, req.ID))

	_, err = f.store.LeaveRequest(ctx, req.ID)
	assert.ErrorIs(t, err, requests.ErrRequestNotFound)
	_, err = f.approvals.Approval(ctx, flow.First.ID)
	assert.ErrorIs(t, err, approval.ErrApprovalNotFound)

	ent, err := f.ents.Entitlement(ctx, "emp-alice", "cat-annual", "2025")
	require.NoError(t, err)
	assert.True(t, ent.Closing.Equal(entitlement.Days(12)))
}

// =============================================================================
// OVERTIME AND HISTORY
// =============================================================================

func TestSubmitOvertime_FlowFailureRemovesRow(t *testing.T) {
	f := newFixture(t)
	f.svc.NewID = func() string { return "ot-1" }
	start := monday.Add(18 * time.Hour)

	// GIVEN: no approvable type is registered for overtime
	_, _, err := f.svc.SubmitOvertime(context.Background(), requests.OvertimeInput{
		EmployeeID: "emp-alice", Date: monday, StartsAt: start, EndsAt: start.Add(150 * time.Minute),
	})
	assert.ErrorIs(t, err, approval.ErrUnknownApprovableType)

	_, err = f.store.Overtime(context.Background(), "ot-1")
	assert.ErrorIs(t, err, requests.ErrRequestNotFound)
}

func TestSubmitOvertime_Hours(t *testing.T) {
	f := newFixture(t)
	f.approvals.PutType(approval.ApprovableType{ID: "t-ot", Kind: approval.KindOvertime, Active: true})
	f.approvals.PutLayer(approval.ApproverLayer{TypeID: "t-ot", Level: 1, Approver: approval.RoleSpec("hr-manager")})
	start := monday.Add(18 * time.Hour)
	ctx := context.Background()

	ot, flow, err := f.svc.SubmitOvertime(ctx, requests.OvertimeInput{
		EmployeeID: "emp-alice", Date: monday, StartsAt: start, EndsAt: start.Add(150 * time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, ot.Hours.Equal(entitlement.Days(2.5)))
	assert.Equal(t, approval.StatusPending, flow.Status)

	_, _, err = f.svc.SubmitOvertime(ctx, requests.OvertimeInput{EmployeeID: "emp-alice", Date: monday, StartsAt: start, EndsAt: start})
	assert.ErrorIs(t, err, requests.ErrInvalidHours)

	res := f.approveFirst(t, flow, "user-hr")
	assert.Equal(t, approval.StatusApproved, res.Status)
	loaded, ok := res.Subject.(requests.Overtime)
	require.True(t, ok)
	assert.Equal(t, ot.ID, loaded.ID)

	require.NoError(t, f.svc.DeleteOvertime(ctx, ot.ID))
}

func TestSubmitHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.SubmitHistory(ctx, requests.HistoryInput{EmployeeID: "emp-alice", Kind: "promotion", EffectiveDate: monday, ToUnit: "ops"})
	assert.ErrorIs(t, err, requests.ErrInvalidHistoryKind)

	_, _, err = f.svc.SubmitHistory(ctx, requests.HistoryInput{EmployeeID: "emp-alice", Kind: requests.HistoryTransfer, EffectiveDate: monday})
	assert.ErrorIs(t, err, requests.ErrMissingUnit)

	h, flow, err := f.svc.SubmitHistory(ctx, requests.HistoryInput{
		EmployeeID: "emp-alice", Kind: requests.HistoryTransfer, EffectiveDate: monday, FromUnit: "sales", ToUnit: "ops",
	})
	require.NoError(t, err)
	assert.Equal(t, approval.Approver{Kind: approval.ApproverRole, ID: "hr-manager"}, flow.First.Approver)

	_, err = f.svc.Decide(ctx, flow.First.ID, approval.Approve, "user-alice", "")
	assert.True(t, errors.Is(err, approval.ErrNotAuthorized))

	require.NoError(t, f.svc.DeleteHistory(ctx, h.ID))
	_, err = f.store.History(ctx, h.ID)
	assert.ErrorIs(t, err, requests.ErrRequestNotFound)
}
