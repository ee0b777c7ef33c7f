package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/attendance"
	"github.com/warp/approval-engine/directory"
	"github.com/warp/approval-engine/entitlement"
	"github.com/warp/approval-engine/requests"
	"github.com/warp/approval-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	ctx    = context.Background()
	now    = time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)
	monday = entitlement.Date(2025, time.March, 3)
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seed registers the leave type with a single approval-line level and an
// org chart of emp-boss over emp-alice.
func seed(t *testing.T, s *sqlite.Store) {
	t.Helper()
	require.NoError(t, s.SaveApprovableType(ctx, approval.ApprovableType{ID: "t-leave", Name: "Leave", Kind: approval.KindLeaveRequest, Active: true}))
	require.NoError(t, s.SaveLayer(ctx, approval.ApproverLayer{TypeID: "t-leave", Level: 1, Approver: approval.ApprovalLineSpec()}))

	join := entitlement.Date(2020, time.January, 6)
	require.NoError(t, s.SaveEmployee(ctx, directory.Employee{ID: "emp-boss", Code: "B001", Name: "Boss", UserID: "user-boss"}))
	require.NoError(t, s.SaveEmployee(ctx, directory.Employee{
		ID: "emp-alice", Code: "A001", Name: "Alice", UserID: "user-alice", SupervisorCode: "B001", JoinDate: &join,
	}))
	require.NoError(t, s.SaveCategory(ctx, entitlement.LeaveCategory{
		ID: "cat-annual", Code: "ANNUAL", Name: "Annual", Paid: true, DeductBalance: true, HalfDayAllowed: true,
		WeekendRule: entitlement.RuleWorkdays, BaseQuotaDays: entitlement.DaysPtr(12),
	}))
}

func pendingRow(id string, ref approval.Ref, level int) *approval.Approval {
	return &approval.Approval{
		ID:        id,
		Ref:       ref,
		Level:     level,
		Approver:  approval.Approver{Kind: approval.ApproverUser, ID: "user-boss"},
		Status:    approval.StatusPending,
		CreatedAt: now,
	}
}

// =============================================================================
// APPROVAL CONFIGURATION
// =============================================================================

func TestApprovalConfig(t *testing.T) {
	s := newStore(t)
	seed(t, s)

	typ, err := s.ApprovableType(ctx, approval.KindLeaveRequest)
	require.NoError(t, err)
	assert.Equal(t, "t-leave", typ.ID)
	assert.True(t, typ.Active)

	_, err = s.ApprovableType(ctx, approval.KindOvertime)
	assert.ErrorIs(t, err, approval.ErrUnknownApprovableType)

	layer, err := s.Layer(ctx, "t-leave", 1)
	require.NoError(t, err)
	assert.Equal(t, approval.ApproverApprovalLine, layer.Approver.Kind)
	assert.Equal(t, "t-leave-1", layer.ID)

	_, err = s.Layer(ctx, "t-leave", 2)
	assert.ErrorIs(t, err, approval.ErrNoLayerConfigured)

	// Saving the same level again replaces the approver.
	require.NoError(t, s.SaveLayer(ctx, approval.ApproverLayer{TypeID: "t-leave", Level: 1, Approver: approval.RoleSpec("hr")}))
	layer, err = s.Layer(ctx, "t-leave", 1)
	require.NoError(t, err)
	assert.Equal(t, approval.RoleSpec("hr"), layer.Approver)
}

// =============================================================================
// APPROVAL CHAINS
// =============================================================================

func TestChain_CreateFlowOnce(t *testing.T) {
	s := newStore(t)
	ref := approval.Ref{Kind: approval.KindLeaveRequest, ID: "lr-1"}
	flow := approval.Flow{Ref: ref, TypeID: "t-leave", RequesterID: "emp-alice", CreatedAt: now}

	require.NoError(t, s.CreateFlow(ctx, flow, pendingRow("a1", ref, 1)))
	assert.ErrorIs(t, s.CreateFlow(ctx, flow, nil), approval.ErrFlowExists)

	got, err := s.Flow(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "emp-alice", got.RequesterID)
	assert.True(t, got.CreatedAt.Equal(now))

	rows, err := s.Approvals(ctx, ref)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, approval.StatusPending, rows[0].Status)
	assert.Nil(t, rows[0].DecidedAt)
}

func TestChain_DecideIsConditional(t *testing.T) {
	// GIVEN: a pending level 1
	s := newStore(t)
	ref := approval.Ref{Kind: approval.KindLeaveRequest, ID: "lr-1"}
	require.NoError(t, s.CreateFlow(ctx, approval.Flow{Ref: ref, TypeID: "t-leave", CreatedAt: now}, pendingRow("a1", ref, 1)))

	// WHEN: it is approved and level 2 inserted in the same write
	at := now.Add(time.Hour)
	rec := approval.DecisionRecord{ApprovalID: "a1", Status: approval.StatusApproved, DecidedBy: "user-boss", DecidedAt: at, Note: "ok"}
	require.NoError(t, s.Decide(ctx, rec, pendingRow("a2", ref, 2)))

	// THEN: both rows are visible, and a second decision is refused
	rows, err := s.Approvals(ctx, ref)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, approval.StatusApproved, rows[0].Status)
	require.NotNil(t, rows[0].DecidedAt)
	assert.True(t, rows[0].DecidedAt.Equal(at))
	assert.Equal(t, "ok", rows[0].Note)
	assert.Equal(t, 2, rows[1].Level)

	rec.Status = approval.StatusRejected
	assert.ErrorIs(t, s.Decide(ctx, rec, nil), approval.ErrAlreadyDecided)

	rec.ApprovalID = "missing"
	assert.ErrorIs(t, s.Decide(ctx, rec, nil), approval.ErrApprovalNotFound)
}

func TestChain_FailedInsertRollsBackDecision(t *testing.T) {
	s := newStore(t)
	ref := approval.Ref{Kind: approval.KindLeaveRequest, ID: "lr-1"}
	require.NoError(t, s.CreateFlow(ctx, approval.Flow{Ref: ref, TypeID: "t-leave", CreatedAt: now}, pendingRow("a1", ref, 1)))

	// Level 1 again violates (kind, ref_id, level) uniqueness.
	rec := approval.DecisionRecord{ApprovalID: "a1", Status: approval.StatusApproved, DecidedBy: "user-boss", DecidedAt: now}
	require.Error(t, s.Decide(ctx, rec, pendingRow("a1-dup", ref, 1)))

	row, err := s.Approval(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, row.Status)
}

func TestChain_PendingForApprovers(t *testing.T) {
	s := newStore(t)
	for i, id := range []string{"lr-1", "lr-2", "lr-3"} {
		ref := approval.Ref{Kind: approval.KindLeaveRequest, ID: id}
		row := pendingRow("a-"+id, ref, 1)
		row.CreatedAt = now.Add(time.Duration(3-i) * time.Minute)
		if id == "lr-3" {
			row.Approver = approval.Approver{Kind: approval.ApproverRole, ID: "hr"}
		}
		require.NoError(t, s.CreateFlow(ctx, approval.Flow{Ref: ref, TypeID: "t-leave", CreatedAt: now}, row))
	}

	rows, err := s.PendingForApprovers(ctx, []approval.Approver{
		{Kind: approval.ApproverUser, ID: "user-boss"},
		{Kind: approval.ApproverRole, ID: "hr"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a-lr-3", rows[0].ID, "oldest first")

	rows, err = s.PendingForApprovers(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestChain_DeleteFlow(t *testing.T) {
	s := newStore(t)
	ref := approval.Ref{Kind: approval.KindLeaveRequest, ID: "lr-1"}
	require.NoError(t, s.CreateFlow(ctx, approval.Flow{Ref: ref, TypeID: "t-leave", CreatedAt: now}, pendingRow("a1", ref, 1)))

	require.NoError(t, s.DeleteFlow(ctx, ref))

	_, err := s.Flow(ctx, ref)
	assert.ErrorIs(t, err, approval.ErrFlowNotFound)
	_, err = s.Approval(ctx, "a1")
	assert.ErrorIs(t, err, approval.ErrApprovalNotFound)
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestDirectory(t *testing.T) {
	s := newStore(t)
	seed(t, s)

	alice, err := s.EmployeeByCode(ctx, "A001")
	require.NoError(t, err)
	assert.Equal(t, "emp-alice", alice.ID)
	assert.Equal(t, "B001", alice.SupervisorCode)
	require.NotNil(t, alice.JoinDate)
	assert.True(t, alice.JoinDate.Equal(entitlement.Date(2020, time.January, 6)))
	assert.Nil(t, alice.ResignDate)

	_, err = s.Employee(ctx, "nobody")
	assert.ErrorIs(t, err, directory.ErrEmployeeNotFound)

	require.NoError(t, s.GrantRole(ctx, "hr", "user-2"))
	require.NoError(t, s.GrantRole(ctx, "hr", "user-1"))
	require.NoError(t, s.GrantRole(ctx, "hr", "user-1"))

	users, err := s.UsersWithRole(ctx, "hr")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", "user-2"}, users)

	require.NoError(t, s.RevokeRole(ctx, "hr", "user-2"))
	has, err := s.UserHasRole(ctx, "user-2", "hr")
	require.NoError(t, err)
	assert.False(t, has)

	roles, err := s.RolesOfUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"hr"}, roles)
}

// =============================================================================
// ENTITLEMENTS
// =============================================================================

func TestCategory_RoundTrip(t *testing.T) {
	s := newStore(t)
	months := 3
	require.NoError(t, s.SaveCategory(ctx, entitlement.LeaveCategory{
		ID: "cat-x", Code: "X", Name: "X", DeductBalance: true, WeekendRule: entitlement.RuleCalendar,
		BaseQuotaDays: entitlement.DaysPtr(10.5), CarryoverMaxDays: entitlement.DaysPtr(5),
		CarryoverExpiryMonths: &months, Defaults: map[string]string{"marriage": "3"},
	}))

	got, err := s.Category(ctx, "cat-x")
	require.NoError(t, err)
	require.NotNil(t, got.BaseQuotaDays)
	assert.Equal(t, "10.5", got.BaseQuotaDays.String())
	assert.Equal(t, "5", got.CarryoverMaxDays.String())
	assert.Equal(t, 3, *got.CarryoverExpiryMonths)
	assert.Equal(t, entitlement.RuleCalendar, got.WeekendRule)
	assert.Equal(t, "3", got.Defaults["marriage"])

	_, err = s.Category(ctx, "cat-missing")
	assert.ErrorIs(t, err, entitlement.ErrCategoryNotFound)
}

func TestEntitlement_UpsertKeepsID(t *testing.T) {
	s := newStore(t)
	e := entitlement.LeaveEntitlement{
		ID: "ent-1", EmployeeID: "emp-alice", CategoryID: "cat-annual", Period: "2025",
		Accrual: entitlement.Days(12), Closing: entitlement.Days(12), ComputedAt: now,
	}
	_, err := s.UpsertEntitlement(ctx, e)
	require.NoError(t, err)

	e.ID = "ent-2"
	e.Consumed = entitlement.Days(2.5)
	e.Closing = entitlement.Days(9.5)
	stored, err := s.UpsertEntitlement(ctx, e)
	require.NoError(t, err)

	assert.Equal(t, "ent-1", stored.ID)
	assert.True(t, stored.Closing.Equal(entitlement.Days(9.5)))
	assert.True(t, stored.Consumed.Equal(entitlement.Days(2.5)))
	assert.Nil(t, stored.ExpiresAt)

	_, err = s.Entitlement(ctx, "emp-alice", "cat-annual", "2024")
	assert.ErrorIs(t, err, entitlement.ErrEntitlementNotFound)
}

func TestHolidays_RecurringMoveIntoYear(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SaveHoliday(ctx, "h1", entitlement.Holiday{Date: entitlement.Date(2020, time.August, 17), Name: "Independence", Recurring: true}))
	require.NoError(t, s.SaveHoliday(ctx, "h2", entitlement.Holiday{Date: entitlement.Date(2025, time.March, 31), Name: "Eid"}))
	require.NoError(t, s.SaveHoliday(ctx, "h3", entitlement.Holiday{Date: entitlement.Date(2026, time.March, 20), Name: "Eid"}))

	got, err := s.HolidaysIn(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, got, 2)
	set := entitlement.NewDateSet(got)
	assert.True(t, set.Has(entitlement.Date(2025, time.August, 17)))
	assert.True(t, set.Has(entitlement.Date(2025, time.March, 31)))
}

// =============================================================================
// REQUESTS AND DERIVED APPROVED LEAVE
// =============================================================================

func leaveRow(id string, start time.Time, days int) requests.LeaveRequest {
	return requests.LeaveRequest{
		ID: id, EmployeeID: "emp-alice", CategoryID: "cat-annual",
		Start: start, End: start.AddDate(0, 0, days-1),
		Days: entitlement.Days(float64(days)), CreatedAt: now, UpdatedAt: now,
	}
}

func TestApprovedLeaves_DerivedFromChain(t *testing.T) {
	// GIVEN: three requests, only one with a finished approved chain
	s := newStore(t)
	approved := leaveRow("lr-approved", monday, 2)
	pending := leaveRow("lr-pending", monday.AddDate(0, 0, 7), 1)
	noFlow := leaveRow("lr-noflow", monday.AddDate(0, 0, 14), 1)
	for _, r := range []requests.LeaveRequest{approved, pending, noFlow} {
		require.NoError(t, s.CreateLeaveRequest(ctx, r))
	}

	for _, r := range []requests.LeaveRequest{approved, pending} {
		ref := r.ApprovableRef()
		require.NoError(t, s.CreateFlow(ctx, approval.Flow{Ref: ref, TypeID: "t-leave", CreatedAt: now}, pendingRow("a-"+r.ID, ref, 1)))
	}
	require.NoError(t, s.Decide(ctx, approval.DecisionRecord{
		ApprovalID: "a-lr-approved", Status: approval.StatusApproved, DecidedBy: "user-boss", DecidedAt: now,
	}, nil))

	// WHEN: approved leave is listed for the year
	spans, err := s.ApprovedLeaves(ctx, "emp-alice", "cat-annual", entitlement.StartOfYear(2025), entitlement.EndOfYear(2025))

	// THEN: only the approved chain counts
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "lr-approved", spans[0].RequestID)
	assert.True(t, spans[0].Start.Equal(monday))
	assert.True(t, spans[0].End.Equal(monday.AddDate(0, 0, 1)))
}

func TestLeaveRequests_UpdateAndDelete(t *testing.T) {
	s := newStore(t)
	r := leaveRow("lr-1", monday, 3)
	require.NoError(t, s.CreateLeaveRequest(ctx, r))

	r.HalfDay = true
	r.Days = entitlement.Days(0.5)
	r.End = r.Start
	require.NoError(t, s.UpdateLeaveRequest(ctx, r))

	got, err := s.LeaveRequest(ctx, "lr-1")
	require.NoError(t, err)
	assert.True(t, got.HalfDay)
	assert.Equal(t, "0.5", got.Days.String())

	list, err := s.LeaveRequestsFor(ctx, "emp-alice", "cat-annual")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteLeaveRequest(ctx, "lr-1"))
	_, err = s.LeaveRequest(ctx, "lr-1")
	assert.ErrorIs(t, err, requests.ErrRequestNotFound)
	assert.ErrorIs(t, s.UpdateLeaveRequest(ctx, r), requests.ErrRequestNotFound)
}

func TestOvertimeAndHistory_RoundTrip(t *testing.T) {
	s := newStore(t)
	ot := requests.Overtime{
		ID: "ot-1", EmployeeID: "emp-alice", Date: monday,
		StartsAt: monday.Add(18 * time.Hour), EndsAt: monday.Add(20*time.Hour + 30*time.Minute),
		Hours: entitlement.Days(2.5), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateOvertime(ctx, ot))
	gotOT, err := s.Overtime(ctx, "ot-1")
	require.NoError(t, err)
	assert.Equal(t, "2.5", gotOT.Hours.String())
	assert.True(t, gotOT.EndsAt.Equal(ot.EndsAt))

	h := requests.EmployeeHistory{
		ID: "h-1", EmployeeID: "emp-alice", Kind: requests.HistoryTransfer, EffectiveDate: monday,
		FromUnit: "Jakarta", ToUnit: "Bandung", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateHistory(ctx, h))
	gotH, err := s.History(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, requests.HistoryTransfer, gotH.Kind)
	assert.Equal(t, "Bandung", gotH.ToUnit)

	require.NoError(t, s.DeleteOvertime(ctx, "ot-1"))
	_, err = s.Overtime(ctx, "ot-1")
	assert.ErrorIs(t, err, requests.ErrRequestNotFound)
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func TestAttendance_OneRecordPerDay(t *testing.T) {
	s := newStore(t)
	in := monday.Add(8 * time.Hour)
	rec := attendance.Record{ID: "r1", EmployeeID: "emp-alice", Date: monday, CheckIn: in}
	require.NoError(t, s.CreateRecord(ctx, rec))

	rec.ID = "r2"
	assert.ErrorIs(t, s.CreateRecord(ctx, rec), attendance.ErrAlreadyCheckedIn)

	out := monday.Add(17 * time.Hour)
	require.NoError(t, s.CloseRecord(ctx, "r1", out))
	got, err := s.RecordFor(ctx, "emp-alice", monday)
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour, got.Worked())

	list, err := s.RecordsBetween(ctx, "emp-alice", monday.AddDate(0, 0, -1), monday)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, s.CloseRecord(ctx, "missing", out), attendance.ErrRecordNotFound)
}

// =============================================================================
// END TO END
// =============================================================================

func TestEndToEnd_LeaveApprovalUpdatesBalance(t *testing.T) {
	// GIVEN: the engines wired to one SQLite store
	s := newStore(t)
	seed(t, s)

	approvals := approval.NewEngine(s, s, s, s)
	approvals.Now = func() time.Time { return now }
	requests.RegisterLoaders(approvals.Subjects, s)

	ents := entitlement.NewEngine(s, s, s, s)
	ents.Holidays = s
	ents.Now = func() time.Time { return now }
	ents.StaleAfter = 0

	svc := requests.NewService(s, approvals, ents)
	svc.Now = func() time.Time { return now }

	// WHEN: alice asks for three workdays and her supervisor approves
	req, flow, err := svc.SubmitLeave(ctx, requests.LeaveInput{
		EmployeeID: "emp-alice", CategoryID: "cat-annual", Start: monday, End: monday.AddDate(0, 0, 2),
	})
	require.NoError(t, err)
	require.NotNil(t, flow.First)
	assert.Equal(t, approval.Approver{Kind: approval.ApproverUser, ID: "user-boss"}, flow.First.Approver)

	res, err := svc.Decide(ctx, flow.First.ID, approval.Approve, "user-boss", "")
	require.NoError(t, err)

	// THEN: the chain is approved and the balance reflects it
	assert.Equal(t, approval.StatusApproved, res.Status)
	got, err := ents.Current(ctx, req.EmployeeID, req.CategoryID, 2025)
	require.NoError(t, err)
	assert.True(t, got.Consumed.Equal(entitlement.Days(3)), "consumed %s", got.Consumed)
	assert.True(t, got.Closing.Equal(entitlement.Days(9)), "closing %s", got.Closing)
}
