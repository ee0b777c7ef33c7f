package approval_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/approval/memory"
	"github.com/warp/approval-engine/directory"
	"github.com/warp/approval-engine/lock"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	typeLeave    = "type-leave"
	typeOvertime = "type-overtime"
	roleHR       = "hr-manager"
)

type item struct {
	ref       approval.Ref
	requester string
}

func (i item) ApprovableRef() approval.Ref { return i.ref }
func (i item) RequesterID() string         { return i.requester }

func leave(id, requester string) item {
	return item{ref: approval.Ref{Kind: approval.KindLeaveRequest, ID: id}, requester: requester}
}

func overtime(id, requester string) item {
	return item{ref: approval.Ref{Kind: approval.KindOvertime, ID: id}, requester: requester}
}

type recorder struct {
	mu     sync.Mutex
	events []approval.Event
}

func (r *recorder) Publish(_ context.Context, ev approval.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.EventName())
	}
	return out
}

type fixture struct {
	engine *approval.Engine
	store  *memory.Store
	dir    *directory.Memory
	events *recorder
}

var now = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

// newFixture seeds two types and an org chart:
//
//	emp-boss (user-boss)  <- supervisor of emp-alice (user-alice)
//	emp-top  (user-top)   has no supervisor
//	user-hr1, user-hr2 hold hr-manager
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	store.PutType(approval.ApprovableType{ID: typeLeave, Name: "Leave", Kind: approval.KindLeaveRequest, Active: true})
	store.PutType(approval.ApprovableType{ID: typeOvertime, Name: "Overtime", Kind: approval.KindOvertime, Active: true})

	dir := directory.NewMemory()
	dir.PutEmployee(directory.Employee{ID: "emp-boss", Code: "B001", Name: "Boss", UserID: "user-boss"})
	dir.PutEmployee(directory.Employee{ID: "emp-alice", Code: "A001", Name: "Alice", UserID: "user-alice", SupervisorCode: "B001"})
	dir.PutEmployee(directory.Employee{ID: "emp-top", Code: "T001", Name: "Top", UserID: "user-top"})
	dir.Grant(roleHR, "user-hr1")
	dir.Grant(roleHR, "user-hr2")

	events := &recorder{}
	engine := approval.NewEngine(store, store, dir, dir)
	engine.Events = events
	engine.Now = func() time.Time { return now }

	return &fixture{engine: engine, store: store, dir: dir, events: events}
}

func (f *fixture) layers(typeID string, specs ...approval.ApproverSpec) {
	for i, spec := range specs {
		f.store.PutLayer(approval.ApproverLayer{TypeID: typeID, Level: i + 1, Approver: spec})
	}
}

func (f *fixture) status(t *testing.T, ref approval.Ref) approval.Status {
	t.Helper()
	st, err := f.engine.Status(context.Background(), ref)
	require.NoError(t, err)
	return st
}

// assertChainShape checks levels are exactly 1..k and at most one is pending.
func assertChainShape(t *testing.T, rows []approval.Approval) {
	t.Helper()
	pending := 0
	for i, a := range rows {
		assert.Equal(t, i+1, a.Level, "levels must be a gap-free prefix")
		if a.Pending() {
			pending++
		}
	}
	assert.LessOrEqual(t, pending, 1)
}

// =============================================================================
// FLOW CREATION
// =============================================================================

func TestCreateFlow_NoLayerAutoApproves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := leave("lr-1", "emp-alice")

	// GIVEN: no layer configured for the leave type
	// WHEN: the flow is created
	res, err := f.engine.CreateApprovalFlow(ctx, subject, "")
	require.NoError(t, err)

	// THEN: approved immediately with zero rows
	assert.Equal(t, approval.StatusApproved, res.Status)
	assert.Nil(t, res.First)
	rows, err := f.engine.Approvals(ctx, subject.ref)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, approval.StatusApproved, f.status(t, subject.ref))

	require.Len(t, f.events.events, 1)
	fin, ok := f.events.events[0].(approval.ApprovalFinalized)
	require.True(t, ok)
	assert.True(t, fin.Auto)
	assert.Equal(t, approval.StatusApproved, fin.Outcome)
}

func TestCreateFlow_ApprovalLineWithoutSupervisorAutoApproves(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.ApprovalLineSpec())
	subject := leave("lr-1", "emp-top")

	res, err := f.engine.CreateApprovalFlow(context.Background(), subject, "emp-top")
	require.NoError(t, err)

	assert.Equal(t, approval.StatusApproved, res.Status)
	assert.Nil(t, res.First)
	assert.Equal(t, approval.StatusApproved, f.status(t, subject.ref))
}

func TestCreateFlow_ApprovalLineResolvesSupervisorUser(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.ApprovalLineSpec())

	res, err := f.engine.CreateApprovalFlow(context.Background(), leave("lr-1", "emp-alice"), "emp-alice")
	require.NoError(t, err)

	require.NotNil(t, res.First)
	assert.Equal(t, approval.Approver{Kind: approval.ApproverUser, ID: "user-boss"}, res.First.Approver)
	assert.Equal(t, 1, res.First.Level)
	assert.Equal(t, approval.StatusPending, res.Status)
	assert.Equal(t, []string{"approval_advanced"}, f.events.names())
}

func TestCreateFlow_RoleLayerStoresRoleAndNotifiesHolders(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.RoleSpec(roleHR))

	res, err := f.engine.CreateApprovalFlow(context.Background(), leave("lr-1", "emp-alice"), "")
	require.NoError(t, err)

	require.NotNil(t, res.First)
	assert.Equal(t, approval.Approver{Kind: approval.ApproverRole, ID: roleHR}, res.First.Approver)
	adv, ok := f.events.events[0].(approval.ApprovalAdvanced)
	require.True(t, ok)
	assert.Equal(t, []string{"user-hr1", "user-hr2"}, adv.Recipients)
}

func TestCreateFlow_RejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.UserSpec("user-boss"))
	subject := leave("lr-1", "emp-alice")

	_, err := f.engine.CreateApprovalFlow(context.Background(), subject, "")
	require.NoError(t, err)

	_, err = f.engine.CreateApprovalFlow(context.Background(), subject, "")
	assert.ErrorIs(t, err, approval.ErrFlowExists)
	assert.True(t, approval.IsClientError(err))
}

func TestCreateFlow_UnknownOrInactiveType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateApprovalFlow(ctx, item{ref: approval.Ref{Kind: "payroll", ID: "x"}}, "emp-alice")
	assert.ErrorIs(t, err, approval.ErrUnknownApprovableType)

	// employee_history has no registered type in the fixture
	_, err = f.engine.CreateApprovalFlow(ctx, item{ref: approval.Ref{Kind: approval.KindEmployeeHistory, ID: "h"}}, "emp-alice")
	assert.ErrorIs(t, err, approval.ErrUnknownApprovableType)

	f.store.PutType(approval.ApprovableType{ID: typeOvertime, Kind: approval.KindOvertime, Active: false})
	_, err = f.engine.CreateApprovalFlow(ctx, overtime("ot-1", "emp-alice"), "")
	assert.ErrorIs(t, err, approval.ErrUnknownApprovableType)
}

// =============================================================================
// DECISIONS
// =============================================================================

func TestDecide_RoleAnyHolderFirstWins(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.RoleSpec(roleHR), approval.UserSpec("user-boss"))
	ctx := context.Background()
	subject := leave("lr-1", "emp-alice")

	res, err := f.engine.CreateApprovalFlow(ctx, subject, "")
	require.NoError(t, err)

	// WHEN: the second HR holder approves level 1
	out, err := f.engine.Decide(ctx, res.First.ID, approval.Approve, "user-hr2", "")
	require.NoError(t, err)

	// THEN: level 2 opens for the fixed user
	require.NotNil(t, out.Next)
	assert.Equal(t, 2, out.Next.Level)
	assert.Equal(t, approval.Approver{Kind: approval.ApproverUser, ID: "user-boss"}, out.Next.Approver)
	assert.Equal(t, approval.StatusPending, out.Status)
	assert.False(t, out.Finished)

	// AND: the other holder is too late
	_, err = f.engine.Decide(ctx, res.First.ID, approval.Approve, "user-hr1", "")
	var already *approval.AlreadyDecidedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, approval.StatusApproved, already.Status)
	assert.Equal(t, "user-hr2", already.DecidedBy)
}

func TestDecide_RoleMembershipCheckedAtDecisionTime(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.RoleSpec(roleHR))
	ctx := context.Background()

	res, err := f.engine.CreateApprovalFlow(ctx, leave("lr-1", "emp-alice"), "")
	require.NoError(t, err)

	// GIVEN: membership changes after the row was created
	f.dir.Revoke(roleHR, "user-hr1")
	f.dir.Grant(roleHR, "user-new")

	_, err = f.engine.Decide(ctx, res.First.ID, approval.Approve, "user-hr1", "")
	assert.ErrorIs(t, err, approval.ErrNotAuthorized)

	out, err := f.engine.Decide(ctx, res.First.ID, approval.Approve, "user-new", "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, out.Status)
}

func TestDecide_SingleLevelApprovedImmediately(t *testing.T) {
	f := newFixture(t)
	f.layers(typeOvertime, approval.RoleSpec(roleHR))
	ctx := context.Background()
	subject := overtime("ot-1", "emp-alice")

	res, err := f.engine.CreateApprovalFlow(ctx, subject, "")
	require.NoError(t, err)

	out, err := f.engine.Decide(ctx, res.First.ID, approval.Approve, "user-hr1", "ok")
	require.NoError(t, err)

	assert.Nil(t, out.Next)
	assert.True(t, out.Finished)
	assert.Equal(t, approval.StatusApproved, out.Status)
	assert.Equal(t, approval.StatusApproved, f.status(t, subject.ref))
	assert.Equal(t, []string{"approval_advanced", "approval_finalized"}, f.events.names())
}

func TestDecide_RejectIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.UserSpec("user-boss"), approval.RoleSpec(roleHR))
	ctx := context.Background()
	subject := leave("lr-1", "emp-alice")

	res, err := f.engine.CreateApprovalFlow(ctx, subject, "")
	require.NoError(t, err)

	out, err := f.engine.Decide(ctx, res.First.ID, approval.Reject, "user-boss", "no cover")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, out.Status)
	assert.Nil(t, out.Next)
	assert.Equal(t, "no cover", out.Decided.Note)

	// THEN: no further rows, repeated decisions fail
	rows, err := f.engine.Approvals(ctx, subject.ref)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = f.engine.Decide(ctx, res.First.ID, approval.Approve, "user-boss", "")
	assert.ErrorIs(t, err, approval.ErrAlreadyDecided)
	assert.Equal(t, approval.StatusRejected, f.status(t, subject.ref))
}

func TestDecide_ChainMonotonicity(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.ApprovalLineSpec(), approval.RoleSpec(roleHR), approval.UserSpec("user-top"))
	ctx := context.Background()
	subject := leave("lr-1", "emp-alice")

	res, err := f.engine.CreateApprovalFlow(ctx, subject, "")
	require.NoError(t, err)

	deciders := []string{"user-boss", "user-hr1", "user-top"}
	id := res.First.ID
	for i, who := range deciders {
		rows, err := f.engine.Approvals(ctx, subject.ref)
		require.NoError(t, err)
		assert.Len(t, rows, i+1)
		assertChainShape(t, rows)

		out, err := f.engine.Decide(ctx, id, approval.Approve, who, "")
		require.NoError(t, err)
		if out.Next != nil {
			id = out.Next.ID
		}
	}

	rows, err := f.engine.Approvals(ctx, subject.ref)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assertChainShape(t, rows)
	assert.Equal(t, approval.StatusApproved, f.status(t, subject.ref))
}

func TestDecide_LaterLevelWithoutApproverFinalizes(t *testing.T) {
	f := newFixture(t)
	// level 2 follows the approval line; the boss has no supervisor
	f.layers(typeLeave, approval.RoleSpec(roleHR), approval.ApprovalLineSpec())
	ctx := context.Background()

	res, err := f.engine.CreateApprovalFlow(ctx, leave("lr-1", "emp-boss"), "")
	require.NoError(t, err)

	out, err := f.engine.Decide(ctx, res.First.ID, approval.Approve, "user-hr1", "")
	require.NoError(t, err)
	assert.Nil(t, out.Next)
	assert.Equal(t, approval.StatusApproved, out.Status)
}

// racingStore lets another decision land between the engine's checks and
// its conditional write.
type racingStore struct {
	*memory.Store
	winner string
}

func (r racingStore) Decide(ctx context.Context, rec approval.DecisionRecord, next *approval.Approval) error {
	won := rec
	won.Status = approval.StatusRejected
	won.DecidedBy = r.winner
	if err := r.Store.Decide(ctx, won, nil); err != nil {
		return err
	}
	return r.Store.Decide(ctx, rec, next)
}

func TestDecide_LostConditionalWriteReportsWinner(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.RoleSpec(roleHR))
	ctx := context.Background()

	res, err := f.engine.CreateApprovalFlow(ctx, leave("lr-1", "emp-alice"), "")
	require.NoError(t, err)

	// GIVEN: user-hr2 decides just before user-hr1's write
	f.engine.Chains = racingStore{Store: f.store, winner: "user-hr2"}

	// WHEN: user-hr1 approves
	_, err = f.engine.Decide(ctx, res.First.ID, approval.Approve, "user-hr1", "")

	// THEN: the error names the winning decision
	var already *approval.AlreadyDecidedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, approval.StatusRejected, already.Status)
	assert.Equal(t, "user-hr2", already.DecidedBy)
	assert.Contains(t, err.Error(), "rejected by user-hr2")
}

func TestDecide_NotAuthorized(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.UserSpec("user-boss"))
	ctx := context.Background()

	res, err := f.engine.CreateApprovalFlow(ctx, leave("lr-1", "emp-alice"), "")
	require.NoError(t, err)

	_, err = f.engine.Decide(ctx, res.First.ID, approval.Approve, "user-alice", "")
	var notAuth *approval.NotAuthorizedError
	require.ErrorAs(t, err, &notAuth)
	assert.Equal(t, "user-alice", notAuth.UserID)
	assert.True(t, approval.IsClientError(err))

	// row untouched
	a, err := f.store.Approval(ctx, res.First.ID)
	require.NoError(t, err)
	assert.True(t, a.Pending())
}

func TestDecide_InvalidInput(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.UserSpec("user-boss"))
	ctx := context.Background()

	res, err := f.engine.CreateApprovalFlow(ctx, leave("lr-1", "emp-alice"), "")
	require.NoError(t, err)

	_, err = f.engine.Decide(ctx, res.First.ID, "maybe", "user-boss", "")
	assert.ErrorIs(t, err, approval.ErrInvalidDecision)

	_, err = f.engine.Decide(ctx, "missing", approval.Approve, "user-boss", "")
	assert.ErrorIs(t, err, approval.ErrApprovalNotFound)
	assert.True(t, approval.IsNotFound(err))

	f.engine.RequireRejectNote = true
	_, err = f.engine.Decide(ctx, res.First.ID, approval.Reject, "user-boss", "  ")
	assert.ErrorIs(t, err, approval.ErrNoteRequired)
}

func TestDecide_ConcurrentDecisionsAdvanceOnce(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.RoleSpec(roleHR), approval.UserSpec("user-boss"))
	ctx := context.Background()
	subject := leave("lr-1", "emp-alice")

	res, err := f.engine.CreateApprovalFlow(ctx, subject, "")
	require.NoError(t, err)

	// WHEN: the same holder double-submits
	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		errs      []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Decide(ctx, res.First.ID, approval.Approve, "user-hr1", "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	// THEN: exactly one wins, the rest are conflicts
	assert.Equal(t, 1, successes)
	for _, err := range errs {
		assert.True(t, errors.Is(err, approval.ErrAlreadyDecided) || approval.IsRetryable(err), "unexpected error: %v", err)
	}
	rows, err := f.engine.Approvals(ctx, subject.ref)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assertChainShape(t, rows)
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string, time.Duration) (lock.Unlock, error) {
	return nil, lock.ErrTimeout
}

func TestDecide_LockTimeoutIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.UserSpec("user-boss"))
	ctx := context.Background()

	res, err := f.engine.CreateApprovalFlow(ctx, leave("lr-1", "emp-alice"), "")
	require.NoError(t, err)

	f.engine.Locker = busyLocker{}
	_, err = f.engine.Decide(ctx, res.First.ID, approval.Approve, "user-boss", "")
	assert.True(t, approval.IsRetryable(err))
	assert.False(t, approval.IsClientError(err))
}

func TestDecide_PublishFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.UserSpec("user-boss"))
	f.engine.Events = approval.PublisherFunc(func(context.Context, approval.Event) error {
		return errors.New("broker down")
	})
	ctx := context.Background()

	res, err := f.engine.CreateApprovalFlow(ctx, leave("lr-1", "emp-alice"), "")
	require.NoError(t, err)

	out, err := f.engine.Decide(ctx, res.First.ID, approval.Approve, "user-boss", "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, out.Status)
}

func TestDecide_ReturnsUpdatedSubject(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.UserSpec("user-boss"))
	ctx := context.Background()
	subject := leave("lr-1", "emp-alice")
	f.engine.Subjects.Register(approval.KindLeaveRequest, approval.LoaderFunc(func(_ context.Context, id string) (approval.Approvable, error) {
		return leave(id, "emp-alice"), nil
	}))

	res, err := f.engine.CreateApprovalFlow(ctx, subject, "")
	require.NoError(t, err)

	out, err := f.engine.Decide(ctx, res.First.ID, approval.Approve, "user-boss", "")
	require.NoError(t, err)
	require.NotNil(t, out.Subject)
	assert.Equal(t, subject.ref, out.Subject.ApprovableRef())
}

// =============================================================================
// READS
// =============================================================================

func TestStatus_NoFlowIsAwaiting(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, approval.StatusPending, f.status(t, approval.Ref{Kind: approval.KindLeaveRequest, ID: "none"}))
}

func TestPendingFor_UserAndRoleRows(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.ApprovalLineSpec())
	f.layers(typeOvertime, approval.RoleSpec(roleHR))
	ctx := context.Background()

	_, err := f.engine.CreateApprovalFlow(ctx, leave("lr-1", "emp-alice"), "")
	require.NoError(t, err)
	_, err = f.engine.CreateApprovalFlow(ctx, overtime("ot-1", "emp-alice"), "")
	require.NoError(t, err)

	boss, err := f.engine.PendingFor(ctx, "user-boss")
	require.NoError(t, err)
	require.Len(t, boss, 1)
	assert.Equal(t, "lr-1", boss[0].Ref.ID)

	hr, err := f.engine.PendingFor(ctx, "user-hr1")
	require.NoError(t, err)
	require.Len(t, hr, 1)
	assert.Equal(t, "ot-1", hr[0].Ref.ID)

	// GIVEN: the boss also holds HR
	f.dir.Grant(roleHR, "user-boss")
	boss, err = f.engine.PendingFor(ctx, "user-boss")
	require.NoError(t, err)
	assert.Len(t, boss, 2)
}

func TestDiscard_RemovesChain(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.UserSpec("user-boss"))
	ctx := context.Background()
	subject := leave("lr-1", "emp-alice")

	res, err := f.engine.CreateApprovalFlow(ctx, subject, "")
	require.NoError(t, err)

	require.NoError(t, f.engine.Discard(ctx, subject.ref))

	rows, err := f.engine.Approvals(ctx, subject.ref)
	require.NoError(t, err)
	assert.Empty(t, rows)
	_, err = f.store.Approval(ctx, res.First.ID)
	assert.ErrorIs(t, err, approval.ErrApprovalNotFound)

	// a new flow may be started afterwards
	_, err = f.engine.CreateApprovalFlow(ctx, subject, "")
	assert.NoError(t, err)
}

func TestSubject_BindsChainOperations(t *testing.T) {
	f := newFixture(t)
	f.layers(typeLeave, approval.UserSpec("user-boss"))
	ctx := context.Background()
	s := f.engine.Bind(leave("lr-1", "emp-alice"))

	res, err := s.CreateFlow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "emp-alice", res.Flow.RequesterID)

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, st)

	rows, err := s.Approvals(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
