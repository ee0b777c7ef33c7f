/*
engine.go - Approval flow state machine

PURPOSE:
  Drives one approvable through its chain:

    NoFlow ──create──▶ Level(1)Pending ──approve──▶ Level(2)Pending ─ … ─▶ Approved
       │                      │
       │ (no layer /          └──reject──▶ Rejected
       │  no approver)
       └──────────────▶ Approved

LAZY LEVELS:
  Only level 1 is created with the flow. Level n+1 is resolved and
  inserted when level n is approved, against the requester captured in
  the Flow at creation. This lets approval-line layers follow the
  requester's supervisor as it stands when the level opens.

AUTO-SKIP POLICY:
  When a level resolves to ErrNoLayerConfigured or ErrNoApproverFound the
  chain ends there and the approvable is approved. At level 1 this means
  no human review at all. See DESIGN.md for the rationale.

CONCURRENCY:
  Flow creation, decisions and discards hold the advisory lock keyed by
  the approvable. The store's conditional Decide is the second guard: a
  row that is no longer pending is never overwritten.

EVENTS:
  ApprovalAdvanced when a level opens, ApprovalFinalized when the chain
  ends. Publishing failures are logged, never returned.
*/
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/approval-engine/directory"
	"github.com/warp/approval-engine/lock"
)

// DefaultLockWait bounds how long a decision waits for a busy chain.
const DefaultLockWait = 3 * time.Second

// Engine is the approval flow engine.
type Engine struct {
	Config   ConfigStore
	Chains   ChainStore
	Resolver *Resolver
	Roles    directory.Roles
	Subjects *Registry
	Locker   lock.Locker
	Events   Publisher
	Log      zerolog.Logger

	LockWait          time.Duration
	RequireRejectNote bool

	Now   func() time.Time
	NewID func() string
}

// NewEngine wires an engine with an in-process locker and no event sink.
func NewEngine(config ConfigStore, chains ChainStore, employees directory.Employees, roles directory.Roles) *Engine {
	return &Engine{
		Config: config,
		Chains: chains,
		Resolver: &Resolver{
			Config:    config,
			Employees: employees,
			Roles:     roles,
		},
		Roles:    roles,
		Subjects: NewRegistry(),
		Locker:   lock.NewMemory(),
		Log:      zerolog.Nop(),
		LockWait: DefaultLockWait,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// FlowResult describes a freshly created flow.
type FlowResult struct {
	Flow   Flow
	First  *Approval // nil when auto-approved
	Status Status
}

// DecideResult describes the chain after a decision.
type DecideResult struct {
	Subject  Approvable // nil if the kind has no registered loader
	Decided  Approval
	Next     *Approval
	Status   Status
	Finished bool
}

// =============================================================================
// FLOW CREATION
// =============================================================================

// CreateApprovalFlow starts the chain for subject on behalf of requesterID.
// When requesterID is empty the subject's own requester is used.
func (e *Engine) CreateApprovalFlow(ctx context.Context, subject Approvable, requesterID string) (*FlowResult, error) {
	ref := subject.ApprovableRef()
	if requesterID == "" {
		requesterID = subject.RequesterID()
	}
	if !ref.Kind.Valid() {
		return nil, fmt.Errorf("kind %q: %w", ref.Kind, ErrUnknownApprovableType)
	}

	typ, err := e.Config.ApprovableType(ctx, ref.Kind)
	if err != nil {
		return nil, err
	}
	if !typ.Active {
		return nil, fmt.Errorf("type %s inactive: %w", typ.ID, ErrUnknownApprovableType)
	}

	unlock, err := e.acquire(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := e.Chains.Flow(ctx, ref); err == nil {
		return nil, fmt.Errorf("%s: %w", ref, ErrFlowExists)
	} else if !errors.Is(err, ErrFlowNotFound) {
		return nil, err
	}

	now := e.Now()
	flow := Flow{Ref: ref, TypeID: typ.ID, RequesterID: requesterID, CreatedAt: now}

	res, err := e.Resolver.Resolve(ctx, typ.ID, 1, requesterID)
	if err != nil && !endsChain(err) {
		return nil, fmt.Errorf("resolve level 1 for %s: %w", ref, err)
	}

	var first *Approval
	if err == nil {
		first = e.newApproval(ref, res, now)
	}

	if err := e.Chains.CreateFlow(ctx, flow, first); err != nil {
		return nil, err
	}

	if first == nil {
		e.Log.Info().
			Str("approvable", ref.String()).
			Str("requester_id", requesterID).
			AnErr("reason", err).
			Msg("No approver for level 1; approvable auto-approved")
		e.publish(ctx, ApprovalFinalized{
			Ref:         ref,
			Outcome:     StatusApproved,
			RequesterID: requesterID,
			Auto:        true,
			At:          now,
		})
		return &FlowResult{Flow: flow, Status: StatusApproved}, nil
	}

	e.Log.Info().
		Str("approvable", ref.String()).
		Str("approval_id", first.ID).
		Str("approver", first.Approver.String()).
		Msg("Approval flow created")
	e.publish(ctx, ApprovalAdvanced{
		Ref:        ref,
		NewLevel:   1,
		Approver:   first.Approver,
		Recipients: res.Recipients,
		At:         now,
	})
	return &FlowResult{Flow: flow, First: first, Status: StatusPending}, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// Decide applies decision to the pending approval approvalID on behalf of userID.
func (e *Engine) Decide(ctx context.Context, approvalID string, decision Decision, userID, note string) (*DecideResult, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("%q: %w", decision, ErrInvalidDecision)
	}
	if decision == Reject && e.RequireRejectNote && strings.TrimSpace(note) == "" {
		return nil, ErrNoteRequired
	}

	row, err := e.Chains.Approval(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	unlock, err := e.acquire(ctx, row.Ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock; the first read only told us which chain to lock.
	row, err = e.Chains.Approval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if !row.Pending() {
		return nil, &AlreadyDecidedError{ApprovalID: row.ID, Status: row.Status, DecidedBy: row.DecidedBy}
	}

	ok, err := e.canDecide(ctx, row, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &NotAuthorizedError{ApprovalID: row.ID, UserID: userID, Approver: row.Approver}
	}

	flow, err := e.Chains.Flow(ctx, row.Ref)
	if err != nil {
		return nil, err
	}

	now := e.Now()
	rec := DecisionRecord{
		ApprovalID: row.ID,
		Status:     StatusRejected,
		DecidedBy:  userID,
		DecidedAt:  now,
		Note:       note,
	}

	var (
		next       *Approval
		recipients []string
	)
	if decision == Approve {
		rec.Status = StatusApproved
		res, err := e.Resolver.Resolve(ctx, flow.TypeID, row.Level+1, flow.RequesterID)
		switch {
		case err == nil:
			next = e.newApproval(row.Ref, res, now)
			recipients = res.Recipients
		case endsChain(err):
			e.Log.Debug().Str("approvable", row.Ref.String()).Int("level", row.Level+1).AnErr("reason", err).Msg("Chain ends")
		default:
			return nil, fmt.Errorf("resolve level %d for %s: %w", row.Level+1, row.Ref, err)
		}
	}

	if err := e.Chains.Decide(ctx, rec, next); err != nil {
		if errors.Is(err, ErrAlreadyDecided) {
			// Lost the conditional write; report who won.
			already := &AlreadyDecidedError{ApprovalID: row.ID}
			if cur, rerr := e.Chains.Approval(ctx, row.ID); rerr == nil {
				already.Status, already.DecidedBy = cur.Status, cur.DecidedBy
			}
			return nil, already
		}
		return nil, err
	}

	row.Status = rec.Status
	row.DecidedAt = &now
	row.DecidedBy = userID
	row.Note = note

	rows, err := e.Chains.Approvals(ctx, row.Ref)
	if err != nil {
		return nil, err
	}
	result := &DecideResult{
		Decided: row,
		Next:    next,
		Status:  DeriveStatus(true, rows),
	}
	result.Finished = result.Status.Terminal()
	result.Subject = e.loadSubject(ctx, row.Ref)

	e.Log.Info().
		Str("approvable", row.Ref.String()).
		Str("approval_id", row.ID).
		Int("level", row.Level).
		Str("decision", string(decision)).
		Str("decided_by", userID).
		Str("status", string(result.Status)).
		Msg("Approval decided")

	if next != nil {
		e.publish(ctx, ApprovalAdvanced{
			Ref:        row.Ref,
			NewLevel:   next.Level,
			Approver:   next.Approver,
			Recipients: recipients,
			At:         now,
		})
	} else {
		e.publish(ctx, ApprovalFinalized{
			Ref:         row.Ref,
			Outcome:     result.Status,
			Level:       row.Level,
			DecidedBy:   userID,
			RequesterID: flow.RequesterID,
			At:          now,
		})
	}
	return result, nil
}

// =============================================================================
// READS
// =============================================================================

// Status returns the derived approval status of ref.
func (e *Engine) Status(ctx context.Context, ref Ref) (Status, error) {
	exists := true
	if _, err := e.Chains.Flow(ctx, ref); err != nil {
		if !errors.Is(err, ErrFlowNotFound) {
			return "", err
		}
		exists = false
	}
	rows, err := e.Chains.Approvals(ctx, ref)
	if err != nil {
		return "", err
	}
	return DeriveStatus(exists, rows), nil
}

// Approvals returns ref's rows ordered by level.
func (e *Engine) Approvals(ctx context.Context, ref Ref) ([]Approval, error) {
	return e.Chains.Approvals(ctx, ref)
}

// PendingFor lists pending rows userID may decide: rows addressed to the
// user directly and rows addressed to any role the user holds.
func (e *Engine) PendingFor(ctx context.Context, userID string) ([]Approval, error) {
	approvers := []Approver{{Kind: ApproverUser, ID: userID}}
	roles, err := e.Roles.RolesOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		approvers = append(approvers, Approver{Kind: ApproverRole, ID: r})
	}
	return e.Chains.PendingForApprovers(ctx, approvers)
}

// Discard deletes ref's flow and rows. Call when the approvable is deleted.
func (e *Engine) Discard(ctx context.Context, ref Ref) error {
	unlock, err := e.acquire(ctx, ref)
	if err != nil {
		return err
	}
	defer unlock()
	return e.Chains.DeleteFlow(ctx, ref)
}

// =============================================================================
// APPROVABLE BINDING
// =============================================================================

// Subject binds an approvable to the engine, giving it the chain behavior
// every request type shares.
type Subject struct {
	engine *Engine
	item   Approvable
}

// Bind returns the chain operations for item.
func (e *Engine) Bind(item Approvable) Subject {
	return Subject{engine: e, item: item}
}

// CreateFlow starts item's chain with item's own requester.
func (s Subject) CreateFlow(ctx context.Context) (*FlowResult, error) {
	return s.engine.CreateApprovalFlow(ctx, s.item, s.item.RequesterID())
}

// Status returns item's derived approval status.
func (s Subject) Status(ctx context.Context) (Status, error) {
	return s.engine.Status(ctx, s.item.ApprovableRef())
}

// Approvals returns item's rows ordered by level.
func (s Subject) Approvals(ctx context.Context) ([]Approval, error) {
	return s.engine.Approvals(ctx, s.item.ApprovableRef())
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) acquire(ctx context.Context, ref Ref) (lock.Unlock, error) {
	wait := e.LockWait
	if wait <= 0 {
		wait = DefaultLockWait
	}
	unlock, err := e.Locker.Acquire(ctx, lock.Key("approval", string(ref.Kind), ref.ID), wait)
	if err != nil {
		if lock.IsTimeout(err) {
			e.Log.Warn().Str("approvable", ref.String()).Msg("Approval chain busy; lock not acquired")
		}
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return unlock, nil
}

func (e *Engine) canDecide(ctx context.Context, row Approval, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	switch row.Approver.Kind {
	case ApproverUser:
		return row.Approver.ID == userID, nil
	case ApproverRole:
		return e.Roles.UserHasRole(ctx, userID, row.Approver.ID)
	default:
		return false, nil
	}
}

func (e *Engine) newApproval(ref Ref, res Resolution, now time.Time) *Approval {
	return &Approval{
		ID:        e.NewID(),
		Ref:       ref,
		Level:     res.Level,
		Approver:  res.Approver,
		Status:    StatusPending,
		CreatedAt: now,
	}
}

func (e *Engine) loadSubject(ctx context.Context, ref Ref) Approvable {
	if e.Subjects == nil {
		return nil
	}
	subject, err := e.Subjects.Load(ctx, ref)
	if err != nil {
		if !errors.Is(err, ErrUnknownApprovableType) {
			e.Log.Warn().Err(err).Str("approvable", ref.String()).Msg("Failed to load approvable after decision")
		}
		return nil
	}
	return subject
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Publish(ctx, ev); err != nil {
		e.Log.Warn().Err(err).
			Str("event", ev.EventName()).
			Str("approvable", ev.Subject().String()).
			Msg("Failed to publish approval event (non-fatal)")
	}
}
