/*
store.go - Persistence contracts for approval configuration and chains

PURPOSE:
  The engine reads configuration (types, layers) and reads/writes chains
  (flows, approval rows) through these interfaces. store/sqlite implements
  both; approval/memory provides an in-memory double for tests.

ATOMICITY:
  CreateFlow and Decide are each a single atomic write. Decide must only
  update a row that is still pending and must insert the next level in
  the same transaction, so "level n approved, level n+1 missing" is never
  observable by readers.
*/
package approval

import "context"

// ConfigStore reads approval configuration. Read-only at runtime.
type ConfigStore interface {
	// ApprovableType returns the type registered for kind.
	// Returns ErrUnknownApprovableType when none exists.
	ApprovableType(ctx context.Context, kind Kind) (ApprovableType, error)

	// ApprovableTypeByID returns a type by id.
	ApprovableTypeByID(ctx context.Context, id string) (ApprovableType, error)

	// Layer returns the layer for (typeID, level).
	// Returns ErrNoLayerConfigured when none exists.
	Layer(ctx context.Context, typeID string, level int) (ApproverLayer, error)
}

// ChainStore persists flows and approval rows.
type ChainStore interface {
	// CreateFlow stores the flow and, when first is non-nil, its level-1 row.
	// Returns ErrFlowExists if the ref already has a flow.
	CreateFlow(ctx context.Context, flow Flow, first *Approval) error

	// Flow returns the flow for ref, or ErrFlowNotFound.
	Flow(ctx context.Context, ref Ref) (Flow, error)

	// Approval returns one row, or ErrApprovalNotFound.
	Approval(ctx context.Context, id string) (Approval, error)

	// Approvals returns the ref's rows ordered by level ascending.
	Approvals(ctx context.Context, ref Ref) ([]Approval, error)

	// Decide marks a pending row decided and inserts next (if non-nil)
	// atomically. Returns ErrAlreadyDecided when the row is not pending.
	Decide(ctx context.Context, rec DecisionRecord, next *Approval) error

	// PendingForApprovers returns pending rows addressed to any of approvers.
	PendingForApprovers(ctx context.Context, approvers []Approver) ([]Approval, error)

	// DeleteFlow removes the flow and all its rows.
	DeleteFlow(ctx context.Context, ref Ref) error
}
