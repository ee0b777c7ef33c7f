package requests

import (
	"context"
	"time"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/entitlement"
)

// StatusReader reads an approvable's derived status.
type StatusReader interface {
	Status(ctx context.Context, ref approval.Ref) (approval.Status, error)
}

// ApprovedLeaveSource feeds the entitlement engine from the leave store,
// keeping only requests whose chain has been approved. The relational
// store answers the same question in one query; this adapter serves the
// in-memory wiring.
type ApprovedLeaveSource struct {
	Leaves    LeaveStore
	Approvals StatusReader
}

func (s ApprovedLeaveSource) ApprovedLeaves(ctx context.Context, employeeID, categoryID string, from, to time.Time) ([]entitlement.LeaveSpan, error) {
	rows, err := s.Leaves.LeaveRequestsFor(ctx, employeeID, categoryID)
	if err != nil {
		return nil, err
	}
	var out []entitlement.LeaveSpan
	for _, r := range rows {
		if r.End.Before(from) || r.Start.After(to) {
			continue
		}
		st, err := s.Approvals.Status(ctx, r.ApprovableRef())
		if err != nil {
			return nil, err
		}
		if st == approval.StatusApproved {
			out = append(out, r.Span())
		}
	}
	return out, nil
}

var _ entitlement.LeaveSource = ApprovedLeaveSource{}

// RegisterLoaders binds every request kind to store.
func RegisterLoaders(reg *approval.Registry, store Store) {
	reg.Register(approval.KindLeaveRequest, approval.LoaderFunc(func(ctx context.Context, id string) (approval.Approvable, error) {
		r, err := store.LeaveRequest(ctx, id)
		if err != nil {
			return nil, err
		}
		return r, nil
	}))
	reg.Register(approval.KindOvertime, approval.LoaderFunc(func(ctx context.Context, id string) (approval.Approvable, error) {
		o, err := store.Overtime(ctx, id)
		if err != nil {
			return nil, err
		}
		return o, nil
	}))
	reg.Register(approval.KindEmployeeHistory, approval.LoaderFunc(func(ctx context.Context, id string) (approval.Approvable, error) {
		h, err := store.History(ctx, id)
		if err != nil {
			return nil, err
		}
		return h, nil
	}))
}
