package approval

import (
	"context"
	"errors"
	"time"
)

// Event is a domain event emitted on chain transitions. Delivery is the
// notification collaborator's concern.
type Event interface {
	EventName() string
	Subject() Ref
}

// ApprovalAdvanced: a new level is pending.
type ApprovalAdvanced struct {
	Ref        Ref
	NewLevel   int
	Approver   Approver
	Recipients []string
	At         time.Time
}

func (ApprovalAdvanced) EventName() string { return "approval_advanced" }
func (e ApprovalAdvanced) Subject() Ref    { return e.Ref }

// ApprovalFinalized: the chain reached a terminal status. Level is the last
// decided level, 0 when no level applied (auto-approved at creation).
type ApprovalFinalized struct {
	Ref         Ref
	Outcome     Status
	Level       int
	DecidedBy   string
	RequesterID string
	Auto        bool
	At          time.Time
}

func (ApprovalFinalized) EventName() string { return "approval_finalized" }
func (e ApprovalFinalized) Subject() Ref    { return e.Ref }

// Publisher delivers events. Failures are reported but never undo the
// transition that produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Publishers fans an event out to every publisher, joining their errors.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
