package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/approval-engine/directory"
)

// Resolution is a resolved layer: the approver stored on the row, and the
// users who can currently act on it (notification recipients).
type Resolution struct {
	Level      int
	Approver   Approver
	Recipients []string
}

// Resolver turns configured ApproverLayers into concrete approvers.
type Resolver struct {
	Config    ConfigStore
	Employees directory.Employees
	Roles     directory.Roles
}

// Resolve resolves (typeID, level) for requesterID.
//
// Errors:
//   - ErrUnknownApprovableType: typeID is not registered
//   - ErrNoLayerConfigured: no layer at this level (end of chain)
//   - ErrNoApproverFound: approval line has no usable supervisor
func (r *Resolver) Resolve(ctx context.Context, typeID string, level int, requesterID string) (Resolution, error) {
	if _, err := r.Config.ApprovableTypeByID(ctx, typeID); err != nil {
		return Resolution{}, err
	}
	layer, err := r.Config.Layer(ctx, typeID, level)
	if err != nil {
		return Resolution{}, err
	}

	switch layer.Approver.Kind {
	case ApproverRole:
		holders, err := r.Roles.UsersWithRole(ctx, layer.Approver.RoleID)
		if err != nil {
			return Resolution{}, fmt.Errorf("users with role %s: %w", layer.Approver.RoleID, err)
		}
		return Resolution{
			Level:      level,
			Approver:   Approver{Kind: ApproverRole, ID: layer.Approver.RoleID},
			Recipients: holders,
		}, nil

	case ApproverUser:
		return Resolution{
			Level:      level,
			Approver:   Approver{Kind: ApproverUser, ID: layer.Approver.UserID},
			Recipients: []string{layer.Approver.UserID},
		}, nil

	case ApproverApprovalLine:
		userID, err := r.supervisorUser(ctx, requesterID)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{
			Level:      level,
			Approver:   Approver{Kind: ApproverUser, ID: userID},
			Recipients: []string{userID},
		}, nil

	default:
		return Resolution{}, fmt.Errorf("layer %s level %d: unsupported approver kind %q", typeID, level, layer.Approver.Kind)
	}
}

// supervisorUser follows the requester's supervisor code to a user account.
func (r *Resolver) supervisorUser(ctx context.Context, requesterID string) (string, error) {
	requester, err := r.Employees.Employee(ctx, requesterID)
	if err != nil {
		if errors.Is(err, directory.ErrEmployeeNotFound) {
			return "", fmt.Errorf("requester %s: %w", requesterID, ErrNoApproverFound)
		}
		return "", err
	}
	if !requester.HasSupervisor() {
		return "", fmt.Errorf("requester %s has no supervisor: %w", requesterID, ErrNoApproverFound)
	}

	supervisor, err := r.Employees.EmployeeByCode(ctx, requester.SupervisorCode)
	if err != nil {
		if errors.Is(err, directory.ErrEmployeeNotFound) {
			return "", fmt.Errorf("supervisor code %s: %w", requester.SupervisorCode, ErrNoApproverFound)
		}
		return "", err
	}
	if supervisor.UserID == "" {
		return "", fmt.Errorf("supervisor %s has no user account: %w", supervisor.ID, ErrNoApproverFound)
	}
	return supervisor.UserID, nil
}
