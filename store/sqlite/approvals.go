package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/warp/approval-engine/approval"
)

// =============================================================================
// APPROVAL CONFIGURATION (approval.ConfigStore)
// =============================================================================

// SaveApprovableType inserts or replaces an approvable type.
func (s *Store) SaveApprovableType(ctx context.Context, t approval.ApprovableType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvable_types (id, name, kind, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, kind = excluded.kind, active = excluded.active
	`, t.ID, t.Name, string(t.Kind), t.Active)
	if err != nil {
		return fmt.Errorf("failed to save approvable type: %w", err)
	}
	return nil
}

// SaveLayer inserts or replaces the layer for (TypeID, Level).
func (s *Store) SaveLayer(ctx context.Context, l approval.ApproverLayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		l.ID = fmt.Sprintf("%s-%d", l.TypeID, l.Level)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approver_layers (id, type_id, level, approver_kind, role_id, user_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(type_id, level) DO UPDATE SET
			approver_kind = excluded.approver_kind,
			role_id = excluded.role_id,
			user_id = excluded.user_id
	`, l.ID, l.TypeID, l.Level, string(l.Approver.Kind), l.Approver.RoleID, l.Approver.UserID)
	if err != nil {
		return fmt.Errorf("failed to save approver layer: %w", err)
	}
	return nil
}

func (s *Store) ApprovableType(ctx context.Context, kind approval.Kind) (approval.ApprovableType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := scanApprovableType(s.db.QueryRowContext(ctx,
		"SELECT id, name, kind, active FROM approvable_types WHERE kind = ?", string(kind)))
	if isNoRows(err) {
		return approval.ApprovableType{}, fmt.Errorf("kind %q: %w", kind, approval.ErrUnknownApprovableType)
	}
	return t, err
}

func (s *Store) ApprovableTypeByID(ctx context.Context, id string) (approval.ApprovableType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := scanApprovableType(s.db.QueryRowContext(ctx,
		"SELECT id, name, kind, active FROM approvable_types WHERE id = ?", id))
	if isNoRows(err) {
		return approval.ApprovableType{}, fmt.Errorf("type %q: %w", id, approval.ErrUnknownApprovableType)
	}
	return t, err
}

func scanApprovableType(row *sql.Row) (approval.ApprovableType, error) {
	var t approval.ApprovableType
	var kind string
	if err := row.Scan(&t.ID, &t.Name, &kind, &t.Active); err != nil {
		return approval.ApprovableType{}, err
	}
	t.Kind = approval.Kind(kind)
	return t, nil
}

func (s *Store) Layer(ctx context.Context, typeID string, level int) (approval.ApproverLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l := approval.ApproverLayer{TypeID: typeID, Level: level}
	var kind string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, approver_kind, role_id, user_id
		FROM approver_layers WHERE type_id = ? AND level = ?
	`, typeID, level).Scan(&l.ID, &kind, &l.Approver.RoleID, &l.Approver.UserID)
	if isNoRows(err) {
		return approval.ApproverLayer{}, fmt.Errorf("type %s level %d: %w", typeID, level, approval.ErrNoLayerConfigured)
	}
	if err != nil {
		return approval.ApproverLayer{}, fmt.Errorf("failed to load layer: %w", err)
	}
	l.Approver.Kind = approval.ApproverKind(kind)
	return l, nil
}

// =============================================================================
// APPROVAL CHAINS (approval.ChainStore)
// =============================================================================

const approvalColumns = `id, kind, ref_id, level, approver_kind, approver_id, status, decided_at, decided_by, note, created_at`

func (s *Store) CreateFlow(ctx context.Context, flow approval.Flow, first *approval.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO approval_flows (kind, ref_id, type_id, requester_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(flow.Ref.Kind), flow.Ref.ID, flow.TypeID, flow.RequesterID, formatTime(flow.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return approval.ErrFlowExists
		}
		return fmt.Errorf("failed to create flow: %w", err)
	}
	if first != nil {
		if err := insertApproval(ctx, tx, *first); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertApproval(ctx context.Context, db execer, a approval.Approval) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO approvals (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		string(a.Ref.Kind),
		a.Ref.ID,
		a.Level,
		string(a.Approver.Kind),
		a.Approver.ID,
		string(a.Status),
		nullTime(a.DecidedAt),
		a.DecidedBy,
		a.Note,
		formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval level %d: %w", a.Level, err)
	}
	return nil
}

func (s *Store) Flow(ctx context.Context, ref approval.Ref) (approval.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f := approval.Flow{Ref: ref}
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT type_id, requester_id, created_at
		FROM approval_flows WHERE kind = ? AND ref_id = ?
	`, string(ref.Kind), ref.ID).Scan(&f.TypeID, &f.RequesterID, &created)
	if isNoRows(err) {
		return approval.Flow{}, approval.ErrFlowNotFound
	}
	if err != nil {
		return approval.Flow{}, fmt.Errorf("failed to load flow: %w", err)
	}
	if f.CreatedAt, err = parseTime(created); err != nil {
		return approval.Flow{}, err
	}
	return f, nil
}

func (s *Store) Approval(ctx context.Context, id string) (approval.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+approvalColumns+" FROM approvals WHERE id = ?", id)
	if err != nil {
		return approval.Approval{}, fmt.Errorf("failed to query approval: %w", err)
	}
	list, err := scanApprovals(rows)
	if err != nil {
		return approval.Approval{}, err
	}
	if len(list) == 0 {
		return approval.Approval{}, approval.ErrApprovalNotFound
	}
	return list[0], nil
}

func (s *Store) Approvals(ctx context.Context, ref approval.Ref) ([]approval.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approvals WHERE kind = ? AND ref_id = ?
		ORDER BY level ASC
	`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	return scanApprovals(rows)
}

// Decide updates the row only while it is still pending and inserts the
// next level in the same transaction.
func (s *Store) Decide(ctx context.Context, rec approval.DecisionRecord, next *approval.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, decided_at = ?, decided_by = ?, note = ?
		WHERE id = ? AND status = 'pending'
	`, string(rec.Status), formatTime(rec.DecidedAt), rec.DecidedBy, rec.Note, rec.ApprovalID)
	if err != nil {
		return fmt.Errorf("failed to decide approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM approvals WHERE id = ?", rec.ApprovalID).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return approval.ErrApprovalNotFound
		}
		return approval.ErrAlreadyDecided
	}

	if next != nil {
		if err := insertApproval(ctx, tx, *next); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) PendingForApprovers(ctx context.Context, approvers []approval.Approver) ([]approval.Approval, error) {
	if len(approvers) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	clauses := make([]string, 0, len(approvers))
	args := make([]any, 0, 2*len(approvers))
	for _, ap := range approvers {
		clauses = append(clauses, "(approver_kind = ? AND approver_id = ?)")
		args = append(args, string(ap.Kind), ap.ID)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE status = 'pending' AND (`+strings.Join(clauses, " OR ")+`)
		ORDER BY created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending approvals: %w", err)
	}
	return scanApprovals(rows)
}

func (s *Store) DeleteFlow(ctx context.Context, ref approval.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM approvals WHERE kind = ? AND ref_id = ?", string(ref.Kind), ref.ID); err != nil {
		return fmt.Errorf("failed to delete approvals: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM approval_flows WHERE kind = ? AND ref_id = ?", string(ref.Kind), ref.ID); err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	return tx.Commit()
}

// scanApprovals drains and closes rows.
func scanApprovals(rows *sql.Rows) ([]approval.Approval, error) {
	defer rows.Close()

	var out []approval.Approval
	for rows.Next() {
		var (
			a                                     approval.Approval
			kind, approverKind, status, createdAt string
			decidedAt                             sql.NullString
		)
		if err := rows.Scan(&a.ID, &kind, &a.Ref.ID, &a.Level, &approverKind, &a.Approver.ID,
			&status, &decidedAt, &a.DecidedBy, &a.Note, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		a.Ref.Kind = approval.Kind(kind)
		a.Approver.Kind = approval.ApproverKind(approverKind)
		a.Status = approval.Status(status)

		var err error
		if a.DecidedAt, err = parseNullTime(decidedAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var (
	_ approval.ConfigStore = (*Store)(nil)
	_ approval.ChainStore  = (*Store)(nil)
)
