// Package memory provides in-memory approval stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/approval-engine/approval"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store implements approval.ConfigStore and approval.ChainStore.
type Store struct {
	mu        sync.RWMutex
	types     map[string]approval.ApprovableType
	layers    map[layerKey]approval.ApproverLayer
	flows     map[approval.Ref]approval.Flow
	approvals map[string]approval.Approval
}

type layerKey struct {
	TypeID string
	Level  int
}

func New() *Store {
	return &Store{
		types:     make(map[string]approval.ApprovableType),
		layers:    make(map[layerKey]approval.ApproverLayer),
		flows:     make(map[approval.Ref]approval.Flow),
		approvals: make(map[string]approval.Approval),
	}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// PutType registers or replaces an approvable type.
func (s *Store) PutType(t approval.ApprovableType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[t.ID] = t
}

// PutLayer registers or replaces the layer for (TypeID, Level).
func (s *Store) PutLayer(l approval.ApproverLayer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = fmt.Sprintf("%s-%d", l.TypeID, l.Level)
	}
	s.layers[layerKey{l.TypeID, l.Level}] = l
}

func (s *Store) ApprovableType(_ context.Context, kind approval.Kind) (approval.ApprovableType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.types {
		if t.Kind == kind {
			return t, nil
		}
	}
	return approval.ApprovableType{}, fmt.Errorf("kind %q: %w", kind, approval.ErrUnknownApprovableType)
}

func (s *Store) ApprovableTypeByID(_ context.Context, id string) (approval.ApprovableType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.types[id]
	if !ok {
		return approval.ApprovableType{}, fmt.Errorf("type %q: %w", id, approval.ErrUnknownApprovableType)
	}
	return t, nil
}

func (s *Store) Layer(_ context.Context, typeID string, level int) (approval.ApproverLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layers[layerKey{typeID, level}]
	if !ok {
		return approval.ApproverLayer{}, fmt.Errorf("type %s level %d: %w", typeID, level, approval.ErrNoLayerConfigured)
	}
	return l, nil
}

// =============================================================================
// CHAINS
// =============================================================================

func (s *Store) CreateFlow(_ context.Context, flow approval.Flow, first *approval.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[flow.Ref]; ok {
		return approval.ErrFlowExists
	}
	s.flows[flow.Ref] = flow
	if first != nil {
		s.approvals[first.ID] = *first
	}
	return nil
}

func (s *Store) Flow(_ context.Context, ref approval.Ref) (approval.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[ref]
	if !ok {
		return approval.Flow{}, approval.ErrFlowNotFound
	}
	return f, nil
}

func (s *Store) Approval(_ context.Context, id string) (approval.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.approvals[id]
	if !ok {
		return approval.Approval{}, approval.ErrApprovalNotFound
	}
	return a, nil
}

func (s *Store) Approvals(_ context.Context, ref approval.Ref) ([]approval.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []approval.Approval
	for _, a := range s.approvals {
		if a.Ref == ref {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

// Decide is atomic: the pending check, the update and the next insert
// happen under one write lock.
func (s *Store) Decide(_ context.Context, rec approval.DecisionRecord, next *approval.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[rec.ApprovalID]
	if !ok {
		return approval.ErrApprovalNotFound
	}
	if !a.Pending() {
		return approval.ErrAlreadyDecided
	}
	at := rec.DecidedAt
	a.Status = rec.Status
	a.DecidedAt = &at
	a.DecidedBy = rec.DecidedBy
	a.Note = rec.Note
	s.approvals[a.ID] = a
	if next != nil {
		s.approvals[next.ID] = *next
	}
	return nil
}

func (s *Store) PendingForApprovers(_ context.Context, approvers []approval.Approver) ([]approval.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[approval.Approver]bool, len(approvers))
	for _, ap := range approvers {
		want[ap] = true
	}
	var out []approval.Approval
	for _, a := range s.approvals {
		if a.Pending() && want[a.Approver] {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteFlow(_ context.Context, ref approval.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, ref)
	for id, a := range s.approvals {
		if a.Ref == ref {
			delete(s.approvals, id)
		}
	}
	return nil
}

var (
	_ approval.ConfigStore = (*Store)(nil)
	_ approval.ChainStore  = (*Store)(nil)
)
