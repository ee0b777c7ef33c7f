// Package memory provides in-memory entitlement stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/approval-engine/entitlement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store implements entitlement.CategoryStore, entitlement.Store and
// entitlement.LeaveSource.
type Store struct {
	mu           sync.RWMutex
	categories   map[string]entitlement.LeaveCategory
	entitlements map[key]entitlement.LeaveEntitlement
	leaves       map[leaveKey][]entitlement.LeaveSpan
}

type key struct {
	EmployeeID string
	CategoryID string
	Period     string
}

type leaveKey struct {
	EmployeeID string
	CategoryID string
}

func New() *Store {
	return &Store{
		categories:   make(map[string]entitlement.LeaveCategory),
		entitlements: make(map[key]entitlement.LeaveEntitlement),
		leaves:       make(map[leaveKey][]entitlement.LeaveSpan),
	}
}

// PutCategory inserts or replaces a category.
func (s *Store) PutCategory(c entitlement.LeaveCategory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
}

// AddApprovedLeave records an approved span for consumption accounting.
func (s *Store) AddApprovedLeave(employeeID, categoryID string, span entitlement.LeaveSpan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := leaveKey{employeeID, categoryID}
	s.leaves[k] = append(s.leaves[k], span)
}

func (s *Store) Category(_ context.Context, id string) (entitlement.LeaveCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return entitlement.LeaveCategory{}, fmt.Errorf("category %q: %w", id, entitlement.ErrCategoryNotFound)
	}
	return c, nil
}

func (s *Store) Categories(_ context.Context) ([]entitlement.LeaveCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entitlement.LeaveCategory, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) Entitlement(_ context.Context, employeeID, categoryID, period string) (entitlement.LeaveEntitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entitlements[key{employeeID, categoryID, period}]
	if !ok {
		return entitlement.LeaveEntitlement{}, entitlement.ErrEntitlementNotFound
	}
	return e, nil
}

func (s *Store) UpsertEntitlement(_ context.Context, e entitlement.LeaveEntitlement) (entitlement.LeaveEntitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{e.EmployeeID, e.CategoryID, e.Period}
	if old, ok := s.entitlements[k]; ok {
		e.ID = old.ID
	}
	s.entitlements[k] = e
	return e, nil
}

func (s *Store) ApprovedLeaves(_ context.Context, employeeID, categoryID string, from, to time.Time) ([]entitlement.LeaveSpan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entitlement.LeaveSpan
	for _, sp := range s.leaves[leaveKey{employeeID, categoryID}] {
		if sp.End.Before(from) || sp.Start.After(to) {
			continue
		}
		out = append(out, sp)
	}
	return out, nil
}

var (
	_ entitlement.CategoryStore = (*Store)(nil)
	_ entitlement.Store         = (*Store)(nil)
	_ entitlement.LeaveSource   = (*Store)(nil)
)
