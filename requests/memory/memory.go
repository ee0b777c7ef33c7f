// Package memory provides an in-memory request store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/approval-engine/requests"
)

// Store implements requests.Store.
type Store struct {
	mu        sync.RWMutex
	leaves    map[string]requests.LeaveRequest
	overtimes map[string]requests.Overtime
	histories map[string]requests.EmployeeHistory
}

func New() *Store {
	return &Store{
		leaves:    make(map[string]requests.LeaveRequest),
		overtimes: make(map[string]requests.Overtime),
		histories: make(map[string]requests.EmployeeHistory),
	}
}

// =============================================================================
// LEAVE
// =============================================================================

func (s *Store) CreateLeaveRequest(_ context.Context, r requests.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves[r.ID] = r
	return nil
}

func (s *Store) LeaveRequest(_ context.Context, id string) (requests.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.leaves[id]
	if !ok {
		return requests.LeaveRequest{}, requests.ErrRequestNotFound
	}
	return r, nil
}

func (s *Store) UpdateLeaveRequest(_ context.Context, r requests.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leaves[r.ID]; !ok {
		return requests.ErrRequestNotFound
	}
	s.leaves[r.ID] = r
	return nil
}

func (s *Store) DeleteLeaveRequest(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leaves, id)
	return nil
}

func (s *Store) LeaveRequestsFor(_ context.Context, employeeID, categoryID string) ([]requests.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []requests.LeaveRequest
	for _, r := range s.leaves {
		if r.EmployeeID == employeeID && r.CategoryID == categoryID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// OVERTIME
// =============================================================================

func (s *Store) CreateOvertime(_ context.Context, o requests.Overtime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overtimes[o.ID] = o
	return nil
}

func (s *Store) Overtime(_ context.Context, id string) (requests.Overtime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overtimes[id]
	if !ok {
		return requests.Overtime{}, requests.ErrRequestNotFound
	}
	return o, nil
}

func (s *Store) DeleteOvertime(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overtimes, id)
	return nil
}

// =============================================================================
// EMPLOYEE HISTORY
// =============================================================================

func (s *Store) CreateHistory(_ context.Context, h requests.EmployeeHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[h.ID] = h
	return nil
}

func (s *Store) History(_ context.Context, id string) (requests.EmployeeHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.histories[id]
	if !ok {
		return requests.EmployeeHistory{}, requests.ErrRequestNotFound
	}
	return h, nil
}

func (s *Store) DeleteHistory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.histories, id)
	return nil
}

var _ requests.Store = (*Store)(nil)
