package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store for tests and demos.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) RecordFor(_ context.Context, employeeID string, date time.Time) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.EmployeeID == employeeID && r.Date.Equal(date) {
			return r, nil
		}
	}
	return Record{}, ErrRecordNotFound
}

func (m *Memory) CreateRecord(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r
	return nil
}

func (m *Memory) CloseRecord(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	r.CheckOut = &at
	m.records[id] = r
	return nil
}

func (m *Memory) RecordsBetween(_ context.Context, employeeID string, from, to time.Time) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if r.EmployeeID == employeeID && !r.Date.Before(from) && !r.Date.After(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

var _ Store = (*Memory)(nil)
