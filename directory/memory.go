package directory

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Employees + Roles implementation for tests and demos.
type Memory struct {
	mu        sync.RWMutex
	employees map[string]Employee
	byCode    map[string]string
	roles     map[string]map[string]bool // roleID -> userID set
}

func NewMemory() *Memory {
	return &Memory{
		employees: make(map[string]Employee),
		byCode:    make(map[string]string),
		roles:     make(map[string]map[string]bool),
	}
}

// PutEmployee inserts or replaces an employee.
func (m *Memory) PutEmployee(e Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.employees[e.ID]; ok && old.Code != "" {
		delete(m.byCode, old.Code)
	}
	m.employees[e.ID] = e
	if e.Code != "" {
		m.byCode[e.Code] = e.ID
	}
}

// Grant adds userID to roleID.
func (m *Memory) Grant(roleID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.roles[roleID] == nil {
		m.roles[roleID] = make(map[string]bool)
	}
	m.roles[roleID][userID] = true
}

// Revoke removes userID from roleID.
func (m *Memory) Revoke(roleID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles[roleID], userID)
}

func (m *Memory) Employee(_ context.Context, id string) (Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return Employee{}, ErrEmployeeNotFound
	}
	return e, nil
}

func (m *Memory) EmployeeByCode(_ context.Context, code string) (Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCode[code]
	if !ok {
		return Employee{}, ErrEmployeeNotFound
	}
	return m.employees[id], nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UsersWithRole(_ context.Context, roleID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var users []string
	for u := range m.roles[roleID] {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (m *Memory) UserHasRole(_ context.Context, userID, roleID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roles[roleID][userID], nil
}

func (m *Memory) RolesOfUser(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var roles []string
	for roleID, members := range m.roles {
		if members[userID] {
			roles = append(roles, roleID)
		}
	}
	sort.Strings(roles)
	return roles, nil
}

var (
	_ Employees = (*Memory)(nil)
	_ Roles     = (*Memory)(nil)
)
