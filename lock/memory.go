package lock

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Locker. Each key maps to a one-slot channel;
// holding the lock means owning the slot.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch      chan struct{}
	waiters int
}

func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

func (m *Memory) Acquire(ctx context.Context, key string, wait time.Duration) (Unlock, error) {
	s := m.join(key)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
	case <-timer.C:
		m.leave(key, s)
		return nil, ErrTimeout
	case <-ctx.Done():
		m.leave(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.leave(key, s)
		})
	}, nil
}

func (m *Memory) join(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.waiters++
	return s
}

// leave drops the slot once nobody holds or waits on it.
func (m *Memory) leave(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.waiters--
	if s.waiters == 0 {
		delete(m.slots, key)
	}
}

var _ Locker = (*Memory)(nil)
