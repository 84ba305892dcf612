/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package state

import (
	"container/list"
	"context"
	"sync"
)

// fifoMutex is a mutual-exclusion lock that grants the critical section
// in strict arrival order. sync.Mutex makes no fairness guarantee, and
// the store needs waiting writers served in the order they queued so no
// caller is starved under contention.
type fifoMutex struct {
	mu      sync.Mutex
	locked  bool
	waiters *list.List
}

func newFIFOMutex() *fifoMutex {
	return &fifoMutex{waiters: list.New()}
}

// Lock blocks until the lock is granted or ctx is done. Waiters are
// woken strictly in the order they called Lock.
func (m *fifoMutex) Lock(ctx context.Context) error {
	m.mu.Lock()
	if !m.locked && m.waiters.Len() == 0 {
		m.locked = true
		m.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	elem := m.waiters.PushBack(ready)
	m.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		select {
		case <-ready:
			// Granted between ctx firing and us reacquiring; pass it on.
			m.unlockLocked()
			m.mu.Unlock()
		default:
			m.waiters.Remove(elem)
			m.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Unlock releases the lock and hands it to the oldest waiter, if any.
func (m *fifoMutex) Unlock() {
	m.mu.Lock()
	m.unlockLocked()
	m.mu.Unlock()
}

func (m *fifoMutex) unlockLocked() {
	if front := m.waiters.Front(); front != nil {
		m.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return
	}
	m.locked = false
}
