// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package semaphore implements the mutex and counting semaphore descriptors
// created by mutex_fd and semaphore_fd.
//
// Both are fs.FileOperations with an embedded wait queue. An operation that
// cannot complete returns kerr.ErrWouldBlock; whether that suspends the
// caller or is reported to it depends on the descriptor's NonBlocking flag.
package semaphore

import (
	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/log"
	"rvsentry.dev/rvsentry/pkg/sentry/fs"
	"rvsentry.dev/rvsentry/pkg/sync"
	"rvsentry.dev/rvsentry/pkg/waiter"
)

// valueSize is the size of the counter transferred by Mutex reads and
// writes.
const valueSize = 8

// Mutex is a lock whose state is an 8-byte value: it is held while the value
// is zero. Reading takes the lock, returning the value and zeroing it;
// writing a non-zero value over zero releases it.
type Mutex struct {
	fs.NoopRelease
	fs.NullStat

	// Queue is notified with EventIn when the lock is released.
	waiter.Queue

	// mu protects val.
	mu  sync.Mutex
	val uint64
}

// NewMutex returns a file for a mutex with value initval.
func NewMutex(initval uint64, blocking bool) *fs.File {
	return fs.NewFile(fs.FileFlags{Read: true, Write: true, NonBlocking: !blocking}, &Mutex{val: initval})
}

// Value returns the current value.
func (m *Mutex) Value() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.val
}

// Read implements fs.FileOperations.Read.
func (m *Mutex) Read(dst []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.val == 0 {
		return 0, kerr.ErrWouldBlock
	}
	var buf [valueSize]byte
	hostarch.ByteOrder.PutUint64(buf[:], m.val)
	m.val = 0
	return copy(dst, buf[:]), nil
}

// Write implements fs.FileOperations.Write. Waiters are woken only when the
// value goes from zero to non-zero.
func (m *Mutex) Write(src []byte) (int, error) {
	var buf [valueSize]byte
	n := copy(buf[:], src)
	m.mu.Lock()
	old := m.val
	m.val = hostarch.ByteOrder.Uint64(buf[:])
	unlocked := old == 0 && m.val != 0
	m.mu.Unlock()

	if unlocked {
		log.Debugf("Mutex unlocked, value %#x", hostarch.ByteOrder.Uint64(buf[:]))
		m.NotifyOne(waiter.EventIn)
	}
	return n, nil
}

// Readiness implements waiter.Waitable.Readiness.
func (m *Mutex) Readiness(mask waiter.EventMask) waiter.EventMask {
	ready := waiter.EventOut
	if m.Value() != 0 {
		ready |= waiter.EventIn
	}
	return mask & ready
}

// Semaphore is a counting semaphore. Reading is down and writing is up; both
// transfer no data and return 1.
type Semaphore struct {
	fs.NoopRelease
	fs.NullStat

	// Queue is notified with EventIn for every up.
	waiter.Queue

	// mu protects count.
	mu    sync.Mutex
	count uint64
}

// NewSemaphore returns a file for a semaphore with count initval.
func NewSemaphore(initval uint64, blocking bool) *fs.File {
	return fs.NewFile(fs.FileFlags{Read: true, Write: true, NonBlocking: !blocking}, &Semaphore{count: initval})
}

// Count returns the number of available units.
func (s *Semaphore) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Read implements fs.FileOperations.Read.
func (s *Semaphore) Read([]byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0, kerr.ErrWouldBlock
	}
	s.count--
	return 1, nil
}

// Write implements fs.FileOperations.Write.
func (s *Semaphore) Write([]byte) (int, error) {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.NotifyOne(waiter.EventIn)
	return 1, nil
}

// Readiness implements waiter.Waitable.Readiness.
func (s *Semaphore) Readiness(mask waiter.EventMask) waiter.EventMask {
	ready := waiter.EventOut
	if s.Count() != 0 {
		ready |= waiter.EventIn
	}
	return mask & ready
}
