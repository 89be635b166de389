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

// Package mailbox implements per-process mailboxes: fixed-capacity rings of
// fixed-size messages.
package mailbox

import (
	"fmt"

	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/sync"
)

const (
	// Slots is the number of messages a mailbox holds.
	Slots = 16

	// MaxLen is the largest message payload. Longer writes are truncated.
	MaxLen = 256
)

// Status disambiguates head == tail.
type Status int

// Mailbox states.
const (
	Empty Status = iota
	Normal
	Full
)

// String implements fmt.Stringer.String.
func (s Status) String() string {
	switch s {
	case Empty:
		return "empty"
	case Normal:
		return "normal"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// message is one slot.
type message struct {
	content [MaxLen]byte
	len     int
}

// Mailbox is a ring of messages.
//
// A Mailbox is shared between its owner, which reads, and any writer, so
// every method locks.
type Mailbox struct {
	// mu protects all fields below.
	mu sync.Mutex

	mails  [Slots]message
	head   int
	tail   int
	status Status
}

// New returns an empty mailbox.
func New() *Mailbox {
	return &Mailbox{status: Empty}
}

// +checklocks:m.mu
func (m *Mailbox) availableReadLocked() int {
	switch {
	case m.status == Empty:
		return 0
	case m.tail > m.head:
		return m.tail - m.head
	default:
		return m.tail + Slots - m.head
	}
}

// AvailableRead returns the number of queued messages.
func (m *Mailbox) AvailableRead() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availableReadLocked()
}

// AvailableWrite returns the number of free slots.
func (m *Mailbox) AvailableWrite() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == Full {
		return 0
	}
	return Slots - m.availableReadLocked()
}

// Status returns the ring state.
func (m *Mailbox) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Read dequeues the oldest message and copies as much of it as fits into
// dst. The whole message is consumed even if dst is short. It returns
// kerr.ErrMailbox if the mailbox is empty.
func (m *Mailbox) Read(dst []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == Empty {
		return 0, kerr.ErrMailbox
	}
	msg := &m.mails[m.head]
	n := copy(dst, msg.content[:msg.len])
	*msg = message{}
	m.head = (m.head + 1) % Slots
	m.status = Normal
	if m.head == m.tail {
		m.status = Empty
	}
	return n, nil
}

// Write enqueues src, truncated to MaxLen bytes, and returns the number of
// bytes stored. It returns kerr.ErrMailbox, changing nothing, if the
// mailbox is full.
func (m *Mailbox) Write(src []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == Full {
		return 0, kerr.ErrMailbox
	}
	msg := &m.mails[m.tail]
	msg.len = copy(msg.content[:], src)
	m.tail = (m.tail + 1) % Slots
	m.status = Normal
	if m.tail == m.head {
		m.status = Full
	}
	return msg.len, nil
}

// Clone returns a copy of m with the same queued messages.
func (m *Mailbox) Clone() *Mailbox {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Mailbox{
		mails:  m.mails,
		head:   m.head,
		tail:   m.tail,
		status: m.status,
	}
}
