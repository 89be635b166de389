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

// Package pipe provides an in-memory implementation of a unidirectional
// pipe.
package pipe

import (
	"fmt"

	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/sentry/fs"
	"rvsentry.dev/rvsentry/pkg/sync"
	"rvsentry.dev/rvsentry/pkg/waiter"
)

// DefaultPipeSize is the capacity of a pipe in bytes.
const DefaultPipeSize = 32

// Pipe is a buffered byte queue shared between a reader/writer pair.
type Pipe struct {
	// Queue is notified with EventIn when data arrives or the last writer
	// leaves, and with EventOut when space frees or the last reader
	// leaves.
	waiter.Queue

	// mu protects all pipe internal state below.
	mu sync.Mutex

	// buf is a ring of len(buf) bytes holding size bytes from head.
	buf  []byte
	head int
	size int

	// The number of open read and write ends.
	readers int
	writers int
}

// NewConnectedPipe returns the read and write ends of a new pipe of the
// given capacity.
func NewConnectedPipe(sizeBytes int) (r, w *fs.File) {
	p := &Pipe{buf: make([]byte, sizeBytes), readers: 1, writers: 1}
	r = fs.NewFile(fs.FileFlags{Read: true}, &Reader{Pipe: p})
	w = fs.NewFile(fs.FileFlags{Write: true}, &Writer{Pipe: p})
	return r, w
}

// read reads data from the pipe into dst and returns the number of bytes
// read, or returns ErrWouldBlock if the pipe is empty.
func (p *Pipe) read(dst []byte) (int, error) {
	// Don't block for a zero-length read even if the pipe is empty.
	if len(dst) == 0 {
		return 0, nil
	}
	p.mu.Lock()
	if p.size == 0 {
		writers := p.writers
		p.mu.Unlock()
		if writers == 0 {
			// There are no writers, return EOF.
			return 0, nil
		}
		return 0, kerr.ErrWouldBlock
	}
	n := 0
	for n < len(dst) && p.size > 0 {
		c := copy(dst[n:], p.buf[p.head:min(p.head+p.size, len(p.buf))])
		p.head = (p.head + c) % len(p.buf)
		p.size -= c
		n += c
	}
	p.mu.Unlock()
	p.Notify(waiter.EventOut)
	return n, nil
}

// write writes as much of src as fits and returns the number of bytes
// written, or ErrWouldBlock if the pipe is full.
func (p *Pipe) write(src []byte) (int, error) {
	p.mu.Lock()
	if p.readers == 0 {
		p.mu.Unlock()
		return 0, kerr.ErrPipe
	}
	if len(src) == 0 {
		p.mu.Unlock()
		return 0, nil
	}
	if p.size == len(p.buf) {
		p.mu.Unlock()
		return 0, kerr.ErrWouldBlock
	}
	n := 0
	for n < len(src) && p.size < len(p.buf) {
		tail := (p.head + p.size) % len(p.buf)
		end := len(p.buf)
		if tail < p.head {
			end = p.head
		}
		c := copy(p.buf[tail:end], src[n:])
		p.size += c
		n += c
	}
	p.mu.Unlock()
	p.Notify(waiter.EventIn)
	return n, nil
}

// rClose signals that a reader has closed their end of the pipe.
func (p *Pipe) rClose() {
	p.mu.Lock()
	p.readers--
	if p.readers < 0 {
		panic(fmt.Sprintf("Refcounting bug, pipe has negative readers: %v", p.readers))
	}
	p.mu.Unlock()
	p.Notify(waiter.EventOut | waiter.EventErr)
}

// wClose signals that a writer has closed their end of the pipe.
func (p *Pipe) wClose() {
	p.mu.Lock()
	p.writers--
	if p.writers < 0 {
		panic(fmt.Sprintf("Refcounting bug, pipe has negative writers: %v", p.writers))
	}
	p.mu.Unlock()
	p.Notify(waiter.EventIn | waiter.EventHUp)
}

// HasReaders returns whether the pipe has any open read ends.
func (p *Pipe) HasReaders() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readers > 0
}

// HasWriters returns whether the pipe has any open write ends.
func (p *Pipe) HasWriters() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writers > 0
}

func (p *Pipe) rReadiness() waiter.EventMask {
	p.mu.Lock()
	defer p.mu.Unlock()
	ready := waiter.EventMask(0)
	if p.size > 0 {
		ready |= waiter.EventIn
	}
	if p.writers == 0 {
		ready |= waiter.EventHUp
	}
	return ready
}

func (p *Pipe) wReadiness() waiter.EventMask {
	p.mu.Lock()
	defer p.mu.Unlock()
	ready := waiter.EventMask(0)
	if p.size < len(p.buf) {
		ready |= waiter.EventOut
	}
	if p.readers == 0 {
		ready |= waiter.EventErr
	}
	return ready
}
