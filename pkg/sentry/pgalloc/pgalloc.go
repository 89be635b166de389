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

package pgalloc

import (
	"errors"
	"fmt"

	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/sync"
)

// ErrOutOfMemory is returned when no free frame remains.
var ErrOutOfMemory = errors.New("out of physical frames")

// Allocator hands out the frames of a MemoryFile one at a time.
//
// Frames above current have never been handed out. Released frames are kept
// on recycled and reused most recently released first.
type Allocator struct {
	mf *MemoryFile

	mu       sync.Mutex
	current  hostarch.PPN
	end      hostarch.PPN
	recycled []hostarch.PPN
	free     map[hostarch.PPN]struct{}
	inUse    uint64

	// OnChange, if set, is called with the number of frames in use after
	// every allocation and release.
	OnChange func(inUse uint64)
}

// NewAllocator returns an allocator over mf that never hands out the first
// reserved frames.
func NewAllocator(mf *MemoryFile, reserved uint64) *Allocator {
	first := mf.FirstPPN() + hostarch.PPN(reserved)
	if first > mf.EndPPN() {
		first = mf.EndPPN()
	}
	return &Allocator{
		mf:      mf,
		current: first,
		end:     mf.EndPPN(),
		free:    make(map[hostarch.PPN]struct{}),
	}
}

// MemoryFile returns the memory frames are drawn from.
func (a *Allocator) MemoryFile() *MemoryFile {
	return a.mf
}

// Allocate returns a zero-filled frame.
func (a *Allocator) Allocate() (*Frame, error) {
	a.mu.Lock()
	var ppn hostarch.PPN
	switch {
	case len(a.recycled) > 0:
		ppn = a.recycled[len(a.recycled)-1]
		a.recycled = a.recycled[:len(a.recycled)-1]
		delete(a.free, ppn)
	case a.current < a.end:
		ppn = a.current
		a.current++
	default:
		a.mu.Unlock()
		return nil, ErrOutOfMemory
	}
	a.inUse++
	inUse := a.inUse
	a.mu.Unlock()

	clear(a.mf.Frame(ppn))
	if a.OnChange != nil {
		a.OnChange(inUse)
	}
	return &Frame{ppn: ppn, a: a}, nil
}

func (a *Allocator) release(ppn hostarch.PPN) {
	a.mu.Lock()
	if ppn >= a.current {
		a.mu.Unlock()
		panic(fmt.Sprintf("frame %v released but never allocated", ppn))
	}
	if _, ok := a.free[ppn]; ok {
		a.mu.Unlock()
		panic(fmt.Sprintf("frame %v released twice", ppn))
	}
	a.free[ppn] = struct{}{}
	a.recycled = append(a.recycled, ppn)
	a.inUse--
	inUse := a.inUse
	a.mu.Unlock()

	if a.OnChange != nil {
		a.OnChange(inUse)
	}
}

// Free returns the number of frames that can still be allocated.
func (a *Allocator) Free() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint64(a.end-a.current) + uint64(len(a.recycled))
}

// InUse returns the number of frames currently allocated.
func (a *Allocator) InUse() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Frame is exclusive ownership of one physical page. It must be released
// exactly once.
type Frame struct {
	ppn hostarch.PPN
	a   *Allocator
}

// PPN returns the physical page number of the frame.
func (f *Frame) PPN() hostarch.PPN {
	return f.ppn
}

// Bytes returns the contents of the frame.
func (f *Frame) Bytes() []byte {
	return f.a.mf.Frame(f.ppn)
}

// Release returns the frame to its allocator.
func (f *Frame) Release() {
	if f.a == nil {
		panic(fmt.Sprintf("frame %v released twice", f.ppn))
	}
	a := f.a
	f.a = nil
	a.release(f.ppn)
}
