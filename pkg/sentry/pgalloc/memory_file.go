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

// Package pgalloc contains the physical memory of the machine and the frame
// allocator that hands it out one page at a time.
package pgalloc

import (
	"fmt"

	"golang.org/x/sys/unix"
	"rvsentry.dev/rvsentry/pkg/hostarch"
)

// DefaultBase is the physical address at which DRAM starts.
const DefaultBase = hostarch.PhysAddr(0x8000_0000)

// MemoryFile is the machine's physical memory: one anonymous host mapping
// covering [Base, Base+Size).
type MemoryFile struct {
	base    hostarch.PhysAddr
	mapping []byte
}

// NewMemoryFile maps size bytes of zeroed host memory to serve as DRAM
// starting at physical address base. size is rounded up to a page.
func NewMemoryFile(base hostarch.PhysAddr, size uint64) (*MemoryFile, error) {
	if base.PageOffset() != 0 {
		return nil, fmt.Errorf("memory base %#x is not page aligned", uint64(base))
	}
	rounded, ok := hostarch.Addr(size).RoundUp()
	if !ok || rounded == 0 {
		return nil, fmt.Errorf("invalid memory size %#x", size)
	}
	size = uint64(rounded)
	m, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mapping %d bytes of physical memory: %w", size, err)
	}
	return &MemoryFile{base: base, mapping: m}, nil
}

// Close releases the host mapping. f must not be used afterward.
func (f *MemoryFile) Close() error {
	if f.mapping == nil {
		return nil
	}
	err := unix.Munmap(f.mapping)
	f.mapping = nil
	return err
}

// Base returns the first physical address.
func (f *MemoryFile) Base() hostarch.PhysAddr {
	return f.base
}

// Size returns the number of bytes of physical memory.
func (f *MemoryFile) Size() uint64 {
	return uint64(len(f.mapping))
}

// End returns the physical address one past the last byte.
func (f *MemoryFile) End() hostarch.PhysAddr {
	return f.base + hostarch.PhysAddr(len(f.mapping))
}

// FirstPPN returns the first physical page.
func (f *MemoryFile) FirstPPN() hostarch.PPN {
	return f.base.PPN()
}

// EndPPN returns the page one past the last physical page.
func (f *MemoryFile) EndPPN() hostarch.PPN {
	return f.End().PPN()
}

// Contains returns true if [pa, pa+n) lies inside physical memory.
func (f *MemoryFile) Contains(pa hostarch.PhysAddr, n uint64) bool {
	end := pa + hostarch.PhysAddr(n)
	return pa >= f.base && end >= pa && end <= f.End()
}

// Slice returns the host bytes backing [pa, pa+n), or false if any part of
// the range lies outside physical memory.
func (f *MemoryFile) Slice(pa hostarch.PhysAddr, n uint64) ([]byte, bool) {
	if !f.Contains(pa, n) {
		return nil, false
	}
	off := uint64(pa - f.base)
	return f.mapping[off : off+n : off+n], true
}

// Frame returns the bytes of physical page ppn.
//
// Precondition: ppn is inside physical memory.
func (f *MemoryFile) Frame(ppn hostarch.PPN) []byte {
	b, ok := f.Slice(ppn.Addr(), hostarch.PageSize)
	if !ok {
		panic(fmt.Sprintf("frame %v outside physical memory [%v, %v)", ppn, f.FirstPPN(), f.EndPPN()))
	}
	return b
}

// Uint64 returns the 8-byte word at pa.
//
// Precondition: pa is 8-byte aligned and inside physical memory.
func (f *MemoryFile) Uint64(pa hostarch.PhysAddr) uint64 {
	b, ok := f.Slice(pa, 8)
	if !ok {
		panic(fmt.Sprintf("physical address %#x out of range", uint64(pa)))
	}
	return hostarch.ByteOrder.Uint64(b)
}

// PutUint64 stores v at pa.
//
// Precondition: pa is 8-byte aligned and inside physical memory.
func (f *MemoryFile) PutUint64(pa hostarch.PhysAddr, v uint64) {
	b, ok := f.Slice(pa, 8)
	if !ok {
		panic(fmt.Sprintf("physical address %#x out of range", uint64(pa)))
	}
	hostarch.ByteOrder.PutUint64(b, v)
}

// ReadAt implements io.ReaderAt. off is a physical address.
func (f *MemoryFile) ReadAt(dst []byte, off int64) (int, error) {
	src, ok := f.Slice(hostarch.PhysAddr(off), uint64(len(dst)))
	if !ok {
		return 0, fmt.Errorf("physical range [%#x, +%d) out of range", off, len(dst))
	}
	return copy(dst, src), nil
}

// WriteAt implements io.WriterAt. off is a physical address.
func (f *MemoryFile) WriteAt(src []byte, off int64) (int, error) {
	dst, ok := f.Slice(hostarch.PhysAddr(off), uint64(len(src)))
	if !ok {
		return 0, fmt.Errorf("physical range [%#x, +%d) out of range", off, len(src))
	}
	return copy(dst, src), nil
}
