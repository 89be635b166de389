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

package interp

import (
	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/sentry/platform"
)

// fault is a synchronous exception raised by a user access.
type fault struct {
	cause uint64
	tval  uint64
}

func (f *fault) trap() platform.Trap {
	return platform.Trap{Cause: f.cause, Stval: f.tval}
}

func pageFault(at hostarch.AccessType, va uint64) *fault {
	switch {
	case at.Execute:
		return &fault{cause: rvabi.CauseInstructionPageFault, tval: va}
	case at.Write:
		return &fault{cause: rvabi.CauseStorePageFault, tval: va}
	default:
		return &fault{cause: rvabi.CauseLoadPageFault, tval: va}
	}
}

func accessFault(at hostarch.AccessType, va uint64) *fault {
	switch {
	case at.Execute:
		return &fault{cause: rvabi.CauseInstructionFault, tval: va}
	case at.Write:
		return &fault{cause: rvabi.CauseStoreFault, tval: va}
	default:
		return &fault{cause: rvabi.CauseLoadFault, tval: va}
	}
}

// translate returns the host bytes backing [va, va+n) for a user access of
// type at. The range must not cross a page boundary.
func (m *Machine) translate(va uint64, n uint64, at hostarch.AccessType) ([]byte, *fault) {
	addr := hostarch.Addr(va)
	if !addr.Canonical() {
		return nil, pageFault(at, va)
	}
	pte, ok := m.pt.Translate(addr.VPN())
	if !ok || !pte.User() || !pte.Flags().AccessType().SupersetOf(at) {
		return nil, pageFault(at, va)
	}
	pa := pte.PPN().Addr() + hostarch.PhysAddr(addr.PageOffset())
	b, ok := m.mf.Slice(pa, n)
	if !ok {
		return nil, accessFault(at, va)
	}
	return b, nil
}

// load reads an n-byte little endian value. Misaligned accesses are
// supported, including those crossing a page boundary.
func (m *Machine) load(va uint64, n uint64) (uint64, *fault) {
	if hostarch.Addr(va).PageOffset()+n <= hostarch.PageSize {
		b, f := m.translate(va, n, hostarch.Read)
		if f != nil {
			return 0, f
		}
		return leUint(b), nil
	}
	var v uint64
	for i := uint64(0); i < n; i++ {
		b, f := m.translate(va+i, 1, hostarch.Read)
		if f != nil {
			return 0, f
		}
		v |= uint64(b[0]) << (8 * i)
	}
	return v, nil
}

// store writes the low n bytes of v. A fault on any byte leaves memory
// unmodified.
func (m *Machine) store(va uint64, n uint64, v uint64) *fault {
	if hostarch.Addr(va).PageOffset()+n <= hostarch.PageSize {
		b, f := m.translate(va, n, hostarch.Write)
		if f != nil {
			return f
		}
		putLeUint(b, v)
		return nil
	}
	var parts [8][]byte
	for i := uint64(0); i < n; i++ {
		b, f := m.translate(va+i, 1, hostarch.Write)
		if f != nil {
			return f
		}
		parts[i] = b
	}
	for i := uint64(0); i < n; i++ {
		parts[i][0] = byte(v >> (8 * i))
	}
	return nil
}

// fetch reads the instruction at pc.
func (m *Machine) fetch(pc uint64) (uint32, *fault) {
	if pc%4 != 0 {
		return 0, &fault{cause: rvabi.CauseInstructionMisaligned, tval: pc}
	}
	b, f := m.translate(pc, 4, hostarch.Execute)
	if f != nil {
		return 0, f
	}
	return hostarch.ByteOrder.Uint32(b), nil
}

func leUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeUint(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v)
		v >>= 8
	}
}
