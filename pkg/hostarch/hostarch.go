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

// Package hostarch describes the memory architecture of the machine the
// kernel manages: RV64 with Sv39 paging.
package hostarch

import (
	"encoding/binary"
	"fmt"
)

// ByteOrder is the native byte order (little endian).
var ByteOrder = binary.LittleEndian

const (
	// PageShift is the binary log of the system page size.
	PageShift = 12

	// PageSize is the system page size.
	PageSize = 1 << PageShift

	// VABits is the number of significant virtual address bits in Sv39.
	VABits = 39

	// PABits is the number of physical address bits in Sv39.
	PABits = 56

	// VPNBits is the width of a virtual page number.
	VPNBits = VABits - PageShift

	// PPNBits is the width of a physical page number.
	PPNBits = PABits - PageShift

	// LevelBits is the number of VPN bits consumed by one page table level.
	LevelBits = 9

	// Levels is the depth of the page table radix tree.
	Levels = 3

	// EntriesPerTable is the number of PTEs in one page table frame.
	EntriesPerTable = 1 << LevelBits

	vaMask = (uint64(1) << VABits) - 1
)

// Addr represents a virtual address.
type Addr uint64

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v &^ Addr(PageSize-1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + PageSize - 1).RoundDown()
	ok = addr >= v
	return
}

// MustRoundUp is equivalent to RoundUp, but panics if rounding up wraps
// around.
func (v Addr) MustRoundUp() Addr {
	addr, ok := v.RoundUp()
	if !ok {
		panic(fmt.Sprintf("hostarch.Addr(%#x).RoundUp() wraps", v))
	}
	return addr
}

// PageOffset returns the offset of v into the current page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & Addr(PageSize-1))
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow the range of Addr.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// Canonical returns true if bits 63..39 of v are copies of bit 38, as Sv39
// requires of every translated address.
func (v Addr) Canonical() bool {
	upper := uint64(v) >> (VABits - 1)
	return upper == 0 || upper == (^uint64(0))>>(VABits-1)
}

// VPN returns the number of the virtual page containing v.
func (v Addr) VPN() VPN {
	return VPN((uint64(v) & vaMask) >> PageShift)
}

// CeilVPN returns the number of the first page at or after v.
func (v Addr) CeilVPN() VPN {
	if v.IsPageAligned() {
		return v.VPN()
	}
	return v.VPN() + 1
}

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// VPN is a virtual page number.
type VPN uint64

// Addr returns the canonical (sign-extended) address of the start of the
// page.
func (vpn VPN) Addr() Addr {
	a := uint64(vpn) << PageShift
	if a&(uint64(1)<<(VABits-1)) != 0 {
		a |= ^vaMask
	}
	return Addr(a)
}

// Indexes returns the page table index of vpn at each level, top level
// first.
func (vpn VPN) Indexes() [Levels]uint64 {
	var idx [Levels]uint64
	v := uint64(vpn)
	for i := Levels - 1; i >= 0; i-- {
		idx[i] = v & (EntriesPerTable - 1)
		v >>= LevelBits
	}
	return idx
}

// String implements fmt.Stringer.String.
func (vpn VPN) String() string {
	return fmt.Sprintf("vpn:%#x", uint64(vpn))
}

// PhysAddr is a physical address.
type PhysAddr uint64

// PPN returns the physical page containing p.
func (p PhysAddr) PPN() PPN {
	return PPN(uint64(p) >> PageShift)
}

// PageOffset returns the offset of p into its page.
func (p PhysAddr) PageOffset() uint64 {
	return uint64(p) & (PageSize - 1)
}

// PPN is a physical page number.
type PPN uint64

// Addr returns the physical address of the start of the page.
func (p PPN) Addr() PhysAddr {
	return PhysAddr(uint64(p) << PageShift)
}

// String implements fmt.Stringer.String.
func (p PPN) String() string {
	return fmt.Sprintf("ppn:%#x", uint64(p))
}

// VPNRange is a half-open range of virtual page numbers.
type VPNRange struct {
	Start VPN
	End   VPN
}

// RangeOf returns the smallest page range covering [start, end).
func RangeOf(start, end Addr) VPNRange {
	return VPNRange{Start: start.VPN(), End: end.CeilVPN()}
}

// Len returns the number of pages in r.
func (r VPNRange) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

// Empty returns true if r contains no pages.
func (r VPNRange) Empty() bool {
	return r.End <= r.Start
}

// Contains returns true if vpn is in r.
func (r VPNRange) Contains(vpn VPN) bool {
	return r.Start <= vpn && vpn < r.End
}

// ContainsRange returns true if every page of o is in r.
func (r VPNRange) ContainsRange(o VPNRange) bool {
	return r.Start <= o.Start && o.End <= r.End
}

// Overlaps returns true if r and o share at least one page.
func (r VPNRange) Overlaps(o VPNRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// Intersect returns the pages common to r and o.
func (r VPNRange) Intersect(o VPNRange) VPNRange {
	if r.Start < o.Start {
		r.Start = o.Start
	}
	if r.End > o.End {
		r.End = o.End
	}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

// String implements fmt.Stringer.String.
func (r VPNRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}

// AccessType specifies memory access types. This is used for
// setting mapping permissions, as well as communicating faults.
type AccessType struct {
	// Read is read access.
	Read bool

	// Write is write access.
	Write bool

	// Execute is executable access.
	Execute bool
}

// String returns a pretty representation of access. This looks like the
// familiar r-x, rw-, etc. and can be relied on as such.
func (a AccessType) String() string {
	bits := [3]byte{'-', '-', '-'}
	if a.Read {
		bits[0] = 'r'
	}
	if a.Write {
		bits[1] = 'w'
	}
	if a.Execute {
		bits[2] = 'x'
	}
	return string(bits[:])
}

// Any returns true iff at least one of Read, Write or Execute is true.
func (a AccessType) Any() bool {
	return a.Read || a.Write || a.Execute
}

// SupersetOf returns true iff the access types in a are a superset of the
// access types in other.
func (a AccessType) SupersetOf(other AccessType) bool {
	if !a.Read && other.Read {
		return false
	}
	if !a.Write && other.Write {
		return false
	}
	if !a.Execute && other.Execute {
		return false
	}
	return true
}

// Convenient access types.
var (
	NoAccess  = AccessType{}
	Read      = AccessType{Read: true}
	Write     = AccessType{Write: true}
	Execute   = AccessType{Execute: true}
	ReadWrite = AccessType{Read: true, Write: true}
	ReadExec  = AccessType{Read: true, Execute: true}
	AnyAccess = AccessType{Read: true, Write: true, Execute: true}
)
