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

package pagetables

import (
	"fmt"

	"rvsentry.dev/rvsentry/pkg/hostarch"
)

// Flags are the low eight bits of a PTE.
type Flags uint8

// PTE flag bits.
const (
	Valid Flags = 1 << iota
	Readable
	Writable
	Executable
	User
	Global
	Accessed
	Dirty
)

// rwx is the set of bits that make an entry a leaf.
const rwx = Readable | Writable | Executable

// FlagsFor returns the leaf flags granting at, with the user bit set iff user
// is true.
func FlagsFor(at hostarch.AccessType, user bool) Flags {
	var f Flags
	if at.Read {
		f |= Readable
	}
	if at.Write {
		f |= Writable
	}
	if at.Execute {
		f |= Executable
	}
	if user {
		f |= User
	}
	return f
}

// AccessType returns the access permitted by f.
func (f Flags) AccessType() hostarch.AccessType {
	return hostarch.AccessType{
		Read:    f&Readable != 0,
		Write:   f&Writable != 0,
		Execute: f&Executable != 0,
	}
}

// String implements fmt.Stringer.String.
func (f Flags) String() string {
	const names = "VRWXUGAD"
	b := []byte("--------")
	for i := range b {
		if f&(1<<i) != 0 {
			b[i] = names[i]
		}
	}
	return string(b)
}

const (
	ppnShift = 10
	ppnMask  = (uint64(1) << hostarch.PPNBits) - 1
)

// PTE is a single Sv39 page table entry.
type PTE uint64

// NewPTE returns an entry pointing at ppn with the given flags.
func NewPTE(ppn hostarch.PPN, flags Flags) PTE {
	return PTE((uint64(ppn)&ppnMask)<<ppnShift | uint64(flags))
}

// PPN returns the physical page the entry points at.
func (p PTE) PPN() hostarch.PPN {
	return hostarch.PPN((uint64(p) >> ppnShift) & ppnMask)
}

// Flags returns the flag bits of the entry.
func (p PTE) Flags() Flags {
	return Flags(p)
}

// Valid returns true if the entry is valid.
func (p PTE) Valid() bool {
	return p.Flags()&Valid != 0
}

// IsLeaf returns true if the entry maps a page.
func (p PTE) IsLeaf() bool {
	return p.Valid() && p.Flags()&rwx != 0
}

// IsTable returns true if the entry points at a next-level table.
func (p PTE) IsTable() bool {
	return p.Valid() && p.Flags()&rwx == 0
}

// Readable returns true if the entry permits reads.
func (p PTE) Readable() bool {
	return p.Flags()&Readable != 0
}

// Writable returns true if the entry permits writes.
func (p PTE) Writable() bool {
	return p.Flags()&Writable != 0
}

// Executable returns true if the entry permits instruction fetch.
func (p PTE) Executable() bool {
	return p.Flags()&Executable != 0
}

// User returns true if the entry is accessible from user mode.
func (p PTE) User() bool {
	return p.Flags()&User != 0
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	return fmt.Sprintf("%v %v", p.PPN(), p.Flags())
}
