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

package mm

import (
	"fmt"

	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/ring0/pagetables"
	"rvsentry.dev/rvsentry/pkg/sentry/pgalloc"
)

// Perms are the permissions of an area. They are a subset of the PTE flags
// R, W, X and U.
type Perms = pagetables.Flags

// Area permission bits.
const (
	PermR = pagetables.Readable
	PermW = pagetables.Writable
	PermX = pagetables.Executable
	PermU = pagetables.User

	permMask = PermR | PermW | PermX | PermU
)

// PermsFor returns the area permissions granting at, user accessible iff
// user is true.
func PermsFor(at hostarch.AccessType, user bool) Perms {
	return pagetables.FlagsFor(at, user)
}

// MapType is the discipline used to back an area.
type MapType int

const (
	// Framed areas are backed by frames allocated for them and owned by
	// the area.
	Framed MapType = iota

	// Identical areas map each virtual page to the physical page with the
	// same number. The area owns no frames.
	Identical
)

// String implements fmt.Stringer.String.
func (t MapType) String() string {
	switch t {
	case Framed:
		return "framed"
	case Identical:
		return "identical"
	default:
		return fmt.Sprintf("MapType(%d)", int(t))
	}
}

// Area is a contiguous range of mapped virtual pages with uniform
// permissions.
type Area struct {
	// Range is the pages covered by the area.
	Range hostarch.VPNRange

	// Type is the mapping discipline.
	Type MapType

	// Perms are the permissions of every page in the area.
	Perms Perms

	// frames maps each page of a framed area to the frame backing it.
	frames map[hostarch.VPN]*pgalloc.Frame
}

func newArea(r hostarch.VPNRange, t MapType, perms Perms) *Area {
	a := &Area{Range: r, Type: t, Perms: perms & permMask}
	if t == Framed {
		a.frames = make(map[hostarch.VPN]*pgalloc.Frame, r.Len())
	}
	return a
}

// ppnFor returns the physical page backing vpn.
func (a *Area) ppnFor(vpn hostarch.VPN) hostarch.PPN {
	if a.Type == Identical {
		return hostarch.PPN(vpn)
	}
	return a.frames[vpn].PPN()
}

// split removes [r.Start, r.End) from a and returns the pieces of a left on
// either side, each of which may be nil. The frames of the removed range are
// returned to the caller.
func (a *Area) split(r hostarch.VPNRange) (left, right *Area, removed map[hostarch.VPN]*pgalloc.Frame) {
	removed = make(map[hostarch.VPN]*pgalloc.Frame)
	if a.Range.Start < r.Start {
		left = newArea(hostarch.VPNRange{Start: a.Range.Start, End: r.Start}, a.Type, a.Perms)
	}
	if r.End < a.Range.End {
		right = newArea(hostarch.VPNRange{Start: r.End, End: a.Range.End}, a.Type, a.Perms)
	}
	for vpn, f := range a.frames {
		switch {
		case left != nil && left.Range.Contains(vpn):
			left.frames[vpn] = f
		case right != nil && right.Range.Contains(vpn):
			right.frames[vpn] = f
		default:
			removed[vpn] = f
		}
	}
	return left, right, removed
}

// Info describes an area for diagnostics.
type Info struct {
	Start hostarch.Addr
	End   hostarch.Addr
	Type  MapType
	Perms Perms
}

// String implements fmt.Stringer.String.
func (i Info) String() string {
	return fmt.Sprintf("%016x-%016x %v %v", uint64(i.Start), uint64(i.End), i.Perms, i.Type)
}
