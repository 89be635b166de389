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

// Package mm implements address spaces: an ordered set of mapped areas plus
// the page tables that realize them.
//
// Every user address space maps the shared trampoline frame at Trampoline
// and a private trap context page at TrapContextBase. Areas never overlap.
package mm

import (
	"errors"
	"fmt"

	"github.com/google/btree"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/log"
	"rvsentry.dev/rvsentry/pkg/ring0/pagetables"
	"rvsentry.dev/rvsentry/pkg/sentry/loader"
	"rvsentry.dev/rvsentry/pkg/sentry/pgalloc"
)

var (
	// ErrAreaConflict is returned when a new area would overlap a mapped
	// page.
	ErrAreaConflict = errors.New("area overlaps an existing mapping")

	// ErrNotMapped is returned when a range to remove is not fully covered
	// by removable areas.
	ErrNotMapped = errors.New("range is not mapped by user areas")

	// ErrInvalidRange is returned for empty or misaligned ranges.
	ErrInvalidRange = errors.New("invalid address range")
)

const btreeDegree = 8

func areaLess(a, b *Area) bool {
	return a.Range.Start < b.Range.Start
}

// SatpSetter is the part of a hart that installs a translation root.
type SatpSetter interface {
	SetSatp(token uint64)
}

// MemorySet is an address space.
type MemorySet struct {
	alloc *pgalloc.Allocator
	pt    *pagetables.PageTables

	// areas is ordered by start page.
	areas *btree.BTreeG[*Area]

	// trampoline is the frame mapped at Trampoline, or zero.
	trampoline hostarch.PPN
}

// New returns an empty address space.
func New(alloc *pgalloc.Allocator) (*MemorySet, error) {
	pt, err := pagetables.New(alloc)
	if err != nil {
		return nil, err
	}
	return &MemorySet{
		alloc: alloc,
		pt:    pt,
		areas: btree.NewG[*Area](btreeDegree, areaLess),
	}, nil
}

// NewKernel returns the kernel address space: the trampoline and an identity
// map of all of physical memory, readable and writable by the kernel only.
func NewKernel(alloc *pgalloc.Allocator, trampoline hostarch.PPN) (*MemorySet, error) {
	ms, err := New(alloc)
	if err != nil {
		return nil, err
	}
	if err := ms.MapTrampoline(trampoline); err != nil {
		ms.Release()
		return nil, err
	}
	mf := alloc.MemoryFile()
	r := hostarch.VPNRange{Start: hostarch.VPN(mf.FirstPPN()), End: hostarch.VPN(mf.EndPPN())}
	if err := ms.insertIdentical(r, PermR|PermW); err != nil {
		ms.Release()
		return nil, fmt.Errorf("identity mapping physical memory: %w", err)
	}
	log.Infof("Kernel space: physical memory [%#x, %#x) identity mapped", uint64(mf.Base()), uint64(mf.End()))
	return ms, nil
}

// PageTables returns the page tables of the space.
func (ms *MemorySet) PageTables() *pagetables.PageTables {
	return ms.pt
}

// Token returns the satp value selecting this space.
func (ms *MemorySet) Token() uint64 {
	return ms.pt.Token()
}

// Activate installs this space as the live translation root of h.
func (ms *MemorySet) Activate(h SatpSetter) {
	h.SetSatp(ms.Token())
}

// Translate returns the leaf entry mapping vpn.
func (ms *MemorySet) Translate(vpn hostarch.VPN) (pagetables.PTE, bool) {
	return ms.pt.Translate(vpn)
}

// MapTrampoline maps the shared trampoline frame at Trampoline. The frame is
// not owned by the space and is never released by it.
func (ms *MemorySet) MapTrampoline(ppn hostarch.PPN) error {
	if err := ms.pt.Map(Trampoline.VPN(), ppn, PermR|PermX); err != nil {
		return fmt.Errorf("mapping trampoline: %w", err)
	}
	ms.trampoline = ppn
	return nil
}

// Areas returns a description of every area, in ascending address order.
func (ms *MemorySet) Areas() []Info {
	var infos []Info
	ms.areas.Ascend(func(a *Area) bool {
		start := a.Range.Start.Addr()
		infos = append(infos, Info{
			Start: start,
			End:   start + hostarch.Addr(a.Range.Len()*hostarch.PageSize),
			Type:  a.Type,
			Perms: a.Perms,
		})
		return true
	})
	return infos
}

// Frames returns the number of frames owned by areas of the space.
func (ms *MemorySet) Frames() int {
	n := 0
	ms.areas.Ascend(func(a *Area) bool {
		n += len(a.frames)
		return true
	})
	return n
}

// overlapping calls fn for each area sharing a page with r, in ascending
// order.
func (ms *MemorySet) overlapping(r hostarch.VPNRange, fn func(a *Area) bool) {
	// The only area starting before r that can overlap it is the last
	// one to start before r.
	var prev *Area
	ms.areas.DescendLessOrEqual(&Area{Range: hostarch.VPNRange{Start: r.Start}}, func(a *Area) bool {
		prev = a
		return false
	})
	if prev != nil && prev.Range.Start < r.Start && prev.Range.Overlaps(r) {
		if !fn(prev) {
			return
		}
	}
	ms.areas.AscendRange(&Area{Range: hostarch.VPNRange{Start: r.Start}}, &Area{Range: hostarch.VPNRange{Start: r.End}}, fn)
}

// checkFree returns ErrAreaConflict if any page of r is covered by an area
// or mapped in the page tables.
func (ms *MemorySet) checkFree(r hostarch.VPNRange) error {
	conflict := false
	ms.overlapping(r, func(a *Area) bool {
		conflict = true
		return false
	})
	if conflict {
		return fmt.Errorf("%v: %w", r, ErrAreaConflict)
	}
	for vpn := r.Start; vpn < r.End; vpn++ {
		if _, ok := ms.pt.Translate(vpn); ok {
			return fmt.Errorf("%v mapped: %w", vpn, ErrAreaConflict)
		}
	}
	return nil
}

func (ms *MemorySet) insertIdentical(r hostarch.VPNRange, perms Perms) error {
	if err := ms.checkFree(r); err != nil {
		return err
	}
	a := newArea(r, Identical, perms)
	for vpn := r.Start; vpn < r.End; vpn++ {
		if err := ms.pt.Map(vpn, hostarch.PPN(vpn), a.Perms); err != nil {
			for v := r.Start; v < vpn; v++ {
				ms.pt.Unmap(v)
			}
			return err
		}
	}
	ms.areas.ReplaceOrInsert(a)
	return nil
}

// insertFramed maps r with fresh frames. If data is non-nil it is copied to
// the area starting offset bytes into the first page.
//
// The whole range is validated before anything is mutated; on failure part
// way through, every frame allocated by the call is released.
func (ms *MemorySet) insertFramed(r hostarch.VPNRange, perms Perms, data []byte, offset uint64) (*Area, error) {
	if r.Empty() {
		return nil, ErrInvalidRange
	}
	if perms&(PermR|PermW|PermX) == 0 {
		return nil, fmt.Errorf("%v: %w", r, pagetables.ErrInvalidFlags)
	}
	if err := ms.checkFree(r); err != nil {
		return nil, err
	}
	a := newArea(r, Framed, perms)
	rollback := func() {
		for vpn, f := range a.frames {
			ms.pt.Unmap(vpn)
			f.Release()
		}
	}
	for vpn := r.Start; vpn < r.End; vpn++ {
		f, err := ms.alloc.Allocate()
		if err != nil {
			rollback()
			return nil, fmt.Errorf("mapping %v: %w", r, err)
		}
		if err := ms.pt.Map(vpn, f.PPN(), a.Perms); err != nil {
			f.Release()
			rollback()
			return nil, fmt.Errorf("mapping %v: %w", r, err)
		}
		a.frames[vpn] = f
	}
	if data != nil {
		ms.copyToArea(a, data, offset)
	}
	ms.areas.ReplaceOrInsert(a)
	return a, nil
}

func (ms *MemorySet) copyToArea(a *Area, data []byte, offset uint64) {
	vpn := a.Range.Start
	for len(data) > 0 {
		dst := a.frames[vpn].Bytes()[offset:]
		n := copy(dst, data)
		data = data[n:]
		offset = 0
		vpn++
	}
}

// InsertFramedArea maps [start, end), widened to whole pages, with freshly
// allocated zeroed frames.
func (ms *MemorySet) InsertFramedArea(start, end hostarch.Addr, perms Perms) error {
	if end <= start {
		return fmt.Errorf("[%v, %v): %w", start, end, ErrInvalidRange)
	}
	_, err := ms.insertFramed(hostarch.RangeOf(start, end), perms, nil, 0)
	return err
}

// RemoveArea unmaps the page-aligned range [start, end). Every page in the
// range must belong to a framed user area; areas straddling the range
// boundaries are split. Nothing changes unless the whole range qualifies.
func (ms *MemorySet) RemoveArea(start, end hostarch.Addr) error {
	if !start.IsPageAligned() || end <= start {
		return fmt.Errorf("[%v, %v): %w", start, end, ErrInvalidRange)
	}
	r := hostarch.RangeOf(start, end)

	var victims []*Area
	next := r.Start
	covered := true
	ms.overlapping(r, func(a *Area) bool {
		if a.Type != Framed || a.Perms&PermU == 0 || a.Range.Start > next {
			covered = false
			return false
		}
		victims = append(victims, a)
		next = a.Range.End
		return next < r.End
	})
	if !covered || next < r.End {
		return fmt.Errorf("[%v, %v): %w", start, end, ErrNotMapped)
	}

	for _, a := range victims {
		ms.areas.Delete(a)
		left, right, removed := a.split(r)
		for vpn, f := range removed {
			if err := ms.pt.Unmap(vpn); err != nil {
				panic(fmt.Sprintf("area page %v not in page tables: %v", vpn, err))
			}
			f.Release()
		}
		if left != nil {
			ms.areas.ReplaceOrInsert(left)
		}
		if right != nil {
			ms.areas.ReplaceOrInsert(right)
		}
	}
	return nil
}

// RemoveAreaWithStart removes the whole area starting at vpn.
func (ms *MemorySet) RemoveAreaWithStart(vpn hostarch.VPN) error {
	a, ok := ms.areas.Get(&Area{Range: hostarch.VPNRange{Start: vpn}})
	if !ok {
		return fmt.Errorf("no area at %v: %w", vpn, ErrNotMapped)
	}
	ms.removeArea(a)
	return nil
}

func (ms *MemorySet) removeArea(a *Area) {
	ms.areas.Delete(a)
	for vpn := a.Range.Start; vpn < a.Range.End; vpn++ {
		if err := ms.pt.Unmap(vpn); err != nil {
			panic(fmt.Sprintf("area page %v not in page tables: %v", vpn, err))
		}
	}
	for _, f := range a.frames {
		f.Release()
	}
	a.frames = nil
}

// AreaAt returns the area containing vpn.
func (ms *MemorySet) AreaAt(vpn hostarch.VPN) (*Area, bool) {
	var found *Area
	ms.overlapping(hostarch.VPNRange{Start: vpn, End: vpn + 1}, func(a *Area) bool {
		found = a
		return false
	})
	return found, found != nil
}

// FromELF builds a user address space from an executable image. It returns
// the space, the initial user stack pointer and the entry point.
//
// Layout: one framed area per PT_LOAD segment, an unmapped guard page, the
// user stack, and at the top the trap context page and trampoline.
func FromELF(alloc *pgalloc.Allocator, trampoline hostarch.PPN, image []byte) (*MemorySet, hostarch.Addr, hostarch.Addr, error) {
	img, err := loader.Parse(image)
	if err != nil {
		return nil, 0, 0, err
	}
	ms, err := New(alloc)
	if err != nil {
		return nil, 0, 0, err
	}
	if err := ms.MapTrampoline(trampoline); err != nil {
		ms.Release()
		return nil, 0, 0, err
	}
	var maxEnd hostarch.VPN
	for _, seg := range img.Segments {
		r := hostarch.RangeOf(seg.Vaddr, seg.End())
		if r.Empty() {
			continue
		}
		perms := PermsFor(seg.Perms, true)
		if _, err := ms.insertFramed(r, perms, seg.Data, seg.Vaddr.PageOffset()); err != nil {
			ms.Release()
			return nil, 0, 0, fmt.Errorf("mapping segment at %v: %w", seg.Vaddr, err)
		}
		maxEnd = max(maxEnd, r.End)
	}

	stackBottom := (maxEnd + 1).Addr()
	stackTop := stackBottom + UserStackSize
	if err := ms.InsertFramedArea(stackBottom, stackTop, PermR|PermW|PermU); err != nil {
		ms.Release()
		return nil, 0, 0, fmt.Errorf("mapping user stack: %w", err)
	}
	if err := ms.InsertFramedArea(TrapContextBase, Trampoline, PermR|PermW); err != nil {
		ms.Release()
		return nil, 0, 0, fmt.Errorf("mapping trap context: %w", err)
	}
	return ms, stackTop, img.Entry, nil
}

// FromExisting returns a deep copy of other: every framed area is copied
// into new frames with identical permissions and contents, and identical
// areas and the trampoline are mapped to the same physical pages.
func FromExisting(other *MemorySet) (*MemorySet, error) {
	ms, err := New(other.alloc)
	if err != nil {
		return nil, err
	}
	if other.trampoline != 0 {
		if err := ms.MapTrampoline(other.trampoline); err != nil {
			ms.Release()
			return nil, err
		}
	}
	var copyErr error
	other.areas.Ascend(func(a *Area) bool {
		switch a.Type {
		case Identical:
			copyErr = ms.insertIdentical(a.Range, a.Perms)
		case Framed:
			var na *Area
			na, copyErr = ms.insertFramed(a.Range, a.Perms, nil, 0)
			if copyErr == nil {
				for vpn, f := range a.frames {
					copy(na.frames[vpn].Bytes(), f.Bytes())
				}
			}
		}
		return copyErr == nil
	})
	if copyErr != nil {
		ms.Release()
		return nil, fmt.Errorf("copying address space: %w", copyErr)
	}
	return ms, nil
}

// RecycleDataPages unmaps every area and returns its frames. The page
// tables themselves survive until Release.
func (ms *MemorySet) RecycleDataPages() {
	var all []*Area
	ms.areas.Ascend(func(a *Area) bool {
		all = append(all, a)
		return true
	})
	for _, a := range all {
		ms.removeArea(a)
	}
}

// Release frees everything the space owns, including its page tables.
func (ms *MemorySet) Release() {
	ms.RecycleDataPages()
	if ms.pt != nil {
		ms.pt.Release()
		ms.pt = nil
	}
}
