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

// Package pagetables implements Sv39 three-level page tables stored in
// physical memory.
//
// A PageTables either owns its root and intermediate frames (New) or is a
// view of tables someone else owns (FromToken). Views are used to reach
// another address space by its satp token and never allocate or free.
//
// PageTables are not safe for concurrent use.
package pagetables

import (
	"errors"
	"fmt"

	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/sentry/pgalloc"
)

// ModeSv39 is the satp MODE field selecting Sv39 translation.
const ModeSv39 = uint64(8) << 60

const pteSize = 8

var (
	// ErrRemap is returned by Map when the page is already mapped.
	ErrRemap = errors.New("page already mapped")

	// ErrNotMapped is returned by Unmap when the page is not mapped.
	ErrNotMapped = errors.New("page not mapped")

	// ErrInvalidFlags is returned by Map when the flags grant no access.
	ErrInvalidFlags = errors.New("mapping grants no access")

	// errReadOnlyView is returned when a view is asked to allocate.
	errReadOnlyView = errors.New("page table view cannot allocate")
)

// PageTables is a set of page tables.
type PageTables struct {
	mf *pgalloc.MemoryFile

	// alloc is nil for views.
	alloc *pgalloc.Allocator

	root hostarch.PPN

	// frames holds the root followed by every intermediate table, in
	// allocation order. Empty for views.
	frames []*pgalloc.Frame
}

// New returns empty page tables whose frames come from alloc.
func New(alloc *pgalloc.Allocator) (*PageTables, error) {
	root, err := alloc.Allocate()
	if err != nil {
		return nil, fmt.Errorf("allocating page table root: %w", err)
	}
	return &PageTables{
		mf:     alloc.MemoryFile(),
		alloc:  alloc,
		root:   root.PPN(),
		frames: []*pgalloc.Frame{root},
	}, nil
}

// FromToken returns a non-owning view of the page tables identified by
// token.
func FromToken(mf *pgalloc.MemoryFile, token uint64) *PageTables {
	return &PageTables{
		mf:   mf,
		root: hostarch.PPN(token & ppnMask),
	}
}

// Token returns the satp value that selects these page tables.
func (p *PageTables) Token() uint64 {
	return ModeSv39 | uint64(p.root)
}

// Root returns the physical page of the top level table.
func (p *PageTables) Root() hostarch.PPN {
	return p.root
}

// Owned returns true if p owns its frames.
func (p *PageTables) Owned() bool {
	return p.alloc != nil
}

// Nodes returns the number of table frames p owns.
func (p *PageTables) Nodes() int {
	return len(p.frames)
}

func (p *PageTables) entryAddr(table hostarch.PPN, index uint64) hostarch.PhysAddr {
	return table.Addr() + hostarch.PhysAddr(index*pteSize)
}

func (p *PageTables) load(pa hostarch.PhysAddr) PTE {
	return PTE(p.mf.Uint64(pa))
}

func (p *PageTables) store(pa hostarch.PhysAddr, pte PTE) {
	p.mf.PutUint64(pa, uint64(pte))
}

// slot returns the physical address of the last-level entry for vpn. If
// create is true, missing intermediate tables are allocated; otherwise ok is
// false when the walk leaves the tree.
func (p *PageTables) slot(vpn hostarch.VPN, create bool) (pa hostarch.PhysAddr, ok bool, err error) {
	idx := vpn.Indexes()
	table := p.root
	for level := 0; level < hostarch.Levels-1; level++ {
		pa := p.entryAddr(table, idx[level])
		pte := p.load(pa)
		switch {
		case pte.IsTable():
			table = pte.PPN()
			continue
		case pte.IsLeaf():
			// Superpages are never created; treat one as a
			// mapping that covers vpn.
			if create {
				return 0, false, ErrRemap
			}
			return 0, false, nil
		case !create:
			return 0, false, nil
		}
		if p.alloc == nil {
			return 0, false, errReadOnlyView
		}
		f, err := p.alloc.Allocate()
		if err != nil {
			return 0, false, fmt.Errorf("allocating page table node: %w", err)
		}
		p.frames = append(p.frames, f)
		p.store(pa, NewPTE(f.PPN(), Valid))
		table = f.PPN()
	}
	return p.entryAddr(table, idx[hostarch.Levels-1]), true, nil
}

// Map installs a leaf for vpn pointing at ppn. Valid is implied.
func (p *PageTables) Map(vpn hostarch.VPN, ppn hostarch.PPN, flags Flags) error {
	if flags&rwx == 0 {
		return fmt.Errorf("map %v: %w", vpn, ErrInvalidFlags)
	}
	pa, _, err := p.slot(vpn, true)
	if err != nil {
		return fmt.Errorf("map %v: %w", vpn, err)
	}
	if p.load(pa).Valid() {
		return fmt.Errorf("map %v: %w", vpn, ErrRemap)
	}
	p.store(pa, NewPTE(ppn, flags|Valid))
	return nil
}

// Unmap clears the leaf for vpn. Intermediate tables are kept.
func (p *PageTables) Unmap(vpn hostarch.VPN) error {
	pa, ok, err := p.slot(vpn, false)
	if err != nil {
		return fmt.Errorf("unmap %v: %w", vpn, err)
	}
	if !ok || !p.load(pa).Valid() {
		return fmt.Errorf("unmap %v: %w", vpn, ErrNotMapped)
	}
	p.store(pa, 0)
	return nil
}

// Translate returns the leaf entry for vpn, or false if vpn is not mapped.
func (p *PageTables) Translate(vpn hostarch.VPN) (PTE, bool) {
	pa, ok, _ := p.slot(vpn, false)
	if !ok {
		return 0, false
	}
	pte := p.load(pa)
	if !pte.IsLeaf() {
		return 0, false
	}
	return pte, true
}

// TranslateAddr returns the physical address va maps to, or false if va is
// not mapped or is not canonical.
func (p *PageTables) TranslateAddr(va hostarch.Addr) (hostarch.PhysAddr, bool) {
	if !va.Canonical() {
		return 0, false
	}
	pte, ok := p.Translate(va.VPN())
	if !ok {
		return 0, false
	}
	return pte.PPN().Addr() + hostarch.PhysAddr(va.PageOffset()), true
}

// ForEach calls fn for every leaf in ascending VPN order.
func (p *PageTables) ForEach(fn func(vpn hostarch.VPN, pte PTE)) {
	p.forEach(p.root, 0, 0, fn)
}

func (p *PageTables) forEach(table hostarch.PPN, level int, prefix uint64, fn func(hostarch.VPN, PTE)) {
	for i := uint64(0); i < hostarch.EntriesPerTable; i++ {
		pte := p.load(p.entryAddr(table, i))
		v := prefix<<hostarch.LevelBits | i
		switch {
		case pte.IsLeaf() && level == hostarch.Levels-1:
			fn(hostarch.VPN(v), pte)
		case pte.IsTable() && level < hostarch.Levels-1:
			p.forEach(pte.PPN(), level+1, v, fn)
		}
	}
}

// Release frees the root and every intermediate table. Leaves are not
// followed: the frames they point at belong to whoever mapped them.
//
// Precondition: p is not a view.
func (p *PageTables) Release() {
	if p.alloc == nil {
		panic("pagetables.Release called on a view")
	}
	for _, f := range p.frames {
		f.Release()
	}
	p.frames = nil
}
