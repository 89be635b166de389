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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/sentry/pgalloc"
)

type mapping struct {
	VPN   hostarch.VPN
	PPN   hostarch.PPN
	Flags Flags
}

func newTestTables(t *testing.T, pages uint64) (*PageTables, *pgalloc.Allocator) {
	t.Helper()
	mf, err := pgalloc.NewMemoryFile(pgalloc.DefaultBase, pages*hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewMemoryFile: %v", err)
	}
	t.Cleanup(func() { mf.Close() })
	alloc := pgalloc.NewAllocator(mf, 0)
	pt, err := New(alloc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return pt, alloc
}

func checkMappings(t *testing.T, pt *PageTables, want []mapping) {
	t.Helper()
	var got []mapping
	pt.ForEach(func(vpn hostarch.VPN, pte PTE) {
		got = append(got, mapping{vpn, pte.PPN(), pte.Flags()})
	})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mappings mismatch (-want +got):\n%s", diff)
	}
}

func TestMapTranslate(t *testing.T) {
	pt, _ := newTestTables(t, 16)
	if err := pt.Map(0x400, 42, Readable|User); err != nil {
		t.Fatalf("Map: %v", err)
	}
	pte, ok := pt.Translate(0x400)
	if !ok {
		t.Fatalf("Translate found nothing")
	}
	if pte.PPN() != 42 || pte.Flags() != Valid|Readable|User {
		t.Errorf("Translate = %v", pte)
	}
	if _, ok := pt.Translate(0x401); ok {
		t.Errorf("Translate of an unmapped neighbour succeeded")
	}
	pa, ok := pt.TranslateAddr(0x400123)
	if !ok || pa != hostarch.PPN(42).Addr()+0x123 {
		t.Errorf("TranslateAddr = %#x, %v", uint64(pa), ok)
	}
}

func TestUnmap(t *testing.T) {
	pt, _ := newTestTables(t, 16)
	pt.Map(0x400, 42, Readable|Writable)
	if err := pt.Unmap(0x400); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	checkMappings(t, pt, nil)
	if err := pt.Unmap(0x400); !errors.Is(err, ErrNotMapped) {
		t.Errorf("second Unmap = %v, want ErrNotMapped", err)
	}
	if err := pt.Unmap(0x7_0000); !errors.Is(err, ErrNotMapped) {
		t.Errorf("Unmap in an absent branch = %v, want ErrNotMapped", err)
	}
}

func TestRemapRejected(t *testing.T) {
	pt, _ := newTestTables(t, 16)
	pt.Map(0x400, 42, Readable|Writable)
	pt.Map(0x401, 47, Readable)
	if err := pt.Map(0x400, 99, Readable|Executable); !errors.Is(err, ErrRemap) {
		t.Fatalf("remap = %v, want ErrRemap", err)
	}
	checkMappings(t, pt, []mapping{
		{0x400, 42, Valid | Readable | Writable},
		{0x401, 47, Valid | Readable},
	})
}

func TestInvalidFlags(t *testing.T) {
	pt, _ := newTestTables(t, 16)
	if err := pt.Map(0x400, 42, User); !errors.Is(err, ErrInvalidFlags) {
		t.Errorf("Map without access = %v, want ErrInvalidFlags", err)
	}
	if pt.Nodes() != 1 {
		t.Errorf("rejected Map allocated nodes: %d", pt.Nodes())
	}
}

func TestLazyNodes(t *testing.T) {
	pt, _ := newTestTables(t, 16)
	pt.Map(0x400, 1, Readable)
	if got := pt.Nodes(); got != 3 {
		t.Errorf("nodes after first map = %d, want 3", got)
	}
	// Same last-level table.
	pt.Map(0x401, 2, Readable)
	if got := pt.Nodes(); got != 3 {
		t.Errorf("nodes after neighbour map = %d, want 3", got)
	}
	// New top-level branch.
	top := hostarch.Addr(0xffff_ffff_ffff_f000).VPN()
	pt.Map(top, 3, Readable|Executable)
	if got := pt.Nodes(); got != 5 {
		t.Errorf("nodes after top map = %d, want 5", got)
	}
	checkMappings(t, pt, []mapping{
		{0x400, 1, Valid | Readable},
		{0x401, 2, Valid | Readable},
		{top, 3, Valid | Readable | Executable},
	})
}

func TestFromToken(t *testing.T) {
	pt, alloc := newTestTables(t, 16)
	pt.Map(0x10, 7, Readable|Writable|User)
	view := FromToken(alloc.MemoryFile(), pt.Token())
	if view.Owned() {
		t.Errorf("view claims ownership")
	}
	pte, ok := view.Translate(0x10)
	if !ok || pte.PPN() != 7 {
		t.Errorf("view Translate = %v, %v", pte, ok)
	}
	if err := view.Map(0x7_0000, 8, Readable); err == nil {
		t.Errorf("view allocated a node")
	}
	if got := pt.Token() >> 60; got != 8 {
		t.Errorf("token mode = %d, want 8", got)
	}
}

func TestReleaseFreesNodes(t *testing.T) {
	pt, alloc := newTestTables(t, 16)
	before := alloc.InUse()
	pt.Map(0x400, 1, Readable)
	pt.Map(0x40_0000, 2, Readable)
	pt.Release()
	if got := alloc.InUse(); got != before-1 {
		t.Errorf("InUse after Release = %d, want %d", got, before-1)
	}
}
