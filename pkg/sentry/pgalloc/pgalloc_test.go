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
	"testing"

	"rvsentry.dev/rvsentry/pkg/hostarch"
)

func newTestAllocator(t *testing.T, pages, reserved uint64) *Allocator {
	t.Helper()
	mf, err := NewMemoryFile(DefaultBase, pages*hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewMemoryFile: %v", err)
	}
	t.Cleanup(func() { mf.Close() })
	return NewAllocator(mf, reserved)
}

func TestAllocateSkipsReserved(t *testing.T) {
	a := newTestAllocator(t, 8, 3)
	f, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if want := DefaultBase.PPN() + 3; f.PPN() != want {
		t.Errorf("first frame = %v, want %v", f.PPN(), want)
	}
	if got := a.Free(); got != 4 {
		t.Errorf("Free() = %d, want 4", got)
	}
}

func TestExhaustion(t *testing.T) {
	a := newTestAllocator(t, 4, 1)
	var frames []*Frame
	for {
		f, err := a.Allocate()
		if errors.Is(err, ErrOutOfMemory) {
			break
		}
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		frames = append(frames, f)
	}
	if len(frames) != 3 {
		t.Fatalf("allocated %d frames, want 3", len(frames))
	}
	for _, f := range frames {
		f.Release()
	}
	if a.Free() != 3 || a.InUse() != 0 {
		t.Errorf("after release: Free() = %d, InUse() = %d", a.Free(), a.InUse())
	}
}

func TestRecycledLIFOAndZeroed(t *testing.T) {
	a := newTestAllocator(t, 8, 0)
	f1, _ := a.Allocate()
	f2, _ := a.Allocate()
	f1.Bytes()[17] = 0xaa
	ppn1 := f1.PPN()
	f2.Release()
	f1.Release()

	g, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if g.PPN() != ppn1 {
		t.Errorf("reused %v, want most recently released %v", g.PPN(), ppn1)
	}
	if g.Bytes()[17] != 0 {
		t.Errorf("recycled frame not zeroed")
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	a := newTestAllocator(t, 4, 0)
	f, _ := a.Allocate()
	alias := *f
	f.Release()
	defer func() {
		if recover() == nil {
			t.Errorf("releasing a frame twice did not panic")
		}
	}()
	alias.Release()
}

func TestOnChange(t *testing.T) {
	a := newTestAllocator(t, 4, 0)
	var last uint64
	a.OnChange = func(n uint64) { last = n }
	f, _ := a.Allocate()
	if last != 1 {
		t.Errorf("after Allocate OnChange saw %d", last)
	}
	f.Release()
	if last != 0 {
		t.Errorf("after Release OnChange saw %d", last)
	}
}

func TestReadWriteAt(t *testing.T) {
	a := newTestAllocator(t, 2, 0)
	mf := a.MemoryFile()
	mf.PutUint64(DefaultBase+8, 0x1122334455667788)
	buf := make([]byte, 2)
	if _, err := mf.ReadAt(buf, int64(DefaultBase+8)); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if buf[0] != 0x88 || buf[1] != 0x77 {
		t.Errorf("ReadAt = %x, want little endian", buf)
	}
	if _, err := mf.WriteAt(buf, int64(mf.End())-1); err == nil {
		t.Errorf("WriteAt past the end succeeded")
	}
}
