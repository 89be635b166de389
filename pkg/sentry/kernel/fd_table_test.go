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

package kernel

import (
	"testing"

	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/sentry/fs"
)

// countingFile counts releases.
type countingFile struct {
	released int
}

func (*countingFile) Read([]byte) (int, error)  { return 0, nil }
func (*countingFile) Write([]byte) (int, error) { return 0, nil }
func (*countingFile) Stat() rvabi.Stat          { return rvabi.Stat{} }
func (c *countingFile) Release()                { c.released++ }

func newCountingFile() (*fs.File, *countingFile) {
	c := &countingFile{}
	return fs.NewFile(fs.FileFlags{Read: true, Write: true}, c), c
}

func TestFDTableLowestFree(t *testing.T) {
	stdin, _ := newCountingFile()
	stdout, _ := newCountingFile()
	fdt := newFDTable(stdin, stdout)

	a, _ := newCountingFile()
	b, _ := newCountingFile()
	if fd, err := fdt.NewFD(a); err != nil || fd != 3 {
		t.Fatalf("NewFD = %d, %v, want 3, nil", fd, err)
	}
	if err := fdt.Remove(1); err != nil {
		t.Fatalf("Remove(1) failed: %v", err)
	}
	if fd, err := fdt.NewFD(b); err != nil || fd != 1 {
		t.Errorf("NewFD after closing 1 = %d, %v, want 1, nil", fd, err)
	}
	if got := fdt.Len(); got != 4 {
		t.Errorf("Len() = %d, want 4", got)
	}
}

func TestFDTableBadFD(t *testing.T) {
	stdin, _ := newCountingFile()
	stdout, _ := newCountingFile()
	fdt := newFDTable(stdin, stdout)
	for _, fd := range []int32{-1, 3, 1000} {
		if _, err := fdt.Get(fd); !kerr.Equals(kerr.ErrBadFD, err) {
			t.Errorf("Get(%d) got err %v, want %v", fd, err, kerr.ErrBadFD)
		}
		if err := fdt.Remove(fd); !kerr.Equals(kerr.ErrBadFD, err) {
			t.Errorf("Remove(%d) got err %v, want %v", fd, err, kerr.ErrBadFD)
		}
		if _, err := fdt.Dup(fd); !kerr.Equals(kerr.ErrBadFD, err) {
			t.Errorf("Dup(%d) got err %v, want %v", fd, err, kerr.ErrBadFD)
		}
	}
}

func TestFDTableReferences(t *testing.T) {
	stdin, _ := newCountingFile()
	stdout, _ := newCountingFile()
	fdt := newFDTable(stdin, stdout)
	file, c := newCountingFile()
	fd, err := fdt.NewFD(file)
	if err != nil {
		t.Fatalf("NewFD failed: %v", err)
	}
	dup, err := fdt.Dup(fd)
	if err != nil {
		t.Fatalf("Dup failed: %v", err)
	}
	clone := fdt.Fork()
	if got := file.ReadRefs(); got != 4 {
		t.Errorf("refs after dup and fork = %d, want 4", got)
	}

	fdt.Remove(fd)
	fdt.Remove(dup)
	if c.released != 0 {
		t.Errorf("file released while the forked table holds it")
	}
	clone.Release()
	if c.released != 1 {
		t.Errorf("file released %d times, want 1", c.released)
	}
	fdt.Release()
	if got := stdout.ReadRefs(); got != 1 {
		t.Errorf("stdout refs after both tables closed = %d, want 1", got)
	}
}

func TestFDTableLimit(t *testing.T) {
	stdin, _ := newCountingFile()
	stdout, _ := newCountingFile()
	fdt := newFDTable(stdin, stdout)
	for i := 3; i < MaxFDs; i++ {
		f, _ := newCountingFile()
		if _, err := fdt.NewFD(f); err != nil {
			t.Fatalf("NewFD #%d failed: %v", i, err)
		}
	}
	f, _ := newCountingFile()
	if _, err := fdt.NewFD(f); !kerr.Equals(kerr.ErrNoMem, err) {
		t.Errorf("NewFD past the limit got err %v, want %v", err, kerr.ErrNoMem)
	}
}
