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
	"fmt"
	"strings"

	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/sentry/fs"
	"rvsentry.dev/rvsentry/pkg/sync"
)

// MaxFDs is the size limit of a descriptor table.
const MaxFDs = 256

// FDTable maps descriptors to files. Each table entry holds one reference
// on its file.
type FDTable struct {
	mu sync.Mutex

	// files is indexed by descriptor. Free slots are nil.
	files []*fs.File
}

// newFDTable returns a table with stdin at 0 and stdout at 1 and 2.
func newFDTable(stdin, stdout *fs.File) *FDTable {
	stdin.IncRef()
	stdout.IncRef()
	stdout.IncRef()
	return &FDTable{files: []*fs.File{stdin, stdout, stdout}}
}

// NewFD installs file at the lowest free descriptor and returns it. The
// table takes over the caller's reference.
func (f *FDTable) NewFD(file *fs.File) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for fd, slot := range f.files {
		if slot == nil {
			f.files[fd] = file
			return int32(fd), nil
		}
	}
	if len(f.files) >= MaxFDs {
		return -1, kerr.ErrNoMem
	}
	f.files = append(f.files, file)
	return int32(len(f.files) - 1), nil
}

// Get returns the file at fd with an extra reference, which the caller
// must drop.
func (f *FDTable) Get(fd int32) (*fs.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fd < 0 || int(fd) >= len(f.files) || f.files[fd] == nil {
		return nil, kerr.ErrBadFD
	}
	file := f.files[fd]
	file.IncRef()
	return file, nil
}

// Dup installs another reference to the file at fd and returns the new
// descriptor.
func (f *FDTable) Dup(fd int32) (int32, error) {
	file, err := f.Get(fd)
	if err != nil {
		return -1, err
	}
	nfd, err := f.NewFD(file)
	if err != nil {
		file.DecRef()
	}
	return nfd, err
}

// Remove clears fd and drops the table's reference.
func (f *FDTable) Remove(fd int32) error {
	f.mu.Lock()
	if fd < 0 || int(fd) >= len(f.files) || f.files[fd] == nil {
		f.mu.Unlock()
		return kerr.ErrBadFD
	}
	file := f.files[fd]
	f.files[fd] = nil
	f.mu.Unlock()

	// Release may notify waiters; do it outside the lock.
	file.DecRef()
	return nil
}

// Fork returns a copy of the table sharing every file.
func (f *FDTable) Fork() *FDTable {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := &FDTable{files: make([]*fs.File, len(f.files))}
	for fd, file := range f.files {
		if file != nil {
			file.IncRef()
			clone.files[fd] = file
		}
	}
	return clone
}

// Len returns the number of open descriptors.
func (f *FDTable) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, file := range f.files {
		if file != nil {
			n++
		}
	}
	return n
}

// Release closes every descriptor.
func (f *FDTable) Release() {
	f.mu.Lock()
	files := f.files
	f.files = nil
	f.mu.Unlock()
	for _, file := range files {
		if file != nil {
			file.DecRef()
		}
	}
}

// String returns a description of the table, one descriptor per line.
func (f *FDTable) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	for fd, file := range f.files {
		if file != nil {
			fmt.Fprintf(&b, "\tfd:%d => %v\n", fd, file)
		}
	}
	return b.String()
}
