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

package fs

import (
	"fmt"
	"strings"

	"github.com/google/btree"
	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/log"
	"rvsentry.dev/rvsentry/pkg/sync"
)

// Inode is an in-memory regular file.
type Inode struct {
	ino uint64

	// mu protects data and nlink.
	mu    sync.Mutex
	data  []byte
	nlink uint32
}

// Ino returns the inode number.
func (i *Inode) Ino() uint64 {
	return i.ino
}

// Links returns the number of names referring to i.
func (i *Inode) Links() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.nlink
}

// Size returns the length of the file.
func (i *Inode) Size() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.data)
}

// Bytes returns a copy of the file contents.
func (i *Inode) Bytes() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]byte(nil), i.data...)
}

func (i *Inode) truncate() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.data = nil
}

func (i *Inode) stat() rvabi.Stat {
	i.mu.Lock()
	defer i.mu.Unlock()
	return rvabi.Stat{Ino: i.ino, Mode: rvabi.StatModeFile, Nlink: i.nlink}
}

type dirent struct {
	name  string
	inode *Inode
}

func direntLess(a, b dirent) bool {
	return a.name < b.name
}

// Filesystem is the single flat directory holding the bundled application
// images and every file created at runtime. Names are looked up without a
// leading slash.
type Filesystem struct {
	// mu protects the fields below.
	mu      sync.Mutex
	names   *btree.BTreeG[dirent]
	nextIno uint64
}

// NewFilesystem returns an empty filesystem.
func NewFilesystem() *Filesystem {
	return &Filesystem{
		names:   btree.NewG[dirent](8, direntLess),
		nextIno: 1,
	}
}

func cleanName(name string) string {
	return strings.TrimPrefix(name, "/")
}

// +checklocks:fs.mu
func (fs *Filesystem) lookupLocked(name string) (*Inode, bool) {
	d, ok := fs.names.Get(dirent{name: name})
	return d.inode, ok
}

// +checklocks:fs.mu
func (fs *Filesystem) createLocked(name string) *Inode {
	i := &Inode{ino: fs.nextIno, nlink: 1}
	fs.nextIno++
	fs.names.ReplaceOrInsert(dirent{name: name, inode: i})
	return i
}

// Add creates name with contents data, replacing any existing file.
func (fs *Filesystem) Add(name string, data []byte) *Inode {
	name = cleanName(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if old, ok := fs.lookupLocked(name); ok {
		old.mu.Lock()
		old.nlink--
		old.mu.Unlock()
	}
	i := fs.createLocked(name)
	i.data = append([]byte(nil), data...)
	return i
}

// Lookup returns the inode named name.
func (fs *Filesystem) Lookup(name string) (*Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	i, ok := fs.lookupLocked(cleanName(name))
	if !ok {
		return nil, kerr.ErrNoEntry
	}
	return i, nil
}

// ReadFile returns the contents of name.
func (fs *Filesystem) ReadFile(name string) ([]byte, error) {
	i, err := fs.Lookup(name)
	if err != nil {
		return nil, err
	}
	return i.Bytes(), nil
}

// List returns every name in order.
func (fs *Filesystem) List() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var names []string
	fs.names.Ascend(func(d dirent) bool {
		names = append(names, d.name)
		return true
	})
	return names
}

// Open opens name with the open(2) flags in rvabi.
func (fs *Filesystem) Open(name string, flags uint32) (*File, error) {
	name = cleanName(name)
	if name == "" {
		return nil, kerr.ErrNoEntry
	}
	fs.mu.Lock()
	i, ok := fs.lookupLocked(name)
	switch {
	case !ok && flags&rvabi.O_CREATE == 0:
		fs.mu.Unlock()
		return nil, kerr.ErrNoEntry
	case !ok:
		i = fs.createLocked(name)
		log.Debugf("Created file %q, ino %d", name, i.ino)
	case flags&(rvabi.O_CREATE|rvabi.O_TRUNC) != 0:
		i.truncate()
	}
	fs.mu.Unlock()

	var ff FileFlags
	switch {
	case flags&rvabi.O_WRONLY != 0:
		ff.Write = true
	case flags&rvabi.O_RDWR != 0:
		ff.Read, ff.Write = true, true
	default:
		ff.Read = true
	}
	return NewFile(ff, &InodeFile{inode: i}), nil
}

// Link makes newName refer to the inode of oldName.
func (fs *Filesystem) Link(oldName, newName string) error {
	oldName, newName = cleanName(oldName), cleanName(newName)
	if oldName == newName || newName == "" {
		return kerr.ErrInvalid
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	i, ok := fs.lookupLocked(oldName)
	if !ok {
		return kerr.ErrNoEntry
	}
	if _, ok := fs.lookupLocked(newName); ok {
		return fmt.Errorf("%q: %w", newName, kerr.ErrInvalid)
	}
	i.mu.Lock()
	i.nlink++
	i.mu.Unlock()
	fs.names.ReplaceOrInsert(dirent{name: newName, inode: i})
	return nil
}

// Unlink removes name. The inode is freed when its last name is removed
// and no open file refers to it.
func (fs *Filesystem) Unlink(name string) error {
	name = cleanName(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d, ok := fs.names.Delete(dirent{name: name})
	if !ok {
		return kerr.ErrNoEntry
	}
	d.inode.mu.Lock()
	d.inode.nlink--
	d.inode.mu.Unlock()
	return nil
}

// InodeFile is an open Inode.
type InodeFile struct {
	NoopRelease

	inode *Inode

	// mu protects offset.
	mu     sync.Mutex
	offset int
}

// Read implements FileOperations.Read.
func (f *InodeFile) Read(dst []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	if f.offset >= len(f.inode.data) {
		return 0, nil
	}
	n := copy(dst, f.inode.data[f.offset:])
	f.offset += n
	return n, nil
}

// Write implements FileOperations.Write.
func (f *InodeFile) Write(src []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	if end := f.offset + len(src); end > len(f.inode.data) {
		f.inode.data = append(f.inode.data, make([]byte, end-len(f.inode.data))...)
	}
	n := copy(f.inode.data[f.offset:], src)
	f.offset += n
	return n, nil
}

// Stat implements FileOperations.Stat.
func (f *InodeFile) Stat() rvabi.Stat {
	return f.inode.stat()
}
