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

// Package fs defines the descriptor capability shared by every kind of open
// file: console streams, pipes, blocking primitives and app-image inodes.
package fs

import (
	"fmt"

	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/metric"
	"rvsentry.dev/rvsentry/pkg/refs"
	"rvsentry.dev/rvsentry/pkg/waiter"
)

var (
	reads  = metric.MustCreateNewUint64Metric("/fs/reads", "Number of file reads.")
	writes = metric.MustCreateNewUint64Metric("/fs/writes", "Number of file writes.")
)

// FileFlags encodes file flags.
type FileFlags struct {
	// Read indicates that the file is readable.
	Read bool

	// Write indicates that the file is writable.
	Write bool

	// NonBlocking makes operations that cannot complete now fail with
	// kerr.ErrWouldBlock instead of suspending the caller.
	NonBlocking bool
}

// String implements fmt.Stringer.String.
func (f FileFlags) String() string {
	s := fmt.Sprintf("%c%c", flagChar(f.Read, 'r'), flagChar(f.Write, 'w'))
	if f.NonBlocking {
		s += ",nonblock"
	}
	return s
}

func flagChar(set bool, c byte) byte {
	if set {
		return c
	}
	return '-'
}

// FileOperations are operations on a File that diverge per file kind.
//
// Read and Write return kerr.ErrWouldBlock if nothing can be transferred
// yet. A FileOperations whose readiness can change also implements
// waiter.Waitable so that blocked callers are woken.
type FileOperations interface {
	// Read reads into dst and returns the number of bytes read. Zero with
	// a nil error is end of file.
	Read(dst []byte) (int, error)

	// Write writes src and returns the number of bytes written.
	Write(src []byte) (int, error)

	// Stat returns the file's attributes.
	Stat() rvabi.Stat

	// Release is called when the last reference to the File is dropped.
	Release()
}

// File is an open file handle, shared between descriptor table slots by dup
// and fork.
type File struct {
	refs.AtomicRefCount

	flags FileFlags

	// FileOperations implements the behavior of this kind of file.
	FileOperations FileOperations
}

var _ refs.RefCounter = (*File)(nil)

// NewFile returns a File holding one reference that owns the lifetime of
// fops.
func NewFile(flags FileFlags, fops FileOperations) *File {
	return &File{flags: flags, FileOperations: fops}
}

// DecRef drops a reference, releasing the operations on the last one.
func (f *File) DecRef() {
	f.DecRefWithDestructor(f.FileOperations.Release)
}

// Flags returns the file's flags.
func (f *File) Flags() FileFlags {
	return f.flags
}

// Readable returns true if the file was opened for reading.
func (f *File) Readable() bool {
	return f.flags.Read
}

// Writable returns true if the file was opened for writing.
func (f *File) Writable() bool {
	return f.flags.Write
}

// Read reads from the file into dst.
func (f *File) Read(dst []byte) (int, error) {
	if !f.flags.Read {
		return 0, kerr.ErrBadFD
	}
	reads.Increment()
	return f.FileOperations.Read(dst)
}

// Write writes src to the file.
func (f *File) Write(src []byte) (int, error) {
	if !f.flags.Write {
		return 0, kerr.ErrBadFD
	}
	writes.Increment()
	return f.FileOperations.Write(src)
}

// Stat returns the file's attributes.
func (f *File) Stat() rvabi.Stat {
	return f.FileOperations.Stat()
}

// Waitable returns the wait queue of the file, if its readiness can change.
func (f *File) Waitable() (waiter.Waitable, bool) {
	w, ok := f.FileOperations.(waiter.Waitable)
	return w, ok
}

// String implements fmt.Stringer.String.
func (f *File) String() string {
	return fmt.Sprintf("%T(%v)", f.FileOperations, f.flags)
}

// NoopRelease implements FileOperations.Release for files that hold no
// resources.
type NoopRelease struct{}

// Release implements FileOperations.Release.
func (NoopRelease) Release() {}

// NullStat implements FileOperations.Stat for files without attributes.
type NullStat struct{}

// Stat implements FileOperations.Stat.
func (NullStat) Stat() rvabi.Stat {
	return rvabi.Stat{Mode: rvabi.StatModeNull}
}
