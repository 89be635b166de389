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

package rv64

import (
	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/marshal"
	"rvsentry.dev/rvsentry/pkg/marshal/primitive"
	"rvsentry.dev/rvsentry/pkg/sentry/arch"
	"rvsentry.dev/rvsentry/pkg/sentry/fs"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel/pipe"
	"rvsentry.dev/rvsentry/pkg/usermem"
)

// copyInPath copies a NUL-terminated path from user memory.
func copyInPath(t *kernel.Task, addr hostarch.Addr) (string, error) {
	return t.IO().CopyInString(addr, usermem.MaxStringLen)
}

// installFile gives file a descriptor, dropping it if the table is full.
func installFile(t *kernel.Task, file *fs.File) (uintptr, *kernel.SyscallControl, error) {
	fd, err := t.FDTable().NewFD(file)
	if err != nil {
		file.DecRef()
		return 0, nil, err
	}
	return uintptr(fd), nil, nil
}

// Dup implements dup(fd).
func Dup(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	nfd, err := t.FDTable().Dup(args[0].Int())
	if err != nil {
		return 0, nil, err
	}
	return uintptr(nfd), nil, nil
}

// Open implements open(path, flags).
func Open(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := copyInPath(t, args[0].Pointer())
	if err != nil {
		return 0, nil, err
	}
	file, err := t.Kernel().Filesystem().Open(path, args[1].Uint())
	if err != nil {
		return 0, nil, err
	}
	return installFile(t, file)
}

// Close implements close(fd).
func Close(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, nil, t.FDTable().Remove(args[0].Int())
}

// Pipe implements pipe(fds). The read end is written to fds[0] and the
// write end to fds[1], each as a 64-bit word.
func Pipe(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	io := t.IO()
	// Nothing is installed unless both words can be written.
	if _, err := io.CopyOutBytes(addr, make([]byte, 16)); err != nil {
		return 0, nil, err
	}

	r, w := pipe.NewConnectedPipe(pipe.DefaultPipeSize)
	fdt := t.FDTable()
	rfd, err := fdt.NewFD(r)
	if err != nil {
		r.DecRef()
		w.DecRef()
		return 0, nil, err
	}
	wfd, err := fdt.NewFD(w)
	if err != nil {
		fdt.Remove(rfd)
		w.DecRef()
		return 0, nil, err
	}
	if err := primitive.CopyUint64Out(io, addr, uint64(rfd)); err != nil {
		return 0, nil, err
	}
	if err := primitive.CopyUint64Out(io, addr+8, uint64(wfd)); err != nil {
		return 0, nil, err
	}
	return 0, nil, nil
}

// Fstat implements fstat(fd, stat).
func Fstat(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	file, err := t.FDTable().Get(args[0].Int())
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()
	st := file.Stat()
	if _, err := marshal.CopyOut(t.IO(), args[1].Pointer(), &st); err != nil {
		return 0, nil, err
	}
	return 0, nil, nil
}

// Linkat implements linkat(olddirfd, oldpath, newdirfd, newpath, flags).
// Only AT_FDCWD is accepted as a directory.
func Linkat(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	if args[0].Int() != rvabi.AtFDCWD || args[2].Int() != rvabi.AtFDCWD {
		return 0, nil, kerr.ErrBadFD
	}
	oldPath, err := copyInPath(t, args[1].Pointer())
	if err != nil {
		return 0, nil, err
	}
	newPath, err := copyInPath(t, args[3].Pointer())
	if err != nil {
		return 0, nil, err
	}
	return 0, nil, t.Kernel().Filesystem().Link(oldPath, newPath)
}

// Unlinkat implements unlinkat(dirfd, path, flags).
func Unlinkat(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	if args[0].Int() != rvabi.AtFDCWD {
		return 0, nil, kerr.ErrBadFD
	}
	path, err := copyInPath(t, args[1].Pointer())
	if err != nil {
		return 0, nil, err
	}
	return 0, nil, t.Kernel().Filesystem().Unlink(path)
}
