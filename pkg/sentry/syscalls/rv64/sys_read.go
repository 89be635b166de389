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
	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/sentry/arch"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel"
)

// MaxRWCount is the largest transfer of one read or write. Larger requests
// are truncated.
const MaxRWCount = 1 << 20

// Read implements read(fd, buf, len).
func Read(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := min(args[2].SizeT(), MaxRWCount)

	file, err := t.FDTable().Get(fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()
	if !file.Readable() {
		return 0, nil, kerr.ErrBadFD
	}

	// Check the destination before consuming anything from the file.
	io := t.IO()
	if _, err := io.Buffers(addr, uint64(size), hostarch.Write); err != nil {
		return 0, nil, err
	}
	buf := make([]byte, size)
	n, err := file.Read(buf)
	if err != nil {
		ctrl, err := handleIOError(t, file, err, EventMaskRead)
		return 0, ctrl, err
	}
	if _, err := io.CopyOutBytes(addr, buf[:n]); err != nil {
		return 0, nil, err
	}
	return uintptr(n), nil, nil
}

// Write implements write(fd, buf, len).
func Write(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := min(args[2].SizeT(), MaxRWCount)

	file, err := t.FDTable().Get(fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()
	if !file.Writable() {
		return 0, nil, kerr.ErrBadFD
	}

	buf := make([]byte, size)
	if _, err := t.IO().CopyInBytes(addr, buf); err != nil {
		return 0, nil, err
	}
	n, err := file.Write(buf)
	if err != nil {
		ctrl, err := handleIOError(t, file, err, EventMaskWrite)
		return 0, ctrl, err
	}
	return uintptr(n), nil, nil
}
