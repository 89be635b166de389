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
	"rvsentry.dev/rvsentry/pkg/sentry/arch"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel"
	"rvsentry.dev/rvsentry/pkg/sentry/mm"
)

// Mmap implements mmap(start, len, prot). start must be page aligned and
// prot a non-empty subset of PROT_READ|PROT_WRITE|PROT_EXEC. The pages are
// zeroed and user accessible.
func Mmap(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	start := args[0].Pointer()
	length := args[1].Uint64()
	prot := args[2].Uint64()
	if !start.IsPageAligned() || prot == 0 || prot&^rvabi.ProtMask != 0 {
		return 0, nil, kerr.ErrInvalid
	}
	if length == 0 {
		return 0, nil, nil
	}
	end, ok := start.AddLength(length)
	if !ok || !end.Canonical() {
		return 0, nil, kerr.ErrInvalid
	}
	if pages := (length + hostarch.PageSize - 1) / hostarch.PageSize; pages > t.Kernel().Allocator().Free() {
		return 0, nil, kerr.ErrNoMem
	}

	perms := mm.PermU
	if prot&rvabi.ProtRead != 0 {
		perms |= mm.PermR
	}
	if prot&rvabi.ProtWrite != 0 {
		perms |= mm.PermW
	}
	if prot&rvabi.ProtExec != 0 {
		perms |= mm.PermX
	}
	if err := t.MemoryManager().InsertFramedArea(start, end, perms); err != nil {
		return 0, nil, memoryError(err)
	}
	return 0, nil, nil
}

// Munmap implements munmap(start, len). Every page in the range must be
// mapped. A zero len removes the whole area that starts at start.
func Munmap(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	start := args[0].Pointer()
	length := args[1].Uint64()
	if !start.IsPageAligned() {
		return 0, nil, kerr.ErrInvalid
	}
	ms := t.MemoryManager()
	if length == 0 {
		if a, ok := ms.AreaAt(start.VPN()); !ok || a.Perms&mm.PermU == 0 {
			return 0, nil, kerr.ErrNotMapped
		}
		return 0, nil, memoryError(ms.RemoveAreaWithStart(start.VPN()))
	}
	end, ok := start.AddLength(length)
	if !ok {
		return 0, nil, kerr.ErrInvalid
	}
	if end, ok = end.RoundUp(); !ok {
		return 0, nil, kerr.ErrInvalid
	}
	return 0, nil, memoryError(ms.RemoveArea(start, end))
}
