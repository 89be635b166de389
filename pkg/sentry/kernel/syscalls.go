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

	"rvsentry.dev/rvsentry/pkg/sentry/arch"
	"rvsentry.dev/rvsentry/pkg/sync"
)

// SyscallFn is a syscall implementation.
type SyscallFn func(t *Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *SyscallControl, error)

// Syscall includes the syscall implementation and its name.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation.
	Fn SyscallFn
}

// SyscallTable is a mapping of syscall numbers to implementations.
type SyscallTable struct {
	// ABI names the calling convention, and identifies the table to
	// LookupSyscallTable.
	ABI string

	// Table is the collection of functions.
	Table map[uintptr]Syscall

	// Missing is called for syscalls that are not in Table. It must be
	// set.
	Missing func(t *Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error)
}

// Lookup returns the syscall for sysno.
func (s *SyscallTable) Lookup(sysno uintptr) (Syscall, bool) {
	sc, ok := s.Table[sysno]
	return sc, ok
}

// Name returns the name of sysno, or a placeholder for unknown numbers.
func (s *SyscallTable) Name(sysno uintptr) string {
	if sc, ok := s.Table[sysno]; ok {
		return sc.Name
	}
	return fmt.Sprintf("sys_%d", sysno)
}

var (
	tablesMu sync.Mutex
	tables   = map[string]*SyscallTable{}
)

// RegisterSyscallTable registers s for use by kernels with s.ABI.
func RegisterSyscallTable(s *SyscallTable) {
	tablesMu.Lock()
	defer tablesMu.Unlock()
	if s.Missing == nil {
		panic(fmt.Sprintf("syscall table %q has no Missing handler", s.ABI))
	}
	if _, ok := tables[s.ABI]; ok {
		panic(fmt.Sprintf("duplicate syscall table registration for ABI %q", s.ABI))
	}
	tables[s.ABI] = s
}

// LookupSyscallTable returns the table registered for abi.
func LookupSyscallTable(abi string) (*SyscallTable, bool) {
	tablesMu.Lock()
	defer tablesMu.Unlock()
	s, ok := tables[abi]
	return s, ok
}

// SyscallControl is returned by syscalls to control the behavior of the
// kernel loop.
type SyscallControl struct {
	// next is what happens to the task after the syscall.
	next runOutcome

	// restart rewinds the program counter so that the syscall is issued
	// again when the task next runs.
	restart bool

	// ignoreReturn is set if the return value must not be written.
	ignoreReturn bool
}

var (
	// CtrlDoExit is returned by syscalls that end the calling task.
	CtrlDoExit = &SyscallControl{next: runExited, ignoreReturn: true}

	// CtrlYield is returned by syscalls that give up the hart after
	// returning.
	CtrlYield = &SyscallControl{next: runResched}

	// CtrlRestartYield gives up the hart and issues the syscall again
	// later. It is used for files that cannot notify waiters.
	CtrlRestartYield = &SyscallControl{next: runResched, restart: true, ignoreReturn: true}

	// ctrlBlock is returned through Task.BlockOn.
	ctrlBlock = &SyscallControl{next: runBlocked, restart: true, ignoreReturn: true}
)
