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

// Package platform provides a Platform abstraction.
//
// A platform supplies the hart the kernel runs user code on. The kernel
// prepares a trap context and a user address space, then calls Hart.Enter,
// which performs the trampoline's restore, runs user code, and performs the
// trampoline's save when the next trap arrives.
package platform

import (
	"fmt"
	"sort"

	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/sbi"
	"rvsentry.dev/rvsentry/pkg/sentry/pgalloc"
	"rvsentry.dev/rvsentry/pkg/sync"
)

// Trap is the cause and trap value of a transition from user mode to the
// kernel, as recorded in scause and stval.
type Trap struct {
	Cause uint64
	Stval uint64
}

// IsInterrupt returns true if the trap is an interrupt.
func (t Trap) IsInterrupt() bool {
	return t.Cause&rvabi.InterruptBit != 0
}

// Code returns the exception or interrupt code.
func (t Trap) Code() uint64 {
	return t.Cause &^ rvabi.InterruptBit
}

// String implements fmt.Stringer.String.
func (t Trap) String() string {
	if t.IsInterrupt() {
		return fmt.Sprintf("interrupt %d", t.Code())
	}
	return fmt.Sprintf("exception %d, stval = %#x", t.Code(), t.Stval)
}

// Hart is a single hardware thread.
type Hart interface {
	// SetSatp installs the kernel's translation root.
	SetSatp(token uint64)

	// Satp returns the installed translation root.
	Satp() uint64

	// Enter switches to user mode through the trampoline: it restores the
	// trap context at trapContext in the space selected by userSatp, runs
	// user code until the next trap, saves the context back, switches to
	// the kernel satp stored in it, and returns the trap.
	Enter(trapContext hostarch.Addr, userSatp uint64) Trap

	// SetTimer arms the supervisor timer interrupt for time stimecmp.
	SetTimer(stimecmp uint64)

	// Time returns the time counter.
	Time() uint64

	// Firmware returns the firmware call layer.
	Firmware() *sbi.Firmware
}

// Options configure a new hart.
type Options struct {
	// Memory is physical memory.
	Memory *pgalloc.MemoryFile

	// Console is the firmware console.
	Console *sbi.Console

	// Trampoline is the physical page every user space must map
	// executable at the trampoline address.
	Trampoline hostarch.PPN

	// TrapHandler is the only trap handler address a trap context may
	// name.
	TrapHandler hostarch.Addr
}

// Constructor creates a new platform.
type Constructor interface {
	// New returns a new hart.
	New(opts Options) (Hart, error)
}

var (
	platformsMu sync.Mutex
	platforms   = map[string]Constructor{}
)

// Register registers a new platform type.
func Register(name string, c Constructor) {
	platformsMu.Lock()
	defer platformsMu.Unlock()
	if _, ok := platforms[name]; ok {
		panic(fmt.Sprintf("duplicate platform registration for name %q", name))
	}
	platforms[name] = c
}

// Lookup looks up the platform constructor by name.
func Lookup(name string) (Constructor, error) {
	platformsMu.Lock()
	defer platformsMu.Unlock()
	p, ok := platforms[name]
	if !ok {
		return nil, fmt.Errorf("unknown platform: %q", name)
	}
	return p, nil
}

// List lists available platforms.
func List() []string {
	platformsMu.Lock()
	defer platformsMu.Unlock()
	var names []string
	for name := range platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
