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

// Package interp implements a platform that executes user code on a
// software RV64IM hart.
//
// The hart only ever runs in user mode: the kernel is host code, so every
// supervisor-mode step is performed by the kernel itself or, for the
// privilege transition, by the trampoline emulation in this package. User
// accesses are translated through the Sv39 page tables the kernel wrote to
// physical memory. There is no TLB; page table updates take effect on the
// next access.
package interp

import (
	"math"

	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/ring0/pagetables"
	"rvsentry.dev/rvsentry/pkg/sbi"
	"rvsentry.dev/rvsentry/pkg/sentry/pgalloc"
	"rvsentry.dev/rvsentry/pkg/sentry/platform"
)

func init() {
	platform.Register("interp", constructor{})
}

type constructor struct{}

// New implements platform.Constructor.New.
func (constructor) New(opts platform.Options) (platform.Hart, error) {
	return New(opts), nil
}

// Machine is a single software hart.
type Machine struct {
	mf          *pgalloc.MemoryFile
	fw          *sbi.Firmware
	trampoline  hostarch.PPN
	trapHandler hostarch.Addr

	satp     uint64
	time     uint64
	stimecmp uint64

	// User register state while in user mode.
	x  [32]uint64
	pc uint64

	// pt is the user translation root while in user mode.
	pt *pagetables.PageTables

	// retired counts executed instructions.
	retired uint64
}

var _ platform.Hart = (*Machine)(nil)

// New returns a hart over opts.Memory.
func New(opts platform.Options) *Machine {
	m := &Machine{
		mf:          opts.Memory,
		trampoline:  opts.Trampoline,
		trapHandler: opts.TrapHandler,
		stimecmp:    math.MaxUint64,
	}
	m.fw = sbi.New(opts.Console, m)
	return m
}

// SetSatp implements platform.Hart.SetSatp.
func (m *Machine) SetSatp(token uint64) {
	m.satp = token
}

// Satp implements platform.Hart.Satp.
func (m *Machine) Satp() uint64 {
	return m.satp
}

// SetTimer implements platform.Hart.SetTimer.
func (m *Machine) SetTimer(stimecmp uint64) {
	m.stimecmp = stimecmp
}

// SetTimecmp implements sbi.Timer.SetTimecmp.
func (m *Machine) SetTimecmp(v uint64) {
	m.stimecmp = v
}

// Time implements platform.Hart.Time and sbi.Timer.Time. The counter
// advances once per retired user instruction.
func (m *Machine) Time() uint64 {
	return m.time
}

// Firmware implements platform.Hart.Firmware.
func (m *Machine) Firmware() *sbi.Firmware {
	return m.fw
}

// Retired returns the number of user instructions executed.
func (m *Machine) Retired() uint64 {
	return m.retired
}

// Enter implements platform.Hart.Enter.
func (m *Machine) Enter(trapContext hostarch.Addr, userSatp uint64) platform.Trap {
	m.restore(trapContext, userSatp)
	trap := m.run()
	m.saveAll(trapContext)
	return trap
}

// run executes user instructions until one traps.
func (m *Machine) run() platform.Trap {
	for {
		if m.time >= m.stimecmp {
			return timerInterrupt()
		}
		if trap, ok := m.step(); !ok {
			return trap
		}
		m.retired++
		m.time++
	}
}
