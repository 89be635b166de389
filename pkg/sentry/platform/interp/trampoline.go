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

package interp

import (
	"fmt"

	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/ring0/pagetables"
	"rvsentry.dev/rvsentry/pkg/sentry/arch"
	"rvsentry.dev/rvsentry/pkg/sentry/mm"
)

// The trampoline page is mapped at the same address in the kernel and every
// user space, so the satp switch inside it does not move the program
// counter. restore and saveAll perform the two halves of that code: they
// touch the trap context only through its fixed field offsets.

// checkTrampoline panics unless the trampoline frame is mapped executable
// and kernel-only at the trampoline address of pt.
func (m *Machine) checkTrampoline(pt *pagetables.PageTables) {
	pte, ok := pt.Translate(mm.Trampoline.VPN())
	if !ok || !pte.Executable() || pte.User() || pte.PPN() != m.trampoline {
		panic(fmt.Sprintf("trampoline not mapped in address space %#x: %v", pt.Token(), pte))
	}
}

// contextBytes returns the host bytes of the trap context at va in the
// current user space, accessed with supervisor privilege.
func (m *Machine) contextBytes(va hostarch.Addr) []byte {
	pa, ok := m.pt.TranslateAddr(va)
	if !ok || va.PageOffset()+arch.TrapContextSize > hostarch.PageSize {
		panic(fmt.Sprintf("trap context %v not mapped in address space %#x", va, m.pt.Token()))
	}
	b, ok := m.mf.Slice(pa, arch.TrapContextSize)
	if !ok {
		panic(fmt.Sprintf("trap context %v maps outside physical memory", va))
	}
	return b
}

func (m *Machine) loadWord(ctx []byte, off int) uint64 {
	return hostarch.ByteOrder.Uint64(ctx[off:])
}

func (m *Machine) storeWord(ctx []byte, off int, v uint64) {
	hostarch.ByteOrder.PutUint64(ctx[off:], v)
}

// restore switches to the user space, loads every register from the trap
// context and returns to user mode at sepc.
func (m *Machine) restore(va hostarch.Addr, userSatp uint64) {
	if m.satp>>60 != pagetables.ModeSv39>>60 || userSatp>>60 != pagetables.ModeSv39>>60 {
		panic(fmt.Sprintf("trap return with satp %#x from kernel satp %#x", userSatp, m.satp))
	}
	m.checkTrampoline(pagetables.FromToken(m.mf, m.satp))
	m.satp = userSatp
	m.pt = pagetables.FromToken(m.mf, userSatp)
	m.checkTrampoline(m.pt)

	ctx := m.contextBytes(va)
	if h := m.loadWord(ctx, arch.OffsetTrapHandler); h != uint64(m.trapHandler) {
		panic(fmt.Sprintf("trap context names trap handler %#x, want %v", h, m.trapHandler))
	}
	if m.loadWord(ctx, arch.OffsetSstatus)&arch.SstatusSPP != 0 {
		panic("trap return to supervisor mode")
	}
	m.x[0] = 0
	for i := 1; i < 32; i++ {
		m.x[i] = m.loadWord(ctx, arch.OffsetX+i*8)
	}
	m.pc = m.loadWord(ctx, arch.OffsetSepc)
}

// saveAll stores every user register and the trap pc into the trap
// context, then switches to the kernel space named by the context.
func (m *Machine) saveAll(va hostarch.Addr) {
	ctx := m.contextBytes(va)
	for i := 0; i < 32; i++ {
		m.storeWord(ctx, arch.OffsetX+i*8, m.x[i])
	}
	sstatus := m.loadWord(ctx, arch.OffsetSstatus)
	m.storeWord(ctx, arch.OffsetSstatus, (sstatus|arch.SstatusSPIE)&^arch.SstatusSPP)
	m.storeWord(ctx, arch.OffsetSepc, m.pc)
	m.satp = m.loadWord(ctx, arch.OffsetKernelSatp)
	m.pt = nil
}
