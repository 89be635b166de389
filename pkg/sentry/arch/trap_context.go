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

package arch

import (
	"fmt"

	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/marshal"
)

// sstatus bits.
const (
	// SstatusSPIE enables interrupts after sret.
	SstatusSPIE = uint64(1) << 5

	// SstatusSPP is set when the trap came from supervisor mode.
	SstatusSPP = uint64(1) << 8
)

// Byte offsets of the trap context fields. The trampoline saves and
// restores the context through these offsets only.
const (
	OffsetX           = 0
	OffsetSstatus     = 32 * 8
	OffsetSepc        = 33 * 8
	OffsetKernelSatp  = 34 * 8
	OffsetKernelSp    = 35 * 8
	OffsetTrapHandler = 36 * 8

	// TrapContextSize is the size of a marshalled TrapContext.
	TrapContextSize = 37 * 8
)

// TrapContext is the register state saved on entry to the kernel from user
// mode. It lives at mm.TrapContextBase of each user address space.
type TrapContext struct {
	// X are the general purpose registers. X[0] is always zero.
	X [32]uint64

	Sstatus uint64
	Sepc    uint64

	// KernelSatp is the token of the kernel address space.
	KernelSatp uint64

	// KernelSp is the top of the task's kernel stack.
	KernelSp uint64

	// TrapHandler is the kernel entry point for traps.
	TrapHandler uint64
}

var _ marshal.Marshallable = (*TrapContext)(nil)

// NewUserTrapContext returns a context that enters user mode at entry with
// stack pointer sp.
func NewUserTrapContext(entry, sp hostarch.Addr, kernelSatp uint64, kernelSp, trapHandler hostarch.Addr) TrapContext {
	tc := TrapContext{
		Sstatus:     SstatusSPIE &^ SstatusSPP,
		Sepc:        uint64(entry),
		KernelSatp:  kernelSatp,
		KernelSp:    uint64(kernelSp),
		TrapHandler: uint64(trapHandler),
	}
	tc.X[RegSP] = uint64(sp)
	return tc
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (tc *TrapContext) SizeBytes() int {
	return TrapContextSize
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (tc *TrapContext) MarshalBytes(dst []byte) {
	for i, x := range tc.X {
		hostarch.ByteOrder.PutUint64(dst[OffsetX+i*8:], x)
	}
	hostarch.ByteOrder.PutUint64(dst[OffsetSstatus:], tc.Sstatus)
	hostarch.ByteOrder.PutUint64(dst[OffsetSepc:], tc.Sepc)
	hostarch.ByteOrder.PutUint64(dst[OffsetKernelSatp:], tc.KernelSatp)
	hostarch.ByteOrder.PutUint64(dst[OffsetKernelSp:], tc.KernelSp)
	hostarch.ByteOrder.PutUint64(dst[OffsetTrapHandler:], tc.TrapHandler)
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (tc *TrapContext) UnmarshalBytes(src []byte) {
	for i := range tc.X {
		tc.X[i] = hostarch.ByteOrder.Uint64(src[OffsetX+i*8:])
	}
	tc.Sstatus = hostarch.ByteOrder.Uint64(src[OffsetSstatus:])
	tc.Sepc = hostarch.ByteOrder.Uint64(src[OffsetSepc:])
	tc.KernelSatp = hostarch.ByteOrder.Uint64(src[OffsetKernelSatp:])
	tc.KernelSp = hostarch.ByteOrder.Uint64(src[OffsetKernelSp:])
	tc.TrapHandler = hostarch.ByteOrder.Uint64(src[OffsetTrapHandler:])
}

// SyscallNo returns the syscall number in a7.
func (tc *TrapContext) SyscallNo() uintptr {
	return uintptr(tc.X[RegA7])
}

// SyscallArgs returns the syscall arguments in a0 through a5.
func (tc *TrapContext) SyscallArgs() SyscallArguments {
	var args SyscallArguments
	for i := range args {
		args[i].Value = uintptr(tc.X[RegA0+i])
	}
	return args
}

// SetReturn stores a syscall return value in a0.
func (tc *TrapContext) SetReturn(v uintptr) {
	tc.X[RegA0] = uint64(v)
}

// Return returns the value of a0.
func (tc *TrapContext) Return() uintptr {
	return uintptr(tc.X[RegA0])
}

// IP returns the saved program counter.
func (tc *TrapContext) IP() hostarch.Addr {
	return hostarch.Addr(tc.Sepc)
}

// SetIP sets the saved program counter.
func (tc *TrapContext) SetIP(pc hostarch.Addr) {
	tc.Sepc = uint64(pc)
}

// Stack returns the user stack pointer.
func (tc *TrapContext) Stack() hostarch.Addr {
	return hostarch.Addr(tc.X[RegSP])
}

// SetStack sets the user stack pointer.
func (tc *TrapContext) SetStack(sp hostarch.Addr) {
	tc.X[RegSP] = uint64(sp)
}

// String implements fmt.Stringer.String.
func (tc *TrapContext) String() string {
	return fmt.Sprintf("pc=%#x sp=%#x a0=%#x a7=%d", tc.Sepc, tc.X[RegSP], tc.X[RegA0], tc.X[RegA7])
}
