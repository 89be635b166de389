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
	"math"
	"math/bits"

	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/sentry/platform"
)

// Major opcodes.
const (
	opLoad    = 0x03
	opMiscMem = 0x0f
	opImm     = 0x13
	opAuipc   = 0x17
	opImm32   = 0x1b
	opStore   = 0x23
	opOp      = 0x33
	opLui     = 0x37
	opOp32    = 0x3b
	opBranch  = 0x63
	opJalr    = 0x67
	opJal     = 0x6f
	opSystem  = 0x73
)

// Unprivileged counter CSRs.
const (
	csrCycle   = 0xc00
	csrTime    = 0xc01
	csrInstret = 0xc02
)

func timerInterrupt() platform.Trap {
	return platform.Trap{Cause: rvabi.InterruptBit | rvabi.InterruptSupervisorTimer}
}

func rd(inst uint32) uint32     { return (inst >> 7) & 0x1f }
func rs1(inst uint32) uint32    { return (inst >> 15) & 0x1f }
func rs2(inst uint32) uint32    { return (inst >> 20) & 0x1f }
func funct3(inst uint32) uint32 { return (inst >> 12) & 0x7 }
func funct7(inst uint32) uint32 { return inst >> 25 }

func immI(inst uint32) uint64 { return uint64(int64(int32(inst) >> 20)) }

func immS(inst uint32) uint64 {
	return uint64(int64(int32(inst&0xfe000000)>>20) | int64((inst>>7)&0x1f))
}

func immB(inst uint32) uint64 {
	v := int64(int32(inst&0x80000000)>>19) |
		int64((inst&0x80)<<4) |
		int64((inst>>20)&0x7e0) |
		int64((inst>>7)&0x1e)
	return uint64(v)
}

func immU(inst uint32) uint64 { return uint64(int64(int32(inst & 0xfffff000))) }

func immJ(inst uint32) uint64 {
	v := int64(int32(inst&0x80000000)>>11) |
		int64(inst&0xff000) |
		int64((inst>>9)&0x800) |
		int64((inst>>20)&0x7fe)
	return uint64(v)
}

func sext32(v uint64) uint64 { return uint64(int64(int32(v))) }

func (m *Machine) setReg(r uint32, v uint64) {
	if r != 0 {
		m.x[r] = v
	}
}

func illegal(inst uint32) (platform.Trap, bool) {
	return platform.Trap{Cause: rvabi.CauseIllegalInstruction, Stval: uint64(inst)}, false
}

// step executes one instruction. It returns false, with the trap, if the
// instruction raised an exception; pc then still names the instruction.
func (m *Machine) step() (platform.Trap, bool) {
	inst, f := m.fetch(m.pc)
	if f != nil {
		return f.trap(), false
	}
	next := m.pc + 4
	a, b := m.x[rs1(inst)], m.x[rs2(inst)]

	switch inst & 0x7f {
	case opLui:
		m.setReg(rd(inst), immU(inst))

	case opAuipc:
		m.setReg(rd(inst), m.pc+immU(inst))

	case opJal:
		target := m.pc + immJ(inst)
		if target%4 != 0 {
			return platform.Trap{Cause: rvabi.CauseInstructionMisaligned, Stval: target}, false
		}
		m.setReg(rd(inst), next)
		next = target

	case opJalr:
		if funct3(inst) != 0 {
			return illegal(inst)
		}
		target := (a + immI(inst)) &^ 1
		if target%4 != 0 {
			return platform.Trap{Cause: rvabi.CauseInstructionMisaligned, Stval: target}, false
		}
		m.setReg(rd(inst), next)
		next = target

	case opBranch:
		var taken bool
		switch funct3(inst) {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = int64(a) < int64(b)
		case 5:
			taken = int64(a) >= int64(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		default:
			return illegal(inst)
		}
		if taken {
			target := m.pc + immB(inst)
			if target%4 != 0 {
				return platform.Trap{Cause: rvabi.CauseInstructionMisaligned, Stval: target}, false
			}
			next = target
		}

	case opLoad:
		addr := a + immI(inst)
		var (
			v uint64
			f *fault
		)
		switch funct3(inst) {
		case 0: // lb
			v, f = m.load(addr, 1)
			v = uint64(int64(int8(v)))
		case 1: // lh
			v, f = m.load(addr, 2)
			v = uint64(int64(int16(v)))
		case 2: // lw
			v, f = m.load(addr, 4)
			v = sext32(v)
		case 3: // ld
			v, f = m.load(addr, 8)
		case 4: // lbu
			v, f = m.load(addr, 1)
		case 5: // lhu
			v, f = m.load(addr, 2)
		case 6: // lwu
			v, f = m.load(addr, 4)
		default:
			return illegal(inst)
		}
		if f != nil {
			return f.trap(), false
		}
		m.setReg(rd(inst), v)

	case opStore:
		if funct3(inst) > 3 {
			return illegal(inst)
		}
		if f := m.store(a+immS(inst), 1<<funct3(inst), b); f != nil {
			return f.trap(), false
		}

	case opImm:
		v, ok := aluImm(inst, a)
		if !ok {
			return illegal(inst)
		}
		m.setReg(rd(inst), v)

	case opImm32:
		v, ok := aluImm32(inst, a)
		if !ok {
			return illegal(inst)
		}
		m.setReg(rd(inst), v)

	case opOp:
		v, ok := alu(inst, a, b)
		if !ok {
			return illegal(inst)
		}
		m.setReg(rd(inst), v)

	case opOp32:
		v, ok := alu32(inst, a, b)
		if !ok {
			return illegal(inst)
		}
		m.setReg(rd(inst), v)

	case opMiscMem:
		// fence and fence.i order nothing on a single hart without caches.
		if funct3(inst) > 1 {
			return illegal(inst)
		}

	case opSystem:
		return m.system(inst)

	default:
		return illegal(inst)
	}
	m.pc = next
	return platform.Trap{}, true
}

// system executes ecall, ebreak and reads of the unprivileged counters.
func (m *Machine) system(inst uint32) (platform.Trap, bool) {
	switch inst {
	case 0x00000073:
		return platform.Trap{Cause: rvabi.CauseUserEnvCall}, false
	case 0x00100073:
		return platform.Trap{Cause: rvabi.CauseBreakpoint, Stval: m.pc}, false
	}
	// Only csrrs/csrrc with no bits to change (including the immediate
	// forms) are allowed.
	switch funct3(inst) {
	case 2, 3, 6, 7:
		if rs1(inst) != 0 {
			return illegal(inst)
		}
	default:
		return illegal(inst)
	}
	var v uint64
	switch inst >> 20 {
	case csrCycle, csrInstret:
		v = m.retired
	case csrTime:
		v = m.time
	default:
		return illegal(inst)
	}
	m.setReg(rd(inst), v)
	m.pc += 4
	return platform.Trap{}, true
}

func aluImm(inst uint32, a uint64) (uint64, bool) {
	imm := immI(inst)
	shamt := (inst >> 20) & 0x3f
	switch funct3(inst) {
	case 0:
		return a + imm, true
	case 1:
		if inst>>26 != 0 {
			return 0, false
		}
		return a << shamt, true
	case 2:
		return b2u(int64(a) < int64(imm)), true
	case 3:
		return b2u(a < imm), true
	case 4:
		return a ^ imm, true
	case 5:
		switch inst >> 26 {
		case 0:
			return a >> shamt, true
		case 0x10:
			return uint64(int64(a) >> shamt), true
		}
		return 0, false
	case 6:
		return a | imm, true
	default:
		return a & imm, true
	}
}

func aluImm32(inst uint32, a uint64) (uint64, bool) {
	shamt := (inst >> 20) & 0x1f
	switch funct3(inst) {
	case 0:
		return sext32(a + immI(inst)), true
	case 1:
		if funct7(inst) != 0 {
			return 0, false
		}
		return sext32(uint64(uint32(a) << shamt)), true
	case 5:
		switch funct7(inst) {
		case 0:
			return sext32(uint64(uint32(a) >> shamt)), true
		case 0x20:
			return sext32(uint64(int32(a) >> shamt)), true
		}
	}
	return 0, false
}

func alu(inst uint32, a, b uint64) (uint64, bool) {
	shamt := b & 0x3f
	switch funct7(inst) {
	case 0:
		switch funct3(inst) {
		case 0:
			return a + b, true
		case 1:
			return a << shamt, true
		case 2:
			return b2u(int64(a) < int64(b)), true
		case 3:
			return b2u(a < b), true
		case 4:
			return a ^ b, true
		case 5:
			return a >> shamt, true
		case 6:
			return a | b, true
		default:
			return a & b, true
		}
	case 0x20:
		switch funct3(inst) {
		case 0:
			return a - b, true
		case 5:
			return uint64(int64(a) >> shamt), true
		}
	case 1:
		return mulDiv(funct3(inst), a, b), true
	}
	return 0, false
}

func alu32(inst uint32, a, b uint64) (uint64, bool) {
	shamt := b & 0x1f
	switch funct7(inst) {
	case 0:
		switch funct3(inst) {
		case 0:
			return sext32(a + b), true
		case 1:
			return sext32(uint64(uint32(a) << shamt)), true
		case 5:
			return sext32(uint64(uint32(a) >> shamt)), true
		}
	case 0x20:
		switch funct3(inst) {
		case 0:
			return sext32(a - b), true
		case 5:
			return sext32(uint64(int32(a) >> shamt)), true
		}
	case 1:
		return mulDiv32(funct3(inst), a, b)
	}
	return 0, false
}

// mulDiv implements the M extension on 64-bit operands.
func mulDiv(f3 uint32, a, b uint64) uint64 {
	sa, sb := int64(a), int64(b)
	switch f3 {
	case 0: // mul
		return a * b
	case 1: // mulh
		hi, _ := bits.Mul64(a, b)
		if sa < 0 {
			hi -= b
		}
		if sb < 0 {
			hi -= a
		}
		return hi
	case 2: // mulhsu
		hi, _ := bits.Mul64(a, b)
		if sa < 0 {
			hi -= b
		}
		return hi
	case 3: // mulhu
		hi, _ := bits.Mul64(a, b)
		return hi
	case 4: // div
		switch {
		case b == 0:
			return math.MaxUint64
		case sa == math.MinInt64 && sb == -1:
			return a
		}
		return uint64(sa / sb)
	case 5: // divu
		if b == 0 {
			return math.MaxUint64
		}
		return a / b
	case 6: // rem
		switch {
		case b == 0:
			return a
		case sa == math.MinInt64 && sb == -1:
			return 0
		}
		return uint64(sa % sb)
	default: // remu
		if b == 0 {
			return a
		}
		return a % b
	}
}

// mulDiv32 implements the word forms of the M extension.
func mulDiv32(f3 uint32, a, b uint64) (uint64, bool) {
	sa, sb := int32(a), int32(b)
	ua, ub := uint32(a), uint32(b)
	switch f3 {
	case 0: // mulw
		return sext32(uint64(ua * ub)), true
	case 4: // divw
		switch {
		case sb == 0:
			return math.MaxUint64, true
		case sa == math.MinInt32 && sb == -1:
			return sext32(uint64(ua)), true
		}
		return uint64(int64(sa / sb)), true
	case 5: // divuw
		if ub == 0 {
			return math.MaxUint64, true
		}
		return sext32(uint64(ua / ub)), true
	case 6: // remw
		switch {
		case sb == 0:
			return sext32(uint64(ua)), true
		case sa == math.MinInt32 && sb == -1:
			return 0, true
		}
		return uint64(int64(sa % sb)), true
	case 7: // remuw
		if ub == 0 {
			return sext32(uint64(ua)), true
		}
		return sext32(uint64(ua % ub)), true
	}
	return 0, false
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
