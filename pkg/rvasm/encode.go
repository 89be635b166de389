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

// Package rvasm is a small RV64IM assembler. It builds the user programs
// bundled with the kernel and the programs its tests run.
package rvasm

import "fmt"

// Reg is an integer register.
type Reg uint32

// Registers by ABI name.
const (
	Zero Reg = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
)

var regNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// String implements fmt.Stringer.String.
func (r Reg) String() string {
	if r < 32 {
		return regNames[r]
	}
	return fmt.Sprintf("x%d", uint32(r))
}

func fitsSigned(v int64, bits uint) bool {
	return v >= -(1<<(bits-1)) && v < 1<<(bits-1)
}

func encR(op, f3, f7 uint32, rd, rs1, rs2 Reg) uint32 {
	return f7<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | f3<<12 | uint32(rd)<<7 | op
}

func encI(op, f3 uint32, rd, rs1 Reg, imm int64) (uint32, error) {
	if !fitsSigned(imm, 12) {
		return 0, fmt.Errorf("immediate %d out of range", imm)
	}
	return uint32(imm&0xfff)<<20 | uint32(rs1)<<15 | f3<<12 | uint32(rd)<<7 | op, nil
}

func encS(op, f3 uint32, rs1, rs2 Reg, imm int64) (uint32, error) {
	if !fitsSigned(imm, 12) {
		return 0, fmt.Errorf("immediate %d out of range", imm)
	}
	u := uint32(imm & 0xfff)
	return (u>>5)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | f3<<12 | (u&0x1f)<<7 | op, nil
}

func encB(f3 uint32, rs1, rs2 Reg, off int64) (uint32, error) {
	if !fitsSigned(off, 13) || off%2 != 0 {
		return 0, fmt.Errorf("branch offset %d out of range", off)
	}
	u := uint32(off & 0x1fff)
	return (u>>12)<<31 | ((u>>5)&0x3f)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 |
		f3<<12 | ((u>>1)&0xf)<<8 | ((u>>11)&1)<<7 | opBranch, nil
}

func encU(op uint32, rd Reg, imm20 int64) uint32 {
	return uint32(imm20&0xfffff)<<12 | uint32(rd)<<7 | op
}

func encJ(rd Reg, off int64) (uint32, error) {
	if !fitsSigned(off, 21) || off%2 != 0 {
		return 0, fmt.Errorf("jump offset %d out of range", off)
	}
	u := uint32(off & 0x1fffff)
	return (u>>20)<<31 | ((u>>1)&0x3ff)<<21 | ((u>>11)&1)<<20 | ((u>>12)&0xff)<<12 |
		uint32(rd)<<7 | opJal, nil
}

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

// splitHiLo splits v into a 20-bit upper part and a sign-extended 12-bit
// lower part such that hi<<12 + lo == v.
func splitHiLo(v int64) (hi, lo int64) {
	hi = (v + 0x800) >> 12
	lo = v - hi<<12
	return hi, lo
}

// liSeq returns an instruction sequence loading v into rd.
func liSeq(rd Reg, v int64) []uint32 {
	if fitsSigned(v, 32) {
		hi, lo := splitHiLo(v)
		if hi == 0 {
			i, _ := encI(opImm, 0, rd, Zero, lo)
			return []uint32{i}
		}
		seq := []uint32{encU(opLui, rd, hi)}
		if lo != 0 {
			i, _ := encI(opImm32, 0, rd, rd, lo)
			seq = append(seq, i)
		}
		return seq
	}
	lo := v << 52 >> 52
	hi := (v - lo) >> 12
	shift := int64(12)
	for hi&1 == 0 {
		hi >>= 1
		shift++
	}
	seq := liSeq(rd, hi)
	i, _ := encI(opImm, 1, rd, rd, shift)
	seq = append(seq, i)
	if lo != 0 {
		i, _ := encI(opImm, 0, rd, rd, lo)
		seq = append(seq, i)
	}
	return seq
}
