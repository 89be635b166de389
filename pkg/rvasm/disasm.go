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

package rvasm

import "fmt"

func sext(v uint32, bits uint) int64 {
	shift := 64 - bits
	return int64(uint64(v)<<shift) >> shift
}

// Disassemble renders the instruction w at pc. Unknown encodings render as
// ".word".
func Disassemble(w uint32, pc uint64) string {
	rd, rs1, rs2 := Reg((w>>7)&0x1f), Reg((w>>15)&0x1f), Reg((w>>20)&0x1f)
	f3, f7 := (w>>12)&7, w>>25
	immI := sext(w>>20, 12)
	unknown := fmt.Sprintf(".word %#08x", w)

	switch w & 0x7f {
	case opLui:
		return fmt.Sprintf("lui %v, %#x", rd, w>>12)
	case opAuipc:
		return fmt.Sprintf("auipc %v, %#x", rd, w>>12)
	case opJal:
		off := sext((w>>31)<<20|((w>>12)&0xff)<<12|((w>>20)&1)<<11|((w>>21)&0x3ff)<<1, 21)
		return fmt.Sprintf("jal %v, %#x", rd, pc+uint64(off))
	case opJalr:
		return fmt.Sprintf("jalr %v, %d(%v)", rd, immI, rs1)
	case opBranch:
		names := [8]string{"beq", "bne", "", "", "blt", "bge", "bltu", "bgeu"}
		if names[f3] == "" {
			return unknown
		}
		off := sext((w>>31)<<12|((w>>7)&1)<<11|((w>>25)&0x3f)<<5|((w>>8)&0xf)<<1, 13)
		return fmt.Sprintf("%s %v, %v, %#x", names[f3], rs1, rs2, pc+uint64(off))
	case opLoad:
		names := [8]string{"lb", "lh", "lw", "ld", "lbu", "lhu", "lwu", ""}
		if names[f3] == "" {
			return unknown
		}
		return fmt.Sprintf("%s %v, %d(%v)", names[f3], rd, immI, rs1)
	case opStore:
		names := [8]string{"sb", "sh", "sw", "sd"}
		if f3 > 3 {
			return unknown
		}
		off := sext(f7<<5|uint32(rd), 12)
		return fmt.Sprintf("%s %v, %d(%v)", names[f3], rs2, off, rs1)
	case opImm:
		switch f3 {
		case 1:
			return fmt.Sprintf("slli %v, %v, %d", rd, rs1, (w>>20)&0x3f)
		case 5:
			name := "srli"
			if w>>26 == 0x10 {
				name = "srai"
			}
			return fmt.Sprintf("%s %v, %v, %d", name, rd, rs1, (w>>20)&0x3f)
		}
		names := [8]string{"addi", "", "slti", "sltiu", "xori", "", "ori", "andi"}
		return fmt.Sprintf("%s %v, %v, %d", names[f3], rd, rs1, immI)
	case opImm32:
		switch f3 {
		case 0:
			return fmt.Sprintf("addiw %v, %v, %d", rd, rs1, immI)
		case 1:
			return fmt.Sprintf("slliw %v, %v, %d", rd, rs1, uint32(rs2))
		case 5:
			name := "srliw"
			if f7 == 0x20 {
				name = "sraiw"
			}
			return fmt.Sprintf("%s %v, %v, %d", name, rd, rs1, uint32(rs2))
		}
	case opOp, opOp32:
		var names [8]string
		suffix := ""
		if w&0x7f == opOp32 {
			suffix = "w"
		}
		switch f7 {
		case 0:
			names = [8]string{"add", "sll", "slt", "sltu", "xor", "srl", "or", "and"}
		case 0x20:
			names = [8]string{"sub", "", "", "", "", "sra", "", ""}
		case 1:
			names = [8]string{"mul", "mulh", "mulhsu", "mulhu", "div", "divu", "rem", "remu"}
		}
		if names[f3] == "" {
			return unknown
		}
		return fmt.Sprintf("%s%s %v, %v, %v", names[f3], suffix, rd, rs1, rs2)
	case opMiscMem:
		return "fence"
	case opSystem:
		switch w {
		case 0x00000073:
			return "ecall"
		case 0x00100073:
			return "ebreak"
		}
		if f3 == 2 && rs1 == Zero {
			switch w >> 20 {
			case 0xc00:
				return fmt.Sprintf("rdcycle %v", rd)
			case 0xc01:
				return fmt.Sprintf("rdtime %v", rd)
			case 0xc02:
				return fmt.Sprintf("rdinstret %v", rd)
			}
		}
	}
	return unknown
}
