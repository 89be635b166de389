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

import "errors"

// Loads and stores take the offset before the base register, as in
// "ld rd, off(base)".

func (a *Assembler) i(op, f3 uint32, rd, rs1 Reg, imm int64) {
	a.emitErr(encI(op, f3, rd, rs1, imm))
}

func (a *Assembler) r(op, f3, f7 uint32, rd, rs1, rs2 Reg) {
	a.Word(encR(op, f3, f7, rd, rs1, rs2))
}

// Lui emits lui rd, imm20.
func (a *Assembler) Lui(rd Reg, imm20 int64) { a.Word(encU(opLui, rd, imm20)) }

// Auipc emits auipc rd, imm20.
func (a *Assembler) Auipc(rd Reg, imm20 int64) { a.Word(encU(opAuipc, rd, imm20)) }

// Jalr emits jalr rd, off(rs1).
func (a *Assembler) Jalr(rd, rs1 Reg, off int64) { a.i(opJalr, 0, rd, rs1, off) }

// Ret emits jalr zero, 0(ra).
func (a *Assembler) Ret() { a.Jalr(Zero, RA, 0) }

// Jr emits jalr zero, 0(rs).
func (a *Assembler) Jr(rs Reg) { a.Jalr(Zero, rs, 0) }

// Jal emits jal rd, label.
func (a *Assembler) Jal(rd Reg, label string) {
	a.emit([]uint32{0}, func(pc uint64, resolve resolver) ([]uint32, error) {
		target, err := resolve(label)
		if err != nil {
			return nil, err
		}
		w, err := encJ(rd, int64(target-pc))
		return []uint32{w}, err
	})
}

// J emits an unconditional jump to label.
func (a *Assembler) J(label string) { a.Jal(Zero, label) }

// Call emits jal ra, label.
func (a *Assembler) Call(label string) { a.Jal(RA, label) }

func (a *Assembler) branch(f3 uint32, rs1, rs2 Reg, label string) {
	a.emit([]uint32{0}, func(pc uint64, resolve resolver) ([]uint32, error) {
		target, err := resolve(label)
		if err != nil {
			return nil, err
		}
		w, err := encB(f3, rs1, rs2, int64(target-pc))
		return []uint32{w}, err
	})
}

// Beq branches to label if rs1 == rs2.
func (a *Assembler) Beq(rs1, rs2 Reg, label string) { a.branch(0, rs1, rs2, label) }

// Bne branches to label if rs1 != rs2.
func (a *Assembler) Bne(rs1, rs2 Reg, label string) { a.branch(1, rs1, rs2, label) }

// Blt branches to label if rs1 < rs2, signed.
func (a *Assembler) Blt(rs1, rs2 Reg, label string) { a.branch(4, rs1, rs2, label) }

// Bge branches to label if rs1 >= rs2, signed.
func (a *Assembler) Bge(rs1, rs2 Reg, label string) { a.branch(5, rs1, rs2, label) }

// Bltu branches to label if rs1 < rs2, unsigned.
func (a *Assembler) Bltu(rs1, rs2 Reg, label string) { a.branch(6, rs1, rs2, label) }

// Bgeu branches to label if rs1 >= rs2, unsigned.
func (a *Assembler) Bgeu(rs1, rs2 Reg, label string) { a.branch(7, rs1, rs2, label) }

// Beqz branches to label if rs == 0.
func (a *Assembler) Beqz(rs Reg, label string) { a.Beq(rs, Zero, label) }

// Bnez branches to label if rs != 0.
func (a *Assembler) Bnez(rs Reg, label string) { a.Bne(rs, Zero, label) }

// Bltz branches to label if rs < 0.
func (a *Assembler) Bltz(rs Reg, label string) { a.Blt(rs, Zero, label) }

// Lb loads a sign-extended byte.
func (a *Assembler) Lb(rd Reg, off int64, base Reg) { a.i(opLoad, 0, rd, base, off) }

// Lh loads a sign-extended halfword.
func (a *Assembler) Lh(rd Reg, off int64, base Reg) { a.i(opLoad, 1, rd, base, off) }

// Lw loads a sign-extended word.
func (a *Assembler) Lw(rd Reg, off int64, base Reg) { a.i(opLoad, 2, rd, base, off) }

// Ld loads a doubleword.
func (a *Assembler) Ld(rd Reg, off int64, base Reg) { a.i(opLoad, 3, rd, base, off) }

// Lbu loads a zero-extended byte.
func (a *Assembler) Lbu(rd Reg, off int64, base Reg) { a.i(opLoad, 4, rd, base, off) }

// Lhu loads a zero-extended halfword.
func (a *Assembler) Lhu(rd Reg, off int64, base Reg) { a.i(opLoad, 5, rd, base, off) }

// Lwu loads a zero-extended word.
func (a *Assembler) Lwu(rd Reg, off int64, base Reg) { a.i(opLoad, 6, rd, base, off) }

func (a *Assembler) store(f3 uint32, rs2 Reg, off int64, base Reg) {
	a.emitErr(encS(opStore, f3, base, rs2, off))
}

// Sb stores a byte.
func (a *Assembler) Sb(rs2 Reg, off int64, base Reg) { a.store(0, rs2, off, base) }

// Sh stores a halfword.
func (a *Assembler) Sh(rs2 Reg, off int64, base Reg) { a.store(1, rs2, off, base) }

// Sw stores a word.
func (a *Assembler) Sw(rs2 Reg, off int64, base Reg) { a.store(2, rs2, off, base) }

// Sd stores a doubleword.
func (a *Assembler) Sd(rs2 Reg, off int64, base Reg) { a.store(3, rs2, off, base) }

// Addi emits addi rd, rs1, imm.
func (a *Assembler) Addi(rd, rs1 Reg, imm int64) { a.i(opImm, 0, rd, rs1, imm) }

// Slti emits slti rd, rs1, imm.
func (a *Assembler) Slti(rd, rs1 Reg, imm int64) { a.i(opImm, 2, rd, rs1, imm) }

// Sltiu emits sltiu rd, rs1, imm.
func (a *Assembler) Sltiu(rd, rs1 Reg, imm int64) { a.i(opImm, 3, rd, rs1, imm) }

// Xori emits xori rd, rs1, imm.
func (a *Assembler) Xori(rd, rs1 Reg, imm int64) { a.i(opImm, 4, rd, rs1, imm) }

// Ori emits ori rd, rs1, imm.
func (a *Assembler) Ori(rd, rs1 Reg, imm int64) { a.i(opImm, 6, rd, rs1, imm) }

// Andi emits andi rd, rs1, imm.
func (a *Assembler) Andi(rd, rs1 Reg, imm int64) { a.i(opImm, 7, rd, rs1, imm) }

func (a *Assembler) shift(op, f3 uint32, hi int64, rd, rs1 Reg, shamt, max int64) {
	if shamt < 0 || shamt >= max {
		a.errorf("shift amount %d out of range", shamt)
		shamt = 0
	}
	a.i(op, f3, rd, rs1, hi<<5|shamt)
}

// Slli emits slli rd, rs1, shamt.
func (a *Assembler) Slli(rd, rs1 Reg, shamt int64) { a.shift(opImm, 1, 0, rd, rs1, shamt, 64) }

// Srli emits srli rd, rs1, shamt.
func (a *Assembler) Srli(rd, rs1 Reg, shamt int64) { a.shift(opImm, 5, 0, rd, rs1, shamt, 64) }

// Srai emits srai rd, rs1, shamt.
func (a *Assembler) Srai(rd, rs1 Reg, shamt int64) {
	if shamt < 0 || shamt >= 64 {
		a.errorf("shift amount %d out of range", shamt)
		shamt = 0
	}
	a.Word(0x40000000 | uint32(shamt)<<20 | uint32(rs1)<<15 | 5<<12 | uint32(rd)<<7 | opImm)
}

// Addiw emits addiw rd, rs1, imm.
func (a *Assembler) Addiw(rd, rs1 Reg, imm int64) { a.i(opImm32, 0, rd, rs1, imm) }

// Slliw emits slliw rd, rs1, shamt.
func (a *Assembler) Slliw(rd, rs1 Reg, shamt int64) { a.shift(opImm32, 1, 0, rd, rs1, shamt, 32) }

// Srliw emits srliw rd, rs1, shamt.
func (a *Assembler) Srliw(rd, rs1 Reg, shamt int64) { a.shift(opImm32, 5, 0, rd, rs1, shamt, 32) }

// Sraiw emits sraiw rd, rs1, shamt.
func (a *Assembler) Sraiw(rd, rs1 Reg, shamt int64) { a.shift(opImm32, 5, 0x20, rd, rs1, shamt, 32) }

// Add emits add rd, rs1, rs2.
func (a *Assembler) Add(rd, rs1, rs2 Reg) { a.r(opOp, 0, 0, rd, rs1, rs2) }

// Sub emits sub rd, rs1, rs2.
func (a *Assembler) Sub(rd, rs1, rs2 Reg) { a.r(opOp, 0, 0x20, rd, rs1, rs2) }

// Sll emits sll rd, rs1, rs2.
func (a *Assembler) Sll(rd, rs1, rs2 Reg) { a.r(opOp, 1, 0, rd, rs1, rs2) }

// Slt emits slt rd, rs1, rs2.
func (a *Assembler) Slt(rd, rs1, rs2 Reg) { a.r(opOp, 2, 0, rd, rs1, rs2) }

// Sltu emits sltu rd, rs1, rs2.
func (a *Assembler) Sltu(rd, rs1, rs2 Reg) { a.r(opOp, 3, 0, rd, rs1, rs2) }

// Xor emits xor rd, rs1, rs2.
func (a *Assembler) Xor(rd, rs1, rs2 Reg) { a.r(opOp, 4, 0, rd, rs1, rs2) }

// Srl emits srl rd, rs1, rs2.
func (a *Assembler) Srl(rd, rs1, rs2 Reg) { a.r(opOp, 5, 0, rd, rs1, rs2) }

// Sra emits sra rd, rs1, rs2.
func (a *Assembler) Sra(rd, rs1, rs2 Reg) { a.r(opOp, 5, 0x20, rd, rs1, rs2) }

// Or emits or rd, rs1, rs2.
func (a *Assembler) Or(rd, rs1, rs2 Reg) { a.r(opOp, 6, 0, rd, rs1, rs2) }

// And emits and rd, rs1, rs2.
func (a *Assembler) And(rd, rs1, rs2 Reg) { a.r(opOp, 7, 0, rd, rs1, rs2) }

// Addw emits addw rd, rs1, rs2.
func (a *Assembler) Addw(rd, rs1, rs2 Reg) { a.r(opOp32, 0, 0, rd, rs1, rs2) }

// Subw emits subw rd, rs1, rs2.
func (a *Assembler) Subw(rd, rs1, rs2 Reg) { a.r(opOp32, 0, 0x20, rd, rs1, rs2) }

// Mul emits mul rd, rs1, rs2.
func (a *Assembler) Mul(rd, rs1, rs2 Reg) { a.r(opOp, 0, 1, rd, rs1, rs2) }

// Mulh emits mulh rd, rs1, rs2.
func (a *Assembler) Mulh(rd, rs1, rs2 Reg) { a.r(opOp, 1, 1, rd, rs1, rs2) }

// Mulhu emits mulhu rd, rs1, rs2.
func (a *Assembler) Mulhu(rd, rs1, rs2 Reg) { a.r(opOp, 3, 1, rd, rs1, rs2) }

// Div emits div rd, rs1, rs2.
func (a *Assembler) Div(rd, rs1, rs2 Reg) { a.r(opOp, 4, 1, rd, rs1, rs2) }

// Divu emits divu rd, rs1, rs2.
func (a *Assembler) Divu(rd, rs1, rs2 Reg) { a.r(opOp, 5, 1, rd, rs1, rs2) }

// Rem emits rem rd, rs1, rs2.
func (a *Assembler) Rem(rd, rs1, rs2 Reg) { a.r(opOp, 6, 1, rd, rs1, rs2) }

// Remu emits remu rd, rs1, rs2.
func (a *Assembler) Remu(rd, rs1, rs2 Reg) { a.r(opOp, 7, 1, rd, rs1, rs2) }

// Mulw emits mulw rd, rs1, rs2.
func (a *Assembler) Mulw(rd, rs1, rs2 Reg) { a.r(opOp32, 0, 1, rd, rs1, rs2) }

// Divw emits divw rd, rs1, rs2.
func (a *Assembler) Divw(rd, rs1, rs2 Reg) { a.r(opOp32, 4, 1, rd, rs1, rs2) }

// Remw emits remw rd, rs1, rs2.
func (a *Assembler) Remw(rd, rs1, rs2 Reg) { a.r(opOp32, 6, 1, rd, rs1, rs2) }

// Mv copies rs into rd.
func (a *Assembler) Mv(rd, rs Reg) { a.Addi(rd, rs, 0) }

// Neg emits sub rd, zero, rs.
func (a *Assembler) Neg(rd, rs Reg) { a.Sub(rd, Zero, rs) }

// Seqz sets rd to 1 if rs == 0.
func (a *Assembler) Seqz(rd, rs Reg) { a.Sltiu(rd, rs, 1) }

// Nop emits addi zero, zero, 0.
func (a *Assembler) Nop() { a.Addi(Zero, Zero, 0) }

// Li loads the constant v into rd.
func (a *Assembler) Li(rd Reg, v int64) { a.emit(liSeq(rd, v), nil) }

// La loads the address of label into rd.
func (a *Assembler) La(rd Reg, label string) {
	a.emit([]uint32{0, 0}, func(pc uint64, resolve resolver) ([]uint32, error) {
		target, err := resolve(label)
		if err != nil {
			return nil, err
		}
		hi, lo := splitHiLo(int64(target - pc))
		if !fitsSigned(hi, 20) {
			return nil, errors.New("address out of pc-relative range")
		}
		addi, err := encI(opImm, 0, rd, rd, lo)
		return []uint32{encU(opAuipc, rd, hi), addi}, err
	})
}

// Ecall emits ecall.
func (a *Assembler) Ecall() { a.Word(0x00000073) }

// Ebreak emits ebreak.
func (a *Assembler) Ebreak() { a.Word(0x00100073) }

// Fence emits fence iorw, iorw.
func (a *Assembler) Fence() { a.Word(0x0ff0000f) }

func (a *Assembler) csrRead(rd Reg, csr uint32) {
	a.Word(csr<<20 | 2<<12 | uint32(rd)<<7 | opSystem)
}

// Rdtime reads the time counter.
func (a *Assembler) Rdtime(rd Reg) { a.csrRead(rd, 0xc01) }

// Rdcycle reads the cycle counter.
func (a *Assembler) Rdcycle(rd Reg) { a.csrRead(rd, 0xc00) }

// Rdinstret reads the retired instruction counter.
func (a *Assembler) Rdinstret(rd Reg) { a.csrRead(rd, 0xc02) }
