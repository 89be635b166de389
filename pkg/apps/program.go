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

package apps

import (
	"fmt"

	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/rvasm"
)

// Register names as they appear in assembly.
const (
	zero = rvasm.Zero
	ra   = rvasm.RA
	sp   = rvasm.SP
	t0   = rvasm.T0
	t1   = rvasm.T1
	t2   = rvasm.T2
	t3   = rvasm.T3
	s0   = rvasm.S0
	s1   = rvasm.S1
	s2   = rvasm.S2
	s3   = rvasm.S3
	s4   = rvasm.S4
	a0   = rvasm.A0
	a1   = rvasm.A1
	a2   = rvasm.A2
	a3   = rvasm.A3
	a7   = rvasm.A7
)

// program is an assembler with the calling conventions shared by every
// bundled application: syscall number in a7, arguments in a0..a5, result in
// a0. The kernel preserves every other register across ecall.
type program struct {
	*rvasm.Assembler
	labels int
}

func newProgram() *program {
	p := &program{Assembler: rvasm.New()}
	p.Label(rvasm.EntryLabel)
	return p
}

// local returns a fresh label.
func (p *program) local(prefix string) string {
	p.labels++
	return fmt.Sprintf(".%s%d", prefix, p.labels)
}

// syscall issues syscall no with the arguments already in place.
func (p *program) syscall(no int64) {
	p.Li(a7, no)
	p.Ecall()
}

// print writes s to standard output.
func (p *program) print(s string) {
	l := p.local("str")
	p.String(l, s)
	p.Li(a0, 1)
	p.La(a1, l)
	p.Li(a2, int64(len(s)))
	p.syscall(rvabi.SysWrite)
}

// printStr writes the NUL-terminated string at r to standard output.
// Clobbers t0, t1.
func (p *program) printStr(r rvasm.Reg) {
	loop, done := p.local("len"), p.local("lendone")
	p.Mv(t1, r)
	p.Li(a2, 0)
	p.Label(loop)
	p.Add(t0, t1, a2)
	p.Lbu(t0, 0, t0)
	p.Beqz(t0, done)
	p.Addi(a2, a2, 1)
	p.J(loop)
	p.Label(done)
	p.Li(a0, 1)
	p.Mv(a1, t1)
	p.syscall(rvabi.SysWrite)
}

func (p *program) exit(code int64) {
	p.Li(a0, code)
	p.syscall(rvabi.SysExit)
}

// expect exits with code unless a0 == want. Clobbers t0.
func (p *program) expect(want, code int64) {
	ok := p.local("ok")
	p.Li(t0, want)
	p.Beq(a0, t0, ok)
	p.exit(code)
	p.Label(ok)
}

// expectReg exits with code unless a0 == r.
func (p *program) expectReg(r rvasm.Reg, code int64) {
	ok := p.local("ok")
	p.Beq(a0, r, ok)
	p.exit(code)
	p.Label(ok)
}

// wait reaps pid (a register) into the 8-byte data label status, yielding
// while the child runs. On return a0 holds waitpid's result. Clobbers t0.
func (p *program) wait(pid rvasm.Reg, status string) {
	loop, done := p.local("wait"), p.local("waited")
	p.Label(loop)
	p.Mv(a0, pid)
	p.La(a1, status)
	p.syscall(rvabi.SysWaitpid)
	p.Li(t0, -2)
	p.Bne(a0, t0, done)
	p.syscall(rvabi.SysYield)
	p.J(loop)
	p.Label(done)
}

// loadStatus loads the exit code stored at status into a0.
func (p *program) loadStatus(status string) {
	p.La(t0, status)
	p.Lw(a0, 0, t0)
}

// pushArgv builds a NULL-terminated vector of the named data strings on the
// stack and leaves its address in a1. Clobbers t0.
func (p *program) pushArgv(labels ...string) {
	size := int64(8 * (len(labels) + 1))
	size = (size + 15) &^ 15
	p.Addi(sp, sp, -size)
	for i, l := range labels {
		p.La(t0, l)
		p.Sd(t0, int64(8*i), sp)
	}
	p.Sd(zero, int64(8*len(labels)), sp)
	p.Mv(a1, sp)
}

// yieldN yields n times. Clobbers t2.
func (p *program) yieldN(n int64) {
	loop := p.local("yield")
	p.Li(t2, n)
	p.Label(loop)
	p.syscall(rvabi.SysYield)
	p.Addi(t2, t2, -1)
	p.Bnez(t2, loop)
}

// image links the program, panicking on an assembly error: bundled programs
// are fixed at build time.
func (p *program) image(name string) []byte {
	b, err := p.Assemble()
	if err != nil {
		panic(fmt.Sprintf("assembling %s: %v", name, err))
	}
	return b
}
