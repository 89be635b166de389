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
	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/rvasm"
)

func init() {
	register(&App{Name: "mailtest", Description: "sends mail to a child and fills its own mailbox", SelfCheck: true, Image: mailtest()})
	register(&App{Name: "mutextest", Description: "hands a blocking mutex descriptor between parent and child", SelfCheck: true, Image: mutextest()})
	register(&App{Name: "semtest", Description: "wakes a child blocked on a semaphore descriptor", SelfCheck: true, Image: semtest()})
	register(&App{Name: "pipetest", Description: "sends a line through a pipe to a child", SelfCheck: true, Image: pipetest()})
}

// rw issues read or write (no) of 8 bytes at label on the descriptor in fd.
func (p *program) rw(no int64, fd rvasm.Reg, label string) {
	p.Mv(a0, fd)
	p.La(a1, label)
	p.Li(a2, 8)
	p.syscall(no)
}

func mailtest() []byte {
	const msg = "ping"
	p := newProgram()
	p.String("msg", msg)
	p.Space("buf", 256)
	p.Space("status", 8)
	parent, recv, got, fill := p.local("parent"), p.local("recv"), p.local("got"), p.local("fill")

	p.syscall(rvabi.SysFork)
	p.Bnez(a0, parent)

	p.Label(recv)
	p.La(a0, "buf")
	p.Li(a1, 256)
	p.syscall(rvabi.SysMailRead)
	p.Bge(a0, zero, got)
	p.syscall(rvabi.SysYield)
	p.J(recv)
	p.Label(got)
	p.Mv(s0, a0)
	p.expect(int64(len(msg)), 20)
	p.print("mail: ")
	p.Li(a0, 1)
	p.La(a1, "buf")
	p.Mv(a2, s0)
	p.syscall(rvabi.SysWrite)
	p.print("\n")
	p.La(a0, "buf")
	p.Li(a1, 0)
	p.syscall(rvabi.SysMailRead)
	p.expect(-1, 21)
	p.exit(0)

	p.Label(parent)
	p.Mv(s0, a0)
	// A zero length probes for room.
	p.Mv(a0, s0)
	p.La(a1, "msg")
	p.Li(a2, 0)
	p.syscall(rvabi.SysMailWrite)
	p.expect(0, 2)
	p.Mv(a0, s0)
	p.La(a1, "msg")
	p.Li(a2, int64(len(msg)))
	p.syscall(rvabi.SysMailWrite)
	p.expect(int64(len(msg)), 3)
	p.Li(a0, 1000)
	p.La(a1, "msg")
	p.Li(a2, int64(len(msg)))
	p.syscall(rvabi.SysMailWrite)
	p.expect(-1, 4)
	p.wait(s0, "status")
	p.expectReg(s0, 5)
	p.loadStatus("status")
	p.expect(0, 6)

	// The mailbox holds 16 mails.
	p.syscall(rvabi.SysGetpid)
	p.Mv(s1, a0)
	p.Li(s2, 16)
	p.Label(fill)
	p.Mv(a0, s1)
	p.La(a1, "msg")
	p.Li(a2, int64(len(msg)))
	p.syscall(rvabi.SysMailWrite)
	p.expect(int64(len(msg)), 7)
	p.Addi(s2, s2, -1)
	p.Bnez(s2, fill)
	p.Mv(a0, s1)
	p.La(a1, "msg")
	p.Li(a2, int64(len(msg)))
	p.syscall(rvabi.SysMailWrite)
	p.expect(-1, 8)

	p.print("mailtest ok\n")
	p.exit(0)
	return p.image("mailtest")
}

func mutextest() []byte {
	p := newProgram()
	p.Space("val", 8)
	p.Space("status", 8)
	parent := p.local("parent")

	// A non-blocking mutex created locked reports -2.
	p.Li(a0, 0)
	p.Li(a1, 0)
	p.syscall(rvabi.SysMutexFD)
	p.Mv(s3, a0)
	p.rw(rvabi.SysRead, s3, "val")
	p.expect(-2, 2)

	p.Li(a0, 1)
	p.Li(a1, 1)
	p.syscall(rvabi.SysMutexFD)
	p.Mv(s2, a0)

	p.syscall(rvabi.SysFork)
	p.Bnez(a0, parent)
	p.rw(rvabi.SysRead, s2, "val")
	p.expect(8, 20)
	p.print("child: locked\n")
	p.rw(rvabi.SysWrite, s2, "val")
	p.expect(8, 21)
	p.exit(0)

	p.Label(parent)
	p.Mv(s0, a0)
	p.rw(rvabi.SysRead, s2, "val")
	p.expect(8, 3)
	p.print("parent: locked\n")
	p.yieldN(3)
	p.print("parent: unlocking\n")
	p.rw(rvabi.SysWrite, s2, "val")
	p.expect(8, 4)
	p.wait(s0, "status")
	p.expectReg(s0, 5)
	p.loadStatus("status")
	p.expect(0, 6)
	p.print("mutextest ok\n")
	p.exit(0)
	return p.image("mutextest")
}

func semtest() []byte {
	p := newProgram()
	p.Space("val", 8)
	p.Space("status", 8)
	parent := p.local("parent")

	p.Li(a0, 0)
	p.Li(a1, 0)
	p.syscall(rvabi.SysSemaphoreFD)
	p.Mv(s3, a0)
	p.rw(rvabi.SysRead, s3, "val")
	p.expect(-2, 2)
	p.rw(rvabi.SysWrite, s3, "val")
	p.expect(1, 3)
	p.rw(rvabi.SysRead, s3, "val")
	p.expect(1, 4)

	p.Li(a0, 0)
	p.Li(a1, 1)
	p.syscall(rvabi.SysSemaphoreFD)
	p.Mv(s2, a0)

	p.syscall(rvabi.SysFork)
	p.Bnez(a0, parent)
	p.rw(rvabi.SysRead, s2, "val")
	p.expect(1, 20)
	p.print("child: down\n")
	p.exit(0)

	p.Label(parent)
	p.Mv(s0, a0)
	p.yieldN(2)
	p.print("parent: up\n")
	p.rw(rvabi.SysWrite, s2, "val")
	p.expect(1, 5)
	p.wait(s0, "status")
	p.expectReg(s0, 6)
	p.loadStatus("status")
	p.expect(0, 7)
	p.print("semtest ok\n")
	p.exit(0)
	return p.image("semtest")
}

func pipetest() []byte {
	const msg = "through the pipe\n"
	p := newProgram()
	p.String("msg", msg)
	p.Space("fds", 16)
	p.Space("buf", 64)
	p.Space("status", 8)
	parent := p.local("parent")

	p.La(a0, "fds")
	p.syscall(rvabi.SysPipe)
	p.expect(0, 2)
	p.La(t0, "fds")
	p.Ld(s2, 0, t0)
	p.Ld(s3, 8, t0)

	p.syscall(rvabi.SysFork)
	p.Bnez(a0, parent)
	p.Mv(a0, s3)
	p.syscall(rvabi.SysClose)
	p.expect(0, 20)
	p.Mv(a0, s2)
	p.La(a1, "buf")
	p.Li(a2, 64)
	p.syscall(rvabi.SysRead)
	p.expect(int64(len(msg)), 21)
	p.Li(a0, 1)
	p.La(a1, "buf")
	p.Li(a2, int64(len(msg)))
	p.syscall(rvabi.SysWrite)
	// End of file once the parent closes its end.
	p.Mv(a0, s2)
	p.La(a1, "buf")
	p.Li(a2, 64)
	p.syscall(rvabi.SysRead)
	p.expect(0, 22)
	p.exit(0)

	p.Label(parent)
	p.Mv(s0, a0)
	p.Mv(a0, s2)
	p.syscall(rvabi.SysClose)
	p.expect(0, 3)
	p.Mv(a0, s3)
	p.La(a1, "msg")
	p.Li(a2, int64(len(msg)))
	p.syscall(rvabi.SysWrite)
	p.expect(int64(len(msg)), 4)
	p.Mv(a0, s3)
	p.syscall(rvabi.SysClose)
	p.expect(0, 5)
	p.wait(s0, "status")
	p.expectReg(s0, 6)
	p.loadStatus("status")
	p.expect(0, 7)
	p.print("pipetest ok\n")
	p.exit(0)
	return p.image("pipetest")
}
