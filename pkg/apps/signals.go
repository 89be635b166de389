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
)

func init() {
	register(&App{Name: "segv", Description: "stores to address 0 and is killed by SIGSEGV", SelfCheck: true, ExitCode: -int(rvabi.SIGSEGV), Image: segv()})
	register(&App{Name: "illegal", Description: "executes an illegal instruction and is killed by SIGILL", SelfCheck: true, ExitCode: -int(rvabi.SIGILL), Image: illegalApp()})
	register(&App{Name: "sigtest", Description: "exercises sigaction, sigprocmask, kill and sigreturn", SelfCheck: true, Image: sigtest()})
}

func segv() []byte {
	p := newProgram()
	p.print("segv: storing to address 0\n")
	p.Sd(zero, 0, zero)
	p.exit(1)
	return p.image("segv")
}

func illegalApp() []byte {
	p := newProgram()
	p.print("illegal: executing 0x00000000\n")
	p.Word(0)
	p.exit(1)
	return p.image("illegal")
}

func sigtest() []byte {
	const usr1 = int64(rvabi.SIGUSR1)
	p := newProgram()
	p.Space("got", 8)
	p.Space("act", 16)
	p.Space("old", 16)
	p.Space("status", 8)
	p.String("spin", "spin")
	parent := p.local("parent")

	// KILL cannot be caught.
	p.Li(a0, int64(rvabi.SIGKILL))
	p.La(a1, "act")
	p.La(a2, "old")
	p.syscall(rvabi.SysSigaction)
	p.expect(-1, 2)

	p.La(t0, "handler")
	p.La(t1, "act")
	p.Sd(t0, 0, t1)
	p.Sd(zero, 8, t1)
	p.Li(a0, usr1)
	p.La(a1, "act")
	p.La(a2, "old")
	p.syscall(rvabi.SysSigaction)
	p.expect(0, 3)

	// A blocked signal stays pending and cannot be sent twice.
	p.Li(a0, 1<<usr1)
	p.syscall(rvabi.SysSigprocmask)
	p.expect(0, 4)
	p.syscall(rvabi.SysGetpid)
	p.Mv(s0, a0)
	p.Mv(a0, s0)
	p.Li(a1, usr1)
	p.syscall(rvabi.SysKill)
	p.expect(0, 5)
	p.La(t0, "got")
	p.Ld(a0, 0, t0)
	p.expect(0, 6)
	p.Mv(a0, s0)
	p.Li(a1, usr1)
	p.syscall(rvabi.SysKill)
	p.expect(-1, 7)

	// Unblocking delivers it before sigprocmask returns to us; sigreturn
	// restores sigprocmask's result.
	p.Li(a0, 0)
	p.syscall(rvabi.SysSigprocmask)
	p.expect(1<<usr1, 8)
	p.La(t0, "got")
	p.Ld(a0, 0, t0)
	p.expect(usr1, 9)

	// Unknown pids are reported as -2.
	p.Li(a0, 1000)
	p.Li(a1, usr1)
	p.syscall(rvabi.SysKill)
	p.expect(-2, 10)

	p.syscall(rvabi.SysFork)
	p.Bnez(a0, parent)
	p.La(a0, "spin")
	p.Li(a1, 0)
	p.syscall(rvabi.SysExec)
	p.exit(11)

	p.Label(parent)
	p.Mv(s1, a0)
	p.Mv(a0, s1)
	p.Li(a1, int64(rvabi.SIGKILL))
	p.syscall(rvabi.SysKill)
	p.expect(0, 12)
	p.wait(s1, "status")
	p.expectReg(s1, 13)
	p.loadStatus("status")
	p.expect(-int64(rvabi.SIGKILL), 14)
	p.print("sigtest ok\n")
	p.exit(0)

	p.Label("handler")
	p.La(t0, "got")
	p.Sd(a0, 0, t0)
	p.print("sigtest: caught signal\n")
	p.syscall(rvabi.SysSigreturn)
	p.exit(15)
	return p.image("sigtest")
}
