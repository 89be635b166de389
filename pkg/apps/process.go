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
	register(&App{Name: "forkexec", Description: "forks, execs echo in the child and reaps it", SelfCheck: true, Image: forkexec()})
	register(&App{Name: "stride", Description: "checks set_priority and task_info, then runs two CPU-bound children at different priorities", SelfCheck: true, Image: stride()})
}

func forkexec() []byte {
	p := newProgram()
	p.String("echo", "echo")
	p.String("from", "from")
	p.String("child", "child")
	p.String("missing", "missing")
	p.Space("status", 8)
	parent := p.local("parent")

	p.syscall(rvabi.SysFork)
	p.Bnez(a0, parent)

	// A failed exec returns to the caller unchanged.
	p.La(a0, "missing")
	p.Li(a1, 0)
	p.syscall(rvabi.SysExec)
	p.expect(-1, 10)
	p.La(a0, "echo")
	p.pushArgv("echo", "from", "child")
	p.syscall(rvabi.SysExec)
	p.exit(11)

	p.Label(parent)
	p.Mv(s0, a0)
	p.wait(s0, "status")
	p.expectReg(s0, 2)
	p.loadStatus("status")
	p.expect(0, 3)

	// The child is gone once reaped.
	p.Mv(a0, s0)
	p.La(a1, "status")
	p.syscall(rvabi.SysWaitpid)
	p.expect(-1, 4)
	p.print("forkexec ok\n")
	p.exit(0)
	return p.image("forkexec")
}

// taskInfoSize is the size of rvabi.TaskInfo.
const taskInfoSize = 8 + 8 + rvabi.MaxSyscallInfo*16 + 8

func stride() []byte {
	p := newProgram()
	p.Space("status", 8)
	p.Space("info", taskInfoSize)
	first, second := p.local("first"), p.local("second")

	p.Li(a0, 1)
	p.syscall(rvabi.SysSetPriority)
	p.expect(-1, 2)
	p.Li(a0, 4)
	p.syscall(rvabi.SysSetPriority)
	p.expect(0, 3)

	// set_priority was the first syscall, made twice.
	p.La(a0, "info")
	p.syscall(rvabi.SysTaskInfo)
	p.expect(0, 4)
	p.La(s2, "info")
	p.Ld(a0, 8, s2)
	p.expect(rvabi.TaskRunning, 5)
	p.Ld(a0, 16, s2)
	p.expect(rvabi.SysSetPriority, 6)
	p.Ld(a0, 24, s2)
	p.expect(2, 7)
	p.Ld(a0, 32, s2)
	p.expect(rvabi.SysTaskInfo, 8)

	p.syscall(rvabi.SysFork)
	p.Bnez(a0, first)
	p.Li(a0, 8)
	p.J("worker")
	p.Label(first)
	p.Mv(s0, a0)

	p.syscall(rvabi.SysFork)
	p.Bnez(a0, second)
	p.Li(a0, 32)
	p.J("worker")
	p.Label(second)
	p.Mv(s1, a0)

	for _, child := range []struct {
		pid  rvasm.Reg
		code int64
	}{{s0, 20}, {s1, 30}} {
		p.wait(child.pid, "status")
		p.expectReg(child.pid, child.code)
		p.loadStatus("status")
		p.expect(0, child.code+1)
	}
	p.print("stride ok\n")
	p.exit(0)

	// worker sets its priority to a0, burns CPU across several time
	// slices and exits.
	loop := p.local("burn")
	p.Label("worker")
	p.syscall(rvabi.SysSetPriority)
	p.expect(0, 40)
	p.Li(t1, 300000)
	p.Label(loop)
	p.Addi(t1, t1, -1)
	p.Bnez(t1, loop)
	p.exit(0)
	return p.image("stride")
}
