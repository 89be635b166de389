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
	register(&App{Name: InitName, Description: "spawns argv[1] with the rest of argv and reaps every child", Image: initproc()})
	register(&App{Name: "hello", Description: "prints a greeting", SelfCheck: true, Image: hello()})
	register(&App{Name: "echo", Description: "prints its arguments", SelfCheck: true, Image: echo()})
	register(&App{Name: "exit", Description: "exits with the decimal status in argv[1]", SelfCheck: true, Image: exitApp()})
	register(&App{Name: "spin", Description: "loops forever", Image: spin()})
}

// initproc spawns argv[1] with argv[1:] and reaps children until none are
// left, then exits with the spawned program's status. Orphans reparented
// to init are reaped along the way.
func initproc() []byte {
	p := newProgram()
	p.Space("status", 8)
	run, reap, reaped, done := p.local("run"), p.local("reap"), p.local("reaped"), p.local("done")

	p.Li(t0, 2)
	p.Bge(a0, t0, run)
	p.print("initproc: nothing to run\n")
	p.exit(1)

	p.Label(run)
	p.Ld(a0, 8, a1)
	p.Addi(a1, a1, 8)
	p.syscall(rvabi.SysSpawn)
	spawned := p.local("spawned")
	p.Bge(a0, zero, spawned)
	p.print("initproc: spawn failed\n")
	p.exit(127)
	p.Label(spawned)
	p.Mv(s0, a0)
	p.Li(s1, 0)

	p.Label(reap)
	p.Li(a0, -1)
	p.La(a1, "status")
	p.syscall(rvabi.SysWaitpid)
	p.Li(t0, -2)
	p.Bne(a0, t0, reaped)
	p.syscall(rvabi.SysYield)
	p.J(reap)
	p.Label(reaped)
	p.Bltz(a0, done)
	p.Bne(a0, s0, reap)
	p.loadStatus("status")
	p.Mv(s1, a0)
	p.J(reap)

	p.Label(done)
	p.Mv(a0, s1)
	p.syscall(rvabi.SysExit)
	return p.image(InitName)
}

func hello() []byte {
	p := newProgram()
	p.print("Hello, world!\n")
	p.exit(0)
	return p.image("hello")
}

// echo prints argv[1:] separated by spaces.
func echo() []byte {
	p := newProgram()
	loop, end := p.local("arg"), p.local("end")
	p.Mv(s0, a0)
	p.Mv(s1, a1)
	p.Li(s2, 1)

	p.Label(loop)
	p.Bge(s2, s0, end)
	p.Slli(t0, s2, 3)
	p.Add(t0, s1, t0)
	p.Ld(s3, 0, t0)
	p.printStr(s3)
	p.Addi(s2, s2, 1)
	p.Bge(s2, s0, end)
	p.print(" ")
	p.J(loop)

	p.Label(end)
	p.print("\n")
	p.exit(0)
	return p.image("echo")
}

// exitApp parses argv[1] as a decimal number and exits with it. Without an
// argument it exits with 0.
func exitApp() []byte {
	p := newProgram()
	parse, loop, done := p.local("parse"), p.local("digit"), p.local("done")
	p.Li(t0, 2)
	p.Bge(a0, t0, parse)
	p.exit(0)

	p.Label(parse)
	p.Ld(t1, 8, a1)
	p.Li(a0, 0)
	p.Li(t3, 10)
	p.Label(loop)
	p.Lbu(t2, 0, t1)
	p.Beqz(t2, done)
	p.Addi(t2, t2, -'0')
	p.Mul(a0, a0, t3)
	p.Add(a0, a0, t2)
	p.Addi(t1, t1, 1)
	p.J(loop)
	p.Label(done)
	p.syscall(rvabi.SysExit)
	return p.image("exit")
}

func spin() []byte {
	p := newProgram()
	p.Label("spin")
	p.J("spin")
	return p.image("spin")
}
