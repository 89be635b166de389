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
	register(&App{Name: "mmaptest", Description: "maps, touches and unmaps anonymous memory", SelfCheck: true, Image: mmaptest()})
}

// mmapBase is far above the program image and its stack.
const mmapBase = 0x1000_0000

func (p *program) mmap(start, length, prot int64) {
	p.Li(a0, start)
	p.Li(a1, length)
	p.Li(a2, prot)
	p.syscall(rvabi.SysMmap)
}

func (p *program) munmap(start, length int64) {
	p.Li(a0, start)
	p.Li(a1, length)
	p.syscall(rvabi.SysMunmap)
}

func mmaptest() []byte {
	const rw = rvabi.ProtRead | rvabi.ProtWrite
	p := newProgram()

	p.mmap(mmapBase, 4096, rw)
	p.expect(0, 2)
	p.Li(t1, mmapBase)
	p.Li(t2, 42)
	p.Sd(t2, 0, t1)
	p.Ld(a0, 0, t1)
	p.expect(42, 3)

	// Overlap, empty or out of range protection and a misaligned start are
	// all rejected.
	p.mmap(mmapBase, 4096, rw)
	p.expect(-1, 4)
	p.mmap(mmapBase+0x10000, 4096, 0)
	p.expect(-1, 5)
	p.mmap(mmapBase+0x10000, 4096, 8)
	p.expect(-1, 6)
	p.mmap(mmapBase+0x10001, 4096, rw)
	p.expect(-1, 7)

	// Unmapping a partly mapped range fails and changes nothing.
	p.munmap(mmapBase, 8192)
	p.expect(-1, 8)
	p.Li(t1, mmapBase)
	p.Ld(a0, 0, t1)
	p.expect(42, 9)

	p.munmap(mmapBase, 4096)
	p.expect(0, 10)
	p.munmap(mmapBase, 4096)
	p.expect(-1, 11)

	// A zero length removes the whole area starting at start.
	p.mmap(mmapBase, 8192, rw)
	p.expect(0, 12)
	p.munmap(mmapBase, 0)
	p.expect(0, 13)
	p.munmap(mmapBase, 0)
	p.expect(-1, 14)

	p.print("mmap ok\n")
	p.exit(0)
	return p.image("mmaptest")
}
