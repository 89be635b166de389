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

package rv64_test

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/apps"
	"rvsentry.dev/rvsentry/pkg/metric"
	"rvsentry.dev/rvsentry/pkg/rvasm"
	"rvsentry.dev/rvsentry/pkg/sbi"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel"
	_ "rvsentry.dev/rvsentry/pkg/sentry/platform/platforms"
	"rvsentry.dev/rvsentry/pkg/sentry/syscalls/rv64"
)

// checker assembles a program that makes syscalls and exits with the
// number of the first check whose result was wrong, or 0.
type checker struct {
	*rvasm.Assembler
	checks int
}

func newChecker() *checker {
	c := &checker{Assembler: rvasm.New()}
	c.Label(rvasm.EntryLabel)
	return c
}

// call sets a0..a(n-1) from args, where a string names a data label, and
// issues syscall no.
func (c *checker) call(no int64, args ...any) {
	for i, arg := range args {
		r := rvasm.A0 + rvasm.Reg(i)
		switch v := arg.(type) {
		case string:
			c.La(r, v)
		case int:
			c.Li(r, int64(v))
		case int64:
			c.Li(r, v)
		default:
			panic(fmt.Sprintf("bad argument %v", arg))
		}
	}
	c.Li(rvasm.A7, no)
	c.Ecall()
}

// want exits with a fresh check number unless a0 == v.
func (c *checker) want(v int64) {
	c.checks++
	ok := fmt.Sprintf(".ok%d", c.checks)
	c.Li(rvasm.T0, v)
	c.Beq(rvasm.A0, rvasm.T0, ok)
	c.Li(rvasm.A0, int64(c.checks))
	c.Li(rvasm.A7, rvabi.SysExit)
	c.Ecall()
	c.Label(ok)
}

// wantMem is want for the 64-bit value at label+off.
func (c *checker) wantMem(label string, off, width int64, v int64) {
	c.La(rvasm.T1, label)
	if width == 4 {
		c.Lwu(rvasm.A0, off, rvasm.T1)
	} else {
		c.Ld(rvasm.A0, off, rvasm.T1)
	}
	c.want(v)
}

func (c *checker) image(t *testing.T) []byte {
	t.Helper()
	c.call(rvabi.SysExit, 0)
	b, err := c.Assemble()
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	return b
}

func run(t *testing.T, name string, image []byte) (*kernel.Kernel, string, int) {
	t.Helper()
	images := apps.Images()
	images[name] = image
	var out strings.Builder
	k, err := kernel.New(kernel.DefaultConfig(), sbi.NewConsole(&out, nil), images)
	if err != nil {
		t.Fatalf("kernel.New failed: %v", err)
	}
	t.Cleanup(func() { k.Release() })
	if err := k.Start([]string{apps.InitName, name}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	code, err := k.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v\nconsole:\n%s", err, out.String())
	}
	return k, out.String(), code
}

func TestFiles(t *testing.T) {
	c := newChecker()
	c.String("notes", "notes")
	c.String("again", "again")
	c.String("hello", "hello")
	c.Space("buf", 16)
	c.Space("stat", 80)

	c.call(rvabi.SysOpen, "notes", rvabi.O_CREATE|rvabi.O_RDWR)
	c.want(3)
	c.call(rvabi.SysWrite, 3, "hello", 5)
	c.want(5)
	c.call(rvabi.SysFstat, 3, "stat")
	c.want(0)
	c.wantMem("stat", 16, 4, rvabi.StatModeFile)
	c.wantMem("stat", 20, 4, 1)
	c.call(rvabi.SysLinkat, rvabi.AtFDCWD, "notes", rvabi.AtFDCWD, "again", 0)
	c.want(0)
	c.call(rvabi.SysFstat, 3, "stat")
	c.want(0)
	c.wantMem("stat", 20, 4, 2)
	c.call(rvabi.SysLinkat, 3, "notes", rvabi.AtFDCWD, "third", 0)
	c.want(-1)
	c.call(rvabi.SysClose, 3)
	c.want(0)
	c.call(rvabi.SysClose, 3)
	c.want(-1)

	c.call(rvabi.SysOpen, "again", rvabi.O_RDONLY)
	c.want(3)
	c.call(rvabi.SysWrite, 3, "hello", 5)
	c.want(-1)
	c.call(rvabi.SysRead, 3, "buf", 16)
	c.want(5)
	c.wantMem("buf", 0, 4, 'h'|'e'<<8|'l'<<16|'l'<<24)
	c.call(rvabi.SysDup, 3)
	c.want(4)
	c.call(rvabi.SysRead, 4, "buf", 16)
	c.want(0)
	c.call(rvabi.SysUnlinkat, rvabi.AtFDCWD, "notes", 0)
	c.want(0)
	c.call(rvabi.SysOpen, "notes", rvabi.O_RDONLY)
	c.want(-1)

	// Bad descriptors and bad buffers.
	c.call(rvabi.SysWrite, 9, "hello", 5)
	c.want(-1)
	c.call(rvabi.SysRead, 3, 0, 16)
	c.want(-1)
	c.call(rvabi.SysWrite, 1, 0x4000_0000, 16)
	c.want(-1)
	c.call(rvabi.SysOpen, 0, rvabi.O_RDONLY)
	c.want(-1)

	// Unknown syscalls fail without killing the caller.
	c.call(9999)
	c.want(-1)

	k, out, code := run(t, "files", c.image(t))
	if code != 0 {
		t.Fatalf("check %d failed\nconsole:\n%s", code, out)
	}
	names := k.Filesystem().List()
	if !slices.Contains(names, "again") || slices.Contains(names, "notes") {
		t.Errorf("filesystem holds %v, want again and not notes", names)
	}
	data, err := k.Filesystem().ReadFile("again")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if diff := cmp.Diff("hello", string(data)); diff != "" {
		t.Errorf("file contents mismatch (-want +got):\n%s", diff)
	}
	if got := metricValue("syscalls_unimplemented", "sysno", "9999"); got == 0 {
		t.Errorf("unimplemented syscall not counted")
	}
}

func TestProcessCalls(t *testing.T) {
	c := newChecker()
	c.Space("status", 8)
	c.Space("act", 16)

	c.call(rvabi.SysGetpid)
	c.want(1)
	c.call(rvabi.SysWaitpid, -1, "status")
	c.want(-1)
	c.call(rvabi.SysSetPriority, 2)
	c.want(0)
	c.call(rvabi.SysGetTime)
	c.Bltz(rvasm.A0, ".negative")
	c.call(rvabi.SysSigreturn)
	c.want(-1)
	c.call(rvabi.SysSigaction, 0, "act", "act")
	c.want(-1)
	c.call(rvabi.SysSigaction, 32, "act", "act")
	c.want(-1)
	c.call(rvabi.SysSigaction, int(rvabi.SIGUSR1), 0, "act")
	c.want(-1)
	c.call(rvabi.SysSigaction, int(rvabi.SIGSTOP), "act", "act")
	c.want(-1)
	// KILL and STOP cannot be masked.
	c.call(rvabi.SysSigprocmask, 1<<int(rvabi.SIGKILL)|1<<int(rvabi.SIGUSR2))
	c.want(0)
	c.call(rvabi.SysSigprocmask, 0)
	c.want(1 << int(rvabi.SIGUSR2))
	c.call(rvabi.SysKill, 1, 0)
	c.want(-1)
	c.call(rvabi.SysExec, "missing", 0)
	c.want(-1)
	c.call(rvabi.SysSpawn, "missing", 0)
	c.want(-1)
	c.call(rvabi.SysMailWrite, 1000, 0, 0)
	c.want(-1)
	c.call(rvabi.SysTaskInfo, 0)
	c.want(-1)
	c.call(rvabi.SysExit, 0)
	c.Label(".negative")
	c.call(rvabi.SysExit, 100)

	_, out, code := run(t, "procs", c.image(t))
	if code != 0 {
		t.Fatalf("check %d failed\nconsole:\n%s", code, out)
	}
}

func TestTable(t *testing.T) {
	table, ok := kernel.LookupSyscallTable(rv64.ABI)
	if !ok {
		t.Fatalf("table %q not registered", rv64.ABI)
	}
	for _, no := range []uintptr{
		rvabi.SysDup, rvabi.SysUnlinkat, rvabi.SysLinkat, rvabi.SysOpen, rvabi.SysClose,
		rvabi.SysPipe, rvabi.SysRead, rvabi.SysWrite, rvabi.SysFstat, rvabi.SysExit,
		rvabi.SysYield, rvabi.SysKill, rvabi.SysSigaction, rvabi.SysSigprocmask,
		rvabi.SysSigreturn, rvabi.SysSetPriority, rvabi.SysGetTime, rvabi.SysGetpid,
		rvabi.SysMunmap, rvabi.SysFork, rvabi.SysExec, rvabi.SysMmap, rvabi.SysWaitpid,
		rvabi.SysSpawn, rvabi.SysMailRead, rvabi.SysMailWrite, rvabi.SysTaskInfo,
		rvabi.SysMutexFD, rvabi.SysSemaphoreFD,
	} {
		if _, ok := table.Lookup(no); !ok {
			t.Errorf("syscall %d missing from the table", no)
		}
	}
	if got := len(rv64.RV64.Table); got != 29 {
		t.Errorf("table has %d entries, want 29", got)
	}
}

func metricValue(name, label, value string) uint64 {
	for _, d := range metric.GetSnapshot().Data {
		if d.Metric.Name == name && d.Labels[label] == value {
			return d.Value
		}
	}
	return 0
}
