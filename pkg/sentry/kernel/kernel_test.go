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

package kernel_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"rvsentry.dev/rvsentry/pkg/apps"
	"rvsentry.dev/rvsentry/pkg/metric"
	"rvsentry.dev/rvsentry/pkg/sbi"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel"
	_ "rvsentry.dev/rvsentry/pkg/sentry/platform/platforms"
	_ "rvsentry.dev/rvsentry/pkg/sentry/syscalls/rv64"
)

type result struct {
	out    string
	code   int
	kernel *kernel.Kernel
}

// boot runs initproc with argv until it exits.
func boot(t *testing.T, timeout time.Duration, argv ...string) (result, error) {
	t.Helper()
	var out strings.Builder
	k, err := kernel.New(kernel.DefaultConfig(), sbi.NewConsole(&out, nil), apps.Images())
	if err != nil {
		t.Fatalf("kernel.New failed: %v", err)
	}
	t.Cleanup(func() { k.Release() })
	if err := k.Start(append([]string{apps.InitName}, argv...)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	code, err := k.Run(ctx)
	return result{out: out.String(), code: code, kernel: k}, err
}

func mustBoot(t *testing.T, argv ...string) result {
	t.Helper()
	r, err := boot(t, time.Minute, argv...)
	if err != nil {
		t.Fatalf("Run(%v) failed: %v\nconsole:\n%s", argv, err, r.out)
	}
	return r
}

func TestOutput(t *testing.T) {
	for _, tc := range []struct {
		argv []string
		out  string
		code int
	}{
		{[]string{"hello"}, "Hello, world!\n", 0},
		{[]string{"echo", "a", "bc"}, "a bc\n", 0},
		{[]string{"echo"}, "\n", 0},
		{[]string{"exit", "42"}, "", 42},
		{[]string{"forkexec"}, "from child\nforkexec ok\n", 0},
		{[]string{"mutextest"}, "parent: locked\nparent: unlocking\nchild: locked\nmutextest ok\n", 0},
		{[]string{"semtest"}, "parent: up\nchild: down\nsemtest ok\n", 0},
		{[]string{"pipetest"}, "through the pipe\npipetest ok\n", 0},
		{[]string{"mailtest"}, "mail: ping\nmailtest ok\n", 0},
		{[]string{"mmaptest"}, "mmap ok\n", 0},
		{[]string{"segv"}, "segv: storing to address 0\n[kernel] Application (pid 1) killed by SIGSEGV.\n", -11},
		{[]string{"illegal"}, "illegal: executing 0x00000000\n[kernel] Application (pid 1) killed by SIGILL.\n", -4},
		{[]string{"sigtest"}, "sigtest: caught signal\n[kernel] Application (pid 2) killed by SIGKILL.\nsigtest ok\n", 0},
		{[]string{"missing"}, "initproc: spawn failed\n", 127},
		{nil, "initproc: nothing to run\n", 1},
	} {
		t.Run(strings.Join(tc.argv, " "), func(t *testing.T) {
			t.Parallel()
			r := mustBoot(t, tc.argv...)
			if diff := cmp.Diff(tc.out, r.out); diff != "" {
				t.Errorf("console mismatch (-want +got):\n%s", diff)
			}
			if r.code != tc.code {
				t.Errorf("exit code = %d, want %d", r.code, tc.code)
			}
		})
	}
}

func TestSelfChecks(t *testing.T) {
	for _, app := range apps.SelfChecks() {
		t.Run(app.Name, func(t *testing.T) {
			t.Parallel()
			r := mustBoot(t, app.Name)
			if r.code != app.ExitCode {
				t.Errorf("exit code = %d, want %d\nconsole:\n%s", r.code, app.ExitCode, r.out)
			}
		})
	}
}

func TestReapedChildrenLeaveNothing(t *testing.T) {
	// Both runs end with only init left as a zombie; forkexec also created,
	// exec'd and reaped two tasks.
	base := mustBoot(t, "exit")
	r := mustBoot(t, "forkexec")
	if got, want := r.kernel.Allocator().InUse(), base.kernel.Allocator().InUse(); got != want {
		t.Errorf("frames in use after forkexec = %d, after exit = %d", got, want)
	}
	if got := r.kernel.TaskSet().Len(); got != 1 {
		t.Errorf("TaskSet().Len() = %d, want 1", got)
	}
	if init := r.kernel.Init(); init.Status() != kernel.TaskZombie || init.ExitCode() != 0 {
		t.Errorf("init is %v with code %d, want a zombie with code 0", init.Status(), init.ExitCode())
	}
}

func TestPreemption(t *testing.T) {
	// spin never makes a syscall; only the timer returns control to Run.
	r, err := boot(t, 200*time.Millisecond, "spin")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run got err %v, want %v\nconsole:\n%s", err, context.DeadlineExceeded, r.out)
	}
	if _, failure := r.kernel.Firmware().ShutdownRequested(); failure {
		t.Errorf("shutdown requested while spin was running")
	}
}

func TestShutdown(t *testing.T) {
	r := mustBoot(t, "exit", "3")
	requested, failure := r.kernel.Firmware().ShutdownRequested()
	if !requested || !failure {
		t.Errorf("ShutdownRequested() = %t, %t, want true, true", requested, failure)
	}
}

func TestSyscallMetrics(t *testing.T) {
	mustBoot(t, "hello")
	for _, d := range metric.GetSnapshot().Data {
		if d.Metric.Name == "kernel_syscalls" && d.Labels["name"] == "write" && d.Value > 0 {
			return
		}
	}
	t.Errorf("no write syscalls counted")
}
