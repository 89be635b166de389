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

package rv64

import (
	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/marshal"
	"rvsentry.dev/rvsentry/pkg/marshal/primitive"
	"rvsentry.dev/rvsentry/pkg/sentry/arch"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel"
	"rvsentry.dev/rvsentry/pkg/usermem"
)

// copyInArgv copies the NULL-terminated argument vector at addr. A null
// addr is an empty vector.
func copyInArgv(t *kernel.Task, addr hostarch.Addr) ([]string, error) {
	if addr == 0 {
		return nil, nil
	}
	return t.IO().CopyInVector(addr, usermem.MaxVectorLen, usermem.MaxStringLen)
}

// Exit implements exit(code).
func Exit(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	t.Exit(args[0].Int())
	return 0, kernel.CtrlDoExit, nil
}

// Yield implements yield().
func Yield(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, kernel.CtrlYield, nil
}

// Getpid implements getpid().
func Getpid(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(t.PID()), nil, nil
}

// Fork implements fork(). The child sees a return value of 0.
func Fork(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	child, err := t.Fork()
	if err != nil {
		return 0, nil, err
	}
	child.TrapContext().SetReturn(0)
	t.Kernel().Enqueue(child)
	return uintptr(child.PID()), nil, nil
}

// Exec implements exec(path, argv).
func Exec(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := copyInPath(t, args[0].Pointer())
	if err != nil {
		return 0, nil, err
	}
	argv, err := copyInArgv(t, args[1].Pointer())
	if err != nil {
		return 0, nil, err
	}
	argc, err := t.Exec(path, argv)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(argc), nil, nil
}

// Spawn implements spawn(path, argv).
func Spawn(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := copyInPath(t, args[0].Pointer())
	if err != nil {
		return 0, nil, err
	}
	argv, err := copyInArgv(t, args[1].Pointer())
	if err != nil {
		return 0, nil, err
	}
	child, err := t.Spawn(path, argv)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(child.PID()), nil, nil
}

// Waitpid implements waitpid(pid, status). pid -1 waits for any child. The
// exit code is written to status as a 32-bit int unless status is null.
func Waitpid(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := args[0].Int64()
	addr := args[1].Pointer()
	io := t.IO()
	tid, err := t.WaitPID(pid, func(code int32) error {
		if addr == 0 {
			return nil
		}
		return primitive.CopyInt32Out(io, addr, code)
	})
	if err != nil {
		return 0, nil, err
	}
	return uintptr(tid), nil, nil
}

// SetPriority implements set_priority(prio). prio must be at least 2.
func SetPriority(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	prio := args[0].Int64()
	if !t.SetPriority(prio) {
		return 0, nil, kerr.ErrInvalid
	}
	return 0, nil, nil
}

// TaskInfo implements task_info(info) for the calling task.
func TaskInfo(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	info := t.Info()
	if _, err := marshal.CopyOut(t.IO(), args[0].Pointer(), &info); err != nil {
		return 0, nil, err
	}
	return 0, nil, nil
}

// GetTime implements get_time(), returning milliseconds.
func GetTime(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(t.Kernel().TimeMs()), nil, nil
}
