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

// Package syscalls is the interface from the application to the kernel.
// It holds helpers shared by the syscall tables.
package syscalls

import (
	"strconv"
	"time"

	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/log"
	"rvsentry.dev/rvsentry/pkg/metric"
	"rvsentry.dev/rvsentry/pkg/sentry/arch"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel"
)

var (
	unimplementedLog = log.BasicRateLimitedLogger(time.Second)

	unimplementedCount = metric.MustCreateNewUint64Metric("/syscalls/unimplemented", "Number of calls to unknown syscall numbers.", metric.NewField("sysno", nil))
)

// Error returns a syscall handler that will always give the passed error.
func Error(err error) kernel.SyscallFn {
	return func(*kernel.Task, uintptr, arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
		return 0, nil, err
	}
}

// Missing is the kernel.SyscallTable.Missing handler shared by the tables:
// the call fails with kerr.ErrNoSys and is logged.
func Missing(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	unimplementedLog.Warningf("%v: unsupported syscall %d at pc %#x", t, sysno, t.TrapContext().Sepc-4)
	unimplementedCount.Increment(strconv.FormatUint(uint64(sysno), 10))
	return 0, kerr.ErrNoSys
}
