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
	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/marshal"
	"rvsentry.dev/rvsentry/pkg/sentry/arch"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel"
)

// Kill implements kill(pid, signum).
func Kill(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	target := t.Kernel().TaskSet().Lookup(kernel.ThreadID(args[0].Uint64()))
	if target == nil {
		return 0, nil, kerr.ErrNoProcess
	}
	return 0, nil, target.SendSignal(rvabi.Signal(args[1].Int()))
}

// Sigaction implements sigaction(signum, action, old_action). Both
// pointers are required.
func Sigaction(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	sig := rvabi.Signal(args[0].Int())
	actAddr := args[1].Pointer()
	oldAddr := args[2].Pointer()
	if !sig.IsValid() || rvabi.UnblockableSignals.Contains(sig) || actAddr == 0 || oldAddr == 0 {
		return 0, nil, kerr.ErrInvalid
	}

	io := t.IO()
	var act rvabi.SignalAction
	if _, err := marshal.CopyIn(io, actAddr, &act); err != nil {
		return 0, nil, err
	}
	old := t.SignalAction(sig)
	if _, err := marshal.CopyOut(io, oldAddr, &old); err != nil {
		return 0, nil, err
	}
	if _, err := t.SetSignalAction(sig, act); err != nil {
		return 0, nil, err
	}
	return 0, nil, nil
}

// Sigprocmask implements sigprocmask(mask), returning the old mask.
func Sigprocmask(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	old := t.SetSignalMask(rvabi.SignalSet(args[0].Uint()))
	return uintptr(old), nil, nil
}

// Sigreturn implements sigreturn(). The trap context saved when the
// handler was entered is restored, including a0.
func Sigreturn(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	a0, err := t.SignalReturn()
	if err != nil {
		return 0, nil, err
	}
	return a0, nil, nil
}
