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

package kernel

import (
	"fmt"

	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/log"
	"rvsentry.dev/rvsentry/pkg/sentry/mm"
	"rvsentry.dev/rvsentry/pkg/sentry/platform"
)

// runOutcome is what happens to a task after its trap is handled.
type runOutcome int

const (
	// runContinue returns to the same task.
	runContinue runOutcome = iota

	// runResched puts the task back in the ready queue and switches away.
	runResched

	// runBlocked switches away from a task that is waiting for an event.
	runBlocked

	// runExited switches away from a task that has exited.
	runExited
)

// runTask runs t on the hart until it yields, is preempted, blocks or
// exits.
func (k *Kernel) runTask(t *Task) {
	in := t.inner.Borrow()
	in.status = TaskRunning
	if !in.started {
		in.started = true
		in.startTime = k.fw.Time()
	}
	if !in.taskCtx.ResumesInTrapReturn() {
		t.inner.Release()
		panic(fmt.Sprintf("%v does not resume in trap return", t))
	}
	t.inner.Release()

	k.current = t
	defer func() { k.current = nil }()
	contextSwitches.Increment()
	k.armTimer()

	for {
		if !t.deliverSignals() {
			return
		}
		t.storeTrapContext()
		trap := k.hart.Enter(mm.TrapContextBase, t.Token())
		t.loadTrapContext()

		switch k.handleTrap(t, trap) {
		case runContinue:
		case runResched:
			k.Enqueue(t)
			return
		case runBlocked, runExited:
			return
		}
	}
}

// armTimer programs the timer to fire one time slice from now.
func (k *Kernel) armTimer() {
	k.fw.SetTimer(k.fw.Time() + k.timeslice)
}

// handleTrap is the kernel's trap handler.
func (k *Kernel) handleTrap(t *Task, trap platform.Trap) runOutcome {
	if trap.IsInterrupt() {
		if trap.Code() == rvabi.InterruptSupervisorTimer {
			k.armTimer()
			return runResched
		}
		panic(fmt.Sprintf("%v: unsupported %v", t, trap))
	}
	if trap.Code() == rvabi.CauseUserEnvCall {
		return k.syscall(t)
	}
	sig, ok := faultSignal(trap.Code())
	if !ok {
		panic(fmt.Sprintf("%v: unsupported %v at pc %#x", t, trap, t.tc.Sepc))
	}
	t.raiseFault(sig, trap)
	return runContinue
}

// syscall dispatches the ecall in t's trap context.
func (k *Kernel) syscall(t *Task) runOutcome {
	sysno := t.tc.SyscallNo()
	args := t.tc.SyscallArgs()
	t.tc.Sepc += 4
	t.stats.record(sysno)

	var (
		rval uintptr
		ctrl *SyscallControl
		err  error
	)
	if sc, ok := k.table.Lookup(sysno); ok {
		syscallCount.Increment(sc.Name)
		rval, ctrl, err = sc.Fn(t, sysno, args)
	} else {
		syscallCount.Increment("unknown")
		rval, err = k.table.Missing(t, sysno, args)
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("%v: %s(%#x, %#x, %#x) = %#x, %v", t, k.table.Name(sysno), args[0].Value, args[1].Value, args[2].Value, rval, err)
	}

	if ctrl == nil {
		ctrl = &SyscallControl{next: runContinue}
	}
	if ctrl.restart {
		t.tc.Sepc -= 4
	}
	if !ctrl.ignoreReturn {
		if err != nil {
			rval = kerr.ToError(err).Return()
		}
		// The context is reloaded: exec and sigreturn replace it.
		t.tc.SetReturn(rval)
	}
	return ctrl.next
}
