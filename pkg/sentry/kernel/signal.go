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
	"time"

	"github.com/mohae/deepcopy"
	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/log"
	"rvsentry.dev/rvsentry/pkg/sentry/arch"
	"rvsentry.dev/rvsentry/pkg/sentry/platform"
)

// signalActions is indexed by signal number. Entry 0 is unused.
type signalActions [rvabi.MaxSig + 1]rvabi.SignalAction

type signalState struct {
	pending rvabi.SignalSet
	mask    rvabi.SignalSet

	// handling is the signal whose user handler is running, or 0.
	handling rvabi.Signal

	actions signalActions

	// backup is the trap context at the time handling was entered.
	backup arch.TrapContext
}

// fork returns the state a child inherits: the mask and the action table.
func (s *signalState) fork() signalState {
	return signalState{
		mask:    s.mask,
		actions: deepcopy.Copy(s.actions).(signalActions),
	}
}

// faultLog rate limits per-fault diagnostics.
var faultLog = log.BasicRateLimitedLogger(time.Second)

// ignoredByDefault returns true if the default action of sig is to ignore
// it.
func ignoredByDefault(sig rvabi.Signal) bool {
	switch sig {
	case rvabi.SIGCHLD, rvabi.SIGCONT, rvabi.SIGURG, rvabi.SIGWINCH:
		return true
	}
	return false
}

// faultSignal returns the signal raised by an exception, or false if the
// kernel has no way to handle it.
func faultSignal(code uint64) (rvabi.Signal, bool) {
	switch code {
	case rvabi.CauseInstructionMisaligned,
		rvabi.CauseInstructionFault,
		rvabi.CauseLoadFault,
		rvabi.CauseStoreFault,
		rvabi.CauseInstructionPageFault,
		rvabi.CauseLoadPageFault,
		rvabi.CauseStorePageFault:
		return rvabi.SIGSEGV, true
	case rvabi.CauseIllegalInstruction:
		return rvabi.SIGILL, true
	case rvabi.CauseBreakpoint:
		return rvabi.SIGTRAP, true
	}
	return 0, false
}

// raiseFault makes sig pending on t for the exception trap. A fault
// signal that is already pending stays pending.
func (t *Task) raiseFault(sig rvabi.Signal, trap platform.Trap) {
	faultLog.Infof("%v: %v at pc %#x raises %v", t, trap, t.tc.Sepc, sig)
	faultCount.Increment(faultName(trap.Code()))
	in := t.inner.Borrow()
	in.signals.pending |= rvabi.SignalSetOf(sig)
	t.inner.Release()
}

// SendSignal makes sig pending on t. A blocked task that can take the
// signal is woken so that it reaches its signal pass.
func (t *Task) SendSignal(sig rvabi.Signal) error {
	if !sig.IsValid() {
		return kerr.ErrInvalid
	}
	bit := rvabi.SignalSetOf(sig)
	in := t.inner.Borrow()
	if in.status == TaskZombie {
		t.inner.Release()
		return kerr.ErrNoProcess
	}
	if in.signals.pending&bit != 0 {
		t.inner.Release()
		return kerr.ErrAlreadySent
	}
	in.signals.pending |= bit
	deliverable := bit&rvabi.UnblockableSignals != 0 || in.signals.mask&bit == 0
	blocked := in.status == TaskBlocked
	t.inner.Release()

	log.Debugf("%v: %v sent", t, sig)
	if blocked && deliverable {
		t.k.interrupt(t)
	}
	return nil
}

// PendingSignals returns the set of pending signals.
func (t *Task) PendingSignals() rvabi.SignalSet {
	in := t.inner.Borrow()
	defer t.inner.Release()
	return in.signals.pending
}

// SignalMask returns the set of blocked signals.
func (t *Task) SignalMask() rvabi.SignalSet {
	in := t.inner.Borrow()
	defer t.inner.Release()
	return in.signals.mask
}

// SetSignalMask sets the set of blocked signals and returns the old one.
// SIGKILL and SIGSTOP cannot be blocked.
func (t *Task) SetSignalMask(mask rvabi.SignalSet) rvabi.SignalSet {
	in := t.inner.Borrow()
	defer t.inner.Release()
	old := in.signals.mask
	in.signals.mask = mask &^ rvabi.UnblockableSignals
	return old
}

// SignalAction returns the action of sig.
func (t *Task) SignalAction(sig rvabi.Signal) rvabi.SignalAction {
	in := t.inner.Borrow()
	defer t.inner.Release()
	return in.signals.actions[sig]
}

// SetSignalAction installs act as the action of sig and returns the old
// action.
func (t *Task) SetSignalAction(sig rvabi.Signal, act rvabi.SignalAction) (rvabi.SignalAction, error) {
	if !sig.IsValid() || rvabi.UnblockableSignals.Contains(sig) {
		return rvabi.SignalAction{}, kerr.ErrInvalid
	}
	in := t.inner.Borrow()
	defer t.inner.Release()
	old := in.signals.actions[sig]
	in.signals.actions[sig] = act
	return old, nil
}

// HandlingSignal returns the signal whose handler is running, or 0.
func (t *Task) HandlingSignal() rvabi.Signal {
	in := t.inner.Borrow()
	defer t.inner.Release()
	return in.signals.handling
}

// SignalReturn leaves the running signal handler: the trap context saved
// on entry is restored. It returns the restored a0 so that writing the
// syscall return value leaves the register unchanged.
func (t *Task) SignalReturn() (uintptr, error) {
	in := t.inner.Borrow()
	if in.signals.handling == 0 {
		t.inner.Release()
		return 0, kerr.ErrInvalid
	}
	in.signals.handling = 0
	t.tc = in.signals.backup
	t.inner.Release()
	return t.tc.Return(), nil
}

// deliverSignals is the signal pass run before every return to user mode.
// It returns false if a signal terminated t.
func (t *Task) deliverSignals() bool {
	for {
		in := t.inner.Borrow()
		s := &in.signals
		eligible := s.pending &^ (s.mask &^ rvabi.UnblockableSignals)
		if s.handling != 0 {
			// The running handler holds off its own signal and its mask,
			// as well as every other user handler.
			held := rvabi.SignalSetOf(s.handling) | rvabi.SignalSet(s.actions[s.handling].Mask)
			eligible &^= held &^ rvabi.UnblockableSignals
		}

		var sig rvabi.Signal
		var act rvabi.SignalAction
		rvabi.ForEachSignal(eligible, func(cand rvabi.Signal) {
			if sig != 0 {
				return
			}
			a := s.actions[cand]
			if a.Handler != rvabi.SIG_DFL && s.handling != 0 && !rvabi.UnblockableSignals.Contains(cand) {
				return
			}
			sig, act = cand, a
		})
		if sig == 0 {
			t.inner.Release()
			return true
		}
		s.pending &^= rvabi.SignalSetOf(sig)

		if act.Handler == rvabi.SIG_DFL || rvabi.UnblockableSignals.Contains(sig) {
			t.inner.Release()
			if ignoredByDefault(sig) {
				log.Debugf("%v: %v ignored", t, sig)
				continue
			}
			t.k.fw.Printf("[kernel] Application (pid %d) killed by %v.\n", t.pid, sig)
			log.Infof("%v: killed by %v", t, sig)
			signalsDelivered.Increment()
			t.Exit(-int32(sig))
			return false
		}

		s.handling = sig
		s.backup = t.tc
		t.inner.Release()

		t.tc.Sepc = act.Handler
		t.tc.SetReturn(uintptr(sig))
		signalsDelivered.Increment()
		log.Debugf("%v: %v delivered to handler %#x", t, sig, act.Handler)
		return true
	}
}
