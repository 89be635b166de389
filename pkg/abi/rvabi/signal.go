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

package rvabi

import (
	"fmt"
	"strings"
)

const (
	// MaxSig is the highest valid signal number.
	MaxSig = 31
)

// Signal is a signal number.
type Signal int

// IsValid returns true if s is a valid signal. (0 is not considered valid.)
func (s Signal) IsValid() bool {
	return s > 0 && s <= MaxSig
}

// Signals.
const (
	SIGHUP    = Signal(1)
	SIGINT    = Signal(2)
	SIGQUIT   = Signal(3)
	SIGILL    = Signal(4)
	SIGTRAP   = Signal(5)
	SIGABRT   = Signal(6)
	SIGBUS    = Signal(7)
	SIGFPE    = Signal(8)
	SIGKILL   = Signal(9)
	SIGUSR1   = Signal(10)
	SIGSEGV   = Signal(11)
	SIGUSR2   = Signal(12)
	SIGPIPE   = Signal(13)
	SIGALRM   = Signal(14)
	SIGTERM   = Signal(15)
	SIGSTKFLT = Signal(16)
	SIGCHLD   = Signal(17)
	SIGCONT   = Signal(18)
	SIGSTOP   = Signal(19)
	SIGTSTP   = Signal(20)
	SIGTTIN   = Signal(21)
	SIGTTOU   = Signal(22)
	SIGURG    = Signal(23)
	SIGXCPU   = Signal(24)
	SIGXFSZ   = Signal(25)
	SIGVTALRM = Signal(26)
	SIGPROF   = Signal(27)
	SIGWINCH  = Signal(28)
	SIGIO     = Signal(29)
	SIGPWR    = Signal(30)
	SIGSYS    = Signal(31)
)

var signalNames = [...]string{
	SIGHUP: "SIGHUP", SIGINT: "SIGINT", SIGQUIT: "SIGQUIT", SIGILL: "SIGILL",
	SIGTRAP: "SIGTRAP", SIGABRT: "SIGABRT", SIGBUS: "SIGBUS", SIGFPE: "SIGFPE",
	SIGKILL: "SIGKILL", SIGUSR1: "SIGUSR1", SIGSEGV: "SIGSEGV", SIGUSR2: "SIGUSR2",
	SIGPIPE: "SIGPIPE", SIGALRM: "SIGALRM", SIGTERM: "SIGTERM", SIGSTKFLT: "SIGSTKFLT",
	SIGCHLD: "SIGCHLD", SIGCONT: "SIGCONT", SIGSTOP: "SIGSTOP", SIGTSTP: "SIGTSTP",
	SIGTTIN: "SIGTTIN", SIGTTOU: "SIGTTOU", SIGURG: "SIGURG", SIGXCPU: "SIGXCPU",
	SIGXFSZ: "SIGXFSZ", SIGVTALRM: "SIGVTALRM", SIGPROF: "SIGPROF", SIGWINCH: "SIGWINCH",
	SIGIO: "SIGIO", SIGPWR: "SIGPWR", SIGSYS: "SIGSYS",
}

// String implements fmt.Stringer.String.
func (s Signal) String() string {
	if s.IsValid() {
		return signalNames[s]
	}
	return fmt.Sprintf("signal %d", int(s))
}

// SignalSet is a signal mask. Bit n corresponds to signal n; bit 0 is never
// set.
type SignalSet uint32

// SignalSetOf returns a SignalSet with a single signal set.
func SignalSetOf(sig Signal) SignalSet {
	return SignalSet(1) << uint(sig)
}

// MakeSignalSet returns SignalSet with the bit corresponding to each of the
// given signals set.
func MakeSignalSet(sigs ...Signal) SignalSet {
	var set SignalSet
	for _, sig := range sigs {
		set |= SignalSetOf(sig)
	}
	return set
}

// ValidSignals is the set of every valid signal.
const ValidSignals = SignalSet(^uint32(0)) &^ 1

// UnblockableSignals contains the signals which cannot be blocked or
// handled.
var UnblockableSignals = MakeSignalSet(SIGKILL, SIGSTOP)

// Contains returns true if sig is in set.
func (set SignalSet) Contains(sig Signal) bool {
	return set&SignalSetOf(sig) != 0
}

// Lowest returns the lowest-numbered signal in set, or 0 if set is empty.
func (set SignalSet) Lowest() Signal {
	for sig := Signal(1); sig <= MaxSig; sig++ {
		if set.Contains(sig) {
			return sig
		}
	}
	return 0
}

// ForEachSignal invokes f for each signal set in the given mask, in
// ascending order.
func ForEachSignal(set SignalSet, f func(sig Signal)) {
	for sig := Signal(1); sig <= MaxSig; sig++ {
		if set.Contains(sig) {
			f(sig)
		}
	}
}

// String implements fmt.Stringer.String.
func (set SignalSet) String() string {
	var names []string
	ForEachSignal(set, func(sig Signal) {
		names = append(names, sig.String())
	})
	return "[" + strings.Join(names, " ") + "]"
}

// Signal dispositions stored in SignalAction.Handler.
const (
	// SIG_DFL performs the default action.
	SIG_DFL = 0
)
