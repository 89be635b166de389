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
	"testing"

	"github.com/google/go-cmp/cmp"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/marshal"
)

func TestSignalSet(t *testing.T) {
	set := MakeSignalSet(SIGSEGV, SIGUSR1)
	if !set.Contains(SIGSEGV) || set.Contains(SIGKILL) {
		t.Errorf("Contains misbehaves on %v", set)
	}
	if got := set.Lowest(); got != SIGUSR1 {
		t.Errorf("Lowest() = %v, want %v", got, SIGUSR1)
	}
	if got, want := uint32(SignalSetOf(SIGKILL)), uint32(1<<9); got != want {
		t.Errorf("SignalSetOf(SIGKILL) = %#x, want %#x", got, want)
	}
	if ValidSignals.Contains(0) {
		t.Errorf("signal 0 is in ValidSignals")
	}
	if got := set.String(); got != "[SIGUSR1 SIGSEGV]" {
		t.Errorf("String() = %q", got)
	}
}

func TestStatLayout(t *testing.T) {
	s := Stat{Dev: 1, Ino: 7, Mode: StatModeFile, Nlink: 2}
	buf := marshal.Marshal(&s)
	if len(buf) != 80 {
		t.Fatalf("len(Stat) = %d, want 80", len(buf))
	}
	if got := hostarch.ByteOrder.Uint32(buf[16:20]); got != StatModeFile {
		t.Errorf("mode at offset 16 = %#o", got)
	}
}

func TestTaskInfoLayout(t *testing.T) {
	want := TaskInfo{PID: 3, Status: TaskRunning, TimeMs: 42}
	want.Calls[0] = SyscallInfo{ID: SysWrite, Times: 5}
	var got TaskInfo
	got.UnmarshalBytes(marshal.Marshal(&want))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TaskInfo mismatch (-want +got):\n%s", diff)
	}
}
