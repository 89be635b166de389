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

package arch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/marshal"
)

func TestTrapContextLayout(t *testing.T) {
	tc := NewUserTrapContext(0x10000, 0x20000, 0x8000000000080000, 0xffff_ffff_ffff_d000, TrapHandlerAddr)
	tc.X[RegA7] = 64
	buf := marshal.Marshal(&tc)
	if len(buf) != 296 {
		t.Fatalf("marshalled size = %d, want 296", len(buf))
	}
	for _, f := range []struct {
		name string
		off  int
		want uint64
	}{
		{"sp", OffsetX + RegSP*8, 0x20000},
		{"a7", OffsetX + RegA7*8, 64},
		{"sepc", OffsetSepc, 0x10000},
		{"kernel satp", OffsetKernelSatp, 0x8000000000080000},
		{"kernel sp", OffsetKernelSp, 0xffff_ffff_ffff_d000},
		{"trap handler", OffsetTrapHandler, uint64(TrapHandlerAddr)},
	} {
		if got := hostarch.ByteOrder.Uint64(buf[f.off:]); got != f.want {
			t.Errorf("%s at offset %d = %#x, want %#x", f.name, f.off, got, f.want)
		}
	}
	if tc.Sstatus&SstatusSPP != 0 {
		t.Errorf("user context has SPP set")
	}

	var back TrapContext
	back.UnmarshalBytes(buf)
	if diff := cmp.Diff(tc, back); diff != "" {
		t.Errorf("unmarshal mismatch (-want +got):\n%s", diff)
	}
}

func TestSyscallArgs(t *testing.T) {
	var tc TrapContext
	for i := 0; i < 6; i++ {
		tc.X[RegA0+i] = uint64(100 + i)
	}
	tc.X[RegA7] = 93
	args := tc.SyscallArgs()
	if tc.SyscallNo() != 93 || args[0].Uint64() != 100 || args[5].Int() != 105 {
		t.Errorf("SyscallArgs = %v, no %d", args, tc.SyscallNo())
	}
	tc.SetReturn(^uintptr(0))
	if tc.X[RegA0] != ^uint64(0) {
		t.Errorf("SetReturn did not write a0")
	}
}

func TestGotoTrapReturn(t *testing.T) {
	c := GotoTrapReturn(0x1000)
	if !c.ResumesInTrapReturn() || c.SP != 0x1000 {
		t.Errorf("GotoTrapReturn = %+v", c)
	}
}
