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

package hostarch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestVPNRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		addr Addr
		vpn  VPN
	}{
		{0x0, 0},
		{0x1000, 1},
		{0x10fff, 0x10},
		{0x3f_ffff_f000, 0x3ff_ffff},
		{0xffff_ffff_ffff_f000, 0x7ff_ffff},
		{0xffff_ffff_ffff_e000, 0x7ff_fffe},
	} {
		if got := tc.addr.VPN(); got != tc.vpn {
			t.Errorf("Addr(%#x).VPN() = %v, want %v", uint64(tc.addr), got, tc.vpn)
		}
		if got, want := tc.vpn.Addr(), tc.addr.RoundDown(); got != want {
			t.Errorf("%v.Addr() = %v, want %v", tc.vpn, got, want)
		}
	}
}

func TestCanonical(t *testing.T) {
	for _, tc := range []struct {
		addr Addr
		want bool
	}{
		{0x10000, true},
		{0x3f_ffff_ffff, true},
		{0x40_0000_0000, false},
		{0xffff_ffc0_0000_0000, true},
		{0xffff_ff80_0000_0000, false},
	} {
		if got := tc.addr.Canonical(); got != tc.want {
			t.Errorf("Addr(%#x).Canonical() = %v, want %v", uint64(tc.addr), got, tc.want)
		}
	}
}

func TestIndexes(t *testing.T) {
	vpn := VPN(0x1<<18 | 0x2<<9 | 0x3)
	if diff := cmp.Diff([Levels]uint64{1, 2, 3}, vpn.Indexes()); diff != "" {
		t.Errorf("Indexes mismatch (-want +got):\n%s", diff)
	}
}

func TestRangeOf(t *testing.T) {
	r := RangeOf(0x1800, 0x3001)
	if want := (VPNRange{Start: 1, End: 4}); r != want {
		t.Errorf("RangeOf = %v, want %v", r, want)
	}
	if r.Len() != 3 || !r.Contains(3) || r.Contains(4) {
		t.Errorf("unexpected range arithmetic on %v", r)
	}
	if !r.Overlaps(VPNRange{Start: 3, End: 10}) || r.Overlaps(VPNRange{Start: 4, End: 10}) {
		t.Errorf("unexpected overlap on %v", r)
	}
}

func TestAccessType(t *testing.T) {
	if got := ReadWrite.String(); got != "rw-" {
		t.Errorf("ReadWrite.String() = %q", got)
	}
	if !AnyAccess.SupersetOf(ReadExec) || Read.SupersetOf(ReadWrite) {
		t.Errorf("SupersetOf misbehaves")
	}
}
