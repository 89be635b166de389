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

package kerr

import (
	"fmt"
	"testing"
)

func TestCodes(t *testing.T) {
	for _, tc := range []struct {
		err  interface{ Return() uintptr }
		want int64
	}{
		{ErrNoChild, -1},
		{ErrInvalid, -1},
		{ErrStillRunning, -2},
		{ErrWouldBlock, -2},
		{ErrNoProcess, -2},
	} {
		if got := int64(tc.err.Return()); got != tc.want {
			t.Errorf("%v.Return() = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestToError(t *testing.T) {
	wrapped := fmt.Errorf("waitpid: %w", ErrStillRunning)
	if got := ToError(wrapped); got != ErrStillRunning {
		t.Errorf("ToError(wrapped) = %v, want %v", got, ErrStillRunning)
	}
	if got := ToError(fmt.Errorf("plain")); got != ErrInvalid {
		t.Errorf("ToError(plain) = %v, want %v", got, ErrInvalid)
	}
	if ToError(nil) != nil {
		t.Errorf("ToError(nil) != nil")
	}
	if Equals(ErrWouldBlock, wrapped) || !Equals(ErrStillRunning, wrapped) {
		t.Errorf("Equals does not distinguish errors sharing a code")
	}
}
