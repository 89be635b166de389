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

package sync

import (
	"strings"
	"testing"
)

func mustPanic(t *testing.T, substr string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q", substr)
		}
		if s, ok := r.(string); !ok || !strings.Contains(s, substr) {
			t.Fatalf("panic %v does not contain %q", r, substr)
		}
	}()
	fn()
}

func TestExclusiveBorrow(t *testing.T) {
	c := NewExclusive("counter", 0)
	v := c.Borrow()
	*v = 5
	if !c.Held() {
		t.Errorf("Held() = false during borrow")
	}
	c.Release()
	c.With(func(v *int) { *v++ })
	if got := *c.Borrow(); got != 6 {
		t.Errorf("value = %d, want 6", got)
	}
	c.Release()
}

func TestExclusiveReentry(t *testing.T) {
	c := NewExclusive("ready queue", struct{}{})
	c.Borrow()
	mustPanic(t, `"ready queue" borrowed twice`, func() { c.Borrow() })
}

func TestExclusiveDoubleRelease(t *testing.T) {
	var c Exclusive[int]
	mustPanic(t, "released while not borrowed", c.Release)
}

func TestExclusiveWithReleasesOnPanic(t *testing.T) {
	c := NewExclusive("cell", 0)
	func() {
		defer func() { recover() }()
		c.With(func(*int) { panic("boom") })
	}()
	if c.Held() {
		t.Errorf("cell still held after panicking With")
	}
}
