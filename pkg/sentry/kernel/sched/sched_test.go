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

package sched

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type task struct {
	name string
	Entity
}

func (t *task) SchedEntity() *Entity { return &t.Entity }

func newTask(name string, prio uint64) *task {
	t := &task{name: name, Entity: NewEntity()}
	t.SetPriority(prio)
	return t
}

func TestStrideLess(t *testing.T) {
	for _, tc := range []struct {
		a, b uint8
		want bool
	}{
		{250, 10, true},
		{10, 250, false},
		{0, 127, true},
		{127, 0, false},
		{5, 5, false},
		{255, 0, true},
	} {
		if got := StrideLess(tc.a, tc.b); got != tc.want {
			t.Errorf("StrideLess(%d, %d) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestFetchOrderAndIncrement(t *testing.T) {
	q := NewQueue[*task]()
	a, b := newTask("a", 16), newTask("b", 16)
	q.Add(a)
	q.Add(b)
	got, _ := q.Fetch()
	if got != a {
		t.Fatalf("Fetch() = %s, want a (ties break by arrival)", got.name)
	}
	if a.Stride() != 16 || a.Queued() {
		t.Errorf("after fetch: stride %d queued %v, want 16 false", a.Stride(), a.Queued())
	}
	q.Add(a)
	if got, _ := q.Fetch(); got != b {
		t.Errorf("Fetch() = %s, want b", got.name)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestWraparound(t *testing.T) {
	q := NewQueue[*task]()
	a, b := newTask("a", 2), newTask("b", 2)
	// Two picks of b at priority 2 move it past the wrap point.
	a.pass, b.pass = 250, 266
	q.Add(b)
	q.Add(a)
	if a.Stride() != 250 || b.Stride() != 10 || !StrideLess(a.Stride(), b.Stride()) {
		t.Fatalf("strides a=%d b=%d", a.Stride(), b.Stride())
	}
	if got, _ := q.Fetch(); got != a {
		t.Errorf("Fetch() = %s, want a", got.name)
	}
}

func TestProportionalShare(t *testing.T) {
	q := NewQueue[*task]()
	tasks := []*task{newTask("p2", 2), newTask("p4", 4), newTask("p16", 16)}
	for _, tk := range tasks {
		q.Add(tk)
	}
	counts := make(map[string]int)
	for i := 0; i < 14*20; i++ {
		tk, ok := q.Fetch()
		if !ok {
			t.Fatalf("queue empty")
		}
		counts[tk.name]++
		q.Add(tk)
	}
	// Shares are 1:2:8 of every 11 picks for increments 128, 64 and 16.
	for name, want := range map[string]int{"p2": 280 / 11, "p4": 2 * 280 / 11, "p16": 8 * 280 / 11} {
		if got := counts[name]; got < want-2 || got > want+2 {
			t.Errorf("%s picked %d times, want about %d", name, got, want)
		}
	}
}

func TestLateArrivalJoinsAtVirtualTime(t *testing.T) {
	q := NewQueue[*task]()
	old := newTask("old", 16)
	q.Add(old)
	for i := 0; i < 100; i++ {
		tk, _ := q.Fetch()
		q.Add(tk)
	}
	late := newTask("late", 16)
	q.Add(late)
	var order []string
	for i := 0; i < 4; i++ {
		tk, _ := q.Fetch()
		order = append(order, tk.name)
		q.Add(tk)
	}
	if diff := cmp.Diff([]string{"late", "old", "late", "old"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestRemove(t *testing.T) {
	q := NewQueue[*task]()
	a, b := newTask("a", 16), newTask("b", 16)
	q.Add(a)
	q.Add(b)
	if !q.Remove(a) || q.Remove(a) {
		t.Errorf("Remove(a) did not remove exactly once")
	}
	var names []string
	q.Ascend(func(tk *task) bool {
		names = append(names, tk.name)
		return true
	})
	if diff := cmp.Diff([]string{"b"}, names); diff != "" {
		t.Errorf("queue mismatch (-want +got):\n%s", diff)
	}
}

func TestPriorityFloor(t *testing.T) {
	tk := newTask("t", 0)
	if tk.Priority() != MinPriority {
		t.Errorf("Priority() = %d, want %d", tk.Priority(), MinPriority)
	}
	q := NewQueue[*task]()
	q.Add(tk)
	q.Fetch()
	if tk.Stride() != BigStride/MinPriority {
		t.Errorf("Stride() = %d, want %d", tk.Stride(), BigStride/MinPriority)
	}
}

func TestDoubleAddPanics(t *testing.T) {
	q := NewQueue[*task]()
	tk := newTask("t", 16)
	q.Add(tk)
	defer func() {
		if recover() == nil {
			t.Errorf("double Add did not panic")
		}
	}()
	q.Add(tk)
}
