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
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPIDAllocatorReusesLowest(t *testing.T) {
	a := NewPIDAllocator()
	var got []ThreadID
	for i := 0; i < 4; i++ {
		got = append(got, a.Allocate())
	}
	a.Release(3)
	a.Release(1)
	got = append(got, a.Allocate(), a.Allocate(), a.Allocate())
	want := []ThreadID{0, 1, 2, 3, 1, 3, 4}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("allocation order mismatch (-want +got):\n%s", diff)
	}
}

func TestPIDAllocatorBadRelease(t *testing.T) {
	for _, tc := range []struct {
		name string
		f    func(a *PIDAllocator)
	}{
		{"never allocated", func(a *PIDAllocator) { a.Release(5) }},
		{"twice", func(a *PIDAllocator) {
			tid := a.Allocate()
			a.Release(tid)
			a.Release(tid)
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("Release did not panic")
				}
			}()
			tc.f(NewPIDAllocator())
		})
	}
}

func TestTaskSet(t *testing.T) {
	ts := newTaskSet()
	tasks := []*Task{{pid: 2}, {pid: 0}, {pid: 1}}
	for _, task := range tasks {
		ts.add(task)
	}
	if got := ts.Lookup(1); got != tasks[2] {
		t.Errorf("Lookup(1) = %p, want %p", got, tasks[2])
	}
	if got := ts.Lookup(7); got != nil {
		t.Errorf("Lookup(7) = %v, want nil", got)
	}
	var pids []ThreadID
	for _, task := range ts.Tasks() {
		pids = append(pids, task.pid)
	}
	if diff := cmp.Diff([]ThreadID{0, 1, 2}, pids); diff != "" {
		t.Errorf("Tasks() mismatch (-want +got):\n%s", diff)
	}

	ts.remove(1)
	if got := ts.Lookup(1); got != nil {
		t.Errorf("Lookup(1) after remove = %v, want nil", got)
	}
	if got := ts.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	runtime.KeepAlive(tasks)
}

func TestTaskSetDuplicate(t *testing.T) {
	ts := newTaskSet()
	task := &Task{pid: 3}
	ts.add(task)
	defer func() {
		if recover() == nil {
			t.Errorf("adding pid 3 twice did not panic")
		}
		runtime.KeepAlive(task)
	}()
	ts.add(&Task{pid: 3})
}
