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
	"sort"
	"weak"

	"github.com/google/btree"
	"rvsentry.dev/rvsentry/pkg/sync"
)

// ThreadID is a process identifier.
type ThreadID uint64

// InitTID is the pid of the first task, which adopts orphans.
const InitTID ThreadID = 0

// String returns a decimal representation of the ThreadID.
func (tid ThreadID) String() string {
	return fmt.Sprintf("%d", tid)
}

// PIDAllocator hands out process ids. Released ids are reused, lowest
// first, before new ones are minted.
type PIDAllocator struct {
	mu       sync.Mutex
	next     ThreadID
	recycled *btree.BTreeG[ThreadID]
}

// NewPIDAllocator returns an allocator whose first id is InitTID.
func NewPIDAllocator() *PIDAllocator {
	return &PIDAllocator{
		next:     InitTID,
		recycled: btree.NewOrderedG[ThreadID](8),
	}
}

// Allocate returns an unused id.
func (a *PIDAllocator) Allocate() ThreadID {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tid, ok := a.recycled.DeleteMin(); ok {
		return tid
	}
	tid := a.next
	a.next++
	return tid
}

// Release returns tid to the pool.
func (a *PIDAllocator) Release(tid ThreadID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tid >= a.next {
		panic(fmt.Sprintf("pid %d released but never allocated", tid))
	}
	if _, dup := a.recycled.ReplaceOrInsert(tid); dup {
		panic(fmt.Sprintf("pid %d released twice", tid))
	}
}

// A TaskSet comprises all tasks in the system, indexed by pid.
//
// Entries do not keep tasks alive. A task is owned by its parent's children
// list, by the ready queue while queued, and by the kernel while it runs;
// the entry is removed when the task is reaped.
type TaskSet struct {
	mu    sync.Mutex
	tasks map[ThreadID]weak.Pointer[Task]
}

func newTaskSet() *TaskSet {
	return &TaskSet{tasks: make(map[ThreadID]weak.Pointer[Task])}
}

func (ts *TaskSet) add(t *Task) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if wp, ok := ts.tasks[t.pid]; ok && wp.Value() != nil {
		panic(fmt.Sprintf("pid %d already in the process table", t.pid))
	}
	ts.tasks[t.pid] = weak.Make(t)
}

func (ts *TaskSet) remove(tid ThreadID) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.tasks[tid]; !ok {
		panic(fmt.Sprintf("pid %d not in the process table", tid))
	}
	delete(ts.tasks, tid)
}

// Lookup returns the task with the given pid, or nil.
func (ts *TaskSet) Lookup(tid ThreadID) *Task {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	wp, ok := ts.tasks[tid]
	if !ok {
		return nil
	}
	return wp.Value()
}

// Len returns the number of tasks in the table.
func (ts *TaskSet) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.tasks)
}

// Tasks returns every live task ordered by pid.
func (ts *TaskSet) Tasks() []*Task {
	ts.mu.Lock()
	var tasks []*Task
	for _, wp := range ts.tasks {
		if t := wp.Value(); t != nil {
			tasks = append(tasks, t)
		}
	}
	ts.mu.Unlock()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].pid < tasks[j].pid })
	return tasks
}
