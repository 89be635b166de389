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

	"rvsentry.dev/rvsentry/pkg/log"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel/sched"
	"rvsentry.dev/rvsentry/pkg/waiter"
)

// readyQueue is the stride-ordered queue of runnable tasks.
type readyQueue = sched.Queue[*Task]

// Enqueue makes t runnable.
func (k *Kernel) Enqueue(t *Task) {
	t.setStatus(TaskReady)
	k.ready.With(func(q *readyQueue) { q.Add(t) })
}

// fetch removes the next task to run from the ready queue.
func (k *Kernel) fetch() (*Task, bool) {
	q := k.ready.Borrow()
	defer k.ready.Release()
	return q.Fetch()
}

// Runnable returns the number of tasks in the ready queue.
func (k *Kernel) Runnable() int {
	q := k.ready.Borrow()
	defer k.ready.Release()
	return q.Len()
}

// BlockOn parks t until w reports one of the events in mask. The syscall
// is restarted when t runs again.
//
// The registration is one-shot; a task that finds the object still
// unavailable blocks again.
func (t *Task) BlockOn(w waiter.Waitable, mask waiter.EventMask) *SyscallControl {
	reg := &waitRegistration{w: w}
	reg.entry = waiter.NewFunctionEntry(mask, func(waiter.EventMask) {
		t.k.wake(t)
	})

	in := t.inner.Borrow()
	if in.wait != nil {
		t.inner.Release()
		panic(fmt.Sprintf("%v blocked twice", t))
	}
	in.status = TaskBlocked
	in.wait = reg
	t.inner.Release()

	w.EventRegister(&reg.entry)
	log.Debugf("%v: blocked on %T", t, w)
	return ctrlBlock
}

// wake makes a blocked t runnable.
func (k *Kernel) wake(t *Task) {
	in := t.inner.Borrow()
	if in.status != TaskBlocked {
		t.inner.Release()
		return
	}
	in.wait = nil
	t.inner.Release()
	log.Debugf("%v: woken", t)
	k.Enqueue(t)
}

// interrupt wakes a blocked t early so that its signal pass runs.
func (k *Kernel) interrupt(t *Task) {
	in := t.inner.Borrow()
	reg := in.wait
	t.inner.Release()
	if reg == nil {
		return
	}
	reg.w.EventUnregister(&reg.entry)
	k.wake(t)
}
