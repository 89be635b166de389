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
	"weak"

	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/log"
)

// Exit terminates t with code. t becomes a zombie: its user memory and
// open files are released and its children are handed to init, but the
// task survives until its parent reaps it.
func (t *Task) Exit(code int32) {
	in := t.inner.Borrow()
	if in.status == TaskZombie {
		t.inner.Release()
		panic(fmt.Sprintf("%v exited twice", t))
	}
	in.status = TaskZombie
	in.exitCode = code
	children := in.children
	in.children = nil
	ms := in.mm
	wait := in.wait
	in.wait = nil
	t.inner.Release()

	if wait != nil {
		wait.w.EventUnregister(&wait.entry)
	}
	t.k.ready.With(func(q *readyQueue) { q.Remove(t) })

	if init := t.k.init; init != nil && init != t {
		for _, c := range children {
			init.addChild(c)
		}
	}
	ms.RecycleDataPages()
	t.fdTable.Release()
	log.Infof("%v: exited with code %d", t, code)
}

// WaitPID looks for a zombie child of t with the given pid, or any child
// if pid is -1. The exit code of a matching zombie is passed to deliver;
// if deliver succeeds the child is reaped and its pid returned.
//
// It returns kerr.ErrNoChild if no child matches and kerr.ErrStillRunning
// if none of the matching children has exited.
func (t *Task) WaitPID(pid int64, deliver func(exitCode int32) error) (ThreadID, error) {
	in := t.inner.Borrow()
	found := false
	var zombie *Task
	for _, c := range in.children {
		if pid != -1 && int64(c.pid) != pid {
			continue
		}
		found = true
		if c.Status() == TaskZombie {
			zombie = c
			break
		}
	}
	t.inner.Release()
	if !found {
		return 0, kerr.ErrNoChild
	}
	if zombie == nil {
		return 0, kerr.ErrStillRunning
	}

	if deliver != nil {
		if err := deliver(zombie.ExitCode()); err != nil {
			return 0, err
		}
	}

	in = t.inner.Borrow()
	for i, c := range in.children {
		if c == zombie {
			in.children = append(in.children[:i], in.children[i+1:]...)
			break
		}
	}
	t.inner.Release()
	t.k.reap(zombie)
	return zombie.pid, nil
}

// reap frees everything a zombie still holds.
func (k *Kernel) reap(t *Task) {
	in := t.inner.Borrow()
	ms := in.mm
	in.mm = nil
	in.parent = weak.Pointer[Task]{}
	t.inner.Release()

	ms.Release()
	k.freeKernelStack(t.kstack)
	k.tasks.remove(t.pid)
	k.pids.Release(t.pid)
	log.Debugf("%v: reaped", t)
}
