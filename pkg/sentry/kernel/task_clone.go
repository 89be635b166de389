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

	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/log"
	"rvsentry.dev/rvsentry/pkg/sentry/arch"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel/sched"
	"rvsentry.dev/rvsentry/pkg/sentry/mm"
	"rvsentry.dev/rvsentry/pkg/sync"
)

// Fork creates a child of t with a full copy of t's address space. The
// child shares t's open files, inherits its signal mask, signal actions
// and priority, and starts with a copy of its mailbox. The child is not
// runnable until the caller enqueues it.
func (t *Task) Fork() (*Task, error) {
	k := t.k
	in := t.inner.Borrow()
	ms, err := mm.FromExisting(in.mm)
	signals := in.signals.fork()
	t.inner.Release()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerr.ErrNoMem, err)
	}

	pid := k.pids.Allocate()
	ks, err := k.allocKernelStack(pid)
	if err != nil {
		ms.Release()
		k.pids.Release(pid)
		return nil, fmt.Errorf("%w: %v", kerr.ErrNoMem, err)
	}

	tc := t.tc
	tc.KernelSp = uint64(ks.Top)

	child := &Task{
		k:       k,
		pid:     pid,
		kstack:  ks,
		entity:  sched.NewEntity(),
		tc:      tc,
		fdTable: t.fdTable.Fork(),
		mailbox: t.mailbox.Clone(),
		inner: sync.NewExclusive(fmt.Sprintf("task %d", pid), taskInner{
			status:     TaskReady,
			taskCtx:    arch.GotoTrapReturn(ks.Top),
			trapCtxPPN: trapContextPPN(ms),
			mm:         ms,
			signals:    signals,
		}),
	}
	child.entity.SetPriority(t.entity.Priority())
	k.tasks.add(child)
	t.addChild(child)
	tasksCreated.Increment()
	log.Infof("%v: forked %v", t, child)
	return child, nil
}
