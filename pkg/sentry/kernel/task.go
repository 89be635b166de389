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

	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/sentry/arch"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel/mailbox"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel/sched"
	"rvsentry.dev/rvsentry/pkg/sentry/mm"
	"rvsentry.dev/rvsentry/pkg/sync"
	"rvsentry.dev/rvsentry/pkg/usermem"
	"rvsentry.dev/rvsentry/pkg/waiter"
)

// TaskStatus is the run state of a task.
type TaskStatus int

const (
	// TaskReady is a task in the ready queue.
	TaskReady TaskStatus = iota

	// TaskRunning is the task on the hart.
	TaskRunning

	// TaskBlocked is a task waiting for an event on a descriptor.
	TaskBlocked

	// TaskZombie is a task that has exited but was not reaped.
	TaskZombie
)

var taskStatusNames = [...]string{
	TaskReady:   "ready",
	TaskRunning: "running",
	TaskBlocked: "blocked",
	TaskZombie:  "zombie",
}

// String implements fmt.Stringer.String.
func (s TaskStatus) String() string {
	if s < 0 || int(s) >= len(taskStatusNames) {
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
	return taskStatusNames[s]
}

// ABI returns the status as reported by task_info.
func (s TaskStatus) ABI() uint64 {
	switch s {
	case TaskReady:
		return rvabi.TaskReady
	case TaskRunning:
		return rvabi.TaskRunning
	case TaskBlocked:
		return rvabi.TaskBlocked
	case TaskZombie:
		return rvabi.TaskZombie
	default:
		return rvabi.TaskUnInit
	}
}

// KernelStack is a task's stack in the kernel address space.
type KernelStack struct {
	Bottom hostarch.Addr
	Top    hostarch.Addr
}

// Task is a process.
//
// Fields that are "exclusive to the kernel loop" are only touched while the
// task is on the hart or by the code that creates it, and need no
// synchronization. Everything else that other tasks may observe lives in
// inner.
type Task struct {
	k *Kernel

	// pid is immutable.
	pid ThreadID

	// kstack is immutable. It is freed when the task is reaped.
	kstack KernelStack

	// entity is the task's stride scheduling state. It is modified by the
	// ready queue while the task is queued.
	entity sched.Entity

	// tc is the task's trap context while it is in the kernel. It is copied
	// to the trap context page before each return to user mode and back
	// after each trap. tc is exclusive to the kernel loop.
	tc arch.TrapContext

	// stats counts the task's syscalls. stats is exclusive to the kernel
	// loop.
	stats syscallStats

	// fdTable and mailbox serialize themselves.
	fdTable *FDTable
	mailbox *mailbox.Mailbox

	inner *sync.Exclusive[taskInner]
}

type taskInner struct {
	status TaskStatus

	// taskCtx is the kernel context a switch to the task resumes.
	taskCtx arch.TaskContext

	// trapCtxPPN is the frame backing mm.TrapContextBase in mm.
	trapCtxPPN hostarch.PPN

	mm *mm.MemorySet

	// parent does not keep the parent alive.
	parent weak.Pointer[Task]

	// children own the child tasks until they are reaped.
	children []*Task

	exitCode int32

	signals signalState

	// wait is the registration of a blocked task.
	wait *waitRegistration

	// startTime is the time counter value at the first switch to the task.
	startTime uint64
	started   bool
}

// waitRegistration records what a blocked task waits on.
type waitRegistration struct {
	w     waiter.Waitable
	entry waiter.Entry
}

var _ sched.Schedulable = (*Task)(nil)

// SchedEntity implements sched.Schedulable.SchedEntity.
func (t *Task) SchedEntity() *sched.Entity {
	return &t.entity
}

// PID returns the task's process id.
func (t *Task) PID() ThreadID {
	return t.pid
}

// Kernel returns the kernel the task belongs to.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// KernelStack returns the task's kernel stack.
func (t *Task) KernelStack() KernelStack {
	return t.kstack
}

// FDTable returns the task's descriptor table.
func (t *Task) FDTable() *FDTable {
	return t.fdTable
}

// Mailbox returns the task's mailbox.
func (t *Task) Mailbox() *mailbox.Mailbox {
	return t.mailbox
}

// TrapContext returns the task's saved user registers.
//
// Preconditions: the caller is the kernel loop.
func (t *Task) TrapContext() *arch.TrapContext {
	return &t.tc
}

// Status returns the task's run state.
func (t *Task) Status() TaskStatus {
	in := t.inner.Borrow()
	defer t.inner.Release()
	return in.status
}

func (t *Task) setStatus(s TaskStatus) {
	in := t.inner.Borrow()
	in.status = s
	t.inner.Release()
}

// ExitCode returns the task's exit code. It is meaningful only for zombies.
func (t *Task) ExitCode() int32 {
	in := t.inner.Borrow()
	defer t.inner.Release()
	return in.exitCode
}

// Parent returns the task's parent, or nil if it has none.
func (t *Task) Parent() *Task {
	in := t.inner.Borrow()
	defer t.inner.Release()
	return in.parent.Value()
}

// Children returns the task's unreaped children.
func (t *Task) Children() []*Task {
	in := t.inner.Borrow()
	defer t.inner.Release()
	return append([]*Task(nil), in.children...)
}

func (t *Task) addChild(child *Task) {
	in := t.inner.Borrow()
	in.children = append(in.children, child)
	t.inner.Release()

	cin := child.inner.Borrow()
	cin.parent = weak.Make(t)
	child.inner.Release()
}

// MemoryManager returns the task's address space.
//
// Preconditions: the task is not a zombie.
func (t *Task) MemoryManager() *mm.MemorySet {
	in := t.inner.Borrow()
	defer t.inner.Release()
	return in.mm
}

// Token returns the satp value of the task's address space.
func (t *Task) Token() uint64 {
	return t.MemoryManager().Token()
}

// IO returns an accessor for the task's user memory.
func (t *Task) IO() *usermem.IO {
	return usermem.ForToken(t.k.mf, t.Token())
}

// Priority returns the task's scheduling priority.
func (t *Task) Priority() uint64 {
	return t.entity.Priority()
}

// SetPriority sets the task's scheduling priority. Values below
// sched.MinPriority are rejected.
func (t *Task) SetPriority(prio int64) bool {
	if prio < sched.MinPriority {
		return false
	}
	t.entity.SetPriority(uint64(prio))
	return true
}

// Info returns the task_info record of t.
func (t *Task) Info() rvabi.TaskInfo {
	in := t.inner.Borrow()
	info := rvabi.TaskInfo{
		PID:    uint64(t.pid),
		Status: in.status.ABI(),
	}
	if in.started {
		info.TimeMs = t.k.ticksToMs(t.k.fw.Time() - in.startTime)
	}
	t.inner.Release()
	copy(info.Calls[:], t.stats.calls)
	return info
}

// String implements fmt.Stringer.String.
func (t *Task) String() string {
	return fmt.Sprintf("task %d", t.pid)
}

// trapContextFrame returns the bytes of the trap context page.
func (t *Task) trapContextFrame() []byte {
	in := t.inner.Borrow()
	ppn := in.trapCtxPPN
	t.inner.Release()
	return t.k.mf.Frame(ppn)[:arch.TrapContextSize]
}

// storeTrapContext writes tc to the trap context page.
func (t *Task) storeTrapContext() {
	t.tc.MarshalBytes(t.trapContextFrame())
}

// loadTrapContext reads tc back from the trap context page.
func (t *Task) loadTrapContext() {
	t.tc.UnmarshalBytes(t.trapContextFrame())
}

// trapContextPPN returns the frame mapped at mm.TrapContextBase in ms.
func trapContextPPN(ms *mm.MemorySet) hostarch.PPN {
	pte, ok := ms.Translate(mm.TrapContextBase.VPN())
	if !ok {
		panic("address space has no trap context page")
	}
	return pte.PPN()
}

// syscallStats counts syscalls in first-use order.
type syscallStats struct {
	calls []rvabi.SyscallInfo
}

func (s *syscallStats) record(sysno uintptr) {
	for i := range s.calls {
		if s.calls[i].ID == uint64(sysno) {
			s.calls[i].Times++
			return
		}
	}
	if len(s.calls) < rvabi.MaxSyscallInfo {
		s.calls = append(s.calls, rvabi.SyscallInfo{ID: uint64(sysno), Times: 1})
	}
}
