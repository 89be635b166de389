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
	"encoding/binary"
	"errors"
	"fmt"

	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/log"
	"rvsentry.dev/rvsentry/pkg/sentry/arch"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel/mailbox"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel/sched"
	"rvsentry.dev/rvsentry/pkg/sentry/loader"
	"rvsentry.dev/rvsentry/pkg/sentry/mm"
	"rvsentry.dev/rvsentry/pkg/sync"
	"rvsentry.dev/rvsentry/pkg/usermem"
)

// allocKernelStack maps the kernel stack of pid.
func (k *Kernel) allocKernelStack(pid ThreadID) (KernelStack, error) {
	bottom, top := mm.KernelStackRange(uint64(pid))
	if err := k.kernelSpace.InsertFramedArea(bottom, top, mm.PermR|mm.PermW); err != nil {
		return KernelStack{}, fmt.Errorf("kernel stack for pid %d: %w", pid, err)
	}
	return KernelStack{Bottom: bottom, Top: top}, nil
}

func (k *Kernel) freeKernelStack(ks KernelStack) {
	if err := k.kernelSpace.RemoveAreaWithStart(ks.Bottom.VPN()); err != nil {
		panic(fmt.Sprintf("freeing kernel stack %#x: %v", ks.Bottom, err))
	}
}

// userTrapContext returns the initial trap context of a task entering
// user mode at entry.
func (k *Kernel) userTrapContext(entry, sp hostarch.Addr, ks KernelStack) arch.TrapContext {
	return arch.NewUserTrapContext(entry, sp, k.kernelSpace.Token(), ks.Top, arch.TrapHandlerAddr)
}

// pushArgs copies argv onto the user stack of ms below tc's stack pointer
// and points a0 at argc and a1 at the argv array.
//
// The stack holds, from the new stack pointer up: the strings are above
// the NULL-terminated array of pointers to them.
func (k *Kernel) pushArgs(ms *mm.MemorySet, tc *arch.TrapContext, argv []string) error {
	io := usermem.ForToken(k.mf, ms.Token())
	sp := tc.Stack()

	sp -= hostarch.Addr((len(argv) + 1) * 8)
	argvBase := sp
	ptrs := make([]byte, (len(argv)+1)*8)
	for i, arg := range argv {
		sp -= hostarch.Addr(len(arg) + 1)
		if _, err := io.CopyOutBytes(sp, append([]byte(arg), 0)); err != nil {
			return fmt.Errorf("argument %d does not fit the user stack: %w", i, err)
		}
		binary.LittleEndian.PutUint64(ptrs[i*8:], uint64(sp))
	}
	if _, err := io.CopyOutBytes(argvBase, ptrs); err != nil {
		return fmt.Errorf("argument vector does not fit the user stack: %w", err)
	}
	sp &^= 7

	tc.SetStack(sp)
	tc.X[arch.RegA0] = uint64(len(argv))
	tc.X[arch.RegA1] = uint64(argvBase)
	return nil
}

// loadImage builds an address space running image with argv.
func (k *Kernel) loadImage(image []byte, argv []string, ks KernelStack) (*mm.MemorySet, arch.TrapContext, error) {
	ms, sp, entry, err := mm.FromELF(k.alloc, k.trampoline, image)
	if err != nil {
		if errors.Is(err, loader.ErrBadImage) {
			return nil, arch.TrapContext{}, fmt.Errorf("%w: %v", kerr.ErrBadImage, err)
		}
		return nil, arch.TrapContext{}, fmt.Errorf("%w: %v", kerr.ErrNoMem, err)
	}
	tc := k.userTrapContext(entry, sp, ks)
	if err := k.pushArgs(ms, &tc, argv); err != nil {
		ms.Release()
		return nil, arch.TrapContext{}, fmt.Errorf("%w: %v", kerr.ErrInvalid, err)
	}
	return ms, tc, nil
}

// newTask returns a task with its own pid and kernel stack. The caller
// installs the address space and trap context.
func (k *Kernel) newTask(ms *mm.MemorySet, tc arch.TrapContext, ks KernelStack, pid ThreadID) *Task {
	t := &Task{
		k:       k,
		pid:     pid,
		kstack:  ks,
		entity:  sched.NewEntity(),
		tc:      tc,
		fdTable: newFDTable(k.stdin, k.stdout),
		mailbox: mailbox.New(),
		inner: sync.NewExclusive(fmt.Sprintf("task %d", pid), taskInner{
			status:     TaskReady,
			taskCtx:    arch.GotoTrapReturn(ks.Top),
			trapCtxPPN: trapContextPPN(ms),
			mm:         ms,
		}),
	}
	t.entity.SetPriority(k.cfg.DefaultPriority)
	k.tasks.add(t)
	tasksCreated.Increment()
	return t
}

// createTask builds a task from an executable image. The image's argument
// vector is argv.
func (k *Kernel) createTask(image []byte, argv []string) (*Task, error) {
	pid := k.pids.Allocate()
	ks, err := k.allocKernelStack(pid)
	if err != nil {
		k.pids.Release(pid)
		return nil, fmt.Errorf("%w: %v", kerr.ErrNoMem, err)
	}
	ms, tc, err := k.loadImage(image, argv, ks)
	if err != nil {
		k.freeKernelStack(ks)
		k.pids.Release(pid)
		return nil, err
	}
	t := k.newTask(ms, tc, ks, pid)
	log.Infof("%v: created from %d byte image, argv %q", t, len(image), argv)
	return t, nil
}

// Spawn creates a child of t running the application named path with
// argv, and makes it runnable.
func (t *Task) Spawn(path string, argv []string) (*Task, error) {
	image, err := t.k.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	child, err := t.k.createTask(image, argv)
	if err != nil {
		return nil, err
	}
	t.addChild(child)
	t.k.Enqueue(child)
	return child, nil
}
