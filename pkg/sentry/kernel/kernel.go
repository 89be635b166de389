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

// Package kernel provides process management for the sentry: tasks and
// their lifecycle, the process table, trap dispatch and signal delivery,
// and the kernel loop that multiplexes tasks onto one hart.
//
// Lock order:
//
//	Task.inner
//	  waiter.Queue.mu
//	    Kernel.ready
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/log"
	"rvsentry.dev/rvsentry/pkg/sbi"
	"rvsentry.dev/rvsentry/pkg/sentry/arch"
	"rvsentry.dev/rvsentry/pkg/sentry/fs"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel/sched"
	"rvsentry.dev/rvsentry/pkg/sentry/mm"
	"rvsentry.dev/rvsentry/pkg/sentry/pgalloc"
	"rvsentry.dev/rvsentry/pkg/sentry/platform"
	"rvsentry.dev/rvsentry/pkg/sync"
)

// ErrDeadlock is returned by Run when no task can make progress.
var ErrDeadlock = errors.New("every task is blocked")

// Config configures a Kernel.
type Config struct {
	// Platform names the registered platform to run on.
	Platform string

	// ABI names the registered syscall table.
	ABI string

	// MemorySize is the size of physical memory in bytes.
	MemorySize uint64

	// ReservedPages is the number of frames at the start of physical
	// memory that model the kernel image. The first holds the trampoline.
	ReservedPages uint64

	// ClockFreq is the time counter frequency in Hz.
	ClockFreq uint64

	// TicksPerSec is the number of time slices per second.
	TicksPerSec uint64

	// DefaultPriority is the priority of new tasks.
	DefaultPriority uint64
}

// DefaultConfig returns the configuration of the reference machine.
func DefaultConfig() Config {
	return Config{
		Platform:        "interp",
		ABI:             "rv64",
		MemorySize:      8 << 20,
		ReservedPages:   16,
		ClockFreq:       12_500_000,
		TicksPerSec:     100,
		DefaultPriority: sched.DefaultPriority,
	}
}

// Validate returns an error if c cannot describe a machine.
func (c *Config) Validate() error {
	switch {
	case c.MemorySize == 0 || c.MemorySize%hostarch.PageSize != 0:
		return fmt.Errorf("memory size %#x is not a positive multiple of the page size", c.MemorySize)
	case c.ReservedPages == 0 || c.ReservedPages >= c.MemorySize/hostarch.PageSize:
		return fmt.Errorf("%d reserved pages do not fit %#x bytes of memory", c.ReservedPages, c.MemorySize)
	case c.ClockFreq < 1000 || c.TicksPerSec == 0 || c.TicksPerSec > c.ClockFreq:
		return fmt.Errorf("clock of %d Hz cannot tick %d times per second", c.ClockFreq, c.TicksPerSec)
	case c.DefaultPriority < sched.MinPriority:
		return fmt.Errorf("default priority %d is below %d", c.DefaultPriority, sched.MinPriority)
	}
	return nil
}

// Kernel is a single-hart kernel.
type Kernel struct {
	cfg Config

	mf          *pgalloc.MemoryFile
	alloc       *pgalloc.Allocator
	kernelSpace *mm.MemorySet
	trampoline  hostarch.PPN

	hart platform.Hart
	fw   *sbi.Firmware

	table *SyscallTable

	// fs holds the bundled applications and files the tasks create.
	fs *fs.Filesystem

	// stdin and stdout are the console files every task starts with.
	stdin  *fs.File
	stdout *fs.File

	pids  *PIDAllocator
	tasks *TaskSet
	ready *sync.Exclusive[readyQueue]

	// init is the first task. It is immutable after Start.
	init *Task

	// current is the task on the hart, or nil.
	current *Task

	// timeslice is the number of time counter ticks per slice.
	timeslice uint64
}

// New returns a kernel with the configured amount of memory, the named
// platform driving console, and a filesystem holding apps.
func New(cfg Config, console *sbi.Console, apps map[string][]byte) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table, ok := LookupSyscallTable(cfg.ABI)
	if !ok {
		return nil, fmt.Errorf("no syscall table for ABI %q", cfg.ABI)
	}
	ctor, err := platform.Lookup(cfg.Platform)
	if err != nil {
		return nil, err
	}

	mf, err := pgalloc.NewMemoryFile(pgalloc.DefaultBase, cfg.MemorySize)
	if err != nil {
		return nil, err
	}
	alloc := pgalloc.NewAllocator(mf, cfg.ReservedPages)
	alloc.OnChange = func(inUse uint64) { framesAllocated.Set(inUse) }
	trampoline := mf.FirstPPN()
	kernelSpace, err := mm.NewKernel(alloc, trampoline)
	if err != nil {
		mf.Close()
		return nil, fmt.Errorf("building kernel space: %w", err)
	}

	hart, err := ctor.New(platform.Options{
		Memory:      mf,
		Console:     console,
		Trampoline:  trampoline,
		TrapHandler: arch.TrapHandlerAddr,
	})
	if err != nil {
		mf.Close()
		return nil, err
	}
	kernelSpace.Activate(hart)

	k := &Kernel{
		cfg:         cfg,
		mf:          mf,
		alloc:       alloc,
		kernelSpace: kernelSpace,
		trampoline:  trampoline,
		hart:        hart,
		fw:          hart.Firmware(),
		table:       table,
		fs:          fs.NewFilesystem(),
		pids:        NewPIDAllocator(),
		tasks:       newTaskSet(),
		ready:       sync.NewExclusive("ready queue", *sched.NewQueue[*Task]()),
		timeslice:   cfg.ClockFreq / cfg.TicksPerSec,
	}
	k.stdin = fs.NewStdin(k.fw)
	k.stdout = fs.NewStdout(k.fw)

	names := make([]string, 0, len(apps))
	for name := range apps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		k.fs.Add(name, apps[name])
	}
	log.Infof("Kernel created: %d KiB of memory, %d free frames, %d applications, platform %q", cfg.MemorySize>>10, alloc.Free(), len(apps), cfg.Platform)
	return k, nil
}

// Config returns the kernel's configuration.
func (k *Kernel) Config() Config {
	return k.cfg
}

// Allocator returns the frame allocator.
func (k *Kernel) Allocator() *pgalloc.Allocator {
	return k.alloc
}

// MemoryFile returns physical memory.
func (k *Kernel) MemoryFile() *pgalloc.MemoryFile {
	return k.mf
}

// Hart returns the kernel's hart.
func (k *Kernel) Hart() platform.Hart {
	return k.hart
}

// Firmware returns the firmware call layer.
func (k *Kernel) Firmware() *sbi.Firmware {
	return k.fw
}

// Filesystem returns the kernel's filesystem.
func (k *Kernel) Filesystem() *fs.Filesystem {
	return k.fs
}

// TaskSet returns the process table.
func (k *Kernel) TaskSet() *TaskSet {
	return k.tasks
}

// Init returns the first task, or nil before Start.
func (k *Kernel) Init() *Task {
	return k.init
}

// Current returns the task on the hart, or nil.
func (k *Kernel) Current() *Task {
	return k.current
}

// TimeMs returns the time counter in milliseconds.
func (k *Kernel) TimeMs() uint64 {
	return k.ticksToMs(k.fw.Time())
}

func (k *Kernel) ticksToMs(ticks uint64) uint64 {
	return ticks / (k.cfg.ClockFreq / 1000)
}

// Start creates the init task running the application argv[0].
func (k *Kernel) Start(argv []string) error {
	if k.init != nil {
		return errors.New("kernel already started")
	}
	if len(argv) == 0 {
		return errors.New("no init program")
	}
	image, err := k.fs.ReadFile(argv[0])
	if err != nil {
		return fmt.Errorf("init program %q: %w", argv[0], err)
	}
	t, err := k.createTask(image, argv)
	if err != nil {
		return fmt.Errorf("init program %q: %w", argv[0], err)
	}
	k.init = t
	k.Enqueue(t)
	return nil
}

// Run runs tasks until init exits and returns its exit code. It returns
// ErrDeadlock if every remaining task is blocked, and ctx.Err() if ctx is
// done first.
func (k *Kernel) Run(ctx context.Context) (int, error) {
	if k.init == nil {
		return 0, errors.New("kernel not started")
	}
	for {
		if k.init.Status() == TaskZombie {
			code := k.init.ExitCode()
			k.fw.Shutdown(code != 0)
			log.Infof("init exited with code %d", code)
			return int(code), nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		t, ok := k.fetch()
		if !ok {
			log.Warningf("Deadlock: no runnable task among %d", k.tasks.Len())
			return 0, ErrDeadlock
		}
		k.runTask(t)
	}
}

// Release frees physical memory. The kernel must not be used afterwards.
func (k *Kernel) Release() error {
	return k.mf.Close()
}
