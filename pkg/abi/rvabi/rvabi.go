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

// Package rvabi contains the constants and records of the user/kernel ABI:
// syscall numbers, signal numbers, trap causes and the structures passed
// through user memory.
package rvabi

// Syscall numbers.
const (
	SysDup         = 24
	SysUnlinkat    = 35
	SysLinkat      = 37
	SysOpen        = 56
	SysClose       = 57
	SysPipe        = 59
	SysRead        = 63
	SysWrite       = 64
	SysFstat       = 80
	SysExit        = 93
	SysYield       = 124
	SysKill        = 129
	SysSigaction   = 134
	SysSigprocmask = 135
	SysSigreturn   = 139
	SysSetPriority = 140
	SysGetTime     = 169
	SysGetpid      = 172
	SysMunmap      = 215
	SysFork        = 220
	SysExec        = 221
	SysMmap        = 222
	SysWaitpid     = 260
	SysSpawn       = 400
	SysMailRead    = 401
	SysMailWrite   = 402
	SysTaskInfo    = 410
	SysMutexFD     = 1010
	SysSemaphoreFD = 1020
)

// Supervisor trap causes (scause with the interrupt bit cleared).
const (
	CauseInstructionMisaligned = 0
	CauseInstructionFault      = 1
	CauseIllegalInstruction    = 2
	CauseBreakpoint            = 3
	CauseLoadMisaligned        = 4
	CauseLoadFault             = 5
	CauseStoreMisaligned       = 6
	CauseStoreFault            = 7
	CauseUserEnvCall           = 8
	CauseInstructionPageFault  = 12
	CauseLoadPageFault         = 13
	CauseStorePageFault        = 15
)

// Supervisor interrupt causes (scause with the interrupt bit set).
const (
	InterruptSupervisorSoft  = 1
	InterruptSupervisorTimer = 5
)

// InterruptBit is set in scause when the trap is an interrupt.
const InterruptBit = uint64(1) << 63

// Protection bits accepted by mmap.
const (
	ProtRead  = 1 << 0
	ProtWrite = 1 << 1
	ProtExec  = 1 << 2

	ProtMask = ProtRead | ProtWrite | ProtExec
)

// Open flags accepted by open.
const (
	O_RDONLY = 0
	O_WRONLY = 1 << 0
	O_RDWR   = 1 << 1
	O_CREATE = 1 << 9
	O_TRUNC  = 1 << 10
)

// File mode bits reported by fstat.
const (
	StatModeNull = 0
	StatModeDir  = 0o040000
	StatModeFile = 0o100000
)

// AtFDCWD is the only directory descriptor accepted by linkat and unlinkat.
const AtFDCWD = -100

// Task states reported by task_info.
const (
	TaskUnInit  = 0
	TaskReady   = 1
	TaskRunning = 2
	TaskBlocked = 3
	TaskZombie  = 4
)

// MaxSyscallInfo is the number of distinct syscall counters in a TaskInfo.
const MaxSyscallInfo = 32
