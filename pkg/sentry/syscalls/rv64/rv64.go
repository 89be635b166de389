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

// Package rv64 provides the syscall table of the RV64 user ABI.
package rv64

import (
	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel"
	"rvsentry.dev/rvsentry/pkg/sentry/syscalls"
)

// ABI is the name the table is registered under.
const ABI = "rv64"

// RV64 is the syscall table.
var RV64 = &kernel.SyscallTable{
	ABI: ABI,
	Table: map[uintptr]kernel.Syscall{
		rvabi.SysDup:         {Name: "dup", Fn: Dup},
		rvabi.SysUnlinkat:    {Name: "unlinkat", Fn: Unlinkat},
		rvabi.SysLinkat:      {Name: "linkat", Fn: Linkat},
		rvabi.SysOpen:        {Name: "open", Fn: Open},
		rvabi.SysClose:       {Name: "close", Fn: Close},
		rvabi.SysPipe:        {Name: "pipe", Fn: Pipe},
		rvabi.SysRead:        {Name: "read", Fn: Read},
		rvabi.SysWrite:       {Name: "write", Fn: Write},
		rvabi.SysFstat:       {Name: "fstat", Fn: Fstat},
		rvabi.SysExit:        {Name: "exit", Fn: Exit},
		rvabi.SysYield:       {Name: "yield", Fn: Yield},
		rvabi.SysKill:        {Name: "kill", Fn: Kill},
		rvabi.SysSigaction:   {Name: "sigaction", Fn: Sigaction},
		rvabi.SysSigprocmask: {Name: "sigprocmask", Fn: Sigprocmask},
		rvabi.SysSigreturn:   {Name: "sigreturn", Fn: Sigreturn},
		rvabi.SysSetPriority: {Name: "set_priority", Fn: SetPriority},
		rvabi.SysGetTime:     {Name: "get_time", Fn: GetTime},
		rvabi.SysGetpid:      {Name: "getpid", Fn: Getpid},
		rvabi.SysMunmap:      {Name: "munmap", Fn: Munmap},
		rvabi.SysFork:        {Name: "fork", Fn: Fork},
		rvabi.SysExec:        {Name: "exec", Fn: Exec},
		rvabi.SysMmap:        {Name: "mmap", Fn: Mmap},
		rvabi.SysWaitpid:     {Name: "waitpid", Fn: Waitpid},
		rvabi.SysSpawn:       {Name: "spawn", Fn: Spawn},
		rvabi.SysMailRead:    {Name: "mail_read", Fn: MailRead},
		rvabi.SysMailWrite:   {Name: "mail_write", Fn: MailWrite},
		rvabi.SysTaskInfo:    {Name: "task_info", Fn: TaskInfo},
		rvabi.SysMutexFD:     {Name: "mutex_fd", Fn: MutexFD},
		rvabi.SysSemaphoreFD: {Name: "semaphore_fd", Fn: SemaphoreFD},
	},
	Missing: syscalls.Missing,
}

func init() {
	kernel.RegisterSyscallTable(RV64)
}
