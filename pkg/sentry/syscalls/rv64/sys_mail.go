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

package rv64

import (
	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/sentry/arch"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel/mailbox"
)

// MailRead implements mail_read(buf, len). A zero len only reports whether
// mail is waiting. A mail longer than len is truncated and still consumed.
func MailRead(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	size := min(args[1].Uint64(), mailbox.MaxLen)
	mb := t.Mailbox()
	if size == 0 {
		if mb.AvailableRead() == 0 {
			return 0, nil, kerr.ErrMailbox
		}
		return 0, nil, nil
	}

	io := t.IO()
	if _, err := io.Buffers(addr, size, hostarch.Write); err != nil {
		return 0, nil, err
	}
	buf := make([]byte, size)
	n, err := mb.Read(buf)
	if err != nil {
		return 0, nil, err
	}
	if _, err := io.CopyOutBytes(addr, buf[:n]); err != nil {
		return 0, nil, err
	}
	return uintptr(n), nil, nil
}

// MailWrite implements mail_write(pid, buf, len). A zero len only reports
// whether the mailbox of pid has room. Mail is truncated to
// mailbox.MaxLen bytes.
func MailWrite(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	target := t.Kernel().TaskSet().Lookup(kernel.ThreadID(args[0].Uint64()))
	if target == nil || target.Status() == kernel.TaskZombie {
		return 0, nil, kerr.ErrMailbox
	}
	addr := args[1].Pointer()
	size := min(args[2].Uint64(), mailbox.MaxLen)
	mb := target.Mailbox()
	if size == 0 {
		if mb.AvailableWrite() == 0 {
			return 0, nil, kerr.ErrMailbox
		}
		return 0, nil, nil
	}

	buf := make([]byte, size)
	if _, err := t.IO().CopyInBytes(addr, buf); err != nil {
		return 0, nil, err
	}
	n, err := mb.Write(buf)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(n), nil, nil
}
