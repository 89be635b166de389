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
	"errors"

	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/sentry/fs"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel"
	"rvsentry.dev/rvsentry/pkg/sentry/mm"
	"rvsentry.dev/rvsentry/pkg/sentry/pgalloc"
	"rvsentry.dev/rvsentry/pkg/waiter"
)

const (
	// EventMaskRead contains events that can be triggered on reads.
	EventMaskRead = waiter.EventIn | waiter.EventHUp | waiter.EventErr

	// EventMaskWrite contains events that can be triggered on writes.
	EventMaskWrite = waiter.EventOut | waiter.EventHUp | waiter.EventErr
)

// handleIOError turns a file that would block into the right control for
// the calling task: non-blocking files fail with kerr.ErrWouldBlock, files
// that notify waiters block the task, and others make it retry after
// yielding.
func handleIOError(t *kernel.Task, file *fs.File, err error, mask waiter.EventMask) (*kernel.SyscallControl, error) {
	if !kerr.Equals(kerr.ErrWouldBlock, err) || file.Flags().NonBlocking {
		return nil, err
	}
	if w, ok := file.Waitable(); ok {
		return t.BlockOn(w, mask), nil
	}
	return kernel.CtrlRestartYield, nil
}

// memoryError maps address space errors to syscall errors.
func memoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mm.ErrAreaConflict):
		return kerr.ErrExists
	case errors.Is(err, mm.ErrNotMapped):
		return kerr.ErrNotMapped
	case errors.Is(err, pgalloc.ErrOutOfMemory):
		return kerr.ErrNoMem
	default:
		return kerr.ErrInvalid
	}
}
