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

// Package kerr contains the kernel's syscall errors exported as error
// interface pointers. This allows for fast comparison and return operations.
//
// The kernel ABI only distinguishes two magnitudes: -1 for a request that
// can never succeed as issued and -2 for one that may succeed later.
package kerr

import (
	"errors"

	kerrors "rvsentry.dev/rvsentry/pkg/errors"
)

const (
	// CodeFailed is returned for invalid, missing or faulting requests.
	CodeFailed kerrors.Code = -1

	// CodeNotYet is returned when a request could succeed later.
	CodeNotYet kerrors.Code = -2
)

var (
	ErrInvalid      = kerrors.New(CodeFailed, "invalid argument")
	ErrFault        = kerrors.New(CodeFailed, "bad address")
	ErrBadFD        = kerrors.New(CodeFailed, "bad file descriptor")
	ErrNoEntry      = kerrors.New(CodeFailed, "no such file or directory")
	ErrNoChild      = kerrors.New(CodeFailed, "no child processes")
	ErrNoSys        = kerrors.New(CodeFailed, "invalid system call number")
	ErrNoMem        = kerrors.New(CodeFailed, "out of memory")
	ErrExists       = kerrors.New(CodeFailed, "mapping exists")
	ErrNotMapped    = kerrors.New(CodeFailed, "range not mapped")
	ErrBadImage     = kerrors.New(CodeFailed, "exec format error")
	ErrNotPermitted = kerrors.New(CodeFailed, "operation not permitted")
	ErrAlreadySent  = kerrors.New(CodeFailed, "signal already pending")
	ErrMailbox      = kerrors.New(CodeFailed, "mailbox unavailable")
	ErrPipe         = kerrors.New(CodeFailed, "broken pipe")

	ErrWouldBlock   = kerrors.New(CodeNotYet, "operation would block")
	ErrStillRunning = kerrors.New(CodeNotYet, "child still running")
	ErrNoProcess    = kerrors.New(CodeNotYet, "no such process")
)

// ToError converts err into a *Error. Errors that are not *Error map to
// ErrInvalid.
func ToError(err error) *kerrors.Error {
	if err == nil {
		return nil
	}
	var e *kerrors.Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInvalid
}

// Equals returns true if e and err represent the same error. *Error values
// with matching codes but different messages are distinct.
func Equals(e *kerrors.Error, err error) bool {
	var other *kerrors.Error
	if !errors.As(err, &other) {
		return false
	}
	return e == other
}
