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

// Package errors holds the standardized error definition for rvsentry.
package errors

// Code is the value a failing syscall returns to user space. It is always
// negative.
type Code int64

// Error represents a syscall failure with a descriptive message.
type Error struct {
	code    Code
	message string
}

// New creates a new *Error.
func New(code Code, message string) *Error {
	if code >= 0 {
		panic("errors.New: non-negative code")
	}
	return &Error{
		code:    code,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Code returns the value returned to user space.
func (e *Error) Code() Code { return e.code }

// Return returns the code as the raw register value written to a0.
func (e *Error) Return() uintptr { return uintptr(int64(e.code)) }
