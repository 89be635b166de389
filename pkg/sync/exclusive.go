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

package sync

import (
	"fmt"
	"sync/atomic"
)

// Exclusive is a non-reentrant interior-mutability cell. At most one holder
// may borrow the value at a time; a second Borrow before the matching
// Release panics.
//
// The zero value holds the zero value of T and is ready for use.
type Exclusive[T any] struct {
	held  atomic.Bool
	value T

	// name is used in the panic message only.
	name string
}

// NewExclusive returns a cell holding v. name identifies the cell in
// double-borrow panics.
func NewExclusive[T any](name string, v T) *Exclusive[T] {
	return &Exclusive[T]{value: v, name: name}
}

// Borrow returns exclusive access to the value. It must be paired with
// Release.
func (e *Exclusive[T]) Borrow() *T {
	if !e.held.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("exclusive cell %q borrowed twice", e.name))
	}
	return &e.value
}

// Release ends the current borrow.
func (e *Exclusive[T]) Release() {
	if !e.held.CompareAndSwap(true, false) {
		panic(fmt.Sprintf("exclusive cell %q released while not borrowed", e.name))
	}
}

// With runs fn with exclusive access to the value.
func (e *Exclusive[T]) With(fn func(v *T)) {
	v := e.Borrow()
	defer e.Release()
	fn(v)
}

// Held returns true if the cell is currently borrowed.
func (e *Exclusive[T]) Held() bool {
	return e.held.Load()
}
