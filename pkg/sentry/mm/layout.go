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

package mm

import (
	"rvsentry.dev/rvsentry/pkg/hostarch"
)

// Fixed virtual layout shared by every address space.
const (
	// Trampoline is the top virtual page. Every address space maps the
	// trampoline frame here, executable and not user accessible.
	Trampoline = hostarch.Addr(0xffff_ffff_ffff_f000)

	// TrapContextBase is the page below the trampoline holding the task's
	// saved user registers.
	TrapContextBase = Trampoline - hostarch.PageSize

	// UserStackSize is the size of the initial user stack.
	UserStackSize = 2 * hostarch.PageSize

	// KernelStackSize is the size of each task's kernel stack.
	KernelStackSize = 2 * hostarch.PageSize
)

// KernelStackRange returns the [bottom, top) of the kernel stack for the
// given id in the kernel address space. Consecutive stacks are separated by
// an unmapped guard page.
func KernelStackRange(id uint64) (bottom, top hostarch.Addr) {
	top = Trampoline - hostarch.Addr(id*(KernelStackSize+hostarch.PageSize))
	bottom = top - KernelStackSize
	return bottom, top
}
