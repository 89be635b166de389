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

package arch

import (
	"rvsentry.dev/rvsentry/pkg/hostarch"
)

// TaskContext is the kernel execution state of a suspended task: the
// return address, the kernel stack pointer and the callee-saved registers.
type TaskContext struct {
	RA uint64
	SP uint64
	S  [12]uint64
}

// GotoTrapReturn returns a context that resumes in trap return on the
// kernel stack whose top is kstackTop.
func GotoTrapReturn(kstackTop hostarch.Addr) TaskContext {
	return TaskContext{
		RA: uint64(TrapReturnAddr),
		SP: uint64(kstackTop),
	}
}

// ResumesInTrapReturn returns true if switching to c leaves for user mode.
func (c *TaskContext) ResumesInTrapReturn() bool {
	return c.RA == uint64(TrapReturnAddr)
}
