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

package kernel

import (
	"fmt"

	"rvsentry.dev/rvsentry/pkg/abi/rvabi"
	"rvsentry.dev/rvsentry/pkg/metric"
)

var (
	syscallCount     = metric.MustCreateNewUint64Metric("/kernel/syscalls", "Number of syscalls executed, by name.", metric.NewField("name", nil))
	faultCount       = metric.MustCreateNewUint64Metric("/kernel/faults", "Number of exceptions raised by user code, by cause.", metric.NewField("cause", nil))
	signalsDelivered = metric.MustCreateNewUint64Metric("/kernel/signals_delivered", "Number of signals acted on, including fatal ones.")
	contextSwitches  = metric.MustCreateNewUint64Metric("/kernel/context_switches", "Number of switches to a task.")
	tasksCreated     = metric.MustCreateNewUint64Metric("/kernel/tasks_created", "Number of tasks created by spawn, fork and boot.")
	framesAllocated  = metric.MustCreateNewUint64Gauge("/kernel/frames_allocated", "Number of physical frames in use.")
)

var faultNames = map[uint64]string{
	rvabi.CauseInstructionMisaligned: "instruction_misaligned",
	rvabi.CauseInstructionFault:      "instruction_fault",
	rvabi.CauseIllegalInstruction:    "illegal_instruction",
	rvabi.CauseBreakpoint:            "breakpoint",
	rvabi.CauseLoadFault:             "load_fault",
	rvabi.CauseStoreFault:            "store_fault",
	rvabi.CauseInstructionPageFault:  "instruction_page_fault",
	rvabi.CauseLoadPageFault:         "load_page_fault",
	rvabi.CauseStorePageFault:        "store_page_fault",
}

// faultName returns the metric field value of an exception code.
func faultName(code uint64) string {
	if name, ok := faultNames[code]; ok {
		return name
	}
	return fmt.Sprintf("cause_%d", code)
}
