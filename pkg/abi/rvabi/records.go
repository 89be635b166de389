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

package rvabi

import (
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/marshal"
)

// Marshallable types used by this file.
var (
	_ marshal.Marshallable = (*SignalAction)(nil)
	_ marshal.Marshallable = (*Stat)(nil)
	_ marshal.Marshallable = (*TaskInfo)(nil)
)

// SignalAction is the record read and written by sigaction.
type SignalAction struct {
	// Handler is the user entry point, or SIG_DFL.
	Handler uint64

	// Mask is the set of signals not delivered while the handler runs.
	Mask uint64
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (s *SignalAction) SizeBytes() int { return 16 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (s *SignalAction) MarshalBytes(dst []byte) {
	hostarch.ByteOrder.PutUint64(dst[0:8], s.Handler)
	hostarch.ByteOrder.PutUint64(dst[8:16], s.Mask)
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (s *SignalAction) UnmarshalBytes(src []byte) {
	s.Handler = hostarch.ByteOrder.Uint64(src[0:8])
	s.Mask = hostarch.ByteOrder.Uint64(src[8:16])
}

// Stat is the record written by fstat.
type Stat struct {
	Dev   uint64
	Ino   uint64
	Mode  uint32
	Nlink uint32
	_     [7]uint64
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (s *Stat) SizeBytes() int { return 8 + 8 + 4 + 4 + 7*8 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (s *Stat) MarshalBytes(dst []byte) {
	hostarch.ByteOrder.PutUint64(dst[0:8], s.Dev)
	hostarch.ByteOrder.PutUint64(dst[8:16], s.Ino)
	hostarch.ByteOrder.PutUint32(dst[16:20], s.Mode)
	hostarch.ByteOrder.PutUint32(dst[20:24], s.Nlink)
	clear(dst[24:s.SizeBytes()])
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (s *Stat) UnmarshalBytes(src []byte) {
	s.Dev = hostarch.ByteOrder.Uint64(src[0:8])
	s.Ino = hostarch.ByteOrder.Uint64(src[8:16])
	s.Mode = hostarch.ByteOrder.Uint32(src[16:20])
	s.Nlink = hostarch.ByteOrder.Uint32(src[20:24])
}

// SyscallInfo counts invocations of one syscall.
type SyscallInfo struct {
	ID    uint64
	Times uint64
}

// TaskInfo is the record written by task_info.
type TaskInfo struct {
	PID    uint64
	Status uint64

	// Calls holds one entry per distinct syscall, in first-use order. Unused
	// entries are zero.
	Calls [MaxSyscallInfo]SyscallInfo

	// TimeMs is the time since the task first ran, in milliseconds.
	TimeMs uint64
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (t *TaskInfo) SizeBytes() int { return 8 + 8 + MaxSyscallInfo*16 + 8 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (t *TaskInfo) MarshalBytes(dst []byte) {
	hostarch.ByteOrder.PutUint64(dst[0:8], t.PID)
	hostarch.ByteOrder.PutUint64(dst[8:16], t.Status)
	off := 16
	for _, c := range t.Calls {
		hostarch.ByteOrder.PutUint64(dst[off:off+8], c.ID)
		hostarch.ByteOrder.PutUint64(dst[off+8:off+16], c.Times)
		off += 16
	}
	hostarch.ByteOrder.PutUint64(dst[off:off+8], t.TimeMs)
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (t *TaskInfo) UnmarshalBytes(src []byte) {
	t.PID = hostarch.ByteOrder.Uint64(src[0:8])
	t.Status = hostarch.ByteOrder.Uint64(src[8:16])
	off := 16
	for i := range t.Calls {
		t.Calls[i].ID = hostarch.ByteOrder.Uint64(src[off : off+8])
		t.Calls[i].Times = hostarch.ByteOrder.Uint64(src[off+8 : off+16])
		off += 16
	}
	t.TimeMs = hostarch.ByteOrder.Uint64(src[off : off+8])
}
