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

// Package primitive defines marshal.Marshallable implementations for
// primitive types.
package primitive

import (
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/marshal"
)

// Marshallable types used by this file.
var (
	_ marshal.Marshallable = (*Int32)(nil)
	_ marshal.Marshallable = (*Int64)(nil)
	_ marshal.Marshallable = (*Uint32)(nil)
	_ marshal.Marshallable = (*Uint64)(nil)
)

// Int32 is a marshal.Marshallable implementation for int32.
type Int32 int32

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (i *Int32) SizeBytes() int { return 4 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (i *Int32) MarshalBytes(dst []byte) {
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(*i))
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (i *Int32) UnmarshalBytes(src []byte) {
	*i = Int32(int32(hostarch.ByteOrder.Uint32(src[:4])))
}

// Uint32 is a marshal.Marshallable implementation for uint32.
type Uint32 uint32

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (u *Uint32) SizeBytes() int { return 4 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (u *Uint32) MarshalBytes(dst []byte) {
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(*u))
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (u *Uint32) UnmarshalBytes(src []byte) {
	*u = Uint32(hostarch.ByteOrder.Uint32(src[:4]))
}

// Int64 is a marshal.Marshallable implementation for int64.
type Int64 int64

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (i *Int64) SizeBytes() int { return 8 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (i *Int64) MarshalBytes(dst []byte) {
	hostarch.ByteOrder.PutUint64(dst[:8], uint64(*i))
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (i *Int64) UnmarshalBytes(src []byte) {
	*i = Int64(int64(hostarch.ByteOrder.Uint64(src[:8])))
}

// Uint64 is a marshal.Marshallable implementation for uint64.
type Uint64 uint64

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (u *Uint64) SizeBytes() int { return 8 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (u *Uint64) MarshalBytes(dst []byte) {
	hostarch.ByteOrder.PutUint64(dst[:8], uint64(*u))
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (u *Uint64) UnmarshalBytes(src []byte) {
	*u = Uint64(hostarch.ByteOrder.Uint64(src[:8]))
}

// CopyUint64In is a convenient wrapper for copying in a uint64 from the
// task's memory.
func CopyUint64In(cc marshal.CopyContext, addr hostarch.Addr) (uint64, error) {
	var u Uint64
	if _, err := marshal.CopyIn(cc, addr, &u); err != nil {
		return 0, err
	}
	return uint64(u), nil
}

// CopyUint64Out is a convenient wrapper for copying out a uint64 to the
// task's memory.
func CopyUint64Out(cc marshal.CopyContext, addr hostarch.Addr, src uint64) error {
	u := Uint64(src)
	_, err := marshal.CopyOut(cc, addr, &u)
	return err
}

// CopyInt32Out is a convenient wrapper for copying out an int32 to the
// task's memory.
func CopyInt32Out(cc marshal.CopyContext, addr hostarch.Addr, src int32) error {
	i := Int32(src)
	_, err := marshal.CopyOut(cc, addr, &i)
	return err
}
