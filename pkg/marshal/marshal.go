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

// Package marshal defines the Marshallable interface for serialization of
// fixed-layout records to and from the byte image the machine sees.
//
// Records are encoded little endian, field by field, at the offsets their
// declarations imply. No padding is ever inserted: every record in the
// kernel ABI is built from 8-byte words or byte arrays.
package marshal

import (
	"rvsentry.dev/rvsentry/pkg/hostarch"
)

// CopyContext defines the memory operations required to marshal to and from
// user memory.
type CopyContext interface {
	// CopyInBytes copies len(dst) bytes from addr in the user address space
	// into dst.
	CopyInBytes(addr hostarch.Addr, dst []byte) (int, error)

	// CopyOutBytes copies src to addr in the user address space.
	CopyOutBytes(addr hostarch.Addr, src []byte) (int, error)
}

// Marshallable represents operations on a type that can be marshalled to and
// from memory.
type Marshallable interface {
	// SizeBytes is the size of the memory representation of a type in
	// marshalled form.
	SizeBytes() int

	// MarshalBytes serializes a copy of a type to dst. dst must be at least
	// SizeBytes() long.
	MarshalBytes(dst []byte)

	// UnmarshalBytes deserializes a type from src. src must be at least
	// SizeBytes() long.
	UnmarshalBytes(src []byte)
}

// Marshal returns the serialized contents of m in a newly allocated byte
// slice.
func Marshal(m Marshallable) []byte {
	buf := make([]byte, m.SizeBytes())
	m.MarshalBytes(buf)
	return buf
}

// CopyIn deserializes m from addr in cc's address space.
func CopyIn(cc CopyContext, addr hostarch.Addr, m Marshallable) (int, error) {
	buf := make([]byte, m.SizeBytes())
	n, err := cc.CopyInBytes(addr, buf)
	if err != nil {
		return n, err
	}
	m.UnmarshalBytes(buf)
	return n, nil
}

// CopyOut serializes m to addr in cc's address space.
func CopyOut(cc CopyContext, addr hostarch.Addr, m Marshallable) (int, error) {
	return cc.CopyOutBytes(addr, Marshal(m))
}
