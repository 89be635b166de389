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

package loader

import (
	"debug/elf"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/rvasm"
)

// Offsets into the ELF64 file and program headers.
const (
	offType    = 16
	offMachine = 18
	phdrBase   = 64
	phdrSize   = 56
	offPhType  = 0
	offPhVaddr = 16
	offPhMemsz = 40
)

func program(t *testing.T) []byte {
	t.Helper()
	a := rvasm.New()
	a.Label(rvasm.EntryLabel)
	a.Li(rvasm.A0, 0)
	a.Ecall()
	a.String("msg", "hello")
	img, err := a.Assemble()
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	return img
}

func TestParse(t *testing.T) {
	img, err := Parse(program(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := &Image{
		Entry: rvasm.DefaultBase,
		Segments: []Segment{
			{Vaddr: rvasm.DefaultBase, MemSize: 8, Perms: hostarch.ReadExec},
			{Vaddr: rvasm.DefaultBase + hostarch.PageSize, MemSize: 6, Data: []byte("hello\x00"), Perms: hostarch.ReadWrite},
		},
	}
	// Text bytes are checked by the assembler's tests.
	if len(img.Segments) == 2 {
		img.Segments[0].Data = nil
	}
	if diff := cmp.Diff(want, img); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejects(t *testing.T) {
	put16 := func(b []byte, off int, v uint16) { hostarch.ByteOrder.PutUint16(b[off:], v) }
	put32 := func(b []byte, off int, v uint32) { hostarch.ByteOrder.PutUint32(b[off:], v) }
	put64 := func(b []byte, off int, v uint64) { hostarch.ByteOrder.PutUint64(b[off:], v) }

	for _, tc := range []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{"garbage", func([]byte) []byte { return []byte("#!/bin/sh\n") }},
		{"empty", func([]byte) []byte { return nil }},
		{"class", func(b []byte) []byte { b[elf.EI_CLASS] = byte(elf.ELFCLASS32); return b }},
		{"big endian", func(b []byte) []byte { b[elf.EI_DATA] = byte(elf.ELFDATA2MSB); return b }},
		{"machine", func(b []byte) []byte { put16(b, offMachine, uint16(elf.EM_X86_64)); return b }},
		{"type", func(b []byte) []byte { put16(b, offType, uint16(elf.ET_DYN)); return b }},
		{"filesz exceeds memsz", func(b []byte) []byte { put64(b, phdrBase+offPhMemsz, 1); return b }},
		{"above user space", func(b []byte) []byte {
			put64(b, phdrBase+phdrSize+offPhVaddr, uint64(UserTop)-hostarch.PageSize)
			put64(b, phdrBase+phdrSize+offPhMemsz, 2*hostarch.PageSize)
			return b
		}},
		{"shared page", func(b []byte) []byte {
			put64(b, phdrBase+phdrSize+offPhVaddr, rvasm.DefaultBase+0x800)
			return b
		}},
		{"no loads", func(b []byte) []byte {
			put32(b, phdrBase+offPhType, uint32(elf.PT_NOTE))
			put32(b, phdrBase+phdrSize+offPhType, uint32(elf.PT_NOTE))
			return b
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.mutate(program(t)))
			if !errors.Is(err, ErrBadImage) {
				t.Errorf("Parse error = %v, want %v", err, ErrBadImage)
			}
		})
	}
}
