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

package rvasm

import (
	"bytes"
	"debug/elf"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"rvsentry.dev/rvsentry/pkg/hostarch"
)

func words(t *testing.T, a *Assembler) []uint32 {
	t.Helper()
	o, err := a.Link(DefaultBase)
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	var ws []uint32
	for i := 0; i < len(o.Text); i += 4 {
		ws = append(ws, hostarch.ByteOrder.Uint32(o.Text[i:]))
	}
	return ws
}

func TestEncodings(t *testing.T) {
	for _, tc := range []struct {
		name string
		emit func(a *Assembler)
		want uint32
		dis  string
	}{
		{"addi", func(a *Assembler) { a.Addi(A0, Zero, 5) }, 0x00500513, "addi a0, zero, 5"},
		{"ld", func(a *Assembler) { a.Ld(A0, 8, SP) }, 0x00813503, "ld a0, 8(sp)"},
		{"sd", func(a *Assembler) { a.Sd(RA, 8, SP) }, 0x00113423, "sd ra, 8(sp)"},
		{"add", func(a *Assembler) { a.Add(A0, A1, A2) }, 0x00c58533, "add a0, a1, a2"},
		{"sub", func(a *Assembler) { a.Sub(A0, A1, A2) }, 0x40c58533, "sub a0, a1, a2"},
		{"mul", func(a *Assembler) { a.Mul(A0, A1, A2) }, 0x02c58533, "mul a0, a1, a2"},
		{"ecall", func(a *Assembler) { a.Ecall() }, 0x00000073, "ecall"},
		{"ebreak", func(a *Assembler) { a.Ebreak() }, 0x00100073, "ebreak"},
		{"rdtime", func(a *Assembler) { a.Rdtime(A0) }, 0xc0102573, "rdtime a0"},
		{"srai", func(a *Assembler) { a.Srai(A0, A0, 3) }, 0x40355513, "srai a0, a0, 3"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := New()
			tc.emit(a)
			got := words(t, a)
			if diff := cmp.Diff([]uint32{tc.want}, got); diff != "" {
				t.Errorf("encoding mismatch (-want +got):\n%s", diff)
			}
			if dis := Disassemble(tc.want, DefaultBase); dis != tc.dis {
				t.Errorf("Disassemble(%#08x) = %q, want %q", tc.want, dis, tc.dis)
			}
		})
	}
}

func TestLabels(t *testing.T) {
	a := New()
	a.Label("top")
	a.Nop()
	a.Beq(A0, A1, "next")
	a.J("top")
	a.Label("next")
	a.Nop()
	got := words(t, a)
	want := []uint32{0x00000013, 0x00b50463, 0xff9ff06f, 0x00000013}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("words mismatch (-want +got):\n%s", diff)
	}
	if dis := Disassemble(want[2], DefaultBase+8); dis != "jal zero, 0x10000" {
		t.Errorf("Disassemble(j top) = %q", dis)
	}
}

func TestLinkErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		emit func(a *Assembler)
		want string
	}{
		{"undefined", func(a *Assembler) { a.J("nowhere") }, "undefined label"},
		{"redefined", func(a *Assembler) { a.Label("x"); a.Nop(); a.Label("x") }, "redefined"},
		{"immediate", func(a *Assembler) { a.Addi(A0, A0, 4096) }, "out of range"},
		{"empty", func(a *Assembler) {}, "empty text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := New()
			tc.emit(a)
			_, err := a.Link(DefaultBase)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Link error = %v, want one containing %q", err, tc.want)
			}
		})
	}
}

func TestDataSymbols(t *testing.T) {
	a := New()
	a.Label(EntryLabel)
	a.La(A0, "msg")
	a.Ecall()
	a.String("msg", "hi")
	a.Dwords("vals", 1, 2)
	o, err := a.Link(DefaultBase)
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	want := map[string]uint64{
		EntryLabel: DefaultBase,
		"msg":      DefaultBase + hostarch.PageSize,
		"vals":     DefaultBase + hostarch.PageSize + 8,
	}
	if diff := cmp.Diff(want, o.Symbols); diff != "" {
		t.Errorf("symbols mismatch (-want +got):\n%s", diff)
	}
	// auipc a0, 1; addi a0, a0, 0
	if diff := cmp.Diff([]uint32{0x00001517, 0x00050513}, words(t, a)[:2]); diff != "" {
		t.Errorf("la mismatch (-want +got):\n%s", diff)
	}
}

func TestELF(t *testing.T) {
	a := New()
	a.Nop()
	a.Label(EntryLabel)
	a.Ecall()
	a.String("msg", "hello")
	o, err := a.Link(DefaultBase)
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	f, err := elf.NewFile(bytes.NewReader(o.ELF()))
	if err != nil {
		t.Fatalf("elf.NewFile failed: %v", err)
	}
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV || f.Type != elf.ET_EXEC {
		t.Errorf("unexpected header: %+v", f.FileHeader)
	}
	if f.Entry != DefaultBase+4 {
		t.Errorf("Entry = %#x, want %#x", f.Entry, DefaultBase+4)
	}
	type seg struct {
		Vaddr, Filesz uint64
		Flags         elf.ProgFlag
		Data          string
	}
	var got []seg
	for _, p := range f.Progs {
		b := make([]byte, p.Filesz)
		if _, err := p.ReadAt(b, 0); err != nil {
			t.Fatalf("ReadAt failed: %v", err)
		}
		if p.Off%hostarch.PageSize != p.Vaddr%hostarch.PageSize {
			t.Errorf("segment at %#x has incongruent offset %#x", p.Vaddr, p.Off)
		}
		got = append(got, seg{p.Vaddr, p.Filesz, p.Flags, string(b)})
	}
	want := []seg{
		{DefaultBase, 8, elf.PF_R | elf.PF_X, string(o.Text)},
		{DefaultBase + hostarch.PageSize, 6, elf.PF_R | elf.PF_W, "hello\x00"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
}
