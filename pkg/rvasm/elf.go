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
	"encoding/binary"

	"rvsentry.dev/rvsentry/pkg/hostarch"
)

const (
	ehdrSize = 64
	phdrSize = 56
)

// ELF returns o as a static RV64 executable with one PT_LOAD segment for
// text (R|X) and, when there is data, one for data (R|W). Segment file
// offsets are congruent to their addresses modulo the page size.
func (o *Object) ELF() []byte {
	progs := []elf.Prog64{{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Vaddr:  o.TextAddr,
		Paddr:  o.TextAddr,
		Filesz: uint64(len(o.Text)),
		Memsz:  uint64(len(o.Text)),
		Align:  hostarch.PageSize,
	}}
	if len(o.Data) > 0 {
		progs = append(progs, elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elf.PF_R | elf.PF_W),
			Vaddr:  o.DataAddr,
			Paddr:  o.DataAddr,
			Filesz: uint64(len(o.Data)),
			Memsz:  uint64(len(o.Data)),
			Align:  hostarch.PageSize,
		})
	}

	off := uint64(hostarch.PageSize)
	for i := range progs {
		p := &progs[i]
		off += (p.Vaddr - off) % hostarch.PageSize
		p.Off = off
		off += p.Filesz
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     o.Entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(progs)),
		Shentsize: 64,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	var buf bytes.Buffer
	// Writes to a bytes.Buffer cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, &hdr)
	_ = binary.Write(&buf, binary.LittleEndian, progs)
	segs := [][]byte{o.Text, o.Data}
	for i, p := range progs {
		buf.Write(make([]byte, int(p.Off)-buf.Len()))
		buf.Write(segs[i])
	}
	return buf.Bytes()
}
