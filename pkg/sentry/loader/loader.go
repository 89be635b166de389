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

// Package loader parses the ELF images of user programs into the segments
// the memory manager maps.
package loader

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"

	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/log"
)

// UserTop is one past the highest address a segment may occupy: the top of
// the lower half of the Sv39 address space.
const UserTop = hostarch.Addr(1) << (hostarch.VABits - 1)

// ErrBadImage is returned for bytes that are not a loadable RV64 executable.
var ErrBadImage = errors.New("exec format error")

// Segment is one PT_LOAD program header.
type Segment struct {
	// Vaddr is the virtual address of the first byte.
	Vaddr hostarch.Addr

	// MemSize is the number of bytes occupied in memory. Bytes past
	// len(Data) are zero.
	MemSize uint64

	// Data is the file contents of the segment.
	Data []byte

	// Perms is the access the segment requests.
	Perms hostarch.AccessType
}

// End returns the address one past the last byte of s.
func (s Segment) End() hostarch.Addr {
	return s.Vaddr + hostarch.Addr(s.MemSize)
}

// Image is a parsed executable.
type Image struct {
	Entry    hostarch.Addr
	Segments []Segment
}

// Parse validates image and extracts its loadable segments.
//
// Segments must be in ascending order, must not share a page, and must lie
// in the lower half of the Sv39 address space.
func Parse(image []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		log.Infof("Unable to parse ELF header: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB {
		log.Warningf("ELF class %v data %v is not RV64 little endian", f.Class, f.Data)
		return nil, ErrBadImage
	}
	if f.Machine != elf.EM_RISCV {
		log.Warningf("ELF machine %v is not RISC-V", f.Machine)
		return nil, ErrBadImage
	}
	if f.Type != elf.ET_EXEC {
		log.Warningf("ELF type %v is not executable", f.Type)
		return nil, ErrBadImage
	}

	img := &Image{Entry: hostarch.Addr(f.Entry)}
	var prevEnd hostarch.Addr
	for _, prog := range f.Progs {
		phdr := prog.ProgHeader
		if phdr.Type != elf.PT_LOAD {
			continue
		}
		if phdr.Filesz > phdr.Memsz {
			log.Warningf("PT_LOAD segment filesz %#x > memsz %#x", phdr.Filesz, phdr.Memsz)
			return nil, ErrBadImage
		}
		start := hostarch.Addr(phdr.Vaddr)
		end, ok := start.AddLength(phdr.Memsz)
		if !ok || end > UserTop {
			log.Warningf("PT_LOAD segment [%#x, %#x) outside user space", phdr.Vaddr, uint64(end))
			return nil, ErrBadImage
		}
		if len(img.Segments) > 0 && start.RoundDown() < prevEnd.MustRoundUp() {
			log.Warningf("PT_LOAD segments out of order or share a page at %#x", phdr.Vaddr)
			return nil, ErrBadImage
		}
		data := make([]byte, phdr.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			log.Warningf("PT_LOAD segment at %#x extends beyond end of file: %v", phdr.Vaddr, err)
			return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
		}
		img.Segments = append(img.Segments, Segment{
			Vaddr:   start,
			MemSize: phdr.Memsz,
			Data:    data,
			Perms: hostarch.AccessType{
				Read:    phdr.Flags&elf.PF_R != 0,
				Write:   phdr.Flags&elf.PF_W != 0,
				Execute: phdr.Flags&elf.PF_X != 0,
			},
		})
		prevEnd = end
	}
	if len(img.Segments) == 0 {
		log.Warningf("ELF image has no PT_LOAD segments")
		return nil, ErrBadImage
	}
	return img, nil
}
