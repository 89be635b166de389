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
	"errors"
	"fmt"

	"rvsentry.dev/rvsentry/pkg/hostarch"
)

// DefaultBase is the address programs are linked at unless told otherwise.
const DefaultBase = 0x10000

// EntryLabel names the entry point. Programs without it start at the first
// instruction.
const EntryLabel = "_start"

// Section selects where the assembler appends.
type Section int

// Sections.
const (
	Text Section = iota
	Data
)

type symbol struct {
	sec Section
	off uint64
}

// resolver maps a label to its linked address.
type resolver func(label string) (uint64, error)

type inst struct {
	off   uint64
	words []uint32

	// fix, if set, computes words once addresses are known. It must
	// produce exactly len(words) words.
	fix func(pc uint64, resolve resolver) ([]uint32, error)
}

// Assembler accumulates a program. Encoding errors (out of range
// immediates, undefined or duplicate labels) are collected and reported by
// Link.
type Assembler struct {
	sec      Section
	text     []inst
	textSize uint64
	data     []byte
	labels   map[string]symbol
	errs     []error
}

// New returns an empty assembler appending to the text section.
func New() *Assembler {
	return &Assembler{labels: make(map[string]symbol)}
}

func (a *Assembler) errorf(format string, v ...any) {
	a.errs = append(a.errs, fmt.Errorf(format, v...))
}

// Text switches to the text section.
func (a *Assembler) Text() { a.sec = Text }

// Data switches to the data section.
func (a *Assembler) Data() { a.sec = Data }

// Label defines name at the current position of the current section.
func (a *Assembler) Label(name string) {
	if _, ok := a.labels[name]; ok {
		a.errorf("label %q redefined", name)
		return
	}
	off := a.textSize
	if a.sec == Data {
		off = uint64(len(a.data))
	}
	a.labels[name] = symbol{sec: a.sec, off: off}
}

// Word emits a raw instruction word.
func (a *Assembler) Word(w uint32) {
	a.emit([]uint32{w}, nil)
}

func (a *Assembler) emit(words []uint32, fix func(uint64, resolver) ([]uint32, error)) {
	if a.sec != Text {
		a.errorf("instruction outside the text section")
		return
	}
	a.text = append(a.text, inst{off: a.textSize, words: words, fix: fix})
	a.textSize += 4 * uint64(len(words))
}

func (a *Assembler) emitErr(w uint32, err error) {
	if err != nil {
		a.errs = append(a.errs, err)
		w = 0
	}
	a.Word(w)
}

// Bytes appends b to the data section under label.
func (a *Assembler) Bytes(label string, b []byte) {
	a.Data()
	a.Label(label)
	a.data = append(a.data, b...)
	a.Text()
}

// String appends a NUL-terminated string to the data section.
func (a *Assembler) String(label, s string) {
	a.Bytes(label, append([]byte(s), 0))
}

// Dwords appends little endian 64-bit values to the data section.
func (a *Assembler) Dwords(label string, vs ...uint64) {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		hostarch.ByteOrder.PutUint64(b[8*i:], v)
	}
	a.Align(8)
	a.Bytes(label, b)
}

// Space appends n zero bytes to the data section.
func (a *Assembler) Space(label string, n int) {
	a.Align(8)
	a.Bytes(label, make([]byte, n))
}

// Align pads the data section to a multiple of n bytes.
func (a *Assembler) Align(n int) {
	for len(a.data)%n != 0 {
		a.data = append(a.data, 0)
	}
}

// Object is a linked program.
type Object struct {
	Entry    uint64
	TextAddr uint64
	Text     []byte
	DataAddr uint64
	Data     []byte
	Symbols  map[string]uint64
}

// Link assigns addresses, with the text section at base and the data
// section on the next page boundary after it, and resolves every label.
func (a *Assembler) Link(base uint64) (*Object, error) {
	if len(a.errs) > 0 {
		return nil, errors.Join(a.errs...)
	}
	if a.textSize == 0 {
		return nil, errors.New("empty text section")
	}
	o := &Object{
		TextAddr: base,
		DataAddr: uint64(hostarch.Addr(base + a.textSize).MustRoundUp()),
		Data:     append([]byte(nil), a.data...),
		Symbols:  make(map[string]uint64, len(a.labels)),
	}
	for name, sym := range a.labels {
		if sym.sec == Text {
			o.Symbols[name] = o.TextAddr + sym.off
		} else {
			o.Symbols[name] = o.DataAddr + sym.off
		}
	}
	resolve := func(label string) (uint64, error) {
		addr, ok := o.Symbols[label]
		if !ok {
			return 0, fmt.Errorf("undefined label %q", label)
		}
		return addr, nil
	}

	var errs []error
	o.Text = make([]byte, 0, a.textSize)
	for _, in := range a.text {
		words := in.words
		if in.fix != nil {
			fixed, err := in.fix(base+in.off, resolve)
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("at %#x: %w", base+in.off, err))
			case len(fixed) != len(words):
				panic(fmt.Sprintf("fixup at %#x produced %d words, reserved %d", base+in.off, len(fixed), len(words)))
			default:
				words = fixed
			}
		}
		for _, w := range words {
			o.Text = hostarch.ByteOrder.AppendUint32(o.Text, w)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	o.Entry = o.TextAddr
	if entry, ok := o.Symbols[EntryLabel]; ok {
		o.Entry = entry
	}
	return o, nil
}

// Assemble links at DefaultBase and returns the ELF image.
func (a *Assembler) Assemble() ([]byte, error) {
	o, err := a.Link(DefaultBase)
	if err != nil {
		return nil, err
	}
	return o.ELF(), nil
}
