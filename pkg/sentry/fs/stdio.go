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

package fs

import (
	"errors"
	"io"

	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/sbi"
)

// Stdin reads the firmware console.
//
// Console input is not waitable: a read with no input pending returns
// kerr.ErrWouldBlock and blocking callers retry after yielding.
type Stdin struct {
	NoopRelease
	NullStat

	fw *sbi.Firmware
}

// NewStdin returns a readable console File.
func NewStdin(fw *sbi.Firmware) *File {
	return NewFile(FileFlags{Read: true}, &Stdin{fw: fw})
}

// Read implements FileOperations.Read. It returns the characters already
// typed, at least one, or zero once input is closed.
func (s *Stdin) Read(dst []byte) (int, error) {
	n := 0
	for n < len(dst) {
		ch, err := s.fw.ConsoleGetchar()
		switch {
		case err == nil:
			dst[n] = ch
			n++
		case n > 0:
			return n, nil
		case errors.Is(err, sbi.ErrNoInput):
			return 0, kerr.ErrWouldBlock
		case errors.Is(err, io.EOF):
			return 0, nil
		default:
			return 0, err
		}
	}
	return n, nil
}

// Write implements FileOperations.Write.
func (*Stdin) Write([]byte) (int, error) {
	return 0, kerr.ErrBadFD
}

// Stdout writes the firmware console.
type Stdout struct {
	NoopRelease
	NullStat

	fw *sbi.Firmware
}

// NewStdout returns a writable console File.
func NewStdout(fw *sbi.Firmware) *File {
	return NewFile(FileFlags{Write: true}, &Stdout{fw: fw})
}

// Read implements FileOperations.Read.
func (*Stdout) Read([]byte) (int, error) {
	return 0, kerr.ErrBadFD
}

// Write implements FileOperations.Write.
func (s *Stdout) Write(src []byte) (int, error) {
	for _, ch := range src {
		s.fw.ConsolePutchar(ch)
	}
	return len(src), nil
}
