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

// Package sbi is the firmware call layer under the kernel: character
// console I/O, the supervisor timer and shutdown.
package sbi

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"rvsentry.dev/rvsentry/pkg/sync"
)

// ErrNoInput is returned by ConsoleGetchar when no character is available
// yet.
var ErrNoInput = errors.New("no console input available")

// Timer is the machine timer the firmware programs.
type Timer interface {
	// Time returns the current value of the time counter.
	Time() uint64

	// SetTimecmp arms the supervisor timer interrupt for when Time reaches
	// v.
	SetTimecmp(v uint64)
}

// Console is a character device backed by a host reader and writer.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	err error

	in     chan byte
	inDone atomic.Bool
}

// NewConsole returns a console writing to out and reading from in. in may be
// nil for a console without input.
func NewConsole(out io.Writer, in io.Reader) *Console {
	c := &Console{out: out, in: make(chan byte, 4096)}
	if in == nil {
		c.inDone.Store(true)
		return c
	}
	go c.readLoop(in)
	return c
}

func (c *Console) readLoop(in io.Reader) {
	var b [1]byte
	for {
		n, err := in.Read(b[:])
		if n == 1 {
			c.in <- b[0]
		}
		if err != nil {
			c.inDone.Store(true)
			return
		}
	}
}

// Putchar writes one character. Output errors are sticky and reported by
// Err.
func (c *Console) Putchar(ch byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	_, c.err = c.out.Write([]byte{ch})
}

// Write implements io.Writer by emitting p one character at a time.
func (c *Console) Write(p []byte) (int, error) {
	for _, ch := range p {
		c.Putchar(ch)
	}
	return len(p), c.Err()
}

// Getchar returns the next input character, ErrNoInput if none has arrived
// yet, or io.EOF once input is exhausted.
func (c *Console) Getchar() (byte, error) {
	select {
	case ch := <-c.in:
		return ch, nil
	default:
	}
	if c.inDone.Load() {
		// The reader may have queued a final byte before finishing.
		select {
		case ch := <-c.in:
			return ch, nil
		default:
			return 0, io.EOF
		}
	}
	return 0, ErrNoInput
}

// Err returns the first output error.
func (c *Console) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Firmware implements the calls the kernel makes into the monitor layer.
type Firmware struct {
	console *Console
	timer   Timer

	shutdown atomic.Bool
	failure  atomic.Bool
}

// New returns firmware driving console and timer.
func New(console *Console, timer Timer) *Firmware {
	return &Firmware{console: console, timer: timer}
}

// ConsolePutchar writes one character to the console.
func (f *Firmware) ConsolePutchar(ch byte) {
	f.console.Putchar(ch)
}

// ConsoleGetchar reads one character from the console. See Console.Getchar.
func (f *Firmware) ConsoleGetchar() (byte, error) {
	return f.console.Getchar()
}

// Printf formats and writes to the console.
func (f *Firmware) Printf(format string, v ...any) {
	fmt.Fprintf(f.console, format, v...)
}

// SetTimer arms the next supervisor timer interrupt.
func (f *Firmware) SetTimer(stimecmp uint64) {
	f.timer.SetTimecmp(stimecmp)
}

// Time returns the current time counter.
func (f *Firmware) Time() uint64 {
	return f.timer.Time()
}

// Shutdown records a request to power off the machine.
func (f *Firmware) Shutdown(failure bool) {
	f.failure.Store(failure)
	f.shutdown.Store(true)
}

// ShutdownRequested returns whether Shutdown was called and with which
// status.
func (f *Firmware) ShutdownRequested() (requested, failure bool) {
	return f.shutdown.Load(), f.failure.Load()
}
