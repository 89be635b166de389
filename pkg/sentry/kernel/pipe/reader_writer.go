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

package pipe

import (
	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/sentry/fs"
	"rvsentry.dev/rvsentry/pkg/waiter"
)

// Reader is the read end of a pipe.
type Reader struct {
	fs.NullStat
	*Pipe
}

// Read implements fs.FileOperations.Read.
func (r *Reader) Read(dst []byte) (int, error) {
	return r.Pipe.read(dst)
}

// Write implements fs.FileOperations.Write.
func (*Reader) Write([]byte) (int, error) {
	return 0, kerr.ErrBadFD
}

// Release implements fs.FileOperations.Release.
func (r *Reader) Release() {
	r.Pipe.rClose()
}

// Readiness implements waiter.Waitable.Readiness.
func (r *Reader) Readiness(mask waiter.EventMask) waiter.EventMask {
	return mask & r.Pipe.rReadiness()
}

// Writer is the write end of a pipe.
type Writer struct {
	fs.NullStat
	*Pipe
}

// Read implements fs.FileOperations.Read.
func (*Writer) Read([]byte) (int, error) {
	return 0, kerr.ErrBadFD
}

// Write implements fs.FileOperations.Write.
func (w *Writer) Write(src []byte) (int, error) {
	return w.Pipe.write(src)
}

// Release implements fs.FileOperations.Release.
func (w *Writer) Release() {
	w.Pipe.wClose()
}

// Readiness implements waiter.Waitable.Readiness.
func (w *Writer) Readiness(mask waiter.EventMask) waiter.EventMask {
	return mask & w.Pipe.wReadiness()
}
