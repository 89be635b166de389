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

// Package usermem copies data between kernel buffers and the memory of an
// address space identified by its page table token.
//
// Every access is translated through the target's page tables and must hit
// a user-accessible page with the required permission, exactly as the
// hardware would check an access made by the task itself.
package usermem

import (
	"bytes"
	"fmt"

	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/marshal"
	"rvsentry.dev/rvsentry/pkg/ring0/pagetables"
	"rvsentry.dev/rvsentry/pkg/sentry/pgalloc"
)

// Limits on strings and vectors copied from user memory.
const (
	// MaxStringLen is the longest NUL-terminated string CopyInString
	// accepts by default.
	MaxStringLen = 4096

	// MaxVectorLen is the largest number of pointers CopyInVector
	// accepts.
	MaxVectorLen = 64
)

// IO reads and writes the user memory of one address space.
type IO struct {
	mf *pgalloc.MemoryFile
	pt *pagetables.PageTables
}

var _ marshal.CopyContext = (*IO)(nil)

// ForToken returns an IO for the address space whose satp value is token.
func ForToken(mf *pgalloc.MemoryFile, token uint64) *IO {
	return &IO{mf: mf, pt: pagetables.FromToken(mf, token)}
}

// Token returns the satp value of the target space.
func (io *IO) Token() uint64 {
	return io.pt.Token()
}

// pageBytes returns the host bytes from addr to the end of its page, checking
// that the page is user accessible with access at.
func (io *IO) pageBytes(addr hostarch.Addr, at hostarch.AccessType) ([]byte, error) {
	if !addr.Canonical() {
		return nil, kerr.ErrFault
	}
	pte, ok := io.pt.Translate(addr.VPN())
	if !ok || !pte.User() || !pte.Flags().AccessType().SupersetOf(at) {
		return nil, kerr.ErrFault
	}
	pa := pte.PPN().Addr() + hostarch.PhysAddr(addr.PageOffset())
	b, ok := io.mf.Slice(pa, hostarch.PageSize-addr.PageOffset())
	if !ok {
		return nil, kerr.ErrFault
	}
	return b, nil
}

// Buffers returns the host byte slices backing [addr, addr+length) in
// order, checking every page for access at.
func (io *IO) Buffers(addr hostarch.Addr, length uint64, at hostarch.AccessType) ([][]byte, error) {
	if _, ok := addr.AddLength(length); !ok {
		return nil, kerr.ErrFault
	}
	var bufs [][]byte
	for length > 0 {
		b, err := io.pageBytes(addr, at)
		if err != nil {
			return nil, err
		}
		if uint64(len(b)) > length {
			b = b[:length]
		}
		bufs = append(bufs, b)
		addr += hostarch.Addr(len(b))
		length -= uint64(len(b))
	}
	return bufs, nil
}

// CopyInBytes implements marshal.CopyContext.CopyInBytes.
//
// Nothing is copied unless the whole range is readable.
func (io *IO) CopyInBytes(addr hostarch.Addr, dst []byte) (int, error) {
	bufs, err := io.Buffers(addr, uint64(len(dst)), hostarch.Read)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range bufs {
		n += copy(dst[n:], b)
	}
	return n, nil
}

// CopyOutBytes implements marshal.CopyContext.CopyOutBytes.
//
// Nothing is copied unless the whole range is writable.
func (io *IO) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	bufs, err := io.Buffers(addr, uint64(len(src)), hostarch.Write)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range bufs {
		n += copy(b, src[n:])
	}
	return n, nil
}

// CopyInString copies a NUL-terminated string of at most maxLen bytes
// (excluding the NUL) from addr.
func (io *IO) CopyInString(addr hostarch.Addr, maxLen int) (string, error) {
	var out []byte
	for {
		b, err := io.pageBytes(addr, hostarch.Read)
		if err != nil {
			return "", err
		}
		if i := bytes.IndexByte(b, 0); i >= 0 {
			out = append(out, b[:i]...)
			if len(out) > maxLen {
				return "", fmt.Errorf("string at %v longer than %d: %w", addr, maxLen, kerr.ErrInvalid)
			}
			return string(out), nil
		}
		out = append(out, b...)
		if len(out) > maxLen {
			return "", fmt.Errorf("string at %v longer than %d: %w", addr, maxLen, kerr.ErrInvalid)
		}
		addr += hostarch.Addr(len(b))
	}
}

// CopyInVector copies a NULL-terminated array of string pointers from addr,
// as passed to exec and spawn. A zero addr is an empty vector.
func (io *IO) CopyInVector(addr hostarch.Addr, maxElems, maxLen int) ([]string, error) {
	if addr == 0 {
		return nil, nil
	}
	var v []string
	for {
		var ptr [8]byte
		if _, err := io.CopyInBytes(addr, ptr[:]); err != nil {
			return nil, err
		}
		p := hostarch.Addr(hostarch.ByteOrder.Uint64(ptr[:]))
		if p == 0 {
			return v, nil
		}
		if len(v) == maxElems {
			return nil, fmt.Errorf("vector at %v longer than %d: %w", addr, maxElems, kerr.ErrInvalid)
		}
		s, err := io.CopyInString(p, maxLen)
		if err != nil {
			return nil, err
		}
		v = append(v, s)
		addr += 8
	}
}
