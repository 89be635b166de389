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

package semaphore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"rvsentry.dev/rvsentry/pkg/errors/kerr"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/sentry/fs"
	"rvsentry.dev/rvsentry/pkg/waiter"
)

func word(v uint64) []byte {
	var b [8]byte
	hostarch.ByteOrder.PutUint64(b[:], v)
	return b[:]
}

// register adds a function entry that records its name on wakeup.
func register(t *testing.T, f *fs.File, name string, woken *[]string) *waiter.Entry {
	t.Helper()
	w, ok := f.Waitable()
	if !ok {
		t.Fatalf("%v is not waitable", f)
	}
	e := waiter.NewFunctionEntry(waiter.EventIn, func(waiter.EventMask) {
		*woken = append(*woken, name)
	})
	w.EventRegister(&e)
	return &e
}

func TestMutexReadTakesValue(t *testing.T) {
	f := NewMutex(7, true)
	if f.Flags().NonBlocking {
		t.Errorf("blocking mutex has NonBlocking set")
	}
	buf := make([]byte, 8)
	n, err := f.Read(buf)
	if n != 8 || err != nil || hostarch.ByteOrder.Uint64(buf) != 7 {
		t.Fatalf("Read = %d, %v, value %d; want 8, nil, 7", n, err, hostarch.ByteOrder.Uint64(buf))
	}
	if _, err := f.Read(buf); !kerr.Equals(kerr.ErrWouldBlock, err) {
		t.Errorf("Read of held mutex = %v, want %v", err, kerr.ErrWouldBlock)
	}
}

func TestMutexWakesOnEdge(t *testing.T) {
	f := NewMutex(0, true)
	var woken []string
	register(t, f, "a", &woken)
	register(t, f, "b", &woken)

	f.Write(word(0))
	if len(woken) != 0 {
		t.Fatalf("writing zero over zero woke %v", woken)
	}
	f.Write(word(1))
	f.Write(word(2))
	if diff := cmp.Diff([]string{"a"}, woken); diff != "" {
		t.Errorf("wakeups after unlock (-want +got):\n%s", diff)
	}

	buf := make([]byte, 8)
	f.Read(buf)
	if got := hostarch.ByteOrder.Uint64(buf); got != 2 {
		t.Errorf("Read value = %d, want 2", got)
	}
	f.Write(word(3))
	if diff := cmp.Diff([]string{"a", "b"}, woken); diff != "" {
		t.Errorf("wakeups after second unlock (-want +got):\n%s", diff)
	}
}

func TestMutexShortBuffers(t *testing.T) {
	f := NewMutex(0, false)
	if n, _ := f.Write([]byte{0x34, 0x12}); n != 2 {
		t.Errorf("short Write = %d, want 2", n)
	}
	buf := make([]byte, 2)
	if n, err := f.Read(buf); n != 2 || err != nil || buf[0] != 0x34 || buf[1] != 0x12 {
		t.Errorf("short Read = %d, %v, %x", n, err, buf)
	}
}

func TestSemaphore(t *testing.T) {
	f := NewSemaphore(2, false)
	if !f.Flags().NonBlocking {
		t.Errorf("non-blocking semaphore has NonBlocking clear")
	}
	for i := 0; i < 2; i++ {
		if n, err := f.Read(nil); n != 1 || err != nil {
			t.Fatalf("down %d = %d, %v", i, n, err)
		}
	}
	if _, err := f.Read(nil); !kerr.Equals(kerr.ErrWouldBlock, err) {
		t.Errorf("down at zero = %v, want %v", err, kerr.ErrWouldBlock)
	}

	var woken []string
	register(t, f, "a", &woken)
	register(t, f, "b", &woken)
	if n, _ := f.Write(nil); n != 1 {
		t.Errorf("up = %d, want 1", n)
	}
	if diff := cmp.Diff([]string{"a"}, woken); diff != "" {
		t.Errorf("up wakeups (-want +got):\n%s", diff)
	}
	w, _ := f.Waitable()
	if got := w.Readiness(waiter.EventIn); got != waiter.EventIn {
		t.Errorf("Readiness = %v, want EventIn", got)
	}
}
