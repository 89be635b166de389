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

package cmd

import (
	"bytes"
	"context"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/term"
	"rvsentry.dev/rvsentry/runsv/config"
)

func TestRunTerminal(t *testing.T) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("cannot create PTY: %v", err)
	}
	defer ptmx.Close()
	defer tty.Close()

	before, err := term.GetState(int(tty.Fd()))
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	var out bytes.Buffer
	r := &Run{stdin: tty, stdout: &out, timeout: time.Minute}
	code, err := r.run(context.Background(), config.Default(), []string{"echo", "raw", "mode"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if code != 0 {
		t.Errorf("run returned %d, want 0", code)
	}
	if diff := cmp.Diff("raw mode\r\n", out.String()); diff != "" {
		t.Errorf("console mismatch (-want +got):\n%s", diff)
	}

	after, err := term.GetState(int(tty.Fd()))
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("terminal state not restored")
	}
}

func TestRunPipe(t *testing.T) {
	rd, wr, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe failed: %v", err)
	}
	defer rd.Close()
	wr.Close()

	var out bytes.Buffer
	r := &Run{stdin: rd, stdout: &out}
	code, err := r.run(context.Background(), config.Default(), []string{"exit", "7"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if code != 7 {
		t.Errorf("run returned %d, want 7", code)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected console output %q", out.String())
	}
}

func TestRunTimeout(t *testing.T) {
	r := &Run{stdin: nil, stdout: &bytes.Buffer{}, timeout: 100 * time.Millisecond, noRaw: true}
	if _, err := r.run(context.Background(), config.Default(), []string{"spin"}); err == nil {
		t.Errorf("spin finished")
	}
}
