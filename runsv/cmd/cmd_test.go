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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"rvsentry.dev/rvsentry/pkg/apps"
	"rvsentry.dev/rvsentry/pkg/sbi"
	"rvsentry.dev/rvsentry/pkg/sentry/loader"
	"rvsentry.dev/rvsentry/runsv/config"
)

func TestBoot(t *testing.T) {
	var out bytes.Buffer
	code, err := Boot(context.Background(), config.Default(), sbi.NewConsole(&out, nil), []string{"echo", "hi", "there"})
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}
	if code != 0 {
		t.Errorf("Boot returned %d, want 0", code)
	}
	if diff := cmp.Diff("hi there\n", out.String()); diff != "" {
		t.Errorf("console mismatch (-want +got):\n%s", diff)
	}
}

func TestBootBadConfig(t *testing.T) {
	conf := config.Default()
	conf.MemorySize = 0
	if _, err := Boot(context.Background(), conf, sbi.NewConsole(&bytes.Buffer{}, nil), []string{"hello"}); err == nil {
		t.Errorf("Boot succeeded with no memory")
	}
}

func TestRunChecks(t *testing.T) {
	checks := apps.SelfChecks()
	results := RunChecks(context.Background(), config.Default(), checks, 4, time.Minute)
	if len(results) != len(checks) {
		t.Fatalf("got %d results, want %d", len(results), len(checks))
	}
	for i, r := range results {
		if r.App != checks[i] {
			t.Errorf("result %d is for %q, want %q", i, r.App.Name, checks[i].Name)
		}
		if !r.Passed() {
			t.Errorf("%s: %v\nconsole:\n%s", r.App.Name, &r, r.Console)
		}
	}
}

func TestRunChecksTimeout(t *testing.T) {
	spin, ok := apps.Lookup("spin")
	if !ok {
		t.Fatalf("spin is not bundled")
	}
	results := RunChecks(context.Background(), config.Default(), []*apps.App{spin}, 1, 100*time.Millisecond)
	if r := results[0]; !errors.Is(r.Err, context.DeadlineExceeded) || r.Passed() {
		t.Errorf("spin result = %v, want a deadline failure", &r)
	}
}

func TestReport(t *testing.T) {
	a := &apps.App{Name: "good", ExitCode: 0}
	b := &apps.App{Name: "bad", ExitCode: -11}
	var out bytes.Buffer
	failed := report(&out, []CheckResult{
		{App: a, Code: 0},
		{App: b, Code: 0, Console: "oops\n"},
	}, true)
	if failed != 1 {
		t.Errorf("report returned %d failures, want 1", failed)
	}
	for _, want := range []string{"PASS", "good", "FAIL", "bad", "exit code 0, want -11", "--- console of bad ---\noops\n", "1 passed, 1 failed\n"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("report output missing %q:\n%s", want, out.String())
		}
	}
}

func TestExitStatus(t *testing.T) {
	for _, tc := range []struct{ code, want int }{
		{0, 0},
		{3, 3},
		{256, 0},
		{-9, 137},
		{-11, 139},
	} {
		if got := ExitStatus(tc.code); got != tc.want {
			t.Errorf("ExitStatus(%d) = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestDump(t *testing.T) {
	a, ok := apps.Lookup("hello")
	if !ok {
		t.Fatalf("hello is not bundled")
	}
	img, err := loader.Parse(a.Image)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	var out bytes.Buffer
	Dump(&out, a.Name, img, true)
	for _, want := range []string{"hello: entry", "VADDR", "r-x", "ecall"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Dump output missing %q:\n%s", want, out.String())
		}
	}
}

func TestCRLFWriter(t *testing.T) {
	var out bytes.Buffer
	w := &crlfWriter{w: &out}
	n, err := w.Write([]byte("a\nb\n"))
	if err != nil || n != 4 {
		t.Fatalf("Write = %d, %v; want 4, nil", n, err)
	}
	if diff := cmp.Diff("a\r\nb\r\n", out.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}
