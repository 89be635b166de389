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

package prometheus

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestWrite(t *testing.T) {
	when := time.UnixMilli(1000)
	calls := &Metric{Name: "kernel_syscalls", Type: TypeCounter, Help: "Syscalls.\nBy name."}
	frames := &Metric{Name: "kernel_frames", Type: TypeGauge}
	s := &Snapshot{When: when}
	s.Add(
		LabeledIntData(calls, map[string]string{"name": "write"}, 3),
		NewIntData(frames, 12),
		LabeledIntData(calls, map[string]string{"name": "exit"}, 1),
	)

	var b strings.Builder
	n, err := Write(&b, ExportOptions{ExporterPrefix: "rv_"}, s)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != b.Len() {
		t.Errorf("Write returned %d, wrote %d bytes", n, b.Len())
	}
	lines := strings.Split(b.String(), "\n")[1:]
	want := []string{
		"",
		"# TYPE rv_kernel_frames gauge",
		"rv_kernel_frames 12 1000",
		"",
		`# HELP rv_kernel_syscalls Syscalls.\nBy name.`,
		"# TYPE rv_kernel_syscalls counter",
		`rv_kernel_syscalls{name="exit"} 1 1000`,
		`rv_kernel_syscalls{name="write"} 3 1000`,
		"",
		"# End of metric data.",
		"",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("Write output mismatch (-want +got):\n%s", diff)
	}
}

func TestCommentHeader(t *testing.T) {
	var b strings.Builder
	if _, err := Write(&b, ExportOptions{CommentHeader: "a\nb"}, NewSnapshot()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !strings.HasPrefix(b.String(), "# a\n# b\n") {
		t.Errorf("Write output %q does not start with the comment header", b.String())
	}
}

func TestOrderedLabels(t *testing.T) {
	got := OrderedLabels(map[string]string{"z": "1", "a": "x\"y"})
	want := []string{`a="x\"y"`, `z="1"`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("OrderedLabels mismatch (-want +got):\n%s", diff)
	}
}
