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

package metric

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/common/expfmt"
	"rvsentry.dev/rvsentry/pkg/prometheus"
)

// reset clears all global state in the metric package.
func reset() {
	allMetrics = makeMetricSet()
}

func TestRegister(t *testing.T) {
	defer reset()

	if _, err := NewUint64Metric("/foo", "bar"); err != nil {
		t.Fatalf("NewUint64Metric got err %v want nil", err)
	}
	if _, err := NewUint64Metric("/foo", "bar"); !errors.Is(err, ErrNameInUse) {
		t.Errorf("duplicate NewUint64Metric got err %v want %v", err, ErrNameInUse)
	}
	for _, name := range []string{"foo", "/Foo", "/foo/", "/1x"} {
		if _, err := NewUint64Metric(name, "bar"); !errors.Is(err, ErrInvalidName) {
			t.Errorf("NewUint64Metric(%q) got err %v want %v", name, err, ErrInvalidName)
		}
	}
}

func TestIncrement(t *testing.T) {
	defer reset()

	plain := MustCreateNewUint64Metric("/plain", "plain")
	byName := MustCreateNewUint64Metric("/by_name", "by name", NewField("name", nil))
	byOp := MustCreateNewUint64Metric("/by_op", "by op", NewField("op", []string{"r", "w"}))

	plain.Increment()
	plain.IncrementBy(4)
	byName.Increment("write")
	byName.Increment("write")
	byName.Increment("exit")
	byOp.IncrementBy(3, "w")

	for _, tc := range []struct {
		m      *Uint64Metric
		fields []string
		want   uint64
	}{
		{plain, nil, 5},
		{byName, []string{"write"}, 2},
		{byName, []string{"exit"}, 1},
		{byName, []string{"read"}, 0},
		{byOp, []string{"r"}, 0},
		{byOp, []string{"w"}, 3},
	} {
		if got := tc.m.Value(tc.fields...); got != tc.want {
			t.Errorf("%s.Value(%v) = %d, want %d", tc.m.name, tc.fields, got, tc.want)
		}
	}
}

func mustPanic(t *testing.T, what string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", what)
		}
	}()
	f()
}

func TestBadFields(t *testing.T) {
	defer reset()

	byOp := MustCreateNewUint64Metric("/by_op", "by op", NewField("op", []string{"r", "w"}))
	counter := MustCreateNewUint64Metric("/counter", "counter")
	mustPanic(t, "disallowed value", func() { byOp.Increment("x") })
	mustPanic(t, "missing field", func() { byOp.Increment() })
	mustPanic(t, "extra field", func() { counter.Increment("x") })
	mustPanic(t, "Set on counter", func() { counter.Set(1) })
	mustPanic(t, "duplicate name", func() { MustCreateNewUint64Metric("/counter", "again") })
}

func TestGauge(t *testing.T) {
	defer reset()

	g := MustCreateNewUint64Gauge("/frames", "frames")
	g.Set(10)
	g.Set(7)
	if got := g.Value(); got != 7 {
		t.Errorf("Value() = %d, want 7", got)
	}
}

func TestSnapshot(t *testing.T) {
	defer reset()

	MustCreateNewUint64Metric("/kernel/idle", "never touched")
	calls := MustCreateNewUint64Metric("/kernel/syscalls", "calls", NewField("name", nil))
	frames := MustCreateNewUint64Gauge("/kernel/frames", "frames")
	calls.Increment("write")
	frames.Set(3)

	type sample struct {
		Name   string
		Type   prometheus.Type
		Labels map[string]string
		Value  uint64
	}
	var got []sample
	for _, d := range GetSnapshot().Data {
		got = append(got, sample{d.Metric.Name, d.Metric.Type, d.Labels, d.Value})
	}
	want := []sample{
		{"kernel_frames", prometheus.TypeGauge, nil, 3},
		{"kernel_idle", prometheus.TypeCounter, nil, 0},
		{"kernel_syscalls", prometheus.TypeCounter, map[string]string{"name": "write"}, 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetSnapshot mismatch (-want +got):\n%s", diff)
	}

	var b strings.Builder
	if err := WritePrometheus(&b); err != nil {
		t.Fatalf("WritePrometheus failed: %v", err)
	}
	if !strings.Contains(b.String(), `rvsentry_kernel_syscalls{name="write"} 1 `) {
		t.Errorf("WritePrometheus output missing syscall sample:\n%s", b.String())
	}
}

// TestWritePrometheus checks that the exported text is accepted by the
// Prometheus text parser.
func TestWritePrometheus(t *testing.T) {
	defer reset()

	calls := MustCreateNewUint64Metric("/kernel/calls", "Calls \\ by \"name\".\nPer task.", NewField("name", nil))
	free := MustCreateNewUint64Gauge("/free", "free frames")
	MustCreateNewUint64Metric("/never", "never touched", NewField("x", nil))
	calls.IncrementBy(3, "write")
	calls.Increment(`we"ird\`)
	free.Set(17)

	var buf bytes.Buffer
	if err := WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus failed: %v", err)
	}
	families, err := (&expfmt.TextParser{}).TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("TextToMetricFamilies failed: %v\noutput:\n%s", err, buf.String())
	}

	type sample struct {
		Family string
		Type   string
		Labels map[string]string
		Value  float64
	}
	var got []sample
	for name, f := range families {
		for _, m := range f.GetMetric() {
			s := sample{Family: name, Type: f.GetType().String(), Labels: map[string]string{}}
			for _, l := range m.GetLabel() {
				s.Labels[l.GetName()] = l.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				s.Value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				s.Value = m.GetGauge().GetValue()
			}
			if m.GetTimestampMs() == 0 {
				t.Errorf("%s has no timestamp", name)
			}
			got = append(got, s)
		}
	}
	want := []sample{
		{Family: "rvsentry_free", Type: "GAUGE", Labels: map[string]string{}, Value: 17},
		{Family: "rvsentry_kernel_calls", Type: "COUNTER", Labels: map[string]string{"name": `we"ird\`}, Value: 1},
		{Family: "rvsentry_kernel_calls", Type: "COUNTER", Labels: map[string]string{"name": "write"}, Value: 3},
	}
	less := func(a, b sample) bool {
		if a.Family != b.Family {
			return a.Family < b.Family
		}
		return a.Labels["name"] < b.Labels["name"]
	}
	if diff := cmp.Diff(want, got, cmpopts.SortSlices(less)); diff != "" {
		t.Errorf("parsed metrics mismatch (-want +got):\n%s", diff)
	}
	if help := families["rvsentry_kernel_calls"].GetHelp(); help != "Calls \\ by \"name\".\nPer task." {
		t.Errorf("help = %q, want the original description", help)
	}
}
