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

// Package metric provides primitives for collecting metrics.
//
// Metrics are created at package init and live for the lifetime of the
// process. A snapshot of every registered metric can be exported in the
// Prometheus text format.
package metric

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"rvsentry.dev/rvsentry/pkg/atomicbitops"
	"rvsentry.dev/rvsentry/pkg/prometheus"
	"rvsentry.dev/rvsentry/pkg/sync"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that the metric name is not a slash-separated
	// path of lowercase words.
	ErrInvalidName = errors.New("metric name is invalid")

	// ErrFieldValueContainsIllegalChar indicates that the value of a metric
	// field had an invalid character in it.
	ErrFieldValueContainsIllegalChar = errors.New("metric field value contains illegal character")
)

var nameRegexp = regexp.MustCompile(`^(/[a-z][a-z0-9_]*)+$`)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field. A nil list
	// accepts any value.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

func (f Field) allows(v string) bool {
	if f.allowedValues == nil {
		return true
	}
	for _, a := range f.allowedValues {
		if a == v {
			return true
		}
	}
	return false
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to
// be monitored, broken down by the values of its fields.
type Uint64Metric struct {
	name        string
	description string
	gauge       bool
	fields      []Field

	// mu protects values. The counters themselves are updated atomically.
	mu     sync.RWMutex
	values map[string]*atomicbitops.Uint64
}

// key returns the map key for fieldValues. It panics if fieldValues does not
// match the metric's fields.
func (m *Uint64Metric) key(fieldValues []string) string {
	if len(fieldValues) != len(m.fields) {
		panic(fmt.Sprintf("metric %s: got %d field values, want %d", m.name, len(fieldValues), len(m.fields)))
	}
	for i, v := range fieldValues {
		if !m.fields[i].allows(v) {
			panic(fmt.Sprintf("metric %s: disallowed value %q for field %s", m.name, v, m.fields[i].name))
		}
		if strings.ContainsRune(v, 0) {
			panic(fmt.Sprintf("metric %s: %v", m.name, ErrFieldValueContainsIllegalChar))
		}
	}
	return strings.Join(fieldValues, "\x00")
}

func (m *Uint64Metric) counter(fieldValues []string) *atomicbitops.Uint64 {
	k := m.key(fieldValues)
	m.mu.RLock()
	c, ok := m.values[k]
	m.mu.RUnlock()
	if ok {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.values[k]; ok {
		return c
	}
	c = &atomicbitops.Uint64{}
	m.values[k] = c
	return c
}

// Value returns the current value of the metric for the given set of fields.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	k := m.key(fieldValues)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.values[k]; ok {
		return c.Load()
	}
	return 0
}

// Increment increments the metric field by 1.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.counter(fieldValues).Add(1)
}

// IncrementBy increments the metric by v.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.counter(fieldValues).Add(v)
}

// Set sets the value of a gauge. It panics on a cumulative metric.
func (m *Uint64Metric) Set(v uint64, fieldValues ...string) {
	if !m.gauge {
		panic(fmt.Sprintf("metric %s: Set on a cumulative metric", m.name))
	}
	m.counter(fieldValues).Store(v)
}

// metricSet holds every registered metric.
type metricSet struct {
	mu      sync.Mutex
	metrics map[string]*Uint64Metric
}

func makeMetricSet() *metricSet {
	return &metricSet{metrics: make(map[string]*Uint64Metric)}
}

// allMetrics are the registered metrics.
var allMetrics = makeMetricSet()

func newUint64Metric(name, description string, gauge bool, fields []Field) (*Uint64Metric, error) {
	if !nameRegexp.MatchString(name) {
		return nil, fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	m := &Uint64Metric{
		name:        name,
		description: description,
		gauge:       gauge,
		fields:      fields,
		values:      make(map[string]*atomicbitops.Uint64),
	}
	allMetrics.mu.Lock()
	defer allMetrics.mu.Unlock()
	if _, ok := allMetrics.metrics[name]; ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNameInUse)
	}
	allMetrics.metrics[name] = m
	return m, nil
}

// NewUint64Metric creates and registers a new cumulative metric with the given
// name.
func NewUint64Metric(name, description string, fields ...Field) (*Uint64Metric, error) {
	return newUint64Metric(name, description, false, fields)
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns an
// error.
func MustCreateNewUint64Metric(name, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// MustCreateNewUint64Gauge creates and registers a metric whose value is Set
// rather than incremented. It panics on error.
func MustCreateNewUint64Gauge(name, description string, fields ...Field) *Uint64Metric {
	m, err := newUint64Metric(name, description, true, fields)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// promName converts "/kernel/syscalls" to "kernel_syscalls".
func promName(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_")
}

// GetSnapshot returns the current values of every registered metric. Field
// combinations that were never touched are omitted.
func GetSnapshot() *prometheus.Snapshot {
	allMetrics.mu.Lock()
	metrics := make([]*Uint64Metric, 0, len(allMetrics.metrics))
	for _, m := range allMetrics.metrics {
		metrics = append(metrics, m)
	}
	allMetrics.mu.Unlock()
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].name < metrics[j].name })

	s := prometheus.NewSnapshot()
	for _, m := range metrics {
		pm := &prometheus.Metric{Name: promName(m.name), Type: prometheus.TypeCounter, Help: m.description}
		if m.gauge {
			pm.Type = prometheus.TypeGauge
		}
		m.mu.RLock()
		if len(m.fields) == 0 {
			var v uint64
			if c, ok := m.values[""]; ok {
				v = c.Load()
			}
			s.Add(prometheus.NewIntData(pm, v))
		} else {
			for k, c := range m.values {
				labels := make(map[string]string, len(m.fields))
				for i, v := range strings.Split(k, "\x00") {
					labels[m.fields[i].name] = v
				}
				s.Add(prometheus.LabeledIntData(pm, labels, c.Load()))
			}
		}
		m.mu.RUnlock()
	}
	return s
}

// WritePrometheus writes a snapshot of every registered metric to w.
func WritePrometheus(w io.Writer) error {
	_, err := prometheus.Write(w, prometheus.ExportOptions{ExporterPrefix: "rvsentry_"}, GetSnapshot())
	return err
}
