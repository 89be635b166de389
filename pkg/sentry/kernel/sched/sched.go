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

// Package sched implements the stride scheduling ready queue.
//
// Every entity accumulates a pass value that grows by BigStride/priority
// each time it is picked; the queued entity with the lowest pass runs next.
// The 8-bit stride seen by the rest of the kernel is the pass modulo 256 and
// is compared with StrideLess. The queue itself orders by the unwrapped pass,
// which agrees with StrideLess as long as queued strides stay within half
// the modulus of each other. Add keeps them there by raising any entity that
// fell behind (a new or previously blocked task) to the virtual time, the
// pass of the last entity picked.
package sched

import (
	"fmt"

	"github.com/google/btree"
)

const (
	// BigStride is the pass added per pick at priority 1.
	BigStride = 256

	// DefaultPriority is the priority of new tasks.
	DefaultPriority = 16

	// MinPriority is the lowest priority the queue honors. Lower values
	// are treated as MinPriority so that one pick never advances a
	// stride by half the modulus or more.
	MinPriority = 2
)

// StrideLess reports whether stride a is behind stride b, comparing by the
// signed 8-bit difference so that wraparound does not invert the order.
func StrideLess(a, b uint8) bool {
	return int8(a-b) < 0
}

// Entity is the scheduling state embedded in each task.
type Entity struct {
	pass     uint64
	priority uint64
	seq      uint64
	queued   bool
}

// NewEntity returns an entity at stride 0 and the default priority.
func NewEntity() Entity {
	return Entity{priority: DefaultPriority}
}

// Stride returns the 8-bit stride.
func (e *Entity) Stride() uint8 {
	return uint8(e.pass)
}

// Priority returns the priority.
func (e *Entity) Priority() uint64 {
	return e.priority
}

// SetPriority sets the priority, clamped to MinPriority.
func (e *Entity) SetPriority(p uint64) {
	e.priority = max(p, MinPriority)
}

// Queued returns true if the entity is in a ready queue.
func (e *Entity) Queued() bool {
	return e.queued
}

func (e *Entity) increment() uint64 {
	return BigStride / max(e.priority, MinPriority)
}

// Schedulable is implemented by anything that can sit in a Queue.
type Schedulable interface {
	SchedEntity() *Entity
}

const btreeDegree = 16

// Queue is a ready queue. It holds references only; it never creates or
// destroys what it schedules.
//
// Queue is not synchronized.
type Queue[T Schedulable] struct {
	tree *btree.BTreeG[T]

	// seq orders entities with equal pass by time of Add.
	seq uint64

	// vt is the pass of the most recently fetched entity.
	vt uint64
}

func less[T Schedulable](a, b T) bool {
	ea, eb := a.SchedEntity(), b.SchedEntity()
	if ea.pass != eb.pass {
		return ea.pass < eb.pass
	}
	return ea.seq < eb.seq
}

// NewQueue returns an empty queue.
func NewQueue[T Schedulable]() *Queue[T] {
	return &Queue[T]{tree: btree.NewG[T](btreeDegree, less[T])}
}

// Add makes t runnable.
func (q *Queue[T]) Add(t T) {
	e := t.SchedEntity()
	if e.queued {
		panic(fmt.Sprintf("entity %p added to the ready queue twice", e))
	}
	e.pass = max(e.pass, q.vt)
	e.seq = q.seq
	q.seq++
	e.queued = true
	q.tree.ReplaceOrInsert(t)
}

// Fetch removes the entity with the lowest stride and advances its stride
// by BigStride/priority.
func (q *Queue[T]) Fetch() (T, bool) {
	t, ok := q.tree.DeleteMin()
	if !ok {
		return t, false
	}
	e := t.SchedEntity()
	e.queued = false
	q.vt = e.pass
	e.pass += e.increment()
	return t, true
}

// Remove removes t if it is queued.
func (q *Queue[T]) Remove(t T) bool {
	e := t.SchedEntity()
	if !e.queued {
		return false
	}
	if _, ok := q.tree.Delete(t); !ok {
		panic(fmt.Sprintf("queued entity %p missing from the ready queue", e))
	}
	e.queued = false
	return true
}

// Len returns the number of queued entities.
func (q *Queue[T]) Len() int {
	return q.tree.Len()
}

// Ascend calls fn for each queued entity in scheduling order until fn
// returns false.
func (q *Queue[T]) Ascend(fn func(t T) bool) {
	q.tree.Ascend(btree.ItemIteratorG[T](fn))
}
