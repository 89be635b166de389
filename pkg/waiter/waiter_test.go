// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package waiter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type recorder struct {
	id  int
	log *[]int
}

func (r recorder) NotifyEvent(EventMask) {
	*r.log = append(*r.log, r.id)
}

func TestNotifyOrderAndOneShot(t *testing.T) {
	var q Queue
	var log []int
	entries := make([]Entry, 4)
	for i := range entries {
		mask := EventIn
		if i == 2 {
			mask = EventOut
		}
		entries[i].Init(recorder{id: i, log: &log}, mask)
		q.EventRegister(&entries[i])
	}
	if got := q.Events(); got != EventIn|EventOut {
		t.Errorf("Events() = %#x", got)
	}

	q.Notify(EventIn)
	if diff := cmp.Diff([]int{0, 1, 3}, log); diff != "" {
		t.Errorf("notify order mismatch (-want +got):\n%s", diff)
	}
	if q.Len() != 1 || !entries[2].Registered() || entries[0].Registered() {
		t.Errorf("notified entries not removed: len %d", q.Len())
	}

	// Already notified entries are not notified again.
	q.Notify(EventIn)
	if len(log) != 3 {
		t.Errorf("entries notified twice: %v", log)
	}
}

func TestNotifyOne(t *testing.T) {
	var q Queue
	var log []int
	entries := make([]Entry, 3)
	for i := range entries {
		entries[i].Init(recorder{id: i, log: &log}, EventIn)
		q.EventRegister(&entries[i])
	}
	q.EventUnregister(&entries[0])
	for q.NotifyOne(EventIn) {
	}
	if diff := cmp.Diff([]int{1, 2}, log); diff != "" {
		t.Errorf("NotifyOne order mismatch (-want +got):\n%s", diff)
	}
	if !q.IsEmpty() {
		t.Errorf("queue not empty")
	}
}

func TestChannelAndFunctionEntries(t *testing.T) {
	var q Queue
	ce, ch := NewChannelEntry(EventIn)
	var got EventMask
	fe := NewFunctionEntry(EventOut|EventHUp, func(m EventMask) { got = m })
	q.EventRegister(&ce)
	q.EventRegister(&fe)
	q.Notify(EventIn | EventHUp)
	select {
	case <-ch:
	default:
		t.Errorf("channel entry not notified")
	}
	if got != EventHUp {
		t.Errorf("function entry notified with %#x, want %#x", got, EventHUp)
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	var q Queue
	e, _ := NewChannelEntry(EventIn)
	q.EventRegister(&e)
	defer func() {
		if recover() == nil {
			t.Errorf("double registration did not panic")
		}
	}()
	q.EventRegister(&e)
}
