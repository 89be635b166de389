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

package refs

import (
	"testing"
)

func TestDestructorRunsOnce(t *testing.T) {
	var r AtomicRefCount
	calls := 0
	destroy := func() { calls++ }

	r.IncRef()
	r.IncRef()
	if got := r.ReadRefs(); got != 3 {
		t.Fatalf("ReadRefs = %d, want 3", got)
	}
	r.DecRefWithDestructor(destroy)
	r.DecRefWithDestructor(destroy)
	if calls != 0 {
		t.Fatalf("destructor ran with references outstanding")
	}
	r.DecRefWithDestructor(destroy)
	if calls != 1 {
		t.Errorf("destructor ran %d times, want 1", calls)
	}
	if r.TryIncRef() {
		t.Errorf("TryIncRef succeeded on a destroyed object")
	}
}

func TestDecRefPanicsBelowZero(t *testing.T) {
	var r AtomicRefCount
	r.DecRef()
	defer func() {
		if recover() == nil {
			t.Errorf("DecRef on a destroyed object did not panic")
		}
	}()
	r.DecRef()
}
