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

package kernel

import (
	"rvsentry.dev/rvsentry/pkg/log"
)

// Exec replaces t's address space and trap context with a fresh image
// running the application named path with argv. It returns argc. The pid,
// kernel stack, open files, family links and signal state survive. On
// failure t is unchanged.
func (t *Task) Exec(path string, argv []string) (int, error) {
	image, err := t.k.fs.ReadFile(path)
	if err != nil {
		return 0, err
	}
	ms, tc, err := t.k.loadImage(image, argv, t.kstack)
	if err != nil {
		log.Infof("%v: exec %q failed: %v", t, path, err)
		return 0, err
	}

	in := t.inner.Borrow()
	old := in.mm
	in.mm = ms
	in.trapCtxPPN = trapContextPPN(ms)
	t.inner.Release()

	old.Release()
	t.tc = tc
	log.Infof("%v: exec %q, argv %q", t, path, argv)
	return len(argv), nil
}
