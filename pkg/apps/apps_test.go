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

package apps

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"rvsentry.dev/rvsentry/pkg/sentry/loader"
)

func TestRegistry(t *testing.T) {
	var names []string
	for _, a := range List() {
		names = append(names, a.Name)
	}
	want := []string{
		"echo", "exit", "forkexec", "hello", "illegal", "initproc", "mailtest",
		"mmaptest", "mutextest", "pipetest", "segv", "semtest", "sigtest", "spin", "stride",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}

	for _, a := range SelfChecks() {
		if a.Name == InitName || a.Name == "spin" {
			t.Errorf("%s must not be a self-check", a.Name)
		}
	}
	if _, ok := Lookup(InitName); !ok {
		t.Errorf("Lookup(%q) failed", InitName)
	}
	if _, ok := Lookup("nonexistent"); ok {
		t.Errorf("Lookup(nonexistent) succeeded")
	}
	if got := len(Images()); got != len(want) {
		t.Errorf("len(Images()) = %d, want %d", got, len(want))
	}
}

func TestImagesLoad(t *testing.T) {
	for _, a := range List() {
		t.Run(a.Name, func(t *testing.T) {
			img, err := loader.Parse(a.Image)
			if err != nil {
				t.Fatalf("loader.Parse failed: %v", err)
			}
			if len(img.Segments) == 0 {
				t.Errorf("no segments")
			}
			if a.Description == "" {
				t.Errorf("no description")
			}
		})
	}
}
