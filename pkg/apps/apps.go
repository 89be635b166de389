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

// Package apps holds the user programs bundled into the kernel's
// filesystem. Every program is assembled with rvasm when the package is
// initialized.
package apps

import (
	"fmt"
	"sort"
)

// InitName is the program booted as init.
const InitName = "initproc"

// App is one bundled program.
type App struct {
	// Name is the file name the program is installed under.
	Name string

	// Description is shown by "runsv apps".
	Description string

	// SelfCheck marks programs that test the kernel and terminate on their
	// own. They are run by "runsv check".
	SelfCheck bool

	// ExitCode is the status a passing self-check exits with.
	ExitCode int

	// Image is the ELF executable.
	Image []byte
}

var registry = make(map[string]*App)

// register adds an application. It must only be called at init.
func register(a *App) {
	if _, ok := registry[a.Name]; ok {
		panic(fmt.Sprintf("application %q registered twice", a.Name))
	}
	registry[a.Name] = a
}

// Lookup returns the application called name.
func Lookup(name string) (*App, bool) {
	a, ok := registry[name]
	return a, ok
}

// List returns every application, ordered by name.
func List() []*App {
	all := make([]*App, 0, len(registry))
	for _, a := range registry {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// SelfChecks returns the programs run by "runsv check", ordered by name.
func SelfChecks() []*App {
	var checks []*App
	for _, a := range List() {
		if a.SelfCheck {
			checks = append(checks, a)
		}
	}
	return checks
}

// Images returns the images of every application keyed by name, in the
// form the kernel installs them.
func Images() map[string][]byte {
	images := make(map[string][]byte, len(registry))
	for name, a := range registry {
		images[name] = a.Image
	}
	return images
}
