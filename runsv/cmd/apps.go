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
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"rvsentry.dev/rvsentry/pkg/apps"
)

// Apps implements subcommands.Command for the "apps" command.
type Apps struct{}

// Name implements subcommands.Command.Name.
func (*Apps) Name() string {
	return "apps"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Apps) Synopsis() string {
	return "list the bundled applications"
}

// Usage implements subcommands.Command.Usage.
func (*Apps) Usage() string {
	return "apps - list the bundled applications.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Apps) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Apps) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCHECK\tDESCRIPTION")
	for _, a := range apps.List() {
		check := "-"
		if a.SelfCheck {
			check = fmt.Sprintf("exit %d", a.ExitCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.Name, check, a.Description)
	}
	if err := w.Flush(); err != nil {
		return Errorf("writing list: %v", err)
	}
	return subcommands.ExitSuccess
}
