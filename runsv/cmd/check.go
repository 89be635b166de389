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
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"rvsentry.dev/rvsentry/pkg/apps"
	"rvsentry.dev/rvsentry/pkg/sbi"
	"rvsentry.dev/rvsentry/runsv/config"
)

// Check implements subcommands.Command for the "check" command.
type Check struct {
	jobs    int
	timeout time.Duration
	verbose bool
}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "run every self-checking application on its own kernel"
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check [flags] [app...] - run self-checking applications and compare exit codes.

Without arguments every self-checking application is run.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Check) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.jobs, "j", runtime.GOMAXPROCS(0), "number of kernels to run at once.")
	f.DurationVar(&c.timeout, "timeout", time.Minute, "time limit for each application.")
	f.BoolVar(&c.verbose, "v", false, "print the console output of failed applications.")
}

// CheckResult is the outcome of one self-check.
type CheckResult struct {
	App      *apps.App
	Code     int
	Err      error
	Duration time.Duration
	Console  string
}

// Passed returns true if the application exited as expected.
func (r *CheckResult) Passed() bool {
	return r.Err == nil && r.Code == r.App.ExitCode
}

func (r *CheckResult) String() string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case !r.Passed():
		return fmt.Sprintf("exit code %d, want %d", r.Code, r.App.ExitCode)
	default:
		return fmt.Sprintf("exit code %d", r.Code)
	}
}

// RunChecks boots one kernel per application, at most jobs at a time. The
// results are in the order of checks.
func RunChecks(ctx context.Context, conf *config.Config, checks []*apps.App, jobs int, timeout time.Duration) []CheckResult {
	results := make([]CheckResult, len(checks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))
	for i, a := range checks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			var out bytes.Buffer
			start := time.Now()
			code, err := Boot(ctx, conf, sbi.NewConsole(&out, nil), []string{a.Name})
			results[i] = CheckResult{
				App:      a,
				Code:     code,
				Err:      err,
				Duration: time.Since(start),
				Console:  out.String(),
			}
			// Failures are reported per application.
			return nil
		})
	}
	g.Wait()
	return results
}

// Execute implements subcommands.Command.Execute.
func (c *Check) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	status := args[1].(*int)

	checks := apps.SelfChecks()
	if f.NArg() > 0 {
		checks = nil
		for _, name := range f.Args() {
			a, ok := apps.Lookup(name)
			if !ok || !a.SelfCheck {
				return Errorf("%q is not a self-checking application", name)
			}
			checks = append(checks, a)
		}
	}

	results := RunChecks(ctx, conf, checks, c.jobs, c.timeout)
	failed := report(os.Stdout, results, c.verbose)
	if failed > 0 {
		*status = 1
	}
	return subcommands.ExitSuccess
}

// report prints one line per result and returns the number of failures.
func report(out io.Writer, results []CheckResult, verbose bool) int {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	failed := 0
	for _, r := range results {
		verdict := "PASS"
		if !r.Passed() {
			verdict = "FAIL"
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", verdict, r.App.Name, r.Duration.Round(time.Millisecond), r.String())
	}
	w.Flush()
	if verbose {
		for _, r := range results {
			if !r.Passed() {
				fmt.Fprintf(out, "\n--- console of %s ---\n%s", r.App.Name, r.Console)
			}
		}
	}
	fmt.Fprintf(out, "%d passed, %d failed\n", len(results)-failed, failed)
	return failed
}
