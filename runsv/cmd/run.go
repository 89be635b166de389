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
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/term"
	"rvsentry.dev/rvsentry/pkg/log"
	"rvsentry.dev/rvsentry/pkg/sbi"
	"rvsentry.dev/rvsentry/runsv/config"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	timeout time.Duration
	noRaw   bool

	// stdin and stdout are the console. They default to the process's own.
	stdin  *os.File
	stdout io.Writer
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot a kernel and run an application"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <app> [args...] - boot a kernel whose init spawns <app> with args.

The console is connected to stdin and stdout. runsv exits with the status of
the application, or 128+N if it was killed by signal N.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&r.timeout, "timeout", 0, "stop the kernel after this long. Zero means no limit.")
	f.BoolVar(&r.noRaw, "no-raw", false, "leave a terminal on stdin in line mode.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	status := args[1].(*int)

	code, err := r.run(ctx, conf, f.Args())
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Errorf("%q did not finish within %v", f.Arg(0), r.timeout)
	case err != nil:
		return Errorf("running %q: %v", f.Arg(0), err)
	}
	log.Infof("%q exited with code %d", f.Arg(0), code)
	*status = ExitStatus(code)
	return subcommands.ExitSuccess
}

func (r *Run) run(ctx context.Context, conf *config.Config, argv []string) (int, error) {
	in, out := r.stdin, r.stdout
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if fd := int(in.Fd()); !r.noRaw && term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err != nil {
			return 0, fmt.Errorf("setting terminal to raw mode: %w", err)
		}
		defer term.Restore(fd, old)
		// Raw mode also turns off output processing.
		out = &crlfWriter{w: out}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return Boot(ctx, conf, sbi.NewConsole(out, in), argv)
}

// crlfWriter translates "\n" to "\r\n".
type crlfWriter struct {
	w io.Writer
}

// Write implements io.Writer.Write.
func (c *crlfWriter) Write(p []byte) (int, error) {
	for i, b := range p {
		var err error
		if b == '\n' {
			_, err = c.w.Write([]byte("\r\n"))
		} else {
			_, err = c.w.Write(p[i : i+1])
		}
		if err != nil {
			return i, err
		}
	}
	return len(p), nil
}
