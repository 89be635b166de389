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

// Package cmd holds implementations of the runsv commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"rvsentry.dev/rvsentry/pkg/apps"
	"rvsentry.dev/rvsentry/pkg/log"
	"rvsentry.dev/rvsentry/pkg/sbi"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel"
	"rvsentry.dev/rvsentry/runsv/config"

	// Register the platforms and the syscall table.
	_ "rvsentry.dev/rvsentry/pkg/sentry/platform/platforms"
	_ "rvsentry.dev/rvsentry/pkg/sentry/syscalls/rv64"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the caller and should not go to the application console.
var ErrorLogger io.Writer = os.Stderr

// Errorf logs error to the log and to ErrorLogger, and returns
// subcommands.ExitFailure.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	log.Warningf(format, args...)
	fmt.Fprintf(ErrorLogger, "runsv: "+format+"\n", args...)
	return subcommands.ExitFailure
}

// Boot runs argv on a fresh kernel configured by conf and returns the exit
// code of init. argv[0] is the application init spawns.
func Boot(ctx context.Context, conf *config.Config, console *sbi.Console, argv []string) (int, error) {
	k, err := kernel.New(conf.KernelConfig(), console, apps.Images())
	if err != nil {
		return 0, fmt.Errorf("creating kernel: %w", err)
	}
	defer func() {
		if err := k.Release(); err != nil {
			log.Warningf("Releasing kernel: %v", err)
		}
	}()
	if err := k.Start(append([]string{conf.Init}, argv...)); err != nil {
		return 0, fmt.Errorf("starting %q: %w", conf.Init, err)
	}
	return k.Run(ctx)
}

// ExitStatus maps the exit code of a task to a host process exit status.
// Tasks killed by signal N exit with -N, reported the way a shell would.
func ExitStatus(code int) int {
	if code < 0 {
		return 128 - code
	}
	return code & 0xff
}

// Fatalf logs to ErrorLogger and exits with status 128.
func Fatalf(format string, args ...any) {
	fmt.Fprintf(ErrorLogger, "runsv: "+format+"\n", args...)
	log.Warningf(format, args...)
	os.Exit(128)
}
