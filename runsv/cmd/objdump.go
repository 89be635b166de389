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
	"io"
	"os"

	"github.com/google/subcommands"
	"rvsentry.dev/rvsentry/pkg/apps"
	"rvsentry.dev/rvsentry/pkg/hostarch"
	"rvsentry.dev/rvsentry/pkg/rvasm"
	"rvsentry.dev/rvsentry/pkg/sentry/loader"
)

// Objdump implements subcommands.Command for the "objdump" command.
type Objdump struct {
	disassemble bool
}

// Name implements subcommands.Command.Name.
func (*Objdump) Name() string {
	return "objdump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Objdump) Synopsis() string {
	return "print the loadable segments of an application"
}

// Usage implements subcommands.Command.Usage.
func (*Objdump) Usage() string {
	return "objdump [-d] <app> - print the program headers the loader sees.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (o *Objdump) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&o.disassemble, "d", false, "disassemble executable segments.")
}

// Execute implements subcommands.Command.Execute.
func (o *Objdump) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a, ok := apps.Lookup(f.Arg(0))
	if !ok {
		return Errorf("no application named %q", f.Arg(0))
	}
	img, err := loader.Parse(a.Image)
	if err != nil {
		return Errorf("parsing %q: %v", a.Name, err)
	}
	Dump(os.Stdout, a.Name, img, o.disassemble)
	return subcommands.ExitSuccess
}

// Dump writes the segments of img to w.
func Dump(w io.Writer, name string, img *loader.Image, disassemble bool) {
	fmt.Fprintf(w, "%s: entry %v\n", name, img.Entry)
	fmt.Fprintf(w, "%-18s %-18s %8s %8s %s\n", "VADDR", "END", "FILESZ", "MEMSZ", "PERM")
	for _, s := range img.Segments {
		fmt.Fprintf(w, "%#018x %#018x %8d %8d %v\n", uint64(s.Vaddr), uint64(s.End()), len(s.Data), s.MemSize, s.Perms)
	}
	if !disassemble {
		return
	}
	for _, s := range img.Segments {
		if !s.Perms.Execute {
			continue
		}
		fmt.Fprintf(w, "\nsegment %v:\n", s.Vaddr)
		for off := 0; off+4 <= len(s.Data); off += 4 {
			pc := uint64(s.Vaddr) + uint64(off)
			word := hostarch.ByteOrder.Uint32(s.Data[off:])
			fmt.Fprintf(w, "%#10x:  %08x  %s\n", pc, word, rvasm.Disassemble(word, pc))
		}
	}
}
