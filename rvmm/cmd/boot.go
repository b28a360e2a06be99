// Copyright 2018 The gVisor Authors.
// Copyright 2026 The rvmm Authors.
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
	"text/tabwriter"

	"github.com/google/subcommands"
	"rvmm.dev/rvmm/pkg/log"
	"rvmm.dev/rvmm/rvmm/boot"
	"rvmm.dev/rvmm/rvmm/config"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	// mappings prints the installed leaves after boot.
	mappings bool
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "build the kernel address space and start all harts"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - build the kernel address space for the machine layout,
start every hart on it and print the result.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&b.mappings, "mappings", true, "print the installed mappings.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	layout, err := loadLayout(conf)
	if err != nil {
		return Errorf("loading layout: %v", err)
	}
	l, err := boot.New(conf, layout)
	if err != nil {
		return Errorf("creating loader: %v", err)
	}
	defer l.Destroy()

	if err := l.Run(ctx); err != nil {
		return Errorf("boot failed: %v", err)
	}
	log.Infof("Boot complete")

	w := tabwriter.NewWriter(stdout, 0, 8, 1, ' ', 0)
	fmt.Fprint(w, "HART\tSATP\tSTACK\n")
	for _, h := range l.Harts() {
		fmt.Fprintf(w, "%d\t%#016x\t%#x\n", h.ID, h.SATP(), h.StackTop())
	}
	w.Flush()
	if b.mappings {
		fmt.Fprintln(stdout)
		printLeaves(stdout, l.Leaves())
	}
	st := l.Frames().Stats()
	fmt.Fprintf(stdout, "\nframes: %d live, %#x of %#x bytes allocated in %v\n", st.Frames, st.Allocated, st.Total, st.Region)
	return subcommands.ExitSuccess
}
