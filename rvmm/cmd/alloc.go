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
	"rvmm.dev/rvmm/pkg/pgalloc"
	"rvmm.dev/rvmm/rvmm/boot"
	"rvmm.dev/rvmm/rvmm/config"
)

// Alloc implements subcommands.Command for the "alloc" command.
type Alloc struct {
	release bool
}

// Name implements subcommands.Command.Name.
func (*Alloc) Name() string {
	return "alloc"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Alloc) Synopsis() string {
	return "allocate frames from the machine's memory and print them"
}

// Usage implements subcommands.Command.Usage.
func (*Alloc) Usage() string {
	return `alloc [flags] <size>... - run the frame allocator over the memory boot would
give it and allocate one frame per size, in order. Sizes take a K, M or G suffix.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (a *Alloc) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&a.release, "release", false, "release each frame right after allocating it.")
}

// Execute implements subcommands.Command.Execute.
func (a *Alloc) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	var sizes []uint64
	for _, arg := range f.Args() {
		size, err := config.ParseSize(arg)
		if err != nil {
			return Errorf("%v", err)
		}
		sizes = append(sizes, size)
	}

	layout, err := loadLayout(conf)
	if err != nil {
		return Errorf("loading layout: %v", err)
	}
	layout = layout.Clone()
	layout.Normalize()
	if err := layout.Validate(); err != nil {
		return Errorf("invalid layout: %v", err)
	}
	region, err := boot.FrameRegion(layout)
	if err != nil {
		return Errorf("%v", err)
	}
	frames := pgalloc.New()
	if err := frames.Init(region.Start, region.Length()); err != nil {
		return Errorf("%v", err)
	}

	status := subcommands.ExitSuccess
	w := tabwriter.NewWriter(stdout, 0, 8, 1, ' ', 0)
	fmt.Fprint(w, "SIZE\tADDR\tCLASS\n")
	var live []*pgalloc.Frame
	for _, size := range sizes {
		fr, err := frames.Alloc(size)
		if err != nil {
			fmt.Fprintf(w, "%#x\t%v\t\n", size, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Fprintf(w, "%#x\t%v\t%v\n", size, fr.Addr(), fr.Granularity())
		if a.release {
			fr.Release()
		} else {
			live = append(live, fr)
		}
	}
	w.Flush()

	st := frames.Stats()
	fmt.Fprintf(stdout, "\nframes: %d live, %#x of %#x bytes allocated in %v\n", st.Frames, st.Allocated, st.Total, st.Region)
	for _, fr := range live {
		fr.Release()
	}
	return status
}
