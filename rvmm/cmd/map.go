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
	"io"
	"text/tabwriter"

	"github.com/google/subcommands"
	"rvmm.dev/rvmm/pkg/rvarch"
	"rvmm.dev/rvmm/rvmm/boot"
	"rvmm.dev/rvmm/rvmm/config"
)

// Map implements subcommands.Command for the "map" command.
type Map struct {
	virt  config.Addr
	phys  config.Addr
	size  string
	flags string
}

// Name implements subcommands.Command.Name.
func (*Map) Name() string {
	return "map"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Map) Synopsis() string {
	return "add a mapping to the kernel address space and print the leaves used"
}

// Usage implements subcommands.Command.Usage.
func (*Map) Usage() string {
	return `map [flags] - build the kernel address space for the machine layout, map
--size bytes at --virt to --phys with the largest leaves allowed, and print them.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Map) SetFlags(f *flag.FlagSet) {
	f.TextVar(&m.virt, "virt", config.Addr(0), "virtual address to map.")
	f.TextVar(&m.phys, "phys", config.Addr(0), "physical address to map to.")
	f.StringVar(&m.size, "size", "4K", "number of bytes to map, with an optional K, M or G suffix.")
	f.StringVar(&m.flags, "flags", "rw", "permissions over rwxugad.")
}

// Execute implements subcommands.Command.Execute.
func (m *Map) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	size, err := config.ParseSize(m.size)
	if err != nil {
		return Errorf("%v", err)
	}
	if size == 0 {
		return Errorf("--size must be positive")
	}
	flags, err := config.ParseFlags(m.flags)
	if err != nil {
		return Errorf("%v", err)
	}
	l, err := kernelSpace(conf)
	if err != nil {
		return Errorf("%v", err)
	}
	defer l.Destroy()

	as := l.AddressSpace()
	virt, phys := uint64(m.virt), uint64(m.phys)
	if err := as.MapRange(rvarch.New(virt), rvarch.New(phys), size, conf.MaxPage.Granularity(), flags); err != nil {
		return Errorf("mapping %#x -> %#x (+%#x): %v", virt, phys, size, err)
	}
	// Compare inclusive ends: the top leaf of the address space ends at 2^64.
	last := virt + size - 1
	var leaves []boot.Leaf
	for _, leaf := range l.Leaves() {
		if leaf.Virt <= last && virt <= leaf.Virt+leaf.Size.Bytes()-1 {
			leaves = append(leaves, leaf)
		}
	}
	printLeaves(stdout, leaves)
	return subcommands.ExitSuccess
}

// Translate implements subcommands.Command for the "translate" command.
type Translate struct{}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "translate virtual addresses through the kernel address space"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return `translate [flags] <address>... - build the kernel address space for the
machine layout and translate each address. Fails if any address is unmapped.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Translate) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Translate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	var virts []uint64
	for _, arg := range f.Args() {
		v, err := parseAddr(arg)
		if err != nil {
			return Errorf("%v", err)
		}
		virts = append(virts, v)
	}
	l, err := kernelSpace(conf)
	if err != nil {
		return Errorf("%v", err)
	}
	defer l.Destroy()

	status := subcommands.ExitSuccess
	for _, v := range virts {
		phys, ok := l.AddressSpace().Translate(rvarch.New(v))
		if !ok {
			fmt.Fprintf(stdout, "%#016x -> not mapped\n", v)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Fprintf(stdout, "%#016x -> %#x\n", v, phys.Uint64())
	}
	return status
}

// kernelSpace returns a loader whose kernel address space is built but not
// yet active on any hart.
func kernelSpace(conf *config.Config) (*boot.Loader, error) {
	layout, err := loadLayout(conf)
	if err != nil {
		return nil, fmt.Errorf("loading layout: %w", err)
	}
	l, err := boot.New(conf, layout)
	if err != nil {
		return nil, fmt.Errorf("creating loader: %w", err)
	}
	if err := l.BuildKernelSpace(); err != nil {
		l.Destroy()
		return nil, err
	}
	return l, nil
}

func printLeaves(out io.Writer, leaves []boot.Leaf) {
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	fmt.Fprint(w, "VIRT\tPHYS\tSIZE\tFLAGS\n")
	for _, leaf := range leaves {
		fmt.Fprintf(w, "%#016x\t%#x\t%v\t%v\n", leaf.Virt, leaf.Phys, leaf.Size, leaf.Flags)
	}
	w.Flush()
}
