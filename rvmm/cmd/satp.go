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

	"github.com/google/subcommands"
	"rvmm.dev/rvmm/pkg/ring0/pagetables"
	"rvmm.dev/rvmm/pkg/rvarch"
	"rvmm.dev/rvmm/rvmm/config"
)

// SATP implements subcommands.Command for the "satp" command.
type SATP struct {
	root config.Addr
}

// Name implements subcommands.Command.Name.
func (*SATP) Name() string {
	return "satp"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*SATP) Synopsis() string {
	return "print the satp value for a root table"
}

// Usage implements subcommands.Command.Usage.
func (*SATP) Usage() string {
	return `satp [flags] - print the satp value that installs the top-level table at
--root under the global --mode and --asid.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *SATP) SetFlags(f *flag.FlagSet) {
	f.TextVar(&s.root, "root", config.Addr(0), "physical address of the top-level table.")
}

// Execute implements subcommands.Command.Execute.
func (s *SATP) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	root := uint64(s.root)
	if !rvarch.IsAligned[rvarch.Align4K](rvarch.New(root)) {
		return Errorf("root %#x is not page aligned", root)
	}
	if root >= 1<<rvarch.PhysAddrBits {
		return Errorf("root %#x is beyond the physical address space", root)
	}
	fmt.Fprintf(stdout, "%#016x\n", pagetables.MakeSATP(conf.Spec(), conf.ASID, root))
	return subcommands.ExitSuccess
}
