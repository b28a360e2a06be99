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

// Package pagetables builds and walks RISC-V page tables.
//
// A RootPageTable is parameterized by the paging scheme (Sv39, Sv48 or Sv57),
// which fixes the number of levels and the satp mode. Intermediate tables are
// taken from an Allocator as mappings are installed and returned to it when
// they become empty.
//
// Entries of installed tables are read and written with atomic operations.
// Beyond that, a RootPageTable is not synchronized: callers serialize
// mutations.
package pagetables

import (
	"fmt"
	"strings"

	"rvmm.dev/rvmm/pkg/errors/memerr"
	"rvmm.dev/rvmm/pkg/ring0"
	"rvmm.dev/rvmm/pkg/rvarch"
)

// PageTable is one 4K table of 512 entries.
type PageTable [rvarch.EntriesPerTable]PTE

// Empty returns true if no entry is valid.
func (t *PageTable) Empty() bool {
	for i := range t {
		if t[i].Load().Valid() {
			return false
		}
	}
	return true
}

// Spec describes a paging scheme.
type Spec interface {
	// Mode is the satp MODE value that selects the scheme.
	Mode() uint64

	// Levels is the depth of the table tree.
	Levels() int

	// Name is the lowercase scheme name.
	Name() string
}

// Sv39 is the three-level scheme with 39-bit virtual addresses.
type Sv39 struct{}

// Mode implements Spec.Mode.
func (Sv39) Mode() uint64 { return 8 }

// Levels implements Spec.Levels.
func (Sv39) Levels() int { return 3 }

// Name implements Spec.Name.
func (Sv39) Name() string { return "sv39" }

// Sv48 is the four-level scheme with 48-bit virtual addresses.
type Sv48 struct{}

// Mode implements Spec.Mode.
func (Sv48) Mode() uint64 { return 9 }

// Levels implements Spec.Levels.
func (Sv48) Levels() int { return 4 }

// Name implements Spec.Name.
func (Sv48) Name() string { return "sv48" }

// Sv57 is the five-level scheme with 57-bit virtual addresses.
type Sv57 struct{}

// Mode implements Spec.Mode.
func (Sv57) Mode() uint64 { return 10 }

// Levels implements Spec.Levels.
func (Sv57) Levels() int { return 5 }

// Name implements Spec.Name.
func (Sv57) Name() string { return "sv57" }

// SpecByName returns the scheme with the given name, case insensitively.
func SpecByName(name string) (Spec, error) {
	for _, s := range []Spec{Sv39{}, Sv48{}, Sv57{}} {
		if strings.EqualFold(s.Name(), name) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown paging mode %q, want one of sv39, sv48, sv57", name)
}

// satp layout.
const (
	satpModeShift = 60
	satpModeBits  = 4
	satpASIDShift = 44
	satpASIDBits  = 16
	satpPPNBits   = 44
)

// RootPageTable is the top-level table of an address space under scheme S.
//
// The zero value (see Zero) has no storage: it maps nothing and its root
// physical page number is zero. Map and Unmap on it fail with
// memerr.ErrUninitialized. Init attaches an Allocator and takes the top-level
// table from it.
type RootPageTable[S Spec] struct {
	// allocator provides and resolves every table of the tree.
	allocator Allocator

	// root is the top-level table, nil before Init.
	root *PageTable

	// rootPhys is the physical address of root.
	rootPhys uint64
}

// Zero returns an empty root table with no storage.
func Zero[S Spec]() RootPageTable[S] {
	return RootPageTable[S]{}
}

// New returns an initialized root table.
func New[S Spec](a Allocator) (*RootPageTable[S], error) {
	t := &RootPageTable[S]{}
	if err := t.Init(a); err != nil {
		return nil, err
	}
	return t, nil
}

// Init takes the top-level table from a. It panics if the table is already
// initialized.
func (t *RootPageTable[S]) Init(a Allocator) error {
	if t.root != nil {
		panic("root page table initialized twice")
	}
	root, err := a.NewTable()
	if err != nil {
		return fmt.Errorf("allocating %s root table: %w", t.Spec().Name(), err)
	}
	t.allocator = a
	t.root = root
	t.rootPhys = a.PhysicalFor(root)
	if t.rootPhys%rvarch.PageSize != 0 {
		panic(fmt.Sprintf("allocator returned misaligned root table at %#x", t.rootPhys))
	}
	return nil
}

// Spec returns the paging scheme.
func (t *RootPageTable[S]) Spec() Spec {
	var s S
	return s
}

// Levels returns the depth of the table tree.
func (t *RootPageTable[S]) Levels() int {
	var s S
	return s.Levels()
}

// RootAddress returns the physical address of the top-level table, zero if
// the table has no storage.
func (t *RootPageTable[S]) RootAddress() uint64 {
	return t.rootPhys
}

// SATP returns the satp value that installs this table with the given
// address space identifier. Only the low 16 bits of asid are used.
func (t *RootPageTable[S]) SATP(asid uint64) uint64 {
	var s S
	return MakeSATP(s, asid, t.rootPhys)
}

// MakeSATP composes the satp value selecting scheme s, address space asid
// and the top-level table at physical address root. Only the low 16 bits of
// asid are used. root must be page aligned.
func MakeSATP(s Spec, asid, root uint64) uint64 {
	mode := s.Mode()
	if mode >= 1<<satpModeBits {
		panic(fmt.Sprintf("satp mode %d of %s does not fit %d bits", mode, s.Name(), satpModeBits))
	}
	if root%rvarch.PageSize != 0 {
		panic(fmt.Sprintf("root table at %#x is not page aligned", root))
	}
	asidMask := uint64(1)<<satpASIDBits - 1
	ppn := root >> rvarch.PageShift
	if ppn >= 1<<satpPPNBits {
		panic(fmt.Sprintf("root table at %#x beyond satp range", root))
	}
	return mode<<satpModeShift | (asid&asidMask)<<satpASIDShift | ppn
}

// Activate installs the table on the hart behind tc: it writes satp and then
// issues a full fence, so that no stale translation survives the switch.
//
// Activating a table with nothing mapped is a programming error: the hart
// would fault on its next instruction fetch.
func (t *RootPageTable[S]) Activate(tc ring0.TranslationControl, asid uint64) {
	if t.root == nil || t.root.Empty() {
		panic(fmt.Sprintf("activating empty %s page table", t.Spec().Name()))
	}
	satp := t.SATP(asid)
	tc.WriteSATP(satp)
	tc.SFenceVMA()
	debugf("activated %s table, satp=%#x", t.Spec().Name(), satp)
}

// table returns the table at physical address pa, or nil if the allocator
// does not back it.
func (t *RootPageTable[S]) table(pa uint64) *PageTable {
	return t.allocator.LookupTable(pa)
}

// checkInit fails with memerr.ErrUninitialized if the table has no storage.
func (t *RootPageTable[S]) checkInit() error {
	if t.root == nil {
		return fmt.Errorf("%s page table used before Init: %w", t.Spec().Name(), memerr.ErrUninitialized)
	}
	return nil
}
