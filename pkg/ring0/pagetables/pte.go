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

package pagetables

import (
	"fmt"
	"strings"
	"sync/atomic"

	"rvmm.dev/rvmm/pkg/bits"
	"rvmm.dev/rvmm/pkg/rvarch"
)

// Flags are the low eight bits of a page table entry.
type Flags uint64

// Entry flags.
const (
	Valid Flags = 1 << iota
	Read
	Write
	Execute
	User
	Global
	Accessed
	Dirty

	allFlags = Valid | Read | Write | Execute | User | Global | Accessed | Dirty
)

// KernelFlags are the flags of the kernel's own mappings. Accessed and Dirty
// are preset so that harts without hardware A/D updates never fault on them.
const KernelFlags = Valid | Read | Write | Execute | Accessed | Dirty

// String renders the flags in the order D A G U X W R V, the order they
// appear in the entry, with '-' for clear bits.
func (f Flags) String() string {
	const names = "VRWXUGAD"
	var b strings.Builder
	for i := len(names) - 1; i >= 0; i-- {
		if f&(1<<i) != 0 {
			b.WriteByte(names[i])
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

const (
	ppnShift = 10
	ppnBits  = 44
	rswShift = 8
	rswBits  = 2
)

// PTE is a page table entry in the layout shared by Sv39, Sv48 and Sv57:
//
//	63    54 53  10 9   8 7 6 5 4 3 2 1 0
//	reserved  PPN   RSW  D A G U X W R V
//
// The zero value is an invalid entry.
type PTE uint64

// MakePTE returns an entry with the given physical page number and flags.
func MakePTE(ppn uint64, flags Flags) PTE {
	var p PTE
	p.SetPhysPageNumber(ppn)
	p.SetFlags(flags)
	return p
}

// Flags returns the flag bits.
func (p PTE) Flags() Flags {
	return Flags(p) & allFlags
}

// SetFlags replaces the flag bits.
func (p *PTE) SetFlags(f Flags) {
	if f&^allFlags != 0 {
		panic(fmt.Sprintf("flags %#x overflow the flag field", uint64(f)))
	}
	*p = PTE(uint64(*p)&^uint64(allFlags) | uint64(f))
}

// RSW returns the two bits reserved for supervisor software.
func (p PTE) RSW() uint64 {
	return bits.Field64(uint64(p), rswShift, rswBits)
}

// SetRSW replaces the supervisor software bits.
func (p *PTE) SetRSW(v uint64) {
	if !bits.FitsField64(v, rswBits) {
		panic(fmt.Sprintf("RSW value %#x overflows %d bits", v, rswBits))
	}
	*p = PTE(bits.SetField64(uint64(*p), rswShift, rswBits, v))
}

// ppnFieldWidth returns the width of the PPN field of the given level. The
// top field is narrower because physical addresses are 56 bits wide.
func ppnFieldWidth(l rvarch.Level) uint {
	if !l.Valid() {
		panic(fmt.Sprintf("PPN level %d out of range", int(l)))
	}
	if l == rvarch.MaxLevels-1 {
		return ppnBits - (rvarch.MaxLevels-1)*rvarch.LevelBits
	}
	return rvarch.LevelBits
}

func ppnFieldShift(l rvarch.Level) uint {
	return ppnShift + uint(l)*rvarch.LevelBits
}

// PPN returns the level's field of the physical page number.
func (p PTE) PPN(l rvarch.Level) uint64 {
	return bits.Field64(uint64(p), ppnFieldShift(l), ppnFieldWidth(l))
}

// SetPPN replaces the level's field of the physical page number. It panics
// if v does not fit the field.
func (p *PTE) SetPPN(l rvarch.Level, v uint64) {
	w := ppnFieldWidth(l)
	if !bits.FitsField64(v, w) {
		panic(fmt.Sprintf("PPN[%d] value %#x overflows %d bits", int(l), v, w))
	}
	*p = PTE(bits.SetField64(uint64(*p), ppnFieldShift(l), w, v))
}

// PhysPageNumber returns the full physical page number.
func (p PTE) PhysPageNumber() uint64 {
	return bits.Field64(uint64(p), ppnShift, ppnBits)
}

// SetPhysPageNumber replaces the full physical page number. It panics if ppn
// does not fit in 44 bits.
func (p *PTE) SetPhysPageNumber(ppn uint64) {
	if !bits.FitsField64(ppn, ppnBits) {
		panic(fmt.Sprintf("PPN %#x overflows %d bits", ppn, ppnBits))
	}
	*p = PTE(bits.SetField64(uint64(*p), ppnShift, ppnBits, ppn))
}

// Address returns the physical address the entry points to.
func (p PTE) Address() uint64 {
	return p.PhysPageNumber() << rvarch.PageShift
}

// Valid returns true if the V bit is set.
func (p PTE) Valid() bool {
	return p&PTE(Valid) != 0
}

// IsLeaf returns true for a valid entry that maps memory rather than
// pointing to the next level table, i.e. one of R, W or X is set.
func (p PTE) IsLeaf() bool {
	return p.Valid() && p&PTE(Read|Write|Execute) != 0
}

// Reserved returns true for the W-without-R encoding, which hardware treats
// as a fault.
func (p PTE) Reserved() bool {
	return p&PTE(Read|Write) == PTE(Write)
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	return fmt.Sprintf("%#x[%v]", p.Address(), p.Flags())
}

// Load atomically reads an entry of a live table.
//
// Entries of an installed table are read by the hardware walker
// concurrently, so every access goes through Load and Store and is never
// elided, merged or torn.
//
//go:nosplit
func (p *PTE) Load() PTE {
	return PTE(atomic.LoadUint64((*uint64)(p)))
}

// Store atomically writes an entry of a live table.
//
//go:nosplit
func (p *PTE) Store(v PTE) {
	atomic.StoreUint64((*uint64)(p), uint64(v))
}
