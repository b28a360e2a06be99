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

	"rvmm.dev/rvmm/pkg/errors/memerr"
	"rvmm.dev/rvmm/pkg/log"
	"rvmm.dev/rvmm/pkg/rvarch"
)

func debugf(format string, v ...any) {
	if log.IsLogging(log.Debug) {
		log.Log().DebugfAtDepth(1, format, v...)
	}
}

// checkLeafFlags panics on flag sets that cannot describe a leaf.
func checkLeafFlags(flags Flags) {
	if flags&(Read|Write|Execute) == 0 {
		panic(fmt.Sprintf("leaf flags %v grant no access", flags))
	}
	if flags&(Read|Write) == Write {
		panic(fmt.Sprintf("leaf flags %v are writable but not readable", flags))
	}
}

// checkRequest validates the parts of a request shared by Map and Unmap.
func (t *RootPageTable[S]) checkRequest(virt rvarch.Address[rvarch.Unaligned], g rvarch.Granularity) error {
	levels := t.Levels()
	if !g.Valid() || int(g.Level()) >= levels {
		return fmt.Errorf("%v pages under %s: %w", g, t.Spec().Name(), memerr.ErrUnsupportedSize)
	}
	if !virt.AlignedTo(g) {
		return fmt.Errorf("virtual address %v is not %v aligned: %w", virt, g, memerr.ErrAddressNotAligned)
	}
	if !rvarch.Canonical(virt.Uint64(), levels) {
		return fmt.Errorf("virtual address %v is not canonical under %s: %w", virt, t.Spec().Name(), memerr.ErrInvalidAddress)
	}
	return nil
}

// Map installs a single leaf of size g mapping virt to phys.
//
// Intermediate tables are allocated as needed. Remapping an address to the
// identical entry succeeds without change; any other existing mapping that
// covers the slot, or a table hanging below it, is a conflict.
//
// Errors:
//   - memerr.ErrUnsupportedSize: g is not a leaf size of the scheme. Nothing
//     is modified.
//   - memerr.ErrAddressNotAligned: virt or phys is not aligned to g.
//   - memerr.ErrInvalidAddress: virt is not canonical, or phys does not fit
//     in a physical address.
//   - memerr.ErrMappingConflict: the slot or an enclosing slot is in use.
//   - memerr.ErrOutOfMemory: an intermediate table could not be allocated.
//     Tables allocated by the call are released again.
//   - memerr.ErrUninitialized: the table has no storage (see Zero).
//
// Flags must grant some access and must not be writable without being
// readable. Valid is implied.
func (t *RootPageTable[S]) Map(virt, phys rvarch.Address[rvarch.Unaligned], g rvarch.Granularity, flags Flags) error {
	if err := t.checkRequest(virt, g); err != nil {
		return err
	}
	if !phys.AlignedTo(g) {
		return fmt.Errorf("physical address %v is not %v aligned: %w", phys, g, memerr.ErrAddressNotAligned)
	}
	if phys.Uint64() >= 1<<rvarch.PhysAddrBits {
		return fmt.Errorf("physical address %v beyond %d bits: %w", phys, rvarch.PhysAddrBits, memerr.ErrInvalidAddress)
	}
	checkLeafFlags(flags)
	if err := t.checkInit(); err != nil {
		return err
	}

	// linked records the tables this call allocated, top first, so that a
	// failure can unlink them again.
	var linked []link
	table := t.root
	for l := rvarch.Level(t.Levels() - 1); l > g.Level(); l-- {
		entry := &table[virt.PN(l)]
		pte := entry.Load()
		switch {
		case !pte.Valid():
			next, err := t.allocator.NewTable()
			if err != nil {
				t.unlink(linked)
				return fmt.Errorf("allocating level %d table for %v: %w", l-1, virt, err)
			}
			entry.Store(MakePTE(t.allocator.PhysicalFor(next)>>rvarch.PageShift, Valid))
			linked = append(linked, link{entry: entry, table: next})
			table = next
		case pte.IsLeaf():
			return fmt.Errorf("%v is inside an existing %v mapping: %w", virt, rvarch.GranularityForLevel(l), memerr.ErrMappingConflict)
		default:
			if table = t.table(pte.Address()); table == nil {
				return fmt.Errorf("level %d entry for %v points outside table memory: %v: %w", l, virt, pte, memerr.ErrInvalidAddress)
			}
		}
	}

	entry := &table[virt.PN(g.Level())]
	want := MakePTE(phys.PageNumber(), flags|Valid)
	if cur := entry.Load(); cur.Valid() {
		if cur == want {
			return nil
		}
		// A slot in a table allocated by this call is never valid.
		return fmt.Errorf("%v already maps %v: %w", virt, cur, memerr.ErrMappingConflict)
	}
	entry.Store(want)
	debugf("map %v -> %v (%v, %v)", virt, phys, g, flags|Valid)
	return nil
}

// link is an entry pointing at a table allocated by Map.
type link struct {
	entry *PTE
	table *PageTable
}

// unlink clears and frees the tables Map allocated before failing, deepest
// first. Each is still empty.
func (t *RootPageTable[S]) unlink(linked []link) {
	for i := len(linked) - 1; i >= 0; i-- {
		linked[i].entry.Store(0)
		t.allocator.FreeTable(linked[i].table)
	}
}

// MapRange maps length bytes at virt to phys using the largest leaves, no
// larger than limit, that both addresses and the remaining length allow.
//
// All of virt, phys and length must be 4K aligned. On error the range may be
// partially mapped.
func (t *RootPageTable[S]) MapRange(virt, phys rvarch.Address[rvarch.Unaligned], length uint64, limit rvarch.Granularity, flags Flags) error {
	if length%rvarch.PageSize != 0 {
		return fmt.Errorf("length %#x is not page aligned: %w", length, memerr.ErrAddressNotAligned)
	}
	for off := uint64(0); off < length; {
		v, p := virt.Add(off), phys.Add(off)
		g := t.largestLeaf(v, p, length-off, limit)
		if err := t.Map(v, p, g, flags); err != nil {
			return err
		}
		off += g.Bytes()
	}
	return nil
}

// largestLeaf returns the largest leaf size no larger than limit that fits
// the alignment of v and p and the remaining length. It falls back to 4K,
// leaving Map to report misalignment.
func (t *RootPageTable[S]) largestLeaf(v, p rvarch.Address[rvarch.Unaligned], remaining uint64, limit rvarch.Granularity) rvarch.Granularity {
	top := rvarch.Level(t.Levels() - 1)
	if limit.Valid() && limit.Level() < top {
		top = limit.Level()
	}
	for l := top; l > 0; l-- {
		g := rvarch.GranularityForLevel(l)
		if v.AlignedTo(g) && p.AlignedTo(g) && remaining >= g.Bytes() {
			return g
		}
	}
	return rvarch.Size4K
}

// Unmap removes the leaf of size g at virt and frees intermediate tables
// that become empty. The top-level table is never freed.
//
// It fails with memerr.ErrNotMapped when no leaf of that size is installed
// at virt, including when virt lies inside a larger leaf.
func (t *RootPageTable[S]) Unmap(virt rvarch.Address[rvarch.Unaligned], g rvarch.Granularity) error {
	if err := t.checkRequest(virt, g); err != nil {
		return err
	}
	if err := t.checkInit(); err != nil {
		return err
	}

	// path[l] is the table at level l on the way down.
	var path [rvarch.MaxLevels]*PageTable
	table := t.root
	for l := rvarch.Level(t.Levels() - 1); l > g.Level(); l-- {
		path[l] = table
		pte := table[virt.PN(l)].Load()
		if !pte.Valid() {
			return fmt.Errorf("%v: %w", virt, memerr.ErrNotMapped)
		}
		if pte.IsLeaf() {
			return fmt.Errorf("%v is inside a %v mapping: %w", virt, rvarch.GranularityForLevel(l), memerr.ErrNotMapped)
		}
		if table = t.table(pte.Address()); table == nil {
			return fmt.Errorf("level %d entry for %v points outside table memory: %v: %w", l, virt, pte, memerr.ErrInvalidAddress)
		}
	}

	entry := &table[virt.PN(g.Level())]
	if pte := entry.Load(); !pte.Valid() || !pte.IsLeaf() {
		return fmt.Errorf("no %v leaf at %v: %w", g, virt, memerr.ErrNotMapped)
	}
	entry.Store(0)
	debugf("unmap %v (%v)", virt, g)

	for l := g.Level() + 1; int(l) < t.Levels(); l++ {
		if !table.Empty() {
			break
		}
		parent := path[l]
		parent[virt.PN(l)].Store(0)
		t.allocator.FreeTable(table)
		table = parent
	}
	return nil
}

// Walk calls fn for every installed leaf in ascending table order, with the
// canonical virtual address it maps. It stops when fn returns false.
func (t *RootPageTable[S]) Walk(fn func(virt rvarch.Address[rvarch.Unaligned], pte PTE, g rvarch.Granularity) bool) {
	if t.root == nil {
		return
	}
	t.walk(t.root, rvarch.Level(t.Levels()-1), 0, fn)
}

func (t *RootPageTable[S]) walk(table *PageTable, l rvarch.Level, base uint64, fn func(rvarch.Address[rvarch.Unaligned], PTE, rvarch.Granularity) bool) bool {
	for i := range table {
		pte := table[i].Load()
		if !pte.Valid() || pte.Reserved() {
			continue
		}
		va := base | uint64(i)<<l.Shift()
		if pte.IsLeaf() {
			if !fn(rvarch.New(t.signExtend(va)), pte, rvarch.GranularityForLevel(l)) {
				return false
			}
			continue
		}
		if l == 0 {
			continue
		}
		next := t.table(pte.Address())
		if next == nil {
			continue
		}
		if !t.walk(next, l-1, va, fn) {
			return false
		}
	}
	return true
}

// signExtend returns the canonical form of a virtual address assembled from
// page numbers.
func (t *RootPageTable[S]) signExtend(va uint64) uint64 {
	shift := 64 - rvarch.VABits(t.Levels())
	return uint64(int64(va<<shift) >> shift)
}
