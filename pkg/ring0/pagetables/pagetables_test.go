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
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"rvmm.dev/rvmm/pkg/errors/memerr"
	"rvmm.dev/rvmm/pkg/pgalloc"
	"rvmm.dev/rvmm/pkg/physmem"
	"rvmm.dev/rvmm/pkg/ring0"
	"rvmm.dev/rvmm/pkg/rvarch"
)

const (
	pteSize = rvarch.Size4K
	pmdSize = rvarch.Size2M
	pudSize = rvarch.Size1G
)

func addr(v uint64) rvarch.Address[rvarch.Unaligned] {
	return rvarch.New(v)
}

func newSv39(t *testing.T) (*RootPageTable[Sv39], *RuntimeAllocator) {
	t.Helper()
	a := NewRuntimeAllocator()
	t.Cleanup(func() { a.Close() })
	pt, err := New[Sv39](a)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return pt, a
}

type mapping struct {
	Start  uint64
	Size   rvarch.Granularity
	Target uint64
	Flags  Flags
}

func checkMappings(t *testing.T, pt AddressSpace, want []mapping) {
	t.Helper()
	var got []mapping
	pt.Walk(func(virt rvarch.Address[rvarch.Unaligned], pte PTE, g rvarch.Granularity) bool {
		got = append(got, mapping{virt.Uint64(), g, pte.Address(), pte.Flags()})
		return true
	})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mappings mismatch (-want +got):\n%s", diff)
	}
}

func TestZeroSATP(t *testing.T) {
	sv39, sv48, sv57 := Zero[Sv39](), Zero[Sv48](), Zero[Sv57]()
	for _, test := range []struct {
		name string
		got  uint64
		want uint64
	}{
		{"sv39", sv39.SATP(0), 8 << 60},
		{"sv48", sv48.SATP(0), 9 << 60},
		{"sv57", sv57.SATP(0), 10 << 60},
	} {
		if test.got != test.want {
			t.Errorf("%s: Zero().SATP(0) = %#x, want %#x", test.name, test.got, test.want)
		}
	}
	if _, ok := sv39.Translate(addr(0)); ok {
		t.Errorf("zero table translated an address")
	}
}

func TestSATPFields(t *testing.T) {
	pt, _ := newSv39(t)
	root := pt.RootAddress()
	want := uint64(8)<<60 | 0xbeef<<44 | root>>12
	if got := pt.SATP(0x1_beef); got != want {
		t.Errorf("SATP(0x1beef) = %#x, want %#x (ASID truncated to 16 bits)", got, want)
	}
}

func TestMakeSATP(t *testing.T) {
	if got, want := MakeSATP(Sv48{}, 7, 0x8020_1000), uint64(9)<<60|7<<44|0x80201; got != want {
		t.Errorf("MakeSATP(sv48, 7, 0x80201000) = %#x, want %#x", got, want)
	}
	expectPanic(t, "MakeSATP(misaligned root)", func() { MakeSATP(Sv39{}, 0, 0x8020_0800) })
	expectPanic(t, "MakeSATP(root beyond 56 bits)", func() { MakeSATP(Sv39{}, 0, 1<<56) })
}

func TestSpecByName(t *testing.T) {
	for name, want := range map[string]Spec{"sv39": Sv39{}, "SV48": Sv48{}, "Sv57": Sv57{}} {
		got, err := SpecByName(name)
		if err != nil || got != want {
			t.Errorf("SpecByName(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := SpecByName("sv32"); err == nil {
		t.Errorf("SpecByName(sv32) succeeded")
	}
}

func TestGigapageRoundTrip(t *testing.T) {
	for _, test := range []struct {
		virt, phys uint64
	}{
		{0, 0},
		{0x8000_0000, 0x8000_0000},
		{0x4000_0000, 0x1_c000_0000},
		{0xffff_ffff_c000_0000, 0x8000_0000},
		{0x3f_c000_0000, 0xff_ffff_c000_0000},
	} {
		t.Run(fmt.Sprintf("%#x", test.virt), func(t *testing.T) {
			pt, _ := newSv39(t)
			if err := pt.Map(addr(test.virt), addr(test.phys), pudSize, KernelFlags); err != nil {
				t.Fatalf("Map: %v", err)
			}
			for _, off := range []uint64{0, 0x123, 0x20_1000, pudSize.Bytes() - 1} {
				got, ok := pt.Translate(addr(test.virt + off))
				if !ok {
					t.Fatalf("Translate(%#x) failed", test.virt+off)
				}
				if got.PageNumber()>>18 != test.phys>>30 || got.Uint64()&(1<<30-1) != off {
					t.Errorf("Translate(%#x) = %v, want %#x", test.virt+off, got, test.phys+off)
				}
			}
		})
	}
}

func TestUnsupportedSizeDoesNotMutate(t *testing.T) {
	pt, a := newSv39(t)
	err := pt.Map(addr(0), addr(0), rvarch.Size512G, KernelFlags)
	if !errors.Is(err, memerr.ErrUnsupportedSize) {
		t.Fatalf("Map(512G) on sv39 = %v, want ErrUnsupportedSize", err)
	}
	if !errors.Is(err, memerr.ErrOutOfMemory) {
		t.Errorf("ErrUnsupportedSize should be an OutOfMemory kind, got %v", err)
	}
	if !pt.root.Empty() || a.Live() != 1 {
		t.Errorf("failed Map mutated the table: empty=%v live tables=%d", pt.root.Empty(), a.Live())
	}
	if err := pt.Map(addr(0), addr(0), rvarch.Granularity(0x3000), KernelFlags); !errors.Is(err, memerr.ErrUnsupportedSize) {
		t.Errorf("Map with a non page size = %v, want ErrUnsupportedSize", err)
	}

	// Sv48 has a fourth level and can express it.
	a48 := NewRuntimeAllocator()
	defer a48.Close()
	pt48, err := New[Sv48](a48)
	if err != nil {
		t.Fatalf("New[Sv48]: %v", err)
	}
	if err := pt48.Map(addr(0), addr(0), rvarch.Size512G, KernelFlags); err != nil {
		t.Errorf("Map(512G) on sv48: %v", err)
	}
}

func TestAlignmentBoundary(t *testing.T) {
	for _, g := range []rvarch.Granularity{pteSize, pmdSize, pudSize} {
		t.Run(g.String(), func(t *testing.T) {
			pt, _ := newSv39(t)
			short := g.Bytes() - 1
			if err := pt.Map(addr(short), addr(0), g, KernelFlags); !errors.Is(err, memerr.ErrAddressNotAligned) {
				t.Errorf("Map(virt=%#x) = %v, want ErrAddressNotAligned", short, err)
			}
			if err := pt.Map(addr(g.Bytes()), addr(short), g, KernelFlags); !errors.Is(err, memerr.ErrAddressNotAligned) {
				t.Errorf("Map(phys=%#x) = %v, want ErrAddressNotAligned", short, err)
			}
			if err := pt.Map(addr(g.Bytes()), addr(g.Bytes()), g, KernelFlags); err != nil {
				t.Errorf("Map(%#x) aligned: %v", g.Bytes(), err)
			}
		})
	}
}

func TestInvalidAddresses(t *testing.T) {
	pt, _ := newSv39(t)
	// Bit 38 set without the bits above it.
	if err := pt.Map(addr(1<<38), addr(0), pudSize, KernelFlags); !errors.Is(err, memerr.ErrInvalidAddress) {
		t.Errorf("non-canonical virt: %v, want ErrInvalidAddress", err)
	}
	if err := pt.Map(addr(0), addr(1<<56), pudSize, KernelFlags); !errors.Is(err, memerr.ErrInvalidAddress) {
		t.Errorf("57-bit phys: %v, want ErrInvalidAddress", err)
	}
	if _, ok := pt.Translate(addr(1 << 38)); ok {
		t.Errorf("Translate of a non-canonical address succeeded")
	}
}

func Test2MAnd4K(t *testing.T) {
	pt, a := newSv39(t)
	if err := pt.Map(addr(0x40_0000), addr(pteSize.Bytes()*42), pteSize, Read|Write); err != nil {
		t.Fatalf("Map 4K: %v", err)
	}
	if err := pt.Map(addr(0xffff_ffff_ffe0_0000), addr(pmdSize.Bytes()*47), pmdSize, Read); err != nil {
		t.Fatalf("Map 2M: %v", err)
	}
	checkMappings(t, pt, []mapping{
		{0x40_0000, pteSize, pteSize.Bytes() * 42, Valid | Read | Write},
		{0xffff_ffff_ffe0_0000, pmdSize, pmdSize.Bytes() * 47, Valid | Read},
	})
	// Root, plus a level 1 and a level 0 table for the page, plus a level 1
	// table for the 2M leaf.
	if got := a.Live(); got != 4 {
		t.Errorf("live tables = %d, want 4", got)
	}
	got, ok := pt.Translate(addr(0x40_0abc))
	if !ok || got.Uint64() != pteSize.Bytes()*42+0xabc {
		t.Errorf("Translate(0x400abc) = %v, %v", got, ok)
	}
}

func Test1GAnd4K(t *testing.T) {
	pt, _ := newSv39(t)
	if err := pt.Map(addr(0x40_0000), addr(pteSize.Bytes()*42), pteSize, Read|Write); err != nil {
		t.Fatalf("Map 4K: %v", err)
	}
	if err := pt.Map(addr(0x1_0000_0000), addr(pudSize.Bytes()*3), pudSize, Read|Execute); err != nil {
		t.Fatalf("Map 1G: %v", err)
	}
	checkMappings(t, pt, []mapping{
		{0x40_0000, pteSize, pteSize.Bytes() * 42, Valid | Read | Write},
		{0x1_0000_0000, pudSize, pudSize.Bytes() * 3, Valid | Read | Execute},
	})
}

func TestSplit4K(t *testing.T) {
	pt, _ := newSv39(t)
	for i := uint64(0); i < 4; i++ {
		if err := pt.Map(addr(0x40_0000+i*pteSize.Bytes()), addr(0x8000_0000+i*pteSize.Bytes()), pteSize, Read|Write); err != nil {
			t.Fatalf("Map page %d: %v", i, err)
		}
	}
	for i := uint64(0); i < 4; i++ {
		got, ok := pt.Translate(addr(0x40_0000 + i*pteSize.Bytes() + 8))
		if want := 0x8000_0000 + i*pteSize.Bytes() + 8; !ok || got.Uint64() != want {
			t.Errorf("page %d translates to %v, %v; want %#x", i, got, ok, want)
		}
	}
	if _, ok := pt.Translate(addr(0x40_4000)); ok {
		t.Errorf("unmapped neighbour translated")
	}
}

func TestConflicts(t *testing.T) {
	pt, _ := newSv39(t)
	if err := pt.Map(addr(0x20_0000), addr(0x8020_0000), pmdSize, Read|Write); err != nil {
		t.Fatalf("Map 2M: %v", err)
	}
	if err := pt.Map(addr(0x60_0000), addr(0x8060_0000), pteSize, Read); err != nil {
		t.Fatalf("Map 4K: %v", err)
	}

	for _, test := range []struct {
		name       string
		virt, phys uint64
		g          rvarch.Granularity
		flags      Flags
		wantErr    error
	}{
		{"identical remap", 0x20_0000, 0x8020_0000, pmdSize, Read | Write, nil},
		{"different target", 0x20_0000, 0x8040_0000, pmdSize, Read | Write, memerr.ErrMappingConflict},
		{"different flags", 0x20_0000, 0x8020_0000, pmdSize, Read, memerr.ErrMappingConflict},
		{"4K inside 2M", 0x20_1000, 0x9000_0000, pteSize, Read, memerr.ErrMappingConflict},
		{"2M over a table", 0x60_0000, 0x8060_0000, pmdSize, Read, memerr.ErrMappingConflict},
		{"1G over tables", 0, 0, pudSize, Read, memerr.ErrMappingConflict},
		{"4K next to 4K", 0x60_1000, 0x8060_1000, pteSize, Read, nil},
	} {
		t.Run(test.name, func(t *testing.T) {
			err := pt.Map(addr(test.virt), addr(test.phys), test.g, test.flags)
			if test.wantErr == nil && err != nil || test.wantErr != nil && !errors.Is(err, test.wantErr) {
				t.Errorf("Map(%#x, %#x, %v, %v) = %v, want %v", test.virt, test.phys, test.g, test.flags, err, test.wantErr)
			}
		})
	}
}

func TestBadLeafFlagsPanic(t *testing.T) {
	pt, _ := newSv39(t)
	expectPanic(t, "Map with no access", func() { pt.Map(addr(0), addr(0), pteSize, Valid|User) })
	expectPanic(t, "Map write-only", func() { pt.Map(addr(0), addr(0), pteSize, Write) })
}

func TestUseBeforeInit(t *testing.T) {
	pt := Zero[Sv39]()
	// Argument errors are reported first.
	if err := pt.Map(addr(0), addr(0), rvarch.Size512G, KernelFlags); !errors.Is(err, memerr.ErrUnsupportedSize) {
		t.Errorf("Map 512G = %v, want ErrUnsupportedSize", err)
	}
	if err := pt.Map(addr(0x1000), addr(0), pudSize, KernelFlags); !errors.Is(err, memerr.ErrAddressNotAligned) {
		t.Errorf("Map misaligned = %v, want ErrAddressNotAligned", err)
	}
	if err := pt.Map(addr(0), addr(0), pudSize, KernelFlags); !errors.Is(err, memerr.ErrUninitialized) {
		t.Errorf("Map = %v, want ErrUninitialized", err)
	}
	if err := pt.Unmap(addr(0), pudSize); !errors.Is(err, memerr.ErrUninitialized) {
		t.Errorf("Unmap = %v, want ErrUninitialized", err)
	}
	if _, ok := pt.Translate(addr(0)); ok {
		t.Errorf("Translate on an empty table succeeded")
	}
}

func TestUnmapFreesTables(t *testing.T) {
	pt, a := newSv39(t)
	if err := pt.Map(addr(0x40_0000), addr(0x8000_0000), pteSize, Read); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := pt.Map(addr(0x40_1000), addr(0x8000_1000), pteSize, Read); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if got := a.Live(); got != 3 {
		t.Fatalf("live tables after two 4K maps = %d, want 3", got)
	}

	if err := pt.Unmap(addr(0x40_0000), pteSize); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if got := a.Live(); got != 3 {
		t.Errorf("live tables with one page left = %d, want 3", got)
	}
	if _, ok := pt.Translate(addr(0x40_0000)); ok {
		t.Errorf("unmapped page still translates")
	}

	if err := pt.Unmap(addr(0x40_1000), pteSize); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if got := a.Live(); got != 1 {
		t.Errorf("live tables after unmapping everything = %d, want 1", got)
	}
	if !pt.root.Empty() {
		t.Errorf("root not empty after unmapping everything")
	}

	// Tables are reused.
	if err := pt.Map(addr(0x40_0000), addr(0x8000_0000), pteSize, Read); err != nil {
		t.Fatalf("Map after Unmap: %v", err)
	}
	checkMappings(t, pt, []mapping{{0x40_0000, pteSize, 0x8000_0000, Valid | Read}})
}

func TestUnmapNotMapped(t *testing.T) {
	pt, _ := newSv39(t)
	if err := pt.Map(addr(0x20_0000), addr(0x8020_0000), pmdSize, Read); err != nil {
		t.Fatalf("Map: %v", err)
	}
	for _, test := range []struct {
		virt uint64
		g    rvarch.Granularity
	}{
		{0x20_1000, pteSize},   // Inside the 2M leaf.
		{0x40_0000, pmdSize},   // Empty slot next to it.
		{0x8000_0000, pudSize}, // Nothing at all.
		{0, pudSize},           // A table, not a leaf.
	} {
		if err := pt.Unmap(addr(test.virt), test.g); !errors.Is(err, memerr.ErrNotMapped) {
			t.Errorf("Unmap(%#x, %v) = %v, want ErrNotMapped", test.virt, test.g, err)
		}
	}
}

func TestTranslateMalformedEntries(t *testing.T) {
	pt, _ := newSv39(t)

	// Write-only leaf at level 2.
	pt.root[0].Store(MakePTE(0, Valid|Write))
	if _, ok := pt.Translate(addr(0x1000)); ok {
		t.Errorf("W-without-R entry translated")
	}

	// 1G leaf whose PPN is only 2M aligned.
	pt.root[1].Store(MakePTE(0x8020_0000>>12, Valid|Read))
	if _, ok := pt.Translate(addr(0x4000_0000)); ok {
		t.Errorf("misaligned gigapage translated")
	}

	// Invalid entry.
	if _, ok := pt.Translate(addr(0x8000_0000)); ok {
		t.Errorf("invalid entry translated")
	}
}

func TestMapRange(t *testing.T) {
	pt, _ := newSv39(t)
	length := pudSize.Bytes() + pmdSize.Bytes() + pteSize.Bytes()
	if err := pt.MapRange(addr(0x4000_0000), addr(0x8000_0000), length, pudSize, KernelFlags); err != nil {
		t.Fatalf("MapRange: %v", err)
	}
	checkMappings(t, pt, []mapping{
		{0x4000_0000, pudSize, 0x8000_0000, KernelFlags},
		{0x8000_0000, pmdSize, 0xc000_0000, KernelFlags},
		{0x8020_0000, pteSize, 0xc020_0000, KernelFlags},
	})

	// Misaligned physical start forces 4K leaves throughout.
	pt2, _ := newSv39(t)
	if err := pt2.MapRange(addr(0x20_0000), addr(0x8000_1000), 3*pteSize.Bytes(), pudSize, Read); err != nil {
		t.Fatalf("MapRange: %v", err)
	}
	checkMappings(t, pt2, []mapping{
		{0x20_0000, pteSize, 0x8000_1000, Valid | Read},
		{0x20_1000, pteSize, 0x8000_2000, Valid | Read},
		{0x20_2000, pteSize, 0x8000_3000, Valid | Read},
	})

	if err := pt2.MapRange(addr(0), addr(0), 0x800, pudSize, Read); !errors.Is(err, memerr.ErrAddressNotAligned) {
		t.Errorf("MapRange of a partial page = %v, want ErrAddressNotAligned", err)
	}
}

func TestActivate(t *testing.T) {
	pt, _ := newSv39(t)
	h := ring0.NewHart(0)
	expectPanic(t, "Activate of an empty table", func() { pt.Activate(h, 0) })
	if len(h.Events()) != 0 {
		t.Errorf("failed Activate touched the hart: %v", h.Events())
	}

	if err := pt.Map(addr(0x8000_0000), addr(0x8000_0000), pudSize, KernelFlags); err != nil {
		t.Fatalf("Map: %v", err)
	}
	pt.Activate(h, 3)
	want := []ring0.Event{
		{Kind: ring0.WriteSATP, Value: pt.SATP(3)},
		{Kind: ring0.SFenceVMA},
	}
	if diff := cmp.Diff(want, h.Events()); diff != "" {
		t.Errorf("hart events mismatch (-want +got):\n%s", diff)
	}
}

// failingAllocator runs out after a fixed number of tables.
type failingAllocator struct {
	*RuntimeAllocator
	left int
}

func (f *failingAllocator) NewTable() (*PageTable, error) {
	if f.left == 0 {
		return nil, memerr.ErrOutOfMemory
	}
	f.left--
	return f.RuntimeAllocator.NewTable()
}

func TestMapOutOfMemory(t *testing.T) {
	fa := &failingAllocator{RuntimeAllocator: NewRuntimeAllocator(), left: 2}
	defer fa.Close()
	pt, err := New[Sv39](fa)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Needs two more tables, only one left.
	if err := pt.Map(addr(0x1000), addr(0x1000), pteSize, Read); !errors.Is(err, memerr.ErrOutOfMemory) {
		t.Errorf("Map = %v, want ErrOutOfMemory", err)
	}
	// The level 1 table taken before the failure is given back.
	if !pt.root.Empty() {
		t.Errorf("root has entries after a failed Map")
	}
	if got := fa.Live(); got != 1 {
		t.Errorf("live tables after a failed Map = %d, want 1", got)
	}
	if _, ok := pt.Translate(addr(0x1000)); ok {
		t.Errorf("failed Map left a translation")
	}
	// A gigapage needs none.
	if err := pt.Map(addr(0x4000_0000), addr(0x4000_0000), pudSize, Read); err != nil {
		t.Errorf("Map 1G: %v", err)
	}

	// With enough tables the same request goes through.
	fa.left = 2
	if err := pt.Map(addr(0x1000), addr(0x1000), pteSize, Read); err != nil {
		t.Fatalf("Map after refill: %v", err)
	}
	checkMappings(t, pt, []mapping{
		{0x1000, pteSize, 0x1000, Valid | Read},
		{0x4000_0000, pudSize, 0x4000_0000, Valid | Read},
	})
}

func TestMapOutOfMemoryKeepsSharedTables(t *testing.T) {
	fa := &failingAllocator{RuntimeAllocator: NewRuntimeAllocator(), left: 3}
	defer fa.Close()
	pt, err := New[Sv39](fa)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := pt.Map(addr(0x20_0000), addr(0x8020_0000), pmdSize, Read); err != nil {
		t.Fatalf("Map 2M: %v", err)
	}
	// The level 1 table exists already; the level 0 table cannot be had.
	fa.left = 0
	if err := pt.Map(addr(0x40_0000), addr(0x8040_0000), pteSize, Read); !errors.Is(err, memerr.ErrOutOfMemory) {
		t.Errorf("Map = %v, want ErrOutOfMemory", err)
	}
	if got := fa.Live(); got != 2 {
		t.Errorf("live tables = %d, want 2", got)
	}
	checkMappings(t, pt, []mapping{{0x20_0000, pmdSize, 0x8020_0000, Valid | Read}})
}

func TestNewAddressSpace(t *testing.T) {
	for _, s := range []Spec{Sv39{}, Sv48{}, Sv57{}} {
		t.Run(s.Name(), func(t *testing.T) {
			a := NewRuntimeAllocator()
			defer a.Close()
			as, err := NewAddressSpace(s, a)
			if err != nil {
				t.Fatalf("NewAddressSpace: %v", err)
			}
			if as.Spec() != s || as.Levels() != s.Levels() {
				t.Errorf("got spec %v with %d levels", as.Spec(), as.Levels())
			}
			// The top of the canonical lower half.
			top := uint64(1)<<(rvarch.VABits(s.Levels())-1) - pteSize.Bytes()
			if err := as.Map(addr(top), addr(0x8000_0000), pteSize, Read); err != nil {
				t.Fatalf("Map(%#x): %v", top, err)
			}
			checkMappings(t, as, []mapping{{top, pteSize, 0x8000_0000, Valid | Read}})
		})
	}
}

func TestFrameAllocatorPTEs(t *testing.T) {
	const base, size = 0x8000_0000, 4 << 20
	arena, err := physmem.NewArena(base, size)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer arena.Close()
	frames := pgalloc.New()
	if err := frames.Init(base, size); err != nil {
		t.Fatalf("Init: %v", err)
	}
	a := NewFrameAllocatorPTEs(frames, arena)

	pt, err := New[Sv39](a)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if root := pt.RootAddress(); root < base || root >= base+size {
		t.Errorf("root table at %#x, outside physical memory", root)
	}
	if err := pt.Map(addr(0x1000), addr(0x8020_0000), pteSize, Read|Write); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if got := frames.Stats().Frames; got != 3 {
		t.Errorf("frames in use = %d, want 3", got)
	}
	got, ok := pt.Translate(addr(0x1010))
	if !ok || got.Uint64() != 0x8020_0010 {
		t.Errorf("Translate(0x1010) = %v, %v", got, ok)
	}

	// The entry is visible in simulated physical memory.
	b, err := arena.Bytes(pt.RootAddress(), 8)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if b[0]&byte(Valid) == 0 {
		t.Errorf("root entry 0 not valid in physical memory: %x", b)
	}

	if err := pt.Unmap(addr(0x1000), pteSize); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if got := frames.Stats().Frames; got != 1 || a.Live() != 1 {
		t.Errorf("frames in use after Unmap = %d (live tables %d), want 1", got, a.Live())
	}
}

func TestPointerOutsideTableMemory(t *testing.T) {
	const base, size = 0x8000_0000, 4 << 20
	arena, err := physmem.NewArena(base, size)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer arena.Close()
	frames := pgalloc.New()
	if err := frames.Init(base, size); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ra := NewRuntimeAllocator()
	defer ra.Close()

	for _, test := range []struct {
		name string
		a    Allocator
	}{
		{"runtime", ra},
		{"frames", NewFrameAllocatorPTEs(frames, arena)},
	} {
		t.Run(test.name, func(t *testing.T) {
			pt, err := New[Sv39](test.a)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			// A pointer entry for [2G, 3G) naming memory past the arena.
			pt.root[2].Store(MakePTE((base+size)>>12, Valid))

			if got, ok := pt.Translate(addr(0x8000_1234)); ok {
				t.Errorf("Translate through a stray pointer = %v", got)
			}
			if err := pt.Map(addr(0x8000_1000), addr(0x8000_1000), pteSize, Read); !errors.Is(err, memerr.ErrInvalidAddress) {
				t.Errorf("Map below a stray pointer = %v, want ErrInvalidAddress", err)
			}
			if err := pt.Unmap(addr(0x8000_1000), pteSize); !errors.Is(err, memerr.ErrInvalidAddress) {
				t.Errorf("Unmap below a stray pointer = %v, want ErrInvalidAddress", err)
			}
			checkMappings(t, pt, nil)

			// Neighbouring slots still work.
			if err := pt.Map(addr(0x4000_0000), addr(0x4000_0000), pudSize, Read); err != nil {
				t.Fatalf("Map 1G: %v", err)
			}
			checkMappings(t, pt, []mapping{{0x4000_0000, pudSize, 0x4000_0000, Valid | Read}})
		})
	}
}
