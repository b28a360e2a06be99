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
	"math/rand"
	"testing"

	"rvmm.dev/rvmm/pkg/rvarch"
)

func TestMakePTE(t *testing.T) {
	p := MakePTE(0x80000, Valid|Read|Write)
	if got := p.Address(); got != 0x8000_0000 {
		t.Errorf("Address() = %#x, want 0x80000000", got)
	}
	if got := p.Flags(); got != Valid|Read|Write {
		t.Errorf("Flags() = %v, want VRW", got)
	}
	if got := uint64(p); got != 0x80000<<10|0x7 {
		t.Errorf("raw = %#x, want %#x", got, uint64(0x80000<<10|0x7))
	}
	if !p.Valid() || !p.IsLeaf() {
		t.Errorf("valid=%v leaf=%v, want both", p.Valid(), p.IsLeaf())
	}
	var zero PTE
	if zero.Valid() || zero.IsLeaf() {
		t.Errorf("zero entry is valid or leaf")
	}
	if ptr := MakePTE(0x1234, Valid); ptr.IsLeaf() {
		t.Errorf("pointer entry %v reported as leaf", ptr)
	}
}

func TestPPNFields(t *testing.T) {
	// PPN[0]=1, PPN[1]=2, PPN[2]=3, PPN[3]=4, PPN[4]=5.
	ppn := uint64(1) | 2<<9 | 3<<18 | 4<<27 | 5<<36
	p := MakePTE(ppn, Valid)
	for l := rvarch.Level(0); l < rvarch.MaxLevels; l++ {
		if got, want := p.PPN(l), uint64(l)+1; got != want {
			t.Errorf("PPN(%d) = %d, want %d", l, got, want)
		}
	}
	if got := p.PhysPageNumber(); got != ppn {
		t.Errorf("PhysPageNumber() = %#x, want %#x", got, ppn)
	}
}

func TestPPNReinsertIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		e := MakePTE(rng.Uint64()&(1<<ppnBits-1), Flags(rng.Uint64())&allFlags|Valid)
		e.SetRSW(rng.Uint64() & 3)
		for l := rvarch.Level(0); l < rvarch.MaxLevels; l++ {
			got := e
			got.SetPPN(l, e.PPN(l))
			if got != e {
				t.Fatalf("SetPPN(%d, PPN(%d)) changed %#x to %#x", l, l, uint64(e), uint64(got))
			}
		}
	}
}

func TestSetPPNTouchesOneField(t *testing.T) {
	e := MakePTE(1<<ppnBits-1, allFlags)
	e.SetRSW(3)
	e.SetPPN(2, 0)
	want := PTE(uint64(MakePTE(1<<ppnBits-1, allFlags)) &^ (0x1ff << 28) | 3<<8)
	if e != want {
		t.Errorf("SetPPN(2, 0) = %#x, want %#x", uint64(e), uint64(want))
	}
	if e.Flags() != allFlags || e.RSW() != 3 {
		t.Errorf("SetPPN disturbed flags %v or RSW %d", e.Flags(), e.RSW())
	}
}

func TestSetFlagsPreservesPPN(t *testing.T) {
	e := MakePTE(0xabcde, Valid)
	e.SetFlags(KernelFlags)
	if e.PhysPageNumber() != 0xabcde || e.Flags() != KernelFlags {
		t.Errorf("after SetFlags: ppn=%#x flags=%v", e.PhysPageNumber(), e.Flags())
	}
	e.SetFlags(0)
	if e.Valid() || e.PhysPageNumber() != 0xabcde {
		t.Errorf("after clearing flags: %#x", uint64(e))
	}
}

func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", name)
		}
	}()
	fn()
}

func TestFieldOverflowPanics(t *testing.T) {
	var e PTE
	expectPanic(t, "SetPPN(0, 512)", func() { e.SetPPN(0, 512) })
	expectPanic(t, "SetPPN(3, 512)", func() { e.SetPPN(3, 512) })
	expectPanic(t, "SetPPN(4, 256)", func() { e.SetPPN(4, 256) })
	expectPanic(t, "SetPPN(5, 0)", func() { e.SetPPN(5, 0) })
	expectPanic(t, "SetPhysPageNumber(1<<44)", func() { e.SetPhysPageNumber(1 << 44) })
	expectPanic(t, "SetFlags(0x100)", func() { e.SetFlags(0x100) })
	expectPanic(t, "SetRSW(4)", func() { e.SetRSW(4) })
	if e != 0 {
		t.Errorf("entry modified by failed mutators: %#x", uint64(e))
	}
	// The widest legal top field.
	e.SetPPN(4, 255)
	if got := e.PhysPageNumber(); got != 255<<36 {
		t.Errorf("PhysPageNumber() = %#x after SetPPN(4, 255)", got)
	}
}

func TestReserved(t *testing.T) {
	for _, test := range []struct {
		flags Flags
		want  bool
	}{
		{Valid | Write, true},
		{Valid | Write | Execute, true},
		{Valid | Read | Write, false},
		{Valid | Read, false},
		{Valid, false},
	} {
		if got := MakePTE(1, test.flags).Reserved(); got != test.want {
			t.Errorf("Reserved(%v) = %v, want %v", test.flags, got, test.want)
		}
	}
}

func TestFlagsString(t *testing.T) {
	for f, want := range map[Flags]string{
		0:                            "--------",
		Valid:                        "-------V",
		KernelFlags:                  "DA--XWRV",
		Valid | Read | User | Global: "--GU--RV",
	} {
		if got := f.String(); got != want {
			t.Errorf("Flags(%#x).String() = %q, want %q", uint64(f), got, want)
		}
	}
}

func TestLoadStore(t *testing.T) {
	var table PageTable
	table[3].Store(MakePTE(42, Valid|Read))
	if got := table[3].Load(); got.PhysPageNumber() != 42 || got.Flags() != Valid|Read {
		t.Errorf("Load() = %v", got)
	}
	if table.Empty() {
		t.Errorf("table with a valid entry reported empty")
	}
	table[3].Store(0)
	if !table.Empty() {
		t.Errorf("cleared table not empty")
	}
}
