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

package physmem

import (
	"errors"
	"testing"
	"unsafe"

	"rvmm.dev/rvmm/pkg/errors/memerr"
)

const base = 0x8000_0000

func newArena(t *testing.T, size uint64) *Arena {
	t.Helper()
	a, err := NewArena(base, size)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return a
}

func TestPointerRoundTrip(t *testing.T) {
	a := newArena(t, 4<<20)
	for _, pa := range []uint64{base, base + 0x1234, base + 4<<20 - 1} {
		p := a.Pointer(pa)
		if got := a.Physical(p); got != pa {
			t.Errorf("Physical(Pointer(%#x)) = %#x", pa, got)
		}
	}
}

func TestWritesAreVisible(t *testing.T) {
	a := newArena(t, 1<<20)
	*(*uint64)(a.Pointer(base + 0x1000)) = 0xdead_beef
	b, err := a.Bytes(base+0x1000, 8)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if b[0] != 0xef || b[3] != 0xde {
		t.Errorf("Bytes = %x, want little-endian 0xdeadbeef", b)
	}
	if err := a.Zero(base+0x1000, 8); err != nil {
		t.Fatalf("Zero: %v", err)
	}
	if got := *(*uint64)(a.Pointer(base + 0x1000)); got != 0 {
		t.Errorf("after Zero got %#x", got)
	}
}

func TestBounds(t *testing.T) {
	a := newArena(t, 1<<20)
	for _, tc := range []struct {
		name  string
		pa, n uint64
	}{
		{"below", base - 1, 1},
		{"above", base + 1<<20, 1},
		{"straddles end", base + 1<<20 - 4, 8},
		{"wraps", base, ^uint64(0)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := a.Bytes(tc.pa, tc.n); !errors.Is(err, memerr.ErrInvalidAddress) {
				t.Errorf("Bytes(%#x, %#x) = %v, want ErrInvalidAddress", tc.pa, tc.n, err)
			}
		})
	}

	defer func() {
		if recover() == nil {
			t.Errorf("Pointer outside the arena did not panic")
		}
	}()
	a.Pointer(base + 1<<20)
}

func TestPhysicalForeignPointerPanics(t *testing.T) {
	a := newArena(t, 1<<20)
	var x uint64
	defer func() {
		if recover() == nil {
			t.Errorf("Physical of a foreign pointer did not panic")
		}
	}()
	a.Physical(unsafe.Pointer(&x))
}

func TestNewArenaErrors(t *testing.T) {
	if _, err := NewArena(base+1, 1<<20); !errors.Is(err, memerr.ErrAddressNotAligned) {
		t.Errorf("unaligned base: got %v, want ErrAddressNotAligned", err)
	}
	if _, err := NewArena(base, 0); !errors.Is(err, memerr.ErrAddressNotAligned) {
		t.Errorf("empty arena: got %v, want ErrAddressNotAligned", err)
	}
	if _, err := NewArena(1<<56-0x1000, 0x2000); !errors.Is(err, memerr.ErrInvalidAddress) {
		t.Errorf("arena beyond 56 bits: got %v, want ErrInvalidAddress", err)
	}
}
