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

package rvarch

import (
	"fmt"

	"rvmm.dev/rvmm/pkg/errors/memerr"
)

// Alignment is a compile-time tag naming the alignment an Address was
// checked against.
type Alignment interface {
	// AlignSize returns the alignment in bytes.
	AlignSize() uint64
}

// Unaligned tags an address that carries no alignment guarantee.
type Unaligned struct{}

// AlignSize implements Alignment.AlignSize.
func (Unaligned) AlignSize() uint64 { return 1 }

// Align4K tags a 4K-aligned address.
type Align4K struct{}

// AlignSize implements Alignment.AlignSize.
func (Align4K) AlignSize() uint64 { return Size4K.Bytes() }

// Align2M tags a 2M-aligned address.
type Align2M struct{}

// AlignSize implements Alignment.AlignSize.
func (Align2M) AlignSize() uint64 { return Size2M.Bytes() }

// Align1G tags a 1G-aligned address.
type Align1G struct{}

// AlignSize implements Alignment.AlignSize.
func (Align1G) AlignSize() uint64 { return Size1G.Bytes() }

// Align512G tags a 512G-aligned address.
type Align512G struct{}

// AlignSize implements Alignment.AlignSize.
func (Align512G) AlignSize() uint64 { return Size512G.Bytes() }

// Address is a physical or virtual address whose type records the alignment
// it is known to have. Values with a stronger tag than Unaligned are only
// produced by CheckAlignment (or by code that derives them from an aligned
// source, such as the frame allocator), so holding an Address[Align1G] is
// proof that the low 30 bits are zero.
//
// Addresses are immutable values.
type Address[A Alignment] struct {
	v uint64
}

// New returns an unaligned address. It never fails.
func New(v uint64) Address[Unaligned] {
	return Address[Unaligned]{v}
}

// Uint64 returns the raw value.
func (a Address[A]) Uint64() uint64 {
	return a.v
}

// Unaligned drops the alignment tag. Weakening a guarantee is always safe.
func (a Address[A]) Unaligned() Address[Unaligned] {
	return Address[Unaligned]{a.v}
}

// Offset returns the offset within the 4K page, bits [11:0].
func (a Address[A]) Offset() uint64 {
	return a.v & (PageSize - 1)
}

// PageNumber returns the address shifted right by PageShift.
func (a Address[A]) PageNumber() uint64 {
	return a.v >> PageShift
}

// PN returns the 9-bit page number field for the given level: bits
// [20:12] for level 0, [29:21] for level 1, [38:30] for level 2 and so on.
// The level must be below MaxLevels; anything else is a programming error
// and panics.
func (a Address[A]) PN(l Level) uint64 {
	l.mustValid()
	return (a.v >> l.Shift()) & (EntriesPerTable - 1)
}

// AlignedTo returns true if a is a multiple of g.
func (a Address[A]) AlignedTo(g Granularity) bool {
	return a.v&(g.Bytes()-1) == 0
}

// String implements fmt.Stringer.String.
func (a Address[A]) String() string {
	return fmt.Sprintf("%#x", a.v)
}

// IsAligned returns true if a satisfies alignment C.
func IsAligned[C Alignment, A Alignment](a Address[A]) bool {
	var c C
	return a.v&(c.AlignSize()-1) == 0
}

// CheckAlignment re-tags a with alignment C, or fails with
// memerr.ErrAddressNotAligned if the low bits required to be zero by C are
// not.
func CheckAlignment[C Alignment, A Alignment](a Address[A]) (Address[C], error) {
	if !IsAligned[C](a) {
		var c C
		return Address[C]{}, fmt.Errorf("%#x is not %#x-aligned: %w", a.v, c.AlignSize(), memerr.ErrAddressNotAligned)
	}
	return Address[C]{a.v}, nil
}

// MustAlign is like CheckAlignment, but panics on failure. It is meant for
// constants and values whose alignment was established elsewhere.
func MustAlign[C Alignment, A Alignment](a Address[A]) Address[C] {
	c, err := CheckAlignment[C](a)
	if err != nil {
		panic(err)
	}
	return c
}

// RoundDown returns a rounded down to a multiple of g.
func (a Address[A]) RoundDown(g Granularity) Address[Unaligned] {
	return Address[Unaligned]{a.v &^ (g.Bytes() - 1)}
}

// RoundUp returns a rounded up to a multiple of g. ok is true iff rounding up
// did not wrap around.
func (a Address[A]) RoundUp(g Granularity) (addr Address[Unaligned], ok bool) {
	addr = Address[Unaligned]{a.v + g.Bytes() - 1}.RoundDown(g)
	ok = addr.v >= a.v
	return
}

// Add returns a+off, dropping the alignment tag.
func (a Address[A]) Add(off uint64) Address[Unaligned] {
	return Address[Unaligned]{a.v + off}
}
