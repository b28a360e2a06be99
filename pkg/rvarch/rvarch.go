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

// Package rvarch describes the RISC-V virtual memory architecture: page and
// superpage sizes, the virtual address layout shared by the Sv39, Sv48 and
// Sv57 translation schemes, and address values tagged with the alignment they
// were checked against.
package rvarch

import "fmt"

const (
	// PageShift is the binary log of the base page size.
	PageShift = 12

	// PageSize is the base page size.
	PageSize = 1 << PageShift

	// LevelBits is the number of virtual address bits translated by one
	// level of the page table.
	LevelBits = 9

	// EntriesPerTable is the number of entries in one page table.
	EntriesPerTable = 1 << LevelBits

	// MaxLevels is the number of levels of the widest scheme (Sv57).
	MaxLevels = 5

	// PhysAddrBits is the width of a physical address.
	PhysAddrBits = 56
)

// Level is a page table level. Level 0 holds 4K leaves; the top level of an
// N-level scheme is N-1.
type Level int

// Shift returns the address bit at which this level's page number starts.
func (l Level) Shift() uint {
	return PageShift + uint(l)*LevelBits
}

// Valid returns true if the level exists in some supported scheme.
func (l Level) Valid() bool {
	return l >= 0 && l < MaxLevels
}

func (l Level) mustValid() {
	if !l.Valid() {
		panic(fmt.Sprintf("page table level %d out of range [0, %d)", int(l), MaxLevels))
	}
}

// Granularity is the size of memory covered by one leaf entry.
type Granularity uint64

// Leaf sizes. The frame allocator's size classes use the same values, so an
// allocated frame can always be mapped by a single leaf of its class.
const (
	Size4K   Granularity = PageSize
	Size2M   Granularity = Size4K << LevelBits
	Size1G   Granularity = Size2M << LevelBits
	Size512G Granularity = Size1G << LevelBits
)

// GranularityForLevel returns the leaf size at the given level.
func GranularityForLevel(l Level) Granularity {
	l.mustValid()
	return Granularity(uint64(1) << l.Shift())
}

// Bytes returns the size in bytes.
func (g Granularity) Bytes() uint64 {
	return uint64(g)
}

// Level returns the page table level that holds leaves of this size. It
// panics if g is not one of the page sizes.
func (g Granularity) Level() Level {
	switch g {
	case Size4K:
		return 0
	case Size2M:
		return 1
	case Size1G:
		return 2
	case Size512G:
		return 3
	default:
		panic(fmt.Sprintf("invalid granularity %#x", uint64(g)))
	}
}

// Valid returns true if g is one of the page sizes.
func (g Granularity) Valid() bool {
	switch g {
	case Size4K, Size2M, Size1G, Size512G:
		return true
	}
	return false
}

// String implements fmt.Stringer.String.
func (g Granularity) String() string {
	switch g {
	case Size4K:
		return "4K"
	case Size2M:
		return "2M"
	case Size1G:
		return "1G"
	case Size512G:
		return "512G"
	default:
		return fmt.Sprintf("%#x", uint64(g))
	}
}

// ParseGranularity parses the names produced by String.
func ParseGranularity(s string) (Granularity, error) {
	for _, g := range []Granularity{Size4K, Size2M, Size1G, Size512G} {
		if g.String() == s {
			return g, nil
		}
	}
	return 0, fmt.Errorf("invalid page size %q, want one of 4K, 2M, 1G, 512G", s)
}

// VABits returns the width of a virtual address under a levels-deep scheme.
func VABits(levels int) uint {
	return PageShift + uint(levels)*LevelBits
}

// Canonical returns true if va is valid under a levels-deep scheme: bits
// above the top translated bit must all equal that bit.
func Canonical(va uint64, levels int) bool {
	bits := VABits(levels)
	if bits >= 64 {
		return true
	}
	top := int64(va) >> (bits - 1)
	return top == 0 || top == -1
}
