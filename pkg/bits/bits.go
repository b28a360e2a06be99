// Copyright 2018 Google LLC
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

// Package bits contains helpers for the bit fields and power-of-two
// arithmetic that page table entries, addresses and allocator size classes
// are built from.
package bits

import "math/bits"

// IsOn64 returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn64(mask, bits uint64) bool {
	return mask&bits == bits
}

// IsAnyOn64 returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn64(mask, bits uint64) bool {
	return mask&bits != 0
}

// Mask64 returns a uint64 with all of the given bits set.
func Mask64(is ...int) uint64 {
	ret := uint64(0)
	for _, i := range is {
		ret |= MaskOf64(i)
	}
	return ret
}

// MaskOf64 is like Mask64, but sets only a single bit (more efficiently).
func MaskOf64(i int) uint64 {
	return uint64(1) << uint64(i)
}

// FieldMask64 returns a mask of width bits starting at bit shift.
func FieldMask64(shift, width uint) uint64 {
	if width >= 64 {
		return ^uint64(0) << shift
	}
	return ((uint64(1) << width) - 1) << shift
}

// Field64 extracts the width-bit field at shift from v.
func Field64(v uint64, shift, width uint) uint64 {
	return (v & FieldMask64(shift, width)) >> shift
}

// SetField64 replaces the width-bit field at shift in v with f. Bits of f
// that do not fit the field are discarded; callers that care must check
// FitsField64 first.
func SetField64(v uint64, shift, width uint, f uint64) uint64 {
	m := FieldMask64(shift, width)
	return (v &^ m) | ((f << shift) & m)
}

// FitsField64 returns true if f can be stored in a width-bit field.
func FitsField64(f uint64, width uint) bool {
	return width >= 64 || f>>width == 0
}

// TrailingZeros64 returns the number of trailing zero bits in x; the result
// is 64 for x == 0.
func TrailingZeros64(x uint64) int {
	return bits.TrailingZeros64(x)
}

// MostSignificantOne64 returns the index of the most significant 1 bit in x.
// If x is 0, MostSignificantOne64 returns 64.
func MostSignificantOne64(x uint64) int {
	if x == 0 {
		return 64
	}
	return 63 - bits.LeadingZeros64(x)
}

// IsPowerOfTwo64 returns true if v is a power of two.
func IsPowerOfTwo64(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// Log2Ceil64 returns the smallest n such that 1<<n >= v. v must be non-zero.
func Log2Ceil64(v uint64) int {
	if v <= 1 {
		return 0
	}
	return 64 - bits.LeadingZeros64(v-1)
}

// AlignDown64 rounds v down to a multiple of align, which must be a power of
// two.
func AlignDown64(v, align uint64) uint64 {
	return v &^ (align - 1)
}

// AlignUp64 rounds v up to a multiple of align, which must be a power of two.
// ok is false iff rounding up wrapped around.
func AlignUp64(v, align uint64) (uint64, bool) {
	r := AlignDown64(v+align-1, align)
	return r, r >= v
}

// ForEachSetBit64 calls f once for each set bit in x, with argument i equal
// to the set bit's index.
func ForEachSetBit64(x uint64, f func(i int)) {
	for x != 0 {
		i := TrailingZeros64(x)
		f(i)
		x &^= MaskOf64(i)
	}
}
