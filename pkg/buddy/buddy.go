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

// Package buddy implements a binary buddy allocator over an abstract address
// range.
//
// The heap never touches the memory it manages: free blocks are tracked in
// ordered sets, one per order, keyed by block address. This lets it manage
// physical memory that is not (yet) mapped, which is exactly the situation of
// a frame allocator during boot.
//
// A Heap is not synchronized; callers provide locking.
package buddy

import (
	"fmt"

	"github.com/google/btree"
	"rvmm.dev/rvmm/pkg/bits"
	"rvmm.dev/rvmm/pkg/errors/memerr"
)

const (
	// Orders is the number of block orders. The largest block is
	// 1<<(Orders-1) bytes.
	Orders = 32

	// MinOrder is the smallest block order; blocks are at least one machine
	// word.
	MinOrder = 3

	minBlock = uint64(1) << MinOrder
	maxBlock = uint64(1) << (Orders - 1)

	// btreeDegree is the degree of the per-order free sets.
	btreeDegree = 8
)

// Stats describes heap usage.
type Stats struct {
	// Total is the number of bytes added with AddRegion.
	Total uint64

	// Allocated is the number of bytes held by allocated blocks, including
	// rounding up to block sizes.
	Allocated uint64

	// User is the number of bytes requested by callers.
	User uint64
}

// Heap is a buddy allocator.
//
// Invariant: every address in free[o] is a multiple of 1<<o, and no two free
// blocks overlap.
type Heap struct {
	free  [Orders]*btree.BTreeG[uint64]
	stats Stats
}

// New returns an empty heap.
func New() *Heap {
	h := &Heap{}
	for i := range h.free {
		h.free[i] = btree.NewG[uint64](btreeDegree, func(a, b uint64) bool { return a < b })
	}
	return h
}

// AddRegion adds [start, end) to the heap. The range is trimmed to MinOrder
// alignment and carved into the largest naturally aligned blocks that fit.
// The range must not overlap memory already managed by the heap.
func (h *Heap) AddRegion(start, end uint64) {
	start, ok := bits.AlignUp64(start, minBlock)
	if !ok {
		return
	}
	end = bits.AlignDown64(end, minBlock)
	for start < end && end-start >= minBlock {
		size := start & -start
		if size == 0 || size > maxBlock {
			size = maxBlock
		}
		if fit := uint64(1) << bits.MostSignificantOne64(end-start); size > fit {
			size = fit
		}
		h.free[bits.TrailingZeros64(size)].ReplaceOrInsert(start)
		h.stats.Total += size
		start += size
	}
}

// blockOrder returns the order of the block that serves a size/align
// request, or an error if the pair is not a valid layout.
func blockOrder(size, align uint64) (int, error) {
	if size == 0 {
		return 0, fmt.Errorf("zero-sized request: %w", memerr.ErrLayout)
	}
	if !bits.IsPowerOfTwo64(align) {
		return 0, fmt.Errorf("alignment %#x is not a power of two: %w", align, memerr.ErrLayout)
	}
	if _, ok := bits.AlignUp64(size, align); !ok || size > 1<<63 {
		return 0, fmt.Errorf("size %#x overflows when aligned to %#x: %w", size, align, memerr.ErrLayout)
	}
	order := bits.Log2Ceil64(size)
	if a := bits.TrailingZeros64(align); a > order {
		order = a
	}
	if order < MinOrder {
		order = MinOrder
	}
	return order, nil
}

// Alloc returns the address of a block of at least size bytes aligned to
// align. It fails with memerr.ErrLayout for an invalid pair, and with
// memerr.ErrOutOfMemory when no free block is large enough.
func (h *Heap) Alloc(size, align uint64) (uint64, error) {
	order, err := blockOrder(size, align)
	if err != nil {
		return 0, err
	}
	if order >= Orders {
		return 0, fmt.Errorf("request of %#x bytes exceeds the largest block: %w", size, memerr.ErrOutOfMemory)
	}
	for i := order; i < Orders; i++ {
		addr, ok := h.free[i].DeleteMin()
		if !ok {
			continue
		}
		// Split down, returning the upper halves to the free sets.
		for j := i; j > order; j-- {
			h.free[j-1].ReplaceOrInsert(addr + uint64(1)<<(j-1))
		}
		h.stats.Allocated += uint64(1) << order
		h.stats.User += size
		return addr, nil
	}
	return 0, fmt.Errorf("no free block of order %d for %#x bytes: %w", order, size, memerr.ErrOutOfMemory)
}

// Dealloc returns a block obtained from Alloc with the same size and align.
// Freeing a block that is not allocated corrupts the heap; the checks here
// catch the common cases and panic.
func (h *Heap) Dealloc(addr, size, align uint64) {
	order, err := blockOrder(size, align)
	if err != nil {
		panic(fmt.Sprintf("Dealloc(%#x, %#x, %#x): %v", addr, size, align, err))
	}
	if addr&(uint64(1)<<order-1) != 0 {
		panic(fmt.Sprintf("Dealloc(%#x): address is not aligned to its order %d", addr, order))
	}
	if h.free[order].Has(addr) {
		panic(fmt.Sprintf("Dealloc(%#x): block is already free", addr))
	}
	h.stats.Allocated -= uint64(1) << order
	h.stats.User -= size

	// Merge with free buddies for as long as possible.
	cur := addr
	o := order
	for ; o < Orders-1; o++ {
		buddy := cur ^ (uint64(1) << o)
		if _, ok := h.free[o].Delete(buddy); !ok {
			break
		}
		cur = min(cur, buddy)
	}
	h.free[o].ReplaceOrInsert(cur)
}

// Stats returns current usage.
func (h *Heap) Stats() Stats {
	return h.stats
}

// FreeBlocks calls fn for each free block in address order within each order,
// from the smallest order up. It is meant for diagnostics.
func (h *Heap) FreeBlocks(fn func(addr uint64, order int) bool) {
	for o := range h.free {
		cont := true
		h.free[o].Ascend(func(addr uint64) bool {
			cont = fn(addr, o)
			return cont
		})
		if !cont {
			return
		}
	}
}
