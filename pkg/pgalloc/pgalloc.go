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

// Package pgalloc allocates physical frames: contiguous, naturally aligned
// regions of physical memory for page tables, stacks and buffers.
//
// Every frame is aligned to a page size the page table code can map with a
// single leaf, chosen from the request size:
//
//	size <= 1M   -> 4K aligned
//	size <= 512M -> 2M aligned
//	otherwise    -> 1G aligned
//
// A FrameAllocator is a long-lived object shared by every hart; one mutex
// serializes all of its operations.
package pgalloc

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"rvmm.dev/rvmm/pkg/bits"
	"rvmm.dev/rvmm/pkg/buddy"
	"rvmm.dev/rvmm/pkg/errors/memerr"
	"rvmm.dev/rvmm/pkg/log"
	"rvmm.dev/rvmm/pkg/rvarch"
)

// Granularity returns the alignment class of a request of size bytes.
func Granularity(size uint64) rvarch.Granularity {
	switch {
	case size <= rvarch.Size2M.Bytes()/2:
		return rvarch.Size4K
	case size <= rvarch.Size1G.Bytes()/2:
		return rvarch.Size2M
	default:
		return rvarch.Size1G
	}
}

// Stats describes allocator usage.
type Stats struct {
	// Region is the managed physical range, empty before Init.
	Region rvarch.Range

	// Total is the number of bytes available to frames.
	Total uint64

	// Allocated is the number of bytes held by live frames, including
	// rounding to block sizes.
	Allocated uint64

	// Frames is the number of live frames.
	Frames int
}

// warnEvery bounds how often leak and exhaustion warnings are emitted.
const warnEvery = time.Second

// FrameAllocator hands out Frames from one physical region.
type FrameAllocator struct {
	mu sync.Mutex

	// heap is the backing allocator, nil until Init.
	heap *buddy.Heap

	// region is the range passed to Init, trimmed to pages.
	region rvarch.Range

	// frames is the number of live frames.
	frames int

	// warn reports leaks and exhaustion, which can come in bursts.
	warn log.Logger
}

// New returns an uninitialized allocator. Alloc fails until Init is called.
func New() *FrameAllocator {
	return &FrameAllocator{
		warn: log.BurstLimitedLogger(log.Log(), warnEvery, 5),
	}
}

// Init installs [start, start+size) as the backing region. The region is
// trimmed inward to page boundaries.
//
// Init may be called once. Later calls fail with
// memerr.ErrAlreadyInitialized and leave the allocator unchanged, so that a
// second boot path cannot silently discard frames already handed out.
func (f *FrameAllocator) Init(start, size uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heap != nil {
		f.warn.Warningf("pgalloc: ignoring re-initialization with [%#x, +%#x), already managing %v", start, size, f.region)
		return fmt.Errorf("init [%#x, +%#x): %w", start, size, memerr.ErrAlreadyInitialized)
	}
	end := start + size
	if end < start {
		return fmt.Errorf("region [%#x, +%#x) wraps: %w", start, size, memerr.ErrLayout)
	}
	first, ok := bits.AlignUp64(start, rvarch.PageSize)
	last := bits.AlignDown64(end, rvarch.PageSize)
	if !ok || first >= last {
		return fmt.Errorf("region [%#x, +%#x) holds no whole page: %w", start, size, memerr.ErrLayout)
	}
	h := buddy.New()
	h.AddRegion(first, last)
	f.heap = h
	f.region = rvarch.Range{Start: first, End: last}
	log.Infof("pgalloc: managing %v (%d MiB)", f.region, f.region.Length()>>20)
	return nil
}

// Initialized returns true once Init has succeeded.
func (f *FrameAllocator) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heap != nil
}

// Alloc returns a frame of at least size bytes, aligned to Granularity(size).
//
// Errors:
//   - memerr.ErrUninitialized: Init has not been called.
//   - memerr.ErrLayout: size is zero or too large to align.
//   - memerr.ErrOutOfMemory: no free block is large enough.
func (f *FrameAllocator) Alloc(size uint64) (*Frame, error) {
	g := Granularity(size)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heap == nil {
		return nil, fmt.Errorf("alloc %#x: %w", size, memerr.ErrUninitialized)
	}
	addr, err := f.heap.Alloc(size, g.Bytes())
	if err != nil {
		if errors.Is(err, memerr.ErrOutOfMemory) {
			f.warn.Warningf("pgalloc: cannot allocate %#x bytes (%v aligned): %v", size, g, err)
		}
		return nil, fmt.Errorf("alloc %#x: %w", size, err)
	}
	f.frames++
	fr := &Frame{
		owner: f,
		addr:  rvarch.MustAlign[rvarch.Align4K](rvarch.New(addr)),
		size:  size,
		gran:  g,
	}
	fr.cleanup = runtime.AddCleanup(fr, leaked, leak{owner: f, addr: addr, size: size, gran: g})
	log.Debugf("pgalloc: alloc %#x -> %v (%v)", size, fr.addr, g)
	return fr, nil
}

// dealloc returns a block to the heap. Only Frame calls it.
func (f *FrameAllocator) dealloc(addr, size uint64, g rvarch.Granularity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heap.Dealloc(addr, size, g.Bytes())
	f.frames--
}

// Stats returns current usage.
func (f *FrameAllocator) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heap == nil {
		return Stats{}
	}
	hs := f.heap.Stats()
	return Stats{
		Region:    f.region,
		Total:     hs.Total,
		Allocated: hs.Allocated,
		Frames:    f.frames,
	}
}

// leak identifies a frame for its cleanup. It must not reference the Frame.
type leak struct {
	owner *FrameAllocator
	addr  uint64
	size  uint64
	gran  rvarch.Granularity
}

// leaked runs when a Frame becomes unreachable without Release or Forget.
func leaked(l leak) {
	l.owner.warn.Warningf("pgalloc: frame %#x (%#x bytes) leaked, returning it", l.addr, l.size)
	l.owner.dealloc(l.addr, l.size, l.gran)
}
