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
	"unsafe"

	"rvmm.dev/rvmm/pkg/errors/memerr"
	"rvmm.dev/rvmm/pkg/pgalloc"
	"rvmm.dev/rvmm/pkg/physmem"
	"rvmm.dev/rvmm/pkg/rvarch"
)

// FrameAllocatorPTEs is an Allocator that takes tables from a frame
// allocator. Tables are accessed through an arena backing the physical
// range the frames come from, so their physical addresses are real.
type FrameAllocatorPTEs struct {
	frames *pgalloc.FrameAllocator
	arena  *physmem.Arena

	// used maps the physical address of each live table to its frame.
	used map[uint64]*pgalloc.Frame
}

// NewFrameAllocatorPTEs returns an allocator drawing from frames and
// viewing them through arena.
func NewFrameAllocatorPTEs(frames *pgalloc.FrameAllocator, arena *physmem.Arena) *FrameAllocatorPTEs {
	return &FrameAllocatorPTEs{
		frames: frames,
		arena:  arena,
		used:   make(map[uint64]*pgalloc.Frame),
	}
}

// NewTable implements Allocator.NewTable.
func (a *FrameAllocatorPTEs) NewTable() (*PageTable, error) {
	fr, err := a.frames.Alloc(rvarch.PageSize)
	if err != nil {
		return nil, err
	}
	pa := fr.Addr().Uint64()
	if err := a.arena.Zero(pa, rvarch.PageSize); err != nil {
		fr.Release()
		return nil, fmt.Errorf("page table frame %v is not backed by %v: %w", fr, a.arena.Range(), memerr.ErrInvalidAddress)
	}
	a.used[pa] = fr
	return (*PageTable)(a.arena.Pointer(pa)), nil
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *FrameAllocatorPTEs) PhysicalFor(t *PageTable) uint64 {
	return a.arena.Physical(unsafe.Pointer(t))
}

// LookupTable implements Allocator.LookupTable.
func (a *FrameAllocatorPTEs) LookupTable(physical uint64) *PageTable {
	if physical&(rvarch.PageSize-1) != 0 || !a.arena.Contains(physical, rvarch.PageSize) {
		return nil
	}
	return (*PageTable)(a.arena.Pointer(physical))
}

// FreeTable implements Allocator.FreeTable.
func (a *FrameAllocatorPTEs) FreeTable(t *PageTable) {
	pa := a.PhysicalFor(t)
	fr, ok := a.used[pa]
	if !ok {
		panic(fmt.Sprintf("freeing unknown page table at %#x", pa))
	}
	delete(a.used, pa)
	fr.Release()
}

// Live returns the number of tables allocated and not freed.
func (a *FrameAllocatorPTEs) Live() int {
	return len(a.used)
}
