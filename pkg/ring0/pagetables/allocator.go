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

	"golang.org/x/sys/unix"
	"rvmm.dev/rvmm/pkg/errors/memerr"
	"rvmm.dev/rvmm/pkg/rvarch"
)

// Allocator provides the memory backing page tables.
//
// Tables are named by physical address in entries, so an allocator must be
// able to go both ways between a table and its physical address.
type Allocator interface {
	// NewTable returns a zeroed, page aligned table.
	NewTable() (*PageTable, error)

	// PhysicalFor gives the physical address of a table.
	PhysicalFor(t *PageTable) uint64

	// LookupTable returns the table at a physical address returned by
	// PhysicalFor, or nil if physical names no table of this allocator.
	LookupTable(physical uint64) *PageTable

	// FreeTable releases a table. It must not be referenced by any entry.
	FreeTable(t *PageTable)
}

// RuntimeAllocator is an Allocator backed by anonymous host mappings. The
// "physical" address of a table is its host address.
//
// It is suitable for building tables that are inspected in software but
// never installed on real hardware.
type RuntimeAllocator struct {
	// used is the set of live tables, keyed by table.
	used map[*PageTable][]byte

	// pool holds freed tables for reuse.
	pool []*PageTable
}

// NewRuntimeAllocator returns an allocator that uses host memory.
func NewRuntimeAllocator() *RuntimeAllocator {
	return &RuntimeAllocator{used: make(map[*PageTable][]byte)}
}

// NewTable implements Allocator.NewTable.
func (r *RuntimeAllocator) NewTable() (*PageTable, error) {
	if n := len(r.pool); n > 0 {
		t := r.pool[n-1]
		r.pool = r.pool[:n-1]
		*t = PageTable{}
		return t, nil
	}
	m, err := unix.Mmap(-1, 0, rvarch.PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mapping page table: %v: %w", err, memerr.ErrOutOfMemory)
	}
	t := (*PageTable)(unsafe.Pointer(&m[0]))
	r.used[t] = m
	return t, nil
}

// PhysicalFor implements Allocator.PhysicalFor.
func (r *RuntimeAllocator) PhysicalFor(t *PageTable) uint64 {
	return uint64(uintptr(unsafe.Pointer(t)))
}

// LookupTable implements Allocator.LookupTable.
func (r *RuntimeAllocator) LookupTable(physical uint64) *PageTable {
	t := (*PageTable)(unsafe.Pointer(uintptr(physical)))
	if _, ok := r.used[t]; !ok {
		return nil
	}
	return t
}

// FreeTable implements Allocator.FreeTable.
func (r *RuntimeAllocator) FreeTable(t *PageTable) {
	if _, ok := r.used[t]; !ok {
		panic(fmt.Sprintf("freeing unknown page table %p", t))
	}
	r.pool = append(r.pool, t)
}

// Live returns the number of tables handed out and not freed.
func (r *RuntimeAllocator) Live() int {
	return len(r.used) - len(r.pool)
}

// Close unmaps every table, live or pooled. Tables must not be used
// afterwards.
func (r *RuntimeAllocator) Close() error {
	var firstErr error
	for t, m := range r.used {
		if err := unix.Munmap(m); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.used, t)
	}
	r.pool = nil
	return firstErr
}
