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

// Package physmem simulates a range of physical memory with host memory.
//
// An Arena backs [base, base+size) with a memfd mapping, so that code which
// stores to "physical" addresses (page table construction, hart stacks) can
// run in an ordinary process.
package physmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
	"rvmm.dev/rvmm/pkg/errors/memerr"
	"rvmm.dev/rvmm/pkg/log"
	"rvmm.dev/rvmm/pkg/memutil"
	"rvmm.dev/rvmm/pkg/rvarch"
)

// Arena is host memory standing in for a physical address range.
type Arena struct {
	base uint64
	fd   int
	mem  []byte
}

// NewArena maps size bytes of host memory to represent physical addresses
// starting at base. Both must be page aligned.
func NewArena(base, size uint64) (*Arena, error) {
	if base%rvarch.PageSize != 0 || size%rvarch.PageSize != 0 || size == 0 {
		return nil, fmt.Errorf("arena [%#x, +%#x) is not page aligned: %w", base, size, memerr.ErrAddressNotAligned)
	}
	if base+size < base || base+size > 1<<rvarch.PhysAddrBits {
		return nil, fmt.Errorf("arena [%#x, +%#x) exceeds the physical address space: %w", base, size, memerr.ErrInvalidAddress)
	}
	fd, err := memutil.CreateMemFD(fmt.Sprintf("physmem-%#x", base), int64(size))
	if err != nil {
		return nil, err
	}
	mem, err := memutil.MapSlice(fd, 0, int(size))
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mapping arena: %w", err)
	}
	log.Debugf("physmem: arena [%#x, %#x) at host %p", base, base+size, &mem[0])
	return &Arena{base: base, fd: fd, mem: mem}, nil
}

// Range returns the physical range backed by the arena.
func (a *Arena) Range() rvarch.Range {
	return rvarch.Range{Start: a.base, End: a.base + uint64(len(a.mem))}
}

// Contains returns true if [pa, pa+n) is backed by the arena.
func (a *Arena) Contains(pa, n uint64) bool {
	end := pa + n
	return pa >= a.base && end >= pa && end <= a.base+uint64(len(a.mem))
}

// Bytes returns the host memory backing [pa, pa+n).
func (a *Arena) Bytes(pa, n uint64) ([]byte, error) {
	if !a.Contains(pa, n) {
		return nil, fmt.Errorf("[%#x, +%#x) outside arena %v: %w", pa, n, a.Range(), memerr.ErrInvalidAddress)
	}
	off := pa - a.base
	return a.mem[off : off+n : off+n], nil
}

// Zero clears [pa, pa+n).
func (a *Arena) Zero(pa, n uint64) error {
	b, err := a.Bytes(pa, n)
	if err != nil {
		return err
	}
	clear(b)
	return nil
}

// Pointer returns the host address of physical address pa. It panics if pa
// is outside the arena.
func (a *Arena) Pointer(pa uint64) unsafe.Pointer {
	if !a.Contains(pa, 1) {
		panic(fmt.Sprintf("physical address %#x outside arena %v", pa, a.Range()))
	}
	return unsafe.Pointer(&a.mem[pa-a.base])
}

// Physical is the inverse of Pointer. It panics if p does not point into the
// arena.
func (a *Arena) Physical(p unsafe.Pointer) uint64 {
	start := uintptr(unsafe.Pointer(unsafe.SliceData(a.mem)))
	addr := uintptr(p)
	if addr < start || addr-start >= uintptr(len(a.mem)) {
		panic(fmt.Sprintf("host address %#x outside arena %v", addr, a.Range()))
	}
	return a.base + uint64(addr-start)
}

// Close releases the host memory. Pointers and slices obtained from the
// arena must not be used afterwards.
func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := memutil.UnmapSlice(a.mem)
	a.mem = nil
	if cerr := unix.Close(a.fd); err == nil {
		err = cerr
	}
	return err
}
