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

	"rvmm.dev/rvmm/pkg/ring0"
	"rvmm.dev/rvmm/pkg/rvarch"
)

// AddressSpace is the scheme independent view of a RootPageTable, for code
// that picks the scheme at run time.
type AddressSpace interface {
	Spec() Spec
	Levels() int
	RootAddress() uint64
	SATP(asid uint64) uint64
	Activate(tc ring0.TranslationControl, asid uint64)
	Map(virt, phys rvarch.Address[rvarch.Unaligned], g rvarch.Granularity, flags Flags) error
	MapRange(virt, phys rvarch.Address[rvarch.Unaligned], length uint64, limit rvarch.Granularity, flags Flags) error
	Unmap(virt rvarch.Address[rvarch.Unaligned], g rvarch.Granularity) error
	Translate(virt rvarch.Address[rvarch.Unaligned]) (rvarch.Address[rvarch.Unaligned], bool)
	Walk(fn func(virt rvarch.Address[rvarch.Unaligned], pte PTE, g rvarch.Granularity) bool)
}

var (
	_ AddressSpace = (*RootPageTable[Sv39])(nil)
	_ AddressSpace = (*RootPageTable[Sv48])(nil)
	_ AddressSpace = (*RootPageTable[Sv57])(nil)
)

// NewAddressSpace returns an initialized root table for the given scheme.
func NewAddressSpace(s Spec, a Allocator) (AddressSpace, error) {
	switch s.(type) {
	case Sv39:
		return newAddressSpace[Sv39](a)
	case Sv48:
		return newAddressSpace[Sv48](a)
	case Sv57:
		return newAddressSpace[Sv57](a)
	default:
		return nil, fmt.Errorf("unsupported paging scheme %T", s)
	}
}

func newAddressSpace[S Spec](a Allocator) (AddressSpace, error) {
	t, err := New[S](a)
	if err != nil {
		return nil, err
	}
	return t, nil
}
