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
	"rvmm.dev/rvmm/pkg/rvarch"
)

// Translate walks the table in software the way a hart would and returns
// the physical address virt maps to.
//
// It returns false for non-canonical addresses, when the walk reaches an
// invalid entry or the reserved W-without-R encoding, when a pointer entry
// appears at level 0 or names memory that holds no table, and for a
// superpage whose physical page number is not aligned to its size.
// Permissions are not checked.
func (t *RootPageTable[S]) Translate(virt rvarch.Address[rvarch.Unaligned]) (rvarch.Address[rvarch.Unaligned], bool) {
	if t.root == nil || !rvarch.Canonical(virt.Uint64(), t.Levels()) {
		return rvarch.Address[rvarch.Unaligned]{}, false
	}
	table := t.root
	for l := rvarch.Level(t.Levels() - 1); l >= 0; l-- {
		pte := table[virt.PN(l)].Load()
		if !pte.Valid() || pte.Reserved() {
			return rvarch.Address[rvarch.Unaligned]{}, false
		}
		if pte.IsLeaf() {
			return leafAddress(pte, l, virt)
		}
		if l == 0 {
			break
		}
		if table = t.table(pte.Address()); table == nil {
			break
		}
	}
	return rvarch.Address[rvarch.Unaligned]{}, false
}

// leafAddress combines a leaf at level l with the untranslated low bits of
// virt.
func leafAddress(pte PTE, l rvarch.Level, virt rvarch.Address[rvarch.Unaligned]) (rvarch.Address[rvarch.Unaligned], bool) {
	size := rvarch.GranularityForLevel(l).Bytes()
	base := pte.Address()
	if base&(size-1) != 0 {
		// Misaligned superpage.
		return rvarch.Address[rvarch.Unaligned]{}, false
	}
	return rvarch.New(base | virt.Uint64()&(size-1)), true
}
