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

package pgalloc

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"rvmm.dev/rvmm/pkg/log"
	"rvmm.dev/rvmm/pkg/rvarch"
)

// Frame owns one allocated region. Release returns it to the allocator.
//
// A Frame must end in exactly one of Release or Forget. A Frame that is
// dropped without either is reclaimed when the garbage collector finds it,
// and the leak is logged.
type Frame struct {
	owner   *FrameAllocator
	addr    rvarch.Address[rvarch.Align4K]
	size    uint64
	gran    rvarch.Granularity
	cleanup runtime.Cleanup

	// ended is set by the first Release or Forget.
	ended atomic.Bool
}

// Addr returns the physical address of the frame.
func (fr *Frame) Addr() rvarch.Address[rvarch.Align4K] {
	return fr.addr
}

// Size returns the requested size.
func (fr *Frame) Size() uint64 {
	return fr.size
}

// Granularity returns the alignment class of the frame.
func (fr *Frame) Granularity() rvarch.Granularity {
	return fr.gran
}

// Range returns the physical range of the frame.
func (fr *Frame) Range() rvarch.Range {
	return rvarch.RangeOf(fr.addr.Uint64(), fr.size)
}

// String implements fmt.Stringer.String.
func (fr *Frame) String() string {
	return fmt.Sprintf("frame %v+%#x (%v)", fr.addr, fr.size, fr.gran)
}

// end marks the frame finished, panicking if it already was.
func (fr *Frame) end(op string) {
	if !fr.ended.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("%s of %v after it was released or forgotten", op, fr))
	}
	fr.cleanup.Stop()
}

// Release returns the frame to its allocator. The region must no longer be
// in use. Releasing a frame twice panics.
func (fr *Frame) Release() {
	fr.end("Release")
	fr.owner.dealloc(fr.addr.Uint64(), fr.size, fr.gran)
	log.Debugf("pgalloc: release %v", fr)
}

// Forget hands ownership of the region to something outside the allocator,
// such as a hart using it as a stack. The region is never returned.
func (fr *Frame) Forget() {
	fr.end("Forget")
	log.Debugf("pgalloc: forget %v", fr)
}
