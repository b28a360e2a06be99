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

package memutil

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestMapSliceShared(t *testing.T) {
	fd, err := CreateMemFD("memutil-test", int64(2*unix.Getpagesize()))
	if err != nil {
		t.Fatalf("CreateMemFD: %v", err)
	}
	defer unix.Close(fd)

	a, err := MapSlice(fd, 0, 2*unix.Getpagesize())
	if err != nil {
		t.Fatalf("MapSlice: %v", err)
	}
	defer UnmapSlice(a)
	b, err := MapSlice(fd, int64(unix.Getpagesize()), unix.Getpagesize())
	if err != nil {
		t.Fatalf("MapSlice: %v", err)
	}
	defer UnmapSlice(b)

	a[unix.Getpagesize()+3] = 0x5a
	if b[3] != 0x5a {
		t.Errorf("write through one mapping not visible through the other: got %#x", b[3])
	}
}
