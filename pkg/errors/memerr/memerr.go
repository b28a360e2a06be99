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

// Package memerr defines the errors returned by the page table manager and
// the frame allocator.
package memerr

import "rvmm.dev/rvmm/pkg/errors"

// Alignment errors.
var (
	ErrAddressNotAligned = errors.New(errors.AddressNotAligned, "address not aligned")
)

// Capacity errors. An unsupported mapping size shares the OutOfMemory kind:
// both mean the request cannot be satisfied with what is available.
var (
	ErrOutOfMemory     = errors.New(errors.OutOfMemory, "out of memory")
	ErrUnsupportedSize = errors.New(errors.OutOfMemory, "mapping size not supported by paging mode")
	ErrUninitialized   = errors.New(errors.OutOfMemory, "not initialized")
)

// Layout errors.
var (
	ErrLayout = errors.New(errors.Layout, "invalid size/alignment layout")
)

// Address range errors.
var (
	ErrInvalidAddress = errors.New(errors.InvalidAddress, "address out of range for paging mode")
)

// State errors.
var (
	ErrMappingConflict    = errors.New(errors.Conflict, "address already mapped")
	ErrAlreadyInitialized = errors.New(errors.Conflict, "frame allocator already initialized")
	ErrNotMapped          = errors.New(errors.NotFound, "address not mapped")
)
