// Copyright 2021 The gVisor Authors.
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

// Package errors holds the standardized error definition for rvmm.
package errors

import "fmt"

// Kind classifies an Error. Callers branch on kinds, never on messages.
type Kind uint8

const (
	// AddressNotAligned means a value failed an alignment check before a
	// privileged operation.
	AddressNotAligned Kind = iota + 1

	// OutOfMemory means a resource cannot satisfy the request: an allocator
	// is exhausted, or a mapping granularity is beyond what the paging mode
	// can express.
	OutOfMemory

	// Layout means a size/alignment pair cannot be built under the backing
	// allocator's rules.
	Layout

	// InvalidAddress means an address lies outside the range the paging mode
	// or the physical page number field can express.
	InvalidAddress

	// Conflict means the request collides with existing state, e.g. a
	// mapping over an existing leaf.
	Conflict

	// NotFound means the request refers to state that does not exist.
	NotFound
)

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	switch k {
	case AddressNotAligned:
		return "AddressNotAligned"
	case OutOfMemory:
		return "OutOfMemory"
	case Layout:
		return "LayoutError"
	case InvalidAddress:
		return "InvalidAddress"
	case Conflict:
		return "Conflict"
	case NotFound:
		return "NotFound"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Error represents a memory-management failure with a descriptive message.
type Error struct {
	kind    Kind
	message string
}

// New creates a new *Error.
func New(kind Kind, message string) *Error {
	return &Error{
		kind:    kind,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Kind returns the error's kind.
func (e *Error) Kind() Kind { return e.kind }

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, memerr.ErrOutOfMemory) also matches ErrUnsupportedSize.
// Sentinels of the same kind compare equal; use == to tell them apart.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.kind == e.kind
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}
