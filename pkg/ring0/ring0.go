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

// Package ring0 is the boundary between the page table manager and the
// privileged state of a hart.
//
// Only two privileged operations matter for address translation: writing the
// satp register and fencing the translation caches. They are expressed as a
// capability, TranslationControl, so that page table code can be exercised
// against simulated harts.
package ring0

import (
	"fmt"
	"sync"

	"rvmm.dev/rvmm/pkg/log"
)

// TranslationControl is the capability to switch the active address space of
// one hart.
type TranslationControl interface {
	// WriteSATP writes the satp register.
	WriteSATP(v uint64)

	// SFenceVMA orders all prior page table stores before subsequent
	// implicit references and flushes every cached translation.
	SFenceVMA()
}

// EventKind identifies a privileged operation recorded by a Hart.
type EventKind int

// Recorded operations.
const (
	WriteSATP EventKind = iota
	SFenceVMA
)

// String implements fmt.Stringer.String.
func (k EventKind) String() string {
	switch k {
	case WriteSATP:
		return "csrw satp"
	case SFenceVMA:
		return "sfence.vma"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one recorded privileged operation.
type Event struct {
	Kind  EventKind
	Value uint64
}

// Hart is a simulated hardware thread. It implements TranslationControl by
// recording every operation, which makes the order of satp writes and fences
// observable.
type Hart struct {
	// ID is the hart id.
	ID int

	mu sync.Mutex

	// satp is the current value of the satp register.
	satp uint64

	// stack is the physical address of the top of the hart's stack, or
	// zero if the hart has not been started.
	stack uint64

	// events is the history of privileged operations.
	events []Event
}

// NewHart returns a stopped hart with satp zero (translation off).
func NewHart(id int) *Hart {
	return &Hart{ID: id}
}

// WriteSATP implements TranslationControl.WriteSATP.
func (h *Hart) WriteSATP(v uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.satp = v
	h.events = append(h.events, Event{Kind: WriteSATP, Value: v})
}

// SFenceVMA implements TranslationControl.SFenceVMA.
func (h *Hart) SFenceVMA() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, Event{Kind: SFenceVMA})
}

// SATP returns the current value of satp.
func (h *Hart) SATP() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.satp
}

// Events returns a copy of the recorded operations, oldest first.
func (h *Hart) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

// Start marks the hart as running on the given stack.
func (h *Hart) Start(stackTop uint64) {
	if stackTop == 0 {
		panic(fmt.Sprintf("hart %d started without a stack", h.ID))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stack != 0 {
		panic(fmt.Sprintf("hart %d started twice", h.ID))
	}
	h.stack = stackTop
	log.Debugf("hart %d: started, sp=%#x", h.ID, stackTop)
}

// Running returns true if Start has been called.
func (h *Hart) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stack != 0
}

// StackTop returns the stack passed to Start.
func (h *Hart) StackTop() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stack
}
