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
	"context"
)

// contextID is this package's type for context.Context.Value keys.
type contextID int

const (
	// CtxFrameAllocator is a Context.Value key for a FrameAllocator.
	CtxFrameAllocator contextID = iota
)

// WithFrameAllocator returns a child of ctx carrying f.
func WithFrameAllocator(ctx context.Context, f *FrameAllocator) context.Context {
	return context.WithValue(ctx, CtxFrameAllocator, f)
}

// FrameAllocatorFromContext returns the FrameAllocator used by ctx, or nil if
// no such FrameAllocator exists.
func FrameAllocatorFromContext(ctx context.Context) *FrameAllocator {
	if v := ctx.Value(CtxFrameAllocator); v != nil {
		return v.(*FrameAllocator)
	}
	return nil
}
