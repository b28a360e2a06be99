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

// Package boot builds the kernel address space for a machine layout and
// brings up its harts.
package boot

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"rvmm.dev/rvmm/pkg/bits"
	"rvmm.dev/rvmm/pkg/cleanup"
	"rvmm.dev/rvmm/pkg/log"
	"rvmm.dev/rvmm/pkg/pgalloc"
	"rvmm.dev/rvmm/pkg/physmem"
	"rvmm.dev/rvmm/pkg/ring0"
	"rvmm.dev/rvmm/pkg/ring0/pagetables"
	"rvmm.dev/rvmm/pkg/rvarch"
	"rvmm.dev/rvmm/rvmm/config"
)

// Loader keeps state needed to build the kernel address space and start the
// harts.
type Loader struct {
	conf *config.Config

	// layout is a normalized private copy of the machine layout.
	layout *config.Layout

	// arena backs the physical memory handed to the frame allocator.
	arena *physmem.Arena

	// frames allocates page tables and hart stacks.
	frames *pgalloc.FrameAllocator

	// tables is the page table allocator over frames.
	tables *pagetables.FrameAllocatorPTEs

	// as is the kernel address space. Only the boot hart mutates it, before
	// StartHarts.
	as pagetables.AddressSpace

	harts []*ring0.Hart
}

// Leaf is an installed mapping.
type Leaf struct {
	Virt  uint64
	Phys  uint64
	Size  rvarch.Granularity
	Flags pagetables.Flags
}

// String implements fmt.Stringer.String.
func (l Leaf) String() string {
	return fmt.Sprintf("%#016x -> %#014x %4v %v", l.Virt, l.Phys, l.Size, l.Flags)
}

// New creates a loader for the given layout. The layout is copied, and the
// copy normalized and validated.
func New(conf *config.Config, layout *config.Layout) (*Loader, error) {
	layout = layout.Clone()
	layout.Normalize()
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}

	region, err := FrameRegion(layout)
	if err != nil {
		return nil, err
	}
	arena, err := physmem.NewArena(region.Start, region.Length())
	if err != nil {
		return nil, fmt.Errorf("creating physical memory arena: %w", err)
	}
	cu := cleanup.Make(func() { arena.Close() })
	defer cu.Clean()

	frames := pgalloc.New()
	if err := frames.Init(region.Start, region.Length()); err != nil {
		return nil, fmt.Errorf("initializing frame allocator: %w", err)
	}
	tables := pagetables.NewFrameAllocatorPTEs(frames, arena)
	as, err := pagetables.NewAddressSpace(conf.Spec(), tables)
	if err != nil {
		return nil, fmt.Errorf("creating kernel address space: %w", err)
	}

	l := &Loader{
		conf:   conf,
		layout: layout,
		arena:  arena,
		frames: frames,
		tables: tables,
		as:     as,
	}
	for i := 0; i < layout.Harts; i++ {
		l.harts = append(l.harts, ring0.NewHart(i))
	}
	log.Infof("Loader created: %s, %d harts, frames from %v, root table at %#x", as.Spec().Name(), len(l.harts), region, as.RootAddress())
	cu.Release()
	return l, nil
}

// FrameRegion returns the memory given to the frame allocator: the largest
// usable extent above the kernel image, or the largest usable extent if
// there is nothing above it. The result is page aligned. layout must be
// normalized.
func FrameRegion(layout *config.Layout) (rvarch.Range, error) {
	kernelEnd := layout.Kernel.Range().End
	var best, bestAbove rvarch.Range
	for _, r := range layout.UsableExtents() {
		start, ok := bits.AlignUp64(r.Start, rvarch.PageSize)
		end := bits.AlignDown64(r.End, rvarch.PageSize)
		if !ok || start >= end {
			continue
		}
		r = rvarch.Range{Start: start, End: end}
		if r.Length() > best.Length() {
			best = r
		}
		if r.Start >= kernelEnd && r.Length() > bestAbove.Length() {
			bestAbove = r
		}
	}
	if bestAbove.Length() > 0 {
		return bestAbove, nil
	}
	if best.Length() > 0 {
		return best, nil
	}
	return rvarch.Range{}, fmt.Errorf("no usable memory outside the kernel image %v", layout.Kernel.Range())
}

// BuildKernelSpace installs the identity windows, the high-half kernel
// window and the layout's extra mappings. Each window uses the largest leaves
// up to conf.MaxPage that its alignment allows.
func (l *Loader) BuildKernelSpace() error {
	limit := l.conf.MaxPage.Granularity()
	if l.layout.IdentityMap {
		for _, e := range l.layout.Memory {
			r := e.Range()
			end, ok := bits.AlignUp64(r.End, rvarch.PageSize)
			if !ok {
				return fmt.Errorf("memory extent %v cannot be page aligned", r)
			}
			start := bits.AlignDown64(r.Start, rvarch.PageSize)
			if err := l.mapWindow("identity", start, start, end-start, limit, pagetables.KernelFlags); err != nil {
				return err
			}
		}
	}

	virt, phys := uint64(l.layout.KernelVirtBase), uint64(l.layout.KernelPhysBase)
	if err := l.mapWindow("kernel", virt, phys, uint64(l.layout.KernelWindow), limit, pagetables.KernelFlags); err != nil {
		return err
	}

	for _, m := range l.layout.Mappings {
		flags, err := config.ParseFlags(m.Flags)
		if err != nil {
			return err
		}
		if err := l.mapWindow("extra", uint64(m.Virt), uint64(m.Phys), uint64(m.Size), limit, flags); err != nil {
			return err
		}
	}
	log.Infof("Kernel address space built: %d page tables", l.tables.Live())
	return nil
}

func (l *Loader) mapWindow(name string, virt, phys, length uint64, limit rvarch.Granularity, flags pagetables.Flags) error {
	log.Infof("Mapping %s window %#x -> %#x (+%#x) %v", name, virt, phys, length, flags)
	if err := l.as.MapRange(rvarch.New(virt), rvarch.New(phys), length, limit, flags); err != nil {
		return fmt.Errorf("mapping %s window %#x -> %#x (+%#x): %w", name, virt, phys, length, err)
	}
	return nil
}

// StartHarts activates the kernel address space on the boot hart and then
// starts every other hart concurrently. Each secondary hart gets a stack from
// the frame allocator carried in ctx and owns it from then on.
func (l *Loader) StartHarts(ctx context.Context) error {
	asid := l.conf.ASID
	boot := l.harts[0]
	boot.Start(l.layout.Kernel.Range().End)
	l.as.Activate(boot, asid)
	log.Infof("Hart %d: satp %#x", boot.ID, boot.SATP())

	ctx = pgalloc.WithFrameAllocator(ctx, l.frames)
	g, ctx := errgroup.WithContext(ctx)
	for _, h := range l.harts[1:] {
		g.Go(func() error {
			return l.startHart(ctx, h)
		})
	}
	return g.Wait()
}

func (l *Loader) startHart(ctx context.Context, h *ring0.Hart) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frames := pgalloc.FrameAllocatorFromContext(ctx)
	if frames == nil {
		panic("no frame allocator in context")
	}
	stack, err := frames.Alloc(uint64(l.layout.HartStack))
	if err != nil {
		return fmt.Errorf("hart %d: allocating stack: %w", h.ID, err)
	}
	if err := l.arena.Zero(stack.Addr().Uint64(), stack.Size()); err != nil {
		stack.Release()
		return fmt.Errorf("hart %d: clearing stack: %w", h.ID, err)
	}
	// The hart owns the stack for the rest of its life.
	h.Start(stack.Addr().Uint64() + stack.Size())
	stack.Forget()
	l.as.Activate(h, l.conf.ASID)
	log.Infof("Hart %d: stack %v, satp %#x", h.ID, stack, h.SATP())
	return nil
}

// Run builds the kernel address space and starts all harts.
func (l *Loader) Run(ctx context.Context) error {
	if err := l.BuildKernelSpace(); err != nil {
		return err
	}
	return l.StartHarts(ctx)
}

// AddressSpace returns the kernel address space.
func (l *Loader) AddressSpace() pagetables.AddressSpace {
	return l.as
}

// Frames returns the frame allocator.
func (l *Loader) Frames() *pgalloc.FrameAllocator {
	return l.frames
}

// Harts returns the harts, boot hart first.
func (l *Loader) Harts() []*ring0.Hart {
	return l.harts
}

// Layout returns the normalized layout.
func (l *Loader) Layout() *config.Layout {
	return l.layout
}

// Leaves returns the installed mappings in address order.
func (l *Loader) Leaves() []Leaf {
	var leaves []Leaf
	l.as.Walk(func(virt rvarch.Address[rvarch.Unaligned], pte pagetables.PTE, g rvarch.Granularity) bool {
		leaves = append(leaves, Leaf{
			Virt:  virt.Uint64(),
			Phys:  pte.Address(),
			Size:  g,
			Flags: pte.Flags(),
		})
		return true
	})
	return leaves
}

// Destroy releases the host memory backing the machine. The loader must not
// be used afterwards.
func (l *Loader) Destroy() error {
	return l.arena.Close()
}
