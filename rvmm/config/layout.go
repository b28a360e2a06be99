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

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"
	"rvmm.dev/rvmm/pkg/ring0/pagetables"
	"rvmm.dev/rvmm/pkg/rvarch"
)

// Addr is an address in a layout file. It is written as a string or an
// integer, in any base strconv understands ("0x8000_0000" included), because
// TOML integers are signed and cannot hold high-half addresses.
type Addr uint64

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (a *Addr) UnmarshalText(b []byte) error {
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", b, err)
	}
	*a = Addr(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// String implements fmt.Stringer.String.
func (a Addr) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Size is a byte count in a layout file. Like Addr, it accepts any integer
// syntax, and also a K, M or G suffix: "128M".
type Size uint64

// ParseSize parses a size with an optional binary K, M or G suffix.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	shift := 0
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'K', 'k':
			shift = 10
		case 'M', 'm':
			shift = 20
		case 'G', 'g':
			shift = 30
		}
		if shift != 0 {
			s = s[:n-1]
		}
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if v > ^uint64(0)>>shift {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return v << shift, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (s *Size) UnmarshalText(b []byte) error {
	v, err := ParseSize(string(b))
	if err != nil {
		return err
	}
	*s = Size(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (s Size) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%#x", uint64(s))), nil
}

// Extent is a physical address range.
type Extent struct {
	Start Addr `toml:"start" yaml:"start"`
	Size  Size `toml:"size" yaml:"size"`
}

// Range returns the extent as a range.
func (e Extent) Range() rvarch.Range {
	return rvarch.RangeOf(uint64(e.Start), uint64(e.Size))
}

// Mapping is an additional kernel mapping.
type Mapping struct {
	// Virt and Phys are the start addresses, Size the length. All three
	// must be page aligned.
	Virt Addr `toml:"virt" yaml:"virt"`
	Phys Addr `toml:"phys" yaml:"phys"`
	Size Size `toml:"size" yaml:"size"`

	// Flags is a permission string over "rwxugad", e.g. "rw".
	Flags string `toml:"flags" yaml:"flags"`
}

// Layout describes the machine: what the hardware description parser
// produces, already validated.
type Layout struct {
	// Harts is the number of harts. Hart 0 boots the others.
	Harts int `toml:"harts" yaml:"harts"`

	// Memory lists the physical memory extents.
	Memory []Extent `toml:"memory" yaml:"memory"`

	// Kernel is the physical range of the loaded kernel image. It is never
	// handed to the frame allocator.
	Kernel Extent `toml:"kernel" yaml:"kernel"`

	// KernelPhysBase and KernelVirtBase are the ends of the high-half
	// kernel window, which is KernelWindow bytes long.
	KernelPhysBase Addr `toml:"kernel_phys_base" yaml:"kernel_phys_base"`
	KernelVirtBase Addr `toml:"kernel_virt_base" yaml:"kernel_virt_base"`
	KernelWindow   Size `toml:"kernel_window" yaml:"kernel_window"`

	// IdentityMap maps every memory extent at its own address.
	IdentityMap bool `toml:"identity_map" yaml:"identity_map"`

	// HartStack is the size of each secondary hart's stack.
	HartStack Size `toml:"hart_stack" yaml:"hart_stack"`

	// Mappings are additional kernel mappings, such as MMIO windows.
	Mappings []Mapping `toml:"mappings" yaml:"mappings"`
}

// DefaultLayout returns a machine like QEMU's virt board: 128M of memory at
// 0x80000000, firmware below the kernel at 0x80200000, and the kernel
// window at the top of the Sv39 address space.
func DefaultLayout() *Layout {
	return &Layout{
		Harts:          4,
		Memory:         []Extent{{Start: 0x8000_0000, Size: 128 << 20}},
		Kernel:         Extent{Start: 0x8020_0000, Size: 2 << 20},
		KernelPhysBase: 0x8000_0000,
		KernelVirtBase: 0xffff_ffff_c000_0000,
		KernelWindow:   1 << 30,
		IdentityMap:    true,
		HartStack:      64 << 10,
	}
}

// LoadLayout reads a layout file. The format follows the extension: .toml,
// .yaml or .yml. Fields missing from the file keep their DefaultLayout
// values.
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layout: %w", err)
	}
	l, err := DecodeLayout(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("layout %q: %w", path, err)
	}
	return l, nil
}

// DecodeLayout decodes a layout in the given format, "toml" or "yaml".
func DecodeLayout(data []byte, format string) (*Layout, error) {
	l := DefaultLayout()
	// Lists replace the defaults rather than extend them.
	l.Memory = nil
	switch strings.ToLower(format) {
	case "toml":
		md, err := toml.Decode(string(data), l)
		if err != nil {
			return nil, err
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return nil, fmt.Errorf("unknown layout keys: %v", undec)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(l); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown layout format %q, want toml or yaml", format)
	}
	if len(l.Memory) == 0 {
		l.Memory = DefaultLayout().Memory
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Clone returns a deep copy of the layout.
func (l *Layout) Clone() *Layout {
	return deepcopy.Copy(l).(*Layout)
}

// Normalize sorts memory extents and merges the ones that touch or
// overlap.
func (l *Layout) Normalize() {
	sort.Slice(l.Memory, func(i, j int) bool { return l.Memory[i].Start < l.Memory[j].Start })
	var merged []Extent
	for _, e := range l.Memory {
		if e.Size == 0 {
			continue
		}
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if lr := last.Range(); uint64(e.Start) <= lr.End {
				if end := e.Range().End; end > lr.End {
					last.Size = Size(end - uint64(last.Start))
				}
				continue
			}
		}
		merged = append(merged, e)
	}
	l.Memory = merged
}

// Validate checks the layout for consistency.
func (l *Layout) Validate() error {
	if l.Harts < 1 {
		return fmt.Errorf("layout needs at least one hart, got %d", l.Harts)
	}
	if len(l.Memory) == 0 {
		return fmt.Errorf("layout has no memory")
	}
	for _, e := range l.Memory {
		if r := e.Range(); !r.WellFormed() {
			return fmt.Errorf("memory extent %v wraps", r)
		}
	}
	k := l.Kernel.Range()
	if !k.WellFormed() || k.Length() == 0 {
		return fmt.Errorf("kernel image %v is empty or wraps", k)
	}
	inMemory := false
	for _, e := range l.Memory {
		if e.Range().IsSupersetOf(k) {
			inMemory = true
		}
	}
	if !inMemory {
		return fmt.Errorf("kernel image %v is not inside one memory extent", k)
	}
	if l.KernelPhysBase > l.Kernel.Start {
		return fmt.Errorf("kernel window base %v is above the kernel image %v", l.KernelPhysBase, k)
	}
	if l.KernelWindow == 0 || l.KernelWindow%rvarch.PageSize != 0 {
		return fmt.Errorf("kernel window size %#x is not a positive page multiple", uint64(l.KernelWindow))
	}
	if uint64(l.KernelVirtBase)%rvarch.PageSize != 0 || uint64(l.KernelPhysBase)%rvarch.PageSize != 0 {
		return fmt.Errorf("kernel window %v -> %v is not page aligned", l.KernelVirtBase, l.KernelPhysBase)
	}
	if l.HartStack == 0 {
		return fmt.Errorf("hart stack size must be positive")
	}
	for _, m := range l.Mappings {
		if _, err := ParseFlags(m.Flags); err != nil {
			return fmt.Errorf("mapping %v: %w", m.Virt, err)
		}
		if uint64(m.Virt|m.Phys)%rvarch.PageSize != 0 || uint64(m.Size)%rvarch.PageSize != 0 || m.Size == 0 {
			return fmt.Errorf("mapping %v -> %v (+%#x) is not page aligned", m.Virt, m.Phys, uint64(m.Size))
		}
	}
	return nil
}

// UsableExtents returns memory not occupied by the kernel image, in address
// order. The layout must be normalized.
func (l *Layout) UsableExtents() []rvarch.Range {
	k := l.Kernel.Range()
	var usable []rvarch.Range
	for _, e := range l.Memory {
		r := e.Range()
		if !r.Overlaps(k) {
			usable = append(usable, r)
			continue
		}
		if k.Start > r.Start {
			usable = append(usable, rvarch.Range{Start: r.Start, End: k.Start})
		}
		if k.End < r.End {
			usable = append(usable, rvarch.Range{Start: k.End, End: r.End})
		}
	}
	return usable
}

// ParseFlags parses a permission string over "rwxugad". Valid is implied.
func ParseFlags(s string) (pagetables.Flags, error) {
	f := pagetables.Valid
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			f |= pagetables.Read
		case 'w':
			f |= pagetables.Write
		case 'x':
			f |= pagetables.Execute
		case 'u':
			f |= pagetables.User
		case 'g':
			f |= pagetables.Global
		case 'a':
			f |= pagetables.Accessed
		case 'd':
			f |= pagetables.Dirty
		default:
			return 0, fmt.Errorf("invalid flag %q in %q", c, s)
		}
	}
	if f&(pagetables.Read|pagetables.Write|pagetables.Execute) == 0 {
		return 0, fmt.Errorf("flags %q grant no access", s)
	}
	if f&(pagetables.Read|pagetables.Write) == pagetables.Write {
		return 0, fmt.Errorf("flags %q are writable but not readable", s)
	}
	return f, nil
}
