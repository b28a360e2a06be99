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

// Package config provides basic infrastructure to set configuration settings
// for rvmm. Each setting is a command line flag registered by RegisterFlags
// and copied into Config by NewFromFlags. The machine being booted is
// described separately by a Layout file.
package config

import (
	"fmt"
	"reflect"

	"rvmm.dev/rvmm/pkg/log"
	"rvmm.dev/rvmm/pkg/ring0/pagetables"
	"rvmm.dev/rvmm/pkg/rvarch"
)

// Config holds configuration that is not part of the machine layout.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register a new flag in flags.go, with name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// LogFormat is the log format: "text" or "json".
	LogFormat string `flag:"log-format"`

	// Mode is the paging scheme: sv39, sv48 or sv57.
	Mode string `flag:"mode"`

	// ASID is the address space identifier of the kernel address space.
	ASID uint64 `flag:"asid"`

	// LayoutFile is the path of the machine layout, TOML or YAML. If empty,
	// DefaultLayout is used.
	LayoutFile string `flag:"layout"`

	// MaxPage is the largest leaf used for the kernel windows.
	MaxPage PageSize `flag:"max-page"`
}

// validate checks the configuration for consistency.
func (c *Config) validate() error {
	if _, err := pagetables.SpecByName(c.Mode); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.ASID >= 1<<16 {
		return fmt.Errorf("ASID %#x does not fit in 16 bits", c.ASID)
	}
	return nil
}

// Spec returns the paging scheme selected by Mode.
func (c *Config) Spec() pagetables.Spec {
	s, err := pagetables.SpecByName(c.Mode)
	if err != nil {
		// Mode is checked by validate.
		panic(err)
	}
	return s
}

// Log logs important aspects of the configuration to the provided log
// function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		log.Infof("  %s: %v", st.Field(i).Name, getVal(obj.Field(i)))
	}
}

// PageSize is a leaf size given as 4K, 2M, 1G or 512G.
type PageSize rvarch.Granularity

func pageSizePtr(p PageSize) *PageSize {
	return &p
}

// Set implements flag.Value.Set.
func (p *PageSize) Set(v string) error {
	g, err := rvarch.ParseGranularity(v)
	if err != nil {
		return err
	}
	*p = PageSize(g)
	return nil
}

// Get implements flag.Getter.Get.
func (p *PageSize) Get() any {
	return *p
}

// String implements flag.Value.String.
func (p PageSize) String() string {
	return rvarch.Granularity(p).String()
}

// Granularity returns the page size as a granularity.
func (p PageSize) Granularity() rvarch.Granularity {
	return rvarch.Granularity(p)
}
