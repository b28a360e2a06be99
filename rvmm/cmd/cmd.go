// Copyright 2018 The gVisor Authors.
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

// Package cmd holds implementations of the rvmm commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"rvmm.dev/rvmm/pkg/log"
	"rvmm.dev/rvmm/rvmm/config"
)

// ErrorLogger receives error messages in addition to the log.
var ErrorLogger io.Writer = os.Stderr

// stdout is where commands write their results.
var stdout io.Writer = os.Stdout

// Errorf logs the error, writes it to ErrorLogger and returns
// subcommands.ExitFailure for convenience.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	log.Warningf(format, args...)
	fmt.Fprintf(ErrorLogger, format+"\n", args...)
	return subcommands.ExitFailure
}

// Fatalf logs the same message as Errorf and exits.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(128)
}

// loadLayout returns the layout named by conf, or the default layout.
func loadLayout(conf *config.Config) (*config.Layout, error) {
	if conf.LayoutFile == "" {
		log.Infof("No layout file given, using the default layout")
		return config.DefaultLayout(), nil
	}
	return config.LoadLayout(conf.LayoutFile)
}

// parseAddr parses an address argument.
func parseAddr(s string) (uint64, error) {
	var a config.Addr
	if err := a.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return uint64(a), nil
}
