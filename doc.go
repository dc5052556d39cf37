// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package handel holds code to configure and run XIA xMAP spectrometry
// modules.
//
// The xmap package converts user-level acquisition values into DSP
// parameters and drives the module firmware and runs. The fdd package
// selects firmware images from a catalog. The sim package simulates xMAP
// boards, settingsdb persists acquisition values snapshots and mca exports
// spectra as histograms.
package handel // import "github.com/xiallc/Handel-Releases-sub004"

import (
	"fmt"
	"runtime/debug"
)

const root = "github.com/xiallc/Handel-Releases-sub004"

// Version returns the version of handel and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}

	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
