// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import "fmt"

// Memory spaces addressed by MemorySpec.
const (
	SpaceData     = "data"     // DSP data memory
	SpaceBurst    = "burst"    // statistics and MCA block
	SpaceExternal = "external" // mapping buffers
)

// MemorySpec addresses a block of 32-bit words on the board.
type MemorySpec struct {
	Space string
	Addr  uint32
	Len   int
}

func (spec MemorySpec) String() string {
	return fmt.Sprintf("%s:0x%x:%d", spec.Space, spec.Addr, spec.Len)
}

// Transport moves registers, DSP parameters and memory blocks between
// the host and one xMAP module.
// Calls block until the board answers.
type Transport interface {
	ReadRegister(name string) (uint32, error)
	WriteRegister(name string, v uint32) error

	ReadMemory(spec MemorySpec) ([]uint32, error)
	WriteMemory(spec MemorySpec, data []uint32) error

	GetParameter(ch int, name string) (uint16, error)
	SetParameter(ch int, name string, v uint16) error

	ControlTask(ch int, task string) error
}

// Programmer downloads firmware images to a module.
type Programmer interface {
	ReplaceFPGA(target, file string) error
	ReplaceDSP(file string) error
}

// Firmware kinds known to a FirmwareDB.
const (
	KindFiPPI      = "fippi_a"
	KindDSP        = "system_dsp"
	KindSystemFPGA = "system_fpga"
)

// FirmwareRecord is the result of a firmware lookup.
type FirmwareRecord struct {
	Path  string // file to download
	RawID string // canonical identity, used for change detection
}

// FilterInfo describes the filter of the FiPPI covering a peaking time.
type FilterInfo struct {
	PtMin  float64
	PtMax  float64
	Coeffs []uint16
}

// FirmwareDB resolves selection criteria to firmware images.
type FirmwareDB interface {
	Firmware(kind string, pt float64, keywords []string, detType string) (FirmwareRecord, error)
	FilterInfo(pt float64, keywords []string) (FilterInfo, error)
}
