// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xmap configures and operates XIA xMAP digital pulse processors.
//
// It translates user-facing acquisition values (peaking time, gain,
// calibration energy, mapping mode, ...) into DSP parameters and board
// registers, coordinates firmware selection and drives the mapping-mode
// and buffer state machine of the board.
package xmap // import "github.com/xiallc/Handel-Releases-sub004/xmap"

import (
	"math"
	"strconv"
)

const (
	nChans = 4 // channels per xMAP module

	clockSpeed = 50.0e6            // Hz
	clockTick  = 1.0 / clockSpeed  // s
	tickUs     = clockTick * 1.0e6 // us

	adcRange      = 16384.0 // ADC full scale
	inputRangeMV  = 2200.0
	systemGain    = 1.27
	minGainDB     = -6.0
	maxGainDB     = 30.0
	gainDACRange  = 40.0
	gainDACOffset = 10.0
	gainIters     = 2

	minSlowLen    = 5
	maxSlowLen    = 128
	maxSlowGap    = 128
	maxSlowFilter = 128
	minFastLen    = 2
	maxFastLen    = 64
	maxFastFilter = 64
	minMaxWidth   = 1
	maxMaxWidth   = 255

	minMCAChans  = 256
	maxMCAChans  = 16384
	mcaChanQuant = 256

	maxSCAs = 64

	maxClearBufferSize = 1 << 20

	memBlockSize        = 256 // words in the statistics block
	scaPixelBlockHeader = 64
	scaChanOffset       = 0x40

	bufferAAddr = 0x4000000
	bufferBAddr = 0x6000000
)

// Scope tags the operations after which an acquisition value must be
// re-applied to the hardware.
type Scope uint8

const (
	ScopeNever Scope = 1 << iota
	ScopeMapping
	ScopeMCA
)

func (s Scope) String() string {
	switch s {
	case ScopeNever:
		return "never"
	case ScopeMapping:
		return "mapping"
	case ScopeMCA:
		return "mca"
	case ScopeMapping | ScopeMCA:
		return "mapping|mca"
	default:
		return "scope(" + strconv.Itoa(int(s)) + ")"
	}
}

// MappingMode is the acquisition mode of a module.
type MappingMode uint16

const (
	MappingNone MappingMode = iota
	MappingMCA
	MappingSCA
	MappingList
)

func (m MappingMode) String() string {
	switch m {
	case MappingNone:
		return "none"
	case MappingMCA:
		return "mca"
	case MappingSCA:
		return "sca"
	case MappingList:
		return "list"
	default:
		return "mapping(" + strconv.Itoa(int(m)) + ")"
	}
}

// mask returns the isMapping selector bit for m.
func (m MappingMode) mask() uint16 {
	switch m {
	case MappingMCA:
		return mapMCA
	case MappingSCA:
		return mapSCA
	case MappingList:
		return mapList
	}
	return 0
}

const (
	mapMCA  = 0x1
	mapSCA  = 0x2
	mapList = 0x4
	mapAny  = mapMCA | mapSCA | mapList
)

// List mode variants.
const (
	ListModeXMAP32 = iota
	ListModeXMAP1616
	ListModeClock
)

// PreampType is the detector preamplifier type.
type PreampType uint8

const (
	PreampReset PreampType = iota
	PreampRC
)

func (p PreampType) String() string {
	switch p {
	case PreampReset:
		return "RESET"
	case PreampRC:
		return "RC_FEEDBACK"
	default:
		return "preamp(" + strconv.Itoa(int(p)) + ")"
	}
}

// Role is the master role a module plays on the backplane.
type Role uint8

const (
	RoleNone Role = iota
	RoleGate
	RoleSync
	RoleLBus
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleGate:
		return "gate"
	case RoleSync:
		return "sync"
	case RoleLBus:
		return "lbus"
	default:
		return "role(" + strconv.Itoa(int(r)) + ")"
	}
}

// setting returns the acquisition value holding the state of r.
func (r Role) setting() string {
	switch r {
	case RoleGate:
		return "gate_master"
	case RoleSync:
		return "sync_master"
	case RoleLBus:
		return "lbus_master"
	}
	return ""
}

var roles = []Role{RoleGate, RoleSync, RoleLBus}

// Board registers.
const (
	regMCR     = "MCR"
	regMFR     = "MFR"
	regCSR     = "CSR"
	regCVR     = "CVR"
	regSVR     = "SVR"
	regVAR     = "VAR"
	regSyncCnt = "SYNCCNT"
	regClrBuf  = "CLRBUFSIZE"
)

// Register bits.
const (
	mcrGateIn       = 0
	mcrSyncIn       = 1
	mcrLogicPol     = 2
	mcrMaster       = 3
	mcrPixelAdvSync = 4
	mcrGateIgnore   = 5

	mfrBufAFull   = 1
	mfrBufADone   = 2
	mfrBufAEmpty  = 3
	mfrBufBFull   = 5
	mfrBufBDone   = 6
	mfrBufBEmpty  = 7
	mfrStartRun   = 12
	mfrPixelNext  = 13
	mfrBufSwitch  = 14
	mfrBufOverrun = 15

	csrRunEnable = 0
	csrResetMCA  = 1
	csrSyncRun   = 4
	csrRunActive = 16
)

// Control tasks.
const (
	TaskApply   = "apply"
	TaskWakeDSP = "wake_dsp"
)

// Firmware download targets.
const (
	TargetFiPPI       = "a_and_b"
	TargetFiPPINoWake = "a_and_b_dsp_no_wake"
	TargetSystemFPGA  = "system_fpga"
)

// round rounds half away from zero for non-negative values.
func round(x float64) float64 {
	return math.Floor(x + 0.5)
}

func bit(v uint32, i int) bool {
	return (v>>i)&1 == 1
}
