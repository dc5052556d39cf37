// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

const (
	nChans = 4

	clockTick = 1.0 / 50.0e6 // s

	nRegs      = 16
	nParams    = 256 // DSP parameters per channel
	dataWords  = 0x1000
	statsWords = 256
	maxMCALen  = 16384
	burstWords = statsWords + nChans*maxMCALen
	bufWords   = 0x10000

	bufferAAddr = 0x4000000
	bufferBAddr = 0x6000000

	// byte offsets of the memory spaces in the board image.
	offRegs   = 0
	offParams = offRegs + nRegs*4
	offData   = offParams + nChans*nParams*2
	offBurst  = offData + dataWords*4
	offBufA   = offBurst + burstWords*4
	offBufB   = offBufA + bufWords*4

	imageSize = offBufB + bufWords*4

	magic = 0x584d4150 // "XMAP"
)

var regs = map[string]int{
	"MCR":        0,
	"MFR":        1,
	"CSR":        2,
	"CVR":        3,
	"SVR":        4,
	"VAR":        5,
	"SYNCCNT":    6,
	"CLRBUFSIZE": 7,
}

const regMagic = nRegs - 1

// Register bits.
const (
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
	csrRunActive = 16

	mfrCommands = 1<<mfrBufADone | 1<<mfrBufBDone | 1<<mfrStartRun | 1<<mfrPixelNext | 1<<mfrBufSwitch
	mfrStatus   = 1<<mfrBufAFull | 1<<mfrBufAEmpty | 1<<mfrBufBFull | 1<<mfrBufBEmpty | 1<<mfrBufOverrun
)

// Word offsets of the counters in the per-channel statistics record.
const (
	statsStride     = 0x40
	statsRealtime   = 0x0
	statsTLivetime  = 0x2
	statsELivetime  = 0x4
	statsTriggers   = 0x6
	statsEvents     = 0x8
	statsUnderflows = 0xA
	statsOverflows  = 0xC
)

// dspParams lists the DSP parameters of the simulated firmware, in
// parameter-memory order.
var dspParams = []string{
	"MAPPINGMODE", "PIXPERBUF", "NUMPIXELS", "NUMPIXELSA", "PIXELNUM",
	"PIXELNUMA", "DECIMATION", "MODNUM", "SCAMAPMODE", "DETCHANNEL",
	"DETELEMENT", "SLOWLEN", "SLOWGAP", "PEAKINT", "PEAKSAM", "PEAKMODE",
	"FASTLEN", "FASTGAP", "FSCALE", "THRESHOLD", "SLOWTHRESH", "BASETHRESH",
	"GAINDAC", "BINSCALE", "ESCALE", "MCALIMLO", "MCALIMHI", "BLAVGDIV",
	"MAXWIDTH", "RESETINT", "POLARITY", "RCTAU", "RCTAUFRAC", "PRESETTYPE",
	"PRESETLEN", "PRESETLENA", "PRESETLENB", "PRESETLENC", "NUMSCA",
	"SCALPTR", "SCAHPTR", "SCAMEMBASE", "GATEMODE", "LISTMODEVARIANT",
	"LISTBUFALEN", "LISTBUFALENA", "LISTBUFBLEN", "LISTBUFBLENA",
}

// globalParams are shared by the 4 channels of a module and live in the
// parameter memory of channel 0.
var globalParams = map[string]bool{
	"MAPPINGMODE": true,
	"PIXPERBUF":   true,
	"NUMPIXELS":   true,
	"NUMPIXELSA":  true,
	"PIXELNUM":    true,
	"PIXELNUMA":   true,
	"DECIMATION":  true,
	"MODNUM":      true,
}

// paramDefaults are the values of the DSP parameters after power-up.
var paramDefaults = map[string]uint16{
	"SCALPTR":    0x100,
	"SCAHPTR":    0x140,
	"SCAMEMBASE": 0x10,
	"MAXWIDTH":   50,
	"MCALIMHI":   2048,
	"PEAKMODE":   1,
}

var paramIndex = func() map[string]int {
	o := make(map[string]int, len(dspParams))
	for i, name := range dspParams {
		o[name] = i
	}
	return o
}()
