// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/xiallc/Handel-Releases-sub004/xmap"
)

// Source describes the radiation seen by the detector channels during
// an acquisition.
type Source struct {
	Rate     float64 // counts per second per channel
	Peak     float64 // position of the line, as a fraction of the spectrum
	Width    float64 // standard deviation of the line, as a fraction of the spectrum
	Fraction float64 // fraction of the counts in the line, the rest is flat
	DeadTime float64 // fraction of the real time the channel is busy
}

// DefaultSource is a single line on a flat background.
var DefaultSource = Source{
	Rate:     1e4,
	Peak:     0.3,
	Width:    0.01,
	Fraction: 0.8,
	DeadTime: 0.1,
}

// Acquire simulates d of acquisition. Nothing happens unless a run is
// active. Counters and spectra of the 4 channels are updated; the
// spectrum length of a channel is its MCALIMHI parameter.
func (brd *Board) Acquire(d time.Duration, src Source, rnd *rand.Rand) error {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	csr, err := brd.r32(offRegs + int64(regs["CSR"])*4)
	if err != nil {
		return err
	}
	if csr&(1<<csrRunActive) == 0 {
		return nil
	}

	var (
		ticks = d.Seconds() / (clockTick * 16)
		live  = ticks * (1 - src.DeadTime)
	)
	for ch := 0; ch < nChans; ch++ {
		n, err := brd.param(ch, "MCALIMHI")
		if err != nil {
			return err
		}
		err = brd.acquire(ch, int(n), ticks, live, d, src, rnd)
		if err != nil {
			return fmt.Errorf("sim: could not acquire on channel %d: %w", ch, err)
		}
	}
	return nil
}

func (brd *Board) acquire(ch, mcaLen int, ticks, live float64, d time.Duration, src Source, rnd *rand.Rand) error {
	var (
		base   = uint32(ch * statsStride)
		ntrigs = poisson(rnd, src.Rate*d.Seconds())
		nevts  = int(math.Round(float64(ntrigs) * (1 - src.DeadTime)))
		spec   = make([]uint32, mcaLen)
		under  uint64
		over   uint64
	)

	if mcaLen > 0 {
		addr := uint32(statsWords + ch*mcaLen)
		off, err := memOffset(xmap.SpaceBurst, addr, mcaLen)
		if err != nil {
			return err
		}
		for i := range spec {
			spec[i], err = brd.r32(off + int64(i)*4)
			if err != nil {
				return err
			}
		}
	}

	var evts uint64
	for i := 0; i < nevts; i++ {
		var x float64
		switch {
		case rnd.Float64() < src.Fraction:
			x = (src.Peak + src.Width*rnd.NormFloat64()) * float64(mcaLen)
		default:
			x = rnd.Float64() * float64(mcaLen)
		}
		bin := int(math.Floor(x))
		switch {
		case bin < 0:
			under++
		case bin >= mcaLen:
			over++
		default:
			spec[bin]++
			evts++
		}
	}

	if mcaLen > 0 {
		err := brd.writeMem(xmap.SpaceBurst, uint32(statsWords+ch*mcaLen), spec)
		if err != nil {
			return err
		}
	}

	for _, c := range []struct {
		off uint32
		v   uint64
	}{
		{statsRealtime, uint64(math.Round(ticks))},
		{statsTLivetime, uint64(math.Round(live))},
		{statsELivetime, uint64(math.Round(live))},
		{statsTriggers, uint64(ntrigs)},
		{statsEvents, evts},
		{statsUnderflows, under},
		{statsOverflows, over},
	} {
		err := brd.addCounter(base+c.off, c.v)
		if err != nil {
			return err
		}
	}
	return nil
}

// addCounter adds v to the 64-bit counter stored at word addr of the
// burst memory, low word first.
func (brd *Board) addCounter(addr uint32, v uint64) error {
	off, err := memOffset(xmap.SpaceBurst, addr, 2)
	if err != nil {
		return err
	}
	lo, err := brd.r32(off)
	if err != nil {
		return err
	}
	hi, err := brd.r32(off + 4)
	if err != nil {
		return err
	}
	cnt := uint64(lo) | uint64(hi)<<32
	cnt += v
	err = brd.w32(off, uint32(cnt))
	if err != nil {
		return err
	}
	return brd.w32(off+4, uint32(cnt>>32))
}

// poisson draws a Poisson-distributed number of mean lambda.
func poisson(rnd *rand.Rand, lambda float64) int {
	switch {
	case lambda <= 0:
		return 0
	case lambda > 100:
		n := int(math.Round(lambda + math.Sqrt(lambda)*rnd.NormFloat64()))
		if n < 0 {
			n = 0
		}
		return n
	}
	var (
		l = math.Exp(-lambda)
		k = 0
		p = 1.0
	)
	for {
		p *= rnd.Float64()
		if p <= l {
			return k
		}
		k++
	}
}

// FillBuffer writes data to mapping buffer buf ("a" or "b") and marks it
// full. Filling a buffer that is already full flags an overrun.
func (brd *Board) FillBuffer(buf string, data []uint32) error {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	var (
		idx  int
		addr uint32
	)
	switch buf {
	case "a":
		idx, addr = 0, bufferAAddr
	case "b":
		idx, addr = 1, bufferBAddr
	default:
		return fmt.Errorf("sim: invalid buffer %q", buf)
	}

	err := brd.writeMem(xmap.SpaceExternal, addr, data)
	if err != nil {
		return err
	}

	off := offRegs + int64(regs["MFR"])*4
	mfr, err := brd.r32(off)
	if err != nil {
		return err
	}
	return brd.w32(off, markFull(mfr, idx))
}
