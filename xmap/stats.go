// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"math"
)

// Word offsets of the counters in the per-channel statistics record.
const (
	statsRealtime   = 0x0
	statsTLivetime  = 0x2
	statsELivetime  = 0x4
	statsTriggers   = 0x6
	statsEvents     = 0x8
	statsUnderflows = 0xA
	statsOverflows  = 0xC
	statsReserved   = 0xE
)

// Statistics holds the run statistics of a channel.
// Times are in seconds, rates in counts per second.
type Statistics struct {
	Realtime        float64 `json:"realtime"`
	TriggerLivetime float64 `json:"trigger_livetime"`
	EnergyLivetime  float64 `json:"energy_livetime"`
	Triggers        float64 `json:"triggers"`
	Events          float64 `json:"events"`
	Underflows      float64 `json:"underflows"`
	Overflows       float64 `json:"overflows"`
	Reserved        float64 `json:"reserved"`

	ICR float64 `json:"input_count_rate"`
	OCR float64 `json:"output_count_rate"`
}

// TotalEvents returns the number of events in the spectrum plus the
// events that fell outside of it.
func (st Statistics) TotalEvents() float64 {
	return st.Events + st.Underflows + st.Overflows
}

// counter decodes the 64-bit counter stored as 2 32-bit words, low word
// first, at block[i].
func counter(block []uint32, i int) float64 {
	return float64(block[i]) + float64(block[i+1])*math.Ldexp(1, 32)
}

// decodeStatistics extracts the statistics of module channel ch from a
// statistics block. Tick counters are converted to seconds with tick.
// The block must hold at least memBlockSize words.
func decodeStatistics(block []uint32, ch int, tick float64) Statistics {
	var (
		base = ch * scaChanOffset
		st   = Statistics{
			Realtime:        counter(block, base+statsRealtime) * tick * 16,
			TriggerLivetime: counter(block, base+statsTLivetime) * tick * 16,
			EnergyLivetime:  counter(block, base+statsELivetime) * tick * 16,
			Triggers:        counter(block, base+statsTriggers),
			Events:          counter(block, base+statsEvents),
			Underflows:      counter(block, base+statsUnderflows),
			Overflows:       counter(block, base+statsOverflows),
			Reserved:        counter(block, base+statsReserved),
		}
	)
	if st.TriggerLivetime > 0 {
		st.ICR = st.Triggers / st.TriggerLivetime
	}
	if st.Realtime > 0 {
		st.OCR = st.TotalEvents() / st.Realtime
	}
	return st
}

// statsBlock reads the statistics block of the module.
func (m *Module) statsBlock() ([]uint32, error) {
	block := m.brd.readMem(MemorySpec{Space: SpaceBurst, Addr: 0, Len: memBlockSize})
	if err := m.brd.flush(); err != nil {
		return nil, err
	}
	if len(block) < memBlockSize {
		return nil, hwErr(errShortBlock, "read statistics block (got=%d words)", len(block))
	}
	return block, nil
}

func (ch *Channel) statistics() (Statistics, error) {
	block, err := ch.mod.statsBlock()
	if err != nil {
		return Statistics{}, err
	}
	return decodeStatistics(block, ch.idx, clockTick), nil
}

// moduleStatistics returns the statistics of all the module channels,
// n values per channel:
//  - 7: realtime, trigger livetime, energy livetime, triggers, events, ICR, OCR
//  - 9: the 7 above, then underflows and overflows.
func (m *Module) moduleStatistics(n int) ([]float64, error) {
	block, err := m.statsBlock()
	if err != nil {
		return nil, err
	}
	o := make([]float64, 0, nChans*n)
	for i := 0; i < nChans; i++ {
		st := decodeStatistics(block, i, clockTick)
		o = append(o,
			st.Realtime, st.TriggerLivetime, st.EnergyLivetime,
			st.Triggers, st.Events, st.ICR, st.OCR,
		)
		if n == 9 {
			o = append(o, st.Underflows, st.Overflows)
		}
	}
	return o, nil
}
