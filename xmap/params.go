// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"fmt"
	"math"
)

// Preset run types.
const (
	PresetStandard = iota // run until stopped
	PresetRealtime
	PresetLivetime
	PresetOutputEvents
	PresetInputCounts
)

func setNumMCAChans(ch *Channel, name string, v float64) (float64, error) {
	n := math.Floor(v/mcaChanQuant) * mcaChanQuant
	if n != v {
		ch.mod.msg.Printf(
			"number of MCA channels %v is not a multiple of %d (detChan=%d): using %v",
			v, mcaChanQuant, ch.det, n,
		)
	}
	if n < minMCAChans || n > maxMCAChans || math.IsNaN(n) {
		return v, fmt.Errorf("xmap: number of MCA channels %v not in [%d, %d]: %w",
			n, minMCAChans, maxMCAChans, ErrValidation,
		)
	}

	lo := ch.param("MCALIMLO")
	if err := ch.flush(); err != nil {
		return v, err
	}
	hi := float64(lo) + n
	if hi > math.MaxUint16 {
		return v, fmt.Errorf("xmap: MCALIMHI=%v does not fit: %w", hi, ErrValidation)
	}
	ch.setParam("MCALIMHI", uint16(hi))
	return n, ch.flush()
}

func setPolarity(ch *Channel, name string, v float64) (float64, error) {
	if v != 0 && v != 1 {
		return v, fmt.Errorf("xmap: invalid detector polarity %v: %w", v, ErrValidation)
	}
	ch.setParam("POLARITY", uint16(v))
	if err := ch.flush(); err != nil {
		return v, err
	}
	ch.mod.det.Polarity[ch.elem] = uint16(v)
	return v, nil
}

func syncPolarity(ch *Channel) error {
	ch.defs.Set("detector_polarity", float64(ch.mod.det.Polarity[ch.elem]))
	return nil
}

func setResetDelay(ch *Channel, name string, v float64) (float64, error) {
	if ch.mod.det.Type != PreampReset {
		return v, nil
	}
	ri := round(v / tickUs)
	if ri < 0 || ri > math.MaxUint16 || math.IsNaN(ri) {
		return v, fmt.Errorf("xmap: reset delay %v us out of range: %w", v, ErrValidation)
	}
	ch.setParam("RESETINT", uint16(ri))
	if err := ch.flush(); err != nil {
		return v, err
	}
	ch.mod.det.TypeValue[ch.elem] = v
	return v, nil
}

func syncResetDelay(ch *Channel) error {
	if ch.mod.det.Type != PreampReset {
		return nil
	}
	ch.defs.Set("reset_delay", ch.mod.det.TypeValue[ch.elem])
	return nil
}

func setDecayTime(ch *Channel, name string, v float64) (float64, error) {
	if ch.mod.det.Type != PreampRC {
		return v, nil
	}
	if v < 0 || v > math.MaxUint16 || math.IsNaN(v) {
		return v, fmt.Errorf("xmap: decay time %v us out of range: %w", v, ErrValidation)
	}
	whole, frac := math.Modf(v)
	f := math.Min(round(frac*65536), math.MaxUint16)
	ch.setParam("RCTAU", uint16(whole))
	ch.setParam("RCTAUFRAC", uint16(f))
	if err := ch.flush(); err != nil {
		return v, err
	}
	ch.mod.det.TypeValue[ch.elem] = v
	return v, nil
}

func syncDecayTime(ch *Channel) error {
	if ch.mod.det.Type != PreampRC {
		return nil
	}
	ch.defs.Set("decay_time", ch.mod.det.TypeValue[ch.elem])
	return nil
}

func setBaselineAverage(ch *Channel, name string, v float64) (float64, error) {
	if v < 2 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v, fmt.Errorf("xmap: invalid baseline average length %v: %w", v, ErrValidation)
	}
	div := round(math.Log2(v)) - 1
	if div > math.MaxUint16 {
		return v, fmt.Errorf("xmap: baseline average length %v too large: %w", v, ErrValidation)
	}
	ch.setParam("BLAVGDIV", uint16(div))
	return v, ch.flush()
}

func setPresetType(ch *Channel, name string, v float64) (float64, error) {
	switch v {
	case PresetStandard, PresetRealtime, PresetLivetime, PresetOutputEvents, PresetInputCounts:
	default:
		return v, fmt.Errorf("xmap: unknown preset run type %v: %w", v, ErrValidation)
	}
	ch.setParam("PRESETTYPE", uint16(v))
	return v, ch.flush()
}

// setPresetValue sets the preset run length. Time presets are in seconds,
// count presets in counts.
func setPresetValue(ch *Channel, name string, v float64) (float64, error) {
	typ := ch.param("PRESETTYPE")
	if err := ch.flush(); err != nil {
		return v, err
	}
	if v < 0 || math.IsNaN(v) {
		return v, fmt.Errorf("xmap: invalid preset value %v: %w", v, ErrValidation)
	}

	var n float64
	switch typ {
	case PresetStandard:
		return v, nil
	case PresetRealtime, PresetLivetime:
		n = v / (clockTick * 16)
	case PresetOutputEvents, PresetInputCounts:
		n = v
	default:
		return v, fmt.Errorf("xmap: unknown preset run type %d on DSP: %w", typ, ErrValidation)
	}
	if n >= math.Ldexp(1, 64) {
		return v, fmt.Errorf("xmap: preset value %v too large: %w", v, ErrValidation)
	}

	var (
		u  = uint64(n)
		lo = uint32(u)
		hi = uint32(u >> 32)
	)
	ch.setParam("PRESETLEN", uint16(lo&0xFFFF))
	ch.setParam("PRESETLENA", uint16(lo>>16))
	ch.setParam("PRESETLENB", uint16(hi&0xFFFF))
	ch.setParam("PRESETLENC", uint16(hi>>16))
	return v, ch.flush()
}

func setMaxWidth(ch *Channel, name string, v float64) (float64, error) {
	w := round(v / tickUs)
	if w < minMaxWidth || w > maxMaxWidth || math.IsNaN(w) {
		return v, fmt.Errorf("xmap: MAXWIDTH=%v (%v us) not in [%d, %d]: %w",
			w, v, minMaxWidth, maxMaxWidth, ErrValidation,
		)
	}
	ch.setParam("MAXWIDTH", uint16(w))
	if err := ch.flush(); err != nil {
		return v, err
	}
	return w * tickUs, nil
}
