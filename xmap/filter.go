// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Peak modes.
const (
	PeakSensing  = 0
	PeakSampling = 1
)

// decTick returns the duration of a decimated clock tick, in us.
func decTick(dec uint16) float64 {
	return math.Ldexp(tickUs, int(dec))
}

// slowFilterLength returns SLOWLEN for a peaking time (in us) at the
// given decimation.
func slowFilterLength(pt float64, dec uint16) (uint16, error) {
	sl := round(pt / decTick(dec))
	if sl < minSlowLen || sl > maxSlowLen || math.IsNaN(sl) {
		return 0, fmt.Errorf("xmap: SLOWLEN=%v (pt=%v us, decimation=%d) not in [%d, %d]: %w",
			sl, pt, dec, minSlowLen, maxSlowLen, ErrSlowFilterOutOfRange,
		)
	}
	return uint16(sl), nil
}

// slowGapLength returns SLOWGAP for a minimum gap time (in us) at the
// given decimation. The gap is at least 3 decimated ticks when the signal
// is decimated.
func slowGapLength(minGap float64, dec uint16) (uint16, error) {
	gap := minGap
	if dec != 0 {
		gap = math.Max(3*decTick(dec), minGap)
	}
	sg := round(gap / decTick(dec))
	if sg < 0 || sg > maxSlowGap || math.IsNaN(sg) {
		return 0, fmt.Errorf("xmap: SLOWGAP=%v (gap=%v us, decimation=%d) not in [0, %d]: %w",
			sg, gap, dec, maxSlowGap, ErrSlowFilterOutOfRange,
		)
	}
	return uint16(sg), nil
}

// offsetTicks returns the user peak offset for the given decimation, in
// decimated ticks, if one is set.
func (ch *Channel) offsetTicks(prefix string, dec uint16) (uint16, bool) {
	v, ok := ch.defs.Get(prefix + strconv.Itoa(int(dec)))
	if !ok || v < 0 {
		return 0, false
	}
	return uint16(v / decTick(dec)), true
}

// filterInfo returns the filter of the FiPPI tagged with the detector
// type, falling back on the first FiPPI covering pt.
func (ch *Channel) filterInfo(pt float64) (FilterInfo, error) {
	db := ch.mod.fdd
	info, err := db.FilterInfo(pt, []string{ch.mod.det.Type.String()})
	if err == nil {
		return info, nil
	}
	return db.FilterInfo(pt, nil)
}

// updateFilterParams recomputes the energy filter for a peaking time
// (in us), then the gain that depends on it.
// All lengths are checked before the first parameter is written.
func (ch *Channel) updateFilterParams(pt float64) error {
	info, err := ch.filterInfo(pt)
	if err != nil {
		return fmt.Errorf("xmap: could not get filter info (pt=%v): %w", pt, err)
	}
	if len(info.Coeffs) != 2 {
		return fmt.Errorf("xmap: invalid number of filter coefficients (got=%d, want=2): %w",
			len(info.Coeffs), ErrValidation,
		)
	}

	dec := ch.param("DECIMATION")
	if err := ch.flush(); err != nil {
		return err
	}

	sl, err := slowFilterLength(pt, dec)
	if err != nil {
		return err
	}
	sg, err := slowGapLength(ch.val("minimum_gap_time"), dec)
	if err != nil {
		return err
	}
	if int(sl)+int(sg) > maxSlowFilter {
		return fmt.Errorf("xmap: SLOWLEN+SLOWGAP=%d+%d exceeds %d: %w",
			sl, sg, maxSlowFilter, ErrSlowFilterOutOfRange,
		)
	}

	pi := info.Coeffs[0]
	if v, ok := ch.offsetTicks("peak_interval_offset", dec); ok {
		pi = v
	}

	mode := uint16(ch.val("peak_mode"))
	ps := info.Coeffs[1]
	if v, ok := ch.offsetTicks("peak_sample_offset", dec); ok {
		ps = v
	}
	if mode != PeakSensing && ps > sl+sg {
		return fmt.Errorf("xmap: peak sample offset %d exceeds filter length %d: %w",
			ps, sl+sg, ErrSlowFilterOutOfRange,
		)
	}

	ch.setParam("SLOWLEN", sl)
	ch.setParam("SLOWGAP", sg)
	ch.setParam("PEAKINT", sl+sg+pi)
	ch.setParam("PEAKMODE", mode)
	if mode != PeakSensing {
		ch.setParam("PEAKSAM", sl+sg-ps)
	}

	if err := ch.flush(); err != nil {
		return err
	}
	return ch.updateGain()
}

func setPeakingTime(ch *Channel, name string, v float64) (float64, error) {
	m := ch.mod
	_, err := ch.ensureLoaded(KindFiPPI, TargetFiPPI, criteria{pt: v, detType: m.det.Type.String()})
	if err != nil {
		return v, err
	}

	err = ch.updateFilterParams(v)
	if err != nil {
		return v, err
	}

	sl := ch.param("SLOWLEN")
	dec := ch.param("DECIMATION")
	if err := ch.flush(); err != nil {
		return v, err
	}
	return float64(sl) * decTick(dec), nil
}

// setGapTime does nothing: the gap time derives from the peaking time and
// the minimum gap time.
func setGapTime(ch *Channel, name string, v float64) (float64, error) {
	return v, nil
}

func getGapTime(ch *Channel) (float64, error) {
	sg := ch.param("SLOWGAP")
	dec := ch.param("DECIMATION")
	if err := ch.flush(); err != nil {
		return 0, err
	}
	return float64(sg) * decTick(dec), nil
}

func setMinGapTime(ch *Channel, name string, v float64) (float64, error) {
	if v < 0 {
		return v, fmt.Errorf("xmap: negative minimum gap time: %w", ErrValidation)
	}
	ch.defs.Set("minimum_gap_time", v)
	return v, ch.updateFilterParams(ch.val("peaking_time"))
}

func setPeakMode(ch *Channel, name string, v float64) (float64, error) {
	switch v {
	case PeakSensing, PeakSampling:
	default:
		return v, fmt.Errorf("xmap: invalid peak mode %v: %w", v, ErrValidation)
	}
	ch.defs.Set("peak_mode", v)
	return v, ch.updateFilterParams(ch.val("peaking_time"))
}

func setPeakSampleOffset(ch *Channel, name string, v float64) (float64, error) {
	return ch.setPeakOffset("peak_sample_offset", name, v)
}

func setPeakIntervalOffset(ch *Channel, name string, v float64) (float64, error) {
	return ch.setPeakOffset("peak_interval_offset", name, v)
}

// setPeakOffset stores a per-decimation peak offset (in us). The filter is
// only recomputed when the offset applies to the current decimation.
func (ch *Channel) setPeakOffset(prefix, name string, v float64) (float64, error) {
	dec, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil {
		return v, fmt.Errorf("xmap: invalid offset name %q: %w", name, ErrUnknownName)
	}
	switch dec {
	case 0, 2, 4, 6:
	default:
		return v, fmt.Errorf("xmap: invalid decimation %d in %q (want 0, 2, 4 or 6): %w", dec, name, ErrValidation)
	}
	if v < 0 {
		return v, fmt.Errorf("xmap: negative peak offset %v: %w", v, ErrValidation)
	}

	cur := ch.param("DECIMATION")
	if err := ch.flush(); err != nil {
		return v, err
	}

	if dec == int(cur) {
		ch.defs.Set(name, v)
		err = ch.updateFilterParams(ch.val("peaking_time"))
		if err != nil {
			return v, err
		}
	}

	tick := decTick(uint16(dec))
	return round(v/tick) * tick, nil
}

// updateTrigFilterParams recomputes the trigger filter from the stored
// trigger peaking and gap times.
// Unlike the energy filter, an oversized gap is clamped, not rejected.
func (ch *Channel) updateTrigFilterParams() error {
	var (
		tpt = ch.val("trigger_peaking_time")
		tgt = ch.val("trigger_gap_time")
	)

	fl := round(tpt / tickUs)
	if fl < minFastLen || fl > maxFastLen || math.IsNaN(fl) {
		return fmt.Errorf("xmap: FASTLEN=%v (pt=%v us) not in [%d, %d]: %w",
			fl, tpt, minFastLen, maxFastLen, ErrFastFilterOutOfRange,
		)
	}

	fg := round(tgt / tickUs)
	if fg < 0 || math.IsNaN(fg) {
		return fmt.Errorf("xmap: invalid FASTGAP=%v (gap=%v us): %w", fg, tgt, ErrFastFilterOutOfRange)
	}
	if fl+fg > maxFastFilter {
		ch.mod.msg.Printf(
			"FASTLEN+FASTGAP=%v+%v exceeds %d (detChan=%d): clamping FASTGAP to %v",
			fl, fg, maxFastFilter, ch.det, maxFastFilter-fl,
		)
		fg = maxFastFilter - fl
	}

	fscale := math.Ceil(math.Log2(fl)) - 1

	ch.setParam("FASTLEN", uint16(fl))
	ch.setParam("FASTGAP", uint16(fg))
	ch.setParam("FSCALE", uint16(fscale))
	if err := ch.flush(); err != nil {
		return err
	}

	ch.defs.Set("trigger_peaking_time", fl*tickUs)
	ch.defs.Set("trigger_gap_time", fg*tickUs)
	return nil
}

func setTrigPeakingTime(ch *Channel, name string, v float64) (float64, error) {
	ch.defs.Set("trigger_peaking_time", v)
	err := ch.updateTrigFilterParams()
	if err != nil {
		return v, err
	}
	return ch.val("trigger_peaking_time"), nil
}

func setTrigGapTime(ch *Channel, name string, v float64) (float64, error) {
	ch.defs.Set("trigger_gap_time", v)
	err := ch.updateTrigFilterParams()
	if err != nil {
		return v, err
	}
	return ch.val("trigger_gap_time"), nil
}
