// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"fmt"
	"math"
)

// gainParams are the DSP representations of the analog gain and of the
// energy to bin scaling.
type gainParams struct {
	GAINDAC  uint16
	BINSCALE uint16
	ESCALE   uint16
}

// gainInputs are the acquisition values the gain is derived from.
type gainInputs struct {
	calib    float64 // calibration energy, eV
	adcRule  float64 // ADC percent rule, %
	preamp   float64 // preamp gain, mV/keV
	binWidth float64 // eV per MCA bin
}

func (g gainInputs) eVPerADC() float64 {
	return g.calib / ((g.adcRule / 100.0) * adcRange)
}

// calculateGain computes GAINDAC, BINSCALE and ESCALE for a slow filter
// of length slowLen.
//
// When the variable gain falls outside of the amplifier range because of
// the rounding of BINSCALE, BINSCALE is nudged toward its exact value a
// bounded number of times before giving up.
func calculateGain(in gainInputs, slowLen uint16) (gainParams, error) {
	var (
		p       gainParams
		totGain = ((in.adcRule / 100.0) * inputRangeMV) / ((in.calib / 1000.0) * in.preamp)
		escale  = math.Max(0, math.Ceil(math.Log2(float64(slowLen)))-3)
	)

	p.ESCALE = uint16(round(escale))
	binscale := math.Ldexp((in.binWidth/in.eVPerADC())*float64(slowLen), -int(p.ESCALE))
	bs := round(binscale)

	var dB float64
	for i := 0; i < gainIters; i++ {
		ratio := bs / binscale
		dB = 20 * math.Log10(totGain*ratio/systemGain)
		if dB >= minGainDB && dB <= maxGainDB {
			break
		}
		if bs > binscale {
			bs--
		} else {
			bs++
		}
	}

	if dB < minGainDB || dB > maxGainDB || math.IsNaN(dB) {
		return p, fmt.Errorf("xmap: variable gain %v dB not in [%v, %v] dB: %w",
			dB, minGainDB, maxGainDB, ErrGainOutOfRange,
		)
	}

	if bs < 0 || bs > math.MaxUint16 {
		return p, fmt.Errorf("xmap: BINSCALE=%v out of range: %w", bs, ErrGainOutOfRange)
	}
	p.BINSCALE = uint16(bs)
	p.GAINDAC = uint16(round((dB + gainDACOffset) * (65536 / gainDACRange)))
	return p, nil
}

func (ch *Channel) gainInputs() gainInputs {
	return gainInputs{
		calib:    ch.val("calibration_energy"),
		adcRule:  ch.val("adc_percent_rule"),
		preamp:   ch.mod.det.Gain[ch.elem],
		binWidth: ch.val("mca_bin_width"),
	}
}

// updateGain recomputes the gain from the current settings and the
// slow filter length found on the DSP, then re-applies the thresholds.
func (ch *Channel) updateGain() error {
	slowLen := ch.param("SLOWLEN")
	if err := ch.flush(); err != nil {
		return err
	}

	p, err := calculateGain(ch.gainInputs(), slowLen)
	if err != nil {
		return err
	}

	ch.setParam("GAINDAC", p.GAINDAC)
	ch.setParam("BINSCALE", p.BINSCALE)
	ch.setParam("ESCALE", p.ESCALE)
	if err := ch.flush(); err != nil {
		return err
	}

	// thresholds are stored in eV but applied in ADC units.
	for _, th := range []struct {
		name string
		set  setFunc
	}{
		{"trigger_threshold", setTriggerThreshold},
		{"baseline_threshold", setBaselineThreshold},
		{"energy_threshold", setEnergyThreshold},
	} {
		_, err = th.set(ch, th.name, ch.val(th.name))
		if err != nil {
			return fmt.Errorf("xmap: could not update %s: %w", th.name, err)
		}
	}
	return nil
}

func (ch *Channel) setThreshold(param string, v float64) (float64, error) {
	eV := ch.gainInputs().eVPerADC()
	t := round(v / eV)
	if t < 0 || t > math.MaxUint16 || math.IsNaN(t) {
		return v, fmt.Errorf("xmap: %s=%v (%v eV) does not fit: %w", param, t, v, ErrThresholdOutOfRange)
	}
	ch.setParam(param, uint16(t))
	if err := ch.flush(); err != nil {
		return v, err
	}
	return t * eV, nil
}

func setTriggerThreshold(ch *Channel, name string, v float64) (float64, error) {
	return ch.setThreshold("THRESHOLD", v)
}

func setBaselineThreshold(ch *Channel, name string, v float64) (float64, error) {
	return ch.setThreshold("BASETHRESH", v)
}

func setEnergyThreshold(ch *Channel, name string, v float64) (float64, error) {
	return ch.setThreshold("SLOWTHRESH", v)
}

func setCalibrationEnergy(ch *Channel, name string, v float64) (float64, error) {
	if v <= 0 {
		return v, fmt.Errorf("xmap: calibration energy must be positive: %w", ErrValidation)
	}
	ch.defs.Set("calibration_energy", v)
	ch.defs.Set("adc_percent_rule", v/(ch.val("dynamic_range")/40))
	return v, ch.updateGain()
}

func setADCRule(ch *Channel, name string, v float64) (float64, error) {
	if v <= 0 {
		return v, fmt.Errorf("xmap: ADC percent rule must be positive: %w", ErrValidation)
	}
	ch.defs.Set("adc_percent_rule", v)
	ch.defs.Set("dynamic_range", ch.val("calibration_energy")/v*40)
	return v, ch.updateGain()
}

func setDynamicRange(ch *Channel, name string, v float64) (float64, error) {
	if v <= 0 {
		return v, fmt.Errorf("xmap: dynamic range must be positive: %w", ErrValidation)
	}
	ch.defs.Set("adc_percent_rule", ch.val("calibration_energy")*40/v)
	return v, ch.updateGain()
}

func setMCABinWidth(ch *Channel, name string, v float64) (float64, error) {
	if v <= 0 {
		return v, fmt.Errorf("xmap: MCA bin width must be positive: %w", ErrValidation)
	}
	ch.defs.Set("mca_bin_width", v)
	return v, ch.updateGain()
}

func setPreampGain(ch *Channel, name string, v float64) (float64, error) {
	if v <= 0 {
		return v, fmt.Errorf("xmap: preamp gain must be positive: %w", ErrValidation)
	}
	det := ch.mod.det
	old := det.Gain[ch.elem]
	det.Gain[ch.elem] = v
	err := ch.updateGain()
	if err != nil {
		det.Gain[ch.elem] = old
		return v, err
	}
	return v, nil
}

func syncPreampGain(ch *Channel) error {
	ch.defs.Set("preamp_gain", ch.mod.det.Gain[ch.elem])
	return nil
}

// gainCalibrate scales the preamp gain by 1/delta, keeping the thresholds
// at the same position relative to the spectrum.
func (ch *Channel) gainCalibrate(delta float64) error {
	if delta <= 0 || math.IsNaN(delta) || math.IsInf(delta, 0) {
		return fmt.Errorf("xmap: invalid gain delta %v: %w", delta, ErrValidation)
	}

	pg := ch.mod.det.Gain[ch.elem] / delta
	for _, name := range []string{
		"trigger_threshold",
		"baseline_threshold",
		"energy_threshold",
	} {
		ch.defs.Set(name, ch.val(name)*delta)
	}

	_, err := setPreampGain(ch, "preamp_gain", pg)
	if err != nil {
		return fmt.Errorf("xmap: could not calibrate gain (delta=%v): %w", delta, err)
	}
	ch.defs.Set("preamp_gain", pg)
	return nil
}
