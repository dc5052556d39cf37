// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"fmt"
	"math"
)

// criteria selects a firmware image in the firmware database.
type criteria struct {
	pt       float64
	keywords []string
	detType  string
}

// cached returns the identity of the image of the given kind currently
// loaded, as recorded by ch.
func (ch *Channel) cached(kind string) string {
	switch kind {
	case KindFiPPI:
		return ch.fw.fippi
	case KindDSP:
		return ch.fw.dsp
	case KindSystemFPGA:
		return ch.fw.sys
	}
	panic(fmt.Errorf("xmap: invalid firmware kind %q", kind))
}

func (ch *Channel) cache(kind, id string) {
	switch kind {
	case KindFiPPI:
		ch.fw.fippi = id
	case KindDSP:
		ch.fw.dsp = id
	case KindSystemFPGA:
		ch.fw.sys = id
	default:
		panic(fmt.Errorf("xmap: invalid firmware kind %q", kind))
	}
}

// ensureLoaded makes sure the image matching crit is loaded on the
// module and reports whether a download happened.
// All channels of a module share their FiPPI, DSP and system FPGA, so the
// cached identity is updated for each of them.
func (ch *Channel) ensureLoaded(kind, target string, crit criteria) (bool, error) {
	m := ch.mod
	rec, err := m.fdd.Firmware(kind, crit.pt, crit.keywords, crit.detType)
	if err != nil {
		return false, fmt.Errorf("xmap: could not find %s firmware (pt=%v, keywords=%q, detector=%q): %w",
			kind, crit.pt, crit.keywords, crit.detType, err,
		)
	}

	if rec.RawID == ch.cached(kind) {
		return false, nil
	}

	m.msg.Printf("loading %s firmware %q on %q (detChan=%d)...", kind, rec.RawID, m.alias, ch.det)
	switch kind {
	case KindDSP:
		err = m.prog.ReplaceDSP(rec.Path)
	default:
		err = m.prog.ReplaceFPGA(target, rec.Path)
	}
	if err != nil {
		return false, hwErr(err, "download %s firmware %q", kind, rec.Path)
	}

	for _, c := range m.chans {
		c.cache(kind, rec.RawID)
	}
	return true, nil
}

// loadBaseFirmware loads the DSP and system FPGA matching the current
// settings, if needed.
func (ch *Channel) loadBaseFirmware() error {
	var (
		m   = ch.mod
		pt  = ch.val("peaking_time")
		typ = m.det.Type.String()
	)

	var kwds []string
	if ch.val("mapping_mode") != 0 {
		kwds = []string{"MAPPING"}
	}
	_, err := ch.ensureLoaded(KindSystemFPGA, TargetSystemFPGA, criteria{pt: pt, keywords: kwds, detType: typ})
	if err != nil {
		return err
	}

	_, err = ch.ensureLoaded(KindDSP, "", criteria{pt: pt, detType: typ})
	if err != nil {
		return err
	}
	return nil
}

// switchPreamp loads the FiPPI and DSP matching a new preamplifier type
// and wakes the DSP up.
func (ch *Channel) switchPreamp(typ PreampType) error {
	var (
		m    = ch.mod
		pt   = ch.val("peaking_time")
		crit = criteria{pt: pt, detType: typ.String()}
	)

	_, err := ch.ensureLoaded(KindFiPPI, TargetFiPPINoWake, crit)
	if err != nil {
		return fmt.Errorf("xmap: could not switch FiPPI to %v preamp: %w", typ, err)
	}

	_, err = ch.ensureLoaded(KindDSP, "", crit)
	if err != nil {
		return fmt.Errorf("xmap: could not switch DSP to %v preamp: %w", typ, err)
	}

	m.brd.task(ch.idx, TaskWakeDSP)
	if err := m.brd.flush(); err != nil {
		return fmt.Errorf("xmap: could not wake DSP up: %w", err)
	}
	return nil
}

func setPreampType(ch *Channel, name string, v float64) (float64, error) {
	m := ch.mod
	if v < 0 || v > math.MaxUint8 || v != math.Trunc(v) {
		return v, fmt.Errorf("xmap: invalid preamp type %v: %w", v, ErrUnsupported)
	}
	typ := PreampType(v)
	if typ == m.det.Type {
		return v, nil
	}

	switch typ {
	case PreampReset:
	case PreampRC:
		return v, ErrUnsupportedPreampType
	default:
		return v, fmt.Errorf("xmap: invalid preamp type %v: %w", v, ErrUnsupported)
	}

	err := ch.switchPreamp(typ)
	if err != nil {
		return v, err
	}

	m.det.Type = typ
	for _, c := range m.chans {
		c.defs.Set("preamp_type", v)
	}

	if typ == PreampReset {
		_, err = ch.set("reset_delay", m.det.TypeValue[ch.elem])
		if err != nil {
			return v, err
		}
	}

	// switching the DSP resets its parameters to the firmware defaults.
	err = m.userSetup()
	if err != nil {
		return v, fmt.Errorf("xmap: could not re-apply settings after preamp switch: %w", err)
	}
	return v, nil
}

func syncPreampType(ch *Channel) error {
	ch.defs.Set("preamp_type", float64(ch.mod.det.Type))
	return nil
}
