// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"errors"
	"fmt"
	"math"

	"github.com/cenkalti/backoff"
)

// isMapping reports whether the module runs mapping firmware in one of
// the modes selected by mask.
func (ch *Channel) isMapping(mask uint16) (bool, error) {
	brd := ch.brd()
	variant := brd.readReg(regVAR)
	if err := brd.flush(); err != nil {
		return false, err
	}
	if variant != 1 {
		return false, nil
	}

	mode := MappingMode(ch.param("MAPPINGMODE"))
	if err := ch.flush(); err != nil {
		return false, err
	}
	return mode.mask()&mask != 0, nil
}

// requireMapping fails with ErrNoMapping unless the module runs mapping
// firmware.
func (ch *Channel) requireMapping() error {
	ok, err := ch.isMapping(mapAny)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("xmap: detChan=%d: %w", ch.det, ErrNoMapping)
	}
	return nil
}

func setMappingMode(ch *Channel, name string, v float64) (float64, error) {
	if v < 0 || v != math.Trunc(v) {
		return v, fmt.Errorf("xmap: invalid mapping mode %v: %w", v, ErrValidation)
	}
	mode := MappingMode(v)
	if v > float64(MappingList) {
		return v, fmt.Errorf("xmap: unknown mapping mode %v: %w", v, ErrUnsupported)
	}

	m := ch.mod
	crit := criteria{pt: ch.val("peaking_time"), detType: m.det.Type.String()}

	if mode == MappingNone {
		switched, err := ch.ensureLoaded(KindSystemFPGA, TargetSystemFPGA, crit)
		if err != nil {
			return v, fmt.Errorf("xmap: could not switch from mapping firmware: %w", err)
		}
		if !switched {
			return v, nil
		}
		ch.setParam("MAPPINGMODE", uint16(MappingNone))
		if err := ch.flush(); err != nil {
			return v, err
		}
		ch.defs.Set("mapping_mode", v)
		err = ch.applyScoped(ScopeMCA)
		if err != nil {
			return v, err
		}
		return v, nil
	}

	crit.keywords = []string{"MAPPING"}
	_, err := ch.ensureLoaded(KindSystemFPGA, TargetSystemFPGA, crit)
	if err != nil {
		return v, fmt.Errorf("xmap: could not switch to mapping firmware: %w", err)
	}

	// the DSP reads MAPPINGMODE after the system FPGA switch: no apply.
	ch.setParam("MAPPINGMODE", uint16(mode))
	if err := ch.flush(); err != nil {
		return v, err
	}
	ch.defs.Set("mapping_mode", v)

	err = ch.applyScoped(ScopeMapping)
	if err != nil {
		return v, err
	}

	first := true
	for _, c := range m.chans {
		if !c.enabled() {
			continue
		}
		if first {
			c.setParam("MODNUM", uint16(c.det/nChans))
			if mode == MappingSCA {
				c.setParam("SCAMAPMODE", 1)
			}
			first = false
		}
		c.setParam("DETCHANNEL", uint16(c.det))
		c.setParam("DETELEMENT", uint16(c.elem))
	}
	return v, m.brd.flush()
}

// mappingMode returns the mapping mode the DSP runs.
func (ch *Channel) mappingMode() (MappingMode, error) {
	ok, err := ch.isMapping(mapAny)
	if err != nil || !ok {
		return MappingNone, err
	}
	mode := ch.param("MAPPINGMODE")
	return MappingMode(mode), ch.flush()
}

// setInputNC disconnects the input LEMO of the module.
func (m *Module) setInputNC() error {
	m.brd.clearBit(regMCR, mcrGateIn)
	m.brd.clearBit(regMCR, mcrSyncIn)
	return m.brd.flush()
}

// currentRole decodes the master role from the LEMO select bits.
func (m *Module) currentRole() (Role, error) {
	mcr := m.brd.readReg(regMCR)
	if err := m.brd.flush(); err != nil {
		return RoleNone, err
	}
	gate := bit(mcr, mcrGateIn)
	sync := bit(mcr, mcrSyncIn)
	switch {
	case gate && sync:
		return RoleLBus, nil
	case gate:
		return RoleGate, nil
	case sync:
		return RoleSync, nil
	}
	return RoleNone, nil
}

// setMaster makes the module the master of role r. At most one role is
// active at a time.
func (ch *Channel) setMaster(r Role) error {
	m := ch.mod
	cur, err := m.currentRole()
	if err != nil {
		return err
	}
	if cur == r {
		return nil
	}

	brd := ch.brd()
	switch r {
	case RoleGate:
		brd.setBit(regMCR, mcrGateIn, false)
		brd.clearBit(regMCR, mcrSyncIn)
	case RoleSync:
		brd.clearBit(regMCR, mcrGateIn)
		brd.setBit(regMCR, mcrSyncIn, false)
	case RoleLBus:
		brd.setBit(regMCR, mcrGateIn, false)
		brd.setBit(regMCR, mcrSyncIn, false)
	default:
		panic(fmt.Errorf("xmap: invalid master role %v", r))
	}
	if err := brd.flush(); err != nil {
		return fmt.Errorf("xmap: could not select %v input: %w", r, err)
	}

	for _, o := range roles {
		if o == r {
			continue
		}
		ch.defs.Set(o.setting(), 0)
	}

	brd.setBit(regMCR, mcrMaster, false)
	if err := brd.flush(); err != nil {
		return fmt.Errorf("xmap: could not set master bit: %w", err)
	}
	return nil
}

// clearMaster releases role r. Releasing a role the module does not hold
// does nothing.
func (ch *Channel) clearMaster(r Role) error {
	m := ch.mod
	cur, err := m.currentRole()
	if err != nil {
		return err
	}
	if cur != r {
		return nil
	}

	ch.defs.Set(r.setting(), 0)
	if err := m.setInputNC(); err != nil {
		return fmt.Errorf("xmap: could not disconnect input: %w", err)
	}
	m.brd.clearBit(regMCR, mcrMaster)
	if err := m.brd.flush(); err != nil {
		return fmt.Errorf("xmap: could not clear master bit: %w", err)
	}
	return nil
}

func (ch *Channel) setRole(r Role, v float64) (float64, error) {
	if ch.idx != 0 {
		ch.mod.msg.Printf(
			"ignoring %s=%v on module channel %d: only channel 0 holds master roles",
			r.setting(), v, ch.idx,
		)
		return v, nil
	}

	switch v {
	case 1:
		return v, ch.setMaster(r)
	case 0:
		return v, ch.clearMaster(r)
	}
	return v, fmt.Errorf("xmap: invalid %s=%v (want 0 or 1): %w", r.setting(), v, ErrValidation)
}

func setGateMaster(ch *Channel, name string, v float64) (float64, error) {
	return ch.setRole(RoleGate, v)
}

func setSyncMaster(ch *Channel, name string, v float64) (float64, error) {
	return ch.setRole(RoleSync, v)
}

func setLBusMaster(ch *Channel, name string, v float64) (float64, error) {
	return ch.setRole(RoleLBus, v)
}

// setNumMapPixelsPerBuffer sets the number of pixels per buffer. -1
// selects the largest buffer the DSP can hold.
func setNumMapPixelsPerBuffer(ch *Channel, name string, v float64) (float64, error) {
	n := v
	if n == -1 {
		n = 0
	}
	if n < 0 || n > math.MaxUint16 || n != math.Trunc(n) {
		return v, fmt.Errorf("xmap: invalid number of pixels per buffer %v: %w", v, ErrValidation)
	}
	ch.setParam("PIXPERBUF", uint16(n))
	return v, ch.flush()
}

func getNumMapPixelsPerBuffer(ch *Channel) (float64, error) {
	n := ch.param("PIXPERBUF")
	if err := ch.flush(); err != nil {
		return 0, err
	}
	return float64(n), nil
}

// setNumMapPixels sets the number of pixels of a mapping run. 0 maps
// forever.
func setNumMapPixels(ch *Channel, name string, v float64) (float64, error) {
	if v < 0 || v > math.MaxUint32 || v != math.Trunc(v) {
		return v, fmt.Errorf("xmap: invalid number of pixels %v: %w", v, ErrValidation)
	}
	n := uint32(v)
	ch.setParam("NUMPIXELS", uint16(n&0xFFFF))
	ch.setParam("NUMPIXELSA", uint16(n>>16))
	return v, ch.flush()
}

// setMCRFlag sets bit i of the MCR when v is 1 and clears it otherwise.
func (ch *Channel) setMCRFlag(i int, v float64) error {
	brd := ch.brd()
	if v == 1 {
		brd.setBit(regMCR, i, false)
	} else {
		brd.clearBit(regMCR, i)
	}
	return brd.flush()
}

func setInputLogicPolarity(ch *Channel, name string, v float64) (float64, error) {
	return v, ch.setMCRFlag(mcrLogicPol, v)
}

func setGateIgnore(ch *Channel, name string, v float64) (float64, error) {
	return v, ch.setMCRFlag(mcrGateIgnore, v)
}

// setGateMode selects whether GATE halts the realtime counter (0) or
// not (1).
func setGateMode(ch *Channel, name string, v float64) (float64, error) {
	if v < 0 || v > math.MaxUint16 || v != math.Trunc(v) {
		return v, fmt.Errorf("xmap: invalid gate mode %v: %w", v, ErrValidation)
	}
	ch.setParam("GATEMODE", uint16(v))
	return v, ch.flush()
}

func setSyncCount(ch *Channel, name string, v float64) (float64, error) {
	if v < 0 || v > math.MaxUint32 || v != math.Trunc(v) {
		return v, fmt.Errorf("xmap: invalid SYNC count %v: %w", v, ErrValidation)
	}
	brd := ch.brd()
	brd.writeReg(regSyncCnt, uint32(v))
	return v, brd.flush()
}

// Pixel advance modes.
const (
	PixelAdvanceGate = 1
	PixelAdvanceSync = 2
)

func setPixelAdvanceMode(ch *Channel, name string, v float64) (float64, error) {
	brd := ch.brd()
	switch v {
	case PixelAdvanceGate:
		brd.clearBit(regMCR, mcrPixelAdvSync)
	case PixelAdvanceSync:
		brd.setBit(regMCR, mcrPixelAdvSync, false)
	default:
		return v, fmt.Errorf("xmap: unknown pixel advance mode %v: %w", v, ErrValidation)
	}
	return v, brd.flush()
}

func setSyncRun(ch *Channel, name string, v float64) (float64, error) {
	brd := ch.brd()
	if v == 1 {
		brd.setBit(regCSR, csrSyncRun, false)
	} else {
		brd.clearBit(regCSR, csrSyncRun)
	}
	return v, brd.flush()
}

func setListModeVariant(ch *Channel, name string, v float64) (float64, error) {
	ok, err := ch.isMapping(mapAny)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, nil
	}
	if v < 0 || v != math.Trunc(v) {
		return v, fmt.Errorf("xmap: invalid list mode variant %v: %w", v, ErrValidation)
	}
	if v > ListModeClock {
		return v, fmt.Errorf("xmap: unknown list mode variant %v: %w", v, ErrUnsupported)
	}
	ch.setParam("LISTMODEVARIANT", uint16(v))
	return v, ch.flush()
}

func setBufferClearSize(ch *Channel, name string, v float64) (float64, error) {
	ok, err := ch.isMapping(mapAny)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, nil
	}
	if v < 0 || v != math.Trunc(v) || v >= maxClearBufferSize {
		return v, fmt.Errorf("xmap: buffer clear size 0x%x exceeds 20 bits: %w", uint64(v), ErrValidation)
	}
	brd := ch.brd()
	brd.writeReg(regClrBuf, uint32(v))
	return v, brd.flush()
}

var errBufferNotEmpty = errors.New("xmap: buffer not empty")

// bufferBits returns the done and empty MFR bits of buffer 'a' or 'b'.
func bufferBits(buf string) (done, empty int, err error) {
	switch buf {
	case "a", "A":
		return mfrBufADone, mfrBufAEmpty, nil
	case "b", "B":
		return mfrBufBDone, mfrBufBEmpty, nil
	}
	return 0, 0, fmt.Errorf("xmap: unknown buffer %q: %w", buf, ErrBadBuffer)
}

// clearBuffer marks buffer buf as done and, with wait, polls until the
// hardware reports it empty.
func (m *Module) clearBuffer(buf string, wait bool) error {
	done, empty, err := bufferBits(buf)
	if err != nil {
		return err
	}

	m.brd.setBit(regMFR, done, true)
	if err := m.brd.flush(); err != nil {
		return fmt.Errorf("xmap: could not mark buffer %q done: %w", buf, err)
	}
	if !wait {
		return nil
	}

	op := func() error {
		ok := m.brd.checkBit(regMFR, empty)
		if err := m.brd.flush(); err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errBufferNotEmpty
		}
		return nil
	}

	// WithMaxRetries(b, 0) retries forever.
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if m.cfg.poll.n > 1 {
		policy = backoff.WithMaxRetries(backoff.NewConstantBackOff(m.cfg.poll.freq), m.cfg.poll.n-1)
	}
	err = backoff.Retry(op, policy)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errBufferNotEmpty):
		return fmt.Errorf("xmap: buffer %q on %q: %w", buf, m.alias, ErrClearBufferTimeout)
	default:
		return fmt.Errorf("xmap: could not wait for buffer %q to clear: %w", buf, err)
	}
}

// bufferDone clears buffer buf of a mapping run.
func (ch *Channel) bufferDone(buf string) error {
	if err := ch.requireMapping(); err != nil {
		return err
	}
	return ch.mod.clearBuffer(buf, true)
}

// bufferSwitch tells the hardware to start filling the other buffer.
func (ch *Channel) bufferSwitch() error {
	brd := ch.brd()
	brd.setBit(regMFR, mfrBufSwitch, true)
	if err := brd.flush(); err != nil {
		return fmt.Errorf("xmap: could not switch buffer: %w", err)
	}
	return nil
}

// pixelNext advances the mapping run to the next pixel.
func (ch *Channel) pixelNext() error {
	if err := ch.requireMapping(); err != nil {
		return err
	}
	brd := ch.brd()
	brd.setBit(regMFR, mfrPixelNext, true)
	if err := brd.flush(); err != nil {
		return fmt.Errorf("xmap: could not advance pixel: %w", err)
	}
	return nil
}
