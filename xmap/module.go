// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"fmt"
	"log"
	"sync"
)

// Detector describes the detector wired to a module.
type Detector struct {
	Alias     string
	Type      PreampType
	Gain      []float64 // preamp gain per element, in mV/keV
	Polarity  []uint16  // 1 for positive pulses
	TypeValue []float64 // reset delay or decay time per element, in us
}

func (det *Detector) grow(n int) {
	for len(det.Gain) < n {
		det.Gain = append(det.Gain, 5)
	}
	for len(det.Polarity) < n {
		det.Polarity = append(det.Polarity, 1)
	}
	for len(det.TypeValue) < n {
		det.TypeValue = append(det.TypeValue, 10)
	}
}

// Module is one xMAP board and its 4 channels.
//
// All engine state of a module (settings, firmware identities, SCA
// limits, master role) is guarded by a single mutex: exported methods
// take the lock, unexported ones expect it to be held.
type Module struct {
	mu  sync.Mutex
	msg *log.Logger
	cfg config

	alias string
	brd   board
	prog  Programmer
	fdd   FirmwareDB
	det   *Detector

	chans   [nChans]*Channel
	isSetup bool
}

// Channel is one processing channel of a module.
type Channel struct {
	mod  *Module
	idx  int // module channel
	det  int // detector channel, -1 if disabled
	elem int // detector element

	defs *Settings

	fw struct {
		fippi string
		dsp   string
		sys   string
	}

	sca struct {
		lo []uint16
		hi []uint16
	}
}

// NewModule creates a module driven through tr, programmed through prog
// and selecting its firmware from db.
func NewModule(alias string, tr Transport, prog Programmer, db FirmwareDB, det *Detector, opts ...Option) (*Module, error) {
	switch {
	case tr == nil:
		return nil, fmt.Errorf("xmap: module %q has no transport", alias)
	case prog == nil:
		return nil, fmt.Errorf("xmap: module %q has no firmware programmer", alias)
	case db == nil:
		return nil, fmt.Errorf("xmap: module %q has no firmware database", alias)
	case det == nil:
		return nil, fmt.Errorf("xmap: module %q has no detector", alias)
	}

	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Module{
		msg:   cfg.msg,
		cfg:   cfg,
		alias: alias,
		brd:   newBoard(tr, cfg.msg),
		prog:  prog,
		fdd:   db,
		det:   det,
	}

	nelem := 0
	for i := range m.chans {
		if cfg.elems[i] < 0 {
			return nil, fmt.Errorf("xmap: module %q: invalid detector element %d for channel %d", alias, cfg.elems[i], i)
		}
		if cfg.elems[i]+1 > nelem {
			nelem = cfg.elems[i] + 1
		}
		defs := NewSettings(DefaultValues()...)
		for _, e := range cfg.defaults {
			defs.Set(e.Name, e.Value)
		}
		m.chans[i] = &Channel{
			mod:  m,
			idx:  i,
			det:  cfg.chans[i],
			elem: cfg.elems[i],
			defs: defs,
		}
	}
	det.grow(nelem)

	return m, nil
}

// Alias returns the name of the module.
func (m *Module) Alias() string { return m.alias }

// DetChans returns the detector channels of the enabled module channels.
func (m *Module) DetChans() []int {
	var o []int
	for _, ch := range m.chans {
		if ch.enabled() {
			o = append(o, ch.det)
		}
	}
	return o
}

func (m *Module) channel(modChan int) (*Channel, error) {
	if modChan < 0 || modChan >= nChans {
		return nil, fmt.Errorf("xmap: invalid module channel %d: %w", modChan, ErrValidation)
	}
	ch := m.chans[modChan]
	if !ch.enabled() {
		return nil, fmt.Errorf("xmap: module channel %d of %q is disabled: %w", modChan, m.alias, ErrValidation)
	}
	return ch, nil
}

// lock takes the module lock and clears any stale transport error.
func (m *Module) lock() {
	m.mu.Lock()
	m.brd.err = nil
}

func (m *Module) unlock() { m.mu.Unlock() }

// Setup downloads the base firmware, synchronizes the settings with the
// detector description and applies every acquisition value of every
// enabled channel.
func (m *Module) Setup() error {
	m.lock()
	defer m.unlock()
	return m.userSetup()
}

// Set sets the named acquisition value of a module channel and returns
// the value actually applied.
func (m *Module) Set(modChan int, name string, v float64) (float64, error) {
	m.lock()
	defer m.unlock()

	ch, err := m.channel(modChan)
	if err != nil {
		return v, err
	}
	return ch.set(name, v)
}

// Get returns the named acquisition value of a module channel.
func (m *Module) Get(modChan int, name string) (float64, error) {
	m.lock()
	defer m.unlock()

	ch, err := m.channel(modChan)
	if err != nil {
		return 0, err
	}
	return ch.get(name)
}

// Settings returns a copy of the acquisition values of a module channel.
func (m *Module) Settings(modChan int) ([]Entry, error) {
	m.lock()
	defer m.unlock()

	ch, err := m.channel(modChan)
	if err != nil {
		return nil, err
	}
	return ch.defs.Entries(), nil
}

// Firmware returns the identities of the FiPPI, DSP and system FPGA
// images currently loaded, as seen by a module channel.
func (m *Module) Firmware(modChan int) (fippi, dsp, sys string, err error) {
	m.lock()
	defer m.unlock()

	ch, err := m.channel(modChan)
	if err != nil {
		return "", "", "", err
	}
	return ch.fw.fippi, ch.fw.dsp, ch.fw.sys, nil
}

// SCALimits returns the SCA windows of a module channel.
func (m *Module) SCALimits(modChan int) (lo, hi []uint16, err error) {
	m.lock()
	defer m.unlock()

	ch, err := m.channel(modChan)
	if err != nil {
		return nil, nil, err
	}
	lo = append([]uint16(nil), ch.sca.lo...)
	hi = append([]uint16(nil), ch.sca.hi...)
	return lo, hi, nil
}

func (ch *Channel) enabled() bool { return ch.det >= 0 }

// val returns the stored value of name, or 0.
func (ch *Channel) val(name string) float64 {
	v, _ := ch.defs.Get(name)
	return v
}

func (ch *Channel) brd() *board { return &ch.mod.brd }

func (ch *Channel) param(name string) uint16 {
	return ch.mod.brd.param(ch.idx, name)
}

func (ch *Channel) setParam(name string, v uint16) {
	ch.mod.brd.setParam(ch.idx, name, v)
}

func (ch *Channel) flush() error {
	return ch.mod.brd.flush()
}
