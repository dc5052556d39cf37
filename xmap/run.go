// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"fmt"
)

// StartRun starts a run on the module. With resume, the spectra and
// statistics of the previous run are kept.
// In mapping mode, both buffers are cleared before the run starts.
func (m *Module) StartRun(resume bool) error {
	m.lock()
	defer m.unlock()

	ch, err := m.first()
	if err != nil {
		return err
	}

	mapping, err := ch.isMapping(mapAny)
	if err != nil {
		return fmt.Errorf("xmap: could not check firmware of %q: %w", m.alias, err)
	}

	if mapping {
		m.brd.setBit(regMFR, mfrStartRun, true)
		if err := m.brd.flush(); err != nil {
			return fmt.Errorf("xmap: could not initialize mapping registers of %q: %w", m.alias, err)
		}
		for _, buf := range []string{"a", "b"} {
			err = m.clearBuffer(buf, true)
			if err != nil {
				return fmt.Errorf("xmap: could not clear buffer %q before run: %w", buf, err)
			}
		}
	}

	csr := uint32(1) << csrRunEnable
	if !resume {
		csr |= 1 << csrResetMCA
	}
	if ok := m.brd.checkBit(regCSR, csrSyncRun); ok {
		csr |= 1 << csrSyncRun
	}
	m.brd.writeReg(regCSR, csr)
	if err := m.brd.flush(); err != nil {
		return fmt.Errorf("xmap: could not start run on %q: %w", m.alias, err)
	}
	return nil
}

// StopRun stops the run of the module. Stopping a run stops all the
// channels of the module.
func (m *Module) StopRun() error {
	m.lock()
	defer m.unlock()

	m.brd.clearBit(regCSR, csrRunEnable)
	if err := m.brd.flush(); err != nil {
		return fmt.Errorf("xmap: could not stop run on %q: %w", m.alias, err)
	}
	return nil
}

// first returns the first enabled channel of the module.
func (m *Module) first() (*Channel, error) {
	for _, ch := range m.chans {
		if ch.enabled() {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("xmap: module %q has no enabled channel: %w", m.alias, ErrValidation)
}
