// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"fmt"
	"strings"
)

// BoardOperations returns the names of the known board operations.
func BoardOperations() []string {
	return []string{
		"apply",
		"buffer_done",
		"buffer_switch",
		"mapping_pixel_next",
		"get_mcr",
		"get_mfr",
		"get_csr",
		"get_cvr",
		"get_svr",
	}
}

// BoardOperation runs the named board operation on a module channel.
// buffer_done takes the buffer ("a" or "b") as argument; the get_xxx
// operations return the content of the corresponding register.
func (m *Module) BoardOperation(modChan int, name, arg string) (uint32, error) {
	m.lock()
	defer m.unlock()

	ch, err := m.channel(modChan)
	if err != nil {
		return 0, err
	}

	switch name {
	case "apply":
		err = ch.apply()
	case "buffer_done":
		err = ch.bufferDone(arg)
	case "buffer_switch":
		err = ch.bufferSwitch()
	case "mapping_pixel_next":
		err = ch.pixelNext()
	case "get_mcr", "get_mfr", "get_csr", "get_cvr", "get_svr":
		reg := strings.ToUpper(strings.TrimPrefix(name, "get_"))
		v := m.brd.readReg(reg)
		if err := m.brd.flush(); err != nil {
			return 0, fmt.Errorf("xmap: could not run board operation %q (detChan=%d): %w", name, ch.det, err)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("xmap: could not run board operation %q: %w", name, ErrUnknownName)
	}
	if err != nil {
		return 0, fmt.Errorf("xmap: could not run board operation %q (detChan=%d): %w", name, ch.det, err)
	}
	return 0, nil
}

// GainOperation runs the named gain operation on a module channel.
//  - calibrate: scales the preamp gain by 1/v.
func (m *Module) GainOperation(modChan int, name string, v float64) error {
	m.lock()
	defer m.unlock()

	ch, err := m.channel(modChan)
	if err != nil {
		return err
	}

	switch name {
	case "calibrate":
		err = ch.gainCalibrate(v)
	default:
		return fmt.Errorf("xmap: could not run gain operation %q: %w", name, ErrUnknownName)
	}
	if err != nil {
		return fmt.Errorf("xmap: could not run gain operation %q (detChan=%d): %w", name, ch.det, err)
	}
	return nil
}
