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

func scaName(i int, bound string) string {
	return "sca" + strconv.Itoa(i) + "_" + bound
}

// parseSCAName decodes names of the form sca{n}_lo and sca{n}_hi.
func parseSCAName(name string) (int, string, error) {
	s := strings.TrimPrefix(name, "sca")
	i := strings.LastIndex(s, "_")
	if i <= 0 {
		return 0, "", fmt.Errorf("xmap: invalid SCA name %q: %w", name, ErrUnknownName)
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil || n < 0 {
		return 0, "", fmt.Errorf("xmap: invalid SCA name %q: %w", name, ErrUnknownName)
	}
	switch bound := s[i+1:]; bound {
	case "lo", "hi":
		return n, bound, nil
	}
	return 0, "", fmt.Errorf("xmap: invalid SCA name %q: %w", name, ErrUnknownName)
}

func setNumSCAs(ch *Channel, name string, v float64) (float64, error) {
	if v < 0 || v > maxSCAs || v != math.Trunc(v) {
		return v, fmt.Errorf("xmap: number of SCAs %v not in [0, %d]: %w", v, maxSCAs, ErrSCAOutOfRange)
	}
	n := int(v)

	// limits above the new count no longer exist.
	for i := n; i < len(ch.sca.lo); i++ {
		ch.defs.Remove(scaName(i, "lo"))
		ch.defs.Remove(scaName(i, "hi"))
	}
	ch.sca.lo = nil
	ch.sca.hi = nil

	ch.setParam("NUMSCA", uint16(n))
	if err := ch.flush(); err != nil {
		return v, err
	}

	ch.sca.lo = make([]uint16, n)
	ch.sca.hi = make([]uint16, n)
	return v, nil
}

func setSCA(ch *Channel, name string, v float64) (float64, error) {
	i, bound, err := parseSCAName(name)
	if err != nil {
		return v, err
	}
	if i >= len(ch.sca.lo) {
		return v, fmt.Errorf("xmap: SCA %d not in [0, %d): %w", i, len(ch.sca.lo), ErrSCAOutOfRange)
	}
	if v < 0 || v > math.MaxUint16 || v != math.Trunc(v) {
		return v, fmt.Errorf("xmap: invalid SCA limit %v: %w", v, ErrValidation)
	}

	ptr := "SCALPTR"
	if bound == "hi" {
		ptr = "SCAHPTR"
	}
	base := ch.param(ptr)
	if err := ch.flush(); err != nil {
		return v, err
	}

	ch.mod.brd.writeMem(MemorySpec{Space: SpaceData, Addr: uint32(base) + uint32(i), Len: 1}, []uint32{uint32(v)})
	if err := ch.flush(); err != nil {
		return v, err
	}

	switch bound {
	case "lo":
		ch.sca.lo[i] = uint16(v)
	case "hi":
		ch.sca.hi[i] = uint16(v)
	}
	return v, nil
}

// scaData reads the SCA counters of the channel.
func (ch *Channel) scaData() ([]float64, error) {
	n := len(ch.sca.lo)
	if n == 0 {
		return nil, fmt.Errorf("xmap: no SCA defined (detChan=%d): %w", ch.det, ErrValidation)
	}

	base := ch.param("SCAMEMBASE")
	if err := ch.flush(); err != nil {
		return nil, err
	}

	raw := ch.mod.brd.readMem(MemorySpec{
		Space: SpaceBurst,
		Addr:  uint32(base) + uint32(ch.idx*scaChanOffset),
		Len:   2 * n,
	})
	if err := ch.flush(); err != nil {
		return nil, err
	}

	o := make([]float64, n)
	for i := range o {
		o[i] = counter(raw, 2*i)
	}
	return o, nil
}
