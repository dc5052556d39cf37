// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"log"
)

// board wraps a transport with sticky-error accessors, so a sequence of
// accesses can be checked once at the end.
type board struct {
	tr  Transport
	msg *log.Logger
	err error
}

func newBoard(tr Transport, msg *log.Logger) board {
	return board{tr: tr, msg: msg}
}

// flush returns and resets the sticky error.
func (brd *board) flush() error {
	err := brd.err
	brd.err = nil
	return err
}

func (brd *board) readReg(name string) uint32 {
	if brd.err != nil {
		return 0
	}
	v, err := brd.tr.ReadRegister(name)
	if err != nil {
		brd.err = hwErr(err, "read register %s", name)
		return 0
	}
	return v
}

func (brd *board) writeReg(name string, v uint32) {
	if brd.err != nil {
		return
	}
	err := brd.tr.WriteRegister(name, v)
	if err != nil {
		brd.err = hwErr(err, "write register %s=0x%x", name, v)
	}
}

func (brd *board) param(ch int, name string) uint16 {
	if brd.err != nil {
		return 0
	}
	v, err := brd.tr.GetParameter(ch, name)
	if err != nil {
		brd.err = hwErr(err, "read parameter %s (ch=%d)", name, ch)
		return 0
	}
	return v
}

func (brd *board) setParam(ch int, name string, v uint16) {
	if brd.err != nil {
		return
	}
	err := brd.tr.SetParameter(ch, name, v)
	if err != nil {
		brd.err = hwErr(err, "write parameter %s=%d (ch=%d)", name, v, ch)
	}
}

func (brd *board) readMem(spec MemorySpec) []uint32 {
	if brd.err != nil {
		return nil
	}
	v, err := brd.tr.ReadMemory(spec)
	if err != nil {
		brd.err = hwErr(err, "read memory %v", spec)
		return nil
	}
	return v
}

func (brd *board) writeMem(spec MemorySpec, data []uint32) {
	if brd.err != nil {
		return
	}
	err := brd.tr.WriteMemory(spec, data)
	if err != nil {
		brd.err = hwErr(err, "write memory %v", spec)
	}
}

func (brd *board) task(ch int, name string) {
	if brd.err != nil {
		return
	}
	err := brd.tr.ControlTask(ch, name)
	if err != nil {
		brd.err = hwErr(err, "run control task %q (ch=%d)", name, ch)
	}
}

// setBit sets bit i of reg. With overwrite, only that bit is written;
// otherwise the register is read, modified and written back.
func (brd *board) setBit(reg string, i int, overwrite bool) {
	var v uint32
	if !overwrite {
		v = brd.readReg(reg)
	}
	brd.writeReg(reg, v|1<<i)
}

func (brd *board) clearBit(reg string, i int) {
	v := brd.readReg(reg)
	brd.writeReg(reg, v&^(1<<i))
}

func (brd *board) checkBit(reg string, i int) bool {
	return bit(brd.readReg(reg), i)
}
