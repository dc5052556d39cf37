// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim simulates an xMAP board.
//
// The register file, the DSP parameter memories, the data and burst
// memories and the two mapping buffers of the board live in one
// memory-mapped image. A file-backed image can be shared between
// processes: a monitor may watch the registers of a board driven by a
// control server.
package sim // import "github.com/xiallc/Handel-Releases-sub004/sim"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/xiallc/Handel-Releases-sub004/internal/mmap"
	"github.com/xiallc/Handel-Releases-sub004/xmap"
)

var (
	// ErrUnknownName reports an unknown register, parameter, memory
	// space or control task.
	ErrUnknownName = errors.New("sim: unknown name")

	// ErrFirmware reports a firmware image the board does not know.
	ErrFirmware = errors.New("sim: unknown firmware")

	// ErrAsleep reports a DSP access while the DSP waits to be woken up.
	ErrAsleep = errors.New("sim: DSP asleep")
)

// Image describes a firmware image known to the board.
type Image struct {
	Decimation uint16 // decimation of a FiPPI image
	Mapping    bool   // whether a system FPGA image supports mapping
}

// Option configures a Board.
type Option func(*Board)

// WithLogger sets the logger used by the board.
func WithLogger(msg *log.Logger) Option {
	return func(brd *Board) {
		brd.msg = msg
	}
}

// WithImage registers a firmware image.
func WithImage(file string, img Image) Option {
	return func(brd *Board) {
		brd.imgs[file] = img
	}
}

// Board is a simulated xMAP board.
type Board struct {
	mu  sync.Mutex
	mem *mmap.Handle
	buf [4]byte
	msg *log.Logger

	imgs map[string]Image
	fw   struct {
		fippi string
		dsp   string
		sys   string
	}
	asleep bool
	cur    int // mapping buffer being filled: 0=a, 1=b
}

// New creates a board backed by anonymous memory.
func New(opts ...Option) (*Board, error) {
	mem, err := mmap.Anon(imageSize)
	if err != nil {
		return nil, fmt.Errorf("sim: could not create board image: %w", err)
	}
	return newBoard(mem, opts)
}

// Open creates a board backed by the image file fname. An existing image
// keeps its registers and memories.
func Open(fname string, opts ...Option) (*Board, error) {
	mem, err := mmap.Open(fname, imageSize)
	if err != nil {
		return nil, fmt.Errorf("sim: could not open board image: %w", err)
	}
	return newBoard(mem, opts)
}

func newBoard(mem *mmap.Handle, opts []Option) (*Board, error) {
	brd := &Board{
		mem:  mem,
		msg:  log.New(os.Stdout, "sim: ", 0),
		imgs: make(map[string]Image),
	}
	for _, opt := range opts {
		opt(brd)
	}

	v, err := brd.r32(offRegs + regMagic*4)
	if err != nil {
		_ = mem.Close()
		return nil, err
	}
	if v != magic {
		err = brd.powerUp()
		if err != nil {
			_ = mem.Close()
			return nil, fmt.Errorf("sim: could not power up board: %w", err)
		}
	}
	return brd, nil
}

func (brd *Board) powerUp() error {
	for name, v := range map[string]uint32{
		"CVR": 0x0103,
		"SVR": 0x0201,
		"MFR": 1<<mfrBufAEmpty | 1<<mfrBufBEmpty,
	} {
		err := brd.w32(offRegs+int64(regs[name])*4, v)
		if err != nil {
			return err
		}
	}
	for ch := 0; ch < nChans; ch++ {
		for name, v := range paramDefaults {
			off, err := paramOffset(ch, name)
			if err != nil {
				return err
			}
			err = brd.w16(off, v)
			if err != nil {
				return err
			}
		}
	}
	return brd.w32(offRegs+regMagic*4, magic)
}

// Register registers a firmware image.
func (brd *Board) Register(file string, img Image) {
	brd.mu.Lock()
	defer brd.mu.Unlock()
	brd.imgs[file] = img
}

// Firmware returns the FiPPI, DSP and system FPGA images loaded on the
// board.
func (brd *Board) Firmware() (fippi, dsp, sys string) {
	brd.mu.Lock()
	defer brd.mu.Unlock()
	return brd.fw.fippi, brd.fw.dsp, brd.fw.sys
}

// Sync flushes a file-backed image.
func (brd *Board) Sync() error {
	brd.mu.Lock()
	defer brd.mu.Unlock()
	return brd.mem.Sync()
}

func (brd *Board) Close() error {
	brd.mu.Lock()
	defer brd.mu.Unlock()
	return brd.mem.Close()
}

func (brd *Board) r32(off int64) (uint32, error) {
	_, err := brd.mem.ReadAt(brd.buf[:4], off)
	if err != nil {
		return 0, fmt.Errorf("sim: could not read word at 0x%x: %w", off, err)
	}
	return binary.LittleEndian.Uint32(brd.buf[:4]), nil
}

func (brd *Board) w32(off int64, v uint32) error {
	binary.LittleEndian.PutUint32(brd.buf[:4], v)
	_, err := brd.mem.WriteAt(brd.buf[:4], off)
	if err != nil {
		return fmt.Errorf("sim: could not write word at 0x%x: %w", off, err)
	}
	return nil
}

func (brd *Board) r16(off int64) (uint16, error) {
	_, err := brd.mem.ReadAt(brd.buf[:2], off)
	if err != nil {
		return 0, fmt.Errorf("sim: could not read half-word at 0x%x: %w", off, err)
	}
	return binary.LittleEndian.Uint16(brd.buf[:2]), nil
}

func (brd *Board) w16(off int64, v uint16) error {
	binary.LittleEndian.PutUint16(brd.buf[:2], v)
	_, err := brd.mem.WriteAt(brd.buf[:2], off)
	if err != nil {
		return fmt.Errorf("sim: could not write half-word at 0x%x: %w", off, err)
	}
	return nil
}

func regOffset(name string) (int64, error) {
	i, ok := regs[name]
	if !ok {
		return 0, fmt.Errorf("sim: register %q: %w", name, ErrUnknownName)
	}
	return offRegs + int64(i)*4, nil
}

func paramOffset(ch int, name string) (int64, error) {
	if ch < 0 || ch >= nChans {
		return 0, fmt.Errorf("sim: invalid channel %d", ch)
	}
	i, ok := paramIndex[name]
	if !ok {
		return 0, fmt.Errorf("sim: DSP parameter %q: %w", name, ErrUnknownName)
	}
	if globalParams[name] {
		ch = 0
	}
	return offParams + int64(ch*nParams+i)*2, nil
}

// memOffset returns the image offset of the words [addr, addr+n) of
// memory space space.
func memOffset(space string, addr uint32, n int) (int64, error) {
	var (
		base int64
		beg  uint32
		size int
	)
	switch space {
	case xmap.SpaceData:
		base, size = offData, dataWords
	case xmap.SpaceBurst:
		base, size = offBurst, burstWords
	case xmap.SpaceExternal:
		switch {
		case addr >= bufferBAddr:
			base, beg, size = offBufB, bufferBAddr, bufWords
		case addr >= bufferAAddr:
			base, beg, size = offBufA, bufferAAddr, bufWords
		default:
			return 0, fmt.Errorf("sim: invalid external address 0x%x", addr)
		}
	default:
		return 0, fmt.Errorf("sim: memory space %q: %w", space, ErrUnknownName)
	}

	i := int(addr - beg)
	if n < 0 || i+n > size {
		return 0, fmt.Errorf("sim: %s memory access [0x%x, +%d) out of bounds", space, addr, n)
	}
	return base + int64(i)*4, nil
}

func (brd *Board) ReadRegister(name string) (uint32, error) {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	off, err := regOffset(name)
	if err != nil {
		return 0, err
	}
	return brd.r32(off)
}

func (brd *Board) WriteRegister(name string, v uint32) error {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	off, err := regOffset(name)
	if err != nil {
		return err
	}

	switch name {
	case "MFR":
		return brd.writeMFR(off, v)
	case "CSR":
		if v&(1<<csrRunEnable) != 0 {
			v |= 1 << csrRunActive
			if v&(1<<csrResetMCA) != 0 {
				err = brd.clearBurst()
				if err != nil {
					return err
				}
			}
		} else {
			v &^= 1 << csrRunActive
		}
	case "VAR", "CVR", "SVR":
		return fmt.Errorf("sim: register %q is read-only", name)
	}
	return brd.w32(off, v)
}

// writeMFR runs the mapping commands encoded in v.
func (brd *Board) writeMFR(off int64, v uint32) error {
	status, err := brd.r32(off)
	if err != nil {
		return err
	}
	status &= mfrStatus

	if v&(1<<mfrStartRun) != 0 {
		status = 1<<mfrBufAEmpty | 1<<mfrBufBEmpty
		brd.cur = 0
		for _, name := range []string{"PIXELNUM", "PIXELNUMA"} {
			err = brd.setParam(0, name, 0)
			if err != nil {
				return err
			}
		}
	}
	if v&(1<<mfrBufADone) != 0 {
		status = status&^(1<<mfrBufAFull) | 1<<mfrBufAEmpty
	}
	if v&(1<<mfrBufBDone) != 0 {
		status = status&^(1<<mfrBufBFull) | 1<<mfrBufBEmpty
	}
	if v&(1<<mfrPixelNext) != 0 {
		err = brd.nextPixel()
		if err != nil {
			return err
		}
	}
	if v&(1<<mfrBufSwitch) != 0 {
		status = markFull(status, brd.cur)
		brd.cur ^= 1
	}

	return brd.w32(off, status|v&^(mfrCommands|mfrStatus))
}

func markFull(status uint32, buf int) uint32 {
	full, empty := mfrBufAFull, mfrBufAEmpty
	if buf == 1 {
		full, empty = mfrBufBFull, mfrBufBEmpty
	}
	if status&(1<<full) != 0 {
		status |= 1 << mfrBufOverrun
	}
	return status&^(1<<empty) | 1<<full
}

func (brd *Board) nextPixel() error {
	lo, err := brd.param(0, "PIXELNUM")
	if err != nil {
		return err
	}
	hi, err := brd.param(0, "PIXELNUMA")
	if err != nil {
		return err
	}
	pix := uint32(lo) | uint32(hi)<<16
	pix++
	err = brd.setParam(0, "PIXELNUM", uint16(pix))
	if err != nil {
		return err
	}
	return brd.setParam(0, "PIXELNUMA", uint16(pix>>16))
}

func (brd *Board) clearBurst() error {
	zero := make([]byte, burstWords*4)
	_, err := brd.mem.WriteAt(zero, offBurst)
	if err != nil {
		return fmt.Errorf("sim: could not reset MCA memory: %w", err)
	}
	return nil
}

func (brd *Board) ReadMemory(spec xmap.MemorySpec) ([]uint32, error) {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	off, err := memOffset(spec.Space, spec.Addr, spec.Len)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 4*spec.Len)
	_, err = brd.mem.ReadAt(raw, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("sim: could not read %v: %w", spec, err)
	}
	o := make([]uint32, spec.Len)
	for i := range o {
		o[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return o, nil
}

func (brd *Board) WriteMemory(spec xmap.MemorySpec, data []uint32) error {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	return brd.writeMem(spec.Space, spec.Addr, data)
}

func (brd *Board) writeMem(space string, addr uint32, data []uint32) error {
	off, err := memOffset(space, addr, len(data))
	if err != nil {
		return err
	}
	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], v)
	}
	_, err = brd.mem.WriteAt(raw, off)
	if err != nil {
		return fmt.Errorf("sim: could not write %s memory at 0x%x: %w", space, addr, err)
	}
	return nil
}

func (brd *Board) param(ch int, name string) (uint16, error) {
	off, err := paramOffset(ch, name)
	if err != nil {
		return 0, err
	}
	return brd.r16(off)
}

func (brd *Board) setParam(ch int, name string, v uint16) error {
	off, err := paramOffset(ch, name)
	if err != nil {
		return err
	}
	return brd.w16(off, v)
}

func (brd *Board) GetParameter(ch int, name string) (uint16, error) {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	if brd.asleep {
		return 0, ErrAsleep
	}
	return brd.param(ch, name)
}

func (brd *Board) SetParameter(ch int, name string, v uint16) error {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	if brd.asleep {
		return ErrAsleep
	}
	return brd.setParam(ch, name, v)
}

func (brd *Board) ControlTask(ch int, task string) error {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	if ch < 0 || ch >= nChans {
		return fmt.Errorf("sim: invalid channel %d", ch)
	}

	switch task {
	case xmap.TaskApply:
		if brd.asleep {
			return ErrAsleep
		}
		return nil
	case xmap.TaskWakeDSP:
		brd.asleep = false
		return nil
	}
	return fmt.Errorf("sim: control task %q: %w", task, ErrUnknownName)
}

func (brd *Board) ReplaceFPGA(target, file string) error {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	img, ok := brd.imgs[file]
	if !ok {
		return fmt.Errorf("sim: %q: %w", file, ErrFirmware)
	}

	switch target {
	case xmap.TargetSystemFPGA:
		var variant uint32
		if img.Mapping {
			variant = 1
		}
		err := brd.w32(offRegs+int64(regs["VAR"])*4, variant)
		if err != nil {
			return err
		}
		err = brd.w32(offRegs+int64(regs["MFR"])*4, 1<<mfrBufAEmpty|1<<mfrBufBEmpty)
		if err != nil {
			return err
		}
		brd.cur = 0
		brd.fw.sys = file

	case xmap.TargetFiPPI, xmap.TargetFiPPINoWake:
		err := brd.setParam(0, "DECIMATION", img.Decimation)
		if err != nil {
			return err
		}
		brd.fw.fippi = file
		brd.asleep = target == xmap.TargetFiPPINoWake

	default:
		return fmt.Errorf("sim: FPGA target %q: %w", target, ErrUnknownName)
	}

	brd.msg.Printf("loaded %q on %s", file, target)
	return nil
}

func (brd *Board) ReplaceDSP(file string) error {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	if _, ok := brd.imgs[file]; !ok {
		return fmt.Errorf("sim: %q: %w", file, ErrFirmware)
	}
	brd.fw.dsp = file
	brd.msg.Printf("loaded DSP %q", file)
	return nil
}

var (
	_ xmap.Transport  = (*Board)(nil)
	_ xmap.Programmer = (*Board)(nil)
)
