// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"fmt"
)

type runDataFunc func(ch *Channel) (interface{}, error)

// runData lists the run data, matched by exact name.
var runData []struct {
	name string
	get  runDataFunc
}

func init() {
	stat := func(f func(st Statistics) float64) runDataFunc {
		return func(ch *Channel) (interface{}, error) {
			st, err := ch.statistics()
			if err != nil {
				return nil, err
			}
			return f(st), nil
		}
	}

	runData = []struct {
		name string
		get  runDataFunc
	}{
		{"mca_length", getMCALength},
		{"mca", getMCA},
		{"runtime", stat(func(st Statistics) float64 { return st.Realtime })},
		{"realtime", stat(func(st Statistics) float64 { return st.Realtime })},
		{"events_in_run", stat(Statistics.TotalEvents)},
		{"trigger_livetime", stat(func(st Statistics) float64 { return st.TriggerLivetime })},
		{"input_count_rate", stat(func(st Statistics) float64 { return st.ICR })},
		{"output_count_rate", stat(func(st Statistics) float64 { return st.OCR })},
		{"sca_length", getSCALength},
		{"max_sca_length", getMaxSCALength},
		{"sca", getSCAData},
		{"run_active", getRunActive},
		{"buffer_full_a", bufferFull("a")},
		{"buffer_full_b", bufferFull("b")},
		{"buffer_len", getBufferLen},
		{"buffer_a", getBuffer("a")},
		{"buffer_b", getBuffer("b")},
		{"current_pixel", getCurrentPixel},
		{"buffer_overrun", getBufferOverrun},
		{"livetime", stat(func(st Statistics) float64 { return st.EnergyLivetime })},
		{"module_statistics", getModuleStatistics(7)},
		{"module_mca", getModuleMCA},
		{"energy_livetime", stat(func(st Statistics) float64 { return st.EnergyLivetime })},
		{"module_statistics_2", getModuleStatistics(9)},
		{"triggers", stat(func(st Statistics) float64 { return st.Triggers })},
		{"underflows", stat(func(st Statistics) float64 { return st.Underflows })},
		{"overflows", stat(func(st Statistics) float64 { return st.Overflows })},
		{"list_buffer_len_a", listBufferLen("a")},
		{"list_buffer_len_b", listBufferLen("b")},
		{"mca_events", stat(func(st Statistics) float64 { return st.Events })},
		{"total_output_events", stat(Statistics.TotalEvents)},
		{"mapping_mode", getMappingMode},
	}
}

// RunData returns the names of all known run data.
func RunData() []string {
	o := make([]string, len(runData))
	for i, rd := range runData {
		o[i] = rd.name
	}
	return o
}

// RunData returns the named run data of a module channel.
func (m *Module) RunData(modChan int, name string) (interface{}, error) {
	m.lock()
	defer m.unlock()

	ch, err := m.channel(modChan)
	if err != nil {
		return nil, err
	}
	return ch.runData(name)
}

func (ch *Channel) runData(name string) (interface{}, error) {
	switch name {
	case "livetime":
		ch.mod.msg.Printf("run data %q is deprecated: use trigger_livetime or energy_livetime", name)
	case "events_in_run":
		ch.mod.msg.Printf("run data %q is deprecated: use mca_events or total_output_events", name)
	}

	for _, rd := range runData {
		if rd.name != name {
			continue
		}
		v, err := rd.get(ch)
		if err != nil {
			return nil, fmt.Errorf("xmap: could not get run data %q (detChan=%d): %w", name, ch.det, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("xmap: could not get run data %q: %w", name, ErrUnknownName)
}

func (ch *Channel) mcaLength() int {
	return int(ch.val("number_mca_channels"))
}

func getMCALength(ch *Channel) (interface{}, error) {
	return uint32(ch.mcaLength()), nil
}

// getMCA reads the spectrum of the channel. Spectra of the 4 channels
// follow the statistics block, each number_mca_channels long.
func getMCA(ch *Channel) (interface{}, error) {
	n := ch.mcaLength()
	brd := ch.brd()
	data := brd.readMem(MemorySpec{
		Space: SpaceBurst,
		Addr:  uint32(memBlockSize + ch.idx*n),
		Len:   n,
	})
	if err := brd.flush(); err != nil {
		return nil, err
	}
	return data, nil
}

// getModuleMCA reads the spectra of all the module channels. All the
// channels use the same spectrum length.
func getModuleMCA(ch *Channel) (interface{}, error) {
	n := ch.mcaLength()
	brd := ch.brd()
	data := brd.readMem(MemorySpec{
		Space: SpaceBurst,
		Addr:  memBlockSize,
		Len:   nChans * n,
	})
	if err := brd.flush(); err != nil {
		return nil, err
	}
	return data, nil
}

func getModuleStatistics(n int) runDataFunc {
	return func(ch *Channel) (interface{}, error) {
		return ch.mod.moduleStatistics(n)
	}
}

func getSCALength(ch *Channel) (interface{}, error) {
	return uint16(len(ch.sca.lo)), nil
}

func getMaxSCALength(ch *Channel) (interface{}, error) {
	return uint16(maxSCAs), nil
}

func getSCAData(ch *Channel) (interface{}, error) {
	return ch.scaData()
}

func getRunActive(ch *Channel) (interface{}, error) {
	brd := ch.brd()
	ok := brd.checkBit(regCSR, csrRunActive)
	if err := brd.flush(); err != nil {
		return nil, err
	}
	return ok, nil
}

func getMappingMode(ch *Channel) (interface{}, error) {
	mode, err := ch.mappingMode()
	if err != nil {
		return nil, err
	}
	return uint16(mode), nil
}

func bufferFull(buf string) runDataFunc {
	return func(ch *Channel) (interface{}, error) {
		if err := ch.requireMapping(); err != nil {
			return nil, err
		}
		full := mfrBufAFull
		if buf == "b" {
			full = mfrBufBFull
		}
		brd := ch.brd()
		ok := brd.checkBit(regMFR, full)
		if err := brd.flush(); err != nil {
			return nil, err
		}
		return ok, nil
	}
}

func getBufferOverrun(ch *Channel) (interface{}, error) {
	if err := ch.requireMapping(); err != nil {
		return nil, err
	}
	brd := ch.brd()
	ok := brd.checkBit(regMFR, mfrBufOverrun)
	if err := brd.flush(); err != nil {
		return nil, err
	}
	return ok, nil
}

// pixelBlockSize returns the size, in words, of one pixel of a MCA or SCA
// mapping buffer.
// The hardware always includes the 4 channels in a pixel.
func (m *Module) pixelBlockSize(mode MappingMode, mcaLen int) int {
	if mode == MappingMCA {
		return nChans*mcaLen + memBlockSize
	}
	n := scaPixelBlockHeader
	for _, ch := range m.chans {
		n += 2 * len(ch.sca.lo)
	}
	return n
}

// bufferLen returns the length, in words, of a MCA or SCA mapping buffer.
func (ch *Channel) bufferLen() (int, error) {
	ok, err := ch.isMapping(mapMCA | mapSCA)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("xmap: no MCA or SCA mapping (detChan=%d): %w", ch.det, ErrNoMapping)
	}

	mode := MappingMode(ch.param("MAPPINGMODE"))
	ppb := ch.param("PIXPERBUF")
	if err := ch.flush(); err != nil {
		return 0, err
	}

	n := memBlockSize + int(ppb)*ch.mod.pixelBlockSize(mode, ch.mcaLength())
	if n > maxClearBufferSize {
		return 0, fmt.Errorf("xmap: buffer length %d exceeds %d words: %w", n, maxClearBufferSize, ErrBadBuffer)
	}
	return n, nil
}

func getBufferLen(ch *Channel) (interface{}, error) {
	n, err := ch.bufferLen()
	if err != nil {
		return nil, err
	}
	return uint32(n), nil
}

// listBufLen returns the number of words in list mode buffer buf.
func (ch *Channel) listBufLen(buf string) (int, error) {
	ok, err := ch.isMapping(mapList)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("xmap: no list mode (detChan=%d): %w", ch.det, ErrNoMapping)
	}

	var lo, hi uint16
	switch buf {
	case "a":
		lo = ch.param("LISTBUFALEN")
		hi = ch.param("LISTBUFALENA")
	case "b":
		lo = ch.param("LISTBUFBLEN")
		hi = ch.param("LISTBUFBLENA")
	default:
		return 0, fmt.Errorf("xmap: unknown buffer %q: %w", buf, ErrBadBuffer)
	}
	if err := ch.flush(); err != nil {
		return 0, err
	}
	return int(lo) | int(hi)<<16, nil
}

func listBufferLen(buf string) runDataFunc {
	return func(ch *Channel) (interface{}, error) {
		n, err := ch.listBufLen(buf)
		if err != nil {
			return nil, err
		}
		return uint32(n), nil
	}
}

func getBuffer(buf string) runDataFunc {
	return func(ch *Channel) (interface{}, error) {
		mode, err := ch.mappingMode()
		if err != nil {
			return nil, err
		}

		var n int
		switch mode {
		case MappingMCA, MappingSCA:
			n, err = ch.bufferLen()
		case MappingList:
			n, err = ch.listBufLen(buf)
		default:
			return nil, fmt.Errorf("xmap: detChan=%d: %w", ch.det, ErrNoMapping)
		}
		if err != nil {
			return nil, err
		}

		base := uint32(bufferAAddr)
		if buf == "b" {
			base = bufferBAddr
		}
		brd := ch.brd()
		data := brd.readMem(MemorySpec{Space: SpaceExternal, Addr: base, Len: n})
		if err := brd.flush(); err != nil {
			return nil, err
		}
		return data, nil
	}
}

func getCurrentPixel(ch *Channel) (interface{}, error) {
	if err := ch.requireMapping(); err != nil {
		return nil, err
	}
	lo := ch.param("PIXELNUM")
	hi := ch.param("PIXELNUMA")
	if err := ch.flush(); err != nil {
		return nil, err
	}
	return uint32(lo) | uint32(hi)<<16, nil
}
