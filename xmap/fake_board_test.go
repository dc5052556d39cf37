// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// globalParams are shared by the 4 channels of a module.
var globalParams = map[string]bool{
	"MAPPINGMODE": true,
	"PIXPERBUF":   true,
	"NUMPIXELS":   true,
	"NUMPIXELSA":  true,
	"PIXELNUM":    true,
	"PIXELNUMA":   true,
	"DECIMATION":  true,
	"MODNUM":      true,
}

// fakeBoard is an in-memory xMAP board counting its accesses.
type fakeBoard struct {
	regs   map[string]uint32
	params [nChans]map[string]uint16
	mem    map[string]map[uint32]uint32
	tasks  []string

	// decimation of the FiPPI images, by file.
	decs map[string]uint16

	stuck bool // buffers never report empty

	nreads  map[string]int
	nwrites map[string]int
	fpgas   []string
	dsps    []string
	seq     []string // downloads and control tasks, in order
	failReg error
	failPar error
	failOn  string // when set, failPar only applies to writes of that parameter
}

func newFakeBoard() *fakeBoard {
	brd := &fakeBoard{
		regs:   make(map[string]uint32),
		mem:    make(map[string]map[uint32]uint32),
		decs:   make(map[string]uint16),
		nreads:  make(map[string]int),
		nwrites: make(map[string]int),
	}
	for i := range brd.params {
		brd.params[i] = make(map[string]uint16)
	}
	return brd
}

func (brd *fakeBoard) slot(ch int, name string) map[string]uint16 {
	if globalParams[name] {
		return brd.params[0]
	}
	return brd.params[ch]
}

func (brd *fakeBoard) ReadRegister(name string) (uint32, error) {
	if brd.failReg != nil {
		return 0, brd.failReg
	}
	brd.nreads[name]++
	return brd.regs[name], nil
}

func (brd *fakeBoard) WriteRegister(name string, v uint32) error {
	if brd.failReg != nil {
		return brd.failReg
	}
	switch name {
	case regMFR:
		for _, b := range []struct{ done, empty int }{
			{mfrBufADone, mfrBufAEmpty},
			{mfrBufBDone, mfrBufBEmpty},
		} {
			if bit(v, b.done) && !brd.stuck {
				v |= 1 << b.empty
			}
		}
		if bit(v, mfrPixelNext) {
			brd.params[0]["PIXELNUM"]++
		}
	case regCSR:
		if bit(v, csrRunEnable) {
			v |= 1 << csrRunActive
		} else {
			v &^= 1 << csrRunActive
		}
	}
	brd.regs[name] = v
	return nil
}

func (brd *fakeBoard) ReadMemory(spec MemorySpec) ([]uint32, error) {
	mem := brd.mem[spec.Space]
	o := make([]uint32, spec.Len)
	for i := range o {
		o[i] = mem[spec.Addr+uint32(i)]
	}
	return o, nil
}

func (brd *fakeBoard) WriteMemory(spec MemorySpec, data []uint32) error {
	mem, ok := brd.mem[spec.Space]
	if !ok {
		mem = make(map[uint32]uint32)
		brd.mem[spec.Space] = mem
	}
	for i, v := range data {
		mem[spec.Addr+uint32(i)] = v
	}
	return nil
}

func (brd *fakeBoard) GetParameter(ch int, name string) (uint16, error) {
	if brd.failPar != nil && brd.failOn == "" {
		return 0, brd.failPar
	}
	return brd.slot(ch, name)[name], nil
}

func (brd *fakeBoard) SetParameter(ch int, name string, v uint16) error {
	brd.nwrites[name]++
	if brd.failPar != nil && (brd.failOn == "" || brd.failOn == name) {
		return brd.failPar
	}
	brd.slot(ch, name)[name] = v
	return nil
}

func (brd *fakeBoard) ControlTask(ch int, name string) error {
	brd.tasks = append(brd.tasks, fmt.Sprintf("%s:%d", name, ch))
	brd.seq = append(brd.seq, fmt.Sprintf("%s:%d", name, ch))
	return nil
}

func (brd *fakeBoard) ReplaceFPGA(target, file string) error {
	brd.fpgas = append(brd.fpgas, target+":"+file)
	brd.seq = append(brd.seq, target+":"+file)
	switch target {
	case TargetSystemFPGA:
		brd.regs[regVAR] = 0
		if strings.Contains(file, "mapping") {
			brd.regs[regVAR] = 1
		}
	case TargetFiPPI, TargetFiPPINoWake:
		brd.params[0]["DECIMATION"] = brd.decs[file]
	}
	return nil
}

func (brd *fakeBoard) ReplaceDSP(file string) error {
	brd.dsps = append(brd.dsps, file)
	brd.seq = append(brd.seq, "dsp:"+file)
	return nil
}

func (brd *fakeBoard) nsys() int {
	n := 0
	for _, v := range brd.fpgas {
		if strings.HasPrefix(v, TargetSystemFPGA+":") {
			n++
		}
	}
	return n
}

type fakeFirmware struct {
	kind     string
	ptmin    float64
	ptmax    float64
	keywords []string
	file     string
	dec      uint16
	filter   []uint16
}

// covers reports whether pt falls in the ]ptmin, ptmax] range.
func (fw fakeFirmware) covers(pt float64) bool {
	return fw.ptmin < pt && pt <= fw.ptmax
}

// fakeFDD is a firmware database selecting images with the rules of
// fdd.DB over ]min,max] peaking time ranges.
// Entries tagged with the detector type win over untagged ones.
type fakeFDD struct {
	fws []fakeFirmware
}

func newFakeFDD() *fakeFDD {
	return &fakeFDD{
		fws: []fakeFirmware{
			{kind: KindFiPPI, ptmin: 0.1, ptmax: 1.5, file: "fippi0.fip", dec: 0},
			{kind: KindFiPPI, ptmin: 1.5, ptmax: 6, file: "fippi2.fip", dec: 2},
			{kind: KindFiPPI, ptmin: 6, ptmax: 40, file: "fippi4.fip", dec: 4},
			{kind: KindDSP, ptmin: 0, ptmax: 100, file: "xmap.hex"},
			{kind: KindSystemFPGA, ptmin: 0, ptmax: 100, file: "system.fpga"},
			{kind: KindSystemFPGA, ptmin: 0, ptmax: 100, keywords: []string{"MAPPING"}, file: "system_mapping.fpga"},
		},
	}
}

// keywordSet returns the upper-cased keywords, minus skip.
func keywordSet(kwds []string, skip string) map[string]bool {
	set := make(map[string]bool, len(kwds))
	for _, k := range kwds {
		k = strings.ToUpper(k)
		if k == skip {
			continue
		}
		set[k] = true
	}
	return set
}

// hasKeyword reports whether the keywords of fw contain k.
func (fw fakeFirmware) hasKeyword(k string) bool {
	return keywordSet(fw.keywords, "")[strings.ToUpper(k)]
}

// score ranks how well fw matches a request. Zero means no match.
func (fw fakeFirmware) score(req []string, det string) int {
	rank := 1
	det = strings.ToUpper(det)
	if det != "" && fw.hasKeyword(det) {
		rank = 2
	} else {
		det = ""
	}
	var (
		have = keywordSet(fw.keywords, det)
		want = keywordSet(req, "")
	)
	if len(have) != len(want) {
		return 0
	}
	for k := range want {
		if !have[k] {
			return 0
		}
	}
	return rank
}

func (db *fakeFDD) Firmware(kind string, pt float64, keywords []string, detType string) (FirmwareRecord, error) {
	var (
		best = -1
		rank = 0
	)
	for i, fw := range db.fws {
		if fw.kind != kind || !fw.covers(pt) {
			continue
		}
		if r := fw.score(keywords, detType); r > rank {
			best, rank = i, r
		}
	}
	if best < 0 {
		return FirmwareRecord{}, fmt.Errorf("no %s firmware for pt=%v, keywords=%q, detector=%q", kind, pt, keywords, detType)
	}
	fw := db.fws[best]
	return FirmwareRecord{Path: "/tmp/" + fw.file, RawID: fw.file}, nil
}

func (db *fakeFDD) FilterInfo(pt float64, keywords []string) (FilterInfo, error) {
loop:
	for _, fw := range db.fws {
		if fw.kind != KindFiPPI || !fw.covers(pt) {
			continue
		}
		for _, k := range keywords {
			if !fw.hasKeyword(k) {
				continue loop
			}
		}
		coeffs := fw.filter
		if coeffs == nil {
			coeffs = []uint16{0, 2}
		}
		return FilterInfo{PtMin: fw.ptmin, PtMax: fw.ptmax, Coeffs: append([]uint16(nil), coeffs...)}, nil
	}
	return FilterInfo{}, fmt.Errorf("no filter for pt=%v, keywords=%q", pt, keywords)
}

// newPreampFDD returns a catalog with a FiPPI and a DSP image per
// preamplifier type, above 6us.
func newPreampFDD() *fakeFDD {
	db := newFakeFDD()
	db.fws = append([]fakeFirmware{
		{kind: KindFiPPI, ptmin: 6, ptmax: 40, keywords: []string{"RC_FEEDBACK"}, file: "fippi4_rc.fip", dec: 4, filter: []uint16{7, 9}},
		{kind: KindFiPPI, ptmin: 6, ptmax: 40, keywords: []string{"reset"}, file: "fippi4_reset.fip", dec: 4, filter: []uint16{3, 5}},
		{kind: KindDSP, ptmin: 0, ptmax: 100, keywords: []string{"RC_FEEDBACK"}, file: "xmap_rc.hex"},
		{kind: KindDSP, ptmin: 0, ptmax: 100, keywords: []string{"RESET"}, file: "xmap_reset.hex"},
	}, db.fws...)
	return db
}

func (db *fakeFDD) register(brd *fakeBoard) {
	for _, fw := range db.fws {
		if fw.kind == KindFiPPI {
			brd.decs["/tmp/"+fw.file] = fw.dec
		}
	}
}

func newTestModule(opts ...Option) (*Module, *fakeBoard, error) {
	return newCatalogModule(newFakeFDD(), &Detector{Alias: "det1"}, opts...)
}

func newCatalogModule(db *fakeFDD, det *Detector, opts ...Option) (*Module, *fakeBoard, error) {
	brd := newFakeBoard()
	db.register(brd)

	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	m, err := NewModule("xmap1", brd, brd, db, det, opts...)
	if err != nil {
		return nil, nil, err
	}
	return m, brd, nil
}

func newSetupModule(opts ...Option) (*Module, *fakeBoard, error) {
	m, brd, err := newTestModule(opts...)
	if err != nil {
		return nil, nil, err
	}
	err = m.Setup()
	if err != nil {
		return nil, nil, fmt.Errorf("could not setup module: %w", err)
	}
	return m, brd, nil
}

var (
	_ Transport  = (*fakeBoard)(nil)
	_ Programmer = (*fakeBoard)(nil)
	_ FirmwareDB = (*fakeFDD)(nil)
)
