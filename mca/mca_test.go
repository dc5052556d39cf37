// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mca

import (
	"bytes"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xiallc/Handel-Releases-sub004/fdd"
	"github.com/xiallc/Handel-Releases-sub004/sim"
	"github.com/xiallc/Handel-Releases-sub004/xmap"
)

func TestH1D(t *testing.T) {
	spec := Spectrum{
		DetChan:  2,
		BinWidth: 10,
		Counts:   []uint32{0, 3, 5, 0, 1, 0, 0, 2},
		Stats:    xmap.Statistics{Realtime: 1.5},
	}

	h := spec.H1D()
	if got, want := h.Len(), 8; got != want {
		t.Fatalf("invalid number of bins: got=%d, want=%d", got, want)
	}
	if got, want := h.XMin(), 0.0; got != want {
		t.Fatalf("invalid x-min: got=%v, want=%v", got, want)
	}
	if got, want := h.XMax(), 80.0; got != want {
		t.Fatalf("invalid x-max: got=%v, want=%v", got, want)
	}
	if got, want := h.SumW(), 11.0; got != want {
		t.Fatalf("invalid sum of weights: got=%v, want=%v", got, want)
	}
	for i, c := range spec.Counts {
		if got, want := h.Value(i), float64(c); got != want {
			t.Fatalf("invalid bin %d: got=%v, want=%v", i, got, want)
		}
	}
	if got, want := h.Name(), "mca-002"; got != want {
		t.Fatalf("invalid name: got=%q, want=%q", got, want)
	}
	if got, want := h.Annotation()["realtime"], 1.5; got != want {
		t.Fatalf("invalid realtime annotation: got=%v, want=%v", got, want)
	}

	empty := Spectrum{DetChan: 1}.H1D()
	if got, want := empty.SumW(), 0.0; got != want {
		t.Fatalf("invalid empty histogram: got=%v, want=%v", got, want)
	}
}

func TestYODA(t *testing.T) {
	specs := []Spectrum{
		{DetChan: 0, BinWidth: 10, Counts: []uint32{1, 2, 3, 4}},
		{DetChan: 1, BinWidth: 20, Counts: []uint32{0, 0, 7, 0}},
	}

	buf := new(bytes.Buffer)
	err := WriteYODA(buf, specs...)
	if err != nil {
		t.Fatalf("could not write YODA: %+v", err)
	}
	if !strings.Contains(buf.String(), "YODA_HISTO1D") {
		t.Fatalf("missing YODA header:\n%s", buf.String())
	}

	hs, err := ReadYODA(buf)
	if err != nil {
		t.Fatalf("could not read YODA: %+v", err)
	}
	if got, want := len(hs), len(specs); got != want {
		t.Fatalf("invalid number of histograms: got=%d, want=%d", got, want)
	}
	for i, h := range hs {
		spec := specs[i]
		if got, want := h.XMax(), float64(len(spec.Counts))*spec.BinWidth; got != want {
			t.Fatalf("histo %d: invalid x-max: got=%v, want=%v", i, got, want)
		}
		for j, c := range spec.Counts {
			if got, want := h.Value(j), float64(c); got != want {
				t.Fatalf("histo %d: invalid bin %d: got=%v, want=%v", i, j, got, want)
			}
		}
	}
}

func TestSave(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "mca.yoda")
	err := Save(fname, Spectrum{DetChan: 3, BinWidth: 5, Counts: []uint32{4, 2}})
	if err != nil {
		t.Fatalf("could not save spectra: %+v", err)
	}

	f, err := os.Open(fname)
	if err != nil {
		t.Fatalf("could not open output file: %+v", err)
	}
	defer f.Close()

	hs, err := ReadYODA(f)
	if err != nil {
		t.Fatalf("could not read YODA file: %+v", err)
	}
	if len(hs) != 1 || hs[0].SumW() != 6 {
		t.Fatalf("invalid YODA file content")
	}
}

func TestReadSystem(t *testing.T) {
	db, err := fdd.New("", []fdd.Entry{
		{File: "fippi4.fip", Kind: xmap.KindFiPPI, PtMin: 0.1, PtMax: 40, Filter: []uint16{0, 2}},
		{File: "xmap.hex", Kind: xmap.KindDSP, PtMin: 0, PtMax: 100},
		{File: "system.fpga", Kind: xmap.KindSystemFPGA, PtMin: 0, PtMax: 100},
	})
	if err != nil {
		t.Fatalf("could not create firmware database: %+v", err)
	}

	brd, err := sim.New(
		sim.WithLogger(log.New(io.Discard, "", 0)),
		sim.WithImage("fippi4.fip", sim.Image{Decimation: 4}),
		sim.WithImage("xmap.hex", sim.Image{}),
		sim.WithImage("system.fpga", sim.Image{}),
	)
	if err != nil {
		t.Fatalf("could not create board: %+v", err)
	}
	defer brd.Close()

	m, err := xmap.NewModule(
		"xmap0", brd, brd, db, &xmap.Detector{Alias: "det0"},
		xmap.WithLogger(log.New(io.Discard, "", 0)),
		xmap.WithChannels(4, 5, 6, 7),
	)
	if err != nil {
		t.Fatalf("could not create module: %+v", err)
	}
	sys, err := xmap.NewSystem(m)
	if err != nil {
		t.Fatalf("could not create system: %+v", err)
	}
	err = sys.Setup()
	if err != nil {
		t.Fatalf("could not setup system: %+v", err)
	}

	_, err = sys.SetAcquisitionValue(xmap.AllChannels, "number_mca_channels", 1024)
	if err != nil {
		t.Fatalf("could not set spectrum length: %+v", err)
	}

	err = sys.StartRun(xmap.AllChannels, false)
	if err != nil {
		t.Fatalf("could not start run: %+v", err)
	}
	err = brd.Acquire(time.Second, sim.DefaultSource, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("could not acquire: %+v", err)
	}
	err = sys.StopRun(xmap.AllChannels)
	if err != nil {
		t.Fatalf("could not stop run: %+v", err)
	}

	specs, err := ReadAll(sys)
	if err != nil {
		t.Fatalf("could not read spectra: %+v", err)
	}
	if got, want := len(specs), 4; got != want {
		t.Fatalf("invalid number of spectra: got=%d, want=%d", got, want)
	}
	for i, spec := range specs {
		if got, want := spec.DetChan, 4+i; got != want {
			t.Fatalf("invalid detector channel: got=%d, want=%d", got, want)
		}
		if got, want := len(spec.Counts), 1024; got != want {
			t.Fatalf("invalid spectrum length: got=%d, want=%d", got, want)
		}
		if got, want := spec.BinWidth, 10.0; got != want {
			t.Fatalf("invalid bin width: got=%v, want=%v", got, want)
		}
		if got, want := spec.H1D().SumW(), spec.Stats.Events; got != want {
			t.Fatalf("invalid spectrum content: got=%v, want=%v", got, want)
		}
	}
}
