// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mca exports the MCA spectra of an xMAP system as histograms.
//
// A spectrum of n bins, each mca_bin_width eV wide, becomes a 1-dim
// histogram over [0, n*mca_bin_width) eV, bin i holding the counts of
// MCA channel i. Histograms are written in the YODA format.
package mca // import "github.com/xiallc/Handel-Releases-sub004/mca"

import (
	"fmt"
	"io"
	"os"

	"github.com/xiallc/Handel-Releases-sub004/xmap"
	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hbook/yodacnv"
)

// Spectrum is the MCA of a detector channel.
type Spectrum struct {
	DetChan  int
	BinWidth float64 // eV
	Counts   []uint32
	Stats    xmap.Statistics
}

// Name returns the histogram name of the spectrum.
func (s Spectrum) Name() string {
	return fmt.Sprintf("mca-%03d", s.DetChan)
}

// Read reads the spectrum and statistics of a detector channel.
func Read(sys *xmap.System, detChan int) (Spectrum, error) {
	bw, err := sys.GetAcquisitionValue(detChan, "mca_bin_width")
	if err != nil {
		return Spectrum{}, fmt.Errorf("mca: could not read bin width (detChan=%d): %w", detChan, err)
	}

	raw, err := sys.RunData(detChan, "mca")
	if err != nil {
		return Spectrum{}, fmt.Errorf("mca: could not read spectrum (detChan=%d): %w", detChan, err)
	}
	counts, ok := raw.([]uint32)
	if !ok {
		return Spectrum{}, fmt.Errorf("mca: invalid spectrum type %T (detChan=%d)", raw, detChan)
	}

	stats, err := sys.Statistics()
	if err != nil {
		return Spectrum{}, fmt.Errorf("mca: could not read statistics: %w", err)
	}

	return Spectrum{
		DetChan:  detChan,
		BinWidth: bw,
		Counts:   counts,
		Stats:    stats[detChan],
	}, nil
}

// ReadAll reads the spectra of all the detector channels of a system.
func ReadAll(sys *xmap.System) ([]Spectrum, error) {
	var (
		dets = sys.Channels()
		o    = make([]Spectrum, 0, len(dets))
	)
	for _, det := range dets {
		spec, err := Read(sys, det)
		if err != nil {
			return nil, err
		}
		o = append(o, spec)
	}
	return o, nil
}

// H1D converts the spectrum into a histogram over energy, in eV.
// Run statistics are stored as annotations.
func (s Spectrum) H1D() *hbook.H1D {
	var (
		n    = len(s.Counts)
		xmax = float64(n) * s.BinWidth
	)
	if n == 0 || s.BinWidth <= 0 {
		n, xmax = 1, 1
	}
	h := hbook.NewH1D(n, 0, xmax)
	for i, c := range s.Counts {
		if c == 0 {
			continue
		}
		h.Fill((float64(i)+0.5)*s.BinWidth, float64(c))
	}

	ann := h.Annotation()
	ann["name"] = s.Name()
	ann["det_chan"] = s.DetChan
	ann["bin_width"] = s.BinWidth
	ann["realtime"] = s.Stats.Realtime
	ann["trigger_livetime"] = s.Stats.TriggerLivetime
	ann["energy_livetime"] = s.Stats.EnergyLivetime
	ann["input_count_rate"] = s.Stats.ICR
	ann["output_count_rate"] = s.Stats.OCR
	return h
}

// WriteYODA writes the spectra to w in the YODA format.
func WriteYODA(w io.Writer, specs ...Spectrum) error {
	hs := make([]yodacnv.Marshaler, len(specs))
	for i, s := range specs {
		hs[i] = s.H1D()
	}
	err := yodacnv.Write(w, hs...)
	if err != nil {
		return fmt.Errorf("mca: could not write YODA stream: %w", err)
	}
	return nil
}

// ReadYODA reads the histograms of a YODA stream.
func ReadYODA(r io.Reader) ([]*hbook.H1D, error) {
	objs, err := yodacnv.Read(r)
	if err != nil {
		return nil, fmt.Errorf("mca: could not read YODA stream: %w", err)
	}
	var o []*hbook.H1D
	for _, obj := range objs {
		h, ok := obj.(*hbook.H1D)
		if !ok {
			continue
		}
		o = append(o, h)
	}
	return o, nil
}

// Save writes the spectra to the YODA file fname.
func Save(fname string, specs ...Spectrum) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("mca: could not create output file: %w", err)
	}
	defer f.Close()

	err = WriteYODA(f, specs...)
	if err != nil {
		return err
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("mca: could not close output file: %w", err)
	}
	return nil
}
