// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fdd implements a firmware database for xMAP modules.
//
// The database is a YAML catalog listing firmware images, the peaking
// time range each one covers and the keywords selecting it:
//
//	firmware:
//	  - file: fxp_reset_0.fip
//	    kind: fippi_a
//	    pt_min: 0.1
//	    pt_max: 1.5
//	    keywords: [RESET]
//	    filter: [0, 2]
//	  - file: xmap_reset.hex
//	    kind: system_dsp
//	    pt_min: 0
//	    pt_max: 100
//	    keywords: [RESET]
//
// Relative file names are resolved against the directory of the catalog.
package fdd // import "github.com/xiallc/Handel-Releases-sub004/fdd"

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xiallc/Handel-Releases-sub004/xmap"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound reports that no catalog entry matches a request.
	ErrNotFound = errors.New("fdd: no matching firmware")
)

// Entry describes one firmware image of the catalog.
type Entry struct {
	File     string   `yaml:"file"`
	Kind     string   `yaml:"kind"`
	PtMin    float64  `yaml:"pt_min"`
	PtMax    float64  `yaml:"pt_max"`
	Keywords []string `yaml:"keywords,omitempty"`
	Filter   []uint16 `yaml:"filter,omitempty"`
}

// covers reports whether pt falls in the ]PtMin, PtMax] range of the entry.
func (e Entry) covers(pt float64) bool {
	return e.PtMin < pt && pt <= e.PtMax
}

func (e Entry) overlaps(o Entry) bool {
	return !(e.PtMin >= o.PtMax || e.PtMax <= o.PtMin)
}

type catalog struct {
	Firmware []Entry `yaml:"firmware"`
}

// DB is a firmware database.
type DB struct {
	dir string
	fws []Entry
}

// Open loads the firmware catalog stored in fname.
func Open(fname string) (*DB, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return nil, fmt.Errorf("fdd: could not read catalog %q: %w", fname, err)
	}

	db, err := Decode(bytes.NewReader(raw), filepath.Dir(fname))
	if err != nil {
		return nil, fmt.Errorf("fdd: could not load catalog %q: %w", fname, err)
	}
	return db, nil
}

// Decode reads a YAML catalog from r.
// Relative firmware files are resolved against dir.
func Decode(r io.Reader, dir string) (*DB, error) {
	var cat catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(&cat)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("fdd: could not decode catalog: %w", err)
	}
	return New(dir, cat.Firmware)
}

// New creates a firmware database from a list of entries.
func New(dir string, entries []Entry) (*DB, error) {
	db := &DB{
		dir: dir,
		fws: make([]Entry, len(entries)),
	}
	for i, e := range entries {
		switch e.Kind {
		case xmap.KindFiPPI, xmap.KindDSP, xmap.KindSystemFPGA:
		default:
			return nil, fmt.Errorf("fdd: entry %d (%q) has invalid kind %q", i, e.File, e.Kind)
		}
		if e.File == "" {
			return nil, fmt.Errorf("fdd: entry %d has no file", i)
		}
		if e.PtMin >= e.PtMax {
			return nil, fmt.Errorf(
				"fdd: entry %d (%q) has invalid peaking time range [%v, %v]",
				i, e.File, e.PtMin, e.PtMax,
			)
		}
		e.Keywords = normalize(e.Keywords)
		e.Filter = append([]uint16(nil), e.Filter...)
		db.fws[i] = e
	}

	for i, a := range db.fws {
		for _, b := range db.fws[i+1:] {
			if a.Kind != b.Kind || !equal(a.Keywords, b.Keywords) {
				continue
			}
			if a.overlaps(b) {
				return nil, fmt.Errorf(
					"fdd: %q [%v, %v] and %q [%v, %v] (kind=%s, keywords=%q): %w",
					a.File, a.PtMin, a.PtMax, b.File, b.PtMin, b.PtMax,
					a.Kind, a.Keywords, xmap.ErrOverlap,
				)
			}
		}
	}

	return db, nil
}

// Entries returns the catalog entries.
func (db *DB) Entries() []Entry {
	return append([]Entry(nil), db.fws...)
}

// Firmware returns the image of the given kind covering the peaking time
// pt and selected by keywords and the detector type.
//
// The keywords of an entry, minus the detector type, must be exactly the
// requested ones (case-insensitively). Entries naming the detector type
// win over entries that do not.
func (db *DB) Firmware(kind string, pt float64, keywords []string, detType string) (xmap.FirmwareRecord, error) {
	var (
		req  = normalize(keywords)
		det  = strings.ToUpper(strings.TrimSpace(detType))
		best = -1
		rank = 0
	)
	for i, fw := range db.fws {
		if fw.Kind != kind || !fw.covers(pt) {
			continue
		}
		r := score(fw.Keywords, req, det)
		if r > rank {
			best, rank = i, r
		}
	}
	if best < 0 {
		return xmap.FirmwareRecord{}, fmt.Errorf(
			"fdd: no %s firmware for pt=%v, keywords=%q, detector=%q: %w",
			kind, pt, req, detType, ErrNotFound,
		)
	}

	fw := db.fws[best]
	return xmap.FirmwareRecord{Path: db.Path(fw.File), RawID: fw.File}, nil
}

// FilterInfo returns the filter description of the first FiPPI covering
// the peaking time pt and listing all the requested keywords.
func (db *DB) FilterInfo(pt float64, keywords []string) (xmap.FilterInfo, error) {
	req := normalize(keywords)
	for _, fw := range db.fws {
		if fw.Kind != xmap.KindFiPPI || !fw.covers(pt) {
			continue
		}
		if !contains(fw.Keywords, req) {
			continue
		}
		return xmap.FilterInfo{
			PtMin:  fw.PtMin,
			PtMax:  fw.PtMax,
			Coeffs: append([]uint16(nil), fw.Filter...),
		}, nil
	}
	return xmap.FilterInfo{}, fmt.Errorf(
		"fdd: no filter for pt=%v, keywords=%q: %w", pt, req, ErrNotFound,
	)
}

// Path returns the location of the firmware file fname of the catalog.
func (db *DB) Path(fname string) string {
	if filepath.IsAbs(fname) || db.dir == "" {
		return fname
	}
	return filepath.Join(db.dir, fname)
}

// score ranks how well the keywords of an entry match a request.
// Zero means no match.
func score(have, req []string, det string) int {
	rank := 1
	if det != "" && contains(have, []string{det}) {
		rank = 2
		have = remove(have, det)
	}
	if !equal(have, req) {
		return 0
	}
	return rank
}

func remove(kwds []string, k string) []string {
	out := make([]string, 0, len(kwds))
	for _, v := range kwds {
		if v != k {
			out = append(out, v)
		}
	}
	return out
}

// contains reports whether every keyword of sub is in set.
// Both slices are normalized.
func contains(set, sub []string) bool {
	for _, k := range sub {
		i := sort.SearchStrings(set, k)
		if i >= len(set) || set[i] != k {
			return false
		}
	}
	return true
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// normalize returns the upper-cased, sorted and deduplicated keywords.
func normalize(kwds []string) []string {
	if len(kwds) == 0 {
		return nil
	}
	out := make([]string, 0, len(kwds))
	for _, k := range kwds {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	o := out[:0]
	for _, k := range out {
		if len(o) > 0 && k == o[len(o)-1] {
			continue
		}
		o = append(o, k)
	}
	if len(o) == 0 {
		return nil
	}
	return o
}

var (
	_ xmap.FirmwareDB = (*DB)(nil)
)
