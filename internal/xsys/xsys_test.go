// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xsys

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const catalog = `
firmware:
  - file: fippi0.fip
    kind: fippi_a
    pt_min: 0.1
    pt_max: 6
    filter: [0, 2]
  - file: fippi4.fip
    kind: fippi_a
    pt_min: 6
    pt_max: 40
    filter: [0, 2]
  - file: xmap.hex
    kind: system_dsp
    pt_min: 0
    pt_max: 100
  - file: system.fpga
    kind: system_fpga
    pt_min: 0
    pt_max: 100
  - file: system_mapping.fpga
    kind: system_fpga
    pt_min: 0
    pt_max: 100
    keywords: [mapping]
`

func writeFiles(t *testing.T, cfg string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "fdd.yaml"), []byte(catalog), 0644)
	if err != nil {
		t.Fatalf("could not write catalog: %+v", err)
	}
	fname := filepath.Join(dir, "xmap.yaml")
	err = os.WriteFile(fname, []byte(cfg), 0644)
	if err != nil {
		t.Fatalf("could not write config: %+v", err)
	}
	return fname
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("could not load defaults: %+v", err)
	}
	if got, want := cfg.Addr, ":8877"; got != want {
		t.Fatalf("invalid address: got=%q, want=%q", got, want)
	}
	if got, want := cfg.DB, (DB{User: "xia", Name: "xmap"}); got != want {
		t.Fatalf("invalid db: got=%+v, want=%+v", got, want)
	}
	if got, want := len(cfg.Modules), 1; got != want {
		t.Fatalf("invalid number of modules: got=%d, want=%d", got, want)
	}
	mod := cfg.Modules[0]
	if mod.Alias != "xmap0" || mod.Detector.Alias != "det0" || mod.Detector.Type != "reset" {
		t.Fatalf("invalid module: %+v", mod)
	}
	if got, want := mod.Channels, []int{0, 1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid channels: got=%v, want=%v", got, want)
	}
}

func TestLoad(t *testing.T) {
	fname := writeFiles(t, `
addr: ":9999"
firmware: fdd.yaml
images:
  - file: fippi4.fip
    decimation: 4
modules:
  - alias: xmap1
    channels: [4, 5, -1, 7]
    detector:
      alias: det1
      type: rc_feedback
      gain: [2.5, 2.5, 2.5, 2.5]
db:
  addr: db.example.org:3306
`)
	t.Setenv("XMAP_DB_PASSWORD", "s3cr3t")

	cfg, err := Load(fname)
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}

	want := Config{
		Addr:     ":9999",
		Firmware: "fdd.yaml",
		Images:   []Image{{File: "fippi4.fip", Decimation: 4}},
		Modules: []Module{{
			Alias:    "xmap1",
			Channels: []int{4, 5, -1, 7},
			Detector: Detector{
				Alias: "det1",
				Type:  "rc_feedback",
				Gain:  []float64{2.5, 2.5, 2.5, 2.5},
			},
		}},
		DB: DB{
			User:     "xia",
			Password: "s3cr3t",
			Addr:     "db.example.org:3306",
			Name:     "xmap",
		},
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("invalid config:\ngot= %+v\nwant=%+v", cfg, want)
	}

	_, err = Load(filepath.Join(t.TempDir(), "not-there.yaml"))
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestOpen(t *testing.T) {
	fname := writeFiles(t, `
images:
  - file: fippi4.fip
    decimation: 4
modules:
  - alias: xmap0
    channels: [0, 1, 2, 3]
  - alias: xmap1
    channels: [4, 5, 6, 7]
`)
	cfg, err := Load(fname)
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}
	cfg.Firmware = filepath.Join(filepath.Dir(fname), "fdd.yaml")
	cfg.Modules[1].Image = filepath.Join(filepath.Dir(fname), "xmap1.img")

	sys, err := cfg.Open(log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("could not open system: %+v", err)
	}
	defer sys.Close()

	err = sys.Setup()
	if err != nil {
		t.Fatalf("could not setup system: %+v", err)
	}

	if got, want := sys.Channels(), []int{0, 1, 2, 3, 4, 5, 6, 7}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid channels: got=%v, want=%v", got, want)
	}
	if got, want := len(sys.Boards), 2; got != want {
		t.Fatalf("invalid number of boards: got=%d, want=%d", got, want)
	}

	fippi, dsp, sys1 := sys.Boards[1].Firmware()
	dir := filepath.Dir(fname)
	if fippi != filepath.Join(dir, "fippi4.fip") || dsp != filepath.Join(dir, "xmap.hex") || sys1 != filepath.Join(dir, "system.fpga") {
		t.Fatalf("invalid firmware: %q, %q, %q", fippi, dsp, sys1)
	}
	dec, err := sys.Boards[0].GetParameter(0, "DECIMATION")
	if err != nil {
		t.Fatalf("could not read decimation: %+v", err)
	}
	if dec != 4 {
		t.Fatalf("invalid decimation: got=%d, want=4", dec)
	}

	_, err = sys.SetAcquisitionValue(6, "mapping_mode", 1)
	if err != nil {
		t.Fatalf("could not switch to mapping: %+v", err)
	}
	if _, _, v := sys.Boards[1].Firmware(); v != filepath.Join(dir, "system_mapping.fpga") {
		t.Fatalf("invalid system FPGA: %q", v)
	}

	if _, err := os.Stat(cfg.Modules[1].Image); err != nil {
		t.Fatalf("missing board image: %+v", err)
	}
}

func TestOpenFail(t *testing.T) {
	fname := writeFiles(t, "")
	dir := filepath.Dir(fname)

	for _, tc := range []struct {
		name string
		cfg  Config
	}{
		{
			name: "no-catalog",
			cfg:  Default(),
		},
		{
			name: "missing-catalog",
			cfg: Config{
				Firmware: filepath.Join(dir, "missing.yaml"),
				Modules:  Default().Modules,
			},
		},
		{
			name: "no-module",
			cfg:  Config{Firmware: filepath.Join(dir, "fdd.yaml")},
		},
		{
			name: "bad-detector",
			cfg: Config{
				Firmware: filepath.Join(dir, "fdd.yaml"),
				Modules:  []Module{{Alias: "xmap0", Detector: Detector{Type: "pulsed"}}},
			},
		},
		{
			name: "dup-channels",
			cfg: Config{
				Firmware: filepath.Join(dir, "fdd.yaml"),
				Modules: []Module{
					{Alias: "xmap0", Channels: []int{0, 1, 2, 3}},
					{Alias: "xmap1", Channels: []int{3, 4, 5, 6}},
				},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sys, err := tc.cfg.Open(log.New(io.Discard, "", 0))
			if err == nil {
				_ = sys.Close()
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestStore(t *testing.T) {
	db, err := Default().Store()
	if err != nil {
		t.Fatalf("could not open store: %+v", err)
	}
	if db != nil {
		t.Fatalf("expected no store")
	}
}
