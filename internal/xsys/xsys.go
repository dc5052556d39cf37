// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xsys builds a simulated xMAP system from a YAML configuration
// file.
//
// Example:
//
//	addr: ":8877"
//	firmware: /opt/xia/fdd.yaml
//	images:
//	  - file: fxp_reset_0.fip
//	    decimation: 0
//	modules:
//	  - alias: xmap0
//	    image: /dev/shm/xmap0.img
//	    channels: [0, 1, 2, 3]
//	    detector:
//	      alias: det0
//	      type: reset
//	db:
//	  user: xia
//	  addr: localhost:3306
//	  name: xmap
package xsys // import "github.com/xiallc/Handel-Releases-sub004/internal/xsys"

import (
	"fmt"
	"log"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/xiallc/Handel-Releases-sub004/fdd"
	"github.com/xiallc/Handel-Releases-sub004/settingsdb"
	"github.com/xiallc/Handel-Releases-sub004/sim"
	"github.com/xiallc/Handel-Releases-sub004/xmap"
)

// EnvPrefix is the prefix of the environment variables overriding the
// configuration file, e.g. XMAP_DB_PASSWORD for db.password.
const EnvPrefix = "XMAP_"

// Config describes a system of simulated xMAP modules.
type Config struct {
	Addr     string   `koanf:"addr"`     // control server address
	Firmware string   `koanf:"firmware"` // firmware catalog
	Images   []Image  `koanf:"images"`
	Modules  []Module `koanf:"modules"`
	DB       DB       `koanf:"db"`
}

// Image describes a firmware image of the catalog, as seen by the
// simulated boards. Catalog entries without an Image are registered with
// a zero decimation; system FPGAs with the MAPPING keyword support mapping.
type Image struct {
	File       string `koanf:"file"`
	Decimation uint16 `koanf:"decimation"`
	Mapping    bool   `koanf:"mapping"`
}

// Module describes one board of the system.
type Module struct {
	Alias    string   `koanf:"alias"`
	Image    string   `koanf:"image"` // board image file, anonymous memory if empty
	Channels []int    `koanf:"channels"`
	Elements []int    `koanf:"elements"`
	Detector Detector `koanf:"detector"`
}

// Detector describes the detector wired to a module.
type Detector struct {
	Alias     string    `koanf:"alias"`
	Type      string    `koanf:"type"` // reset or rc_feedback
	Gain      []float64 `koanf:"gain"`
	Polarity  []uint16  `koanf:"polarity"`
	TypeValue []float64 `koanf:"type_value"`
}

// DB describes the settings database.
type DB struct {
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Addr     string `koanf:"addr"`
	Name     string `koanf:"name"`
}

// Default returns the default configuration: one module with an
// anonymous board image and no settings database.
func Default() Config {
	return Config{
		Addr: ":8877",
		Modules: []Module{{
			Alias:    "xmap0",
			Channels: []int{0, 1, 2, 3},
			Detector: Detector{Alias: "det0", Type: "reset"},
		}},
		DB: DB{User: "xia", Name: "xmap"},
	}
}

// Load loads the configuration file fname on top of the default
// configuration, then applies the XMAP_ environment variables.
// An empty fname only applies the defaults and the environment.
func Load(fname string) (Config, error) {
	k := koanf.New(".")
	err := k.Load(structs.Provider(Default(), "koanf"), nil)
	if err != nil {
		return Config{}, fmt.Errorf("xsys: could not load defaults: %w", err)
	}

	if fname != "" {
		// lists of the file replace the default ones.
		err = k.Load(file.Provider(fname), yaml.Parser())
		if err != nil {
			return Config{}, fmt.Errorf("xsys: could not load config file %q: %w", fname, err)
		}
	}

	err = k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	if err != nil {
		return Config{}, fmt.Errorf("xsys: could not load environment: %w", err)
	}

	var cfg Config
	err = k.Unmarshal("", &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("xsys: could not decode configuration: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// System is a system of simulated xMAP modules.
type System struct {
	*xmap.System
	Boards []*sim.Board
}

// Close closes the boards of the system.
func (sys *System) Close() error {
	var err error
	for _, brd := range sys.Boards {
		e := brd.Close()
		if e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Open builds the system described by cfg. Modules log to msg.
// The system still needs a Setup.
func (cfg Config) Open(msg *log.Logger) (*System, error) {
	if cfg.Firmware == "" {
		return nil, fmt.Errorf("xsys: no firmware catalog")
	}
	if len(cfg.Modules) == 0 {
		return nil, fmt.Errorf("xsys: no module")
	}

	db, err := fdd.Open(cfg.Firmware)
	if err != nil {
		return nil, fmt.Errorf("xsys: could not open firmware catalog: %w", err)
	}
	opts := cfg.images(db)
	opts = append(opts, sim.WithLogger(msg))

	sys := &System{Boards: make([]*sim.Board, 0, len(cfg.Modules))}
	mods := make([]*xmap.Module, 0, len(cfg.Modules))
	for _, mc := range cfg.Modules {
		det, err := mc.Detector.detector()
		if err != nil {
			_ = sys.Close()
			return nil, fmt.Errorf("xsys: module %q: %w", mc.Alias, err)
		}

		var brd *sim.Board
		switch mc.Image {
		case "":
			brd, err = sim.New(opts...)
		default:
			brd, err = sim.Open(mc.Image, opts...)
		}
		if err != nil {
			_ = sys.Close()
			return nil, fmt.Errorf("xsys: could not create board of %q: %w", mc.Alias, err)
		}
		sys.Boards = append(sys.Boards, brd)

		mopts := []xmap.Option{xmap.WithLogger(msg)}
		if len(mc.Channels) > 0 {
			mopts = append(mopts, xmap.WithChannels(mc.Channels...))
		}
		if len(mc.Elements) > 0 {
			mopts = append(mopts, xmap.WithElements(mc.Elements...))
		}
		m, err := xmap.NewModule(mc.Alias, brd, brd, db, det, mopts...)
		if err != nil {
			_ = sys.Close()
			return nil, fmt.Errorf("xsys: could not create module %q: %w", mc.Alias, err)
		}
		mods = append(mods, m)
	}

	sys.System, err = xmap.NewSystem(mods...)
	if err != nil {
		_ = sys.Close()
		return nil, fmt.Errorf("xsys: could not create system: %w", err)
	}
	return sys, nil
}

// images returns the board options registering the catalog images.
func (cfg Config) images(db *fdd.DB) []sim.Option {
	known := make(map[string]Image, len(cfg.Images))
	for _, img := range cfg.Images {
		known[img.File] = img
	}

	var opts []sim.Option
	for _, e := range db.Entries() {
		img, ok := known[e.File]
		if !ok && e.Kind == xmap.KindSystemFPGA {
			for _, kw := range e.Keywords {
				if kw == "MAPPING" {
					img.Mapping = true
				}
			}
		}
		opts = append(opts, sim.WithImage(db.Path(e.File), sim.Image{
			Decimation: img.Decimation,
			Mapping:    img.Mapping,
		}))
	}
	return opts
}

func (det Detector) detector() (*xmap.Detector, error) {
	o := &xmap.Detector{
		Alias:     det.Alias,
		Gain:      append([]float64(nil), det.Gain...),
		Polarity:  append([]uint16(nil), det.Polarity...),
		TypeValue: append([]float64(nil), det.TypeValue...),
	}
	switch strings.ToLower(det.Type) {
	case "", "reset":
		o.Type = xmap.PreampReset
	case "rc", "rc_feedback":
		o.Type = xmap.PreampRC
	default:
		return nil, fmt.Errorf("invalid detector type %q", det.Type)
	}
	return o, nil
}

// Store opens the settings database described by cfg.
// It returns a nil store when no database address is configured.
func (cfg Config) Store() (*settingsdb.DB, error) {
	if cfg.DB.Addr == "" {
		return nil, nil
	}
	db, err := settingsdb.Open(settingsdb.DSN(cfg.DB.User, cfg.DB.Password, cfg.DB.Addr, cfg.DB.Name))
	if err != nil {
		return nil, fmt.Errorf("xsys: could not open settings database: %w", err)
	}
	return db, nil
}
