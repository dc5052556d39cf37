// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xmap-daq starts a TDAQ server acquiring spectra from a system of
// simulated xMAP modules.
//
// The system is described by the YAML file named by the XMAP_CONFIG
// environment variable. Spectra of each run are written as YODA files
// under the directory named by XMAP_OUTDIR (default: current directory).
//
// Usage:
//
//	$> XMAP_CONFIG=./xmap.yaml xmap-daq -lvl dbg -cmd :44000 -i :44001 xmap-daq
package main // import "github.com/xiallc/Handel-Releases-sub004/cmd/xmap-daq"

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/xiallc/Handel-Releases-sub004/internal/xsys"
	"github.com/xiallc/Handel-Releases-sub004/mca"
	"github.com/xiallc/Handel-Releases-sub004/sim"
	"github.com/xiallc/Handel-Releases-sub004/xmap"
)

func main() {
	cmd := flags.New()

	dev := newDevice(cmd.Args[0], os.Getenv("XMAP_CONFIG"), os.Getenv("XMAP_OUTDIR"))

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/mca", dev.mca)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type device struct {
	name string
	cfg  string // configuration file
	dir  string // output directory

	seed int64
	freq time.Duration // acquisition slice
	src  sim.Source
	msg  *log.Logger

	mu     sync.Mutex
	sys    *xsys.System
	rnd    *rand.Rand
	irun   int  // run number
	active bool // run in progress
	n      int  // number of acquisition slices in the run
	data   chan []byte
}

func newDevice(name, cfg, dir string) *device {
	if dir == "" {
		dir = "."
	}
	return &device{
		name: name,
		cfg:  cfg,
		dir:  dir,
		seed: 1234,
		freq: 100 * time.Millisecond,
		src:  sim.DefaultSource,
		msg:  log.New(os.Stdout, "xmap: ", 0),
		data: make(chan []byte, 1024),
	}
}

func (dev *device) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	cfg, err := xsys.Load(dev.cfg)
	if err != nil {
		ctx.Msg.Errorf("could not load configuration %q: %+v", dev.cfg, err)
		return fmt.Errorf("could not load configuration %q: %w", dev.cfg, err)
	}

	sys, err := cfg.Open(dev.msg)
	if err != nil {
		ctx.Msg.Errorf("could not create xMAP system: %+v", err)
		return fmt.Errorf("could not create xMAP system: %w", err)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.sys != nil {
		_ = dev.sys.Close()
	}
	dev.sys = sys
	ctx.Msg.Infof("configured %d modules", len(sys.Boards))
	return nil
}

func (dev *device) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.sys == nil {
		return fmt.Errorf("xmap-daq: /init before /config")
	}

	err := dev.sys.Setup()
	if err != nil {
		ctx.Msg.Errorf("could not setup xMAP system: %+v", err)
		return fmt.Errorf("could not setup xMAP system: %w", err)
	}
	dev.reset()
	return nil
}

func (dev *device) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.sys != nil && dev.active {
		err := dev.sys.StopRun(xmap.AllChannels)
		if err != nil {
			return fmt.Errorf("could not stop run: %w", err)
		}
	}
	dev.reset()
	return nil
}

func (dev *device) reset() {
	dev.rnd = rand.New(rand.NewSource(dev.seed))
	dev.data = make(chan []byte, 1024)
	dev.active = false
	dev.n = 0
}

func (dev *device) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.sys == nil {
		return fmt.Errorf("xmap-daq: /start before /config")
	}

	dev.irun++
	ctx.Msg.Debugf("received /start command... -> run=%d", dev.irun)

	err := dev.sys.StartRun(xmap.AllChannels, false)
	if err != nil {
		ctx.Msg.Errorf("could not start run %d: %+v", dev.irun, err)
		return fmt.Errorf("could not start run %d: %w", dev.irun, err)
	}
	dev.active = true
	dev.n = 0
	return nil
}

func (dev *device) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	ctx.Msg.Debugf("received /stop command... -> n=%d", dev.n)
	if dev.sys == nil || !dev.active {
		return nil
	}

	err := dev.sys.StopRun(xmap.AllChannels)
	if err != nil {
		ctx.Msg.Errorf("could not stop run %d: %+v", dev.irun, err)
		return fmt.Errorf("could not stop run %d: %w", dev.irun, err)
	}
	dev.active = false

	specs, err := mca.ReadAll(dev.sys.System)
	if err != nil {
		return fmt.Errorf("could not read spectra of run %d: %w", dev.irun, err)
	}

	fname := filepath.Join(dev.dir, fmt.Sprintf("xmap-run-%03d.yoda", dev.irun))
	err = mca.Save(fname, specs...)
	if err != nil {
		ctx.Msg.Errorf("could not save spectra of run %d: %+v", dev.irun, err)
		return fmt.Errorf("could not save spectra of run %d: %w", dev.irun, err)
	}
	ctx.Msg.Infof("run %d: %d spectra saved to %q", dev.irun, len(specs), fname)
	return nil
}

func (dev *device) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.sys == nil {
		return nil
	}
	err := dev.sys.Close()
	dev.sys = nil
	if err != nil {
		return fmt.Errorf("could not close xMAP system: %w", err)
	}
	return nil
}

func (dev *device) mca(ctx tdaq.Context, dst *tdaq.Frame) error {
	dev.mu.Lock()
	data := dev.data
	dev.mu.Unlock()

	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case raw := <-data:
		dst.Body = raw
	}
	return nil
}

func (dev *device) run(ctx tdaq.Context) error {
	tick := time.NewTicker(dev.freq)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-tick.C:
			err := dev.acquire()
			if err != nil {
				ctx.Msg.Errorf("could not acquire: %+v", err)
				return err
			}
		}
	}
}

// acquire simulates one acquisition slice and publishes the spectra.
func (dev *device) acquire() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.sys == nil || !dev.active {
		return nil
	}

	for i, brd := range dev.sys.Boards {
		err := brd.Acquire(dev.freq, dev.src, dev.rnd)
		if err != nil {
			return fmt.Errorf("could not acquire on module %d: %w", i, err)
		}
	}
	dev.n++

	specs, err := mca.ReadAll(dev.sys.System)
	if err != nil {
		return fmt.Errorf("could not read spectra: %w", err)
	}

	raw, err := encode(specs)
	if err != nil {
		return fmt.Errorf("could not encode spectra: %w", err)
	}

	select {
	case dev.data <- raw:
	default:
		// drop the slice if nobody reads the output.
	}
	return nil
}

// encode marshals spectra into the body of a /mca frame.
func encode(specs []mca.Spectrum) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(uint32(len(specs)))
	for _, spec := range specs {
		enc.WriteU32(uint32(spec.DetChan))
		enc.WriteF64(spec.BinWidth)
		enc.WriteF64(spec.Stats.Realtime)
		enc.WriteF64(spec.Stats.TriggerLivetime)
		enc.WriteF64(spec.Stats.EnergyLivetime)
		enc.WriteF64(spec.Stats.Triggers)
		enc.WriteF64(spec.Stats.Events)
		enc.WriteU32(uint32(len(spec.Counts)))
		for _, v := range spec.Counts {
			enc.WriteU32(v)
		}
	}
	if err := enc.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode unmarshals the body of a /mca frame.
func decode(raw []byte) ([]mca.Spectrum, error) {
	dec := tdaq.NewDecoder(bytes.NewReader(raw))
	n := int(dec.ReadU32())
	if err := dec.Err(); err != nil {
		return nil, err
	}

	specs := make([]mca.Spectrum, 0, n)
	for i := 0; i < n; i++ {
		var spec mca.Spectrum
		spec.DetChan = int(dec.ReadU32())
		spec.BinWidth = dec.ReadF64()
		spec.Stats.Realtime = dec.ReadF64()
		spec.Stats.TriggerLivetime = dec.ReadF64()
		spec.Stats.EnergyLivetime = dec.ReadF64()
		spec.Stats.Triggers = dec.ReadF64()
		spec.Stats.Events = dec.ReadF64()
		spec.Counts = make([]uint32, dec.ReadU32())
		for j := range spec.Counts {
			spec.Counts[j] = dec.ReadU32()
		}
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("could not decode spectrum %d: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
