// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xmap-srv runs a control server for a system of simulated xMAP
// modules.
//
// Usage:
//
//	$> xmap-srv -cfg ./xmap.yaml
//	$> xmap-srv -cfg ./xmap.yaml -addr :9999
package main // import "github.com/xiallc/Handel-Releases-sub004/cmd/xmap-srv"

import (
	"flag"
	"fmt"
	"log"
	"os"

	handel "github.com/xiallc/Handel-Releases-sub004"
	"github.com/xiallc/Handel-Releases-sub004/internal/xsys"
	"github.com/xiallc/Handel-Releases-sub004/xmap"
)

func main() {
	log.SetPrefix("xmap-srv: ")
	log.SetFlags(0)

	var (
		fname = flag.String("cfg", "", "path to the YAML configuration file")
		addr  = flag.String("addr", "", "[ip]:port to listen on (overrides the configuration)")
	)

	flag.Parse()

	if v, _ := handel.Version(); v != "" {
		log.Printf("version: %s", v)
	}

	cfg, err := xsys.Load(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	err = run(cfg)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(cfg xsys.Config) error {
	sys, err := cfg.Open(log.New(os.Stdout, "xmap: ", 0))
	if err != nil {
		return fmt.Errorf("could not create xMAP system: %w", err)
	}
	defer sys.Close()

	err = sys.Setup()
	if err != nil {
		return fmt.Errorf("could not setup xMAP system: %w", err)
	}

	var store xmap.Store
	db, err := cfg.Store()
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		store = db
	}

	log.Printf("serving %d channels on %q...", len(sys.Channels()), cfg.Addr)
	err = xmap.Serve(cfg.Addr, sys.System, store)
	if err != nil {
		return fmt.Errorf("could not run xmap-srv: %w", err)
	}
	return nil
}
