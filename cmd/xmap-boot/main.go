// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xmap-boot (re)starts the xmap-srv, xmap-daq and xmap-mon processes.
//
// Logs of each process are written under the directory named by the
// XMAP_LOGDIR environment variable (default: /var/log/xmap).
//
// Usage:
//
//	$> xmap-boot -cfg /etc/xmap/xmap.yaml -rc :44000
//	$> xmap-boot -cfg /etc/xmap/xmap.yaml -pmon -freq 5s
package main // import "github.com/xiallc/Handel-Releases-sub004/cmd/xmap-boot"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

var (
	dir = os.Getenv("XMAP_LOGDIR")

	cfgFile = flag.String("cfg", "xmap.yaml", "path to the xMAP system configuration file")
	srvAddr = flag.String("addr", "localhost:8877", "[ip]:port of xmap-srv")
	rcAddr  = flag.String("rc", ":44000", "[ip]:port of the TDAQ run-control")
	doMon   = flag.Bool("pmon", false, "enable pmon monitoring")
	doFreq  = flag.Duration("freq", 1*time.Second, "pmon frequency")

	stop = make(chan os.Signal, 1)
)

func main() {
	flag.Parse()

	log.SetPrefix("xmap-boot: ")
	log.SetFlags(0)

	err := run(*doMon, *doFreq, commands(*cfgFile, *srvAddr, *rcAddr), dir, stop)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

// commands returns the processes of a xMAP DAQ setup.
func commands(cfg, addr, rc string) []*exec.Cmd {
	srv := exec.Command("xmap-srv", "-cfg", cfg, "-addr", addr)

	daq := exec.Command("xmap-daq", "-cmd", rc, "xmap-daq")
	daq.Env = append(os.Environ(), "XMAP_CONFIG="+cfg)

	mon := exec.Command("xmap-mon", "-addr", addr)

	return []*exec.Cmd{srv, daq, mon}
}

func run(doMon bool, freq time.Duration, cmds []*exec.Cmd, dir string, stop chan os.Signal) error {
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	for _, cmd := range cmds {
		name := filepath.Base(cmd.Path)
		kill := exec.Command("killall", name)
		kill.Stderr = os.Stderr
		kill.Stdout = os.Stdout
		err := kill.Run()
		if err != nil {
			log.Printf("could not kill %q: %+v", name, err)
		}
	}

	if dir == "" {
		dir = "/var/log/xmap"
	}

	var (
		grp  errgroup.Group
		kill = make(chan int)
	)
	for i := range cmds {
		cmd := cmds[i]
		grp.Go(func() error {
			return start(cmd, dir, kill, doMon, freq)
		})
	}

	go func() {
		<-stop
		close(kill)
	}()

	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not boot xMAP DAQ: %w", err)
	}
	return nil
}

func start(cmd *exec.Cmd, dir string, kill chan int, doMon bool, freq time.Duration) error {
	name := filepath.Base(cmd.Path)
	out, err := os.Create(filepath.Join(dir, name+".log"))
	if err != nil {
		return fmt.Errorf("could not create output log file for %q: %w", name, err)
	}
	defer out.Close()

	cmd.Stdout = out
	cmd.Stderr = out

	log.Printf("starting %q...", name)
	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("could not start %q: %w", name, err)
	}

	if doMon {
		p, err := pmon.Monitor(cmd.Process.Pid)
		if err != nil {
			return fmt.Errorf("could not start monitoring %q (pid=%d): %w", name, cmd.Process.Pid, err)
		}
		f, err := os.Create(filepath.Join(dir, name+"-pmon.log"))
		if err != nil {
			return fmt.Errorf("could not create pmon log file for command %q: %w", name, err)
		}
		defer f.Close()
		p.W = f
		p.Freq = freq

		go func() {
			log.Printf("run pmon %q...", name)
			err := p.Run()
			if err != nil {
				log.Printf("could not start monitoring %q: %+v", name, err)
			}
		}()

		defer func() {
			err := p.Kill()
			if err != nil {
				log.Printf("could not stop monitoring %q: %+v", name, err)
			}
		}()
	}

	errch := make(chan error)
	go func() {
		errch <- cmd.Wait()
	}()

	select {
	case <-kill:
		err = cmd.Process.Kill()
		if err != nil {
			return fmt.Errorf("could not kill %q: %+v", name, err)
		}
		<-errch
		log.Printf("stopped %q", name)
	case err = <-errch:
		if err != nil {
			return fmt.Errorf("could not run %q: %w", name, err)
		}
	}

	return nil
}
