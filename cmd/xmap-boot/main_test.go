// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"
	"time"
)

const helperEnv = "XMAP_BOOT_HELPER"

func TestMain(m *testing.M) {
	// act as a long running DAQ process when re-executed by the tests.
	if v := os.Getenv(helperEnv); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			os.Exit(2)
		}
		time.Sleep(d)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestCommands(t *testing.T) {
	cmds := commands("/etc/xmap.yaml", "localhost:9999", ":44000")
	if got, want := len(cmds), 3; got != want {
		t.Fatalf("invalid number of commands: got=%d, want=%d", got, want)
	}

	for i, want := range [][]string{
		{"xmap-srv", "-cfg", "/etc/xmap.yaml", "-addr", "localhost:9999"},
		{"xmap-daq", "-cmd", ":44000", "xmap-daq"},
		{"xmap-mon", "-addr", "localhost:9999"},
	} {
		if got := cmds[i].Args; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid command %d: got=%q, want=%q", i, got, want)
		}
	}

	env := cmds[1].Env
	if got, want := env[len(env)-1], "XMAP_CONFIG=/etc/xmap.yaml"; got != want {
		t.Fatalf("invalid xmap-daq environment: got=%q, want=%q", got, want)
	}
}

func TestRun(t *testing.T) {
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("could not locate test executable: %+v", err)
	}

	bin := t.TempDir()
	exes := make([]string, 3)
	for i := range exes {
		exes[i] = filepath.Join(bin, "xmap-helper-"+strconv.Itoa(i))
		err = os.Symlink(self, exes[i])
		if err != nil {
			t.Fatalf("could not create test program: %+v", err)
		}
	}

	newCmds := func(d string) []*exec.Cmd {
		cmds := make([]*exec.Cmd, len(exes))
		for i, exe := range exes {
			cmds[i] = exec.Command(exe)
			cmds[i].Env = append(os.Environ(), helperEnv+"="+d)
		}
		return cmds
	}

	for _, tc := range []struct {
		name string
		cmds []*exec.Cmd
		mon  bool
		stop bool
	}{
		{
			name: "simple",
			cmds: newCmds("2s"),
		},
		{
			name: "simple-pmon",
			cmds: newCmds("2s"),
			mon:  true,
		},
		{
			name: "simple-stop",
			cmds: newCmds("20s"),
			stop: true,
		},
		{
			name: "simple-stop-pmon",
			cmds: newCmds("20s"),
			stop: true,
			mon:  true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()

			stop := make(chan os.Signal, 1)
			if tc.stop {
				go func() {
					time.Sleep(2 * time.Second)
					stop <- os.Interrupt
				}()
			}
			err := run(tc.mon, 1*time.Second, tc.cmds, dir, stop)
			if err != nil {
				t.Fatalf("could not run processes: %+v", err)
			}

			for _, exe := range exes {
				name := filepath.Base(exe) + ".log"
				if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
					t.Fatalf("missing log file %q: %+v", name, err)
				}
			}
		})
	}
}

func TestRunFail(t *testing.T) {
	stop := make(chan os.Signal, 1)
	err := run(false, time.Second, []*exec.Cmd{exec.Command("/not/there/xmap-srv")}, t.TempDir(), stop)
	if err == nil {
		t.Fatalf("expected an error")
	}
}
