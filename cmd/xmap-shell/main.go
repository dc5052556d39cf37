// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xmap-shell is an interactive client for xmap-srv.
//
// Usage:
//
//	$> xmap-shell -addr localhost:8877
//	xmap> set all peaking_time 8
//	xmap> start all
//	xmap> run_data 0 triggers
//	xmap> stop all
//	xmap> quit
//
//	$> xmap-shell -addr localhost:8877 get 0 peaking_time
package main // import "github.com/xiallc/Handel-Releases-sub004/cmd/xmap-shell"

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/xiallc/Handel-Releases-sub004/xmap"
)

func main() {
	log.SetPrefix("xmap-shell: ")
	log.SetFlags(0)

	addr := flag.String("addr", "localhost:8877", "[ip]:port of xmap-srv")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `xmap-shell sends commands to a xmap-srv control server.

Usage: xmap-shell [OPTIONS] [COMMAND [ARGS...]]

ex:
 $> xmap-shell -addr localhost:8877
 $> xmap-shell -addr localhost:8877 get 0 peaking_time

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	cli, err := xmap.Dial(*addr)
	if err != nil {
		log.Fatalf("could not connect: %+v", err)
	}
	defer cli.Close()

	sh := newShell(cli, os.Stdout)
	if flag.NArg() > 0 {
		err = sh.exec(strings.Join(flag.Args(), " "))
		if err != nil && !errors.Is(err, errQuit) {
			log.Fatalf("%+v", err)
		}
		return
	}

	err = sh.loop()
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

var errQuit = errors.New("quit")

type command struct {
	usage string
	help  string
	parse func(args []string) (*xmap.ReqArgs, error)
}

var cmds = map[string]command{
	"set": {
		usage: "set <chan|all> <name> <value>",
		help:  "set an acquisition value",
		parse: func(args []string) (*xmap.ReqArgs, error) {
			if len(args) != 3 {
				return nil, errUsage
			}
			ch, err := detChan(args[0])
			if err != nil {
				return nil, err
			}
			v, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q: %w", args[2], err)
			}
			return &xmap.ReqArgs{DetChan: ch, Name: args[1], Value: v}, nil
		},
	},
	"get": {
		usage: "get <chan|all> <name>",
		help:  "get an acquisition value",
		parse: chanName,
	},
	"start": {
		usage: "start <chan|all> [resume]",
		help:  "start (or resume) a run",
		parse: func(args []string) (*xmap.ReqArgs, error) {
			switch len(args) {
			case 1:
				ch, err := detChan(args[0])
				if err != nil {
					return nil, err
				}
				return &xmap.ReqArgs{DetChan: ch}, nil
			case 2:
				if args[1] != "resume" {
					return nil, errUsage
				}
				ch, err := detChan(args[0])
				if err != nil {
					return nil, err
				}
				return &xmap.ReqArgs{DetChan: ch, Resume: true}, nil
			default:
				return nil, errUsage
			}
		},
	},
	"stop": {
		usage: "stop <chan|all>",
		help:  "stop a run",
		parse: chanOnly,
	},
	"run_data": {
		usage: "run_data <chan> <name>",
		help:  "read run data (triggers, mca, realtime, ...)",
		parse: chanName,
	},
	"board": {
		usage: "board <chan> <name> [arg]",
		help:  "run a board operation",
		parse: func(args []string) (*xmap.ReqArgs, error) {
			if len(args) != 2 && len(args) != 3 {
				return nil, errUsage
			}
			req, err := chanName(args[:2])
			if err != nil {
				return nil, err
			}
			if len(args) == 3 {
				req.Arg = args[2]
			}
			return req, nil
		},
	},
	"gain": {
		usage: "gain <chan> <name> <value>",
		help:  "run a gain operation",
		parse: func(args []string) (*xmap.ReqArgs, error) {
			if len(args) != 3 {
				return nil, errUsage
			}
			req, err := chanName(args[:2])
			if err != nil {
				return nil, err
			}
			req.Value, err = strconv.ParseFloat(args[2], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q: %w", args[2], err)
			}
			return req, nil
		},
	},
	"setup": {
		usage: "setup",
		help:  "download firmware and apply acquisition values",
		parse: noArgs,
	},
	"channels": {
		usage: "channels",
		help:  "list the detector channels",
		parse: noArgs,
	},
	"settings": {
		usage: "settings <chan>",
		help:  "list the acquisition values of a channel",
		parse: chanOnly,
	},
	"save": {
		usage: "save <chan>",
		help:  "store the acquisition values of a channel",
		parse: chanOnly,
	},
	"load": {
		usage: "load <chan>",
		help:  "restore the latest stored acquisition values of a channel",
		parse: chanOnly,
	},
}

var errUsage = errors.New("invalid arguments")

func detChan(s string) (int, error) {
	if s == "all" {
		return xmap.AllChannels, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid detector channel %q", s)
	}
	return v, nil
}

func noArgs(args []string) (*xmap.ReqArgs, error) {
	if len(args) != 0 {
		return nil, errUsage
	}
	return nil, nil
}

func chanOnly(args []string) (*xmap.ReqArgs, error) {
	if len(args) != 1 {
		return nil, errUsage
	}
	ch, err := detChan(args[0])
	if err != nil {
		return nil, err
	}
	return &xmap.ReqArgs{DetChan: ch}, nil
}

func chanName(args []string) (*xmap.ReqArgs, error) {
	if len(args) != 2 {
		return nil, errUsage
	}
	ch, err := detChan(args[0])
	if err != nil {
		return nil, err
	}
	return &xmap.ReqArgs{DetChan: ch, Name: args[1]}, nil
}

// parse decodes a command line into a request.
// It returns an empty name for a blank line.
func parse(line string) (string, *xmap.ReqArgs, error) {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return "", nil, nil
	}
	name := strings.ToLower(toks[0])
	switch name {
	case "help", "quit", "exit":
		return name, nil, nil
	}

	cmd, ok := cmds[name]
	if !ok {
		return "", nil, fmt.Errorf("unknown command %q", toks[0])
	}
	args, err := cmd.parse(toks[1:])
	if err != nil {
		if errors.Is(err, errUsage) {
			return "", nil, fmt.Errorf("usage: %s", cmd.usage)
		}
		return "", nil, err
	}
	return name, args, nil
}

type shell struct {
	cli *xmap.Client
	out io.Writer
}

func newShell(cli *xmap.Client, out io.Writer) *shell {
	return &shell{cli: cli, out: out}
}

// exec runs a command line. It returns errQuit when the session should end.
func (sh *shell) exec(line string) error {
	name, args, err := parse(line)
	if err != nil {
		return err
	}

	switch name {
	case "":
		return nil
	case "quit", "exit":
		return errQuit
	case "help":
		sh.help()
		return nil
	}

	v, err := sh.cli.Do(name, args)
	if err != nil {
		return err
	}
	return sh.print(v)
}

func (sh *shell) print(v interface{}) error {
	switch v := v.(type) {
	case nil:
		return nil
	case []interface{}:
		if len(v) > 16 {
			// spectra and settings lists.
			raw, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Errorf("could not format reply: %w", err)
			}
			_, err = fmt.Fprintf(sh.out, "%s\n", raw)
			return err
		}
	}
	_, err := fmt.Fprintf(sh.out, "%v\n", v)
	return err
}

func (sh *shell) help() {
	names := make([]string, 0, len(cmds))
	for k := range cmds {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(sh.out, "  %-32s %s\n", cmds[k].usage, cmds[k].help)
	}
	fmt.Fprintf(sh.out, "  %-32s %s\n", "quit", "end the session")
}

func (sh *shell) complete(line string) []string {
	var o []string
	for k := range cmds {
		if strings.HasPrefix(k, strings.ToLower(line)) {
			o = append(o, k)
		}
	}
	sort.Strings(o)
	return o
}

func (sh *shell) loop() error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(sh.complete)

	hist := histFile()
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("xmap> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintf(sh.out, "\n")
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(sh.out, "error: %+v\n", err)
		}
	}
}

func histFile() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, ".xmap_history")
}
