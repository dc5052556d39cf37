// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"sync"
)

// Store persists acquisition values snapshots.
type Store interface {
	// Save stores the acquisition values of a detector channel and
	// returns the snapshot identifier.
	Save(ctx context.Context, detChan int, entries []Entry) (string, error)
	// Load returns the acquisition values of the latest snapshot of a
	// detector channel.
	Load(ctx context.Context, detChan int) ([]Entry, error)
}

// Request is a command sent to the control server.
type Request struct {
	Name string           `json:"name"`
	Args *json.RawMessage `json:"args,omitempty"`
}

// Reply is the answer of the control server to a Request.
type Reply struct {
	Msg   string      `json:"msg"`
	Value interface{} `json:"value,omitempty"`
}

// ReqArgs are the arguments of a control server request. Commands only
// use the fields they need.
type ReqArgs struct {
	DetChan int     `json:"det_chan"`
	Name    string  `json:"name,omitempty"`
	Value   float64 `json:"value,omitempty"`
	Arg     string  `json:"arg,omitempty"`
	Resume  bool    `json:"resume,omitempty"`
}

// server allows to control a system of xMAP modules.
type server struct {
	ctl net.Listener
	msg *log.Logger

	mu  sync.Mutex // serializes commands across connections
	sys *System
	db  Store // optional
}

// Serve runs a control server for sys on addr.
// db may be nil, in which case save and load commands fail.
func Serve(addr string, sys *System, db Store) error {
	srv, err := newServer(addr, sys, db)
	if err != nil {
		return fmt.Errorf("could not create xmap server: %w", err)
	}
	return srv.serve()
}

func newServer(addr string, sys *System, db Store) (*server, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not create xmap-ctl server on %q: %w", addr, err)
	}

	srv := &server{
		ctl: ctl,
		msg: log.New(os.Stdout, "xmap-srv: ", 0),
		sys: sys,
		db:  db,
	}
	return srv, nil
}

func (srv *server) serve() error {
	defer srv.close()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			return fmt.Errorf("could not accept connection: %w", err)
		}

		go func(conn net.Conn) {
			err := srv.handle(conn)
			if err != nil {
				srv.msg.Printf("could not serve %v: %+v", conn.RemoteAddr(), err)
			}
		}(conn)
	}
}

func (srv *server) handle(conn net.Conn) error {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	dec := json.NewDecoder(conn)
	for {
		var req Request
		err := dec.Decode(&req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			srv.msg.Printf("could not decode command request: %+v", err)
			srv.reply(conn, nil, err)
			return fmt.Errorf("could not decode command request: %w", err)
		}
		srv.msg.Printf("received request: name=%q", req.Name)

		var args ReqArgs
		if req.Args != nil {
			err = json.Unmarshal(*req.Args, &args)
			if err != nil {
				srv.msg.Printf("could not decode %q payload: %+v", req.Name, err)
				srv.reply(conn, nil, err)
				continue
			}
		}

		v, err := srv.dispatch(strings.ToLower(req.Name), args)
		if err != nil {
			srv.msg.Printf("could not run %q: %+v", req.Name, err)
		}
		srv.reply(conn, v, err)
	}
}

func (srv *server) dispatch(name string, args ReqArgs) (interface{}, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	sys := srv.sys
	switch name {
	case "set":
		return sys.SetAcquisitionValue(args.DetChan, args.Name, args.Value)

	case "get":
		return sys.GetAcquisitionValue(args.DetChan, args.Name)

	case "start":
		return nil, sys.StartRun(args.DetChan, args.Resume)

	case "stop":
		return nil, sys.StopRun(args.DetChan)

	case "run_data":
		return sys.RunData(args.DetChan, args.Name)

	case "board":
		return sys.BoardOperation(args.DetChan, args.Name, args.Arg)

	case "gain":
		return nil, sys.GainOperation(args.DetChan, args.Name, args.Value)

	case "setup":
		return nil, sys.Setup()

	case "channels":
		return sys.Channels(), nil

	case "settings":
		return sys.Settings(args.DetChan)

	case "save":
		if srv.db == nil {
			return nil, fmt.Errorf("no settings database")
		}
		entries, err := sys.Settings(args.DetChan)
		if err != nil {
			return nil, err
		}
		return srv.db.Save(context.Background(), args.DetChan, entries)

	case "load":
		if srv.db == nil {
			return nil, fmt.Errorf("no settings database")
		}
		entries, err := srv.db.Load(context.Background(), args.DetChan)
		if err != nil {
			return nil, err
		}
		return nil, sys.LoadSettings(args.DetChan, entries)

	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
}

func (srv *server) reply(conn net.Conn, v interface{}, err error) {
	rep := Reply{Msg: "ok", Value: v}
	if err != nil {
		rep = Reply{Msg: fmt.Sprintf("%+v", err)}
	}

	_ = json.NewEncoder(conn).Encode(rep)
}

func (srv *server) close() {
	_ = srv.ctl.Close()
}
