// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// ErrRemote reports a command the control server could not run.
var ErrRemote = errors.New("xmap: remote error")

// Client sends commands to a control server.
type Client struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

// Dial connects to the control server listening on addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("xmap: could not dial xmap-srv %q: %w", addr, err)
	}
	return &Client{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Do runs the named command and returns the value of the reply.
// args may be nil for commands without arguments.
func (c *Client) Do(name string, args *ReqArgs) (interface{}, error) {
	req := Request{Name: name}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("xmap: could not encode %q arguments: %w", name, err)
		}
		msg := json.RawMessage(raw)
		req.Args = &msg
	}

	err := c.enc.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("xmap: could not send %q request: %w", name, err)
	}

	var rep Reply
	err = c.dec.Decode(&rep)
	if err != nil {
		return nil, fmt.Errorf("xmap: could not read %q reply: %w", name, err)
	}
	if rep.Msg != "ok" {
		return nil, fmt.Errorf("%w: %s: %s", ErrRemote, name, rep.Msg)
	}
	return rep.Value, nil
}
