// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"log"
	"os"
	"time"
)

type config struct {
	msg *log.Logger

	chans [nChans]int // detector channel of each module channel, -1 if disabled
	elems [nChans]int // detector element of each module channel

	defaults []Entry

	poll struct {
		freq time.Duration
		n    uint64
	}
}

func newConfig() config {
	cfg := config{
		msg: log.New(os.Stdout, "xmap: ", 0),
	}
	for i := range cfg.chans {
		cfg.chans[i] = i
		cfg.elems[i] = i
	}
	cfg.poll.freq = 1 * time.Millisecond
	cfg.poll.n = 100
	return cfg
}

// Option configures a Module.
type Option func(*config)

// WithLogger sets the logger used by the module.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithChannels sets the detector channel of each module channel.
// A negative value disables the channel.
func WithChannels(detChans ...int) Option {
	return func(cfg *config) {
		for i := range cfg.chans {
			cfg.chans[i] = -1
		}
		for i, v := range detChans {
			if i >= nChans {
				break
			}
			cfg.chans[i] = v
		}
	}
}

// WithElements sets the detector element wired to each module channel.
func WithElements(elems ...int) Option {
	return func(cfg *config) {
		for i, v := range elems {
			if i >= nChans {
				break
			}
			cfg.elems[i] = v
		}
	}
}

// WithDefaults overrides entries of the default acquisition values.
func WithDefaults(entries ...Entry) Option {
	return func(cfg *config) {
		cfg.defaults = append(cfg.defaults, entries...)
	}
}

// WithBufferPoll sets the interval and the number of checks used when
// waiting for a mapping buffer to clear.
func WithBufferPoll(freq time.Duration, n int) Option {
	return func(cfg *config) {
		if n < 1 {
			n = 1
		}
		cfg.poll.freq = freq
		cfg.poll.n = uint64(n)
	}
}
