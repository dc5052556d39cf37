// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// AllChannels addresses every detector channel of a system.
const AllChannels = -1

// System is a set of modules addressed by detector channel.
type System struct {
	mods []*Module
	dets map[int]chanRef
}

type chanRef struct {
	mod *Module
	idx int
}

// NewSystem creates a system from a set of modules. Detector channels
// must be unique across the system.
func NewSystem(mods ...*Module) (*System, error) {
	sys := &System{
		mods: mods,
		dets: make(map[int]chanRef),
	}
	for _, m := range mods {
		for i, ch := range m.chans {
			if !ch.enabled() {
				continue
			}
			if o, dup := sys.dets[ch.det]; dup {
				return nil, fmt.Errorf(
					"xmap: detector channel %d used by %q and %q: %w",
					ch.det, o.mod.alias, m.alias, ErrValidation,
				)
			}
			sys.dets[ch.det] = chanRef{mod: m, idx: i}
		}
	}
	return sys, nil
}

// Modules returns the modules of the system.
func (sys *System) Modules() []*Module { return sys.mods }

// Channels returns the sorted detector channels of the system.
func (sys *System) Channels() []int {
	o := make([]int, 0, len(sys.dets))
	for det := range sys.dets {
		o = append(o, det)
	}
	sort.Ints(o)
	return o
}

func (sys *System) lookup(detChan int) (chanRef, error) {
	ref, ok := sys.dets[detChan]
	if !ok {
		return ref, fmt.Errorf("xmap: unknown detector channel %d: %w", detChan, ErrValidation)
	}
	return ref, nil
}

// each runs f concurrently on every module of the system.
func (sys *System) each(f func(m *Module) error) error {
	var grp errgroup.Group
	for i := range sys.mods {
		m := sys.mods[i]
		grp.Go(func() error {
			return f(m)
		})
	}
	return grp.Wait()
}

// Setup sets every module of the system up.
func (sys *System) Setup() error {
	return sys.each(func(m *Module) error {
		return m.Setup()
	})
}

// SetAcquisitionValue sets the named acquisition value of a detector
// channel, or of every channel with AllChannels, and returns the value
// applied.
func (sys *System) SetAcquisitionValue(detChan int, name string, v float64) (float64, error) {
	if detChan != AllChannels {
		ref, err := sys.lookup(detChan)
		if err != nil {
			return v, err
		}
		return ref.mod.Set(ref.idx, name, v)
	}

	var (
		vs  = make([]float64, len(sys.mods))
		err = sys.eachIndexed(func(i int, m *Module) error {
			vs[i] = v
			for _, idx := range m.enabled() {
				nv, err := m.Set(idx, name, v)
				if err != nil {
					return err
				}
				vs[i] = nv
			}
			return nil
		})
	)
	if err != nil {
		return v, err
	}
	if len(vs) > 0 {
		v = vs[len(vs)-1]
	}
	return v, nil
}

func (sys *System) eachIndexed(f func(i int, m *Module) error) error {
	var grp errgroup.Group
	for i := range sys.mods {
		i, m := i, sys.mods[i]
		grp.Go(func() error {
			return f(i, m)
		})
	}
	return grp.Wait()
}

// GetAcquisitionValue returns the named acquisition value of a detector
// channel.
func (sys *System) GetAcquisitionValue(detChan int, name string) (float64, error) {
	ref, err := sys.lookup(detChan)
	if err != nil {
		return 0, err
	}
	return ref.mod.Get(ref.idx, name)
}

// Settings returns the acquisition values of a detector channel.
func (sys *System) Settings(detChan int) ([]Entry, error) {
	ref, err := sys.lookup(detChan)
	if err != nil {
		return nil, err
	}
	return ref.mod.Settings(ref.idx)
}

// LoadSettings applies a set of acquisition values to a detector
// channel, in order.
func (sys *System) LoadSettings(detChan int, entries []Entry) error {
	ref, err := sys.lookup(detChan)
	if err != nil {
		return err
	}
	for _, e := range entries {
		_, err = ref.mod.Set(ref.idx, e.Name, e.Value)
		if err != nil {
			return err
		}
	}
	return nil
}

// StartRun starts a run on the module of a detector channel, or on every
// module with AllChannels.
func (sys *System) StartRun(detChan int, resume bool) error {
	if detChan == AllChannels {
		return sys.each(func(m *Module) error {
			return m.StartRun(resume)
		})
	}
	ref, err := sys.lookup(detChan)
	if err != nil {
		return err
	}
	return ref.mod.StartRun(resume)
}

// StopRun stops the run on the module of a detector channel, or on every
// module with AllChannels.
func (sys *System) StopRun(detChan int) error {
	if detChan == AllChannels {
		return sys.each(func(m *Module) error {
			return m.StopRun()
		})
	}
	ref, err := sys.lookup(detChan)
	if err != nil {
		return err
	}
	return ref.mod.StopRun()
}

// RunData returns the named run data of a detector channel.
func (sys *System) RunData(detChan int, name string) (interface{}, error) {
	ref, err := sys.lookup(detChan)
	if err != nil {
		return nil, err
	}
	return ref.mod.RunData(ref.idx, name)
}

// Statistics returns the run statistics of every detector channel, by
// detector channel.
func (sys *System) Statistics() (map[int]Statistics, error) {
	var (
		blocks = make([][]uint32, len(sys.mods))
		err    = sys.eachIndexed(func(i int, m *Module) error {
			m.lock()
			defer m.unlock()
			block, err := m.statsBlock()
			if err != nil {
				return fmt.Errorf("xmap: could not read statistics of %q: %w", m.alias, err)
			}
			blocks[i] = block
			return nil
		})
	)
	if err != nil {
		return nil, err
	}

	o := make(map[int]Statistics, len(sys.dets))
	for i, m := range sys.mods {
		for j, ch := range m.chans {
			if !ch.enabled() {
				continue
			}
			o[ch.det] = decodeStatistics(blocks[i], j, clockTick)
		}
	}
	return o, nil
}

// BoardOperation runs the named board operation on a detector channel.
func (sys *System) BoardOperation(detChan int, name, arg string) (uint32, error) {
	ref, err := sys.lookup(detChan)
	if err != nil {
		return 0, err
	}
	return ref.mod.BoardOperation(ref.idx, name, arg)
}

// GainOperation runs the named gain operation on a detector channel.
func (sys *System) GainOperation(detChan int, name string, v float64) error {
	ref, err := sys.lookup(detChan)
	if err != nil {
		return err
	}
	return ref.mod.GainOperation(ref.idx, name, v)
}

// enabled returns the enabled module channels.
func (m *Module) enabled() []int {
	var o []int
	for i, ch := range m.chans {
		if ch.enabled() {
			o = append(o, i)
		}
	}
	return o
}
