// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestAcqValuesOrder(t *testing.T) {
	for i, av := range acqValues {
		for _, prev := range acqValues[:i] {
			if strings.HasPrefix(av.name, prev.name) {
				t.Errorf("%q is shadowed by %q", av.name, prev.name)
			}
		}
		if got := lookupAcqValue(av.name); got == nil || got.name != av.name {
			t.Errorf("could not lookup %q", av.name)
		}
	}
}

func TestDefaultValues(t *testing.T) {
	defs := DefaultValues()
	n := 0
	for _, av := range acqValues {
		if !av.isDefault {
			continue
		}
		if n >= len(defs) {
			t.Fatalf("missing default for %q", av.name)
		}
		if got, want := defs[n], (Entry{Name: av.name, Value: av.def}); got != want {
			t.Fatalf("invalid default #%d: got=%+v, want=%+v", n, got, want)
		}
		n++
	}
	if n != len(defs) {
		t.Fatalf("invalid number of defaults: got=%d, want=%d", len(defs), n)
	}

	for _, name := range []string{"sca", "pixel_advance_mode", "peak_sample_offset", "peak_interval_offset"} {
		for _, e := range defs {
			if e.Name == name {
				t.Fatalf("%q should not be a default value", name)
			}
		}
	}
}

func TestIsRawParam(t *testing.T) {
	for _, tc := range []struct {
		name string
		want bool
	}{
		{"SLOWLEN", true},
		{"PEAKINT", true},
		{"SCA0LO", true},
		{"MCA_LIMHI", true},
		{"", false},
		{"slowlen", false},
		{"SlowLen", false},
		{"0SLOW", false},
		{"SLOW-LEN", false},
	} {
		if got := isRawParam(tc.name); got != tc.want {
			t.Errorf("isRawParam(%q): got=%v, want=%v", tc.name, got, tc.want)
		}
	}
}

func TestSetRawParam(t *testing.T) {
	m, brd, err := newSetupModule()
	if err != nil {
		t.Fatalf("could not create module: %+v", err)
	}

	v, err := m.Set(1, "SLOWLEN", 40)
	if err != nil {
		t.Fatalf("could not set raw parameter: %+v", err)
	}
	if v != 40 {
		t.Fatalf("invalid value: got=%v, want=%v", v, 40)
	}
	if got, want := brd.params[1]["SLOWLEN"], uint16(40); got != want {
		t.Fatalf("invalid SLOWLEN: got=%d, want=%d", got, want)
	}

	got, err := m.Get(1, "SLOWLEN")
	if err != nil {
		t.Fatalf("could not get raw parameter: %+v", err)
	}
	if got != 40 {
		t.Fatalf("invalid raw parameter: got=%v, want=%v", got, 40)
	}

	for _, v := range []float64{-1, 65536, 1.5} {
		_, err = m.Set(1, "SLOWLEN", v)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("v=%v: invalid error: %+v", v, err)
		}
	}
	if got, want := brd.params[1]["SLOWLEN"], uint16(40); got != want {
		t.Fatalf("invalid SLOWLEN: got=%d, want=%d", got, want)
	}
}

func TestUnknownName(t *testing.T) {
	m, _, err := newSetupModule()
	if err != nil {
		t.Fatalf("could not create module: %+v", err)
	}

	for _, name := range []string{"not_there", "Peaking_Time", ""} {
		_, err = m.Set(0, name, 1)
		if !errors.Is(err, ErrUnknownName) {
			t.Fatalf("set %q: invalid error: %+v", name, err)
		}
		_, err = m.Get(0, name)
		if !errors.Is(err, ErrUnknownName) {
			t.Fatalf("get %q: invalid error: %+v", name, err)
		}
	}

	_, err = m.Set(nChans, "peaking_time", 1)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestDisabledChannel(t *testing.T) {
	m, _, err := newSetupModule(WithChannels(0, -1, 2, 3))
	if err != nil {
		t.Fatalf("could not create module: %+v", err)
	}

	if got, want := m.DetChans(), []int{0, 2, 3}; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("invalid detector channels: got=%v, want=%v", got, want)
	}

	_, err = m.Get(1, "peaking_time")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestSetCommit(t *testing.T) {
	m, _, err := newSetupModule()
	if err != nil {
		t.Fatalf("could not create module: %+v", err)
	}

	v, err := m.Set(0, "maxwidth", 0.333)
	if err != nil {
		t.Fatalf("could not set maxwidth: %+v", err)
	}
	if got, want := v, 17*tickUs; math.Abs(got-want) > 1e-12 {
		t.Fatalf("invalid maxwidth: got=%v, want=%v", got, want)
	}

	got, err := m.Get(0, "maxwidth")
	if err != nil {
		t.Fatalf("could not get maxwidth: %+v", err)
	}
	if got != v {
		t.Fatalf("stored value differs from applied one: got=%v, want=%v", got, v)
	}

	entries, err := m.Settings(0)
	if err != nil {
		t.Fatalf("could not get settings: %+v", err)
	}
	found := false
	for _, e := range entries {
		if e.Name == "maxwidth" {
			found = true
			if e.Value != v {
				t.Fatalf("invalid maxwidth entry: got=%v, want=%v", e.Value, v)
			}
		}
	}
	if !found {
		t.Fatalf("maxwidth not in settings")
	}
}

func TestHardwareError(t *testing.T) {
	m, brd, err := newSetupModule()
	if err != nil {
		t.Fatalf("could not create module: %+v", err)
	}

	errBus := fmt.Errorf("bus error")
	brd.failPar = errBus

	_, err = m.Set(0, "baseline_average", 512)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errors.Is(err, ErrHardwareIO) {
		t.Fatalf("error should be a hardware error: %+v", err)
	}
	if !errors.Is(err, errBus) {
		t.Fatalf("error should wrap the transport error: %+v", err)
	}

	got, err := m.Get(0, "baseline_average")
	if err != nil {
		t.Fatalf("could not get baseline average: %+v", err)
	}
	if want := 256.0; got != want {
		t.Fatalf("invalid baseline average after failure: got=%v, want=%v", got, want)
	}

	// the sticky error does not leak into the next call.
	brd.failPar = nil
	_, err = m.Set(0, "baseline_average", 512)
	if err != nil {
		t.Fatalf("could not set baseline average: %+v", err)
	}
	if got, want := brd.params[0]["BLAVGDIV"], uint16(8); got != want {
		t.Fatalf("invalid BLAVGDIV: got=%d, want=%d", got, want)
	}
}

func TestPresetValue(t *testing.T) {
	m, brd, err := newSetupModule()
	if err != nil {
		t.Fatalf("could not create module: %+v", err)
	}

	_, err = m.Set(0, "preset_type", PresetRealtime)
	if err != nil {
		t.Fatalf("could not set preset type: %+v", err)
	}
	_, err = m.Set(0, "preset_value", 2)
	if err != nil {
		t.Fatalf("could not set preset value: %+v", err)
	}

	// 2s at 50MHz/16.
	const want = 6250000
	var (
		lo = uint32(brd.params[0]["PRESETLEN"]) | uint32(brd.params[0]["PRESETLENA"])<<16
		hi = uint32(brd.params[0]["PRESETLENB"]) | uint32(brd.params[0]["PRESETLENC"])<<16
	)
	if lo != want || hi != 0 {
		t.Fatalf("invalid preset length: got=(0x%x, 0x%x), want=(0x%x, 0x0)", lo, hi, want)
	}
}
