// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func putCounter(block []uint32, i int, v uint64) {
	block[i] = uint32(v)
	block[i+1] = uint32(v >> 32)
}

func TestCounter(t *testing.T) {
	rnd := rand.New(rand.NewSource(1234))
	block := make([]uint32, 2)
	for i := 0; i < 1000; i++ {
		v := uint64(rnd.Int63n(1 << 52))
		putCounter(block, 0, v)
		if got, want := counter(block, 0), float64(v); got != want {
			t.Fatalf("invalid counter: got=%v, want=%v", got, want)
		}
	}

	putCounter(block, 0, 1<<32)
	if got, want := counter(block, 0), math.Ldexp(1, 32); got != want {
		t.Fatalf("invalid counter: got=%v, want=%v", got, want)
	}
}

func TestDecodeStatistics(t *testing.T) {
	const ch = 2
	tick := clockTick

	block := make([]uint32, memBlockSize)
	base := ch * scaChanOffset
	putCounter(block, base+statsRealtime, 3125000)  // 1s
	putCounter(block, base+statsTLivetime, 1562500) // 0.5s
	putCounter(block, base+statsELivetime, 1562500) // 0.5s
	putCounter(block, base+statsTriggers, 1000)
	putCounter(block, base+statsEvents, 800)
	putCounter(block, base+statsUnderflows, 10)
	putCounter(block, base+statsOverflows, 1<<33)

	st := decodeStatistics(block, ch, tick)
	want := Statistics{
		Realtime:        3125000 * tick * 16,
		TriggerLivetime: 1562500 * tick * 16,
		EnergyLivetime:  1562500 * tick * 16,
		Triggers:        1000,
		Events:          800,
		Underflows:      10,
		Overflows:       1 << 33,
	}
	want.ICR = want.Triggers / want.TriggerLivetime
	want.OCR = want.TotalEvents() / want.Realtime

	if !reflect.DeepEqual(st, want) {
		t.Fatalf("invalid statistics:\ngot= %+v\nwant=%+v", st, want)
	}
	if got, want := st.TotalEvents(), 810+math.Ldexp(1, 33); got != want {
		t.Fatalf("invalid total events: got=%v, want=%v", got, want)
	}

	// empty channel: no rate.
	st = decodeStatistics(block, 0, tick)
	if st.ICR != 0 || st.OCR != 0 {
		t.Fatalf("invalid rates for empty channel: icr=%v, ocr=%v", st.ICR, st.OCR)
	}
}

func TestRunDataStatistics(t *testing.T) {
	m, brd, err := newSetupModule()
	if err != nil {
		t.Fatalf("could not create module: %+v", err)
	}

	block := make([]uint32, memBlockSize)
	for i := 0; i < nChans; i++ {
		base := i * scaChanOffset
		putCounter(block, base+statsRealtime, 3125000)
		putCounter(block, base+statsTLivetime, 1562500)
		putCounter(block, base+statsELivetime, 3125000)
		putCounter(block, base+statsTriggers, uint64(100*(i+1)))
		putCounter(block, base+statsEvents, uint64(90*(i+1)))
		putCounter(block, base+statsUnderflows, 1)
		putCounter(block, base+statsOverflows, 2)
	}
	err = brd.WriteMemory(MemorySpec{Space: SpaceBurst, Addr: 0, Len: memBlockSize}, block)
	if err != nil {
		t.Fatalf("could not fill statistics block: %+v", err)
	}

	want := decodeStatistics(block, 1, clockTick)
	for _, tc := range []struct {
		name string
		want float64
	}{
		{"runtime", want.Realtime},
		{"realtime", want.Realtime},
		{"trigger_livetime", want.TriggerLivetime},
		{"energy_livetime", want.EnergyLivetime},
		{"livetime", want.EnergyLivetime},
		{"input_count_rate", want.ICR},
		{"output_count_rate", want.OCR},
		{"triggers", 200},
		{"mca_events", 180},
		{"underflows", 1},
		{"overflows", 2},
		{"total_output_events", 183},
		{"events_in_run", 183},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v, err := m.RunData(1, tc.name)
			if err != nil {
				t.Fatalf("could not get run data: %+v", err)
			}
			if got := v.(float64); got != tc.want {
				t.Fatalf("invalid value: got=%v, want=%v", got, tc.want)
			}
		})
	}

	for _, tc := range []struct {
		name string
		n    int
	}{
		{"module_statistics", 7},
		{"module_statistics_2", 9},
	} {
		v, err := m.RunData(0, tc.name)
		if err != nil {
			t.Fatalf("could not get %q: %+v", tc.name, err)
		}
		vs := v.([]float64)
		if got, want := len(vs), nChans*tc.n; got != want {
			t.Fatalf("invalid %q length: got=%d, want=%d", tc.name, got, want)
		}
		for i := 0; i < nChans; i++ {
			st := decodeStatistics(block, i, clockTick)
			row := vs[i*tc.n : (i+1)*tc.n]
			exp := []float64{
				st.Realtime, st.TriggerLivetime, st.EnergyLivetime,
				st.Triggers, st.Events, st.ICR, st.OCR,
			}
			if tc.n == 9 {
				exp = append(exp, st.Underflows, st.Overflows)
			}
			if !reflect.DeepEqual(row, exp) {
				t.Fatalf("invalid %q for channel %d:\ngot= %v\nwant=%v", tc.name, i, row, exp)
			}
		}
	}

	_, err = m.RunData(0, "not_there")
	if !errors.Is(err, ErrUnknownName) {
		t.Fatalf("invalid error: %+v", err)
	}
	// run data names match exactly.
	_, err = m.RunData(0, "mca_lengthX")
	if !errors.Is(err, ErrUnknownName) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestRunDataMCA(t *testing.T) {
	m, brd, err := newSetupModule()
	if err != nil {
		t.Fatalf("could not create module: %+v", err)
	}

	for _, idx := range []int{0, 1, 2, 3} {
		_, err = m.Set(idx, "number_mca_channels", 1024)
		if err != nil {
			t.Fatalf("could not set number of MCA channels: %+v", err)
		}
	}

	n, err := m.RunData(2, "mca_length")
	if err != nil {
		t.Fatalf("could not get MCA length: %+v", err)
	}
	if got, want := n, uint32(1024); got != want {
		t.Fatalf("invalid MCA length: got=%v, want=%v", got, want)
	}

	mca := make([]uint32, nChans*1024)
	for i := range mca {
		mca[i] = uint32(i)
	}
	err = brd.WriteMemory(MemorySpec{Space: SpaceBurst, Addr: memBlockSize, Len: len(mca)}, mca)
	if err != nil {
		t.Fatalf("could not fill MCA block: %+v", err)
	}

	v, err := m.RunData(2, "mca")
	if err != nil {
		t.Fatalf("could not get MCA: %+v", err)
	}
	if got, want := v.([]uint32), mca[2*1024:3*1024]; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid MCA")
	}

	v, err = m.RunData(0, "module_mca")
	if err != nil {
		t.Fatalf("could not get module MCA: %+v", err)
	}
	if got, want := v.([]uint32), mca; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid module MCA")
	}
}

func TestSystemStatistics(t *testing.T) {
	m, brd, err := newSetupModule(WithChannels(4, 5, -1, 7))
	if err != nil {
		t.Fatalf("could not create module: %+v", err)
	}
	sys, err := NewSystem(m)
	if err != nil {
		t.Fatalf("could not create system: %+v", err)
	}

	block := make([]uint32, memBlockSize)
	putCounter(block, 3*scaChanOffset+statsTriggers, 42)
	err = brd.WriteMemory(MemorySpec{Space: SpaceBurst, Addr: 0, Len: memBlockSize}, block)
	if err != nil {
		t.Fatalf("could not fill statistics block: %+v", err)
	}

	stats, err := sys.Statistics()
	if err != nil {
		t.Fatalf("could not get statistics: %+v", err)
	}
	if got, want := len(stats), 3; got != want {
		t.Fatalf("invalid number of channels: got=%d, want=%d", got, want)
	}
	if _, ok := stats[6]; ok {
		t.Fatalf("disabled channel has statistics")
	}
	if got, want := stats[7].Triggers, 42.0; got != want {
		t.Fatalf("invalid triggers: got=%v, want=%v", got, want)
	}
}
