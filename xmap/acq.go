// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"fmt"
	"math"
	"strings"
)

type (
	setFunc  func(ch *Channel, name string, v float64) (float64, error)
	getFunc  func(ch *Channel) (float64, error)
	syncFunc func(ch *Channel) error
)

// acqValue describes how an acquisition value reaches the hardware.
type acqValue struct {
	name      string
	isDefault bool // part of the default values
	isSynch   bool // pulled from the detector description before use
	scope     Scope
	def       float64

	set  setFunc
	get  getFunc  // optional
	sync syncFunc // optional
}

// acqValues is searched in order and names match by prefix: an entry
// must come before any entry whose name is a prefix of its own
// (num_map_pixels_per_buffer before num_map_pixels).
var acqValues []acqValue

func init() {
	const (
		never = ScopeNever
		mapng = ScopeMapping
		both  = ScopeMapping | ScopeMCA
	)
	acqValues = []acqValue{
		{"peaking_time", true, false, never, 20, setPeakingTime, nil, nil},
		{"dynamic_range", true, false, never, 47200, setDynamicRange, nil, nil},
		{"trigger_threshold", true, false, never, 1000, setTriggerThreshold, nil, nil},
		{"baseline_threshold", true, false, never, 1000, setBaselineThreshold, nil, nil},
		{"energy_threshold", true, false, never, 0, setEnergyThreshold, nil, nil},
		{"calibration_energy", true, false, never, 5900, setCalibrationEnergy, nil, nil},
		{"adc_percent_rule", true, false, never, 5, setADCRule, nil, nil},
		{"mca_bin_width", true, false, never, 10, setMCABinWidth, nil, nil},
		{"preamp_gain", true, true, never, 5, setPreampGain, nil, syncPreampGain},
		{"number_mca_channels", true, false, never, 2048, setNumMCAChans, nil, nil},
		{"detector_polarity", true, true, never, 1, setPolarity, nil, syncPolarity},
		{"reset_delay", true, true, never, 10, setResetDelay, nil, syncResetDelay},
		{"gap_time", true, false, never, 0.240, setGapTime, getGapTime, nil},
		{"trigger_peaking_time", true, false, never, 0.100, setTrigPeakingTime, nil, nil},
		{"trigger_gap_time", true, false, never, 0, setTrigGapTime, nil, nil},
		{"baseline_average", true, false, never, 256, setBaselineAverage, nil, nil},
		{"preset_type", true, false, never, 0, setPresetType, nil, nil},
		{"preset_value", true, false, never, 0, setPresetValue, nil, nil},
		{"number_of_scas", true, false, never, 0, setNumSCAs, nil, nil},
		{"sca", false, false, never, 0, setSCA, nil, nil},
		{"num_map_pixels_per_buffer", true, false, mapng, 0, setNumMapPixelsPerBuffer, getNumMapPixelsPerBuffer, nil},
		{"num_map_pixels", true, false, mapng, 0, setNumMapPixels, nil, nil},
		{"input_logic_polarity", true, false, both, 0, setInputLogicPolarity, nil, nil},
		{"gate_master", true, false, both, 0, setGateMaster, nil, nil},
		{"sync_master", true, false, both, 0, setSyncMaster, nil, nil},
		{"sync_count", true, false, mapng, 0, setSyncCount, nil, nil},
		{"gate_ignore", true, false, both, 0, setGateIgnore, nil, nil},
		{"gate_mode", true, false, both, 0, setGateMode, nil, nil},
		{"lbus_master", true, false, both, 0, setLBusMaster, nil, nil},
		{"pixel_advance_mode", false, false, mapng, 0, setPixelAdvanceMode, nil, nil},
		{"mapping_mode", true, false, never, 0, setMappingMode, nil, nil},
		{"peak_sample_offset", false, false, never, 0, setPeakSampleOffset, nil, nil},
		{"peak_interval_offset", false, false, never, 0, setPeakIntervalOffset, nil, nil},
		{"minimum_gap_time", true, false, never, 0.060, setMinGapTime, nil, nil},
		{"synchronous_run", true, false, both, 0, setSyncRun, nil, nil},
		{"maxwidth", true, false, never, 1.0, setMaxWidth, nil, nil},
		{"preamp_type", true, true, never, 0, setPreampType, nil, syncPreampType},
		{"decay_time", true, true, never, 10, setDecayTime, nil, syncDecayTime},
		{"peak_mode", true, false, never, 1, setPeakMode, nil, nil},
		{"list_mode_variant", true, false, mapng, ListModeClock, setListModeVariant, nil, nil},
		{"buffer_clear_size", true, false, mapng, 0, setBufferClearSize, nil, nil},
	}
}

// DefaultAlias is the name of the default acquisition values set.
const DefaultAlias = "defaults_xmap"

// DefaultValues returns the default acquisition values, in table order.
func DefaultValues() []Entry {
	o := make([]Entry, 0, len(acqValues))
	for _, av := range acqValues {
		if !av.isDefault {
			continue
		}
		o = append(o, Entry{Name: av.name, Value: av.def})
	}
	return o
}

// AcquisitionValues returns the names of all known acquisition values.
func AcquisitionValues() []string {
	o := make([]string, len(acqValues))
	for i, av := range acqValues {
		o[i] = av.name
	}
	return o
}

func lookupAcqValue(name string) *acqValue {
	for i := range acqValues {
		if strings.HasPrefix(name, acqValues[i].name) {
			return &acqValues[i]
		}
	}
	return nil
}

// isRawParam reports whether name looks like a DSP parameter name.
func isRawParam(name string) bool {
	if name == "" || name != strings.ToUpper(name) {
		return false
	}
	for _, r := range name {
		switch {
		case 'A' <= r && r <= 'Z', '0' <= r && r <= '9', r == '_':
		default:
			return false
		}
	}
	return 'A' <= name[0] && name[0] <= 'Z'
}

// set applies v to the named acquisition value and commits the value
// the setter settled on. If the setter fails, the previous entry is
// restored.
func (ch *Channel) set(name string, v float64) (float64, error) {
	av := lookupAcqValue(name)
	if av == nil {
		if isRawParam(name) {
			return ch.setRaw(name, v)
		}
		return v, fmt.Errorf("xmap: could not set %q: %w", name, ErrUnknownName)
	}

	old, had := ch.defs.Get(name)
	nv, err := av.set(ch, name, v)
	if err != nil {
		if had {
			ch.defs.Set(name, old)
		} else {
			ch.defs.Remove(name)
		}
		return v, fmt.Errorf("xmap: could not set %q=%v (detChan=%d): %w", name, v, ch.det, err)
	}
	ch.defs.Set(name, nv)
	return nv, nil
}

func (ch *Channel) setRaw(name string, v float64) (float64, error) {
	if v < 0 || v > math.MaxUint16 || v != math.Trunc(v) {
		return v, fmt.Errorf("xmap: could not set DSP parameter %s=%v: %w", name, v, ErrValidation)
	}
	ch.setParam(name, uint16(v))
	if err := ch.flush(); err != nil {
		return v, err
	}
	ch.defs.Set(name, v)
	return v, nil
}

// get returns the named acquisition value. Values with a getter are
// recomputed from the hardware and not committed.
func (ch *Channel) get(name string) (float64, error) {
	av := lookupAcqValue(name)
	if av == nil {
		if isRawParam(name) {
			p := ch.param(name)
			if err := ch.flush(); err != nil {
				return 0, err
			}
			return float64(p), nil
		}
		return 0, fmt.Errorf("xmap: could not get %q: %w", name, ErrUnknownName)
	}

	if av.get != nil {
		v, err := av.get(ch)
		if err != nil {
			return 0, fmt.Errorf("xmap: could not get %q (detChan=%d): %w", name, ch.det, err)
		}
		return v, nil
	}

	v, ok := ch.defs.Get(name)
	if !ok {
		return 0, fmt.Errorf("xmap: could not get %q: no value stored: %w", name, ErrUnknownName)
	}
	return v, nil
}

// applyScoped re-applies every stored value whose scope intersects
// scope, then asks the DSP to apply the new parameters.
func (ch *Channel) applyScoped(scope Scope) error {
	for _, e := range ch.defs.Entries() {
		av := lookupAcqValue(e.Name)
		if av == nil || av.scope&scope == 0 {
			continue
		}
		_, err := ch.set(e.Name, e.Value)
		if err != nil {
			return fmt.Errorf("xmap: could not update %s parameters: %w", scope, err)
		}
	}
	return ch.apply()
}

func (ch *Channel) apply() error {
	ch.mod.brd.task(ch.idx, TaskApply)
	return ch.flush()
}

// userSetup brings every enabled channel of the module in line with its
// settings.
func (m *Module) userSetup() error {
	if !m.isSetup {
		if err := m.setInputNC(); err != nil {
			return fmt.Errorf("xmap: could not disconnect inputs of %q: %w", m.alias, err)
		}
	}

	for _, ch := range m.chans {
		if !ch.enabled() {
			continue
		}
		if err := ch.setup(); err != nil {
			return err
		}
	}
	m.isSetup = true
	return nil
}

func (ch *Channel) setup() error {
	for _, av := range acqValues {
		if !av.isSynch || av.sync == nil {
			continue
		}
		if err := av.sync(ch); err != nil {
			return fmt.Errorf("xmap: could not synchronize %q (detChan=%d): %w", av.name, ch.det, err)
		}
	}

	if err := ch.loadBaseFirmware(); err != nil {
		return err
	}

	for _, e := range ch.defs.Entries() {
		if _, err := ch.set(e.Name, e.Value); err != nil {
			return err
		}
	}
	return nil
}
