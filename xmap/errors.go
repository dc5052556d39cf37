// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation reports an out-of-range or malformed value.
	ErrValidation = errors.New("xmap: invalid value")
	// ErrUnknownName reports an unknown acquisition value, run data,
	// board operation or gain operation name.
	ErrUnknownName = errors.New("xmap: unknown name")
	// ErrHardwareIO reports a transport failure.
	ErrHardwareIO = errors.New("xmap: hardware i/o")
	// ErrUnsupported reports a configuration the hardware cannot run.
	ErrUnsupported = errors.New("xmap: unsupported configuration")
	// ErrTimeout reports a bounded wait that ran out.
	ErrTimeout = errors.New("xmap: timeout")
	// ErrOverlap reports two firmware definitions matching the same
	// selection criteria.
	ErrOverlap = errors.New("xmap: overlapping firmware definitions")
)

var (
	ErrSlowFilterOutOfRange  = fmt.Errorf("%w: slow filter out of range", ErrValidation)
	ErrFastFilterOutOfRange  = fmt.Errorf("%w: fast filter out of range", ErrValidation)
	ErrGainOutOfRange        = fmt.Errorf("%w: gain out of range", ErrValidation)
	ErrThresholdOutOfRange   = fmt.Errorf("%w: threshold out of range", ErrValidation)
	ErrSCAOutOfRange         = fmt.Errorf("%w: sca index out of range", ErrValidation)
	ErrBadBuffer             = fmt.Errorf("%w: bad buffer id", ErrValidation)
	ErrNoMapping             = fmt.Errorf("%w: mapping mode not enabled", ErrValidation)
	ErrClearBufferTimeout    = fmt.Errorf("%w: buffer did not clear", ErrTimeout)
	ErrUnsupportedPreampType = fmt.Errorf("%w: preamp type", ErrUnsupported)
)

var errShortBlock = errors.New("short read")

// hwError marks a transport failure as ErrHardwareIO while keeping the
// original error reachable with errors.Unwrap.
type hwError struct {
	op  string
	err error
}

func (e *hwError) Error() string {
	return fmt.Sprintf("xmap: could not %s: %v", e.op, e.err)
}

func (e *hwError) Unwrap() error { return e.err }

func (e *hwError) Is(target error) bool { return target == ErrHardwareIO }

func hwErr(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var hw *hwError
	if errors.As(err, &hw) {
		return err
	}
	return &hwError{op: fmt.Sprintf(format, args...), err: err}
}
