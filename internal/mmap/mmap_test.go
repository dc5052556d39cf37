// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestHandle(t *testing.T) {
	t.Run("nil-handle", func(t *testing.T) {
		var h *Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Sync()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid sync error: %+v", err)
		}

		err = h.Close()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid close error: %+v", err)
		}
	})
	t.Run("nil-data", func(t *testing.T) {
		var h Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Sync()
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid sync error: %+v", err)
		}

		err = h.Close()
		if err != nil {
			t.Fatalf("error closing nil-data handle: %+v", err)
		}
	})
}

func TestHandleAccess(t *testing.T) {
	h := &Handle{data: []byte{0, 1, 2, 3}}

	if got, want := h.Len(), 4; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	if got, want := h.At(1), byte(1); got != want {
		t.Fatalf("invalid value: got=%d, want=%d", got, want)
	}

	_, err := h.WriteAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid WriteAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = h.ReadAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid ReadAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

}

func TestOpen(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "board.img")

	h, err := Open(fname, 16)
	if err != nil {
		t.Fatalf("could not mmap file: %+v", err)
	}

	_, err = h.WriteAt([]byte{1, 2, 3, 4}, 12)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}

	_, err = h.WriteAt([]byte{1, 2}, 15)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("invalid short-write error: %+v", err)
	}

	err = h.Sync()
	if err != nil {
		t.Fatalf("could not sync: %+v", err)
	}

	err = h.Close()
	if err != nil {
		t.Fatalf("could not close: %+v", err)
	}

	raw, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("could not read back file: %+v", err)
	}
	if got, want := raw, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 1}; !bytes.Equal(got, want) {
		t.Fatalf("invalid file content:\ngot= %v\nwant=%v", got, want)
	}

	// re-opening keeps the content.
	h, err = Open(fname, 16)
	if err != nil {
		t.Fatalf("could not re-mmap file: %+v", err)
	}
	defer h.Close()
	if got, want := h.At(13), byte(2); got != want {
		t.Fatalf("invalid value: got=%d, want=%d", got, want)
	}

	_, err = Open(fname, 0)
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestAnon(t *testing.T) {
	h, err := Anon(8)
	if err != nil {
		t.Fatalf("could not mmap anonymous memory: %+v", err)
	}
	defer h.Close()

	if got, want := h.Len(), 8; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	p := make([]byte, 4)
	_, err = h.ReadAt(p, 6)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid read error: %+v", err)
	}

	_, err = Anon(-1)
	if err == nil {
		t.Fatalf("expected an error")
	}
}
