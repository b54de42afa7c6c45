// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package buffer

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReadAt(t *testing.T) {
	f := New([]byte{0, 1, 2}, []byte{3, 4}, []byte{5, 6, 7, 8})

	if f.Len() != 9 {
		t.Fatalf("Len() = %d, want 9", f.Len())
	}

	for _, tt := range []struct {
		off  int64
		size int
		want []byte
	}{
		{0, 9, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8}},
		{0, 3, []byte{0, 1, 2}},
		{1, 3, []byte{1, 2, 3}},
		{2, 4, []byte{2, 3, 4, 5}},
		{4, 5, []byte{4, 5, 6, 7, 8}},
		{8, 1, []byte{8}},
	} {
		buf := make([]byte, tt.size)

		n, err := f.ReadAt(buf, tt.off)

		if err != nil {
			t.Fatalf("ReadAt(%d, %d): %v", tt.off, tt.size, err)
		}

		if n != tt.size {
			t.Fatalf("ReadAt(%d, %d) = %d bytes", tt.off, tt.size, n)
		}

		if diff := cmp.Diff(tt.want, buf); diff != "" {
			t.Errorf("ReadAt(%d, %d) mismatch (-want +got):\n%s", tt.off, tt.size, diff)
		}
	}
}

func TestReadAtShort(t *testing.T) {
	f := New([]byte{0, 1, 2})

	buf := make([]byte, 5)

	n, err := f.ReadAt(buf, 1)

	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}

	if n != 2 {
		t.Errorf("short read returned %d bytes, want 2", n)
	}
}

func TestAppendAndPad(t *testing.T) {
	f := New([]byte{0xaa, 0xbb})

	f.Append([]byte{0xcc})

	if f.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", f.Len())
	}

	f.PadTo(6)

	if f.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", f.Len())
	}

	// padding below the current length must not shrink the frame
	f.PadTo(4)

	if f.Len() != 6 {
		t.Fatalf("Len() = %d after no-op pad, want 6", f.Len())
	}

	want := []byte{0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x00}

	if !bytes.Equal(f.Bytes(), want) {
		t.Errorf("Bytes() = %x, want %x", f.Bytes(), want)
	}
}

func TestAppendCopies(t *testing.T) {
	p := []byte{1, 2, 3}

	f := New()
	f.Append(p)

	p[0] = 0xff

	if f.Bytes()[0] != 1 {
		t.Error("Append() must copy the passed bytes")
	}
}
