// Multi-chunk Ethernet frame buffers
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package buffer implements multi-chunk frame buffers for NIC drivers,
// allowing outbound frames to be gathered from non-contiguous memory and
// padded without copying the original chunks.
package buffer

import (
	"io"

	gbuffer "gvisor.dev/gvisor/pkg/tcpip/buffer"
)

// Frame represents a frame payload as an ordered sequence of memory chunks.
//
// The initial chunks are referenced, not copied, the frame only owns memory
// it allocates itself through Append() or PadTo().
type Frame struct {
	views []gbuffer.View
	size  int
}

// New returns a frame backed by the passed chunks.
func New(chunks ...[]byte) *Frame {
	f := &Frame{}

	for _, c := range chunks {
		f.views = append(f.views, gbuffer.View(c))
		f.size += len(c)
	}

	return f
}

// Len returns the total frame length.
func (f *Frame) Len() int {
	return f.size
}

// Views returns the frame chunks.
func (f *Frame) Views() []gbuffer.View {
	return f.views
}

// Append grows the frame with a copy of the passed bytes, allocating a new
// tail chunk.
func (f *Frame) Append(p []byte) {
	v := gbuffer.NewView(len(p))
	copy(v, p)

	f.views = append(f.views, v)
	f.size += len(p)
}

// PadTo appends zero bytes until the total frame length is at least n.
func (f *Frame) PadTo(n int) {
	if f.size >= n {
		return
	}

	f.views = append(f.views, gbuffer.NewView(n-f.size))
	f.size = n
}

// ReadAt linearizes a frame range across chunks into p, implementing
// io.ReaderAt.
func (f *Frame) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, io.EOF
	}

	pos := int64(0)

	for _, v := range f.views {
		l := int64(len(v))

		if pos+l <= off {
			pos += l
			continue
		}

		start := int64(0)

		if off > pos {
			start = off - pos
		}

		n += copy(p[n:], v[start:])
		pos += l

		if n == len(p) {
			return
		}
	}

	if n < len(p) {
		err = io.EOF
	}

	return
}

// Bytes linearizes the whole frame into a newly allocated buffer.
func (f *Frame) Bytes() []byte {
	buf := make([]byte, f.size)
	f.ReadAt(buf, 0)

	return buf
}
