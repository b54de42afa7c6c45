// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma provides primitives for direct memory allocation and alignment,
// it is used by NIC drivers to place descriptor rings and packet buffers in
// memory reachable by the controller DMA engine without passing Go pointers.
//
// The application must guarantee that the memory range assigned to a Region
// is never used by the Go runtime.
package dma

import (
	"container/list"
	"sync"
	"unsafe"
)

type block struct {
	// pointer address
	addr uint32
	// buffer size
	size int
}

// Region represents a memory region allocated for DMA purposes.
type Region struct {
	sync.Mutex

	Start uint32
	Size  int

	freeBlocks *list.List
	usedBlocks map[uint32]*block
}

// Init initializes a memory region for DMA buffer allocation.
func (r *Region) Init() {
	// initialize a single block to fit all available memory
	b := &block{
		addr: r.Start,
		size: r.Size,
	}

	r.Lock()
	defer r.Unlock()

	r.freeBlocks = list.New()
	r.freeBlocks.PushFront(b)

	r.usedBlocks = make(map[uint32]*block)
}

// Reserve allocates a slice of bytes for DMA purposes, by placing its data
// within the DMA region, with optional alignment. It returns the slice along
// with its data allocation address. The buffer can be freed up with
// Release().
//
// The optional alignment must be a power of 2 and word alignment is always
// enforced (0 == 4).
func (r *Region) Reserve(size int, align int) (addr uint32, buf []byte) {
	if size == 0 {
		return
	}

	r.Lock()
	defer r.Unlock()

	b := r.alloc(size, align)
	r.usedBlocks[b.addr] = b

	buf = unsafe.Slice((*byte)(unsafe.Pointer(uintptr(b.addr))), size)

	return b.addr, buf
}

// Reserved returns whether a slice of bytes data is allocated within the DMA
// buffer region, it is used to determine whether the passed buffer has been
// previously allocated by this package with Reserve().
func (r *Region) Reserved(buf []byte) (res bool, addr uint32) {
	addr = uint32(uintptr(unsafe.Pointer(&buf[0])))
	res = addr >= r.Start && addr+uint32(len(buf)) <= r.Start+uint32(r.Size)

	return
}

// Release frees the memory region stored at the passed address, the region
// must have been previously allocated with Reserve().
func (r *Region) Release(addr uint32) {
	if addr == 0 {
		return
	}

	r.Lock()
	defer r.Unlock()

	b, ok := r.usedBlocks[addr]

	if !ok {
		return
	}

	r.free(b)
	delete(r.usedBlocks, addr)
}
