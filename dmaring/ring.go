// DMA buffer descriptor ring engine
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dmaring implements the producer/consumer descriptor ring shared
// between NIC drivers and their controller DMA engine.
//
// The ring is lock free by construction: software only mutates descriptors
// it owns and the controller only mutates descriptors it owns, with the
// ownership bit as the only handshake. Descriptor field stores are
// published before the ownership flip to the controller (release) and the
// ownership read precedes any field load (acquire).
package dmaring

import (
	"sync/atomic"
	"unsafe"

	"github.com/usbarmory/netif"
	"github.com/usbarmory/netif/buffer"
)

// Owner names the current holder of a descriptor.
type Owner uint32

// Descriptor owners
const (
	// Software marks a descriptor owned by the driver.
	Software Owner = iota
	// Hardware marks a descriptor owned by the controller DMA engine.
	Hardware
)

// Descriptor is the typed record describing one DMA slot, controller
// families translate it to their raw layout through a Layout.
type Descriptor struct {
	// Addr is the DMA address of the slot buffer.
	Addr uint32
	// Length is the frame length in bytes.
	Length int
	// First and Last delimit a frame.
	First bool
	Last bool
	// IRQ requests an interrupt on completion.
	IRQ bool
	// Error reports controller error flags.
	Error bool
	// Wrap marks the last descriptor of the ring.
	Wrap bool
}

// Layout translates the typed descriptor record to and from the raw
// in-memory layout shared with the controller.
//
// Owner and SetOwner are the handshake: SetOwner must be the last store
// when publishing a descriptor (release semantics) and Owner must be read
// before any other field (acquire semantics), see LoadWord and StoreWord.
type Layout interface {
	// Size returns the descriptor size in bytes.
	Size() int
	// Load decodes all descriptor fields but ownership.
	Load(raw []byte, d *Descriptor)
	// Store encodes all descriptor fields but ownership.
	Store(raw []byte, d *Descriptor)
	// Owner returns the current descriptor owner.
	Owner(raw []byte) Owner
	// SetOwner hands the descriptor to a new owner.
	SetOwner(raw []byte, o Owner)
}

// LoadWord returns a 32-bit descriptor word with acquire semantics, for
// use by Layout implementations on the word holding the ownership bit.
func LoadWord(raw []byte, off int) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&raw[off])))
}

// StoreWord modifies a 32-bit descriptor word with release semantics, for
// use by Layout implementations on the word holding the ownership bit.
func StoreWord(raw []byte, off int, val uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&raw[off])), val)
}

// Config describes the memory and controller hooks of a descriptor ring.
//
// Desc and Buf must be reachable by the controller DMA engine, NIC drivers
// place them in a dma.Region while tests pass ordinary slices.
type Config struct {
	// Slots is the ring size.
	Slots int
	// SlotSize is the per-slot buffer size.
	SlotSize int
	// Layout is the controller descriptor layout.
	Layout Layout
	// Desc is the descriptor array memory, Slots*Layout.Size() bytes.
	Desc []byte
	// Buf is the slot buffer memory, Slots*SlotSize bytes.
	Buf []byte
	// BufAddr is the DMA address of Buf.
	BufAddr uint32
	// Doorbell resumes the controller descriptor scan, it is invoked
	// after every publication so the engine picks up new descriptors
	// even if it had stopped.
	Doorbell func()
	// ClearStall clears the controller underrun or buffer-unavailable
	// status before the doorbell.
	ClearStall func()
}

// Ring represents a transmit or receive descriptor ring with its software
// cursor.
type Ring struct {
	Config

	rx    bool
	index int
}

func (r *Ring) slot(i int) []byte {
	n := r.Layout.Size()
	return r.Desc[i*n : (i+1)*n]
}

func (r *Ring) data(i int) []byte {
	return r.Buf[i*r.SlotSize : (i+1)*r.SlotSize]
}

func (r *Ring) init() error {
	if r.Slots <= 0 || r.SlotSize <= 0 || r.Layout == nil {
		return netif.ErrInvalidParameter
	}

	if len(r.Desc) < r.Slots*r.Layout.Size() || len(r.Buf) < r.Slots*r.SlotSize {
		return netif.ErrInvalidParameter
	}

	for i := 0; i < r.Slots; i++ {
		d := Descriptor{
			Addr: r.BufAddr + uint32(i*r.SlotSize),
			IRQ:  r.rx,
			Wrap: i == r.Slots-1,
		}

		raw := r.slot(i)
		r.Layout.Store(raw, &d)

		if r.rx {
			r.Layout.SetOwner(raw, Hardware)
		} else {
			r.Layout.SetOwner(raw, Software)
		}
	}

	return nil
}

// NewTx initializes a transmit ring, all descriptors start software owned.
func NewTx(cfg Config) (r *Ring, err error) {
	r = &Ring{Config: cfg}

	return r, r.init()
}

// NewRx initializes a receive ring, all descriptors start armed for the
// controller.
func NewRx(cfg Config) (r *Ring, err error) {
	r = &Ring{Config: cfg, rx: true}

	return r, r.init()
}

func (r *Ring) next() int {
	if r.index == r.Slots-1 {
		return 0
	}

	return r.index + 1
}

func (r *Ring) resume() {
	if r.ClearStall != nil {
		r.ClearStall()
	}

	if r.Doorbell != nil {
		r.Doorbell()
	}
}

// Free returns whether the cursor slot is software owned, on transmit
// rings this drives the tx-ready assertion on completion interrupts.
func (r *Ring) Free() bool {
	return r.Layout.Owner(r.slot(r.index)) == Software
}

// Push gathers an outbound frame into the cursor slot and publishes it to
// the controller.
//
// It returns ErrBusy when the slot is still controller owned and
// ErrInvalidLength, without truncation, when the frame exceeds the slot
// size. On success the return value reports whether the next slot is also
// free, driving the tx-ready assertion.
func (r *Ring) Push(f *buffer.Frame) (free bool, err error) {
	raw := r.slot(r.index)

	if r.Layout.Owner(raw) == Hardware {
		return false, netif.ErrBusy
	}

	n := f.Len()

	if n > r.SlotSize {
		return false, netif.ErrInvalidLength
	}

	f.ReadAt(r.data(r.index)[:n], 0)

	d := Descriptor{
		Addr:   r.BufAddr + uint32(r.index*r.SlotSize),
		Length: n,
		First:  true,
		Last:   true,
		IRQ:    true,
		Wrap:   r.index == r.Slots-1,
	}

	r.Layout.Store(raw, &d)

	// publication: all fields are in memory before the ownership flip
	r.Layout.SetOwner(raw, Hardware)

	r.resume()

	r.index = r.next()

	return r.Free(), nil
}

// Pop drains one completed frame from the cursor slot, re-arming the
// descriptor for the controller.
//
// It returns ErrEmpty when the slot is still controller owned, terminating
// the drain loop, and ErrInvalidPacket, with the slot still recycled, when
// error flags are set, frame delimiters are missing or the length is zero.
// Controller errors take precedence over completion.
func (r *Ring) Pop() (data []byte, err error) {
	raw := r.slot(r.index)

	// ownership read precedes all field loads
	if r.Layout.Owner(raw) == Hardware {
		return nil, netif.ErrEmpty
	}

	var d Descriptor
	r.Layout.Load(raw, &d)

	n := d.Length

	if n > r.SlotSize {
		n = r.SlotSize
	}

	if d.Error || !d.First || !d.Last || n == 0 {
		err = netif.ErrInvalidPacket
	} else {
		data = make([]byte, n)
		copy(data, r.data(r.index)[:n])
	}

	rd := Descriptor{
		Addr: r.BufAddr + uint32(r.index*r.SlotSize),
		IRQ:  true,
		Wrap: r.index == r.Slots-1,
	}

	r.Layout.Store(raw, &rd)
	r.Layout.SetOwner(raw, Hardware)

	r.index = r.next()

	r.resume()

	return
}
