// NXP FEC-style 10/100 Ethernet MAC driver
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package fec

import (
	"errors"

	"github.com/usbarmory/netif"
	"github.com/usbarmory/netif/buffer"
	"github.com/usbarmory/netif/dmaring"
	"github.com/usbarmory/netif/internal/reg"
)

// Legacy buffer descriptor status bits, within descriptor word 0 where the
// low 16 bits hold the data length.
// (p1012, 22.6.13 Legacy buffer descriptors, IMX6ULLRM)
const (
	// common
	BD_W = 16 + 13 // Wrap
	BD_L = 16 + 11 // Last

	// receive
	BD_RX_E  = 16 + 15 // Empty
	BD_RX_LG = 16 + 5  // Frame length violation
	BD_RX_NO = 16 + 4  // Non-octet aligned frame
	BD_RX_CR = 16 + 2  // CRC or frame error
	BD_RX_OV = 16 + 1  // Overrun
	BD_RX_TR = 16 + 0  // Frame truncated

	frameErrorMask = 1<<BD_RX_LG | 1<<BD_RX_NO | 1<<BD_RX_CR | 1<<BD_RX_OV | 1<<BD_RX_TR

	// transmit
	BD_TX_R  = 16 + 15 // Ready
	BD_TX_TC = 16 + 10 // Transmit CRC

	descSize = 8
)

// txLayout encodes the legacy transmit buffer descriptor, the Ready bit is
// the ownership handshake.
type txLayout struct{}

func (txLayout) Size() int {
	return descSize
}

func (txLayout) Load(raw []byte, d *dmaring.Descriptor) {
	w0 := dmaring.LoadWord(raw, 0)

	d.Length = int(w0 & 0xffff)
	d.First = true
	d.Last = w0&(1<<BD_L) != 0
	d.Wrap = w0&(1<<BD_W) != 0
	d.Addr = dmaring.LoadWord(raw, 4)
}

func (txLayout) Store(raw []byte, d *dmaring.Descriptor) {
	w0 := dmaring.LoadWord(raw, 0) & (1 << BD_TX_R)

	w0 |= uint32(d.Length) & 0xffff

	if d.Length > 0 {
		// single buffer frame, CRC appended by the MAC
		w0 |= 1<<BD_L | 1<<BD_TX_TC
	}

	if d.Wrap {
		w0 |= 1 << BD_W
	}

	dmaring.StoreWord(raw, 0, w0)
	dmaring.StoreWord(raw, 4, d.Addr)
}

func (txLayout) Owner(raw []byte) dmaring.Owner {
	if dmaring.LoadWord(raw, 0)&(1<<BD_TX_R) != 0 {
		return dmaring.Hardware
	}

	return dmaring.Software
}

func (txLayout) SetOwner(raw []byte, o dmaring.Owner) {
	w0 := dmaring.LoadWord(raw, 0)

	if o == dmaring.Hardware {
		w0 |= 1 << BD_TX_R
	} else {
		w0 &^= 1 << BD_TX_R
	}

	dmaring.StoreWord(raw, 0, w0)
}

// rxLayout encodes the legacy receive buffer descriptor, the Empty bit is
// the ownership handshake.
type rxLayout struct{}

func (rxLayout) Size() int {
	return descSize
}

func (rxLayout) Load(raw []byte, d *dmaring.Descriptor) {
	w0 := dmaring.LoadWord(raw, 0)

	d.Length = int(w0 & 0xffff)
	// frames always fit a single receive buffer (MRBR covers MTU)
	d.First = true
	d.Last = w0&(1<<BD_L) != 0
	d.Error = w0&frameErrorMask != 0
	d.Wrap = w0&(1<<BD_W) != 0
	d.Addr = dmaring.LoadWord(raw, 4)
}

func (rxLayout) Store(raw []byte, d *dmaring.Descriptor) {
	w0 := dmaring.LoadWord(raw, 0) & (1 << BD_RX_E)

	if d.Wrap {
		w0 |= 1 << BD_W
	}

	dmaring.StoreWord(raw, 0, w0)
	dmaring.StoreWord(raw, 4, d.Addr)
}

func (rxLayout) Owner(raw []byte) dmaring.Owner {
	if dmaring.LoadWord(raw, 0)&(1<<BD_RX_E) != 0 {
		return dmaring.Hardware
	}

	return dmaring.Software
}

func (rxLayout) SetOwner(raw []byte, o dmaring.Owner) {
	w0 := dmaring.LoadWord(raw, 0)

	if o == dmaring.Hardware {
		w0 |= 1 << BD_RX_E
	} else {
		w0 &^= 1 << BD_RX_E
	}

	dmaring.StoreWord(raw, 0, w0)
}

func (hw *FEC) initRings() (err error) {
	n := hw.RingSize

	txDescAddr, txDesc := hw.Region.Reserve(n*descSize, bufferAlign)
	txBufAddr, txBuf := hw.Region.Reserve(n*slotSize, bufferAlign)

	hw.tx, err = dmaring.NewTx(dmaring.Config{
		Slots:    n,
		SlotSize: slotSize,
		Layout:   txLayout{},
		Desc:     txDesc,
		Buf:      txBuf,
		BufAddr:  txBufAddr,
		Doorbell: func() { reg.Set(hw.tdar, TDAR_ACTIVE) },
		ClearStall: func() { reg.Set(hw.eir, IRQ_UN) },
	})

	if err != nil {
		return
	}

	rxDescAddr, rxDesc := hw.Region.Reserve(n*descSize, bufferAlign)
	rxBufAddr, rxBuf := hw.Region.Reserve(n*slotSize, bufferAlign)

	hw.rx, err = dmaring.NewRx(dmaring.Config{
		Slots:    n,
		SlotSize: slotSize,
		Layout:   rxLayout{},
		Desc:     rxDesc,
		Buf:      rxBuf,
		BufAddr:  rxBufAddr,
		Doorbell: func() { reg.Set(hw.rdar, RDAR_ACTIVE) },
	})

	if err != nil {
		return
	}

	reg.Write(hw.tdsr, txDescAddr)
	reg.Write(hw.rdsr, rxDescAddr)

	return
}

// Send copies the logical frame into the next available transmit slot and
// hands it to the DMA engine, returning immediately.
func (hw *FEC) Send(f *buffer.Frame, info *netif.PacketInfo) (err error) {
	hw.Lock()
	defer hw.Unlock()

	free, err := hw.tx.Push(f)

	if errors.Is(err, netif.ErrInvalidLength) {
		// never truncate, let the stack drop the frame and progress
		hw.nic.TxReady.Set()
		return
	}

	if err != nil {
		return
	}

	if free {
		hw.nic.TxReady.Set()
	}

	return
}

// EventHandler drains all completed receive descriptors in ring order,
// delivering each validated frame to the stack, then re-arms the receive
// interrupt source.
func (hw *FEC) EventHandler() error {
	for {
		hw.Lock()
		data, err := hw.rx.Pop()
		hw.Unlock()

		if errors.Is(err, netif.ErrEmpty) {
			break
		}

		if err != nil || len(data) < 4 {
			hw.Stats.InvalidFrame += 1
			continue
		}

		// the MAC verified and included the frame check sequence
		frame := data[:len(data)-4]

		if hw.nic.Deliver(frame, &netif.PacketInfo{}) != nil {
			hw.Stats.InvalidFrame += 1
		}
	}

	reg.Set(hw.eimr, IRQ_RXF)

	return nil
}
