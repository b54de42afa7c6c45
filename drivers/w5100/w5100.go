// W5100-class SPI Ethernet controller driver
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package w5100 implements a netif.Driver for W5100-class Ethernet
// controllers operating in MAC raw mode on socket 0, with the whole
// on-chip packet memory assigned to it.
//
// Both transmit and receive buffers are circular inside the chip, all
// transfers are split across the wrap point when needed.
package w5100

import (
	"errors"
	"sync"

	"github.com/usbarmory/netif"
	"github.com/usbarmory/netif/buffer"
	"github.com/usbarmory/netif/spi"
)

// SPI opcodes, each access transfers a 4 byte frame
const (
	opWrite = 0xf0
	opRead  = 0x0f
)

// Common registers
const (
	MR     = 0x0000
	MR_RST = 7

	GAR  = 0x0001
	SHAR = 0x0009

	IR   = 0x0015
	IMR  = 0x0016
	IR_S0 = 0

	RMSR = 0x001a
	TMSR = 0x001b

	// assign the whole 8 KiB memory to socket 0
	memToS0 = 0x03
)

// Socket 0 registers
const (
	S0_MR        = 0x0400
	S0_MR_MF     = 6
	S0_MR_MACRAW = 0x04

	S0_CR      = 0x0401
	CR_OPEN    = 0x01
	CR_CLOSE   = 0x10
	CR_SEND    = 0x20
	CR_RECV    = 0x40

	S0_IR         = 0x0402
	S0_IR_SEND_OK = 4
	S0_IR_RECV    = 2

	S0_SR        = 0x0403
	SOCK_MACRAW  = 0x42

	S0_TX_FSR = 0x0420
	S0_TX_RD  = 0x0422
	S0_TX_WR  = 0x0424
	S0_RX_RSR = 0x0426
	S0_RX_RD  = 0x0428
)

// On-chip packet memory
const (
	txBase = 0x4000
	rxBase = 0x6000

	memSize = 0x2000
	memMask = memSize - 1
)

// stableReads bounds the retry loop on 16-bit registers updated by the
// chip while being read.
const stableReads = 8

// Stats represents the controller receive error counters.
type Stats struct {
	InvalidFrame uint32
}

var _ netif.Driver = (*W5100)(nil)

// W5100 represents a W5100-class controller instance.
//
// The part integrates a fixed 10/100 PHY without software visible link
// status, it is driven as a fixed-link variant.
type W5100 struct {
	sync.Mutex

	// Port is the SPI transport.
	Port spi.Port

	// Statistics about the controller
	Stats Stats

	nic      *netif.Interface
	linkOnce bool
}

// Bind attaches the driver to its owning interface.
func (hw *W5100) Bind(nic *netif.Interface) {
	hw.nic = nic
}

// Capabilities returns the controller offloads.
func (hw *W5100) Capabilities() netif.Capabilities {
	return netif.Capabilities{}
}

func (hw *W5100) read8(addr uint16) byte {
	hw.Port.AssertCS()
	defer hw.Port.DeassertCS()

	hw.Port.Transfer(opRead)
	hw.Port.Transfer(byte(addr >> 8))
	hw.Port.Transfer(byte(addr))

	return hw.Port.Transfer(0)
}

func (hw *W5100) write8(addr uint16, val byte) {
	hw.Port.AssertCS()
	defer hw.Port.DeassertCS()

	hw.Port.Transfer(opWrite)
	hw.Port.Transfer(byte(addr >> 8))
	hw.Port.Transfer(byte(addr))
	hw.Port.Transfer(val)
}

func (hw *W5100) rawRead16(addr uint16) uint16 {
	return uint16(hw.read8(addr))<<8 | uint16(hw.read8(addr+1))
}

// read16 reads a 16-bit register the chip updates non-atomically,
// repeating until two consecutive reads agree, the retry loop is bounded.
func (hw *W5100) read16(addr uint16) (val uint16, err error) {
	val = hw.rawRead16(addr)

	for i := 0; i < stableReads; i++ {
		cur := hw.rawRead16(addr)

		if cur == val {
			return
		}

		val = cur
	}

	return 0, netif.ErrInvalidState
}

func (hw *W5100) write16(addr uint16, val uint16) {
	hw.write8(addr, byte(val>>8))
	hw.write8(addr+1, byte(val))
}

// readMem streams circular packet memory, splitting the transfer across
// the wrap point when needed.
func (hw *W5100) readMem(base uint16, ptr uint16, p []byte) {
	off := ptr & memMask

	for i := range p {
		p[i] = hw.read8(base + off)

		if off = off + 1; off == memSize {
			off = 0
		}
	}
}

// writeMem streams circular packet memory, splitting the transfer across
// the wrap point when needed.
func (hw *W5100) writeMem(base uint16, ptr uint16, p []byte) {
	off := ptr & memMask

	for _, b := range p {
		hw.write8(base+off, b)

		if off = off + 1; off == memSize {
			off = 0
		}
	}
}

// Init soft-resets the controller, programs the station address and opens
// socket 0 in MAC raw mode over the whole packet memory.
func (hw *W5100) Init() (err error) {
	hw.Lock()
	defer hw.Unlock()

	if hw.nic == nil {
		return netif.ErrInvalidState
	}

	if hw.Port == nil {
		if hw.Port = hw.nic.SPI; hw.Port == nil {
			return netif.ErrInvalidParameter
		}
	}

	if err = hw.Port.Init(); err != nil {
		return
	}

	hw.write8(MR, 1<<MR_RST)

	// station address
	for i, b := range hw.nic.MAC {
		hw.write8(SHAR+uint16(i), b)
	}

	hw.write8(RMSR, memToS0)
	hw.write8(TMSR, memToS0)

	// MAC raw mode with hardware address filtering
	hw.write8(S0_MR, S0_MR_MACRAW|1<<S0_MR_MF)
	hw.write8(S0_CR, CR_OPEN)

	if hw.read8(S0_SR) != SOCK_MACRAW {
		return netif.ErrInvalidState
	}

	// the transmit buffer is empty and the stack should poll the link
	hw.nic.TxReady.Set()
	hw.nic.SignalEvent()

	return
}

// Tick asserts the link state once, the integrated PHY exposes no link
// status to software.
func (hw *W5100) Tick() {
	if hw.linkOnce {
		return
	}

	hw.linkOnce = true

	hw.nic.SetLink(true, netif.Speed100, netif.FullDuplex)
	hw.nic.NotifyLinkChange()
}

// EnableIRQ arms the socket 0 interrupt source.
func (hw *W5100) EnableIRQ() {
	hw.Lock()
	hw.write8(IMR, 1<<IR_S0)
	hw.Unlock()

	if hw.nic.IRQ != nil {
		hw.nic.IRQ.EnableIRQ()
	}
}

// DisableIRQ masks all interrupt sources.
func (hw *W5100) DisableIRQ() {
	hw.Lock()
	hw.write8(IMR, 0)
	hw.Unlock()

	if hw.nic.IRQ != nil {
		hw.nic.IRQ.DisableIRQ()
	}
}

// ISR services the controller interrupt, masking the sources until the
// deferred drain re-arms them.
func (hw *W5100) ISR() {
	hw.write8(IMR, 0)
	hw.nic.SignalEvent()
}

// Send streams the frame into the circular transmit buffer and starts
// transmission.
func (hw *W5100) Send(f *buffer.Frame, info *netif.PacketInfo) (err error) {
	hw.Lock()
	defer hw.Unlock()

	n := f.Len()

	if n > netif.MTU {
		// never truncate, let the stack drop the frame and progress
		hw.nic.TxReady.Set()
		return netif.ErrInvalidLength
	}

	fsr, err := hw.read16(S0_TX_FSR)

	if err != nil {
		return
	}

	if int(fsr) < n {
		return netif.ErrBusy
	}

	wr, err := hw.read16(S0_TX_WR)

	if err != nil {
		return
	}

	hw.writeMem(txBase, wr, f.Bytes())
	hw.write16(S0_TX_WR, wr+uint16(n))
	hw.write8(S0_CR, CR_SEND)

	// tx-ready stays deasserted until the send completion interrupt

	return
}

// EventHandler drains all pending receive packets from the circular
// receive buffer, acknowledges transmit completions and re-arms the
// interrupt sources.
func (hw *W5100) EventHandler() error {
	for {
		hw.Lock()
		data, err := hw.receive()
		hw.Unlock()

		if errors.Is(err, netif.ErrEmpty) {
			break
		}

		if errors.Is(err, netif.ErrInvalidPacket) {
			hw.Stats.InvalidFrame += 1
			continue
		}

		if err != nil {
			// structural fault, the drain cannot progress
			return err
		}

		hw.nic.Deliver(data, &netif.PacketInfo{})
	}

	hw.Lock()

	irq := hw.read8(S0_IR)

	if irq&(1<<S0_IR_SEND_OK) != 0 {
		hw.write8(S0_IR, 1<<S0_IR_SEND_OK)
		// the transmit buffer drained
		hw.nic.TxReady.Set()
	}

	if irq&(1<<S0_IR_RECV) != 0 {
		hw.write8(S0_IR, 1<<S0_IR_RECV)
	}

	// re-arm the socket interrupt source
	hw.write8(IMR, 1<<IR_S0)

	hw.Unlock()

	return nil
}

// receive drains a single packet: the 2-byte length prelude is read and
// validated, then the payload streamed out and the read pointer advanced.
func (hw *W5100) receive() (data []byte, err error) {
	rsr, err := hw.read16(S0_RX_RSR)

	if err != nil {
		return
	}

	if rsr == 0 {
		return nil, netif.ErrEmpty
	}

	rd, err := hw.read16(S0_RX_RD)

	if err != nil {
		return
	}

	var prelude [2]byte
	hw.readMem(rxBase, rd, prelude[:])

	// the prelude length accounts for itself
	size := int(prelude[0])<<8 | int(prelude[1])

	if size < 2+4 || size-2 > netif.MTU+4 || size > int(rsr) {
		// the buffer is out of sync, flush it entirely
		hw.write16(S0_RX_RD, rd+rsr)
		hw.write8(S0_CR, CR_RECV)

		return nil, netif.ErrInvalidPacket
	}

	// the controller verified and included the frame check sequence
	data = make([]byte, size-2-4)
	hw.readMem(rxBase, rd+2, data)

	hw.write16(S0_RX_RD, rd+uint16(size))
	hw.write8(S0_CR, CR_RECV)

	return
}

// UpdateFilter aligns the hardware address filter with the interface
// state, the part only matches the station and broadcast addresses:
// promiscuous mode, additional unicast entries, multicast entries or
// accept-all-multicast all disable hardware filtering, leaving the
// selection to the stack.
func (hw *W5100) UpdateFilter() error {
	hw.Lock()
	defer hw.Unlock()

	plan := hw.nic.Filter(1, false)

	filter := !plan.Promiscuous && !plan.AllMulticast && plan.Hash == 0 && len(plan.Perfect) == 1

	mr := hw.read8(S0_MR)

	if filter {
		mr |= 1 << S0_MR_MF
	} else {
		mr &^= 1 << S0_MR_MF
	}

	hw.write8(S0_MR, mr)

	// perfect match slot 0
	for i, b := range hw.nic.MAC {
		hw.write8(SHAR+uint16(i), b)
	}

	return nil
}
