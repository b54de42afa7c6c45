// ENC28J60-class SPI Ethernet controller driver
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package enc implements a netif.Driver for ENC28J60-class Ethernet
// controllers, reached over a half-duplex SPI transport and exposing
// their packet memory as software visible on-chip SRAM FIFOs instead of
// DMA descriptor rings.
package enc

import (
	"sync"
	"time"

	"github.com/usbarmory/netif"
	"github.com/usbarmory/netif/spi"
)

// SPI instruction set
const (
	opRCR = 0x00 // read control register
	opRBM = 0x3a // read buffer memory
	opWCR = 0x40 // write control register
	opWBM = 0x7a // write buffer memory
	opBFS = 0x80 // bit field set
	opBFC = 0xa0 // bit field clear
	opSRC = 0xff // system reset command
)

// Control register encoding: bits 0-4 address, bits 5-6 bank, bit 7 flags
// MAC/MII registers whose reads shift out a leading dummy byte.
const (
	addrMask = 0x1f
	bankMask = 0x60
	macFlag  = 0x80
)

// Bank 0 registers
const (
	ERDPTL   = 0x00
	ERDPTH   = 0x01
	EWRPTL   = 0x02
	EWRPTH   = 0x03
	ETXSTL   = 0x04
	ETXSTH   = 0x05
	ETXNDL   = 0x06
	ETXNDH   = 0x07
	ERXSTL   = 0x08
	ERXSTH   = 0x09
	ERXNDL   = 0x0a
	ERXNDH   = 0x0b
	ERXRDPTL = 0x0c
	ERXRDPTH = 0x0d
)

// Bank 1 registers
const (
	EHT0    = 0x20 | 0x00
	ERXFCON = 0x20 | 0x18
	EPKTCNT = 0x20 | 0x19
)

// Bank 2 registers
const (
	MACON1   = 0x40 | 0x00 | macFlag
	MACON3   = 0x40 | 0x02 | macFlag
	MACON4   = 0x40 | 0x03 | macFlag
	MABBIPG  = 0x40 | 0x04 | macFlag
	MAIPGL   = 0x40 | 0x06 | macFlag
	MAIPGH   = 0x40 | 0x07 | macFlag
	MAMXFLL  = 0x40 | 0x0a | macFlag
	MAMXFLH  = 0x40 | 0x0b | macFlag
	MICMD    = 0x40 | 0x12 | macFlag
	MIREGADR = 0x40 | 0x14 | macFlag
	MIWRL    = 0x40 | 0x16 | macFlag
	MIWRH    = 0x40 | 0x17 | macFlag
	MIRDL    = 0x40 | 0x18 | macFlag
	MIRDH    = 0x40 | 0x19 | macFlag
)

// Bank 3 registers
const (
	MAADR5 = 0x60 | 0x00 | macFlag
	MAADR6 = 0x60 | 0x01 | macFlag
	MAADR3 = 0x60 | 0x02 | macFlag
	MAADR4 = 0x60 | 0x03 | macFlag
	MAADR1 = 0x60 | 0x04 | macFlag
	MAADR2 = 0x60 | 0x05 | macFlag
	MISTAT = 0x60 | 0x0a | macFlag
)

// Common registers, present in every bank
const (
	EIE   = 0x1b
	EIR   = 0x1c
	ESTAT = 0x1d
	ECON2 = 0x1e
	ECON1 = 0x1f
)

// ECON1 bits
const (
	ECON1_TXRST = 7
	ECON1_RXRST = 6
	ECON1_TXRTS = 3
	ECON1_RXEN  = 2
	ECON1_BSEL1 = 1
	ECON1_BSEL0 = 0
)

// ECON2 bits
const (
	ECON2_AUTOINC = 7
	ECON2_PKTDEC  = 6
)

// EIE bits
const (
	EIE_INTIE  = 7
	EIE_PKTIE  = 6
	EIE_TXIE   = 3
	EIE_TXERIE = 1
	EIE_RXERIE = 0
)

// EIR bits
const (
	EIR_PKTIF  = 6
	EIR_TXIF   = 3
	EIR_TXERIF = 1
	EIR_RXERIF = 0
)

// ESTAT bits
const (
	ESTAT_TXABRT = 1
	ESTAT_CLKRDY = 0
)

// MACON1 bits
const (
	MACON1_TXPAUS = 3
	MACON1_RXPAUS = 2
	MACON1_MARXEN = 0
)

// MACON3 bits
const (
	MACON3_PADCFG0 = 5
	MACON3_TXCRCEN = 4
	MACON3_FRMLNEN = 1
	MACON3_FULDPX  = 0
)

// ERXFCON bits
const (
	ERXFCON_UCEN  = 7
	ERXFCON_CRCEN = 5
	ERXFCON_MPEN  = 3
	ERXFCON_HTEN  = 2
	ERXFCON_MCEN  = 1
	ERXFCON_BCEN  = 0
)

// PHY registers
const (
	PHCON1  = 0x00
	PHSTAT2 = 0x11
	PHCON2  = 0x10

	PHCON1_PDPXMD = 8
	PHCON2_HDLDIS = 8
	PHSTAT2_LSTAT = 10
)

// On-chip 8 KiB packet memory layout, receive ring first.
const (
	memSize = 0x2000

	rxStart = 0x0000
	rxEnd   = 0x19ff
	txStart = 0x1a00
)

const (
	resetTimeout = 10 * time.Millisecond
	miiTimeout   = 10 * time.Millisecond

	// per-packet control byte, MACON3 settings apply
	pktCtrl = 0x00
)

// Stats represents the controller receive and transmit error counters.
type Stats struct {
	InvalidFrame uint32
	TxAborted    uint32
}

var (
	_ netif.Driver           = (*ENC)(nil)
	_ netif.MACConfigUpdater = (*ENC)(nil)
)

// ENC represents an ENC28J60-class controller instance.
type ENC struct {
	sync.Mutex

	// Port is the SPI transport.
	Port spi.Port
	// FullDuplex selects the fixed PHY duplex mode, the part does not
	// support Auto-Negotiation.
	FullDuplex bool

	// Statistics about the controller
	Stats Stats

	nic *netif.Interface

	// current bank shadow
	bank byte
	// next packet pointer
	next uint16
	// link state shadow
	up bool
}

// Bind attaches the driver to its owning interface.
func (hw *ENC) Bind(nic *netif.Interface) {
	hw.nic = nic
}

// Capabilities returns the controller offloads.
func (hw *ENC) Capabilities() netif.Capabilities {
	return netif.Capabilities{}
}

// Init soft-resets the controller, programs the receive ring, MAC
// parameters and station address, leaving reception enabled.
func (hw *ENC) Init() (err error) {
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

	hw.reset()

	if err = hw.waitClock(); err != nil {
		return
	}

	// force the first bank select
	hw.bank = 0xff
	hw.next = rxStart

	// receive ring boundaries
	hw.writeReg16(ERXSTL, rxStart)
	hw.writeReg16(ERXNDL, rxEnd)
	// the read pointer trails the ring end while the ring is empty
	hw.writeReg16(ERXRDPTL, rxEnd)
	hw.writeReg16(ERDPTL, rxStart)

	// MAC initialization
	hw.writeReg(MACON1, 1<<MACON1_MARXEN|1<<MACON1_RXPAUS|1<<MACON1_TXPAUS)

	macon3 := byte(1<<MACON3_PADCFG0 | 1<<MACON3_TXCRCEN | 1<<MACON3_FRMLNEN)

	if hw.FullDuplex {
		macon3 |= 1 << MACON3_FULDPX
		hw.writeReg(MABBIPG, 0x15)
	} else {
		hw.writeReg(MABBIPG, 0x12)
		hw.writeReg16(MAIPGL, 0x0c12)
	}

	hw.writeReg(MACON3, macon3)
	hw.writeReg16(MAMXFLL, netif.MTU)

	// station address
	hw.setMAC()

	// PHY duplex matches the MAC
	if err = hw.writePHY(PHCON1, duplexBit(hw.FullDuplex)); err != nil {
		return
	}

	// disable half-duplex loopback
	if err = hw.writePHY(PHCON2, 1<<PHCON2_HDLDIS); err != nil {
		return
	}

	// arm interrupt sources
	hw.writeReg(EIE, 1<<EIE_INTIE|1<<EIE_PKTIE|1<<EIE_TXIE|1<<EIE_TXERIE|1<<EIE_RXERIE)

	// enable reception
	hw.setBits(ECON1, 1<<ECON1_RXEN)

	// the single transmit slot is available and the stack should poll
	// the link
	hw.nic.TxReady.Set()
	hw.nic.SignalEvent()

	return
}

func duplexBit(full bool) (phcon1 uint16) {
	if full {
		phcon1 = 1 << PHCON1_PDPXMD
	}

	return
}

func (hw *ENC) setMAC() {
	mac := hw.nic.MAC

	hw.writeReg(MAADR1, mac[0])
	hw.writeReg(MAADR2, mac[1])
	hw.writeReg(MAADR3, mac[2])
	hw.writeReg(MAADR4, mac[3])
	hw.writeReg(MAADR5, mac[4])
	hw.writeReg(MAADR6, mac[5])
}

// UpdateMACConfig aligns the MAC duplex configuration with the PHY, the
// part only operates at 10 Mbps.
func (hw *ENC) UpdateMACConfig(speed netif.Speed, duplex netif.Duplex) error {
	hw.Lock()
	defer hw.Unlock()

	full := duplex == netif.FullDuplex

	macon3 := hw.readReg(MACON3)

	if full {
		macon3 |= 1 << MACON3_FULDPX
		hw.writeReg(MABBIPG, 0x15)
	} else {
		macon3 &^= 1 << MACON3_FULDPX
		hw.writeReg(MABBIPG, 0x12)
	}

	hw.writeReg(MACON3, macon3)

	return hw.writePHY(PHCON1, duplexBit(full))
}

// Tick polls the integrated PHY link status, the part has no
// Auto-Negotiation and operates at a fixed 10 Mbps.
func (hw *ENC) Tick() {
	hw.Lock()

	stat, err := hw.readPHY(PHSTAT2)

	if err != nil {
		hw.Unlock()
		return
	}

	up := stat&(1<<PHSTAT2_LSTAT) != 0
	changed := up != hw.up
	hw.up = up

	hw.Unlock()

	if !changed {
		return
	}

	duplex := netif.HalfDuplex

	if hw.FullDuplex {
		duplex = netif.FullDuplex
	}

	if up {
		hw.nic.SetLink(true, netif.Speed10, duplex)
		hw.nic.UpdateMACConfig()
	} else {
		hw.nic.SetLink(false, 0, netif.HalfDuplex)
	}

	hw.nic.NotifyLinkChange()
}

// EnableIRQ arms the controller interrupt output.
func (hw *ENC) EnableIRQ() {
	hw.Lock()
	hw.setBits(EIE, 1<<EIE_INTIE)
	hw.Unlock()

	if hw.nic.IRQ != nil {
		hw.nic.IRQ.EnableIRQ()
	}
}

// DisableIRQ masks the controller interrupt output.
func (hw *ENC) DisableIRQ() {
	hw.Lock()
	hw.clearBits(EIE, 1<<EIE_INTIE)
	hw.Unlock()

	if hw.nic.IRQ != nil {
		hw.nic.IRQ.DisableIRQ()
	}
}

// ISR services the controller interrupt, masking the interrupt output
// until the deferred drain re-arms it.
func (hw *ENC) ISR() {
	hw.clearBits(EIE, 1<<EIE_INTIE)
	hw.nic.SignalEvent()
}
