// NXP FEC-style 10/100 Ethernet MAC driver
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package fec implements a netif.Driver for NXP Fast Ethernet Controller
// MACs adopting the following reference specifications:
//   - IMX6ULLRM - i.MX 6ULL Applications Processor Reference Manual - Rev 1 2017/11
package fec

import (
	"sync"
	"time"

	"github.com/usbarmory/netif"
	"github.com/usbarmory/netif/dma"
	"github.com/usbarmory/netif/dmaring"
	"github.com/usbarmory/netif/internal/reg"
)

// FEC registers
const (
	// p879, 22.5 Memory map/register definition, IMX6ULLRM

	FECx_EIR  = 0x0004
	FECx_EIMR = 0x0008

	FECx_RDAR   = 0x0010
	RDAR_ACTIVE = 24

	FECx_TDAR   = 0x0014
	TDAR_ACTIVE = 24

	FECx_ECR    = 0x0024
	ECR_DBSWP   = 8
	ECR_EN1588  = 5
	ECR_ETHEREN = 1
	ECR_RESET   = 0

	FECx_MMFR = 0x0040
	MMFR_ST   = 30
	MMFR_OP   = 28
	MMFR_PA   = 23
	MMFR_RA   = 18
	MMFR_TA   = 16
	MMFR_DATA = 0

	FECx_MSCR      = 0x0044
	MSCR_HOLDTIME  = 8
	MSCR_MII_SPEED = 1

	FECx_MIB = 0x0064
	MIB_DIS  = 31

	FECx_RCR      = 0x0084
	RCR_MAX_FL    = 16
	RCR_RMII_10T  = 9
	RCR_RMII_MODE = 8
	RCR_FCE       = 5
	RCR_PROM      = 3
	RCR_MII_MODE  = 2
	RCR_DRT       = 1
	RCR_LOOP      = 0

	FECx_TCR = 0x00c4
	TCR_FDEN = 2

	FECx_PALR = 0x00e4
	FECx_PAUR = 0x00e8

	FECx_IAUR = 0x0118
	FECx_IALR = 0x011c
	FECx_GAUR = 0x0120
	FECx_GALR = 0x0124

	FECx_RDSR = 0x0180
	FECx_TDSR = 0x0184
	FECx_MRBR = 0x0188
	FECx_FTRL = 0x01b0

	FECx_RACC    = 0x01c4
	RACC_LINEDIS = 6
)

// FEC interrupt events
const (
	// p889, 22.5.1 Interrupt Event Register (ENETx_EIR),  IMX6ULLRM
	// p891, 22.5.2 Interrupt Mask  Register (ENETx_EIMR), IMX6ULLRM

	IRQ_BABR  = 30
	IRQ_BABT  = 29
	IRQ_GRA   = 28
	IRQ_TXF   = 27
	IRQ_TXB   = 26
	IRQ_RXF   = 25
	IRQ_RXB   = 24
	IRQ_MII   = 23
	IRQ_EBERR = 22
	IRQ_LC    = 21
	IRQ_RL    = 20
	IRQ_UN    = 19
)

const (
	defaultRingSize = 16
	bufferAlign     = 64
	slotSize        = netif.MTU + (bufferAlign - (netif.MTU % bufferAlign))

	resetTimeout = 10 * time.Millisecond
	mdioTimeout  = 10 * time.Millisecond
)

// Stats represents the MAC receive error counters.
type Stats struct {
	FrameError   uint32
	InvalidFrame uint32
}

var (
	_ netif.Driver            = (*FEC)(nil)
	_ netif.MACConfigUpdater  = (*FEC)(nil)
	_ netif.PHYRegisterAccess = (*FEC)(nil)
)

// FEC represents an Ethernet MAC instance.
type FEC struct {
	sync.Mutex

	// Controller index
	Index int
	// Base register
	Base uint32
	// Clock retrieval function
	Clock func() uint32
	// PLL enable function
	EnablePLL func(index int) error
	// RMII mode
	RMII bool
	// FixedLink marks variants without an attached PHY or switch,
	// operating at a fixed 100 Mbps full-duplex link.
	FixedLink bool
	// Descriptor ring size
	RingSize int
	// DMA region for descriptor rings and packet buffers
	Region *dma.Region
	// Discard MAC layer errors
	DiscardErrors bool

	// Statistics about the MAC
	Stats Stats

	// control registers
	eir  uint32
	eimr uint32
	rdar uint32
	tdar uint32
	ecr  uint32
	mmfr uint32
	mscr uint32
	mib  uint32
	rcr  uint32
	tcr  uint32
	palr uint32
	paur uint32
	iaur uint32
	ialr uint32
	gaur uint32
	galr uint32
	rdsr uint32
	tdsr uint32
	mrbr uint32
	ftrl uint32
	racc uint32

	nic *netif.Interface

	rx *dmaring.Ring
	tx *dmaring.Ring

	linkOnce bool
}

// Bind attaches the driver to its owning interface.
func (hw *FEC) Bind(nic *netif.Interface) {
	hw.nic = nic
}

// Capabilities returns the controller offloads, FEC legacy descriptors
// provide none.
func (hw *FEC) Capabilities() netif.Capabilities {
	return netif.Capabilities{}
}

// Init soft-resets the controller, programs the station address,
// initializes the descriptor rings and leaves transmission and reception
// enabled.
func (hw *FEC) Init() (err error) {
	hw.Lock()
	defer hw.Unlock()

	if hw.nic == nil || hw.Base == 0 || hw.Clock == nil || hw.Region == nil {
		return netif.ErrInvalidParameter
	}

	if hw.nic.PHY == nil && hw.nic.Switch == nil && !hw.FixedLink {
		return netif.ErrInvalidState
	}

	if hw.RingSize == 0 {
		hw.RingSize = defaultRingSize
	}

	hw.eir = hw.Base + FECx_EIR
	hw.eimr = hw.Base + FECx_EIMR
	hw.rdar = hw.Base + FECx_RDAR
	hw.tdar = hw.Base + FECx_TDAR
	hw.ecr = hw.Base + FECx_ECR
	hw.mmfr = hw.Base + FECx_MMFR
	hw.mscr = hw.Base + FECx_MSCR
	hw.mib = hw.Base + FECx_MIB
	hw.rcr = hw.Base + FECx_RCR
	hw.tcr = hw.Base + FECx_TCR
	hw.palr = hw.Base + FECx_PALR
	hw.paur = hw.Base + FECx_PAUR
	hw.iaur = hw.Base + FECx_IAUR
	hw.ialr = hw.Base + FECx_IALR
	hw.gaur = hw.Base + FECx_GAUR
	hw.galr = hw.Base + FECx_GALR
	hw.rdsr = hw.Base + FECx_RDSR
	hw.tdsr = hw.Base + FECx_TDSR
	hw.mrbr = hw.Base + FECx_MRBR
	hw.ftrl = hw.Base + FECx_FTRL
	hw.racc = hw.Base + FECx_RACC

	if err = hw.setup(); err != nil {
		return
	}

	if err = hw.initRings(); err != nil {
		return
	}

	// enable Ethernet MAC
	reg.Set(hw.ecr, ECR_ETHEREN)
	// start reception
	reg.Set(hw.rdar, RDAR_ACTIVE)

	// a transmit slot is available and the stack should poll the link
	hw.nic.TxReady.Set()
	hw.nic.SignalEvent()

	return
}

func (hw *FEC) setup() (err error) {
	if hw.EnablePLL != nil {
		if err = hw.EnablePLL(hw.Index); err != nil {
			return
		}
	}

	// soft reset
	reg.Set(hw.ecr, ECR_RESET)

	if !reg.WaitFor(resetTimeout, hw.ecr, ECR_RESET, 1, 0) {
		return netif.ErrTimeout
	}

	reg.Set(hw.ecr, ECR_DBSWP)

	// clear all interrupts
	reg.Write(hw.eir, 0xffffffff)
	// mask all interrupts
	reg.Write(hw.eimr, 0)

	// enable Full-Duplex
	reg.Set(hw.tcr, TCR_FDEN)
	// disable Management Information Database
	reg.Set(hw.mib, MIB_DIS)

	// use legacy descriptors
	reg.Clear(hw.ecr, ECR_EN1588)

	// set receive buffer size and maximum frame length
	reg.Write(hw.mrbr, uint32(slotSize))
	reg.Write(hw.ftrl, netif.MTU)
	reg.SetN(hw.rcr, RCR_MAX_FL, 0x3fff, netif.MTU)

	if hw.DiscardErrors {
		reg.Set(hw.racc, RACC_LINEDIS)
	}

	// set station address
	hw.setMAC()

	// set Media Independent Interface Mode
	reg.Set(hw.rcr, RCR_MII_MODE)
	reg.SetTo(hw.rcr, RCR_RMII_MODE, hw.RMII)
	// enable Flow Control
	reg.Set(hw.rcr, RCR_FCE)
	// disable loopback
	reg.Clear(hw.rcr, RCR_LOOP)

	// set MII clock
	reg.SetN(hw.mscr, MSCR_HOLDTIME, 0b111, 1)
	reg.SetN(hw.mscr, MSCR_MII_SPEED, 0x3f, hw.Clock()/(2*2500000))

	return
}

func (hw *FEC) setMAC() {
	mac := hw.nic.MAC

	lower := uint32(mac[0])<<24 | uint32(mac[1])<<16 | uint32(mac[2])<<8 | uint32(mac[3])
	upper := uint32(mac[4])<<8 | uint32(mac[5])

	reg.Write(hw.palr, lower)
	reg.Write(hw.paur, upper<<16)
}

// UpdateMACConfig aligns the MAC duplex and speed configuration with the
// reconciled link parameters.
func (hw *FEC) UpdateMACConfig(speed netif.Speed, duplex netif.Duplex) error {
	hw.Lock()
	defer hw.Unlock()

	full := duplex == netif.FullDuplex

	reg.SetTo(hw.tcr, TCR_FDEN, full)
	// disable reception during transmission on half-duplex links
	reg.SetTo(hw.rcr, RCR_DRT, !full)
	// RMII 10 Mbps mode
	reg.SetTo(hw.rcr, RCR_RMII_10T, speed == netif.Speed10)

	return nil
}

// Tick asserts the link state once on fixed-link variants, attached PHY or
// switch drivers otherwise own link polling.
func (hw *FEC) Tick() {
	if !hw.FixedLink || hw.linkOnce {
		return
	}

	hw.linkOnce = true

	hw.nic.SetLink(true, netif.Speed100, netif.FullDuplex)
	hw.nic.UpdateMACConfig()
	hw.nic.NotifyLinkChange()
}

// EnableIRQ arms the receive, transmit and bus error interrupt sources.
func (hw *FEC) EnableIRQ() {
	reg.Set(hw.eimr, IRQ_RXF)
	reg.Set(hw.eimr, IRQ_TXF)
	reg.Set(hw.eimr, IRQ_EBERR)
}

// DisableIRQ masks all interrupt sources.
func (hw *FEC) DisableIRQ() {
	reg.Write(hw.eimr, 0)
}

// ISR services the controller interrupt, it is bounded: status is read and
// acknowledged, event signals latched, the receive source masked until the
// deferred drain re-arms it.
func (hw *FEC) ISR() {
	irq := reg.Read(hw.eir) & (1<<IRQ_RXF | 1<<IRQ_TXF | 1<<IRQ_EBERR)

	// clear only the handled sources
	reg.Write(hw.eir, irq)

	if irq&(1<<IRQ_RXF|1<<IRQ_EBERR) != 0 {
		// mask the receive source until the drain completes
		reg.Clear(hw.eimr, IRQ_RXF)
		hw.nic.SignalEvent()
	}

	if irq&(1<<IRQ_TXF) != 0 && hw.tx.Free() {
		hw.nic.TxReady.Set()
	}
}
