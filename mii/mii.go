// IEEE 802.3 Media Independent Interface management
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mii implements the clause 22 management interface contract used
// to reach PHY and integrated switch registers, along with a bit-banged
// sequencer for controllers lacking a hardware MDIO block.
package mii

// Standard management registers (IEEE 802.3-2008 Clause 22)
const (
	BMCR   = 0x00
	BMSR   = 0x01
	PHYID1 = 0x02
	PHYID2 = 0x03
	ANAR   = 0x04
	ANLPAR = 0x05
)

// Basic Mode Control Register bits
const (
	BMCR_RESET     = 15
	BMCR_LOOPBACK  = 14
	BMCR_SPEED100  = 13
	BMCR_ANEG      = 12
	BMCR_PDOWN     = 11
	BMCR_ANRESTART = 9
	BMCR_DUPLEX    = 8
)

// Basic Mode Status Register bits
const (
	BMSR_ANEG_COMPLETE = 5
	BMSR_LINK          = 2
)

// Auto-Negotiation Link Partner Ability Register bits
const (
	ANLPAR_100FD = 8
	ANLPAR_100HD = 7
	ANLPAR_10FD  = 6
	ANLPAR_10HD  = 5
)

// MDIO frame fields (IEEE 802.3-2008 Clause 22)
const (
	MDIO_ST       = 0b01
	MDIO_OP_READ  = 0b10
	MDIO_OP_WRITE = 0b01
	MDIO_TA       = 0b10
)

// Bus is the 16-bit register transaction contract of the management
// back-ends: BitBang implements it, and package phy adapts controller MDIO
// blocks (netif.PHYRegisterAccess) to it. The ksz SPI side-band does not
// implement Bus, switch registers are reached through ksz.RegisterBus with
// 8-bit transfers.
type Bus interface {
	Read(pa int, ra int) (uint16, error)
	Write(pa int, ra int, data uint16) error
}
