// Generic IEEE 802.3 PHY driver
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package phy implements a generic clause 22 Ethernet transceiver driver
// performing link state reconciliation between the PHY negotiated mode and
// the MAC configuration.
package phy

import (
	"github.com/usbarmory/netif"
	"github.com/usbarmory/netif/bits"
	"github.com/usbarmory/netif/mii"
)

var _ netif.PHYDriver = (*PHY)(nil)

// PHY represents an Ethernet transceiver instance.
//
// The management transport is resolved in order from the Bus field, the
// interface MDIO handle or the NIC driver MDIO block.
type PHY struct {
	// Bus is the management transport.
	Bus mii.Bus
	// Addr is the PHY address.
	Addr int

	nic *netif.Interface
	up  bool
}

// Bind attaches the driver to its owning interface.
func (p *PHY) Bind(nic *netif.Interface) {
	p.nic = nic
}

type driverBus struct {
	d netif.PHYRegisterAccess
}

func (b *driverBus) Read(pa int, ra int) (uint16, error) {
	return b.d.ReadPHYRegister(pa, ra)
}

func (b *driverBus) Write(pa int, ra int, data uint16) error {
	return b.d.WritePHYRegister(pa, ra, data)
}

// Init resets the transceiver and enables Auto-Negotiation.
func (p *PHY) Init() (err error) {
	if p.nic == nil {
		return netif.ErrInvalidState
	}

	if p.Bus == nil {
		p.Bus = p.nic.MDIO
	}

	if p.Bus == nil {
		if d, ok := p.nic.Driver.(netif.PHYRegisterAccess); ok {
			p.Bus = &driverBus{d}
		}
	}

	if p.Bus == nil {
		return netif.ErrInvalidParameter
	}

	if err = p.Bus.Write(p.Addr, mii.BMCR, 1<<mii.BMCR_RESET); err != nil {
		return
	}

	return p.Bus.Write(p.Addr, mii.BMCR, (1<<mii.BMCR_ANEG)|(1<<mii.BMCR_ANRESTART))
}

// Tick polls the link state, it drives reconciliation on controllers
// without a wired PHY interrupt.
func (p *PHY) Tick() {
	p.poll()
}

// EventHandler reconciles the link state after a PHY interrupt.
func (p *PHY) EventHandler() error {
	return p.poll()
}

// EnableIRQ arms the external PHY interrupt line, when wired.
func (p *PHY) EnableIRQ() {
	if p.nic.IRQ != nil {
		p.nic.IRQ.EnableIRQ()
	}
}

// DisableIRQ masks the external PHY interrupt line, when wired.
func (p *PHY) DisableIRQ() {
	if p.nic.IRQ != nil {
		p.nic.IRQ.DisableIRQ()
	}
}

// resolve returns the highest common denominator of the local and link
// partner abilities.
func resolve(anar uint16, anlpar uint16) (speed netif.Speed, duplex netif.Duplex) {
	common := uint32(anar & anlpar)

	switch {
	case bits.Get(&common, mii.ANLPAR_100FD):
		return netif.Speed100, netif.FullDuplex
	case bits.Get(&common, mii.ANLPAR_100HD):
		return netif.Speed100, netif.HalfDuplex
	case bits.Get(&common, mii.ANLPAR_10FD):
		return netif.Speed10, netif.FullDuplex
	default:
		return netif.Speed10, netif.HalfDuplex
	}
}

func (p *PHY) poll() (err error) {
	// the link status bit is latched low, sample it twice
	if _, err = p.Bus.Read(p.Addr, mii.BMSR); err != nil {
		return
	}

	bmsr, err := p.Bus.Read(p.Addr, mii.BMSR)

	if err != nil {
		return
	}

	status := uint32(bmsr)
	up := bits.Get(&status, mii.BMSR_LINK)

	if up == p.up {
		return
	}

	p.up = up

	if !up {
		p.nic.SetLink(false, 0, netif.HalfDuplex)
		p.nic.NotifyLinkChange()

		return
	}

	var speed netif.Speed
	var duplex netif.Duplex

	if bits.Get(&status, mii.BMSR_ANEG_COMPLETE) {
		var anar, anlpar uint16

		if anar, err = p.Bus.Read(p.Addr, mii.ANAR); err != nil {
			return
		}

		if anlpar, err = p.Bus.Read(p.Addr, mii.ANLPAR); err != nil {
			return
		}

		speed, duplex = resolve(anar, anlpar)
	} else {
		var bmcr uint16

		if bmcr, err = p.Bus.Read(p.Addr, mii.BMCR); err != nil {
			return
		}

		ctrl := uint32(bmcr)
		speed, duplex = netif.Speed10, netif.HalfDuplex

		if bits.Get(&ctrl, mii.BMCR_SPEED100) {
			speed = netif.Speed100
		}

		if bits.Get(&ctrl, mii.BMCR_DUPLEX) {
			duplex = netif.FullDuplex
		}
	}

	p.nic.SetLink(true, speed, duplex)

	if err = p.nic.UpdateMACConfig(); err != nil {
		return
	}

	p.nic.NotifyLinkChange()

	return
}
