// Tail-tagging Ethernet switch driver
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ksz implements a netif.SwitchDriver for KSZ-style multi-port
// integrated switches operating in tail-tag mode, where the host CPU, not
// the switch fabric, decides destination ports.
//
// The switch registers are reached through a side-band transport, either
// SPI or the MAC management bus.
package ksz

import (
	"sync"

	"github.com/usbarmory/netif"
	"github.com/usbarmory/netif/spi"
)

// Global registers
const (
	CHIP_ID0 = 0x00
	CHIP_ID1 = 0x01

	GLOBAL_CTRL1 = 0x03
	// enable tail tagging on the host port
	GC1_TAIL_TAG = 6
)

// Per-port control and status registers, base 0x10 times the 1-origin
// port number.
const (
	PORT_CTRL2 = 0x12
	// forward frames through the switch fabric
	PCR2_FORWARD = 3
	PCR2_TX_EN   = 2
	PCR2_RX_EN   = 1
	// learn source addresses on ingress
	PCR2_LEARN = 0

	PORT_STATUS = 0x1e
	PSR_LINK    = 5
	PSR_100     = 2
	PSR_FD      = 1
)

func portReg(off int, port int) int {
	return 0x10*port + off
}

// RegisterBus is the side-band transport towards the switch register file.
type RegisterBus interface {
	Read8(addr int) (byte, error)
	Write8(addr int, data byte) error
}

// SPI side-band opcodes
const (
	spiRead  = 0x03
	spiWrite = 0x02
)

// SideBand reaches the switch registers over SPI.
type SideBand struct {
	sync.Mutex

	Port spi.Port
}

// Read8 reads a switch register.
func (s *SideBand) Read8(addr int) (byte, error) {
	s.Lock()
	defer s.Unlock()

	s.Port.AssertCS()
	defer s.Port.DeassertCS()

	s.Port.Transfer(spiRead)
	s.Port.Transfer(byte(addr))

	return s.Port.Transfer(0), nil
}

// Write8 writes a switch register.
func (s *SideBand) Write8(addr int, data byte) error {
	s.Lock()
	defer s.Unlock()

	s.Port.AssertCS()
	defer s.Port.DeassertCS()

	s.Port.Transfer(spiWrite)
	s.Port.Transfer(byte(addr))
	s.Port.Transfer(data)

	return nil
}

var _ netif.SwitchDriver = (*Switch)(nil)

// Switch represents an integrated switch instance.
type Switch struct {
	sync.Mutex

	// Bus is the side-band register transport.
	Bus RegisterBus
	// Count is the number of external ports.
	Count int

	nic *netif.Interface
	up  []bool
}

// Bind attaches the driver to its owning interface.
func (sw *Switch) Bind(nic *netif.Interface) {
	sw.nic = nic
}

// Ports returns the number of external switch ports.
func (sw *Switch) Ports() int {
	return sw.Count
}

// Init enables tail tagging and hands all forwarding decisions to the
// host: the per-port learning and forwarding bits are cleared so frames
// only flow through the tagged host port.
func (sw *Switch) Init() (err error) {
	if sw.nic == nil || sw.Bus == nil {
		return netif.ErrInvalidParameter
	}

	if sw.Count == 0 {
		sw.Count = 2
	}

	sw.up = make([]bool, sw.Count+1)

	ctrl, err := sw.Bus.Read8(GLOBAL_CTRL1)

	if err != nil {
		return
	}

	if err = sw.Bus.Write8(GLOBAL_CTRL1, ctrl|(1<<GC1_TAIL_TAG)); err != nil {
		return
	}

	for port := 1; port <= sw.Count; port++ {
		addr := portReg(PORT_CTRL2, port)

		var pcr byte

		if pcr, err = sw.Bus.Read8(addr); err != nil {
			return
		}

		pcr &^= (1 << PCR2_FORWARD) | (1 << PCR2_LEARN)
		pcr |= (1 << PCR2_TX_EN) | (1 << PCR2_RX_EN)

		if err = sw.Bus.Write8(addr, pcr); err != nil {
			return
		}
	}

	return
}

// Tick polls the per-port link status, reconciling the matching virtual
// interfaces and the physical interface.
func (sw *Switch) Tick() {
	sw.poll()
}

// EventHandler reconciles the port link states after a switch interrupt.
func (sw *Switch) EventHandler() error {
	return sw.poll()
}

// EnableIRQ arms the external switch interrupt line, when wired.
func (sw *Switch) EnableIRQ() {
	if sw.nic.IRQ != nil {
		sw.nic.IRQ.EnableIRQ()
	}
}

// DisableIRQ masks the external switch interrupt line, when wired.
func (sw *Switch) DisableIRQ() {
	if sw.nic.IRQ != nil {
		sw.nic.IRQ.DisableIRQ()
	}
}

func (sw *Switch) poll() (err error) {
	sw.Lock()
	defer sw.Unlock()

	anyUp := false
	wasUp := false

	for port := 1; port <= sw.Count; port++ {
		wasUp = wasUp || sw.up[port]

		status, err := sw.Bus.Read8(portReg(PORT_STATUS, port))

		if err != nil {
			return err
		}

		up := status&(1<<PSR_LINK) != 0
		anyUp = anyUp || up

		if up == sw.up[port] {
			continue
		}

		sw.up[port] = up

		vp := sw.nic.VirtualPort(port)

		if vp == nil {
			continue
		}

		speed := netif.Speed10
		duplex := netif.HalfDuplex

		if status&(1<<PSR_100) != 0 {
			speed = netif.Speed100
		}

		if status&(1<<PSR_FD) != 0 {
			duplex = netif.FullDuplex
		}

		if up {
			vp.SetLink(true, speed, duplex)
		} else {
			vp.SetLink(false, 0, netif.HalfDuplex)
		}

		vp.NotifyLinkChange()
	}

	// the physical pipe towards the MAC follows any active port
	if anyUp != wasUp {
		if anyUp {
			sw.nic.SetLink(true, netif.Speed100, netif.FullDuplex)

			if err = sw.nic.UpdateMACConfig(); err != nil {
				return
			}
		} else {
			sw.nic.SetLink(false, 0, netif.HalfDuplex)
		}

		sw.nic.NotifyLinkChange()
	}

	return
}
