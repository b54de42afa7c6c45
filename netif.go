// Network interface abstraction layer
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package netif implements the binding layer between Ethernet controller
// drivers, PHY/switch drivers and the upper network stack: link state,
// receive filters, rendezvous signals and frame delivery.
//
// Drivers for specific controller families are implemented in the drivers
// subpackages, the generic descriptor ring engine in package dmaring.
package netif

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/usbarmory/netif/buffer"
	"github.com/usbarmory/netif/mii"
	"github.com/usbarmory/netif/spi"
)

// Ethernet frame size limits, excluding the frame check sequence appended
// and stripped by the MAC.
const (
	// MTU is the maximum frame length, with headroom for a trailing
	// switch port tag.
	MTU = 1518
	// MinFrameSize is the minimum frame length.
	MinFrameSize = 60
)

// Speed represents an Ethernet link speed in Mbit/s.
type Speed int

// Link speeds
const (
	Speed10   Speed = 10
	Speed100  Speed = 100
	Speed1000 Speed = 1000
)

// Duplex represents an Ethernet duplex mode.
type Duplex int

// Duplex modes
const (
	HalfDuplex Duplex = iota
	FullDuplex
)

// Interface represents a network interface binding a NIC driver, its
// optional PHY or switch driver and the upper stack.
//
// The exported fields must be set before Init() and are not changed
// afterwards. Link state and filter tables are written only from deferred
// context.
type Interface struct {
	sync.Mutex

	// MAC is the station address.
	MAC net.HardwareAddr
	// MTU is the maximum transmission unit.
	MTU int

	// Driver is the NIC controller driver.
	Driver Driver
	// PHY is the optional Ethernet transceiver driver.
	PHY PHYDriver
	// Switch is the optional integrated switch driver.
	Switch SwitchDriver
	// Stack is the upper network stack.
	Stack Stack

	// SPI is the optional transport for serial attached controllers.
	SPI spi.Port
	// IRQ is the optional external interrupt line.
	IRQ spi.IRQLine
	// MDIO is the optional management bus towards PHY registers.
	MDIO mii.Bus

	// TxReady is set whenever a transmit slot is available.
	TxReady *Event

	// Port is the switch port bound to a virtual interface, 1-origin,
	// zero on physical interfaces.
	Port int

	parent *Interface
	ports  []*Interface

	netEvent *Event
	pending  uint32

	linkState bool
	linkSpeed Speed
	duplex    Duplex

	promiscuous  bool
	allMulticast bool

	unicast   filterTable
	multicast filterTable
}

// Init validates the interface, binds its drivers and initializes them,
// leaving the controller enabled.
func (nic *Interface) Init() (err error) {
	if nic.Driver == nil || len(nic.MAC) != 6 {
		return ErrInvalidParameter
	}

	if nic.MTU == 0 {
		nic.MTU = MTU
	}

	if nic.TxReady == nil {
		nic.TxReady = NewEvent()
	}

	if nic.netEvent == nil {
		nic.netEvent = NewEvent()
	}

	for _, d := range []interface{}{nic.Driver, nic.PHY, nic.Switch} {
		if b, ok := d.(Binder); ok {
			b.Bind(nic)
		}
	}

	if err = nic.Driver.Init(); err != nil {
		return
	}

	if nic.PHY != nil {
		if err = nic.PHY.Init(); err != nil {
			return
		}
	}

	if nic.Switch != nil {
		if err = nic.Switch.Init(); err != nil {
			return
		}
	}

	return
}

// SignalEvent flags the interface for deferred processing and latches the
// shared net-event signal, it is safe to call from interrupt context.
func (nic *Interface) SignalEvent() {
	atomic.StoreUint32(&nic.pending, 1)
	nic.netEvent.Set()
}

// LinkState returns whether the link is up.
func (nic *Interface) LinkState() bool {
	nic.Lock()
	defer nic.Unlock()

	return nic.linkState
}

// LinkSpeed returns the reconciled link speed.
func (nic *Interface) LinkSpeed() Speed {
	nic.Lock()
	defer nic.Unlock()

	return nic.linkSpeed
}

// DuplexMode returns the reconciled duplex mode.
func (nic *Interface) DuplexMode() Duplex {
	nic.Lock()
	defer nic.Unlock()

	return nic.duplex
}

// SetLink reconciles the interface link parameters, it is called by PHY and
// switch drivers from deferred context.
func (nic *Interface) SetLink(up bool, speed Speed, duplex Duplex) {
	nic.Lock()

	nic.linkState = up
	nic.linkSpeed = speed
	nic.duplex = duplex

	nic.Unlock()
}

// UpdateMACConfig aligns the MAC speed and duplex configuration with the
// current reconciled link parameters, on controllers supporting it.
func (nic *Interface) UpdateMACConfig() error {
	u, ok := nic.Driver.(MACConfigUpdater)

	if !ok {
		return nil
	}

	return u.UpdateMACConfig(nic.LinkSpeed(), nic.DuplexMode())
}

// NotifyLinkChange reports a link state transition to the stack.
func (nic *Interface) NotifyLinkChange() {
	if nic.Stack != nil {
		nic.Stack.NotifyLinkChange(nic)
	}

	nic.netEvent.Set()
}

// PadFrame pads an outbound frame to the minimum Ethernet length.
func PadFrame(f *buffer.Frame) {
	f.PadTo(MinFrameSize)
}

// Send transmits a frame through the interface driver, padding it to the
// minimum length and, on virtual interfaces over a tagging switch,
// appending the egress port tag.
//
// It returns ErrBusy while the link is down or no transmit slot is
// available, the caller re-drives the transfer after the tx-ready event.
func (nic *Interface) Send(f *buffer.Frame) (err error) {
	if f == nil {
		return ErrInvalidParameter
	}

	phys := nic
	info := &PacketInfo{}

	if nic.Port != 0 {
		phys = nic.parent
		info.Port = nic.Port
	}

	if !phys.LinkState() {
		return ErrBusy
	}

	if phys.Switch != nil && phys.Driver.Capabilities().PortTagging {
		if err = phys.Switch.Tag(f, info); err != nil {
			return
		}
	} else {
		PadFrame(f)
	}

	return phys.Driver.Send(f, info)
}

// Deliver hands an inbound frame to the stack, stripping the source port
// tag and steering the frame to the matching virtual interface when the
// physical interface fronts a tagging switch.
//
// Drivers call it from their event handler for every validated frame,
// delivery follows ring order.
func (nic *Interface) Deliver(frame []byte, info *PacketInfo) error {
	target := nic

	if nic.Switch != nil && nic.Driver.Capabilities().PortTagging {
		payload, err := nic.Switch.Untag(frame, info)

		if err != nil {
			return err
		}

		frame = payload

		if vp := nic.VirtualPort(info.Port); vp != nil {
			target = vp
		}
	}

	if target.Stack != nil {
		target.Stack.ProcessPacket(target, frame, info)
	}

	return nil
}

// AddVirtualPort creates a virtual interface bound to a switch port of the
// physical interface, carrying its own link state, speed and duplex mode.
func (nic *Interface) AddVirtualPort(port int) (vp *Interface, err error) {
	if nic.Switch == nil || port < 1 || port > nic.Switch.Ports() {
		return nil, ErrInvalidParameter
	}

	if nic.VirtualPort(port) != nil {
		return nil, ErrInvalidState
	}

	vp = &Interface{
		MAC:      nic.MAC,
		MTU:      nic.MTU,
		Driver:   nic.Driver,
		Stack:    nic.Stack,
		Port:     port,
		parent:   nic,
		TxReady:  nic.TxReady,
		netEvent: nic.netEvent,
	}

	nic.Lock()
	nic.ports = append(nic.ports, vp)
	nic.Unlock()

	return
}

// VirtualPort returns the virtual interface bound to a switch port, nil
// when none was created.
func (nic *Interface) VirtualPort(port int) *Interface {
	nic.Lock()
	defer nic.Unlock()

	for _, vp := range nic.ports {
		if vp.Port == port {
			return vp
		}
	}

	return nil
}
