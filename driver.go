// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package netif

import (
	"github.com/usbarmory/netif/buffer"
)

// Capabilities advertises optional controller offloads.
type Capabilities struct {
	// IPv4Checksum indicates that the controller computes and verifies
	// the IPv4 header checksum.
	IPv4Checksum bool
	// TCPChecksum indicates that the controller computes and verifies
	// the TCP checksum.
	TCPChecksum bool
	// UDPChecksum indicates that the controller computes and verifies
	// the UDP checksum.
	UDPChecksum bool
	// PortTagging indicates that frames carry a trailing destination or
	// source port tag.
	PortTagging bool
}

// PacketInfo is the ancillary record exchanged with the stack for each
// frame.
type PacketInfo struct {
	// Port is the switch port the frame was received from, or must
	// egress to, 1-origin. It is zero when port tagging does not apply.
	Port int
}

// Driver is the contract every NIC controller family satisfies.
//
// Init, Tick, EventHandler, Send and UpdateFilter run in deferred context,
// EnableIRQ and DisableIRQ are idempotent and may run in any context.
type Driver interface {
	// Init soft-resets the controller, programs the station address,
	// initializes descriptor rings or FIFO pointers and leaves
	// transmission and reception enabled, asserting the interface
	// tx-ready and net-event signals.
	Init() error
	// Tick performs periodic housekeeping, it acts as the link poller
	// when no PHY interrupt is wired.
	Tick()
	// EnableIRQ arms the controller interrupt.
	EnableIRQ()
	// DisableIRQ masks the controller interrupt.
	DisableIRQ()
	// EventHandler drains all pending receive packets, delivering each
	// one to the stack, and re-arms masked interrupt sources. It must
	// not suspend indefinitely.
	EventHandler() error
	// Send copies the logical frame into the next available transmit
	// slot and hands it to the controller, returning immediately.
	//
	// It returns ErrInvalidLength when the frame exceeds the slot size
	// and ErrBusy when no slot is available, in which case the caller
	// re-drives the transfer after the tx-ready event.
	Send(f *buffer.Frame, info *PacketInfo) error
	// UpdateFilter rebuilds the hardware receive filters from the
	// interface filter tables.
	UpdateFilter() error
	// Capabilities returns the controller offloads.
	Capabilities() Capabilities
}

// Binder is implemented by drivers constructed before their owning
// interface is known, Interface.Init binds them before initialization.
type Binder interface {
	Bind(nic *Interface)
}

// MACConfigUpdater aligns the MAC speed and duplex configuration with the
// reconciled link parameters, it is implemented by controllers whose MAC
// requires explicit alignment with the PHY negotiated mode.
type MACConfigUpdater interface {
	UpdateMACConfig(speed Speed, duplex Duplex) error
}

// PHYRegisterAccess is implemented by controllers providing MDIO access to
// the management registers of an attached PHY.
type PHYRegisterAccess interface {
	ReadPHYRegister(pa int, ra int) (uint16, error)
	WritePHYRegister(pa int, ra int, data uint16) error
}

// PHYDriver is the contract PHY transceiver drivers satisfy.
type PHYDriver interface {
	Init() error
	Tick()
	EnableIRQ()
	DisableIRQ()
	EventHandler() error
}

// Tagger adds and strips trailing port tags on frames crossing a
// multi-port switch operating in tail-tag mode.
type Tagger interface {
	// Tag pads the frame to the minimum length and appends the egress
	// port tag.
	Tag(f *buffer.Frame, info *PacketInfo) error
	// Untag strips the trailing tag, decoding the source port into the
	// ancillary record.
	Untag(frame []byte, info *PacketInfo) ([]byte, error)
}

// SwitchDriver is the contract integrated switch drivers satisfy, the link
// manager treats it like a PHY fronting multiple ports.
type SwitchDriver interface {
	PHYDriver
	Tagger

	// Ports returns the number of external switch ports.
	Ports() int
}

// Stack is the upward contract towards the IP stack.
type Stack interface {
	// ProcessPacket delivers an inbound Ethernet frame.
	ProcessPacket(nic *Interface, frame []byte, info *PacketInfo)
	// NotifyLinkChange reports that the interface link state, speed or
	// duplex mode changed.
	NotifyLinkChange(nic *Interface)
}
