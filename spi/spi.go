// Serial peripheral transport contracts
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package spi defines the downward contracts serial attached NIC drivers
// use to reach their controller, the platform provides the
// implementations.
package spi

// Port represents a half-duplex SPI master port with software controlled
// chip select.
type Port interface {
	Init() error
	AssertCS()
	DeassertCS()
	// Transfer shifts one byte out while shifting one byte in.
	Transfer(b byte) byte
}

// IRQLine represents an external interrupt line raised by a serial
// attached controller.
type IRQLine interface {
	Init() error
	EnableIRQ()
	DisableIRQ()
}

// Write shifts out all passed bytes, discarding the input.
func Write(p Port, buf []byte) {
	for _, b := range buf {
		p.Transfer(b)
	}
}

// Read shifts in len(buf) bytes, shifting out zeroes.
func Read(p Port, buf []byte) {
	for i := range buf {
		buf[i] = p.Transfer(0)
	}
}
