// ENC28J60-class SPI Ethernet controller driver
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package enc

import (
	"time"

	"github.com/usbarmory/netif"
	"github.com/usbarmory/netif/spi"
)

// MICMD/MISTAT bits
const (
	MICMD_MIIRD = 0
	MISTAT_BUSY = 0
)

func (hw *ENC) reset() {
	hw.Port.AssertCS()
	hw.Port.Transfer(opSRC)
	hw.Port.DeassertCS()
}

func (hw *ENC) waitClock() error {
	start := time.Now()

	for hw.readReg(ESTAT)&(1<<ESTAT_CLKRDY) == 0 {
		if time.Since(start) >= resetTimeout {
			return netif.ErrTimeout
		}
	}

	return nil
}

// selectBank re-emits the ECON1 bank select bits only when the accessed
// register crosses banks, common registers are reachable from any bank.
func (hw *ENC) selectBank(reg int) {
	if reg&addrMask >= EIE {
		return
	}

	bank := byte(reg&bankMask) >> 5

	if bank == hw.bank {
		return
	}

	hw.bank = bank

	// bit field instructions only apply to ETH registers, ECON1 is one
	hw.Port.AssertCS()
	hw.Port.Transfer(opBFC | ECON1)
	hw.Port.Transfer(1<<ECON1_BSEL1 | 1<<ECON1_BSEL0)
	hw.Port.DeassertCS()

	hw.Port.AssertCS()
	hw.Port.Transfer(opBFS | ECON1)
	hw.Port.Transfer(bank)
	hw.Port.DeassertCS()
}

func (hw *ENC) readReg(reg int) byte {
	hw.selectBank(reg)

	hw.Port.AssertCS()
	defer hw.Port.DeassertCS()

	hw.Port.Transfer(opRCR | byte(reg&addrMask))

	// MAC and MII register reads shift out a leading dummy byte
	if reg&macFlag != 0 {
		hw.Port.Transfer(0)
	}

	return hw.Port.Transfer(0)
}

func (hw *ENC) writeReg(reg int, val byte) {
	hw.selectBank(reg)

	hw.Port.AssertCS()
	defer hw.Port.DeassertCS()

	hw.Port.Transfer(opWCR | byte(reg&addrMask))
	hw.Port.Transfer(val)
}

// readReg16 reads a little-endian register pair.
func (hw *ENC) readReg16(reg int) uint16 {
	return uint16(hw.readReg(reg)) | uint16(hw.readReg(reg+1))<<8
}

// writeReg16 writes a little-endian register pair.
func (hw *ENC) writeReg16(reg int, val uint16) {
	hw.writeReg(reg, byte(val))
	hw.writeReg(reg+1, byte(val>>8))
}

// setBits sets ETH register bits with a single bit field instruction.
func (hw *ENC) setBits(reg int, mask byte) {
	hw.selectBank(reg)

	hw.Port.AssertCS()
	defer hw.Port.DeassertCS()

	hw.Port.Transfer(opBFS | byte(reg&addrMask))
	hw.Port.Transfer(mask)
}

// clearBits clears ETH register bits with a single bit field instruction.
func (hw *ENC) clearBits(reg int, mask byte) {
	hw.selectBank(reg)

	hw.Port.AssertCS()
	defer hw.Port.DeassertCS()

	hw.Port.Transfer(opBFC | byte(reg&addrMask))
	hw.Port.Transfer(mask)
}

// readBuf streams packet memory at the current read pointer.
func (hw *ENC) readBuf(p []byte) {
	hw.Port.AssertCS()
	defer hw.Port.DeassertCS()

	hw.Port.Transfer(opRBM)
	spi.Read(hw.Port, p)
}

// writeBuf streams packet memory at the current write pointer.
func (hw *ENC) writeBuf(p []byte) {
	hw.Port.AssertCS()
	defer hw.Port.DeassertCS()

	hw.Port.Transfer(opWBM)
	spi.Write(hw.Port, p)
}

func (hw *ENC) miiWait() error {
	start := time.Now()

	for hw.readReg(MISTAT)&(1<<MISTAT_BUSY) != 0 {
		if time.Since(start) >= miiTimeout {
			return netif.ErrTimeout
		}
	}

	return nil
}

// readPHY reads an integrated PHY register through the MII block.
func (hw *ENC) readPHY(reg int) (data uint16, err error) {
	hw.writeReg(MIREGADR, byte(reg))
	hw.writeReg(MICMD, 1<<MICMD_MIIRD)

	if err = hw.miiWait(); err != nil {
		return
	}

	hw.writeReg(MICMD, 0)

	return hw.readReg16(MIRDL), nil
}

// writePHY writes an integrated PHY register through the MII block.
func (hw *ENC) writePHY(reg int, data uint16) (err error) {
	hw.writeReg(MIREGADR, byte(reg))
	hw.writeReg(MIWRL, byte(data))
	hw.writeReg(MIWRH, byte(data>>8))

	return hw.miiWait()
}
