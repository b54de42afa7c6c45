// NXP FEC-style 10/100 Ethernet MAC driver
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package fec

import (
	"github.com/usbarmory/netif"
	"github.com/usbarmory/netif/bits"
	"github.com/usbarmory/netif/internal/reg"
	"github.com/usbarmory/netif/mii"
)

func mdio(st, op, pa, ra, ta uint32, data uint16) (frame uint32) {
	bits.SetN(&frame, MMFR_ST, 0b11, st)
	bits.SetN(&frame, MMFR_OP, 0b11, op)
	bits.SetN(&frame, MMFR_PA, 0x1f, pa)
	bits.SetN(&frame, MMFR_RA, 0x1f, ra)
	bits.SetN(&frame, MMFR_TA, 0b11, ta)
	bits.SetN(&frame, MMFR_DATA, 0xffff, uint32(data))

	return
}

// MDIO22 transmits an MII frame (IEEE 802.3-2008 Clause 22) to a connected
// Ethernet PHY, the transacted frame is returned.
func (hw *FEC) MDIO22(op, pa, ra int, data uint16) (frame uint32, err error) {
	reg.Set(hw.eir, IRQ_MII)
	defer reg.Set(hw.eir, IRQ_MII)

	frame = mdio(mii.MDIO_ST, uint32(op), uint32(pa), uint32(ra), mii.MDIO_TA, data)
	reg.Write(hw.mmfr, frame)

	if !reg.WaitFor(mdioTimeout, hw.eir, IRQ_MII, 1, 1) {
		return 0, netif.ErrTimeout
	}

	return reg.Read(hw.mmfr), nil
}

// ReadPHYRegister reads a standard management register of a connected
// Ethernet PHY (IEEE 802.3-2008 Clause 22).
func (hw *FEC) ReadPHYRegister(pa int, ra int) (data uint16, err error) {
	frame, err := hw.MDIO22(mii.MDIO_OP_READ, pa, ra, 0)

	return uint16(frame), err
}

// WritePHYRegister writes a standard management register of a connected
// Ethernet PHY (IEEE 802.3-2008 Clause 22).
func (hw *FEC) WritePHYRegister(pa int, ra int, data uint16) (err error) {
	_, err = hw.MDIO22(mii.MDIO_OP_WRITE, pa, ra, data)

	return
}
