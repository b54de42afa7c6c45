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
	"github.com/usbarmory/netif/internal/reg"
)

// UpdateFilter rebuilds the hardware receive filters from the interface
// filter tables.
//
// The FEC hash index is the upper 6 bits of the filter CRC without final
// inversion, the group registers hold the multicast hash and the station
// address is the only perfect match slot.
func (hw *FEC) UpdateFilter() error {
	hw.Lock()
	defer hw.Unlock()

	plan := hw.nic.Filter(0, false)

	if plan.Promiscuous {
		reg.Set(hw.rcr, RCR_PROM)
		return nil
	}

	reg.Clear(hw.rcr, RCR_PROM)

	// perfect match slot 0
	hw.setMAC()

	if plan.AllMulticast {
		reg.Write(hw.gaur, 0xffffffff)
		reg.Write(hw.galr, 0xffffffff)
	} else {
		reg.Write(hw.gaur, uint32(plan.Hash>>32))
		reg.Write(hw.galr, uint32(plan.Hash))
	}

	// no supplemental perfect match slots, unicast entries beyond the
	// station address are not matched
	reg.Write(hw.iaur, 0)
	reg.Write(hw.ialr, 0)

	return nil
}
