// MAC receive filter management
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package netif

import (
	"bytes"
	"net"

	"github.com/usbarmory/netif/bits"
)

// Filter table bounds
const (
	// MACFilterSize bounds the unicast filter table.
	MACFilterSize = 12
	// MulticastFilterSize bounds the multicast filter table.
	MulticastFilterSize = 12
)

// FilterEntry represents a reference counted receive filter address, an
// entry is active while its reference count is greater than zero.
type FilterEntry struct {
	Addr net.HardwareAddr
	refs int
}

type filterTable struct {
	entries []*FilterEntry
	size    int
}

func (t *filterTable) add(addr net.HardwareAddr) error {
	for _, e := range t.entries {
		if bytes.Equal(e.Addr, addr) {
			e.refs += 1
			return nil
		}
	}

	if len(t.entries) >= t.size {
		return ErrOutOfResources
	}

	t.entries = append(t.entries, &FilterEntry{
		Addr: append(net.HardwareAddr{}, addr...),
		refs: 1,
	})

	return nil
}

func (t *filterTable) remove(addr net.HardwareAddr) error {
	for i, e := range t.entries {
		if !bytes.Equal(e.Addr, addr) {
			continue
		}

		if e.refs -= 1; e.refs == 0 {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
		}

		return nil
	}

	return ErrInvalidParameter
}

// AddMACFilter joins an additional unicast or multicast receive address,
// reference counting repeated joins, and rebuilds the hardware filters.
func (nic *Interface) AddMACFilter(addr net.HardwareAddr) (err error) {
	if len(addr) != 6 {
		return ErrInvalidParameter
	}

	nic.Lock()

	if addr[0]&1 != 0 {
		nic.multicast.size = MulticastFilterSize
		err = nic.multicast.add(addr)
	} else {
		nic.unicast.size = MACFilterSize
		err = nic.unicast.add(addr)
	}

	nic.Unlock()

	if err != nil {
		return
	}

	return nic.Driver.UpdateFilter()
}

// RemoveMACFilter leaves a receive address previously joined with
// AddMACFilter, the entry is destroyed when the last reference is released
// and the hardware filters are rebuilt on every successful leave.
func (nic *Interface) RemoveMACFilter(addr net.HardwareAddr) (err error) {
	if len(addr) != 6 {
		return ErrInvalidParameter
	}

	nic.Lock()

	if addr[0]&1 != 0 {
		err = nic.multicast.remove(addr)
	} else {
		err = nic.unicast.remove(addr)
	}

	nic.Unlock()

	if err != nil {
		return
	}

	return nic.Driver.UpdateFilter()
}

// SetPromiscuous controls reception of all frames regardless of address
// filters.
func (nic *Interface) SetPromiscuous(on bool) error {
	nic.Lock()
	nic.promiscuous = on
	nic.Unlock()

	return nic.Driver.UpdateFilter()
}

// Promiscuous returns whether all frames are accepted.
func (nic *Interface) Promiscuous() bool {
	nic.Lock()
	defer nic.Unlock()

	return nic.promiscuous
}

// SetAllMulticast controls reception of all multicast frames regardless of
// the multicast filter table.
func (nic *Interface) SetAllMulticast(on bool) error {
	nic.Lock()
	nic.allMulticast = on
	nic.Unlock()

	return nic.Driver.UpdateFilter()
}

// AllMulticast returns whether all multicast frames are accepted.
func (nic *Interface) AllMulticast() bool {
	nic.Lock()
	defer nic.Unlock()

	return nic.allMulticast
}

// CRC32 computes the CRC over a hardware address as MAC receive filters do,
// with most significant bit first ordering, polynomial 0x04C11DB7 and
// initial value 0xFFFFFFFF.
//
// Controller families differ on the final inversion, the invert argument
// selects the family behavior and is never normalized away.
func CRC32(addr net.HardwareAddr, invert bool) (crc uint32) {
	crc = 0xffffffff

	for _, b := range addr {
		crc ^= uint32(b) << 24

		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04c11db7
			} else {
				crc <<= 1
			}
		}
	}

	if invert {
		crc = ^crc
	}

	return
}

// HashIndex returns the 64-bit hash table index of a hardware address, the
// upper 6 bits of its filter CRC.
func HashIndex(addr net.HardwareAddr, invert bool) int {
	return int(CRC32(addr, invert)>>26) & 0x3f
}

// FilterPlan materializes the interface filter tables into the programming
// model shared by hash-and-perfect-match controller families.
type FilterPlan struct {
	// Promiscuous disables all hardware filtering, no other field is
	// meaningful when set.
	Promiscuous bool
	// AllMulticast passes all multicast frames regardless of Hash.
	AllMulticast bool
	// Perfect holds the perfect match slot assignments, slot 0 always
	// holds the station address.
	Perfect []net.HardwareAddr
	// Hash is the 64-bit multicast hash table.
	Hash uint64
}

// Filter computes the hardware filter programming for a controller family
// with the given number of supplemental perfect match slots and CRC
// inversion behavior.
//
// When more unicast addresses are active than available slots the earliest
// added entries win and the overflow falls off the perfect match filter, a
// documented lossy policy bounding hardware state.
func (nic *Interface) Filter(slots int, invert bool) (plan *FilterPlan) {
	nic.Lock()
	defer nic.Unlock()

	plan = &FilterPlan{
		Promiscuous:  nic.promiscuous,
		AllMulticast: nic.allMulticast,
	}

	if plan.Promiscuous {
		return
	}

	plan.Perfect = []net.HardwareAddr{nic.MAC}

	for _, e := range nic.unicast.entries {
		if len(plan.Perfect) > slots {
			break
		}

		plan.Perfect = append(plan.Perfect, e.Addr)
	}

	for _, e := range nic.multicast.entries {
		bits.Set64(&plan.Hash, HashIndex(e.Addr, invert))
	}

	return
}
