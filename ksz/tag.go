// Tail-tagging Ethernet switch driver
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ksz

import (
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/usbarmory/netif"
	"github.com/usbarmory/netif/buffer"
)

// Tag pads the frame to the minimum Ethernet length, so the tag never
// lands inside the padding, then appends the egress port tag between
// payload and the frame check sequence appended by the MAC.
//
// A zero port leaves the egress decision to the switch lookup engine.
func (sw *Switch) Tag(f *buffer.Frame, info *netif.PacketInfo) error {
	if f == nil || info == nil || info.Port < 0 || info.Port > sw.Count {
		return netif.ErrInvalidParameter
	}

	netif.PadFrame(f)
	f.Append([]byte{byte(info.Port)})

	return nil
}

// Untag strips the trailing tag of an ingress frame, whose frame check
// sequence the MAC already removed, decoding the source port into the
// ancillary record.
func (sw *Switch) Untag(frame []byte, info *netif.PacketInfo) ([]byte, error) {
	if len(frame) < header.EthernetMinimumSize+1 {
		return nil, netif.ErrInvalidLength
	}

	port := int(frame[len(frame)-1])

	if port < 1 || port > sw.Count {
		return nil, netif.ErrInvalidPacket
	}

	info.Port = port

	return frame[:len(frame)-1], nil
}
