// Simple Network Time Protocol client
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sntp

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/usbarmory/netif"
)

// NTP packet format (RFC 4330)
const (
	// PacketSize is the NTP header length.
	PacketSize = 48

	// VersionNTP is the protocol version in use.
	VersionNTP = 3

	// association modes
	ModeClient = 3
	ModeServer = 4
)

// unix epoch offset from the NTP era (seconds between 1900 and 1970)
const ntpEpochOffset = 2208988800

// Timestamp represents an NTP timestamp as seconds since 1900 and a
// binary fraction of a second.
type Timestamp struct {
	Seconds  uint32
	Fraction uint32
}

// FromTime converts a wall clock time to an NTP timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp{
		Seconds:  uint32(t.Unix() + ntpEpochOffset),
		Fraction: uint32(uint64(t.Nanosecond()) << 32 / 1000000000),
	}
}

// Time converts the NTP timestamp to a wall clock time.
func (ts Timestamp) Time() time.Time {
	n := int64(uint64(ts.Fraction) * 1000000000 >> 32)

	return time.Unix(int64(ts.Seconds)-ntpEpochOffset, n)
}

// Header represents an NTP packet header, all multibyte fields are
// big-endian on the wire.
type Header struct {
	Leap      int
	Version   int
	Mode      int
	Stratum   byte
	Poll      int8
	Precision int8

	RootDelay      uint32
	RootDispersion uint32
	ReferenceID    uint32

	Reference Timestamp
	Originate Timestamp
	Receive   Timestamp
	Transmit  Timestamp
}

func putTimestamp(p []byte, ts Timestamp) {
	binary.BigEndian.PutUint32(p[0:], ts.Seconds)
	binary.BigEndian.PutUint32(p[4:], ts.Fraction)
}

func getTimestamp(p []byte) Timestamp {
	return Timestamp{
		Seconds:  binary.BigEndian.Uint32(p[0:]),
		Fraction: binary.BigEndian.Uint32(p[4:]),
	}
}

// MarshalBinary packs the header in wire format.
func (h *Header) MarshalBinary() ([]byte, error) {
	p := make([]byte, PacketSize)

	p[0] = byte(h.Leap&0b11)<<6 | byte(h.Version&0b111)<<3 | byte(h.Mode&0b111)
	p[1] = h.Stratum
	p[2] = byte(h.Poll)
	p[3] = byte(h.Precision)

	binary.BigEndian.PutUint32(p[4:], h.RootDelay)
	binary.BigEndian.PutUint32(p[8:], h.RootDispersion)
	binary.BigEndian.PutUint32(p[12:], h.ReferenceID)

	putTimestamp(p[16:], h.Reference)
	putTimestamp(p[24:], h.Originate)
	putTimestamp(p[32:], h.Receive)
	putTimestamp(p[40:], h.Transmit)

	return p, nil
}

// UnmarshalBinary parses a wire format header.
func (h *Header) UnmarshalBinary(p []byte) error {
	if len(p) < PacketSize {
		return errors.Wrap(netif.ErrInvalidPacket, "short NTP packet")
	}

	h.Leap = int(p[0] >> 6)
	h.Version = int(p[0]>>3) & 0b111
	h.Mode = int(p[0]) & 0b111
	h.Stratum = p[1]
	h.Poll = int8(p[2])
	h.Precision = int8(p[3])

	h.RootDelay = binary.BigEndian.Uint32(p[4:])
	h.RootDispersion = binary.BigEndian.Uint32(p[8:])
	h.ReferenceID = binary.BigEndian.Uint32(p[12:])

	h.Reference = getTimestamp(p[16:])
	h.Originate = getTimestamp(p[24:])
	h.Receive = getTimestamp(p[32:])
	h.Transmit = getTimestamp(p[40:])

	return nil
}

// KissError reports a Kiss-of-Death response, the client must stop
// contacting the originating server.
type KissError struct {
	// Code is the 4 ASCII character kiss code from the reference
	// identifier field.
	Code string
}

// Error implements the error interface.
func (e *KissError) Error() string {
	return "kiss of death: " + e.Code
}

// Unwrap yields ErrRejected.
func (e *KissError) Unwrap() error {
	return netif.ErrRejected
}

// validate checks a server response against the matching request.
func validate(req *Header, resp *Header) error {
	if resp.Stratum == 0 {
		var code [4]byte
		binary.BigEndian.PutUint32(code[:], resp.ReferenceID)

		return &KissError{Code: string(code[:])}
	}

	if resp.Mode != ModeServer {
		return errors.Wrap(netif.ErrInvalidPacket, "unexpected mode")
	}

	// the originate timestamp must echo the request transmit timestamp
	if resp.Originate != req.Transmit {
		return errors.Wrap(netif.ErrInvalidPacket, "originate timestamp mismatch")
	}

	return nil
}
