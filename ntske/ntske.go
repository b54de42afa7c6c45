// Network Time Security Key Establishment client
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ntske implements an NTS Key Establishment client (RFC 8915),
// negotiating the AEAD algorithm and collecting the cookies protecting
// subsequent NTP exchanges.
package ntske

import (
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/usbarmory/netif"
)

// Record types (RFC 8915, Section 4)
const (
	RecordEndOfMessage  = 0
	RecordNextProtocol  = 1
	RecordError         = 2
	RecordWarning       = 3
	RecordAEADAlgorithm = 4
	RecordCookie        = 5
	RecordServer        = 6
	RecordPort          = 7
)

// Negotiated identifiers
const (
	// ProtocolNTPv4 is the NTPv4 next protocol identifier.
	ProtocolNTPv4 = 0
	// AEADAESSIVCMAC256 is the mandatory to implement AEAD algorithm.
	AEADAESSIVCMAC256 = 15
)

// Protocol constants
const (
	// ALPN is the TLS application protocol identifier.
	ALPN = "ntske/1"

	// DefaultPort is the NTS-KE TCP port.
	DefaultPort = "4460"

	// DefaultNTPPort is the NTP port used when the server does not
	// negotiate one.
	DefaultNTPPort = 123

	criticalBit = 0x8000

	// DefaultTimeout bounds the whole exchange.
	DefaultTimeout = 15 * time.Second
)

// Record represents an NTS-KE record.
type Record struct {
	Type     uint16
	Critical bool
	Body     []byte
}

// WriteRecord emits a record in wire format, a 4 byte big-endian header
// followed by the body.
func WriteRecord(w io.Writer, r Record) (err error) {
	t := r.Type & ^uint16(criticalBit)

	if r.Critical {
		t |= criticalBit
	}

	hdr := make([]byte, 4)
	binary.BigEndian.PutUint16(hdr[0:], t)
	binary.BigEndian.PutUint16(hdr[2:], uint16(len(r.Body)))

	if _, err = w.Write(hdr); err != nil {
		return
	}

	// an empty body emits nothing, zero-length writes block on
	// synchronous transports until a read the peer never issues
	if len(r.Body) == 0 {
		return
	}

	_, err = w.Write(r.Body)

	return
}

// ReadRecord parses one wire format record.
func ReadRecord(r io.Reader) (rec Record, err error) {
	hdr := make([]byte, 4)

	if _, err = io.ReadFull(r, hdr); err != nil {
		return rec, errors.Wrap(netif.ErrInvalidPacket, "short record header")
	}

	t := binary.BigEndian.Uint16(hdr[0:])

	rec.Type = t & ^uint16(criticalBit)
	rec.Critical = t&criticalBit != 0
	rec.Body = make([]byte, binary.BigEndian.Uint16(hdr[2:]))

	if _, err = io.ReadFull(r, rec.Body); err != nil {
		return rec, errors.Wrap(netif.ErrInvalidPacket, "short record body")
	}

	return
}

// Results holds the outcome of a key establishment exchange.
type Results struct {
	sync.Mutex

	// AEAD is the negotiated algorithm identifier.
	AEAD uint16
	// Server is the negotiated NTP server, defaulting to the key
	// establishment host.
	Server string
	// Port is the negotiated NTP port.
	Port uint16

	cookies [][]byte
}

// Cookies returns the number of remaining cookies.
func (r *Results) Cookies() int {
	r.Lock()
	defer r.Unlock()

	return len(r.cookies)
}

// NextCookie consumes one cookie, each NTP request spends exactly one.
func (r *Results) NextCookie() ([]byte, error) {
	r.Lock()
	defer r.Unlock()

	if len(r.cookies) == 0 {
		return nil, netif.ErrOutOfResources
	}

	c := r.cookies[0]
	r.cookies = r.cookies[1:]

	return c, nil
}

// KeyExchange represents an NTS-KE client instance, a mutex is held
// across each exchange making the public surface re-entrant safe.
type KeyExchange struct {
	sync.Mutex

	// Address is the server address, a missing port defaults to 4460.
	Address string
	// Config optionally overrides the TLS configuration, the ALPN and
	// minimum TLS 1.3 version are always enforced.
	Config *tls.Config
	// Timeout bounds the whole exchange, DefaultTimeout when zero.
	Timeout time.Duration

	// DialTLS overrides the transport, for testing.
	DialTLS func(address string) (net.Conn, error)
}

func (ke *KeyExchange) dial() (net.Conn, string, error) {
	address := ke.Address
	host := address

	if h, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, DefaultPort)
	} else {
		host = h
	}

	if ke.DialTLS != nil {
		conn, err := ke.DialTLS(address)
		return conn, host, err
	}

	cfg := &tls.Config{}

	if ke.Config != nil {
		cfg = ke.Config.Clone()
	}

	cfg.MinVersion = tls.VersionTLS13
	cfg.NextProtos = []string{ALPN}

	conn, err := tls.Dial("tcp", address, cfg)

	return conn, host, err
}

// Exchange performs the key establishment: the NTPv4 next protocol and
// AEAD algorithm are requested, then cookies and the optional server and
// port negotiations collected until End-of-Message.
func (ke *KeyExchange) Exchange() (res *Results, err error) {
	ke.Lock()
	defer ke.Unlock()

	conn, host, err := ke.dial()

	if err != nil {
		return nil, errors.Wrap(err, "ntske dial")
	}
	defer conn.Close()

	timeout := ke.Timeout

	if timeout == 0 {
		timeout = DefaultTimeout
	}

	conn.SetDeadline(time.Now().Add(timeout))

	req := []Record{
		{Type: RecordNextProtocol, Critical: true, Body: []byte{0, ProtocolNTPv4}},
		{Type: RecordAEADAlgorithm, Critical: true, Body: []byte{0, AEADAESSIVCMAC256}},
		{Type: RecordEndOfMessage, Critical: true},
	}

	for _, r := range req {
		if err = WriteRecord(conn, r); err != nil {
			return nil, errors.Wrap(err, "ntske send")
		}
	}

	res = &Results{
		Server: host,
		Port:   DefaultNTPPort,
	}

	proto := false

	for {
		rec, err := ReadRecord(conn)

		if err != nil {
			if e, ok := errors.Cause(err).(net.Error); ok && e.Timeout() {
				return nil, netif.ErrTimeout
			}

			return nil, err
		}

		switch rec.Type {
		case RecordEndOfMessage:
			if !proto || res.AEAD != AEADAESSIVCMAC256 || len(res.cookies) == 0 {
				return nil, errors.Wrap(netif.ErrInvalidPacket, "incomplete negotiation")
			}

			return res, nil
		case RecordNextProtocol:
			for i := 0; i+1 < len(rec.Body); i += 2 {
				if binary.BigEndian.Uint16(rec.Body[i:]) == ProtocolNTPv4 {
					proto = true
				}
			}

			if !proto {
				return nil, errors.Wrap(netif.ErrInvalidPacket, "next protocol not granted")
			}
		case RecordAEADAlgorithm:
			if len(rec.Body) != 2 {
				return nil, errors.Wrap(netif.ErrInvalidPacket, "malformed AEAD record")
			}

			res.AEAD = binary.BigEndian.Uint16(rec.Body)
		case RecordCookie:
			res.cookies = append(res.cookies, rec.Body)
		case RecordServer:
			res.Server = string(rec.Body)
		case RecordPort:
			if len(rec.Body) != 2 {
				return nil, errors.Wrap(netif.ErrInvalidPacket, "malformed port record")
			}

			res.Port = binary.BigEndian.Uint16(rec.Body)
		case RecordError:
			return nil, errors.Wrap(netif.ErrRejected, "server error record")
		case RecordWarning:
			// tolerated
		default:
			if rec.Critical {
				return nil, errors.Wrap(netif.ErrInvalidPacket, "unknown critical record")
			}
		}
	}
}
