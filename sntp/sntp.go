// Simple Network Time Protocol client
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sntp implements a unicast SNTP client (RFC 4330) with
// retransmission under exponentially doubling timeouts and Kiss-of-Death
// handling.
package sntp

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/usbarmory/netif"
)

// Client defaults
const (
	// DefaultPort is the NTP UDP port.
	DefaultPort = "123"

	// DefaultTimeout bounds the whole exchange.
	DefaultTimeout = 15 * time.Second

	// retransmission timeouts double from the initial value up to the
	// cap
	initialRTO = 1 * time.Second
	maxRTO     = 5 * time.Second
)

// Client represents an SNTP client instance, a mutex is held across each
// request/response cycle making the public surface re-entrant safe.
type Client struct {
	sync.Mutex

	// Address is the server address, a missing port defaults to 123.
	Address string
	// Timeout bounds the whole exchange, DefaultTimeout when zero.
	Timeout time.Duration

	// Dial overrides the transport, for testing.
	Dial func(address string) (net.Conn, error)
	// Now overrides the clock source, for testing.
	Now func() time.Time
}

func (c *Client) dial() (net.Conn, error) {
	address := c.Address

	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, DefaultPort)
	}

	if c.Dial != nil {
		return c.Dial(address)
	}

	return net.Dial("udp", address)
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}

	return time.Now()
}

// QueryTimestamp performs an SNTP exchange, returning the server transmit
// timestamp.
//
// Responses failing validation are ignored while the deadline allows
// retransmission, a Kiss-of-Death response aborts the exchange with
// ErrRejected and the server must not be contacted again.
func (c *Client) QueryTimestamp() (ts Timestamp, err error) {
	c.Lock()
	defer c.Unlock()

	conn, err := c.dial()

	if err != nil {
		return ts, errors.Wrap(err, "sntp dial")
	}
	defer conn.Close()

	deadline := c.now().Add(c.timeout())
	rto := initialRTO

	for {
		now := c.now()

		if !now.Before(deadline) {
			return ts, netif.ErrTimeout
		}

		req := &Header{
			Version:  VersionNTP,
			Mode:     ModeClient,
			Transmit: FromTime(now),
		}

		pkt, _ := req.MarshalBinary()

		if _, err = conn.Write(pkt); err != nil {
			return ts, errors.Wrap(err, "sntp send")
		}

		wait := now.Add(rto)

		if wait.After(deadline) {
			wait = deadline
		}

		conn.SetReadDeadline(wait)

		resp := make([]byte, PacketSize)
		n, err := conn.Read(resp)

		if err != nil {
			if e, ok := err.(net.Error); ok && e.Timeout() {
				// exponential backoff
				if rto *= 2; rto > maxRTO {
					rto = maxRTO
				}

				continue
			}

			return ts, errors.Wrap(err, "sntp receive")
		}

		h := &Header{}

		if err = h.UnmarshalBinary(resp[:n]); err != nil {
			continue
		}

		if err = validate(req, h); err != nil {
			if errors.Is(err, netif.ErrRejected) {
				return ts, err
			}

			// ignore spoofed or stale responses
			continue
		}

		return h.Transmit, nil
	}
}

// Query performs an SNTP exchange, returning the server time.
func (c *Client) Query() (t time.Time, err error) {
	ts, err := c.QueryTimestamp()

	if err != nil {
		return
	}

	return ts.Time(), nil
}

func (c *Client) timeout() time.Duration {
	if c.Timeout != 0 {
		return c.Timeout
	}

	return DefaultTimeout
}
