// BSD syslog client
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package syslog implements an RFC 3164 syslog client, it doubles as the
// debug logging sink for NIC drivers on deployments with a collector.
package syslog

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Severity represents a syslog severity level.
type Severity int

// Severity levels
const (
	Emergency Severity = iota
	Alert
	Critical
	Error
	Warning
	Notice
	Info
	Debug
)

// Facility represents a syslog facility.
type Facility int

// Facilities
const (
	Kern Facility = iota
	User
	Mail
	Daemon
	Auth
	Syslog
	LPR
	News
)

// Local facilities
const (
	Local0 Facility = 16 + iota
	Local1
	Local2
	Local3
	Local4
	Local5
	Local6
	Local7
)

// DefaultPort is the syslog UDP port.
const DefaultPort = "514"

// Priority computes the priority value of a facility and severity pair.
func Priority(f Facility, s Severity) int {
	return int(f)*8 + int(s)
}

// Format renders a message in RFC 3164 wire format, the day of month is
// space padded.
func Format(pri int, t time.Time, hostname string, msg string) string {
	return fmt.Sprintf("<%d>%s %s %s", pri, t.Format("Jan _2 15:04:05"), hostname, msg)
}

// Client represents a syslog client instance, a mutex is held across each
// transmission making the public surface re-entrant safe.
type Client struct {
	sync.Mutex

	// Address is the collector address, a missing port defaults to 514.
	Address string
	// Hostname tags emitted messages.
	Hostname string
	// Facility tags emitted messages, the default is Kern.
	Facility Facility

	// Dial overrides the transport, for testing.
	Dial func(address string) (net.Conn, error)
	// Now overrides the clock source, for testing.
	Now func() time.Time

	conn io.WriteCloser
}

func (c *Client) dial() (err error) {
	if c.conn != nil {
		return
	}

	address := c.Address

	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, DefaultPort)
	}

	if c.Dial != nil {
		c.conn, err = c.Dial(address)
		return
	}

	c.conn, err = net.Dial("udp", address)

	return
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}

	return time.Now()
}

// Send emits one message towards the collector.
func (c *Client) Send(s Severity, msg string) (err error) {
	c.Lock()
	defer c.Unlock()

	if err = c.dial(); err != nil {
		return errors.Wrap(err, "syslog dial")
	}

	out := Format(Priority(c.Facility, s), c.now(), c.Hostname, msg)

	if _, err = c.conn.Write([]byte(out)); err != nil {
		return errors.Wrap(err, "syslog send")
	}

	return
}

// Close releases the collector transport.
func (c *Client) Close() (err error) {
	c.Lock()
	defer c.Unlock()

	if c.conn == nil {
		return
	}

	err = c.conn.Close()
	c.conn = nil

	return
}
