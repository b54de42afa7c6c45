// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package syslog

import (
	"testing"
	"time"
)

type sink struct {
	msgs   []string
	closed bool
}

func (s *sink) Write(p []byte) (int, error) {
	s.msgs = append(s.msgs, string(p))
	return len(p), nil
}

func (s *sink) Close() error {
	s.closed = true
	return nil
}

func TestPriority(t *testing.T) {
	for _, tt := range []struct {
		f    Facility
		s    Severity
		want int
	}{
		{Kern, Emergency, 0},
		{User, Notice, 13},
		{Local0, Info, 134},
		{Local7, Debug, 191},
	} {
		if got := Priority(tt.f, tt.s); got != tt.want {
			t.Errorf("Priority(%d, %d) = %d, want %d", tt.f, tt.s, got, tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	ts := time.Date(2020, time.August, 2, 3, 4, 5, 0, time.UTC)

	// single digit days are space padded
	got := Format(134, ts, "armory", "link up")
	want := "<134>Aug  2 03:04:05 armory link up"

	if got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}

	ts = time.Date(2020, time.December, 25, 23, 59, 59, 0, time.UTC)

	got = Format(0, ts, "armory", "x")
	want = "<0>Dec 25 23:59:59 armory x"

	if got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}

func TestSend(t *testing.T) {
	s := &sink{}

	c := &Client{
		Address:  "logs.test",
		Hostname: "armory",
		Facility: Local0,
		Now: func() time.Time {
			return time.Date(2020, time.August, 2, 3, 4, 5, 0, time.UTC)
		},
	}

	// bypass the transport with a direct sink
	c.conn = s

	if err := c.Send(Info, "link up"); err != nil {
		t.Fatal(err)
	}

	if len(s.msgs) != 1 || s.msgs[0] != "<134>Aug  2 03:04:05 armory link up" {
		t.Errorf("emitted %q", s.msgs)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	if !s.closed {
		t.Error("transport not released")
	}
}
