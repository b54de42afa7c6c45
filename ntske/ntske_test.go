// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ntske

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/usbarmory/netif"
)

func TestRecordCodec(t *testing.T) {
	buf := &bytes.Buffer{}

	rec := Record{
		Type:     RecordCookie,
		Critical: false,
		Body:     []byte{1, 2, 3, 4},
	}

	if err := WriteRecord(buf, rec); err != nil {
		t.Fatal(err)
	}

	// 4 byte big-endian header followed by the body
	want := []byte{0x00, 0x05, 0x00, 0x04, 1, 2, 3, 4}

	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("wire format = % x, want % x", buf.Bytes(), want)
	}

	crit := Record{
		Type:     RecordEndOfMessage,
		Critical: true,
	}

	buf.Reset()
	WriteRecord(buf, crit)

	if !bytes.Equal(buf.Bytes(), []byte{0x80, 0x00, 0x00, 0x00}) {
		t.Fatalf("critical bit not set: % x", buf.Bytes())
	}

	buf.Reset()
	WriteRecord(buf, rec)

	out, err := ReadRecord(buf)

	if err != nil {
		t.Fatal(err)
	}

	if out.Type != rec.Type || out.Critical || !bytes.Equal(out.Body, rec.Body) {
		t.Errorf("roundtrip mismatch: %+v", out)
	}
}

func TestRecordMalformed(t *testing.T) {
	// truncated body
	buf := bytes.NewReader([]byte{0x00, 0x05, 0x00, 0x10, 1, 2})

	if _, err := ReadRecord(buf); !errors.Is(err, netif.ErrInvalidPacket) {
		t.Errorf("truncated record = %v, want ErrInvalidPacket", err)
	}
}

// serve reads client records until End-of-Message, then emits the passed
// response records.
func serve(t *testing.T, conn net.Conn, resp []Record) {
	t.Helper()

	go func() {
		defer conn.Close()

		for {
			rec, err := ReadRecord(conn)

			if err != nil {
				return
			}

			if rec.Type == RecordEndOfMessage {
				break
			}
		}

		for _, r := range resp {
			if err := WriteRecord(conn, r); err != nil {
				return
			}
		}
	}()
}

func testKE(conn net.Conn) *KeyExchange {
	return &KeyExchange{
		Address: "nts.test",
		DialTLS: func(address string) (net.Conn, error) {
			return conn, nil
		},
	}
}

func cookie(n byte) []byte {
	return bytes.Repeat([]byte{n}, 16)
}

func TestExchange(t *testing.T) {
	client, server := net.Pipe()

	resp := []Record{
		{Type: RecordNextProtocol, Critical: true, Body: []byte{0x00, ProtocolNTPv4}},
		{Type: RecordAEADAlgorithm, Critical: true, Body: []byte{0x00, AEADAESSIVCMAC256}},
	}

	for i := byte(0); i < 8; i++ {
		resp = append(resp, Record{Type: RecordCookie, Body: cookie(i)})
	}

	resp = append(resp,
		Record{Type: RecordServer, Body: []byte("ntp.example.com")},
		Record{Type: RecordPort, Body: []byte{0x00, 0x7b}},
		Record{Type: RecordEndOfMessage, Critical: true},
	)

	serve(t, server, resp)

	res, err := testKE(client).Exchange()

	if err != nil {
		t.Fatal(err)
	}

	if res.AEAD != AEADAESSIVCMAC256 {
		t.Errorf("AEAD = %d, want %d", res.AEAD, AEADAESSIVCMAC256)
	}

	if res.Server != "ntp.example.com" || res.Port != 123 {
		t.Errorf("server negotiation = %s:%d", res.Server, res.Port)
	}

	if res.Cookies() != 8 {
		t.Fatalf("cookies = %d, want 8", res.Cookies())
	}

	// each request spends exactly one cookie
	for i := byte(0); i < 8; i++ {
		c, err := res.NextCookie()

		if err != nil {
			t.Fatal(err)
		}

		if !bytes.Equal(c, cookie(i)) {
			t.Errorf("cookie %d mismatch", i)
		}
	}

	if _, err = res.NextCookie(); !errors.Is(err, netif.ErrOutOfResources) {
		t.Errorf("exhausted jar = %v, want ErrOutOfResources", err)
	}
}

func TestExchangeDefaults(t *testing.T) {
	client, server := net.Pipe()

	resp := []Record{
		{Type: RecordNextProtocol, Critical: true, Body: []byte{0x00, ProtocolNTPv4}},
		{Type: RecordAEADAlgorithm, Critical: true, Body: []byte{0x00, AEADAESSIVCMAC256}},
		{Type: RecordCookie, Body: cookie(1)},
		{Type: RecordEndOfMessage, Critical: true},
	}

	serve(t, server, resp)

	res, err := testKE(client).Exchange()

	if err != nil {
		t.Fatal(err)
	}

	// without negotiation the key establishment host and default NTP
	// port apply
	if res.Server != "nts.test" || res.Port != DefaultNTPPort {
		t.Errorf("defaults = %s:%d", res.Server, res.Port)
	}
}

func TestExchangeIncomplete(t *testing.T) {
	client, server := net.Pipe()

	// no cookies granted
	resp := []Record{
		{Type: RecordNextProtocol, Critical: true, Body: []byte{0x00, ProtocolNTPv4}},
		{Type: RecordAEADAlgorithm, Critical: true, Body: []byte{0x00, AEADAESSIVCMAC256}},
		{Type: RecordEndOfMessage, Critical: true},
	}

	serve(t, server, resp)

	if _, err := testKE(client).Exchange(); !errors.Is(err, netif.ErrInvalidPacket) {
		t.Errorf("cookieless exchange = %v, want ErrInvalidPacket", err)
	}
}

func TestExchangeError(t *testing.T) {
	client, server := net.Pipe()

	resp := []Record{
		{Type: RecordError, Critical: true, Body: []byte{0x00, 0x01}},
	}

	serve(t, server, resp)

	if _, err := testKE(client).Exchange(); !errors.Is(err, netif.ErrRejected) {
		t.Errorf("error record = %v, want ErrRejected", err)
	}
}

func TestExchangeUnknownCritical(t *testing.T) {
	client, server := net.Pipe()

	resp := []Record{
		{Type: 0x1234, Critical: true, Body: []byte{0}},
	}

	serve(t, server, resp)

	if _, err := testKE(client).Exchange(); !errors.Is(err, netif.ErrInvalidPacket) {
		t.Errorf("unknown critical record = %v, want ErrInvalidPacket", err)
	}
}
