// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ksz_test

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/usbarmory/netif"
	"github.com/usbarmory/netif/buffer"
	"github.com/usbarmory/netif/ksz"
)

type fakeRegs struct {
	regs map[int]byte
}

func (r *fakeRegs) Read8(addr int) (byte, error) {
	return r.regs[addr], nil
}

func (r *fakeRegs) Write8(addr int, data byte) error {
	r.regs[addr] = data
	return nil
}

type tagDriver struct {
	sent []*buffer.Frame
}

func (d *tagDriver) Init() error         { return nil }
func (d *tagDriver) Tick()               {}
func (d *tagDriver) EnableIRQ()          {}
func (d *tagDriver) DisableIRQ()         {}
func (d *tagDriver) EventHandler() error { return nil }
func (d *tagDriver) UpdateFilter() error { return nil }

func (d *tagDriver) Send(f *buffer.Frame, info *netif.PacketInfo) error {
	d.sent = append(d.sent, f)
	return nil
}

func (d *tagDriver) Capabilities() netif.Capabilities {
	return netif.Capabilities{PortTagging: true}
}

type portStack struct {
	packets map[int][][]byte
}

func (s *portStack) ProcessPacket(nic *netif.Interface, frame []byte, info *netif.PacketInfo) {
	if s.packets == nil {
		s.packets = make(map[int][][]byte)
	}

	s.packets[nic.Port] = append(s.packets[nic.Port], append([]byte{}, frame...))
}

func (s *portStack) NotifyLinkChange(nic *netif.Interface) {}

func setup(t *testing.T) (*netif.Interface, *ksz.Switch, *fakeRegs, *tagDriver) {
	t.Helper()

	regs := &fakeRegs{regs: make(map[int]byte)}
	drv := &tagDriver{}

	sw := &ksz.Switch{
		Bus:   regs,
		Count: 2,
	}

	nic := &netif.Interface{
		MAC:    net.HardwareAddr{0, 1, 2, 3, 4, 5},
		Driver: drv,
		Switch: sw,
		Stack:  &portStack{},
	}

	if err := nic.Init(); err != nil {
		t.Fatal(err)
	}

	return nic, sw, regs, drv
}

// testFrame builds an Ethernet frame with the given payload length, gopacket
// pads frames shorter than the 60 byte minimum with zeroes.
func testFrame(t *testing.T, payload int) []byte {
	t.Helper()

	buf := gopacket.NewSerializeBuffer()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}

	p := make([]byte, payload)

	for i := range p {
		p[i] = byte(i + 1)
	}

	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(p))

	if err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

func TestInitTailTag(t *testing.T) {
	_, _, regs, _ := setup(t)

	if regs.regs[ksz.GLOBAL_CTRL1]&(1<<ksz.GC1_TAIL_TAG) == 0 {
		t.Error("tail tagging not enabled")
	}

	// the host CPU decides destination ports: learning and forwarding
	// are cleared on every external port
	for port := 1; port <= 2; port++ {
		pcr := regs.regs[0x10*port+ksz.PORT_CTRL2]

		if pcr&(1<<ksz.PCR2_FORWARD) != 0 || pcr&(1<<ksz.PCR2_LEARN) != 0 {
			t.Errorf("port %d forwarding/learning still enabled: %#02x", port, pcr)
		}

		if pcr&(1<<ksz.PCR2_TX_EN) == 0 || pcr&(1<<ksz.PCR2_RX_EN) == 0 {
			t.Errorf("port %d not enabled: %#02x", port, pcr)
		}
	}
}

func TestTagRoundTrip(t *testing.T) {
	_, sw, _, _ := setup(t)

	raw := testFrame(t, 46)

	for port := 1; port <= 2; port++ {
		f := buffer.New(raw)

		if err := sw.Tag(f, &netif.PacketInfo{Port: port}); err != nil {
			t.Fatal(err)
		}

		// one trailing byte past the padded frame
		if f.Len() != netif.MinFrameSize+1 {
			t.Fatalf("tagged length = %d, want %d", f.Len(), netif.MinFrameSize+1)
		}

		tagged := f.Bytes()

		if tagged[len(tagged)-1] != byte(port) {
			t.Fatalf("tag byte = %#02x, want %#02x", tagged[len(tagged)-1], port)
		}

		// the tag never lands inside the padding
		if !bytes.Equal(tagged[:len(raw)], raw) {
			t.Fatal("payload corrupted by tagging")
		}

		info := &netif.PacketInfo{}
		payload, err := sw.Untag(tagged, info)

		if err != nil {
			t.Fatal(err)
		}

		if info.Port != port {
			t.Errorf("decoded port = %d, want %d", info.Port, port)
		}

		if !bytes.Equal(payload, tagged[:len(tagged)-1]) {
			t.Error("payload not restored")
		}
	}
}

func TestTagGrowsShortPayload(t *testing.T) {
	_, sw, _, _ := setup(t)

	// 10 byte payload without the serializer padding, padding must
	// reach the minimum length before the tag
	raw := testFrame(t, 10)[:14+10]

	f := buffer.New(raw)

	if err := sw.Tag(f, &netif.PacketInfo{Port: 2}); err != nil {
		t.Fatal(err)
	}

	tagged := f.Bytes()

	if len(tagged) != netif.MinFrameSize+1 {
		t.Fatalf("tagged length = %d, want %d", len(tagged), netif.MinFrameSize+1)
	}

	// zero padding between payload and tag
	for i := len(raw); i < netif.MinFrameSize; i++ {
		if tagged[i] != 0 {
			t.Fatalf("padding byte %d = %#02x, want 0", i, tagged[i])
		}
	}

	if tagged[netif.MinFrameSize] != 2 {
		t.Errorf("tag byte = %#02x, want 2", tagged[netif.MinFrameSize])
	}
}

func TestUntagInvalid(t *testing.T) {
	_, sw, _, _ := setup(t)

	info := &netif.PacketInfo{}

	if _, err := sw.Untag([]byte{1, 2, 3}, info); !errors.Is(err, netif.ErrInvalidLength) {
		t.Errorf("short frame = %v, want ErrInvalidLength", err)
	}

	frame := testFrame(t, 46)

	// out of range port tags
	for _, tag := range []byte{0, 3, 0xff} {
		tagged := append(append([]byte{}, frame...), tag)

		if _, err := sw.Untag(tagged, info); !errors.Is(err, netif.ErrInvalidPacket) {
			t.Errorf("tag %#02x = %v, want ErrInvalidPacket", tag, err)
		}
	}
}

func TestTagInvalidPort(t *testing.T) {
	_, sw, _, _ := setup(t)

	f := buffer.New(testFrame(t, 46))

	for _, port := range []int{3, -1} {
		if err := sw.Tag(f, &netif.PacketInfo{Port: port}); !errors.Is(err, netif.ErrInvalidParameter) {
			t.Errorf("port %d = %v, want ErrInvalidParameter", port, err)
		}
	}
}

func TestVirtualPortSteering(t *testing.T) {
	nic, sw, regs, drv := setup(t)

	stack := nic.Stack.(*portStack)

	vp1, err := nic.AddVirtualPort(1)

	if err != nil {
		t.Fatal(err)
	}

	vp2, err := nic.AddVirtualPort(2)

	if err != nil {
		t.Fatal(err)
	}

	// ingress frames steer to the virtual interface of their source
	// port
	frame := testFrame(t, 46)

	for port := 1; port <= 2; port++ {
		tagged := append(append([]byte{}, frame...), byte(port))

		if err := nic.Deliver(tagged, &netif.PacketInfo{}); err != nil {
			t.Fatal(err)
		}
	}

	for port := 1; port <= 2; port++ {
		if got := stack.packets[port]; len(got) != 1 || !bytes.Equal(got[0], frame) {
			t.Errorf("port %d delivery mismatch", port)
		}
	}

	// egress frames through a virtual interface carry its port tag
	regs.regs[0x10*1+ksz.PORT_STATUS] = 1<<ksz.PSR_LINK | 1<<ksz.PSR_100 | 1<<ksz.PSR_FD
	sw.Tick()

	if !nic.LinkState() {
		t.Fatal("physical link not up with an active port")
	}

	if !vp1.LinkState() {
		t.Fatal("virtual port 1 link not up")
	}

	if vp2.LinkState() {
		t.Fatal("virtual port 2 link up without carrier")
	}

	if err := vp1.Send(buffer.New(frame)); err != nil {
		t.Fatal(err)
	}

	if len(drv.sent) != 1 {
		t.Fatal("frame did not reach the physical driver")
	}

	sent := drv.sent[0].Bytes()

	if sent[len(sent)-1] != 1 {
		t.Errorf("egress tag = %#02x, want 1", sent[len(sent)-1])
	}
}
