// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package netif_test

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/usbarmory/netif"
	"github.com/usbarmory/netif/buffer"
)

type recordingStack struct {
	packets []recordedPacket
	links   []*netif.Interface
}

type recordedPacket struct {
	nic   *netif.Interface
	frame []byte
	info  netif.PacketInfo
}

func (s *recordingStack) ProcessPacket(nic *netif.Interface, frame []byte, info *netif.PacketInfo) {
	s.packets = append(s.packets, recordedPacket{nic, append([]byte{}, frame...), *info})
}

func (s *recordingStack) NotifyLinkChange(nic *netif.Interface) {
	s.links = append(s.links, nic)
}

func TestEvent(t *testing.T) {
	e := netif.NewEvent()

	if e.TryWait() {
		t.Fatal("event set at creation")
	}

	// multiple sets coalesce into one notification
	e.Set()
	e.Set()

	if !e.TryWait() {
		t.Fatal("event not set")
	}

	if e.TryWait() {
		t.Fatal("notifications did not coalesce")
	}
}

func TestInitValidation(t *testing.T) {
	nic := &netif.Interface{}

	if err := nic.Init(); !errors.Is(err, netif.ErrInvalidParameter) {
		t.Errorf("Init without driver = %v, want ErrInvalidParameter", err)
	}

	nic = &netif.Interface{
		MAC:    net.HardwareAddr{1, 2, 3},
		Driver: &nullDriver{},
	}

	if err := nic.Init(); !errors.Is(err, netif.ErrInvalidParameter) {
		t.Errorf("Init with short address = %v, want ErrInvalidParameter", err)
	}
}

func TestSendLinkDown(t *testing.T) {
	drv := &nullDriver{}
	nic := testInterface(t, drv)

	f := buffer.New([]byte{1, 2, 3})

	// all sends backpressure while the link is down
	if err := nic.Send(f); !errors.Is(err, netif.ErrBusy) {
		t.Fatalf("Send on down link = %v, want ErrBusy", err)
	}

	if len(drv.sent) != 0 {
		t.Fatal("frame reached the driver on a down link")
	}

	nic.SetLink(true, netif.Speed100, netif.FullDuplex)

	if err := nic.Send(f); err != nil {
		t.Fatal(err)
	}

	if len(drv.sent) != 1 {
		t.Fatal("frame did not reach the driver")
	}

	// outbound frames are padded to the minimum Ethernet length
	if n := drv.sent[0].Len(); n != netif.MinFrameSize {
		t.Errorf("sent frame length = %d, want %d", n, netif.MinFrameSize)
	}
}

func TestDeliver(t *testing.T) {
	stack := &recordingStack{}
	drv := &nullDriver{}

	nic := testInterface(t, drv)
	nic.Stack = stack

	frame := bytes.Repeat([]byte{0xab}, 60)

	if err := nic.Deliver(frame, &netif.PacketInfo{}); err != nil {
		t.Fatal(err)
	}

	if len(stack.packets) != 1 || !bytes.Equal(stack.packets[0].frame, frame) {
		t.Fatalf("delivery mismatch: %+v", stack.packets)
	}

	if stack.packets[0].nic != nic {
		t.Error("frame delivered to the wrong interface")
	}
}

func TestLinkAccessors(t *testing.T) {
	nic := testInterface(t, nil)

	if nic.LinkState() {
		t.Fatal("link up at creation")
	}

	nic.SetLink(true, netif.Speed1000, netif.FullDuplex)

	if !nic.LinkState() || nic.LinkSpeed() != netif.Speed1000 || nic.DuplexMode() != netif.FullDuplex {
		t.Error("link parameters not reconciled")
	}

	nic.SetLink(false, 0, netif.HalfDuplex)

	if nic.LinkState() {
		t.Error("link still up")
	}
}

func TestSignalEvent(t *testing.T) {
	lo := netif.NewEventLoop()

	drv := &nullDriver{}
	nic := &netif.Interface{
		MAC:    station,
		Driver: drv,
	}

	lo.Add(nic)

	if err := nic.Init(); err != nil {
		t.Fatal(err)
	}

	handled := 0
	drv.eventHandler = func() error {
		handled += 1
		return nil
	}

	// Poll only services flagged interfaces
	if err := lo.Poll(); err != nil {
		t.Fatal(err)
	}

	if handled != 0 {
		t.Fatal("event handler ran without a signal")
	}

	nic.SignalEvent()

	if err := lo.Poll(); err != nil {
		t.Fatal(err)
	}

	if handled != 1 {
		t.Fatalf("event handler ran %d times, want 1", handled)
	}

	// the pending flag is consumed
	lo.Poll()

	if handled != 1 {
		t.Fatal("event handler ran without a new signal")
	}
}
