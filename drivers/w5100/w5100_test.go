// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package w5100

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/usbarmory/netif"
	"github.com/usbarmory/netif/buffer"
)

// chip emulates the controller address space and socket 0 engines behind
// the 4 byte SPI transaction framing.
type chip struct {
	mem [0x8000]byte

	// receive engine write pointer, free size and received size
	rxWr uint16
	fsr  uint16
	rsr  uint16

	sent [][]byte

	// unstable makes 16-bit reads of the given address never settle
	unstable  uint16
	unstableN byte

	// per-address read counters
	reads map[uint16]int

	cs   bool
	n    int
	op   byte
	addr uint16
}

func newChip() *chip {
	return &chip{
		fsr:   memSize,
		reads: make(map[uint16]int),
	}
}

func (c *chip) Init() error { return nil }

func (c *chip) AssertCS() {
	c.cs = true
	c.n = 0
}

func (c *chip) DeassertCS() {
	c.cs = false
}

func (c *chip) Transfer(b byte) byte {
	if !c.cs {
		return 0
	}

	defer func() { c.n += 1 }()

	switch c.n {
	case 0:
		c.op = b
	case 1:
		c.addr = uint16(b) << 8
	case 2:
		c.addr |= uint16(b)

		if c.op == opRead {
			return 0
		}
	case 3:
		if c.op == opRead {
			return c.read(c.addr)
		}

		c.write(c.addr, b)
	}

	return 0
}

func (c *chip) read(addr uint16) byte {
	c.reads[addr&^1] += 1

	if c.unstable != 0 && addr&^1 == c.unstable {
		c.unstableN += 1
		return c.unstableN
	}

	switch addr &^ 1 {
	case S0_TX_FSR:
		return c.half(c.fsr, addr)
	case S0_RX_RSR:
		return c.half(c.rsr, addr)
	}

	return c.mem[addr]
}

func (c *chip) half(val uint16, addr uint16) byte {
	if addr&1 == 0 {
		return byte(val >> 8)
	}

	return byte(val)
}

func (c *chip) reg16(addr uint16) uint16 {
	return uint16(c.mem[addr])<<8 | uint16(c.mem[addr+1])
}

func (c *chip) write(addr uint16, val byte) {
	if addr == S0_CR {
		c.command(val)
		return
	}

	c.mem[addr] = val
}

func (c *chip) command(cmd byte) {
	switch cmd {
	case CR_OPEN:
		c.mem[S0_SR] = SOCK_MACRAW
	case CR_SEND:
		rd := c.reg16(S0_TX_RD)
		wr := c.reg16(S0_TX_WR)

		n := wr - rd
		frame := make([]byte, n)

		for i := uint16(0); i < n; i++ {
			frame[i] = c.mem[txBase+((rd+i)&memMask)]
		}

		c.sent = append(c.sent, frame)

		c.mem[S0_TX_RD] = byte(wr >> 8)
		c.mem[S0_TX_RD+1] = byte(wr)

		// the frame drains immediately
		c.fsr = memSize
		c.mem[S0_IR] |= 1 << S0_IR_SEND_OK
	case CR_RECV:
		c.rsr = c.rxWr - c.reg16(S0_RX_RD)
	}
}

// inject queues a received frame, length prelude first, the frame check
// sequence is emulated.
func (c *chip) inject(frame []byte) {
	size := uint16(len(frame) + 2 + 4)

	data := []byte{byte(size >> 8), byte(size)}
	data = append(data, frame...)
	data = append(data, 0xde, 0xad, 0xbe, 0xef)

	for i, b := range data {
		c.mem[rxBase+((c.rxWr+uint16(i))&memMask)] = b
	}

	c.rxWr += size
	c.rsr = c.rxWr - c.reg16(S0_RX_RD)
	c.mem[S0_IR] |= 1 << S0_IR_RECV
}

type recStack struct {
	frames [][]byte
	links  int
}

func (s *recStack) ProcessPacket(nic *netif.Interface, frame []byte, info *netif.PacketInfo) {
	s.frames = append(s.frames, append([]byte{}, frame...))
}

func (s *recStack) NotifyLinkChange(nic *netif.Interface) {
	s.links += 1
}

func setup(t *testing.T) (*netif.Interface, *W5100, *chip, *recStack) {
	t.Helper()

	c := newChip()
	stack := &recStack{}

	hw := &W5100{
		Port: c,
	}

	nic := &netif.Interface{
		MAC:    net.HardwareAddr{0x00, 0x08, 0xdc, 0x01, 0x02, 0x03},
		Driver: hw,
		Stack:  stack,
	}

	if err := nic.Init(); err != nil {
		t.Fatal(err)
	}

	return nic, hw, c, stack
}

func TestInit(t *testing.T) {
	nic, _, c, _ := setup(t)

	if got := c.mem[S0_MR]; got != S0_MR_MACRAW|1<<S0_MR_MF {
		t.Errorf("S0_MR = %#02x, want MACRAW with address filtering", got)
	}

	if !bytes.Equal(c.mem[SHAR:SHAR+6], nic.MAC) {
		t.Errorf("station address = %v, want %v", c.mem[SHAR:SHAR+6], nic.MAC)
	}

	if !nic.TxReady.TryWait() {
		t.Error("tx-ready not asserted")
	}
}

func TestFixedLink(t *testing.T) {
	nic, hw, _, stack := setup(t)

	hw.Tick()

	if !nic.LinkState() || nic.LinkSpeed() != netif.Speed100 {
		t.Fatal("fixed link not asserted")
	}

	// link up is asserted exactly once
	hw.Tick()

	if stack.links != 1 {
		t.Errorf("link notifications = %d, want 1", stack.links)
	}
}

func TestSendWrap(t *testing.T) {
	nic, hw, c, _ := setup(t)

	hw.Tick()

	// start the circular buffer near its end
	wr := uint16(memSize - 16)
	c.mem[S0_TX_WR] = byte(wr >> 8)
	c.mem[S0_TX_WR+1] = byte(wr)
	c.mem[S0_TX_RD] = byte(wr >> 8)
	c.mem[S0_TX_RD+1] = byte(wr)

	frame := make([]byte, 64)

	for i := range frame {
		frame[i] = byte(i)
	}

	if err := nic.Send(buffer.New(frame)); err != nil {
		t.Fatal(err)
	}

	if len(c.sent) != 1 || !bytes.Equal(c.sent[0], frame) {
		t.Fatal("transfer not split correctly across the wrap point")
	}

	// the tail of the frame landed at the buffer start
	if c.mem[txBase] != frame[16] {
		t.Error("wrapped bytes misplaced")
	}

	if got := c.reg16(S0_TX_WR); got != wr+uint16(len(frame)) {
		t.Errorf("S0_TX_WR = %#04x, want %#04x", got, wr+uint16(len(frame)))
	}
}

func TestSendBusy(t *testing.T) {
	nic, hw, c, _ := setup(t)

	hw.Tick()

	c.fsr = 8

	if err := nic.Send(buffer.New(make([]byte, 64))); !errors.Is(err, netif.ErrBusy) {
		t.Fatalf("Send on full buffer = %v, want ErrBusy", err)
	}
}

func TestSendOversize(t *testing.T) {
	nic, hw, _, _ := setup(t)

	hw.Tick()
	nic.TxReady.TryWait()

	err := nic.Send(buffer.New(make([]byte, netif.MTU+1)))

	if !errors.Is(err, netif.ErrInvalidLength) {
		t.Fatalf("oversized Send = %v, want ErrInvalidLength", err)
	}

	if !nic.TxReady.TryWait() {
		t.Error("tx-ready not re-asserted")
	}
}

func TestReceiveWrap(t *testing.T) {
	_, hw, c, stack := setup(t)

	// a frame crossing the circular buffer wrap point
	f2 := bytes.Repeat([]byte{0x22}, 120)

	rd := uint16(memSize - 60)
	c.mem[S0_RX_RD] = byte(rd >> 8)
	c.mem[S0_RX_RD+1] = byte(rd)
	c.rxWr = rd

	c.inject(f2)

	if err := hw.EventHandler(); err != nil {
		t.Fatal(err)
	}

	if len(stack.frames) != 1 || !bytes.Equal(stack.frames[0], f2) {
		t.Fatal("frame not reassembled across the wrap")
	}

	if got := c.reg16(S0_RX_RD); got != rd+uint16(len(f2)+6) {
		t.Errorf("S0_RX_RD = %#04x, want %#04x", got, rd+uint16(len(f2)+6))
	}
}

func TestReceiveOrder(t *testing.T) {
	_, hw, c, stack := setup(t)

	f1 := bytes.Repeat([]byte{0x11}, 60)
	f2 := bytes.Repeat([]byte{0x22}, 61)

	c.inject(f1)
	c.inject(f2)

	if err := hw.EventHandler(); err != nil {
		t.Fatal(err)
	}

	if len(stack.frames) != 2 {
		t.Fatalf("delivered %d frames, want 2", len(stack.frames))
	}

	if !bytes.Equal(stack.frames[0], f1) || !bytes.Equal(stack.frames[1], f2) {
		t.Error("delivery order or payload mismatch")
	}
}

func TestUnstableRegister(t *testing.T) {
	_, hw, c, _ := setup(t)

	// the received size register never settles
	c.unstable = S0_RX_RSR

	err := hw.EventHandler()

	if !errors.Is(err, netif.ErrInvalidState) {
		t.Fatalf("EventHandler = %v, want ErrInvalidState", err)
	}

	// the retry loop is bounded
	if n := c.reads[S0_RX_RSR]; n > 2*(stableReads+1) {
		t.Errorf("%d reads of an unstable register, want a bounded loop", n)
	}
}

func TestMalformedPrelude(t *testing.T) {
	_, hw, c, stack := setup(t)

	// a corrupt length prelude flushes the buffer
	c.rxWr = 100
	c.rsr = 100
	c.mem[rxBase] = 0xff
	c.mem[rxBase+1] = 0xff

	if err := hw.EventHandler(); err != nil {
		t.Fatal(err)
	}

	if len(stack.frames) != 0 {
		t.Fatal("malformed frame delivered")
	}

	if hw.Stats.InvalidFrame != 1 {
		t.Errorf("InvalidFrame = %d, want 1", hw.Stats.InvalidFrame)
	}

	// the read pointer skipped the whole backlog
	if got := c.reg16(S0_RX_RD); got != 100 {
		t.Errorf("S0_RX_RD = %#04x, want %#04x", got, 100)
	}
}
