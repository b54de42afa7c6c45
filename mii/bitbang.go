// Bit-banged MDIO sequencer
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mii

var _ Bus = (*BitBang)(nil)

// BitBang sequences clause 22 MDIO frames on GPIO lines for controllers
// without a hardware management block.
//
// Delay must busy-wait one clock half-period, a preemption yielding sleep
// would break the transaction atomicity relative to the bus.
type BitBang struct {
	// MDC drives the management clock line.
	MDC func(bool)
	// MDO drives the management data line.
	MDO func(bool)
	// MDI samples the management data line.
	MDI func() bool
	// Dir switches the data line direction, true for output.
	Dir func(out bool)
	// Delay busy-waits one clock half-period.
	Delay func()
}

func (b *BitBang) delay() {
	if b.Delay != nil {
		b.Delay()
	}
}

// clock pulses MDC with the data line already stable.
func (b *BitBang) clock() {
	b.delay()
	b.MDC(true)
	b.delay()
	b.MDC(false)
}

func (b *BitBang) shiftOut(val uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		b.MDO(val&(1<<i) != 0)
		b.clock()
	}
}

func (b *BitBang) shiftIn(n int) (val uint32) {
	for i := 0; i < n; i++ {
		b.delay()
		b.MDC(true)
		b.delay()

		val <<= 1

		if b.MDI() {
			val |= 1
		}

		b.MDC(false)
	}

	return
}

// preamble drives 32 consecutive ones to synchronize the PHY management
// logic.
func (b *BitBang) preamble() {
	b.Dir(true)
	b.shiftOut(0xffffffff, 32)
}

func (b *BitBang) header(op, pa, ra int) {
	b.preamble()
	b.shiftOut(MDIO_ST, 2)
	b.shiftOut(uint32(op), 2)
	b.shiftOut(uint32(pa)&0x1f, 5)
	b.shiftOut(uint32(ra)&0x1f, 5)
}

// Read transacts a clause 22 read frame.
func (b *BitBang) Read(pa int, ra int) (data uint16, err error) {
	b.header(MDIO_OP_READ, pa, ra)

	// turnaround, the PHY drives the data line
	b.Dir(false)
	b.clock()

	data = uint16(b.shiftIn(16))

	// idle
	b.clock()

	return
}

// Write transacts a clause 22 write frame.
func (b *BitBang) Write(pa int, ra int, data uint16) error {
	b.header(MDIO_OP_WRITE, pa, ra)

	// turnaround
	b.shiftOut(MDIO_TA, 2)
	b.shiftOut(uint32(data), 16)

	// idle, release the data line
	b.Dir(false)
	b.clock()

	return nil
}
