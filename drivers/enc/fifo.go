// ENC28J60-class SPI Ethernet controller driver
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package enc

import (
	"github.com/usbarmory/netif"
	"github.com/usbarmory/netif/buffer"
)

// receive status vector bits, within the 16-bit status word following the
// next packet pointer and byte count
const (
	rsvReceivedOK = 7
)

// Send streams the frame into the transmit area of the packet memory and
// starts transmission, the controller provides a single transmit slot.
func (hw *ENC) Send(f *buffer.Frame, info *netif.PacketInfo) (err error) {
	hw.Lock()
	defer hw.Unlock()

	n := f.Len()

	if n > netif.MTU || txStart+1+n > memSize {
		// never truncate, let the stack drop the frame and progress
		hw.nic.TxReady.Set()
		return netif.ErrInvalidLength
	}

	if hw.readReg(ECON1)&(1<<ECON1_TXRTS) != 0 {
		// the previous frame is still transmitting
		return netif.ErrBusy
	}

	// recover the transmit logic after an aborted transmission
	if hw.readReg(EIR)&(1<<EIR_TXERIF) != 0 {
		hw.setBits(ECON1, 1<<ECON1_TXRST)
		hw.clearBits(ECON1, 1<<ECON1_TXRST)
		hw.clearBits(EIR, 1<<EIR_TXERIF)
	}

	hw.writeReg16(EWRPTL, txStart)

	// per-packet control byte followed by the frame
	hw.writeBuf([]byte{pktCtrl})
	hw.writeBuf(f.Bytes())

	hw.writeReg16(ETXSTL, txStart)
	hw.writeReg16(ETXNDL, uint16(txStart+n))

	hw.setBits(ECON1, 1<<ECON1_TXRTS)

	// tx-ready stays deasserted until the completion interrupt, the
	// single slot is now in flight

	return
}

// EventHandler drains all pending receive packets from the on-chip FIFO,
// acknowledges transmit completions and re-arms the interrupt output.
func (hw *ENC) EventHandler() error {
	for {
		hw.Lock()
		n := hw.readReg(EPKTCNT)
		hw.Unlock()

		if n == 0 {
			break
		}

		hw.Lock()
		data, err := hw.receive()
		hw.Unlock()

		if err != nil {
			hw.Stats.InvalidFrame += 1
			continue
		}

		hw.nic.Deliver(data, &netif.PacketInfo{})
	}

	hw.Lock()

	// Transmit completion is polled on both the done and error flags,
	// which live in EIR, the matching enable bits in EIE only gate the
	// interrupt output.
	irq := hw.readReg(EIR)

	if irq&(1<<EIR_TXIF|1<<EIR_TXERIF) != 0 {
		if irq&(1<<EIR_TXERIF) != 0 {
			hw.Stats.TxAborted += 1
		}

		hw.clearBits(EIR, 1<<EIR_TXIF|1<<EIR_TXERIF)

		// the single transmit slot is free again
		hw.nic.TxReady.Set()
	}

	if irq&(1<<EIR_RXERIF) != 0 {
		hw.clearBits(EIR, 1<<EIR_RXERIF)
	}

	// re-arm the interrupt output
	hw.setBits(EIE, 1<<EIE_INTIE)

	hw.Unlock()

	return nil
}

// receive drains a single packet from the on-chip FIFO: the status vector
// prelude is read and validated, then the payload streamed out and the
// ring read pointer advanced.
func (hw *ENC) receive() (data []byte, err error) {
	hw.writeReg16(ERDPTL, hw.next)

	// status vector: next packet pointer, byte count, status word
	var rsv [6]byte
	hw.readBuf(rsv[:])

	next := uint16(rsv[0]) | uint16(rsv[1])<<8
	count := int(uint16(rsv[2]) | uint16(rsv[3])<<8)
	status := uint16(rsv[4]) | uint16(rsv[5])<<8

	defer func() {
		hw.next = next

		// The read pointer must never equal the start of a frame
		// still being read: write next-1, wrapping to the ring end
		// when the next packet pointer equals the ring start.
		if next == rxStart {
			hw.writeReg16(ERXRDPTL, rxEnd)
		} else {
			hw.writeReg16(ERXRDPTL, next-1)
		}

		hw.setBits(ECON2, 1<<ECON2_PKTDEC)
	}()

	if status&(1<<rsvReceivedOK) == 0 || count < 4 || count > netif.MTU {
		return nil, netif.ErrInvalidPacket
	}

	if next < rxStart || next > rxEnd {
		return nil, netif.ErrInvalidPacket
	}

	// the controller verified and included the frame check sequence
	data = make([]byte, count-4)
	hw.readBuf(data)

	return
}

// UpdateFilter rebuilds the hardware receive filters from the interface
// filter tables.
//
// The hash index is the upper 6 bits of the filter CRC with final
// inversion, this family inverts where the FEC does not.
func (hw *ENC) UpdateFilter() error {
	hw.Lock()
	defer hw.Unlock()

	plan := hw.nic.Filter(0, true)

	if plan.Promiscuous {
		// pass all frames
		hw.writeReg(ERXFCON, 0)
		return nil
	}

	// perfect match slot 0
	hw.setMAC()

	for i := 0; i < 8; i++ {
		hw.writeReg(EHT0+i, byte(plan.Hash>>(8*i)))
	}

	fcon := byte(1<<ERXFCON_UCEN | 1<<ERXFCON_CRCEN | 1<<ERXFCON_BCEN)

	if plan.AllMulticast {
		fcon |= 1 << ERXFCON_MCEN
	} else if plan.Hash != 0 {
		fcon |= 1 << ERXFCON_HTEN
	}

	hw.writeReg(ERXFCON, fcon)

	return nil
}
