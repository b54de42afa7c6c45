// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package netif

import (
	"errors"
)

// NIC operation errors, faults are always reported as return values, never
// as panics.
var (
	// ErrInvalidParameter is returned on nil handles or out-of-range
	// arguments.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidLength is returned when a frame exceeds the transmit slot
	// size or falls short of the minimum header size.
	ErrInvalidLength = errors.New("invalid length")

	// ErrInvalidPacket is returned when descriptor error flags are set,
	// frame delimiters are missing or an on-wire record is malformed.
	ErrInvalidPacket = errors.New("invalid packet")

	// ErrEmpty terminates receive drain loops, it is not a fault.
	ErrEmpty = errors.New("buffer empty")

	// ErrBusy is returned when no transmit slot is available, the caller
	// re-drives the transfer once the tx-ready event fires.
	ErrBusy = errors.New("transient busy")

	// ErrTimeout is returned when a client deadline is exceeded.
	ErrTimeout = errors.New("timeout")

	// ErrWouldBlock is returned by non-blocking steps still in progress.
	ErrWouldBlock = errors.New("would block")

	// ErrOutOfResources is returned when a bounded table or allocation
	// is exhausted.
	ErrOutOfResources = errors.New("out of resources")

	// ErrInvalidState is returned when an operation is issued in an
	// incompatible state.
	ErrInvalidState = errors.New("invalid state")

	// ErrRejected is returned when a remote peer instructs the client to
	// stop issuing requests.
	ErrRejected = errors.New("request rejected")
)
