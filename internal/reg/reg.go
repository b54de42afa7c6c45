// Memory mapped register access
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package reg provides primitives for retrieving and modifying hardware
// registers.
package reg

import (
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

// Get returns the pointed register value at a specific bit position and with
// a bitmask applied.
func Get(addr uint32, pos int, mask int) uint32 {
	reg := (*uint32)(unsafe.Pointer(uintptr(addr)))
	return uint32((int(atomic.LoadUint32(reg)) >> pos) & mask)
}

// Set modifies the register by setting an individual bit at the position
// argument.
func Set(addr uint32, pos int) {
	reg := (*uint32)(unsafe.Pointer(uintptr(addr)))
	atomic.StoreUint32(reg, atomic.LoadUint32(reg)|(1<<pos))
}

// Clear modifies the register by clearing an individual bit at the position
// argument.
func Clear(addr uint32, pos int) {
	reg := (*uint32)(unsafe.Pointer(uintptr(addr)))
	atomic.StoreUint32(reg, atomic.LoadUint32(reg)&^(1<<pos))
}

// SetTo modifies the register by setting an individual bit at the position
// argument to the val argument.
func SetTo(addr uint32, pos int, val bool) {
	if val {
		Set(addr, pos)
	} else {
		Clear(addr, pos)
	}
}

// SetN modifies the register by setting a value at a specific bit position
// and with a bitmask applied.
func SetN(addr uint32, pos int, mask int, val uint32) {
	reg := (*uint32)(unsafe.Pointer(uintptr(addr)))
	r := atomic.LoadUint32(reg)
	atomic.StoreUint32(reg, (r&^(uint32(mask)<<pos))|(val<<pos))
}

// ClearN modifies the register by clearing a value at a specific bit position
// and with a bitmask applied.
func ClearN(addr uint32, pos int, mask int) {
	reg := (*uint32)(unsafe.Pointer(uintptr(addr)))
	atomic.StoreUint32(reg, atomic.LoadUint32(reg)&^(uint32(mask)<<pos))
}

// Read returns the register value.
func Read(addr uint32) uint32 {
	reg := (*uint32)(unsafe.Pointer(uintptr(addr)))
	return atomic.LoadUint32(reg)
}

// Write modifies the register value.
func Write(addr uint32, val uint32) {
	reg := (*uint32)(unsafe.Pointer(uintptr(addr)))
	atomic.StoreUint32(reg, val)
}

// Or modifies the register value with a logical OR against the val argument.
func Or(addr uint32, val uint32) {
	reg := (*uint32)(unsafe.Pointer(uintptr(addr)))
	atomic.StoreUint32(reg, atomic.LoadUint32(reg)|val)
}

// Wait waits for a specific register bit to match a value.
func Wait(addr uint32, pos int, mask int, val uint32) {
	for Get(addr, pos, mask) != val {
		// give other goroutines a chance
		runtime.Gosched()
	}
}

// WaitFor waits, until a timeout expires, for a specific register bit to
// match a value. The return boolean indicates whether the wait condition was
// met (true) or if it timed out (false).
func WaitFor(timeout time.Duration, addr uint32, pos int, mask int, val uint32) bool {
	start := time.Now()

	for Get(addr, pos, mask) != val {
		runtime.Gosched()

		if time.Since(start) >= timeout {
			return false
		}
	}

	return true
}
