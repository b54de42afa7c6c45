// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package netif

// Event is a rendezvous signal between interrupt and deferred context, it
// latches a single pending notification.
//
// Set never blocks and may be called from interrupt service routines,
// multiple sets before a wait coalesce into one notification.
type Event struct {
	ch chan struct{}
}

// NewEvent returns an initialized event.
func NewEvent() *Event {
	return &Event{
		ch: make(chan struct{}, 1),
	}
}

// Set latches the event.
func (e *Event) Set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the event is set, consuming the notification.
func (e *Event) Wait() {
	<-e.ch
}

// TryWait consumes a pending notification, returning whether one was
// latched.
func (e *Event) TryWait() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Chan returns the channel the event latches on, for use in select
// statements.
func (e *Event) Chan() <-chan struct{} {
	return e.ch
}
