// Deferred context event loop
// https://github.com/usbarmory/netif
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package netif

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
)

// TickInterval is the default driver housekeeping period.
const TickInterval = 10 * time.Millisecond

// EventLoop is the deferred context shared by a set of interfaces, it runs
// the event handler of every interface whose event signal fired and the
// periodic driver ticks.
//
// Interrupt service routines only latch signals (see
// Interface.SignalEvent), all packet draining happens here.
type EventLoop struct {
	sync.Mutex

	// Interval overrides TickInterval when set before Run.
	Interval time.Duration

	event  *Event
	ifaces []*Interface
}

// NewEventLoop returns an initialized event loop.
func NewEventLoop() *EventLoop {
	return &EventLoop{
		event: NewEvent(),
	}
}

// Add registers an interface with the event loop, binding the shared
// net-event signal, it must be called before Interface.Init.
func (lo *EventLoop) Add(nic *Interface) {
	lo.Lock()
	defer lo.Unlock()

	nic.netEvent = lo.event
	lo.ifaces = append(lo.ifaces, nic)
}

// Poll runs the event handler of every interface flagged for deferred
// processing, faults from individual handlers are aggregated and never
// stop the remaining interfaces.
func (lo *EventLoop) Poll() (err error) {
	lo.Lock()
	ifaces := lo.ifaces
	lo.Unlock()

	for _, nic := range ifaces {
		if atomic.SwapUint32(&nic.pending, 0) == 0 {
			continue
		}

		err = multierr.Append(err, nic.Driver.EventHandler())

		if nic.PHY != nil {
			err = multierr.Append(err, nic.PHY.EventHandler())
		}

		if nic.Switch != nil {
			err = multierr.Append(err, nic.Switch.EventHandler())
		}
	}

	return
}

// Tick runs the periodic housekeeping of every registered driver.
func (lo *EventLoop) Tick() {
	lo.Lock()
	ifaces := lo.ifaces
	lo.Unlock()

	for _, nic := range ifaces {
		nic.Driver.Tick()

		if nic.PHY != nil {
			nic.PHY.Tick()
		}

		if nic.Switch != nil {
			nic.Switch.Tick()
		}
	}
}

// Run services events and ticks until the context is done, returning its
// error. Event handler faults are reported through the optional handler
// argument and never stop the loop.
func (lo *EventLoop) Run(ctx context.Context, handler func(error)) error {
	interval := lo.Interval

	if interval == 0 {
		interval = TickInterval
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lo.event.Chan():
			if err := lo.Poll(); err != nil && handler != nil {
				handler(err)
			}
		case <-t.C:
			lo.Tick()
		}
	}
}
