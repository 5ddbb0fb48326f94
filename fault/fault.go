// Package fault is the process-wide fault aggregator: a bit-indexed fault
// set that buffers every cause raised before the application layer has its
// active-object queues running, then replays them once as typed
// publications, deduplicated by mapped signal.
package fault

import (
	"sync"

	"handlecore.dev/internal/devlog"
)

// Event is what the aggregator hands to a Publisher: the cause that
// triggered it, the signal it maps to, and whether the cause is being set
// or cleared.
type Event struct {
	Cause  Cause
	Signal Signal
	Set    bool
}

// Publisher receives published fault events. In the original firmware this
// is an active-object QEVENT_FAULT posted to a subscriber queue; here it is
// satisfied by anything from a buffered channel wrapper to a direct
// callback into the device-lifecycle bridge.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a plain function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Aggregator is the single owner of process-wide fault state. Its zero
// value is not usable; construct with New.
type Aggregator struct {
	mu   sync.Mutex
	log  devlog.Logger
	pub  Publisher
	word uint64 // bit i set means Cause(i) is currently raised (pre-init only)

	readyToPublish bool
	heartbeatMu    sync.Mutex
	heartbeatMS    uint32
}

// New constructs an Aggregator. pub is the publisher used once
// DrainStartup has run (and for every Set call thereafter); log receives
// severity-banded lines exactly as FaultHandlerAfterAppInit did.
func New(log devlog.Logger, pub Publisher) *Aggregator {
	return &Aggregator{
		log:         log,
		pub:         pub,
		heartbeatMS: 1000,
	}
}

// Set records cause as raised or cleared.
//
// Before DrainStartup has run, this only mutates the bit-indexed status
// word under the mutex (FaultHandlerBeforeAppInit). After DrainStartup, it
// logs at the severity implied by the mapped signal and publishes
// immediately (FaultHandlerAfterAppInit) — the status word is no longer
// consulted or updated, matching the Buffered(u64) | Live(publisher)
// tagged-variant design: once Live, there is nothing left to buffer.
func (a *Aggregator) Set(cause Cause, set bool) {
	if !cause.Valid() {
		if a.log != nil {
			devlog.Log(a.log, devlog.ERR, "fault: cause %d out of range, ignored", int(cause))
		}
		return
	}

	a.mu.Lock()
	ready := a.readyToPublish
	if !ready {
		if set {
			a.word |= 1 << uint(cause)
		} else {
			a.word &^= 1 << uint(cause)
		}
	}
	a.mu.Unlock()

	if !ready {
		return
	}

	sig := SignalFor(cause)
	a.logCause(cause, sig, set)
	a.pub.Publish(Event{Cause: cause, Signal: sig, Set: set})
}

// logCause reproduces FaultHandlerAfterAppInit's three-band severity
// choice: permanent failures log FLT, battery warnings log WNG, everything
// else logs ERR. Clearing a cause always logs ERR ("Clear Error: ...").
func (a *Aggregator) logCause(cause Cause, sig Signal, set bool) {
	if a.log == nil {
		return
	}
	if !set {
		devlog.Log(a.log, devlog.ERR, "Clear Error: %s", cause.Text())
		return
	}
	switch sig {
	case PermFailSig:
		devlog.Log(a.log, devlog.FLT, "Fault: %s", cause.Text())
	case BattWarnSig:
		devlog.Log(a.log, devlog.WNG, "Warning: %s", cause.Text())
	default:
		devlog.Log(a.log, devlog.ERR, "Error: %s", cause.Text())
	}
}

// DrainStartup replays every cause accumulated before the application was
// ready, as a sequence of typed publications, deduplicated by mapped
// signal (Scenario B: two causes that map to the same signal publish
// once). It must be called exactly once, when the application transitions
// to ready; subsequent calls are no-ops.
func (a *Aggregator) DrainStartup() {
	a.mu.Lock()
	if a.readyToPublish {
		a.mu.Unlock()
		return
	}
	word := a.word
	a.readyToPublish = true
	a.mu.Unlock()

	published := make(map[Signal]bool)
	for c := NoErrorCause + 1; c < numCauses; c++ {
		if word&(1<<uint(c)) == 0 {
			continue
		}
		sig := SignalFor(c)
		a.logCause(c, sig, true)
		if published[sig] {
			continue
		}
		published[sig] = true
		a.pub.Publish(Event{Cause: c, Signal: sig, Set: true})
	}
}

// Ready reports whether DrainStartup has already run.
func (a *Aggregator) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readyToPublish
}

// SetHeartbeatPeriod and HeartbeatPeriod are a simple accessor pair; the
// heartbeat LED period lives on the aggregator only because the original
// embedding file held it there (see design notes on moving it out).
func (a *Aggregator) SetHeartbeatPeriod(ms uint32) {
	a.heartbeatMu.Lock()
	a.heartbeatMS = ms
	a.heartbeatMu.Unlock()
}

func (a *Aggregator) HeartbeatPeriod() uint32 {
	a.heartbeatMu.Lock()
	defer a.heartbeatMu.Unlock()
	return a.heartbeatMS
}
