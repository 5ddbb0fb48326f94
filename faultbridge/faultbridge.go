// Package faultbridge is the Adapter/Fault Event Bridge: it turns raw,
// possibly out-of-order device presence transitions from the Device
// Manager into ordering-gated lifecycle signals, and forwards fault
// aggregator events to a single outward Publisher.
package faultbridge

import (
	"sync"

	"handlecore.dev/devicemgr"
	"handlecore.dev/fault"
)

// LifecycleSignal identifies one device connect/disconnect publication.
// Unlike fault.Signal (which the aggregator already owns), these are the
// P_xxx_CONNECTED_SIG / P_xxx_REMOVED_SIG identifiers the original's
// DeviceEventLup table enumerates.
type LifecycleSignal int

const (
	SigNone LifecycleSignal = iota
	SigHandleConnected
	SigHandleRemoved
	SigClamshellConnected
	SigClamshellRemoved
	SigAdapterConnected
	SigAdapterRemoved
	SigReloadConnected
	SigReloadRemoved
	SigCartridgeConnected
	SigCartridgeRemoved
)

func (s LifecycleSignal) String() string {
	switch s {
	case SigHandleConnected:
		return "P_HANDLE_CONNECTED_SIG"
	case SigHandleRemoved:
		return "P_HANDLE_REMOVED_SIG"
	case SigClamshellConnected:
		return "P_CLAMSHELL_CONNECTED_SIG"
	case SigClamshellRemoved:
		return "P_CLAMSHELL_REMOVED_SIG"
	case SigAdapterConnected:
		return "P_ADAPTER_CONNECTED_SIG"
	case SigAdapterRemoved:
		return "P_ADAPTER_REMOVED_SIG"
	case SigReloadConnected:
		return "P_RELOAD_CONNECTED_SIG"
	case SigReloadRemoved:
		return "P_RELOAD_REMOVED_SIG"
	case SigCartridgeConnected:
		return "P_CARTRIDGE_CONNECTED_SIG"
	case SigCartridgeRemoved:
		return "P_CARTRIDGE_REMOVED_SIG"
	default:
		return "R_EMPTY_SIG"
	}
}

// deviceEventLookup is the 2-row x N-column table (row 0 = removed,
// row 1 = connected; column = devicemgr.Kind.Ordinal()), mirroring
// DeviceEventLup. Every cell holds a signal.
var deviceEventLookup = [2][5]LifecycleSignal{
	{SigHandleRemoved, SigClamshellRemoved, SigAdapterRemoved, SigReloadRemoved, SigCartridgeRemoved},
	{SigHandleConnected, SigClamshellConnected, SigAdapterConnected, SigReloadConnected, SigCartridgeConnected},
}

// LifecycleEvent is one ordering-gated device transition.
type LifecycleEvent struct {
	Kind      devicemgr.Kind
	Connected bool
	Signal    LifecycleSignal
}

// LifecyclePublisher receives gated device lifecycle events.
type LifecyclePublisher interface {
	PublishLifecycle(LifecycleEvent)
}

// LifecyclePublisherFunc adapts a plain function to LifecyclePublisher.
type LifecyclePublisherFunc func(LifecycleEvent)

func (f LifecyclePublisherFunc) PublishLifecycle(e LifecycleEvent) { f(e) }

// slot is the per-kind bookkeeping the gate needs: whether the device is
// currently present, and whether its connect (or disconnect) event has
// already been published for the current presence state.
type slot struct {
	present   bool
	published bool
}

// Bridge gates devicemgr's raw presence transitions through the
// Handle -> Clamshell -> Adapter -> Reload -> Cartridge physical
// ordering rule before publishing them to Lifecycle. It does not handle
// fault.Aggregator events; FaultRelay joins the cause and lifecycle
// streams.
type Bridge struct {
	mu    sync.Mutex
	slots [len(devicemgr.OrderedKinds)]slot

	Lifecycle LifecyclePublisher
}

// New constructs an empty Bridge.
func New(lifecycle LifecyclePublisher) *Bridge {
	return &Bridge{Lifecycle: lifecycle}
}

// OnDeviceChanged is devicemgr.Manager.Lifecycle's callback target: report
// every raw presence transition here, in whatever order they're detected.
// The bridge publishes a kind's connect signal only once every
// lower-ordinal kind is present, and its disconnect signal only once no
// higher-ordinal kind remains present, exactly as Signia_AdapterMgrEventPublish
// re-walks the full device list on every call rather than trusting the
// caller's order.
func (b *Bridge) OnDeviceChanged(kind devicemgr.Kind, connected bool) {
	ord := kind.Ordinal()
	if ord < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots[ord].present = connected
	b.reconcile()
}

// reconcile re-walks the ordered chain and publishes every signal whose
// gating condition newly holds. Must be called with b.mu held.
func (b *Bridge) reconcile() {
	allPriorPresent := true
	for ord := range b.slots {
		s := &b.slots[ord]
		if s.present && allPriorPresent && !s.published {
			s.published = true
			b.publish(ord, true)
		}
		if !s.present {
			allPriorPresent = false
		}
	}

	noSuccessorPresent := true
	for ord := len(b.slots) - 1; ord >= 0; ord-- {
		s := &b.slots[ord]
		if !s.present && s.published && noSuccessorPresent {
			s.published = false
			b.publish(ord, false)
		}
		if s.present {
			noSuccessorPresent = false
		}
	}
}

func (b *Bridge) publish(ordinal int, connected bool) {
	if b.Lifecycle == nil {
		return
	}
	row := 0
	if connected {
		row = 1
	}
	sig := deviceEventLookup[row][ordinal]
	b.Lifecycle.PublishLifecycle(LifecycleEvent{
		Kind:      devicemgr.OrderedKinds[ordinal],
		Connected: connected,
		Signal:    sig,
	})
}

// FaultRelay adapts a Bridge (or any LifecyclePublisher-shaped sink) and a
// plain fault.Publisher into the combined view a caller typically wants:
// both cause signals and lifecycle signals flowing to one place. It is
// intentionally thin — the original's cause->signal table already lives
// undivided in the fault package, so there is nothing to duplicate here
// beyond wiring the two streams together.
type FaultRelay struct {
	Causes    fault.Publisher
	Lifecycle LifecyclePublisher
}

func (r FaultRelay) Publish(e fault.Event) {
	if r.Causes != nil {
		r.Causes.Publish(e)
	}
}

func (r FaultRelay) PublishLifecycle(e LifecycleEvent) {
	if r.Lifecycle != nil {
		r.Lifecycle.PublishLifecycle(e)
	}
}
