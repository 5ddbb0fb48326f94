// Package transport is the 1-Wire Transport layer: one search context per
// physical bus, device-list scanning, and pass-through send/receive.
package transport

import (
	"handlecore.dev/onewire"
)

// Network is the subset of the network layer's contract the transport
// layer needs.
type Network interface {
	Search(ctx *onewire.SearchContext) onewire.Status
	DeviceCheck(addr onewire.DeviceID) onewire.Status
	Select(addr onewire.DeviceID) onewire.Status
	Send(data []byte) onewire.Status
	Recv(buf []byte) onewire.Status
	SetSpeed(s onewire.Speed) onewire.Status
	Enable(enable bool) onewire.Status
	Reset() onewire.Status
}

// Transport holds one search context per bus and exposes the scan/
// send/receive surface the Device Manager drives.
type Transport struct {
	net Network
	ctx [onewire.BusCount]onewire.SearchContext
}

// New constructs a Transport with all bus contexts reset to defaults.
func New(net Network) *Transport {
	t := &Transport{net: net}
	t.ResetContexts()
	return t
}

// ResetContexts restores every bus's search context to its post-init
// defaults.
func (t *Transport) ResetContexts() {
	for i := range t.ctx {
		t.ctx[i].Reset(onewire.Bus(i))
	}
}

// Scan iterates the search algorithm on bus until the context's
// last-device flag is set, the caller's capacity is reached, or an error
// occurs. It returns the devices found, which may be fewer than capacity.
//
// A zero-length result combined with StatusBusError unambiguously
// indicates a shorted bus with no device behind the short.
func (t *Transport) Scan(bus onewire.Bus, scanType onewire.ScanType, capacity int) ([]onewire.DeviceID, onewire.Status) {
	if capacity <= 0 || int(bus) >= len(t.ctx) {
		return nil, onewire.StatusParamError
	}
	ctx := &t.ctx[bus]
	ctx.ScanType = scanType

	var found []onewire.DeviceID
	for {
		status := t.net.Search(ctx)
		if status == onewire.StatusBusError && ctx.RomID == 0 {
			return found, onewire.StatusBusError
		}
		if status != onewire.StatusOK {
			return found, onewire.StatusError
		}
		if ctx.RomID == 0 {
			return found, onewire.StatusOK
		}
		found = append(found, ctx.RomID)
		if len(found) >= capacity || ctx.LastDevice {
			return found, onewire.StatusOK
		}
	}
}

// Check reports whether a previously enumerated device is still on the bus.
func (t *Transport) Check(addr onewire.DeviceID) onewire.Status {
	return t.net.DeviceCheck(addr)
}

// Send issues MATCH ROM for device when supplied, then writes data.
// A nil device assumes the caller already selected a device (e.g. via a
// prior Select or because only one device is present and SKIP was used).
func (t *Transport) Send(device *onewire.DeviceID, data []byte) onewire.Status {
	if device != nil {
		if st := t.net.Select(*device); st != onewire.StatusOK {
			return st
		}
	}
	return t.net.Send(data)
}

// Receive reads len(data) bytes. Passing a nil or empty buffer terminates
// the current transfer via a bus reset instead of reading anything.
func (t *Transport) Receive(data []byte) onewire.Status {
	if len(data) == 0 {
		return t.net.Reset()
	}
	return t.net.Recv(data)
}

// Speed is a passthrough to the network/link layers.
func (t *Transport) Speed(s onewire.Speed) onewire.Status {
	return t.net.SetSpeed(s)
}

// Enable toggles the 1-Wire master's power state.
func (t *Transport) Enable(enable bool) onewire.Status {
	return t.net.Enable(enable)
}
