package transport

import (
	"testing"

	"handlecore.dev/onewire"
)

// scriptedNetwork replays a fixed sequence of Search results, one per
// call, so Scan's loop termination conditions can be tested without a
// real bus.
type scriptedNetwork struct {
	results []onewire.SearchContext
	statuses []onewire.Status
	call    int
}

func (s *scriptedNetwork) Search(ctx *onewire.SearchContext) onewire.Status {
	if s.call >= len(s.results) {
		ctx.RomID = 0
		return onewire.StatusOK
	}
	*ctx = s.results[s.call]
	st := s.statuses[s.call]
	s.call++
	return st
}

func (s *scriptedNetwork) DeviceCheck(onewire.DeviceID) onewire.Status   { return onewire.StatusOK }
func (s *scriptedNetwork) Select(onewire.DeviceID) onewire.Status        { return onewire.StatusOK }
func (s *scriptedNetwork) Send([]byte) onewire.Status                    { return onewire.StatusOK }
func (s *scriptedNetwork) Recv([]byte) onewire.Status                    { return onewire.StatusOK }
func (s *scriptedNetwork) SetSpeed(onewire.Speed) onewire.Status         { return onewire.StatusOK }
func (s *scriptedNetwork) Enable(bool) onewire.Status                    { return onewire.StatusOK }
func (s *scriptedNetwork) Reset() onewire.Status                         { return onewire.StatusOK }

// Invariant 3: searching an empty bus returns ok and a device count of 0.
func TestScanEmptyBus(t *testing.T) {
	net := &scriptedNetwork{
		results:  []onewire.SearchContext{{RomID: 0}},
		statuses: []onewire.Status{onewire.StatusOK},
	}
	tr := New(net)
	found, status := tr.Scan(onewire.BusClamshell, onewire.ScanFull, 8)
	if status != onewire.StatusOK {
		t.Fatalf("status = %v, want StatusOK", status)
	}
	if len(found) != 0 {
		t.Fatalf("found %d devices, want 0", len(found))
	}
}

// Invariant 4: scanning a bus with n devices and sufficient capacity
// returns n unique ROM IDs.
func TestScanMultipleDevices(t *testing.T) {
	ids := []onewire.DeviceID{0x1111, 0x2222, 0x3333}
	net := &scriptedNetwork{}
	for i, id := range ids {
		last := i == len(ids)-1
		net.results = append(net.results, onewire.SearchContext{RomID: id, LastDevice: last})
		net.statuses = append(net.statuses, onewire.StatusOK)
	}
	tr := New(net)
	found, status := tr.Scan(onewire.BusClamshell, onewire.ScanFull, 8)
	if status != onewire.StatusOK {
		t.Fatalf("status = %v", status)
	}
	if len(found) != len(ids) {
		t.Fatalf("found %d devices, want %d", len(found), len(ids))
	}
	for i, id := range ids {
		if found[i] != id {
			t.Fatalf("found[%d] = %s, want %s", i, found[i], id)
		}
	}
}

func TestScanRespectsCapacity(t *testing.T) {
	net := &scriptedNetwork{
		results: []onewire.SearchContext{
			{RomID: 1}, {RomID: 2}, {RomID: 3},
		},
		statuses: []onewire.Status{onewire.StatusOK, onewire.StatusOK, onewire.StatusOK},
	}
	tr := New(net)
	found, status := tr.Scan(onewire.BusClamshell, onewire.ScanFull, 2)
	if status != onewire.StatusOK {
		t.Fatalf("status = %v", status)
	}
	if len(found) != 2 {
		t.Fatalf("found %d devices, want 2 (capacity)", len(found))
	}
}

func TestScanBusShortNoDevice(t *testing.T) {
	net := &scriptedNetwork{
		results:  []onewire.SearchContext{{RomID: 0}},
		statuses: []onewire.Status{onewire.StatusBusError},
	}
	tr := New(net)
	found, status := tr.Scan(onewire.BusClamshell, onewire.ScanFull, 8)
	if status != onewire.StatusBusError {
		t.Fatalf("status = %v, want StatusBusError", status)
	}
	if len(found) != 0 {
		t.Fatalf("found %d devices, want 0 for a shorted bus", len(found))
	}
}

func TestReceiveEmptyBufferTerminatesTransfer(t *testing.T) {
	net := &scriptedNetwork{}
	tr := New(net)
	if st := tr.Receive(nil); st != onewire.StatusOK {
		t.Fatalf("Receive(nil) = %v, want StatusOK (reset)", st)
	}
}
