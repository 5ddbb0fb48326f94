package devicemgr

import (
	"context"
	"encoding/binary"
	"testing"

	"handlecore.dev/fault"
	"handlecore.dev/internal/crc16"
	"handlecore.dev/onewire"
)

// fakeBus is an in-memory Bus: each device's EEPROM lives in a byte slice
// keyed by (bus, id), and Scan reports whatever set of ids is currently
// registered as present.
type fakeBus struct {
	present map[onewire.Bus][]onewire.DeviceID
	eeprom  map[onewire.DeviceID][eepromTotalSize]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		present: make(map[onewire.Bus][]onewire.DeviceID),
		eeprom:  make(map[onewire.DeviceID][eepromTotalSize]byte),
	}
}

func (f *fakeBus) Scan(bus onewire.Bus, scanType onewire.ScanType, capacity int) ([]onewire.DeviceID, onewire.Status) {
	return f.present[bus], onewire.StatusOK
}

func (f *fakeBus) EEPROMReadPage(bus onewire.Bus, id onewire.DeviceID, page int, buf []byte) onewire.Status {
	raw := f.eeprom[id]
	copy(buf, raw[page*eepromPageSize:(page+1)*eepromPageSize])
	return onewire.StatusOK
}

func (f *fakeBus) EEPROMWritePage(bus onewire.Bus, id onewire.DeviceID, page int, buf []byte) onewire.Status {
	raw := f.eeprom[id]
	copy(raw[page*eepromPageSize:(page+1)*eepromPageSize], buf)
	f.eeprom[id] = raw
	return onewire.StatusOK
}

func (f *fakeBus) putDevice(bus onewire.Bus, id onewire.DeviceID, procCount, procLimit, fireCount, fireLimit uint16) {
	var raw [eepromTotalSize]byte
	binary.LittleEndian.PutUint16(raw[offProcedureCount:], procCount)
	binary.LittleEndian.PutUint16(raw[offFireCount:], fireCount)
	binary.LittleEndian.PutUint16(raw[offProcedureLimit:], procLimit)
	binary.LittleEndian.PutUint16(raw[offFireLimit:], fireLimit)
	binary.LittleEndian.PutUint16(raw[eepromTotalSize-crcFieldSize:], crc16.Checksum(0, raw[:eepromTotalSize-crcFieldSize]))
	f.eeprom[id] = raw
	f.present[bus] = append(f.present[bus], id)
}

func deviceID(family byte, serial uint8) onewire.DeviceID {
	return onewire.DeviceID(family) | onewire.DeviceID(serial)<<8
}

func TestClassifyByFamilyCode(t *testing.T) {
	cases := []struct {
		family byte
		want   Kind
	}{
		{FamilyHandle, KindHandle},
		{FamilyClamshell, KindClamshell},
		{FamilyAdapter, KindAdapter},
		{FamilyReload, KindReload},
		{FamilyCartridge, KindCartridge},
		{FamilyBattery, KindBattery},
		{FamilyRTC, KindRTC},
		{0xEE, KindUnknown},
	}
	for _, c := range cases {
		if got := classify(deviceID(c.family, 1)); got != c.want {
			t.Errorf("classify(family %#x) = %v, want %v", c.family, got, c.want)
		}
	}
}

// The scan loop itself reports presence transitions as soon as it
// observes them, with no ordering gate — that enforcement belongs to
// faultbridge (see faultbridge package tests), so a device detected out
// of physical order still fires Lifecycle immediately here.
func TestSweepReportsRawTransitionsImmediately(t *testing.T) {
	bus := newFakeBus()
	bus.putDevice(onewire.BusConnectors, deviceID(FamilyAdapter, 1), 0, 10, 0, 10)

	var events []Kind
	m := New(bus, nil)
	m.Lifecycle = func(k Kind, connected bool) {
		if connected {
			events = append(events, k)
		}
	}

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(events) != 1 || events[0] != KindAdapter {
		t.Fatalf("expected adapter connect to fire immediately, got %v", events)
	}
}

func TestSweepReportsDisconnectImmediately(t *testing.T) {
	bus := newFakeBus()
	bus.putDevice(onewire.BusLocal, deviceID(FamilyHandle, 1), 0, 10, 0, 10)

	var disconnects []Kind
	m := New(bus, nil)
	m.Lifecycle = func(k Kind, connected bool) {
		if !connected {
			disconnects = append(disconnects, k)
		}
	}
	m.Sweep(context.Background())

	bus.present[onewire.BusLocal] = nil
	m.Sweep(context.Background())
	if len(disconnects) != 1 || disconnects[0] != KindHandle {
		t.Fatalf("expected handle disconnect to fire immediately, got %v", disconnects)
	}
}

func TestReadCRCMismatchRaisesReadFail(t *testing.T) {
	bus := newFakeBus()
	id := deviceID(FamilyHandle, 3)
	var raw [eepromTotalSize]byte // CRC-16 of 62 zero bytes is 0, so the 0xFF00 stored below cannot match
	raw[eepromTotalSize-1] = 0xFF
	bus.eeprom[id] = raw
	bus.present[onewire.BusLocal] = []onewire.DeviceID{id}

	var published []fault.Event
	agg := fault.New(nil, fault.PublisherFunc(func(e fault.Event) { published = append(published, e) }))
	m := New(bus, agg)
	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if m.Present(KindHandle) {
		t.Fatal("device with bad CRC should not be marked present")
	}
	agg.DrainStartup()
	if len(published) != 1 || published[0].Cause != fault.PermfailOnewireReadFail {
		t.Fatalf("expected one PermfailOnewireReadFail publication, got %+v", published)
	}
}

func TestHandleRoundTripSelfTestPassesOnGoodEEPROM(t *testing.T) {
	bus := newFakeBus()
	id := deviceID(FamilyHandle, 4)
	bus.putDevice(onewire.BusLocal, id, 5, 100, 5, 100)

	var sawResult *bool
	m := New(bus, nil)
	m.onTest = func(ok bool) { sawResult = &ok }

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sawResult == nil || !*sawResult {
		t.Fatalf("expected round-trip self-test to pass, got %v", sawResult)
	}
	raw := bus.eeprom[id]
	if got := binary.LittleEndian.Uint16(raw[offProcedureCount:]); got != 5 {
		t.Fatalf("procedure count not restored: got %d, want 5", got)
	}
}

func TestCalculateHWVersion(t *testing.T) {
	if v := calculateHWVersion(7680); v != HWVerNone {
		t.Errorf("7680 = %v, want none", v)
	}
	if v := calculateHWVersion(25652); v != HWVer5 {
		t.Errorf("25652 = %v, want v5", v)
	}
	if v := calculateHWVersion(30223); v != HWVer4 {
		t.Errorf("30223 = %v, want v4", v)
	}
	if v := calculateHWVersion(1); v != HWVerNone {
		t.Errorf("1 = %v, want none (no range matches)", v)
	}
}
