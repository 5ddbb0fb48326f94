// Package devicemgr is the Device Manager: it sweeps the four 1-Wire
// buses, classifies every ROM ID it finds by family code, keeps each
// device's paged EEPROM record in sync, runs the Handle round-trip
// self-test, and reports raw connect/disconnect presence transitions —
// the physical ordering rule on top of those transitions is faultbridge's
// job, not this package's.
package devicemgr

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"handlecore.dev/fault"
	"handlecore.dev/internal/crc16"
	"handlecore.dev/onewire"
)

// ScanPeriod is how often the manager's Run loop sweeps all four buses.
const ScanPeriod = 200 * time.Millisecond

const (
	eepromPageSize  = 32
	eepromNumPages  = 2
	eepromTotalSize = eepromPageSize * eepromNumPages
	crcFieldSize    = 2
)

// Kind classifies a device by its 1-Wire family code.
type Kind int

const (
	KindUnknown Kind = iota
	KindHandle
	KindClamshell
	KindAdapter
	KindReload
	KindCartridge
	KindBattery
	KindRTC
)

func (k Kind) String() string {
	switch k {
	case KindHandle:
		return "handle"
	case KindClamshell:
		return "clamshell"
	case KindAdapter:
		return "adapter"
	case KindReload:
		return "reload"
	case KindCartridge:
		return "cartridge"
	case KindBattery:
		return "battery"
	case KindRTC:
		return "rtc"
	default:
		return "unknown"
	}
}

// Ordinal is this Kind's position in the Handle -> Clamshell -> Adapter ->
// Reload -> Cartridge connect ordering, or -1 if it sits outside that
// chain (Battery, RTC, Unknown are never ordering-gated). faultbridge
// uses this to enforce the physical-order connect/disconnect rule without
// duplicating the ordinal table.
func (k Kind) Ordinal() int {
	switch k {
	case KindHandle:
		return 0
	case KindClamshell:
		return 1
	case KindAdapter:
		return 2
	case KindReload:
		return 3
	case KindCartridge:
		return 4
	default:
		return -1
	}
}

// OrderedKinds lists the kinds subject to the ordering rule, in connect
// order. Disconnects walk it in reverse.
var OrderedKinds = []Kind{KindHandle, KindClamshell, KindAdapter, KindReload, KindCartridge}

// Family codes, matching the teacher's onewire.FamilyEEPROM/FamilyRTC
// convention: the low byte of a DeviceID selects the physical device
// class.
const (
	FamilyHandle    = 0x01
	FamilyClamshell = 0x02
	FamilyAdapter   = 0x03
	FamilyReload    = 0x04
	FamilyCartridge = 0x05
	FamilyBattery   = 0x06
	FamilyRTC       = onewire.FamilyRTC
)

func classify(id onewire.DeviceID) Kind {
	switch id.Family() {
	case FamilyHandle:
		return KindHandle
	case FamilyClamshell:
		return KindClamshell
	case FamilyAdapter:
		return KindAdapter
	case FamilyReload:
		return KindReload
	case FamilyCartridge:
		return KindCartridge
	case FamilyBattery:
		return KindBattery
	case FamilyRTC:
		return KindRTC
	default:
		return KindUnknown
	}
}

var ErrReadFail = errors.New("devicemgr: eeprom read failed crc check")

// Bus is the per-bus operations the manager needs from the transport
// layer: scan for present devices and page-wise EEPROM read/write.
type Bus interface {
	Scan(bus onewire.Bus, scanType onewire.ScanType, capacity int) ([]onewire.DeviceID, onewire.Status)
	EEPROMReadPage(bus onewire.Bus, id onewire.DeviceID, page int, buf []byte) onewire.Status
	EEPROMWritePage(bus onewire.Bus, id onewire.DeviceID, page int, buf []byte) onewire.Status
}

// Record is one device's decoded EEPROM content: the fields the round-trip
// self-test and EOL checks need, plus the raw page bytes for anything the
// manager doesn't interpret itself.
type Record struct {
	ID             onewire.DeviceID
	Kind           Kind
	Raw            [eepromTotalSize]byte
	ProcedureCount uint16
	ProcedureLimit uint16
	FireCount      uint16
	FireLimit      uint16
}

// procedureCountOffset / fireCountOffset / limit offsets follow the
// teacher's MemoryLayoutHandle_Ver2 field order: procedure count, fire
// count, then their configured limits, all as little-endian uint16s near
// the front of the record.
const (
	offProcedureCount = 0
	offFireCount      = 2
	offProcedureLimit = 4
	offFireLimit      = 6
)

func decodeRecord(id onewire.DeviceID, raw [eepromTotalSize]byte) Record {
	return Record{
		ID:             id,
		Kind:           classify(id),
		Raw:            raw,
		ProcedureCount: binary.LittleEndian.Uint16(raw[offProcedureCount:]),
		FireCount:      binary.LittleEndian.Uint16(raw[offFireCount:]),
		ProcedureLimit: binary.LittleEndian.Uint16(raw[offProcedureLimit:]),
		FireLimit:      binary.LittleEndian.Uint16(raw[offFireLimit:]),
	}
}

func readEEPROM(bus Bus, b onewire.Bus, id onewire.DeviceID) (Record, error) {
	var raw [eepromTotalSize]byte
	for page := 0; page < eepromNumPages; page++ {
		if st := bus.EEPROMReadPage(b, id, page, raw[page*eepromPageSize:(page+1)*eepromPageSize]); st != onewire.StatusOK {
			return Record{}, st.Err()
		}
	}
	got := binary.LittleEndian.Uint16(raw[eepromTotalSize-crcFieldSize:])
	want := crc16.Checksum(0, raw[:eepromTotalSize-crcFieldSize])
	if got != want {
		return Record{}, ErrReadFail
	}
	return decodeRecord(id, raw), nil
}

func writeEEPROM(bus Bus, b onewire.Bus, rec *Record) error {
	binary.LittleEndian.PutUint16(rec.Raw[offProcedureCount:], rec.ProcedureCount)
	binary.LittleEndian.PutUint16(rec.Raw[offFireCount:], rec.FireCount)
	binary.LittleEndian.PutUint16(rec.Raw[eepromTotalSize-crcFieldSize:], crc16.Checksum(0, rec.Raw[:eepromTotalSize-crcFieldSize]))
	for page := 0; page < eepromNumPages; page++ {
		if st := bus.EEPROMWritePage(b, rec.ID, page, rec.Raw[page*eepromPageSize:(page+1)*eepromPageSize]); st != onewire.StatusOK {
			return st.Err()
		}
	}
	return nil
}

// presence is the per-slot state the manager tracks: whether a device of
// this Kind is currently present on the bus, and its last-read EEPROM
// record.
type presence struct {
	present bool
	record  Record
}

// Manager owns the last-known device set. It reports every raw presence
// transition it observes through Lifecycle, in no defined order —
// the ordering rule (Handle before Clamshell before Adapter...) is
// faultbridge's job, not the scan loop's, so that the two concerns stay
// independently testable.
type Manager struct {
	bus    Bus
	faults *fault.Aggregator

	mu     sync.Mutex
	slots  map[Kind]*presence
	hwVer  HWVersion
	onTest func(ok bool)

	Lifecycle func(kind Kind, connected bool)
}

// New constructs a Manager. faults may be nil in tests that don't care
// about fault propagation.
func New(bus Bus, faults *fault.Aggregator) *Manager {
	return &Manager{
		bus:    bus,
		faults: faults,
		slots:  make(map[Kind]*presence),
	}
}

// Sweep enumerates all four buses, diffs against the last-known set, reads
// new devices' EEPROM, and reports each raw presence transition through
// Lifecycle in map-iteration order, which is unspecified (and unrelated to
// the connect/disconnect chain — see faultbridge for the ordering gate). It is safe
// to call repeatedly from a timer-driven loop.
func (m *Manager) Sweep(ctx context.Context) error {
	present := make(map[Kind]onewire.DeviceID)
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	for b := onewire.Bus(0); b < onewire.BusCount; b++ {
		b := b
		g.Go(func() error {
			ids, st := m.bus.Scan(b, onewire.ScanFull, 16)
			if st != onewire.StatusOK && st != onewire.StatusBusError {
				return st.Err()
			}
			for _, id := range ids {
				kind := classify(id)
				if kind == KindUnknown {
					continue
				}
				mu.Lock()
				present[kind] = id
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for kind, id := range present {
		slot := m.slots[kind]
		if slot == nil {
			slot = &presence{}
			m.slots[kind] = slot
		}
		if slot.present {
			continue
		}
		bus := busFor(kind)
		rec, err := readEEPROM(m.bus, bus, id)
		if err != nil {
			m.raise(fault.PermfailOnewireReadFail)
			continue
		}
		slot.present = true
		slot.record = rec
		if kind == KindHandle {
			m.handleFirstSeen(bus, slot)
		}
		if m.Lifecycle != nil {
			m.Lifecycle(kind, true)
		}
	}
	for kind, slot := range m.slots {
		if _, ok := present[kind]; !ok && slot.present {
			slot.present = false
			if m.Lifecycle != nil {
				m.Lifecycle(kind, false)
			}
		}
	}

	return nil
}

func busFor(kind Kind) onewire.Bus {
	switch kind {
	case KindHandle, KindClamshell:
		return onewire.BusLocal
	case KindAdapter, KindReload, KindCartridge:
		return onewire.BusConnectors
	default:
		return onewire.BusExp
	}
}

func (m *Manager) raise(cause fault.Cause) {
	if m.faults != nil {
		m.faults.Set(cause, true)
	}
}

// handleFirstSeen runs the EOL checks and the procedure/fire-count
// round-trip self-test the first time a Handle record is observed. Must
// be called with m.mu held.
func (m *Manager) handleFirstSeen(bus onewire.Bus, slot *presence) {
	rec := slot.record
	if rec.ProcedureLimit <= rec.ProcedureCount {
		m.raise(fault.HandleEolZeroProcedureCount)
	}
	if rec.FireLimit <= rec.FireCount {
		m.raise(fault.HandleEolZeroFireCount)
	}
	if rec.ProcedureLimit > rec.ProcedureCount || rec.FireLimit > rec.FireCount {
		ok := m.procedureFireCountTest(bus, &slot.record)
		if m.onTest != nil {
			m.onTest(ok)
		}
		if !ok {
			m.raise(fault.HandleProcedureFireCountTestFailed)
		}
	}
}

// procedureFireCountTest is the Handle round-trip self-test: read current
// counts, increment, rewrite, read back and verify the increment stuck,
// then decrement and rewrite to restore the original values.
func (m *Manager) procedureFireCountTest(bus onewire.Bus, rec *Record) bool {
	origProc, origFire := rec.ProcedureCount, rec.FireCount

	rec.ProcedureCount++
	rec.FireCount++
	if err := writeEEPROM(m.bus, bus, rec); err != nil {
		return false
	}
	readBack, err := readEEPROM(m.bus, bus, rec.ID)
	if err != nil {
		return false
	}
	if readBack.ProcedureCount != origProc+1 || readBack.FireCount != origFire+1 {
		return false
	}

	rec.ProcedureCount = origProc
	rec.FireCount = origFire
	if err := writeEEPROM(m.bus, bus, rec); err != nil {
		return false
	}
	readBack, err = readEEPROM(m.bus, bus, rec.ID)
	if err != nil {
		return false
	}
	return readBack.ProcedureCount == origProc && readBack.FireCount == origFire
}

// Run sweeps every ScanPeriod until stop is closed. An error from Sweep is
// discarded: it is neither logged nor raised as a fault, and the loop
// keeps running.
func (m *Manager) Run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(ScanPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Present reports whether a device of kind is currently tracked as
// present.
func (m *Manager) Present(kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := m.slots[kind]
	return slot != nil && slot.present
}
