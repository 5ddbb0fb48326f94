// Package memory adapts the 1-Wire Transport layer into the page-wise
// EEPROM reader/writer devicemgr.Manager drives. It is the command-byte
// layer the original firmware's L4_HandleDefn.c calls straight into
// (L3_OneWireEepromRead/L3_OneWireEepromWrite) without itself defining:
// the family-0x17 EEPROM devices on these buses speak the standard Maxim
// application-note-27 scratchpad protocol, so that is what this package
// implements on top of Transport.Send/Receive.
package memory

import (
	"encoding/binary"
	"time"

	"handlecore.dev/internal/crc16"
	"handlecore.dev/onewire"
	"handlecore.dev/onewire/transport"
)

// EEPROM command bytes, as defined on the wire by AN27.
const (
	cmdWriteScratchpad = 0x0f
	cmdReadScratchpad  = 0xaa
	cmdCopyScratchpad  = 0x55
	cmdReadMemory      = 0xf0
)

// copyDelay is the worst-case time the device needs to commit a verified
// scratchpad to its EEPROM array.
const copyDelay = 10 * time.Millisecond

// Bus adapts a *transport.Transport into devicemgr.Bus. Scan is promoted
// directly from Transport; EEPROMReadPage and EEPROMWritePage are built
// from Transport's Send/Receive primitives.
type Bus struct {
	*transport.Transport
	sleep func(time.Duration)
}

// New wraps t. sleep defaults to time.Sleep; tests substitute a no-op so
// the scratchpad commit delay doesn't slow the suite down.
func New(t *transport.Transport, sleep func(time.Duration)) *Bus {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Bus{Transport: t, sleep: sleep}
}

// EEPROMReadPage issues READ MEMORY at the page's byte offset and reads
// len(buf) bytes back, terminating the transfer with a reset.
func (b *Bus) EEPROMReadPage(bus onewire.Bus, id onewire.DeviceID, page int, buf []byte) onewire.Status {
	addr := uint16(page * len(buf))
	cmd := []byte{cmdReadMemory, byte(addr), byte(addr >> 8)}
	if st := b.Send(&id, cmd); st != onewire.StatusOK {
		return st
	}
	if st := b.Receive(buf); st != onewire.StatusOK {
		return st
	}
	return b.Receive(nil)
}

// EEPROMWritePage writes a page via the scratchpad write/verify/copy
// sequence: stage the data, read it back to confirm the device received it
// intact, then commit.
func (b *Bus) EEPROMWritePage(bus onewire.Bus, id onewire.DeviceID, page int, buf []byte) onewire.Status {
	addr := uint16(page * len(buf))
	es, st := b.writeScratchpad(id, addr, buf)
	if st != onewire.StatusOK {
		return st
	}
	return b.copyScratchpad(id, addr, es)
}

// writeScratchpad stages data at addr, then reads the scratchpad back —
// address, ending offset (ES), the data, and its CRC16 — so a transport
// glitch during the write is caught before anything is committed.
func (b *Bus) writeScratchpad(id onewire.DeviceID, addr uint16, data []byte) (es byte, status onewire.Status) {
	write := append([]byte{cmdWriteScratchpad, byte(addr), byte(addr >> 8)}, data...)
	if st := b.Send(&id, write); st != onewire.StatusOK {
		return 0, st
	}

	// Send re-selects the device (a fresh bus reset + MATCH ROM), so no
	// explicit terminator is needed between the write and this read.
	if st := b.Send(&id, []byte{cmdReadScratchpad}); st != onewire.StatusOK {
		return 0, st
	}
	resp := make([]byte, 3+len(data)+2)
	if st := b.Receive(resp); st != onewire.StatusOK {
		return 0, st
	}
	if st := b.Receive(nil); st != onewire.StatusOK {
		return 0, st
	}

	gotAddr := uint16(resp[0]) | uint16(resp[1])<<8
	gotData := resp[3 : 3+len(data)]
	gotCRC := binary.LittleEndian.Uint16(resp[3+len(data):])
	if gotAddr != addr {
		return 0, onewire.StatusError
	}
	for i, want := range data {
		if gotData[i] != want {
			return 0, onewire.StatusError
		}
	}
	if crc16.Checksum(0, resp[:3+len(data)]) != ^gotCRC {
		return 0, onewire.StatusCRCFail
	}
	return resp[2], onewire.StatusOK
}

// copyScratchpad commits a verified scratchpad write, waiting the
// device's worst-case program time before releasing the bus.
func (b *Bus) copyScratchpad(id onewire.DeviceID, addr uint16, es byte) onewire.Status {
	cmd := []byte{cmdCopyScratchpad, byte(addr), byte(addr >> 8), es}
	if st := b.Send(&id, cmd); st != onewire.StatusOK {
		return st
	}
	b.sleep(copyDelay)
	return b.Receive(nil)
}
