// Package link is the 1-Wire Link layer: a register-level driver for the
// shared bus-master chip, talked to over I²C. It is grounded on the
// DS2465-equivalent register map and timing rules of the original firmware
// (reset pulse, single-bit, byte read/write, speed/pullup configuration,
// sleep/wake), adapted to the Go register-driver idiom the other chip
// drivers in the examples pack use (a narrow transport interface plus a
// batched register-write helper).
package link

import (
	"time"

	"handlecore.dev/onewire"
)

// Register addresses on the bus-master chip.
const (
	regFunc         = 0x60
	regMasterStatus = 0x61
	regReadData     = 0x62
	regMstConfig    = 0x67
	regTRSTL        = 0x68
	regTMSP         = 0x69
	regTW0L         = 0x6a
	regTREC0        = 0x6b
	regRWPU         = 0x6c
	regTW1L         = 0x6d
	regManufID1     = 0x71
	regManufID2     = 0x72
)

// Command functions, written through regFunc.
const (
	funcMasterReset = 0xf0
	funcResetPulse  = 0xb4
	funcSingleBit   = 0x87
	funcWriteByte   = 0xa5
	funcReadByte    = 0x96
)

// Master configuration register bit masks.
const (
	cfgAPU = 0x01 // active pullup enable
	cfgPDN = 0x02 // 1-Wire power down / force reset
	cfgSPU = 0x04 // strong pullup enable
	cfg1WS = 0x08 // 1-Wire speed, 1 = overdrive
)

// Master status register bit masks.
const (
	statusBusy    = 0x01
	statusPPD     = 0x02 // presence pulse detect
	statusShort   = 0x04 // bus short detect
	statusLogic   = 0x08
	statusReset   = 0x10
	statusSBR     = 0x20 // single-bit command result
	statusTSB     = 0x40
	statusDir     = 0x80
)

const (
	covidienManufID1 = 0x60
	covidienManufID2 = 0x00

	idleWaitRetries = 10
	idleWaitDelay   = time.Millisecond

	masterIDProbeRetries = 5

	tW0LOverdrive = 0x33 // 6.5 us
	tW1LOverdrive = 0x03 // 0.75 us
)

// Bus is the narrow I²C transport the Link layer needs: a single combined
// write-then-read transaction, matching periph.io/x/conn/v3/i2c.Dev's
// Tx(w, r []byte) error signature so production code wires a real
// periph.io i2c.Dev{Addr: 0x18, Bus: ...} directly, while tests supply a
// fake.
type Bus interface {
	Tx(w, r []byte) error
}

// Link drives one bus-master chip shared by every 1-Wire port.
type Link struct {
	bus Bus

	speed  onewire.Speed
	pullup onewire.Pullup
	dirty  bool // PendingConfig: set_speed/set_pullup staged but not flushed
}

// New constructs a Link over the given I²C transport. Call Init before any
// other operation.
func New(bus Bus) *Link {
	return &Link{bus: bus, speed: onewire.SpeedStandard, pullup: onewire.PullupPassive}
}

func (l *Link) writeReg(reg byte, v byte) error {
	return l.bus.Tx([]byte{reg, v}, nil)
}

func (l *Link) readReg(reg byte, n int) ([]byte, error) {
	out := make([]byte, n)
	if err := l.bus.Tx([]byte{reg}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Link) runFunction(fn byte, data []byte) error {
	buf := append([]byte{regFunc, fn}, data...)
	return l.bus.Tx(buf, nil)
}

func (l *Link) status() (byte, error) {
	b, err := l.readReg(regMasterStatus, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// waitIdle polls the busy bit up to idleWaitRetries times, sleeping
// idleWaitDelay between polls, matching OwLinkWaitForIdle's fixed retry
// budget exactly.
func (l *Link) waitIdle() (byte, onewire.Status) {
	var st byte
	for i := 0; i < idleWaitRetries; i++ {
		s, err := l.status()
		if err != nil {
			return 0, translateI2CError(err)
		}
		st = s
		if st&statusBusy == 0 {
			return st, onewire.StatusOK
		}
		time.Sleep(idleWaitDelay)
	}
	return st, onewire.StatusBusy
}

// translateI2CError maps a transport-level error to a 1-Wire status, the
// same fixed mapping OwErrorTranslate performs. Any I²C failure we cannot
// characterize more precisely becomes a bus error, since the most common
// root cause on this hardware is a stuck or shorted bus.
func translateI2CError(err error) onewire.Status {
	if err == nil {
		return onewire.StatusOK
	}
	return onewire.StatusBusError
}

// Init probes the master's manufacturer-ID registers, retrying up to 5
// times before declaring a permanent communication failure.
func (l *Link) Init() onewire.Status {
	if err := l.runFunction(funcMasterReset, nil); err != nil {
		return translateI2CError(err)
	}
	var last onewire.Status
	for attempt := 0; attempt < masterIDProbeRetries; attempt++ {
		id1, err := l.readReg(regManufID1, 1)
		if err != nil {
			last = translateI2CError(err)
			continue
		}
		id2, err := l.readReg(regManufID2, 1)
		if err != nil {
			last = translateI2CError(err)
			continue
		}
		if id1[0] == covidienManufID1 && id2[0] == covidienManufID2 {
			return onewire.StatusOK
		}
		last = onewire.StatusError
	}
	return last
}

// UpdateConfig flushes any staged speed/pullup change to the master. It
// and Reset (which calls it before every reset pulse) are the only places
// the batched configuration is written, resolving the PendingConfig ambiguity explicitly: callers that
// change speed then pullup between a reset and the next bus operation see
// a single flush at the next UpdateConfig or Reset, never a partial one.
func (l *Link) UpdateConfig() onewire.Status {
	if !l.dirty {
		return onewire.StatusOK
	}
	cfg := byte(0)
	if l.pullup == onewire.PullupActive {
		cfg |= cfgAPU
	}
	if l.pullup == onewire.PullupStrong {
		cfg |= cfgSPU
	}
	if l.speed == onewire.SpeedOverdrive {
		cfg |= cfg1WS
	}
	if err := l.writeReg(regMstConfig, (cfg&0x0f)|(^cfg<<4)); err != nil {
		return translateI2CError(err)
	}
	l.dirty = false
	return onewire.StatusOK
}

// SetSpeed stages a speed change; it is flushed by the next UpdateConfig or
// Reset, never written immediately.
func (l *Link) SetSpeed(s onewire.Speed) onewire.Status {
	l.speed = s
	l.dirty = true
	return onewire.StatusOK
}

// SetPullup stages a pullup mode change with the same batching as SetSpeed.
func (l *Link) SetPullup(p onewire.Pullup) onewire.Status {
	l.pullup = p
	l.dirty = true
	return onewire.StatusOK
}

// Reset issues a presence pulse and reports whether any slave answered.
// Any staged configuration is flushed first, matching OwNetworkCommand's
// call to OwLinkUpdateConfig before every reset.
func (l *Link) Reset() (present bool, status onewire.Status) {
	if st := l.UpdateConfig(); st != onewire.StatusOK {
		return false, st
	}
	if err := l.runFunction(funcResetPulse, nil); err != nil {
		return false, translateI2CError(err)
	}
	st, wait := l.waitIdle()
	if wait != onewire.StatusOK {
		return false, wait
	}
	if st&statusShort != 0 {
		return false, onewire.StatusBusError
	}
	return st&statusPPD != 0, onewire.StatusOK
}

// WriteBit transmits one bit and returns the line state the master
// observed, needed by the search algorithm's two-bit conflict read.
func (l *Link) WriteBit(value bool) (actual bool, status onewire.Status) {
	v := byte(0)
	if value {
		v = 0x80
	}
	if err := l.runFunction(funcSingleBit, []byte{v}); err != nil {
		return false, translateI2CError(err)
	}
	st, wait := l.waitIdle()
	if wait != onewire.StatusOK {
		return false, wait
	}
	return st&statusSBR != 0, onewire.StatusOK
}

func (l *Link) interByteDelay() time.Duration {
	if l.speed == onewire.SpeedOverdrive {
		return 11 * time.Microsecond
	}
	return 530 * time.Microsecond
}

// WriteByte transmits one byte, honoring the speed-dependent inter-byte
// settle delay.
func (l *Link) WriteByte(b byte) onewire.Status {
	if err := l.runFunction(funcWriteByte, []byte{b}); err != nil {
		return translateI2CError(err)
	}
	_, wait := l.waitIdle()
	if wait != onewire.StatusOK {
		return wait
	}
	time.Sleep(l.interByteDelay())
	return onewire.StatusOK
}

// ReadByte reads one byte from the bus.
func (l *Link) ReadByte() (byte, onewire.Status) {
	if err := l.runFunction(funcReadByte, nil); err != nil {
		return 0, translateI2CError(err)
	}
	_, wait := l.waitIdle()
	if wait != onewire.StatusOK {
		return 0, wait
	}
	b, err := l.readReg(regReadData, 1)
	if err != nil {
		return 0, translateI2CError(err)
	}
	time.Sleep(l.interByteDelay())
	return b[0], onewire.StatusOK
}

// Sleep toggles the master's power-down input. Waking always reissues a
// reset afterward, independent of the PendingConfig flush path, and
// reprograms the overdrive write-low timing registers so overdrive speed
// survives a sleep/wake cycle.
func (l *Link) Sleep(asleep bool) onewire.Status {
	cfg := byte(0)
	if asleep {
		cfg = cfgPDN
	}
	if err := l.writeReg(regMstConfig, cfg); err != nil {
		return translateI2CError(err)
	}
	if asleep {
		return onewire.StatusOK
	}
	if err := l.writeReg(regTW0L, tW0LOverdrive); err != nil {
		return translateI2CError(err)
	}
	if err := l.writeReg(regTW1L, tW1LOverdrive); err != nil {
		return translateI2CError(err)
	}
	_, status := l.Reset()
	return status
}
