// Package simbus is a host-side simulator for the 1-Wire bus-master chip,
// used by integration tests that want to exercise onewire/link against a
// real serial transport instead of a bus-master chip wired to actual
// peripherals. It mirrors the teacher's mjolnir driver: dial a serial
// device, frame commands, and serialize access to the wire with a
// channel-gated writer.
package simbus

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/tarm/serial"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"
)

const (
	baudRate = 115200
	// frame layout: [reg, ...payload] request; the reply is the requested
	// data bytes only.
	maxFrame = 16
)

var ErrNoDevice = errors.New("simbus: no simulator device specified")

// Sim is a simulated bus-master chip reached over a serial link, used as
// an onewire/link.Bus implementation in integration tests run against a
// bench simulator rather than real hardware.
type Sim struct {
	port io.ReadWriteCloser
	rw   *bufio.ReadWriter
	lock chan struct{}
}

// Open dials the serial device dev and returns a ready Sim. An empty dev
// returns ErrNoDevice; no default device is chosen.
func Open(dev string) (*Sim, error) {
	if dev == "" {
		return nil, ErrNoDevice
	}
	c := &serial.Config{Name: dev, Baud: baudRate}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("simbus: open %s: %w", dev, err)
	}
	s := &Sim{
		port: port,
		rw:   bufio.NewReadWriter(bufio.NewReader(port), bufio.NewWriter(port)),
		lock: make(chan struct{}, 1),
	}
	s.lock <- struct{}{}
	return s, nil
}

func (s *Sim) Close() error {
	return s.port.Close()
}

// Tx implements onewire/link.Bus: a single write-then-read transaction,
// serialized against concurrent callers the same way mjolnir.Program
// serializes writes with a one-slot channel mutex.
func (s *Sim) Tx(w, r []byte) error {
	<-s.lock
	defer func() { s.lock <- struct{}{} }()

	if len(w) > maxFrame {
		return fmt.Errorf("simbus: request too large (%d > %d)", len(w), maxFrame)
	}
	if _, err := s.rw.Write(w); err != nil {
		return fmt.Errorf("simbus: write: %w", err)
	}
	if err := s.rw.Flush(); err != nil {
		return fmt.Errorf("simbus: flush: %w", err)
	}
	if len(r) == 0 {
		return nil
	}
	if _, err := io.ReadFull(s.rw, r); err != nil {
		return fmt.Errorf("simbus: read: %w", err)
	}
	return nil
}

// DeriveAuthKey stands in for the bus-master chip's delegated SHA-256
// challenge-response engine (the real authentication scheme is explicitly
// out of scope — see Non-goals). It derives a per-session MAC key from a
// shared secret and a device-specific salt via HKDF-SHA256, so integration
// tests can simulate "authenticate fail" without implementing the real
// 1-Wire SHA-256 protocol.
func DeriveAuthKey(secret, salt []byte) ([]byte, error) {
	hk := hkdf.New(sha256.New, secret, salt, []byte("simbus-auth"))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, fmt.Errorf("simbus: derive auth key: %w", err)
	}
	return key, nil
}
