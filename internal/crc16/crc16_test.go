package crc16

import "testing"

func TestRoundTripAppendedChecksum(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	crc := Checksum(0, payload)
	var trailer [2]byte
	trailer[0] = byte(crc)
	trailer[1] = byte(crc >> 8)

	full := append(append([]byte{}, payload...), trailer[:]...)
	got := Checksum(0, full[:len(full)-2])
	want := uint16(full[len(full)-2]) | uint16(full[len(full)-1])<<8
	if got != want {
		t.Fatalf("crc16 mismatch: got %#x want %#x", got, want)
	}
}

func TestChecksumSeeded(t *testing.T) {
	a := Checksum(0, []byte{1, 2, 3})
	b := Checksum(0, []byte{1})
	b = Update(b, 2)
	b = Update(b, 3)
	if a != b {
		t.Fatalf("incremental checksum %#x != batch checksum %#x", b, a)
	}
}
