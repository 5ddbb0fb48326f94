// Package kvf is the Key-Value File store: a typed, schema-validated,
// CRC-protected on-disk configuration file that migrates itself in place
// when the compiled-in schema changes shape.
//
// The on-disk format is a small header, a description string, and a
// sequence of self-describing entries. Each entry leads with its own
// size so a reader can skip entries it doesn't recognize, and carries a
// CRC-16 of its key so lookups don't need to compare whole strings
// against every candidate.
package kvf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"handlecore.dev/internal/crc16"
)

const (
	fileTypeID = 0x4b56 // "KV" little-endian
	majorRev   = 1
	minorRev   = 1

	stringValueLen = 64
)

var (
	ErrFileDoesNotExist   = errors.New("kvf: file does not exist")
	ErrFileSystem         = errors.New("kvf: file system error")
	ErrKeyDoesNotExist    = errors.New("kvf: key does not exist")
	ErrKeyTypeMismatch    = errors.New("kvf: key type does not match")
)

// VarType identifies the wire encoding of an entry's payload.
type VarType uint8

const (
	TypeUnknown VarType = iota
	TypeBool
	TypeInt8u
	TypeInt8s
	TypeInt16u
	TypeInt16s
	TypeInt32u
	TypeInt32s
	TypeFp32
	TypeInt64u
	TypeInt64s
	TypeFp64
	TypeString
	TypeEnum
)

// EnumItem is one named value of an enum entry.
type EnumItem struct {
	Name  string
	Value uint32
}

// MapEntry describes one schema entry: its key, type, description, and
// the bounds a default is seeded from. Integer kinds take their default,
// min and max from Default/Min/Max. Float kinds take their default from
// DefaultF64 and their min and max from Min/Max (encoded via
// math.Float*bits at write time). TypeBool uses DefaultBool, TypeString
// uses DefaultStr, and TypeEnum uses Default (as a uint32) plus Items.
type MapEntry struct {
	Type        VarType
	Key         string
	Description string

	Default int64
	Min     int64
	Max     int64

	DefaultBool bool
	DefaultStr  string
	DefaultF64  float64

	Items []EnumItem
}

// Param is a compiled-in schema: a description plus an ordered list of
// entries. Order matters — it is the order entries are written on a
// fresh file or full rewrite.
type Param struct {
	Description string
	Entries     []MapEntry
}

// File is the subset of *os.File the store needs, so callers can supply
// any filesystem wrapper (see the fsys package) without this package
// importing it directly. It is a type alias rather than a new named
// interface so that fsys.FS's own ReadWriteCloser-returning methods
// satisfy FS below with no adapter boilerplate.
type File = io.ReadWriteCloser

// FS is the minimal filesystem contract the store needs: open for
// reading, open-create-truncate for writing, and an atomic rename for
// the commit-by-rewrite protocol.
type FS interface {
	OpenRead(name string) (File, error)
	Create(name string) (File, error)
	Rename(oldpath, newpath string) error
	Remove(name string) error
}

type onDiskEntry struct {
	varType VarType
	key     string
	keyCRC  uint16 // as written by writeEntry, compared first on lookup
	payload []byte // raw, as found on disk, verbatim
}

// Validate ensures path holds a file matching schema's shape. If the
// file is absent, it is created with every entry at its default. If it
// exists but its description or entry set/order/types differ from
// schema, it is migrated: existing entries whose key and type still
// match carry their current value forward, everything else is reset to
// its schema default. A file that already matches schema exactly is
// left untouched — a second Validate call is then a no-op.
func Validate(fs FS, schema Param, path string) error {
	existing, description, err := readAllEntries(fs, path)
	if errors.Is(err, ErrFileDoesNotExist) {
		return writeFile(fs, path, schema, nil)
	}
	if err != nil {
		return err
	}

	if description == schema.Description && sameShape(existing, schema) {
		return nil
	}
	return writeFile(fs, path, schema, existing)
}

func sameShape(existing []onDiskEntry, schema Param) bool {
	if len(existing) != len(schema.Entries) {
		return false
	}
	for i, e := range schema.Entries {
		if existing[i].key != e.Key || existing[i].varType != e.Type {
			return false
		}
	}
	return true
}

func findExisting(existing []onDiskEntry, key string, t VarType) (onDiskEntry, bool) {
	for _, e := range existing {
		if e.key == key && e.varType == t {
			return e, true
		}
	}
	return onDiskEntry{}, false
}

// writeFile rewrites path from scratch via a temp file, preserving
// current values for entries found (by key and type) in existing.
func writeFile(fs FS, path string, schema Param, existing []onDiskEntry) error {
	tmp := nextTempName()
	w, err := fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrFileSystem, tmp, err)
	}

	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[0:2], fileTypeID)
	hdr[2] = majorRev
	hdr[3] = minorRev
	if _, err := w.Write(hdr[:]); err != nil {
		w.Close()
		return fmt.Errorf("%w: %v", ErrFileSystem, err)
	}
	if err := writeDescription(w, schema.Description); err != nil {
		w.Close()
		return err
	}

	for _, e := range schema.Entries {
		payload := defaultPayload(e)
		if prior, ok := findExisting(existing, e.Key, e.Type); ok {
			payload = carryCurrent(e.Type, payload, prior.payload)
		}
		if err := writeEntry(w, e, payload); err != nil {
			w.Close()
			return err
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrFileSystem, tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: rename %s -> %s: %v", ErrFileSystem, tmp, path, err)
	}
	return nil
}

var tempCounter uint8

// nextTempName returns the next tmp<n> filename, wrapping n at 8 bits.
func nextTempName() string {
	n := tempCounter
	tempCounter++
	return fmt.Sprintf("tmp%d", n)
}

func writeDescription(w io.Writer, s string) error {
	if len(s) > 255 {
		s = s[:255]
	}
	if _, err := w.Write([]byte{byte(len(s))}); err != nil {
		return fmt.Errorf("%w: %v", ErrFileSystem, err)
	}
	if _, err := w.Write([]byte(s)); err != nil {
		return fmt.Errorf("%w: %v", ErrFileSystem, err)
	}
	return nil
}

// defaultPayload renders e's default value in wire format, matching the
// on-disk layout exactly: current immediately followed by default (and,
// for bounded numerics, min and max).
func defaultPayload(e MapEntry) []byte {
	var buf bytes.Buffer
	switch e.Type {
	case TypeBool:
		v := byte(0)
		if e.DefaultBool {
			v = 1
		}
		buf.Write([]byte{v, v})
	case TypeInt8u, TypeInt8s:
		v := byte(e.Default)
		buf.Write([]byte{v, v, byte(e.Min), byte(e.Max)})
	case TypeInt16u, TypeInt16s:
		var b [8]byte
		binary.LittleEndian.PutUint16(b[0:2], uint16(e.Default))
		binary.LittleEndian.PutUint16(b[2:4], uint16(e.Default))
		binary.LittleEndian.PutUint16(b[4:6], uint16(e.Min))
		binary.LittleEndian.PutUint16(b[6:8], uint16(e.Max))
		buf.Write(b[:])
	case TypeInt32u, TypeInt32s:
		var b [16]byte
		binary.LittleEndian.PutUint32(b[0:4], uint32(e.Default))
		binary.LittleEndian.PutUint32(b[4:8], uint32(e.Default))
		binary.LittleEndian.PutUint32(b[8:12], uint32(e.Min))
		binary.LittleEndian.PutUint32(b[12:16], uint32(e.Max))
		buf.Write(b[:])
	case TypeFp32:
		bits := math.Float32bits(float32(e.DefaultF64))
		var b [16]byte
		binary.LittleEndian.PutUint32(b[0:4], bits)
		binary.LittleEndian.PutUint32(b[4:8], bits)
		binary.LittleEndian.PutUint32(b[8:12], math.Float32bits(float32(e.Min)))
		binary.LittleEndian.PutUint32(b[12:16], math.Float32bits(float32(e.Max)))
		buf.Write(b[:])
	case TypeInt64u, TypeInt64s:
		var b [32]byte
		binary.LittleEndian.PutUint64(b[0:8], uint64(e.Default))
		binary.LittleEndian.PutUint64(b[8:16], uint64(e.Default))
		binary.LittleEndian.PutUint64(b[16:24], uint64(e.Min))
		binary.LittleEndian.PutUint64(b[24:32], uint64(e.Max))
		buf.Write(b[:])
	case TypeFp64:
		bits := math.Float64bits(e.DefaultF64)
		var b [32]byte
		binary.LittleEndian.PutUint64(b[0:8], bits)
		binary.LittleEndian.PutUint64(b[8:16], bits)
		binary.LittleEndian.PutUint64(b[16:24], math.Float64bits(float64(e.Min)))
		binary.LittleEndian.PutUint64(b[24:32], math.Float64bits(float64(e.Max)))
		buf.Write(b[:])
	case TypeString:
		cur := make([]byte, stringValueLen)
		copy(cur, e.DefaultStr)
		buf.Write(cur)
		buf.Write(cur)
	case TypeEnum:
		var b [8]byte
		binary.LittleEndian.PutUint32(b[0:4], e.defaultEnum())
		binary.LittleEndian.PutUint32(b[4:8], e.defaultEnum())
		buf.Write(b[:])
		buf.WriteByte(byte(len(e.Items)))
		for _, item := range e.Items {
			name := item.Name
			if len(name) > 255 {
				name = name[:255]
			}
			buf.WriteByte(byte(len(name)))
			buf.WriteString(name)
			var v [4]byte
			binary.LittleEndian.PutUint32(v[:], item.Value)
			buf.Write(v[:])
		}
	}
	return buf.Bytes()
}

func (e MapEntry) defaultEnum() uint32 { return uint32(e.Default) }

// carryCurrent overwrites the "current" half of a freshly rendered
// default payload with the current value found on disk, leaving
// default/min/max exactly as the schema specifies. This is the
// preserve-on-migration rule from Scenario D.
func carryCurrent(t VarType, freshDefaultPayload, priorPayload []byte) []byte {
	out := append([]byte(nil), freshDefaultPayload...)
	switch t {
	case TypeBool:
		if len(priorPayload) >= 1 {
			out[0] = priorPayload[0]
		}
	case TypeInt8u, TypeInt8s:
		if len(priorPayload) >= 1 {
			out[0] = priorPayload[0]
		}
	case TypeInt16u, TypeInt16s:
		if len(priorPayload) >= 2 {
			copy(out[0:2], priorPayload[0:2])
		}
	case TypeInt32u, TypeInt32s, TypeFp32:
		if len(priorPayload) >= 4 {
			copy(out[0:4], priorPayload[0:4])
		}
	case TypeInt64u, TypeInt64s, TypeFp64:
		if len(priorPayload) >= 8 {
			copy(out[0:8], priorPayload[0:8])
		}
	case TypeString:
		if len(priorPayload) >= stringValueLen {
			copy(out[0:stringValueLen], priorPayload[0:stringValueLen])
		}
	case TypeEnum:
		if len(priorPayload) >= 4 {
			copy(out[0:4], priorPayload[0:4])
		}
	}
	return out
}

func writeEntry(w io.Writer, e MapEntry, payload []byte) error {
	key := []byte(e.Key)
	desc := []byte(e.Description)
	if len(desc) > 255 {
		desc = desc[:255]
	}
	// size(2) crc(2) keylen(1) key desclen(1) desc type(1) payload
	size := 2 + 2 + 1 + len(key) + 1 + len(desc) + 1 + len(payload)

	var hdr bytes.Buffer
	var sz [2]byte
	binary.LittleEndian.PutUint16(sz[:], uint16(size))
	hdr.Write(sz[:])
	var crc [2]byte
	binary.LittleEndian.PutUint16(crc[:], crc16.Checksum(0, key))
	hdr.Write(crc[:])
	hdr.WriteByte(byte(len(key)))
	hdr.Write(key)
	hdr.WriteByte(byte(len(desc)))
	hdr.Write(desc)
	hdr.WriteByte(byte(e.Type))
	hdr.Write(payload)

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", ErrFileSystem, err)
	}
	return nil
}

// readAllEntries parses path fully, returning each entry's type/key and
// raw payload bytes (verbatim, for carry-forward during migration), plus
// the file's description string.
func readAllEntries(fs FS, path string) ([]onDiskEntry, string, error) {
	f, err := fs.OpenRead(path)
	if err != nil {
		return nil, "", ErrFileDoesNotExist
	}
	defer f.Close()

	var hdr [4]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, "", fmt.Errorf("%w: header: %v", ErrFileSystem, err)
	}
	var descLen [1]byte
	if _, err := io.ReadFull(f, descLen[:]); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFileSystem, err)
	}
	desc := make([]byte, descLen[0])
	if _, err := io.ReadFull(f, desc); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFileSystem, err)
	}

	var entries []onDiskEntry
	for {
		var sizeBuf [2]byte
		if _, err := io.ReadFull(f, sizeBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, "", fmt.Errorf("%w: %v", ErrFileSystem, err)
		}
		size := binary.LittleEndian.Uint16(sizeBuf[:])
		rest := make([]byte, int(size)-2)
		if _, err := io.ReadFull(f, rest); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrFileSystem, err)
		}
		keyCRC := binary.LittleEndian.Uint16(rest[0:2])
		keyLen := rest[2]
		key := string(rest[3 : 3+keyLen])
		off := 3 + int(keyLen)
		descLen := rest[off]
		off += 1 + int(descLen)
		varType := VarType(rest[off])
		payload := rest[off+1:]
		entries = append(entries, onDiskEntry{varType: varType, key: key, keyCRC: keyCRC, payload: payload})
	}
	return entries, string(desc), nil
}

// GetDescription returns the file's description string.
func GetDescription(fs FS, path string) (string, error) {
	_, desc, err := readAllEntries(fs, path)
	return desc, err
}

// Entry is one decoded on-disk entry, exported for diagnostic tools (see
// cmd/kvfdump) that want to inspect a file without the schema that
// produced it.
type Entry struct {
	Key     string
	Type    VarType
	Current string
}

func (t VarType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt8u:
		return "int8u"
	case TypeInt8s:
		return "int8s"
	case TypeInt16u:
		return "int16u"
	case TypeInt16s:
		return "int16s"
	case TypeInt32u:
		return "int32u"
	case TypeInt32s:
		return "int32s"
	case TypeFp32:
		return "fp32"
	case TypeInt64u:
		return "int64u"
	case TypeInt64s:
		return "int64s"
	case TypeFp64:
		return "fp64"
	case TypeString:
		return "string"
	case TypeEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// Dump decodes path schema-free: every entry's key, type, and current
// value (the same "current" half findByKey reads), plus the file
// description.
func Dump(fs FS, path string) (description string, entries []Entry, err error) {
	raw, desc, err := readAllEntries(fs, path)
	if err != nil {
		return "", nil, err
	}
	out := make([]Entry, len(raw))
	for i, e := range raw {
		out[i] = Entry{Key: e.key, Type: e.varType, Current: renderCurrent(e.varType, e.payload)}
	}
	return desc, out, nil
}

func renderCurrent(t VarType, payload []byte) string {
	switch t {
	case TypeBool:
		if len(payload) < 1 {
			return "?"
		}
		return fmt.Sprintf("%v", payload[0] != 0)
	case TypeInt8u:
		return fmt.Sprintf("%d", payload[0])
	case TypeInt8s:
		return fmt.Sprintf("%d", int8(payload[0]))
	case TypeInt16u:
		return fmt.Sprintf("%d", binary.LittleEndian.Uint16(payload[0:2]))
	case TypeInt16s:
		return fmt.Sprintf("%d", int16(binary.LittleEndian.Uint16(payload[0:2])))
	case TypeInt32u:
		return fmt.Sprintf("%d", binary.LittleEndian.Uint32(payload[0:4]))
	case TypeInt32s:
		return fmt.Sprintf("%d", int32(binary.LittleEndian.Uint32(payload[0:4])))
	case TypeFp32:
		return fmt.Sprintf("%g", math.Float32frombits(binary.LittleEndian.Uint32(payload[0:4])))
	case TypeInt64u:
		return fmt.Sprintf("%d", binary.LittleEndian.Uint64(payload[0:8]))
	case TypeInt64s:
		return fmt.Sprintf("%d", int64(binary.LittleEndian.Uint64(payload[0:8])))
	case TypeFp64:
		return fmt.Sprintf("%g", math.Float64frombits(binary.LittleEndian.Uint64(payload[0:8])))
	case TypeString:
		n := stringValueLen
		if len(payload) < n {
			n = len(payload)
		}
		return trimNulls(payload[:n])
	case TypeEnum:
		return fmt.Sprintf("%d", binary.LittleEndian.Uint32(payload[0:4]))
	default:
		return fmt.Sprintf("% x", payload)
	}
}

func findByKey(fs FS, path, key string, t VarType) ([]byte, error) {
	entries, _, err := readAllEntries(fs, path)
	if err != nil {
		return nil, err
	}
	wantCRC := crc16.Checksum(0, []byte(key))
	for _, e := range entries {
		if e.keyCRC != wantCRC {
			continue
		}
		if e.key != key {
			continue
		}
		if e.varType != t {
			return nil, ErrKeyTypeMismatch
		}
		return e.payload, nil
	}
	return nil, ErrKeyDoesNotExist
}

// BoolForKey returns the current value of a TypeBool entry.
func BoolForKey(fs FS, path, key string) (bool, error) {
	p, err := findByKey(fs, path, key, TypeBool)
	if err != nil {
		return false, err
	}
	return p[0] != 0, nil
}

func Int8uForKey(fs FS, path, key string) (uint8, error) {
	p, err := findByKey(fs, path, key, TypeInt8u)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func Int8sForKey(fs FS, path, key string) (int8, error) {
	p, err := findByKey(fs, path, key, TypeInt8s)
	if err != nil {
		return 0, err
	}
	return int8(p[0]), nil
}

func Int16uForKey(fs FS, path, key string) (uint16, error) {
	p, err := findByKey(fs, path, key, TypeInt16u)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p[0:2]), nil
}

func Int16sForKey(fs FS, path, key string) (int16, error) {
	p, err := findByKey(fs, path, key, TypeInt16s)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(p[0:2])), nil
}

func Int32uForKey(fs FS, path, key string) (uint32, error) {
	p, err := findByKey(fs, path, key, TypeInt32u)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p[0:4]), nil
}

func Int32sForKey(fs FS, path, key string) (int32, error) {
	p, err := findByKey(fs, path, key, TypeInt32s)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(p[0:4])), nil
}

func Fp32ForKey(fs FS, path, key string) (float32, error) {
	p, err := findByKey(fs, path, key, TypeFp32)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(p[0:4])), nil
}

func StringForKey(fs FS, path, key string) (string, error) {
	p, err := findByKey(fs, path, key, TypeString)
	if err != nil {
		return "", err
	}
	return trimNulls(p[:stringValueLen]), nil
}

func EnumForKey(fs FS, path, key string) (uint32, error) {
	p, err := findByKey(fs, path, key, TypeEnum)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p[0:4]), nil
}

func trimNulls(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return string(b)
	}
	return string(b[:i])
}
