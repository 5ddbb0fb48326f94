// Package fsys is a thin semantic wrapper over the host filesystem: six
// POSIX-style open modes, byte/word/long helpers for the KVF and RDF
// formats, free-space monitoring with an automatic RDF cleanup trigger,
// and a couple of string-formatting helpers those two formats lean on.
package fsys

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"
)

// Mode is one of the six POSIX-style access modes the wrapper exposes.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
	ModeAppend
	ModeReadPlus
	ModeWritePlus
	ModeAppendPlus
)

func (m Mode) flags() int {
	switch m {
	case ModeRead:
		return os.O_RDONLY
	case ModeWrite:
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case ModeAppend:
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case ModeReadPlus:
		return os.O_RDWR
	case ModeWritePlus:
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case ModeAppendPlus:
		return os.O_RDWR | os.O_CREATE | os.O_APPEND
	default:
		return os.O_RDONLY
	}
}

var ErrDeviceFull = errors.New("fsys: device full")

const (
	lowFreePercent      = 5.0
	cleanupFreePercent  = 10.0
	desiredFreePercent  = 25.0
	minHexStringOutSize = 3
)

// Hooks lets a test harness observe every read/write, matching the
// original wrapper's start/end instrumentation points.
type Hooks struct {
	OnReadStart  func(path string)
	OnReadDone   func(path string, n int, err error)
	OnWriteStart func(path string)
	OnWriteDone  func(path string, n int, err error)
}

// FS is the host filesystem wrapper. The zero value is usable; Hooks may
// be set for test instrumentation.
type FS struct {
	Root  string
	Hooks Hooks
}

func New(root string) *FS { return &FS{Root: root} }

func (f *FS) path(name string) string {
	if f.Root == "" {
		return name
	}
	return filepath.Join(f.Root, name)
}

// File wraps *os.File with the read/write hooks.
type File struct {
	f    *os.File
	name string
	fs   *FS
}

func (f *FS) Open(name string, mode Mode) (*File, error) {
	osf, err := os.OpenFile(f.path(name), mode.flags(), 0o644)
	if err != nil {
		return nil, err
	}
	return &File{f: osf, name: name, fs: f}, nil
}

// OpenRead and Create adapt Open to the narrower kvf.FS / rdf.FS
// contracts those packages depend on.
func (f *FS) OpenRead(name string) (io.ReadWriteCloser, error) { return f.Open(name, ModeRead) }
func (f *FS) Create(name string) (io.ReadWriteCloser, error)   { return f.Open(name, ModeWrite) }

func (f *FS) Rename(oldpath, newpath string) error {
	return os.Rename(f.path(oldpath), f.path(newpath))
}

func (f *FS) Remove(name string) error {
	return os.Remove(f.path(name))
}

func (file *File) Read(p []byte) (int, error) {
	if file.fs.Hooks.OnReadStart != nil {
		file.fs.Hooks.OnReadStart(file.name)
	}
	n, err := file.f.Read(p)
	if file.fs.Hooks.OnReadDone != nil {
		file.fs.Hooks.OnReadDone(file.name, n, err)
	}
	return n, err
}

func (file *File) Write(p []byte) (int, error) {
	if file.fs.Hooks.OnWriteStart != nil {
		file.fs.Hooks.OnWriteStart(file.name)
	}
	n, err := file.f.Write(p)
	if file.fs.Hooks.OnWriteDone != nil {
		file.fs.Hooks.OnWriteDone(file.name, n, err)
	}
	return n, err
}

func (file *File) Seek(offset int64, whence int) (int64, error) {
	return file.f.Seek(offset, whence)
}

func (file *File) Close() error { return file.f.Close() }

// ReadByte, ReadWord, ReadLong and their Write counterparts are the
// little-endian primitives KVF and RDF encode their fields with.
func ReadByte(r io.Reader) (byte, error) {
	var b [1]byte
	_, err := io.ReadFull(r, b[:])
	return b[0], err
}

func ReadWord(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func ReadLong(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func WriteByte(w io.Writer, v byte) error {
	_, err := w.Write([]byte{v})
	return err
}

func WriteWord(w io.Writer, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func WriteLong(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// SpaceInfo reports a volume's capacity in bytes, as read via
// unix.Statfs.
type SpaceInfo struct {
	TotalBytes uint64
	FreeBytes  uint64
}

func (s SpaceInfo) FreePercent() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return 100 * float64(s.FreeBytes) / float64(s.TotalBytes)
}

// Statfs reports free/total space for the volume containing path.
func Statfs(path string) (SpaceInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return SpaceInfo{}, fmt.Errorf("fsys: statfs %s: %w", path, err)
	}
	blockSize := uint64(st.Bsize)
	return SpaceInfo{
		TotalBytes: st.Blocks * blockSize,
		FreeBytes:  st.Bfree * blockSize,
	}, nil
}

// MonitorFreeSpace implements the mount-time cleanup trigger: below 10%
// free it deletes the oldest files under rdfDir (by modification time)
// until free space reaches 25%; below 5% free it reports ErrDeviceFull
// without attempting cleanup (there usually isn't enough headroom left
// to safely write the next file anyway).
func MonitorFreeSpace(path, rdfDir string) error {
	info, err := Statfs(path)
	if err != nil {
		return err
	}
	free := info.FreePercent()
	if free < lowFreePercent {
		return ErrDeviceFull
	}
	if free >= cleanupFreePercent {
		return nil
	}
	return cleanupOldest(path, rdfDir, info)
}

func cleanupOldest(path, rdfDir string, info SpaceInfo) error {
	entries, err := os.ReadDir(rdfDir)
	if err != nil {
		return fmt.Errorf("fsys: read %s: %w", rdfDir, err)
	}
	type fileInfo struct {
		name    string
		modTime int64
		size    int64
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{e.Name(), fi.ModTime().UnixNano(), fi.Size()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime < files[j].modTime })

	desiredFree := uint64(desiredFreePercent / 100 * float64(info.TotalBytes))
	freed := info.FreeBytes
	for _, fi := range files {
		if freed >= desiredFree {
			break
		}
		if err := os.Remove(filepath.Join(rdfDir, fi.name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("fsys: remove %s: %w", fi.name, err)
		}
		freed += uint64(fi.size)
	}
	return nil
}

// ForceToASCII replaces any byte outside the printable ASCII range
// (' '..'~') with 0, returning false if the first output byte ends up 0.
func ForceToASCII(src []byte) (dst []byte, ok bool) {
	dst = make([]byte, len(src))
	for i, b := range src {
		if b < ' ' || b > '~' {
			dst[i] = 0
		} else {
			dst[i] = b
		}
	}
	return dst, len(dst) > 0 && dst[0] != 0
}

// BinaryArrayToHexString renders data as uppercase hex into a string no
// longer than maxChars (always null-terminated conceptually — Go strings
// don't carry one, but maxChars still bounds output length the way the
// original's buffer did). lsbFirst selects whether data[0] is the least
// significant byte; reverse selects whether the most significant byte is
// emitted first.
func BinaryArrayToHexString(data []byte, maxChars int, lsbFirst, reverse bool) string {
	if maxChars < minHexStringOutSize {
		return ""
	}
	count := len(data)
	offset := 0
	if maxChars < len(data)*2+1 {
		count = (maxChars - 1) / 2
		if lsbFirst {
			offset = len(data) - count
		}
	}

	out := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		var idx int
		if reverse {
			idx = (count-i)+offset - 1
		} else {
			idx = i + offset
		}
		out = append(out, hexDigit(data[idx]>>4), hexDigit(data[idx]&0xf))
	}
	return string(out)
}

func hexDigit(nibble byte) byte {
	const digits = "0123456789ABCDEF"
	return digits[nibble&0xf]
}
