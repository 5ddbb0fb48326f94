// Command rdfdump inspects an RDF file on disk: its header (motor,
// sample rate, streamed variables) and every decoded sample record. With
// -cbor it emits the decoded samples as CBOR instead of a text table.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/fxamacker/cbor/v2"

	"handlecore.dev/rdf"
)

var cborOut = flag.Bool("cbor", false, "emit decoded samples as CBOR instead of text")

func main() {
	flag.Parse()
	if err := run(os.Stdout, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "rdfdump: %v\n", err)
		os.Exit(2)
	}
}

type dumpHeader struct {
	Name       string   `cbor:"name"`
	MotorNum   uint8    `cbor:"motor_num"`
	SampleRate uint32   `cbor:"sample_rate"`
	Vars       []string `cbor:"vars"`
}

type dumpFile struct {
	Header  dumpHeader  `cbor:"header"`
	Samples [][]float64 `cbor:"samples"`
}

func run(stdout io.Writer, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: rdfdump [-cbor] <path>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	hdr, err := rdf.ReadHeader(f)
	if err != nil {
		return err
	}
	samples, err := decodeSamples(f, hdr)
	if err != nil {
		return err
	}

	out := dumpFile{Header: toDumpHeader(hdr), Samples: samples}
	if *cborOut {
		b, err := cbor.Marshal(out)
		if err != nil {
			return err
		}
		_, err = stdout.Write(b)
		return err
	}

	fmt.Fprintf(stdout, "name: %s  motor: %d  rate: %dms\n", hdr.Name, hdr.MotorNum, hdr.SampleRate)
	for _, v := range hdr.Vars {
		fmt.Fprintf(stdout, "  %s (%s)\n", v.Name, v.Type)
	}
	for _, s := range out.Samples {
		fmt.Fprintln(stdout, s)
	}
	return nil
}

func toDumpHeader(h rdf.Header) dumpHeader {
	out := dumpHeader{Name: h.Name, MotorNum: h.MotorNum, SampleRate: h.SampleRate}
	for _, v := range h.Vars {
		out.Vars = append(out.Vars, fmt.Sprintf("%s:%s", v.Name, v.Type))
	}
	return out
}

// decodeSamples reads every fixed-width sample record until EOF,
// rendering each variable as a float64 regardless of wire width so the
// caller doesn't need a type switch of its own.
func decodeSamples(r io.Reader, hdr rdf.Header) ([][]float64, error) {
	width := hdr.SampleWidth()
	if width == 0 {
		return nil, nil
	}
	buf := make([]byte, width)
	var out [][]float64
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return out, nil
			}
			return out, err
		}
		row := make([]float64, 0, len(hdr.Vars))
		off := 0
		for _, v := range hdr.Vars {
			switch v.Type {
			case rdf.TypeInt16u:
				row = append(row, float64(binary.LittleEndian.Uint16(buf[off:off+2])))
				off += 2
			case rdf.TypeInt32u:
				row = append(row, float64(binary.LittleEndian.Uint32(buf[off:off+4])))
				off += 4
			case rdf.TypeInt32s:
				row = append(row, float64(int32(binary.LittleEndian.Uint32(buf[off:off+4]))))
				off += 4
			case rdf.TypeFp32:
				row = append(row, float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:off+4]))))
				off += 4
			}
		}
		out = append(out, row)
	}
}
