// Command kvfdump inspects a KVF file on disk, schema-free, printing
// every entry's key, type and current value. With -cbor it emits the
// decoded entries as CBOR instead, for diffing a file against a known-good
// capture from a prior firmware revision.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"handlecore.dev/fsys"
	"handlecore.dev/kvf"
)

var cborOut = flag.Bool("cbor", false, "emit decoded entries as CBOR instead of text")

func main() {
	flag.Parse()
	if err := run(os.Stdout, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "kvfdump: %v\n", err)
		os.Exit(2)
	}
}

type dumpEntry struct {
	Key     string `cbor:"key"`
	Type    string `cbor:"type"`
	Current string `cbor:"current"`
}

type dumpFile struct {
	Description string      `cbor:"description"`
	Entries     []dumpEntry `cbor:"entries"`
}

func run(stdout io.Writer, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: kvfdump [-cbor] <path>")
	}
	path := args[0]
	fs := fsys.New(filepath.Dir(path))
	desc, entries, err := kvf.Dump(fs, filepath.Base(path))
	if err != nil {
		return err
	}

	out := dumpFile{Description: desc}
	for _, e := range entries {
		out.Entries = append(out.Entries, dumpEntry{Key: e.Key, Type: e.Type.String(), Current: e.Current})
	}

	if *cborOut {
		b, err := cbor.Marshal(out)
		if err != nil {
			return err
		}
		_, err = stdout.Write(b)
		return err
	}

	fmt.Fprintf(stdout, "description: %s\n", out.Description)
	for _, e := range out.Entries {
		fmt.Fprintf(stdout, "%-24s %-8s %s\n", e.Key, e.Type, e.Current)
	}
	return nil
}
