package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"handlecore.dev/fsys"
	"handlecore.dev/kvf"
)

func TestDumpTextFormat(t *testing.T) {
	dir := t.TempDir()
	fs := fsys.New(dir)
	schema := kvf.Param{
		Description: "test schema",
		Entries: []kvf.MapEntry{
			{Type: kvf.TypeInt8u, Key: "A", Default: 7, Min: 0, Max: 255},
			{Type: kvf.TypeString, Key: "NAME", DefaultStr: "handle"},
		},
	}
	if err := kvf.Validate(fs, schema, "dev.kvf"); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var out bytes.Buffer
	if err := run(&out, []string{filepath.Join(dir, "dev.kvf")}); err != nil {
		t.Fatalf("run: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "test schema") {
		t.Errorf("output missing description: %q", text)
	}
	if !strings.Contains(text, "A") || !strings.Contains(text, "7") {
		t.Errorf("output missing entry A=7: %q", text)
	}
	if !strings.Contains(text, "NAME") || !strings.Contains(text, "handle") {
		t.Errorf("output missing entry NAME=handle: %q", text)
	}
}

func TestDumpCBORFormat(t *testing.T) {
	dir := t.TempDir()
	fs := fsys.New(dir)
	schema := kvf.Param{
		Description: "cbor schema",
		Entries: []kvf.MapEntry{
			{Type: kvf.TypeBool, Key: "ON", DefaultBool: true},
		},
	}
	if err := kvf.Validate(fs, schema, "dev.kvf"); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	old := *cborOut
	*cborOut = true
	defer func() { *cborOut = old }()

	var out bytes.Buffer
	if err := run(&out, []string{filepath.Join(dir, "dev.kvf")}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("expected non-empty CBOR output")
	}
}

func TestUsageError(t *testing.T) {
	var out bytes.Buffer
	if err := run(&out, nil); err == nil {
		t.Fatal("expected usage error with no arguments")
	}
}
