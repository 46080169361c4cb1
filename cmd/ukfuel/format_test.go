package main

import (
	"bytes"
	"go/format"
	"os"
	"path/filepath"
	"testing"
)

func TestSourcesAreGofmtClean(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatalf("Glob() failed: %v", err)
	}

	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("ReadFile(%s) failed: %v", file, err)
		}
		formatted, err := format.Source(src)
		if err != nil {
			t.Errorf("format.Source(%s) failed: %v", file, err)
			continue
		}
		if !bytes.Equal(src, formatted) {
			t.Errorf("%s is not gofmt-clean", file)
		}
	}
}
