package browser

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDetectOverride(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "chrome")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("os.WriteFile() failed: %v", err)
	}

	got, err := Detect(bin)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if got != bin {
		t.Fatalf("Detect() = %q; want %q", got, bin)
	}
}

func TestDetectOverrideMissing(t *testing.T) {
	_, err := Detect(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("Detect() = nil error; want missing file error")
	}
}

func TestDetectSearchesPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bit lookup differs on windows")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "chromium")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("os.WriteFile() failed: %v", err)
	}
	t.Setenv("PATH", dir)

	got, err := Detect("")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if got != bin {
		t.Fatalf("Detect() = %q; want %q", got, bin)
	}
}

func TestDetectNothingFound(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("app bundle fallback may find an installed browser")
	}
	t.Setenv("PATH", t.TempDir())

	_, err := Detect("")
	if err == nil {
		t.Fatal("Detect() = nil error; want not found")
	}
	if !strings.Contains(err.Error(), "no supported browser found") {
		t.Fatalf("error = %q", err)
	}
}
