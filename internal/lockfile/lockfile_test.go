package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	defer lock.Release()

	content, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	want := fmt.Sprintf("pid=%d\n", os.Getpid())
	if string(content) != want {
		t.Errorf("lock file content = %q, want %q", content, want)
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire returned error: %v", err)
	}
	defer first.Release()

	_, err = Acquire(dir)
	if err == nil {
		t.Fatalf("second Acquire should fail while the lock is held")
	}
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected *HeldError, got %T: %v", err, err)
	}
	if held.Holder == "" {
		t.Errorf("conflict error should describe the holding process")
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed after release")
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("reacquire after release failed: %v", err)
	}
	again.Release()
}

func TestAcquireCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire should create the state directory, got %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state directory should exist: %v", err)
	}
}

func TestParsePID(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"pid=1234\n", 1234},
		{"pid=", 0},
		{"garbage", 0},
		{"prefix pid=42 suffix", 42},
	}
	for _, tt := range tests {
		if got := parsePID(tt.in); got != tt.want {
			t.Errorf("parsePID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
