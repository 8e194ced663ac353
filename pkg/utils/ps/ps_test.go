package ps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPS(t *testing.T) {
	m, err := MemoryStatus()
	if err != nil {
		t.Fatal(err)
	}
	if m.Total == 0 {
		t.Fatal("no memory reported")
	}

	if _, err = CPUStatus(); err != nil {
		t.Fatal(err)
	}
}

func TestDiskUsage(t *testing.T) {
	d, err := DiskUsage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if d.Total == 0 || d.Free > d.Total {
		t.Fatalf("implausible usage %+v", d)
	}
}

func TestDirDiskUsage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 23), 0o600); err != nil {
		t.Fatal(err)
	}

	n, err := DirDiskUsage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 123 {
		t.Fatalf("got %d bytes, want 123", n)
	}
}
