package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSafeJoin(t *testing.T) {
	dir := "/tmp/camstream"
	good := map[string]string{
		"frame_0.bmp": "/tmp/camstream/frame_0.bmp",
		"info.json":   "/tmp/camstream/info.json",
	}
	for name, want := range good {
		got, err := SafeJoin(dir, name)
		if err != nil || got != want {
			t.Errorf("SafeJoin(%q) = %q, %v", name, got, err)
		}
	}
	for _, name := range []string{"", ".", "..", "../etc/passwd", "a/b", `a\b`, "/abs"} {
		if _, err := SafeJoin(dir, name); err == nil {
			t.Errorf("SafeJoin(%q) accepted", name)
		}
	}
}

func TestMkdirAll(t *testing.T) {
	root := t.TempDir()
	a, b := filepath.Join(root, "a", "b"), filepath.Join(root, "c")
	if err := MkdirAll(a, b); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{a, b} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Fatalf("%s not created: %v", d, err)
		}
	}
}
