package bmp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	xbmp "golang.org/x/image/bmp"
)

func gradient(width, height int) []byte {
	bgr := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 3
			bgr[i] = byte(x)
			bgr[i+1] = byte(y)
			bgr[i+2] = byte(x + y)
		}
	}
	return bgr
}

func TestEncodeHeader(t *testing.T) {
	const w, h = 816, 612
	var buf bytes.Buffer
	if err := Encode(&buf, gradient(w, h), w, h); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	if len(b) != w*h*3+54 {
		t.Fatalf("wrote %d bytes, want %d", len(b), w*h*3+54)
	}

	le := binary.LittleEndian
	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"signature", int64(le.Uint16(b[0:])), 0x4d42},
		{"file size", int64(le.Uint32(b[2:])), w*h*3 + 54},
		{"reserved1", int64(le.Uint16(b[6:])), 0},
		{"reserved2", int64(le.Uint16(b[8:])), 0},
		{"offset", int64(le.Uint32(b[10:])), 54},
		{"info size", int64(le.Uint32(b[14:])), 40},
		{"width", int64(int32(le.Uint32(b[18:]))), w},
		{"height", int64(int32(le.Uint32(b[22:]))), -h},
		{"planes", int64(le.Uint16(b[26:])), 1},
		{"bit count", int64(le.Uint16(b[28:])), 24},
		{"compression", int64(le.Uint32(b[30:])), 0},
		{"image size", int64(le.Uint32(b[34:])), 0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	for i := 38; i < 54; i++ {
		if b[i] != 0 {
			t.Fatalf("byte %d of the info header is %d", i, b[i])
		}
	}
	if !bytes.Equal(b[54:], gradient(w, h)) {
		t.Fatal("pixel payload changed")
	}
}

func TestEncodeDecodesTopDown(t *testing.T) {
	const w, h = 16, 8
	var buf bytes.Buffer
	if err := Encode(&buf, gradient(w, h), w, h); err != nil {
		t.Fatal(err)
	}

	img, err := xbmp.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		t.Fatalf("decoded %v", b)
	}
	for _, p := range [][2]int{{0, 0}, {15, 0}, {0, 7}, {9, 5}} {
		x, y := p[0], p[1]
		want := color.RGBA{R: byte(x + y), G: byte(y), B: byte(x), A: 0xff}
		if got := color.RGBAModel.Convert(img.At(x, y)); got != want {
			t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
		}
	}
}

func TestEncodeInvalid(t *testing.T) {
	tests := []struct {
		name string
		bgr  []byte
		w, h int
	}{
		{"zero width", make([]byte, 12), 0, 1},
		{"negative height", make([]byte, 12), 4, -1},
		{"short buffer", make([]byte, 11), 4, 1},
		{"nil buffer", nil, 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, tt.bgr, tt.w, tt.h); !errors.Is(err, ErrInvalidImage) {
				t.Fatalf("got %v", err)
			}
			if buf.Len() != 0 {
				t.Fatal("wrote a header for an invalid image")
			}
		})
	}
}

type failWriter struct{ n int }

func (f *failWriter) Write(p []byte) (int, error) {
	if f.n <= 0 {
		return 0, os.ErrClosed
	}
	f.n--
	return len(p), nil
}

func TestEncodeWriteError(t *testing.T) {
	for n := 0; n < 3; n++ {
		err := Encode(&failWriter{n: n}, gradient(4, 4), 4, 4)
		if !errors.Is(err, ErrEncode) || !errors.Is(err, os.ErrClosed) {
			t.Fatalf("failing after %d writes: %v", n, err)
		}
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame_0.bmp")
	if err := WriteFile(path, gradient(816, 612), 816, 612); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(FileSize(816, 612)) || info.Size() != 816*612*3+54 {
		t.Fatalf("file is %d bytes", info.Size())
	}
}

func TestWriteFileErrors(t *testing.T) {
	dir := t.TempDir()
	err := WriteFile(filepath.Join(dir, "missing", "frame_0.bmp"), gradient(4, 4), 4, 4)
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("got %v", err)
	}

	path := filepath.Join(dir, "frame_1.bmp")
	if err = WriteFile(path, make([]byte, 3), 4, 4); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("got %v", err)
	}
	if _, err = os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("partial file left behind")
	}
}
