// Package bmp writes 24-bit uncompressed top-down bitmaps.
package bmp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	fileHeaderSize = 14
	infoHeaderSize = 40
	// HeaderSize is the offset of the pixel data.
	HeaderSize = fileHeaderSize + infoHeaderSize

	signature = 0x4d42
)

var (
	ErrEncode       = errors.New("encode bitmap")
	ErrInvalidImage = errors.New("invalid image")
)

type fileHeader struct {
	Type      uint16
	Size      uint32
	Reserved1 uint16
	Reserved2 uint16
	OffBits   uint32
}

type infoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

// FileSize is the size of the bitmap Encode writes for a width x height image.
func FileSize(width, height int) int {
	return HeaderSize + width*height*3
}

// Encode writes bgr, rows top-down and three bytes per pixel in B,G,R order,
// behind a header declaring a negative height. Rows are not padded, so the
// result is only portable when width*3 is a multiple of 4.
func Encode(w io.Writer, bgr []byte, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidImage, width, height)
	}
	n := width * height * 3
	if len(bgr) < n {
		return fmt.Errorf("%w: %d bytes for %dx%d", ErrInvalidImage, len(bgr), width, height)
	}

	fh := fileHeader{
		Type:    signature,
		Size:    uint32(FileSize(width, height)),
		OffBits: HeaderSize,
	}
	ih := infoHeader{
		Size:     infoHeaderSize,
		Width:    int32(width),
		Height:   -int32(height),
		Planes:   1,
		BitCount: 24,
	}
	if err := binary.Write(w, binary.LittleEndian, &fh); err != nil {
		return fmt.Errorf("%w: file header: %w", ErrEncode, err)
	}
	if err := binary.Write(w, binary.LittleEndian, &ih); err != nil {
		return fmt.Errorf("%w: info header: %w", ErrEncode, err)
	}
	if _, err := w.Write(bgr[:n]); err != nil {
		return fmt.Errorf("%w: pixels: %w", ErrEncode, err)
	}

	return nil
}

// WriteFile encodes bgr into a new file at path, replacing any existing one.
// The file is closed on every path; a partial file is removed.
func WriteFile(path string, bgr []byte, width, height int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %w", ErrEncode, cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	bw := bufio.NewWriterSize(f, 1<<16)
	if err = Encode(bw, bgr, width, height); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	return nil
}
