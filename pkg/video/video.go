package video

import (
	"bytes"
	"fmt"

	"github.com/icza/mjpeg"

	"camstream/pkg/utils/image"
)

const DefaultQuality = 90

// Builder appends frames to a Motion JPEG AVI. The frame size is fixed when
// the builder is created.
type Builder struct {
	width   int
	height  int
	fps     int
	quality int

	cnt int
	buf bytes.Buffer
	aw  mjpeg.AviWriter
}

func NewBuilder(path string, width, height, fps, quality int) (*Builder, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid fps %d", fps)
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	aw, err := mjpeg.New(path, int32(width), int32(height), int32(fps))
	if err != nil {
		return nil, err
	}

	return &Builder{
		width:   width,
		height:  height,
		fps:     fps,
		quality: quality,
		aw:      aw,
	}, nil
}

// Add appends an already JPEG encoded frame.
func (b *Builder) Add(frame []byte) error {
	err := b.aw.AddFrame(frame)
	if err != nil {
		return err
	}
	b.cnt++

	return nil
}

// AddBGR compresses a packed B,G,R frame and appends it.
func (b *Builder) AddBGR(bgr []byte, width, height int) error {
	if width != b.width || height != b.height {
		return fmt.Errorf("frame is %dx%d, video is %dx%d", width, height, b.width, b.height)
	}
	b.buf.Reset()
	if err := image.EncodeBGR(bgr, width, height, &b.buf, b.quality); err != nil {
		return err
	}

	return b.Add(b.buf.Bytes())
}

func (b *Builder) Close() error {
	return b.aw.Close()
}

func (b *Builder) GetCnt() int {
	return b.cnt
}
