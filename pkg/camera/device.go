package camera

import (
	"fmt"
	"time"
)

// Capability bits from linux/videodev2.h.
const (
	CapVideoCapture       uint32 = 0x00000001
	CapVideoCaptureMPlane uint32 = 0x00001000
	CapStreaming          uint32 = 0x04000000
	CapDeviceCaps         uint32 = 0x80000000
)

const (
	// PixelFmtNV21 is the V4L2 fourcc 'NV21': a full resolution luma plane
	// followed by interleaved V/U samples subsampled by 2 in both axes.
	PixelFmtNV21 uint32 = 'N' | 'V'<<8 | '2'<<16 | '1'<<24

	FieldNone uint32 = 1

	// MaxPlanes is the largest plane count accepted from the driver.
	MaxPlanes = 3
)

type Capability struct {
	Driver  string
	Card    string
	BusInfo string
	// Capabilities holds the device_caps of the opened node when the driver
	// provides them, the physical device caps otherwise.
	Capabilities uint32
}

func (c Capability) CanCapture() bool {
	return c.Capabilities&CapVideoCaptureMPlane != 0
}

func (c Capability) CanStream() bool {
	return c.Capabilities&CapStreaming != 0
}

func (c Capability) String() string {
	return fmt.Sprintf("driver=%s card=%s bus=%s caps=0x%08x", c.Driver, c.Card, c.BusInfo, c.Capabilities)
}

type Fract struct {
	Numerator   uint32
	Denominator uint32
}

func (f Fract) String() string {
	return fmt.Sprintf("%d/%d", f.Numerator, f.Denominator)
}

type PlaneFormat struct {
	BytesPerLine uint32
	SizeImage    uint32
}

type Format struct {
	Width       uint32
	Height      uint32
	PixelFormat uint32
	Field       uint32
	Planes      []PlaneFormat
}

// PlaneInfo locates one plane of a driver buffer for mmap.
type PlaneInfo struct {
	Length uint32
	Offset uint32
}

// Dequeued describes a buffer the driver handed back.
type Dequeued struct {
	Index          int
	BytesUsed      int
	PlaneBytesUsed []int
	Sequence       uint32
	Timestamp      time.Time
}

type Control struct {
	ID      uint32
	Name    string
	Value   int32
	Minimum int32
	Maximum int32
	Step    int32
	Default int32
}

type FrameSize struct {
	PixelFormat uint32
	MinWidth    uint32
	MaxWidth    uint32
	MinHeight   uint32
	MaxHeight   uint32
}

// Device is the capture backend: configure, allocate buffers, acquire,
// submit and stream control. Every call builds its own request structure.
type Device interface {
	Capability() (Capability, error)
	SetInput(index int) error
	SetFrameInterval(interval Fract) error
	FrameInterval() (Fract, error)
	SetFormat(f Format) error
	Format() (Format, error)

	RequestBuffers(count int) (int, error)
	QueryBuffer(index, planes int) ([]PlaneInfo, error)
	Map(p PlaneInfo) ([]byte, error)
	Unmap(b []byte) error
	Queue(index, planes int) error
	// Dequeue blocks until a buffer is filled. Non-blocking devices return
	// an error wrapping ErrNotReady instead.
	Dequeue(planes int) (Dequeued, error)
	StreamOn() error
	StreamOff() error

	SetControl(id uint32, value int32) error
	Controls() ([]Control, error)
	FrameSizes() ([]FrameSize, error)

	Close() error
}

type OpenOptions struct {
	NonBlocking bool
	// FrameTimeout bounds the wait for a filled buffer in non-blocking mode.
	// Zero means dequeue without waiting.
	FrameTimeout time.Duration
}

// Opener opens the device node at path.
type Opener func(path string, opts OpenOptions) (Device, error)
