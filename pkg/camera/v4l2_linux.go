//go:build linux

package camera

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/vladimirvivien/go4vl/v4l2"
	"golang.org/x/sys/unix"
)

type v4l2Device struct {
	path string
	fd   int
	opts OpenOptions

	closeOnce sync.Once
	closeErr  error
}

// OpenV4L2 opens a multi-planar V4L2 capture node.
func OpenV4L2(path string, opts OpenOptions) (Device, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return nil, fmt.Errorf("%s is not a character device", path)
	}

	flags := unix.O_RDWR | unix.O_CLOEXEC
	if opts.NonBlocking {
		flags |= unix.O_NONBLOCK
	}
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, err
	}

	return &v4l2Device{path: path, fd: fd, opts: opts}, nil
}

func (d *v4l2Device) Capability() (Capability, error) {
	caps, err := v4l2.GetCapability(uintptr(d.fd))
	if err != nil {
		return Capability{}, err
	}
	bits := caps.Capabilities
	if bits&CapDeviceCaps != 0 && caps.DeviceCapabilities != 0 {
		bits = caps.DeviceCapabilities
	}

	return Capability{
		Driver:       caps.Driver,
		Card:         caps.Card,
		BusInfo:      caps.BusInfo,
		Capabilities: bits,
	}, nil
}

func (d *v4l2Device) SetInput(index int) error {
	in := int32(index)
	return ioctl(d.fd, vidiocSInput, unsafe.Pointer(&in))
}

func (d *v4l2Device) SetFrameInterval(interval Fract) error {
	parm := v4l2StreamParm{typ: bufTypeVideoCaptureMPlane}
	parm.capture.timePerFrame = v4l2Fract{
		numerator:   interval.Numerator,
		denominator: interval.Denominator,
	}
	return ioctl(d.fd, vidiocSParm, unsafe.Pointer(&parm))
}

func (d *v4l2Device) FrameInterval() (Fract, error) {
	parm := v4l2StreamParm{typ: bufTypeVideoCaptureMPlane}
	if err := ioctl(d.fd, vidiocGParm, unsafe.Pointer(&parm)); err != nil {
		return Fract{}, err
	}
	return Fract{
		Numerator:   parm.capture.timePerFrame.numerator,
		Denominator: parm.capture.timePerFrame.denominator,
	}, nil
}

func (d *v4l2Device) SetFormat(f Format) error {
	req := v4l2Format{typ: bufTypeVideoCaptureMPlane}
	pix := req.pixMP()
	pix.width = f.Width
	pix.height = f.Height
	pix.pixelFormat = f.PixelFormat
	pix.field = f.Field

	return ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&req))
}

func (d *v4l2Device) Format() (Format, error) {
	req := v4l2Format{typ: bufTypeVideoCaptureMPlane}
	if err := ioctl(d.fd, vidiocGFmt, unsafe.Pointer(&req)); err != nil {
		return Format{}, err
	}
	pix := req.pixMP()
	n := int(pix.numPlanes)
	if n > videoMaxPlanes {
		n = videoMaxPlanes
	}
	planes := make([]PlaneFormat, n)
	for i := range planes {
		planes[i] = PlaneFormat{
			BytesPerLine: pix.planeFmt[i].bytesPerLine,
			SizeImage:    pix.planeFmt[i].sizeImage,
		}
	}

	return Format{
		Width:       pix.width,
		Height:      pix.height,
		PixelFormat: pix.pixelFormat,
		Field:       pix.field,
		Planes:      planes,
	}, nil
}

func (d *v4l2Device) RequestBuffers(count int) (int, error) {
	req := v4l2RequestBuffers{
		count:  uint32(count),
		typ:    bufTypeVideoCaptureMPlane,
		memory: memoryMMap,
	}
	if err := ioctl(d.fd, vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return int(req.count), nil
}

func newBuffer(index, planes int) (*v4l2Buffer, []v4l2Plane) {
	pl := make([]v4l2Plane, planes)
	buf := &v4l2Buffer{
		index:  uint32(index),
		typ:    bufTypeVideoCaptureMPlane,
		memory: memoryMMap,
		length: uint32(planes),
		m:      unsafe.Pointer(&pl[0]),
	}
	return buf, pl
}

func (d *v4l2Device) QueryBuffer(index, planes int) ([]PlaneInfo, error) {
	buf, pl := newBuffer(index, planes)
	err := ioctl(d.fd, vidiocQueryBuf, unsafe.Pointer(buf))
	runtime.KeepAlive(pl)
	if err != nil {
		return nil, err
	}

	res := make([]PlaneInfo, planes)
	for i := range res {
		res[i] = PlaneInfo{Length: pl[i].length, Offset: uint32(pl[i].m)}
	}
	return res, nil
}

func (d *v4l2Device) Map(p PlaneInfo) ([]byte, error) {
	return unix.Mmap(d.fd, int64(p.Offset), int(p.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (d *v4l2Device) Unmap(b []byte) error {
	return unix.Munmap(b)
}

func (d *v4l2Device) Queue(index, planes int) error {
	buf, pl := newBuffer(index, planes)
	err := ioctl(d.fd, vidiocQBuf, unsafe.Pointer(buf))
	runtime.KeepAlive(pl)
	return err
}

func (d *v4l2Device) Dequeue(planes int) (Dequeued, error) {
	if d.opts.NonBlocking && d.opts.FrameTimeout > 0 {
		if err := d.waitReadable(d.opts.FrameTimeout); err != nil {
			return Dequeued{}, err
		}
	}

	buf, pl := newBuffer(0, planes)
	err := ioctl(d.fd, vidiocDQBuf, unsafe.Pointer(buf))
	runtime.KeepAlive(pl)
	if err != nil {
		return Dequeued{}, err
	}

	res := Dequeued{
		Index:          int(buf.index),
		BytesUsed:      int(buf.bytesUsed),
		PlaneBytesUsed: make([]int, planes),
		Sequence:       buf.sequence,
		Timestamp:      time.Unix(buf.timestamp.Unix()),
	}
	for i := range pl {
		res.PlaneBytesUsed[i] = int(pl[i].bytesUsed)
	}
	return res, nil
}

// waitReadable polls the node until a filled buffer is available. A timeout
// is reported as EAGAIN, the same signal a bare non-blocking DQBUF gives.
func (d *v4l2Device) waitReadable(timeout time.Duration) error {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(timeout.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return unix.EAGAIN
		}
		return nil
	}
}

func (d *v4l2Device) StreamOn() error {
	typ := int32(bufTypeVideoCaptureMPlane)
	return ioctl(d.fd, vidiocStreamOn, unsafe.Pointer(&typ))
}

func (d *v4l2Device) StreamOff() error {
	typ := int32(bufTypeVideoCaptureMPlane)
	return ioctl(d.fd, vidiocStreamOff, unsafe.Pointer(&typ))
}

func (d *v4l2Device) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = unix.Close(d.fd)
	})
	return d.closeErr
}
