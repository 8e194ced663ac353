//go:build linux

package camera

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mirrors of the multi-planar structures in linux/videodev2.h.
// https://github.com/torvalds/linux/blob/master/include/uapi/linux/videodev2.h

const (
	bufTypeVideoCaptureMPlane = 9
	memoryMMap                = 1
	videoMaxPlanes            = 8
)

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

type v4l2CaptureParm struct {
	capability   uint32
	captureMode  uint32
	timePerFrame v4l2Fract
	extendedMode uint32
	readBuffers  uint32
	reserved     [4]uint32
}

// v4l2StreamParm is 204 bytes: the parm union is 200 bytes of raw data.
type v4l2StreamParm struct {
	typ     uint32
	capture v4l2CaptureParm
	_       [160]byte
}

type v4l2PlanePixFormat struct {
	sizeImage    uint32
	bytesPerLine uint32
	reserved     [6]uint16
}

type v4l2PixFormatMPlane struct {
	width        uint32
	height       uint32
	pixelFormat  uint32
	field        uint32
	colorspace   uint32
	planeFmt     [videoMaxPlanes]v4l2PlanePixFormat
	numPlanes    uint8
	flags        uint8
	ycbcrEnc     uint8
	quantization uint8
	xferFunc     uint8
	reserved     [7]uint8
}

// The fmt union of struct v4l2_format carries a pointer (v4l2_window), so it
// is pointer aligned: 4 bytes of padding follow typ on 64-bit targets.
type v4l2FormatUnion struct {
	_   [0]uintptr
	raw [200]byte
}

type v4l2Format struct {
	typ uint32
	fmt v4l2FormatUnion
}

func (f *v4l2Format) pixMP() *v4l2PixFormatMPlane {
	return (*v4l2PixFormatMPlane)(unsafe.Pointer(&f.fmt.raw[0]))
}

type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

type v4l2Plane struct {
	bytesUsed  uint32
	length     uint32
	m          uintptr // mem_offset in the low 32 bits for MMAP
	dataOffset uint32
	reserved   [11]uint32
}

// v4l2Buffer.m always points at a plane array: only the multi-planar buffer
// type is used.
type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesUsed uint32
	flags     uint32
	field     uint32
	timestamp unix.Timeval
	timecode  v4l2Timecode
	sequence  uint32
	memory    uint32
	m         unsafe.Pointer
	length    uint32
	reserved2 uint32
	requestFD int32
}

const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func iow(nr, size uintptr) uintptr {
	return ioc(iocWrite, 'V', nr, size)
}

func iowr(nr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, 'V', nr, size)
}

var (
	vidiocGFmt      = iowr(4, unsafe.Sizeof(v4l2Format{}))
	vidiocSFmt      = iowr(5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqBufs   = iowr(8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQueryBuf  = iowr(9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQBuf      = iowr(15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDQBuf     = iowr(17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamOn  = iow(18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff = iow(19, unsafe.Sizeof(int32(0)))
	vidiocGParm     = iowr(21, unsafe.Sizeof(v4l2StreamParm{}))
	vidiocSParm     = iowr(22, unsafe.Sizeof(v4l2StreamParm{}))
	vidiocSInput    = iowr(39, unsafe.Sizeof(int32(0)))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}
