package camera

import (
	"fmt"
	"sort"
)

// CaptureConfig is the format the device agreed to. Width, Height and Planes
// come from the driver, not from the request.
type CaptureConfig struct {
	Device          string        `json:"device"`
	Driver          string        `json:"driver"`
	Card            string        `json:"card"`
	BusInfo         string        `json:"busInfo"`
	RequestedWidth  int           `json:"requestedWidth"`
	RequestedHeight int           `json:"requestedHeight"`
	Width           int           `json:"width"`
	Height          int           `json:"height"`
	PixelFormat     uint32        `json:"pixelFormat"`
	Planes          int           `json:"planes"`
	PlaneFormats    []PlaneFormat `json:"planeFormats"`
	FrameInterval   Fract         `json:"frameInterval"`
}

// NominalFrameBytes is the packed NV21 size of one frame.
func (c CaptureConfig) NominalFrameBytes() int {
	return c.Width * c.Height * 3 / 2
}

type SessionOptions struct {
	Open          OpenOptions
	Input         int
	FrameInterval Fract
	// Controls are applied after the format is negotiated.
	Controls map[uint32]int32
}

var DefaultFrameInterval = Fract{Numerator: 1, Denominator: 30}

// Session holds the exclusive device handle and the negotiated format.
type Session struct {
	dev    Device
	path   string
	config CaptureConfig
}

// OpenSession opens the device at path and negotiates NV21 at width x height.
// On failure the device is closed again and nothing is returned.
func OpenSession(open Opener, path string, width, height int, opts SessionOptions) (*Session, error) {
	if width <= 0 || height <= 0 {
		return nil, devErr(path, "VIDIOC_S_FMT", ErrFormatNegotiation, fmt.Errorf("invalid size %dx%d", width, height))
	}
	if opts.FrameInterval.Denominator == 0 {
		opts.FrameInterval = DefaultFrameInterval
	}

	dev, err := open(path, opts.Open)
	if err != nil {
		return nil, devErr(path, "open", ErrDeviceOpen, err)
	}
	logger.Infof("opened %s", path)

	s := &Session{
		dev:  dev,
		path: path,
		config: CaptureConfig{
			Device:          path,
			RequestedWidth:  width,
			RequestedHeight: height,
		},
	}
	if err = s.negotiate(opts); err != nil {
		_ = dev.Close()
		return nil, err
	}

	return s, nil
}

func (s *Session) negotiate(opts SessionOptions) error {
	caps, err := s.dev.Capability()
	if err != nil {
		return devErr(s.path, "VIDIOC_QUERYCAP", ErrCapabilityQuery, err)
	}
	if !caps.CanCapture() {
		return devErr(s.path, "VIDIOC_QUERYCAP", ErrCapabilityQuery, fmt.Errorf("no multi-planar video capture support (%s)", caps))
	}
	if !caps.CanStream() {
		return devErr(s.path, "VIDIOC_QUERYCAP", ErrCapabilityQuery, fmt.Errorf("no streaming I/O support (%s)", caps))
	}
	s.config.Driver = caps.Driver
	s.config.Card = caps.Card
	s.config.BusInfo = caps.BusInfo
	logger.Infof("capability: %s", caps)

	if err = s.dev.SetInput(opts.Input); err != nil {
		return devErr(s.path, "VIDIOC_S_INPUT", ErrInputSelect, err)
	}

	if err = s.dev.SetFrameInterval(opts.FrameInterval); err != nil {
		return devErr(s.path, "VIDIOC_S_PARM", ErrFrameRateSet, err)
	}
	applied, err := s.dev.FrameInterval()
	if err != nil {
		logger.Warnf("read back frame interval: %s", err)
		applied = opts.FrameInterval
	} else if applied != opts.FrameInterval {
		logger.Warnf("requested frame interval %s, device applied %s", opts.FrameInterval, applied)
	}
	s.config.FrameInterval = applied
	logger.Infof("capture framerate is %d/%d", applied.Denominator, applied.Numerator)

	err = s.dev.SetFormat(Format{
		Width:       uint32(s.config.RequestedWidth),
		Height:      uint32(s.config.RequestedHeight),
		PixelFormat: PixelFmtNV21,
		Field:       FieldNone,
	})
	if err != nil {
		return devErr(s.path, "VIDIOC_S_FMT", ErrFormatNegotiation, err)
	}
	f, err := s.dev.Format()
	if err != nil {
		return devErr(s.path, "VIDIOC_G_FMT", ErrFormatNegotiation, err)
	}
	if f.PixelFormat != PixelFmtNV21 {
		return devErr(s.path, "VIDIOC_G_FMT", ErrFormatNegotiation, fmt.Errorf("device switched pixel format to %s", fourcc(f.PixelFormat)))
	}
	if len(f.Planes) == 0 || len(f.Planes) > MaxPlanes {
		return devErr(s.path, "VIDIOC_G_FMT", ErrFormatNegotiation, fmt.Errorf("unsupported plane count %d", len(f.Planes)))
	}
	if f.Width == 0 || f.Height == 0 {
		return devErr(s.path, "VIDIOC_G_FMT", ErrFormatNegotiation, fmt.Errorf("device reported size %dx%d", f.Width, f.Height))
	}

	s.config.Width = int(f.Width)
	s.config.Height = int(f.Height)
	s.config.PixelFormat = f.PixelFormat
	s.config.Planes = len(f.Planes)
	s.config.PlaneFormats = append([]PlaneFormat(nil), f.Planes...)
	if s.config.Width != s.config.RequestedWidth || s.config.Height != s.config.RequestedHeight {
		logger.Warnf("%dx%d format is not supported, using %dx%d",
			s.config.RequestedWidth, s.config.RequestedHeight, s.config.Width, s.config.Height)
	}
	logger.Infof("format: %s %dx%d, %d plane(s)", fourcc(f.PixelFormat), f.Width, f.Height, len(f.Planes))

	s.applyControls(opts.Controls)

	return nil
}

func (s *Session) applyControls(ctrls map[uint32]int32) {
	ids := make([]uint32, 0, len(ctrls))
	for id := range ctrls {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := s.dev.SetControl(id, ctrls[id]); err != nil {
			logger.Warnf("set ctrl(%d) to %d, err: %s", id, ctrls[id], err)
			continue
		}
		logger.Infof("set ctrl(%d) to %d", id, ctrls[id])
	}
}

// Config returns the negotiated format.
func (s *Session) Config() CaptureConfig {
	c := s.config
	c.PlaneFormats = append([]PlaneFormat(nil), s.config.PlaneFormats...)
	return c
}

func (s *Session) Path() string {
	return s.path
}

// Controls lists the known controls the device implements.
func (s *Session) Controls() ([]Control, error) {
	return s.dev.Controls()
}

// FrameSizes enumerates the frame sizes the driver advertises.
func (s *Session) FrameSizes() ([]FrameSize, error) {
	return s.dev.FrameSizes()
}

func (s *Session) Close() error {
	return s.dev.Close()
}

func fourcc(v uint32) string {
	return string([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}
