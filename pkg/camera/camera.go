package camera

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"camstream/pkg/utils"
)

const (
	DefaultDevice = "/dev/video0"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("camera")
}

type Option func(*Camera)

// WithOpener replaces the V4L2 backend, e.g. with a fake device in tests.
func WithOpener(open Opener) Option {
	return func(c *Camera) {
		c.open = open
	}
}

func WithBufferCount(n int) Option {
	return func(c *Camera) {
		c.bufferCount = n
	}
}

// WithNonBlocking opens the device non-blocking; acquiring a frame then waits
// at most timeout before reporting ErrNotReady.
func WithNonBlocking(timeout time.Duration) Option {
	return func(c *Camera) {
		c.sessionOpts.Open.NonBlocking = true
		c.sessionOpts.Open.FrameTimeout = timeout
	}
}

func WithFrameInterval(interval Fract) Option {
	return func(c *Camera) {
		c.sessionOpts.FrameInterval = interval
	}
}

func WithInput(index int) Option {
	return func(c *Camera) {
		c.sessionOpts.Input = index
	}
}

func WithControls(ctrls map[uint32]int32) Option {
	return func(c *Camera) {
		c.sessionOpts.Controls = ctrls
	}
}

// Camera owns one device session, its buffer pool and the capture loop.
type Camera struct {
	devName     string
	open        Opener
	bufferCount int
	sessionOpts SessionOptions

	lock    sync.Mutex
	session *Session
	pool    *Pool
	loop    *Loop
}

func New(devName string, opts ...Option) *Camera {
	c := &Camera{
		devName:     devName,
		open:        OpenV4L2,
		bufferCount: DefaultBufferCount,
		sessionOpts: SessionOptions{FrameInterval: DefaultFrameInterval},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open negotiates the format, maps the buffers and starts streaming. Any
// failure tears down what was set up and leaves the camera not ready.
func (c *Camera) Open(width, height int) (CaptureConfig, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.session != nil {
		return CaptureConfig{}, devErr(c.devName, "open", ErrDeviceOpen, errors.New("already open"))
	}
	logger.Infof("start camera %s in %d*%d", c.devName, width, height)

	session, err := OpenSession(c.open, c.devName, width, height, c.sessionOpts)
	if err != nil {
		return CaptureConfig{}, err
	}
	pool, err := Allocate(session, c.bufferCount)
	if err != nil {
		_ = session.Close()
		return CaptureConfig{}, err
	}
	if err = pool.MapAll(); err != nil {
		_ = pool.Release()
		_ = session.Close()
		return CaptureConfig{}, err
	}

	loop := NewLoop(session, pool)
	if err = loop.Start(context.Background()); err != nil {
		_ = loop.Stop(context.Background())
		_ = pool.Release()
		_ = session.Close()
		return CaptureConfig{}, err
	}

	c.session, c.pool, c.loop = session, pool, loop

	return session.Config(), nil
}

// Ready reports whether Open succeeded and the camera is streaming.
func (c *Camera) Ready() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.loop != nil && c.loop.State() == StateStreaming
}

func (c *Camera) Config() (CaptureConfig, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.session == nil {
		return CaptureConfig{}, devErr(c.devName, "config", ErrNotOpen, nil)
	}
	return c.session.Config(), nil
}

// Session exposes the open session for diagnostics (controls, frame sizes).
func (c *Camera) Session() *Session {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.session
}

// Save captures count frames into sink. It aborts on the first failure;
// the stream keeps running until Close.
func (c *Camera) Save(ctx context.Context, count int, sink Sink) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.loop == nil {
		return devErr(c.devName, "capture", ErrNotOpen, nil)
	}
	logger.Infof("capturing %d frames", count)
	return c.loop.Run(ctx, count, sink)
}

// Close stops the stream, unmaps the buffers and closes the device. A
// stream-off failure is logged and does not stop the teardown.
func (c *Camera) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.session == nil {
		return nil
	}

	if err := c.loop.Stop(context.Background()); err != nil {
		logger.Errorf("stop streaming: %s", err)
	}
	err := multierr.Append(c.pool.Release(), c.session.Close())
	c.session, c.pool, c.loop = nil, nil, nil
	logger.Infof("closed %s", c.devName)

	return err
}
