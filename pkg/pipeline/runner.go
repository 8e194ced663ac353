// Package pipeline runs captures end to end: device, conversion, bitmaps and
// the run manifest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"camstream/pkg/bmp"
	"camstream/pkg/camera"
	"camstream/pkg/config"
	"camstream/pkg/storage"
	"camstream/pkg/types"
	"camstream/pkg/utils"
)

var ErrInvalidRequest = errors.New("invalid capture request")

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("pipeline")
}

// Request overrides the configured size and frame count; zero keeps them.
type Request struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Count  int `json:"count"`
}

// DeviceInfo is what the last run learned about the device.
type DeviceInfo struct {
	Config     camera.CaptureConfig `json:"config"`
	Controls   []camera.Control     `json:"controls"`
	FrameSizes []camera.FrameSize   `json:"frameSizes"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// Runner serializes capture runs on one device. Each run opens the device,
// captures, and releases it again.
type Runner struct {
	cfg   *config.Config
	store *storage.Storage
	opts  []camera.Option

	lock     sync.Mutex
	controls types.CameraSettings
	device   *DeviceInfo
}

// NewRunner uses cfg for defaults; opts are appended to the options derived
// from cfg.
func NewRunner(cfg *config.Config, store *storage.Storage, opts ...camera.Option) *Runner {
	controls := make(types.CameraSettings, len(cfg.Controls))
	for id, v := range cfg.Controls {
		controls[id] = v
	}
	return &Runner{
		cfg:      cfg,
		store:    store,
		opts:     opts,
		controls: controls,
	}
}

func (r *Runner) Storage() *storage.Storage {
	return r.store
}

// SetControls changes control values for the following runs.
func (r *Runner) SetControls(ctrls types.CameraSettings) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for id, v := range ctrls {
		r.controls[id] = v
	}
}

// Device returns what the last successful open reported, or nil.
func (r *Runner) Device() *DeviceInfo {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.device == nil {
		return nil
	}
	d := *r.device
	return &d
}

func (r *Runner) resolve(req Request) (Request, error) {
	if req.Width == 0 {
		req.Width = r.cfg.Width
	}
	if req.Height == 0 {
		req.Height = r.cfg.Height
	}
	if req.Count == 0 {
		req.Count = r.cfg.Count
	}
	if req.Width < 0 || req.Height < 0 || req.Count < 0 {
		return req, fmt.Errorf("%w: %dx%d, %d frames", ErrInvalidRequest, req.Width, req.Height, req.Count)
	}
	return req, nil
}

// Run captures req.Count frames into the output directory. The manifest is
// written even when the run fails part way and is returned with the error.
func (r *Runner) Run(ctx context.Context, req Request) (*storage.Manifest, error) {
	req, err := r.resolve(req)
	if err != nil {
		return nil, err
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	need := uint64(bmp.FileSize(req.Width, req.Height)) * uint64(req.Count)
	if err = r.store.CheckFree(need); err != nil {
		return nil, err
	}

	run := r.store.Begin(r.cfg.Device, req.Count)
	logger.Infof("run %s: %d frames at %dx%d from %s", run.ID(), req.Count, req.Width, req.Height, r.cfg.Device)
	start := time.Now()

	err = r.capture(ctx, run, req)
	m, derr := run.Finish(err)
	if derr != nil {
		err = multierr.Append(err, fmt.Errorf("write run info: %w", derr))
	}
	if err != nil {
		logger.Errorf("run %s failed after %d frames: %s", run.ID(), len(m.Frames), err)
		return m, err
	}
	logger.Infof("run %s: took %s to save %d frames", run.ID(), time.Since(start), len(m.Frames))

	return m, nil
}

func (r *Runner) capture(ctx context.Context, run *storage.Run, req Request) (err error) {
	opts := append(r.cfg.CameraOptions(), camera.WithControls(r.controls))
	cam := camera.New(r.cfg.Device, append(opts, r.opts...)...)

	cfg, err := cam.Open(req.Width, req.Height)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, cam.Close())
	}()
	run.SetConfig(cfg)
	r.remember(cfg, cam.Session())

	sink := NewBitmapSink(run, r.cfg.Converter(), r.cfg.Video)
	err = cam.Save(ctx, req.Count, sink)

	return multierr.Append(err, sink.Close())
}

func (r *Runner) remember(cfg camera.CaptureConfig, s *camera.Session) {
	info := &DeviceInfo{Config: cfg, UpdatedAt: time.Now()}
	var err error
	if info.Controls, err = s.Controls(); err != nil {
		logger.Debugf("list controls: %s", err)
	}
	if info.FrameSizes, err = s.FrameSizes(); err != nil {
		logger.Debugf("list frame sizes: %s", err)
	}
	r.device = info
}
