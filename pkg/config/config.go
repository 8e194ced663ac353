package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"camstream/pkg/camera"
	"camstream/pkg/storage/consts"
	"camstream/pkg/types"
	"camstream/pkg/yuv"
)

const (
	DefaultWidth  = 816
	DefaultHeight = 612
	DefaultCount  = 5
	DefaultFPS    = 30

	DefaultPort       = 9999
	DefaultWebdavPort = 9998

	maxBuffers = 32
)

type Config struct {
	Device       string               `yaml:"device"`
	Width        int                  `yaml:"width"`
	Height       int                  `yaml:"height"`
	Count        int                  `yaml:"count"`
	Dir          string               `yaml:"dir"`
	Buffers      int                  `yaml:"buffers"`
	FPS          int                  `yaml:"fps"`
	NonBlocking  bool                 `yaml:"nonblocking"`
	FrameTimeout time.Duration        `yaml:"frame_timeout"`
	Chroma       ChromaConfig         `yaml:"chroma"`
	Controls     types.CameraSettings `yaml:"controls"`
	Video        types.VideoSetting   `yaml:"video"`
	Log          LogConfig            `yaml:"log"`
	Server       ServerConfig         `yaml:"server"`
}

// ChromaConfig selects which byte of each interleaved chroma pair is U and
// which is V. NV21 is v=0, u=1.
type ChromaConfig struct {
	UOffset int `yaml:"u_offset"`
	VOffset int `yaml:"v_offset"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ServerConfig struct {
	Port       int `yaml:"port"`
	WebdavPort int `yaml:"webdav_port"`
	// Interval starts periodic runs when non-zero.
	Interval time.Duration `yaml:"interval"`
}

func Default() *Config {
	return &Config{
		Device:  camera.DefaultDevice,
		Width:   DefaultWidth,
		Height:  DefaultHeight,
		Count:   DefaultCount,
		Dir:     consts.DefaultDir,
		Buffers: camera.DefaultBufferCount,
		FPS:     DefaultFPS,
		Chroma:  ChromaConfig{UOffset: yuv.NV21.UOffset, VOffset: yuv.NV21.VOffset},
		Video: types.VideoSetting{
			FPS:     5,
			Quality: 90,
		},
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Port:       DefaultPort,
			WebdavPort: DefaultWebdavPort,
		},
	}
}

// LoadFile overlays the YAML file at path onto the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Load builds the configuration from, in increasing priority: defaults, the
// file named by -config, CAMSTREAM_* environment variables and flags.
func Load(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	def := Default()

	configPath := fs.String("config", "", "YAML config file")
	device := fs.String("d", def.Device, "device name (path)")
	width := fs.Int("w", def.Width, "requested width")
	height := fs.Int("h", def.Height, "requested height")
	count := fs.Int("n", def.Count, "frames to capture")
	dir := fs.String("dir", def.Dir, "output directory")
	buffers := fs.Int("buffers", def.Buffers, "driver buffers to request")
	fps := fs.Int("fps", def.FPS, "capture frame rate")
	nonBlocking := fs.Bool("nonblocking", def.NonBlocking, "open the device non-blocking")
	timeout := fs.Duration("timeout", def.FrameTimeout, "per-frame wait in non-blocking mode")
	video := fs.Bool("video", def.Video.Enable, "also write frames.avi")
	level := fs.String("log", def.Log.Level, "log level")
	port := fs.Int("port", def.Server.Port, "api port")
	webdavPort := fs.Int("webdav-port", def.Server.WebdavPort, "webdav port")
	interval := fs.Duration("interval", def.Server.Interval, "periodic capture interval, 0 disables")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := LoadFile(*configPath)
	if err != nil {
		return nil, err
	}
	cfg.Device = getEnvOrDefault("CAMSTREAM_DEVICE", cfg.Device)
	cfg.Dir = getEnvOrDefault("CAMSTREAM_DIR", cfg.Dir)

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "d":
			cfg.Device = *device
		case "w":
			cfg.Width = *width
		case "h":
			cfg.Height = *height
		case "n":
			cfg.Count = *count
		case "dir":
			cfg.Dir = *dir
		case "buffers":
			cfg.Buffers = *buffers
		case "fps":
			cfg.FPS = *fps
		case "nonblocking":
			cfg.NonBlocking = *nonBlocking
		case "timeout":
			cfg.FrameTimeout = *timeout
		case "video":
			cfg.Video.Enable = *video
		case "log":
			cfg.Log.Level = *level
		case "port":
			cfg.Server.Port = *port
		case "webdav-port":
			cfg.Server.WebdavPort = *webdavPort
		case "interval":
			cfg.Server.Interval = *interval
		}
	})

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Device == "" {
		errs = append(errs, errors.New("device is empty"))
	}
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid size %dx%d", c.Width, c.Height))
	}
	if c.Count <= 0 {
		errs = append(errs, fmt.Errorf("invalid frame count %d", c.Count))
	}
	if c.Dir == "" {
		errs = append(errs, errors.New("output dir is empty"))
	}
	if c.Buffers < 1 || c.Buffers > maxBuffers {
		errs = append(errs, fmt.Errorf("buffers must be in [1,%d], got %d", maxBuffers, c.Buffers))
	}
	if c.FPS <= 0 {
		errs = append(errs, fmt.Errorf("invalid fps %d", c.FPS))
	}
	if c.FrameTimeout < 0 {
		errs = append(errs, fmt.Errorf("negative frame timeout %s", c.FrameTimeout))
	}
	if err := c.Converter().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Video.Enable {
		if c.Video.FPS <= 0 {
			errs = append(errs, fmt.Errorf("invalid video fps %d", c.Video.FPS))
		}
		if c.Video.Quality < 1 || c.Video.Quality > 100 {
			errs = append(errs, fmt.Errorf("video quality must be in [1,100], got %d", c.Video.Quality))
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	for _, p := range []int{c.Server.Port, c.Server.WebdavPort} {
		if p < 1 || p > 65535 {
			errs = append(errs, fmt.Errorf("invalid port %d", p))
		}
	}
	if c.Server.Interval < 0 {
		errs = append(errs, fmt.Errorf("negative interval %s", c.Server.Interval))
	}

	return multierr.Combine(errs...)
}

func (c *Config) Converter() yuv.Converter {
	return yuv.Converter{UOffset: c.Chroma.UOffset, VOffset: c.Chroma.VOffset}
}

// CameraOptions translates the device settings into camera options.
func (c *Config) CameraOptions() []camera.Option {
	opts := []camera.Option{
		camera.WithBufferCount(c.Buffers),
		camera.WithFrameInterval(camera.Fract{Numerator: 1, Denominator: uint32(c.FPS)}),
	}
	if c.NonBlocking {
		opts = append(opts, camera.WithNonBlocking(c.FrameTimeout))
	}
	if len(c.Controls) > 0 {
		opts = append(opts, camera.WithControls(c.Controls))
	}
	return opts
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
