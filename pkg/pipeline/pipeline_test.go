package pipeline

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	xbmp "golang.org/x/image/bmp"

	"camstream/pkg/camera"
	"camstream/pkg/camera/camtest"
	"camstream/pkg/config"
	"camstream/pkg/storage"
	"camstream/pkg/yuv"
)

// grey fills every plane with Y=U=V=128, which converts to B,G,R 127,129,128.
func grey(_ int, planes [][]byte) {
	for _, p := range planes {
		for i := range p {
			p[i] = 128
		}
	}
}

func newRunner(t *testing.T, dev *camtest.Device, modify func(*config.Config)) *Runner {
	t.Helper()
	cfg := config.Default()
	cfg.Dir = t.TempDir()
	if modify != nil {
		modify(cfg)
	}
	store, err := storage.New(cfg.Dir)
	if err != nil {
		t.Fatal(err)
	}
	return NewRunner(cfg, store, camera.WithOpener(dev.Opener()))
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return info.Size()
}

func TestRunFiveFrames(t *testing.T) {
	dev := camtest.New()
	dev.Fill = grey
	r := newRunner(t, dev, nil)

	m, err := r.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	dir := r.Storage().Dir()
	for i := 0; i < 5; i++ {
		path := filepath.Join(dir, storage.FrameName(i))
		if size := fileSize(t, path); size != 816*612*3+54 {
			t.Fatalf("%s is %d bytes", path, size)
		}
	}
	if _, err = os.Stat(filepath.Join(dir, storage.FrameName(5))); !os.IsNotExist(err) {
		t.Fatal("wrote more than 5 frames")
	}

	if len(m.Frames) != 5 || m.Latest != "frame_4.bmp" || m.Error != "" {
		t.Fatalf("manifest %+v", m)
	}
	saved, err := r.Storage().Latest()
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != m.ID || saved.Config.Width != 816 {
		t.Fatalf("saved manifest %+v", saved)
	}

	f, err := os.Open(filepath.Join(dir, "frame_2.bmp"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := xbmp.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	want := color.RGBA{R: 128, G: 129, B: 127, A: 0xff}
	if got := color.RGBAModel.Convert(img.At(400, 300)); got != want {
		t.Fatalf("pixel %v, want %v", got, want)
	}

	if dev.Count("StreamOn") != 1 || dev.Count("StreamOff") != 1 || !dev.Closed() {
		t.Fatal("device not torn down once")
	}
	if d := r.Device(); d == nil || d.Config.Width != 816 || len(d.FrameSizes) != 1 {
		t.Fatalf("device info %+v", d)
	}
}

func TestRunFrameFailure(t *testing.T) {
	dev := camtest.New()
	dev.FailDequeue = map[int]error{3: errors.New("input/output error")}
	r := newRunner(t, dev, nil)

	m, err := r.Run(context.Background(), Request{})
	if !errors.Is(err, camera.ErrDequeue) {
		t.Fatalf("got %v, want ErrDequeue", err)
	}
	if m == nil || len(m.Frames) != 3 || m.Error == "" {
		t.Fatalf("manifest %+v", m)
	}
	for i := 0; i < 3; i++ {
		fileSize(t, filepath.Join(r.Storage().Dir(), storage.FrameName(i)))
	}
	if _, err = os.Stat(filepath.Join(r.Storage().Dir(), storage.FrameName(3))); !os.IsNotExist(err) {
		t.Fatal("frame 3 written")
	}
	if dev.Count("StreamOn") != 1 || dev.Count("StreamOff") != 1 {
		t.Fatalf("stream on/off called %d/%d times", dev.Count("StreamOn"), dev.Count("StreamOff"))
	}
	if dev.Mapped() != 0 || !dev.Closed() {
		t.Fatal("device not released")
	}
}

func TestRunNegotiatedSize(t *testing.T) {
	dev := camtest.New()
	dev.MaxWidth, dev.MaxHeight = 3264, 2448
	r := newRunner(t, dev, nil)

	m, err := r.Run(context.Background(), Request{Width: 4000, Height: 3000, Count: 1})
	if err != nil {
		t.Fatal(err)
	}
	if m.Config.Width != 3264 || m.Config.Height != 2448 || m.Config.RequestedWidth != 4000 {
		t.Fatalf("config %+v", m.Config)
	}
	if size := fileSize(t, filepath.Join(r.Storage().Dir(), "frame_0.bmp")); size != 3264*2448*3+54 {
		t.Fatalf("frame is %d bytes", size)
	}
}

func TestRunPaddedFrames(t *testing.T) {
	dev := camtest.New()
	dev.Padding = true
	r := newRunner(t, dev, nil)

	m, err := r.Run(context.Background(), Request{Count: 2})
	if err != nil {
		t.Fatal(err)
	}
	if m.Frames[0].Width != 816 || m.Frames[0].Height != 624 {
		t.Fatalf("frame is %dx%d, want 816x624", m.Frames[0].Width, m.Frames[0].Height)
	}
	if size := fileSize(t, filepath.Join(r.Storage().Dir(), "frame_1.bmp")); size != 816*624*3+54 {
		t.Fatalf("frame is %d bytes", size)
	}
}

func TestRunMultiPlanar(t *testing.T) {
	dev := camtest.New()
	dev.Planes = 2
	dev.Fill = grey
	r := newRunner(t, dev, nil)

	if _, err := r.Run(context.Background(), Request{Count: 1}); err != nil {
		t.Fatal(err)
	}
	if size := fileSize(t, filepath.Join(r.Storage().Dir(), "frame_0.bmp")); size != 816*612*3+54 {
		t.Fatalf("frame is %d bytes", size)
	}
}

func TestRunVideo(t *testing.T) {
	dev := camtest.New()
	r := newRunner(t, dev, func(c *config.Config) {
		c.Width, c.Height = 64, 48
		c.Video.Enable = true
	})

	m, err := r.Run(context.Background(), Request{Count: 3})
	if err != nil {
		t.Fatal(err)
	}
	if m.Video != "frames.avi" {
		t.Fatalf("video %q", m.Video)
	}
	if fileSize(t, filepath.Join(r.Storage().Dir(), "frames.avi")) == 0 {
		t.Fatal("empty video")
	}
}

func TestRunOpenFailure(t *testing.T) {
	dev := camtest.New()
	dev.Fail = map[string]error{"StreamOn": errors.New("no space left on device")}
	r := newRunner(t, dev, nil)

	m, err := r.Run(context.Background(), Request{})
	if !errors.Is(err, camera.ErrStreamStart) {
		t.Fatalf("got %v", err)
	}
	if len(m.Frames) != 0 || m.Error == "" {
		t.Fatalf("manifest %+v", m)
	}
	if r.Device() != nil {
		t.Fatal("device info kept from a failed open")
	}
}

func TestRunControls(t *testing.T) {
	dev := camtest.New()
	r := newRunner(t, dev, func(c *config.Config) {
		c.Controls = map[uint32]int32{0x00980900: 10}
	})
	r.SetControls(map[uint32]int32{0x00980901: 20})

	if _, err := r.Run(context.Background(), Request{Count: 1}); err != nil {
		t.Fatal(err)
	}
	for id, want := range map[uint32]int32{0x00980900: 10, 0x00980901: 20} {
		if v, ok := dev.ControlValue(id); !ok || v != want {
			t.Errorf("control %#x = %d, %v", id, v, ok)
		}
	}
}

func TestRunInvalidRequest(t *testing.T) {
	r := newRunner(t, camtest.New(), nil)
	if _, err := r.Run(context.Background(), Request{Width: -1}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("got %v", err)
	}
}

func TestFramePlanes(t *testing.T) {
	if _, _, err := framePlanes(&camera.Frame{Width: 4, Height: 4}); !errors.Is(err, yuv.ErrNullBuffer) {
		t.Fatalf("got %v", err)
	}
	luma, chroma, err := framePlanes(&camera.Frame{Width: 4, Height: 4, Planes: [][]byte{make([]byte, 24)}})
	if err != nil || len(luma) != 16 || len(chroma) != 8 {
		t.Fatalf("split %d/%d, %v", len(luma), len(chroma), err)
	}
}
