package camera_test

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"camstream/pkg/camera"
	"camstream/pkg/camera/camtest"
)

func openCamera(t *testing.T, dev *camtest.Device, width, height int) *camera.Camera {
	t.Helper()
	c := camera.New("/dev/video0", camera.WithOpener(dev.Opener()))
	if _, err := c.Open(width, height); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCameraSave(t *testing.T) {
	dev := camtest.New()
	c := openCamera(t, dev, 816, 612)

	var got []int
	err := c.Save(context.Background(), 5, camera.SinkFunc(func(index int, f *camera.Frame) error {
		if f.Width != 816 || f.Height != 612 {
			t.Errorf("frame %d is %dx%d", index, f.Width, f.Height)
		}
		if len(f.Planes) != 1 || len(f.Planes[0]) != 816*612*3/2 {
			t.Errorf("frame %d has unexpected planes", index)
		}
		got = append(got, index)
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("captured %d frames, want 5", len(got))
	}
	if err = c.Close(); err != nil {
		t.Fatal(err)
	}

	if n := dev.Count("StreamOn"); n != 1 {
		t.Errorf("stream on called %d times", n)
	}
	if n := dev.Count("StreamOff"); n != 1 {
		t.Errorf("stream off called %d times", n)
	}
	// 3 initial queues plus one requeue per frame
	if n := dev.Count("Queue"); n != 3+5 {
		t.Errorf("queue called %d times", n)
	}
	if dev.Mapped() != 0 {
		t.Errorf("%d planes still mapped", dev.Mapped())
	}
	if !dev.Closed() {
		t.Error("device not closed")
	}
}

func TestCameraSaveAbortsOnFailure(t *testing.T) {
	dev := camtest.New()
	c := openCamera(t, dev, 816, 612)

	written := 0
	sinkErr := errors.New("disk full")
	err := c.Save(context.Background(), 5, camera.SinkFunc(func(index int, f *camera.Frame) error {
		if index == 2 {
			return sinkErr
		}
		written++
		return nil
	}))
	if !errors.Is(err, sinkErr) {
		t.Fatalf("got %v, want %v", err, sinkErr)
	}
	if written != 2 {
		t.Errorf("wrote %d frames, want 2", written)
	}
	if err = c.Close(); err != nil {
		t.Fatal(err)
	}
	if dev.Count("StreamOn") != 1 || dev.Count("StreamOff") != 1 {
		t.Errorf("stream on/off called %d/%d times", dev.Count("StreamOn"), dev.Count("StreamOff"))
	}
	// the failing frame's buffer still went back to the driver
	if n := dev.Count("Queue"); n != 3+3 {
		t.Errorf("queue called %d times", n)
	}
}

func TestCameraDequeueFailure(t *testing.T) {
	dev := camtest.New()
	dev.FailDequeue = map[int]error{2: errors.New("input/output error")}
	c := openCamera(t, dev, 816, 612)
	defer c.Close()

	err := c.Save(context.Background(), 5, camera.SinkFunc(func(int, *camera.Frame) error { return nil }))
	if !errors.Is(err, camera.ErrDequeue) {
		t.Fatalf("got %v, want ErrDequeue", err)
	}
}

func TestCameraNotReady(t *testing.T) {
	dev := camtest.New()
	dev.FailDequeue = map[int]error{1: syscall.EAGAIN}
	c := camera.New("/dev/video0", camera.WithOpener(dev.Opener()), camera.WithNonBlocking(time.Millisecond))
	if _, err := c.Open(816, 612); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	sink := camera.SinkFunc(func(int, *camera.Frame) error { return nil })
	err := c.Save(context.Background(), 3, sink)
	if !errors.Is(err, camera.ErrNotReady) {
		t.Fatalf("got %v, want ErrNotReady", err)
	}
	// a timeout is not fatal, the stream keeps going
	if err = c.Save(context.Background(), 2, sink); err != nil {
		t.Fatal(err)
	}
}

func TestCameraOpenFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		op   string
		kind error
	}{
		{"open", "Open", camera.ErrDeviceOpen},
		{"capability", "Capability", camera.ErrCapabilityQuery},
		{"input", "SetInput", camera.ErrInputSelect},
		{"framerate", "SetFrameInterval", camera.ErrFrameRateSet},
		{"format", "SetFormat", camera.ErrFormatNegotiation},
		{"reqbufs", "RequestBuffers", camera.ErrBufferAllocation},
		{"querybuf", "QueryBuffer", camera.ErrMemoryMap},
		{"qbuf", "Queue", camera.ErrStreamStart},
		{"streamon", "StreamOn", camera.ErrStreamStart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := camtest.New()
			dev.Fail = map[string]error{tt.op: boom}
			c := camera.New("/dev/video0", camera.WithOpener(dev.Opener()))

			_, err := c.Open(816, 612)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("got %v, want %v", err, tt.kind)
			}
			if !errors.Is(err, boom) {
				t.Errorf("cause lost: %v", err)
			}
			var de *camera.DeviceError
			if !errors.As(err, &de) || de.Device != "/dev/video0" {
				t.Errorf("expected a DeviceError for /dev/video0, got %v", err)
			}
			if c.Ready() {
				t.Error("camera ready after a failed open")
			}
			if tt.op != "Open" && !dev.Closed() {
				t.Error("device left open")
			}
			if dev.Mapped() != 0 {
				t.Errorf("%d planes still mapped", dev.Mapped())
			}
			if n := dev.Count("StreamOff"); n != 0 {
				t.Errorf("stream off called %d times on a stream that never started", n)
			}
		})
	}
}

func TestCameraRejectsSinglePlanarDevice(t *testing.T) {
	dev := camtest.New()
	dev.Caps.Capabilities = camera.CapVideoCapture | camera.CapStreaming
	c := camera.New("/dev/video0", camera.WithOpener(dev.Opener()))

	if _, err := c.Open(816, 612); !errors.Is(err, camera.ErrCapabilityQuery) {
		t.Fatalf("got %v, want ErrCapabilityQuery", err)
	}
}

func TestCameraNotOpen(t *testing.T) {
	c := camera.New("/dev/video0", camera.WithOpener(camtest.New().Opener()))
	if _, err := c.Config(); !errors.Is(err, camera.ErrNotOpen) {
		t.Errorf("got %v, want ErrNotOpen", err)
	}
	err := c.Save(context.Background(), 1, camera.SinkFunc(func(int, *camera.Frame) error { return nil }))
	if !errors.Is(err, camera.ErrNotOpen) {
		t.Errorf("got %v, want ErrNotOpen", err)
	}
	if err = c.Close(); err != nil {
		t.Errorf("close of an unopened camera: %v", err)
	}
}

func TestCameraStreamOffFailure(t *testing.T) {
	dev := camtest.New()
	c := openCamera(t, dev, 816, 612)
	dev.Fail = map[string]error{"StreamOff": errors.New("device gone")}

	if err := c.Close(); err != nil {
		t.Fatalf("stream off failure should not fail close: %v", err)
	}
	if dev.Mapped() != 0 || !dev.Closed() {
		t.Error("teardown stopped at stream off")
	}
}

func TestCameraCanceled(t *testing.T) {
	dev := camtest.New()
	c := openCamera(t, dev, 816, 612)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	err := c.Save(ctx, 5, camera.SinkFunc(func(int, *camera.Frame) error {
		n++
		cancel()
		return nil
	}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if n != 1 {
		t.Errorf("wrote %d frames after cancel", n)
	}
}

func TestCameraApplyControls(t *testing.T) {
	dev := camtest.New()
	c := camera.New("/dev/video0",
		camera.WithOpener(dev.Opener()),
		camera.WithControls(map[uint32]int32{0x00980900: 40}),
		camera.WithNonBlocking(0),
	)
	if _, err := c.Open(816, 612); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if v, ok := dev.ControlValue(0x00980900); !ok || v != 40 {
		t.Errorf("brightness = %d, %v", v, ok)
	}
	if !dev.OpenOptions().NonBlocking {
		t.Error("device not opened non-blocking")
	}
}
