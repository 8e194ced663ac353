package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"camstream/pkg/camera"
	"camstream/pkg/camera/camtest"
	"camstream/pkg/config"
)

func TestProbe(t *testing.T) {
	dev := camtest.New()
	cfg := config.Default()

	var buf bytes.Buffer
	if err := probe(&buf, cfg, camera.WithOpener(dev.Opener())); err != nil {
		t.Fatal(err)
	}
	var r report
	if err := json.Unmarshal(buf.Bytes(), &r); err != nil {
		t.Fatal(err)
	}
	if r.Config.Width != 816 || r.Config.Driver != "camtest" {
		t.Fatalf("config %+v", r.Config)
	}
	if !dev.Closed() || dev.Mapped() != 0 {
		t.Fatal("probe left the device open")
	}
}

func TestProbeOpenFailure(t *testing.T) {
	dev := camtest.New()
	dev.Fail = map[string]error{"Open": errors.New("no such device")}

	var buf bytes.Buffer
	err := probe(&buf, config.Default(), camera.WithOpener(dev.Opener()))
	if !errors.Is(err, camera.ErrDeviceOpen) || buf.Len() != 0 {
		t.Fatalf("got %v, %q", err, buf.String())
	}
}
