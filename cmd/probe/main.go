package main

import (
	"io"
	"os"

	"github.com/goccy/go-json"
	"go.uber.org/multierr"

	"camstream/pkg/camera"
	"camstream/pkg/config"
	"camstream/pkg/utils"
)

type report struct {
	Config     camera.CaptureConfig `json:"config"`
	Controls   []camera.Control     `json:"controls"`
	FrameSizes []camera.FrameSize   `json:"frameSizes"`
}

// camstream-probe opens the configured device, negotiates the configured
// size and prints what the driver reports as JSON.
func main() {
	cfg, err := config.Load("camstream-probe", os.Args[1:])
	if err != nil {
		utils.Exit(err)
	}
	if err = utils.SetLevel(cfg.Log.Level); err != nil {
		utils.Exit(err)
	}

	if err = probe(os.Stdout, cfg); err != nil {
		utils.Exit(err)
	}
}

func probe(w io.Writer, cfg *config.Config, opts ...camera.Option) (err error) {
	cam := camera.New(cfg.Device, append(cfg.CameraOptions(), opts...)...)
	c, err := cam.Open(cfg.Width, cfg.Height)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, cam.Close())
	}()

	r := report{Config: c}
	if r.Controls, err = cam.Session().Controls(); err != nil {
		return err
	}
	if r.FrameSizes, err = cam.Session().FrameSizes(); err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(r)
}
