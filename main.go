package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"camstream/pkg/config"
	"camstream/pkg/pipeline"
	"camstream/pkg/storage"
	"camstream/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

func main() {
	defer logger.Sync()

	cfg, err := config.Load("camstream", os.Args[1:])
	if err != nil {
		utils.Exit(err)
	}
	if err = utils.SetLevel(cfg.Log.Level); err != nil {
		utils.Exit(err)
	}

	ctx, stop := utils.SignalContext(context.Background())
	defer stop()

	stg, err := storage.New(cfg.Dir)
	if err != nil {
		utils.Exit(err)
	}
	m, err := pipeline.NewRunner(cfg, stg).Run(ctx, pipeline.Request{})
	if m != nil {
		printSummary(m)
	}
	if err != nil {
		utils.Exit(err)
	}
}

func printSummary(m *storage.Manifest) {
	var total int64
	for _, f := range m.Frames {
		total += f.Size
	}
	fmt.Printf("run %s: %d/%d frames at %dx%d (%s) in %s\n",
		m.ID, len(m.Frames), m.Requested, m.Config.Width, m.Config.Height,
		humanize.IBytes(uint64(total)), m.FinishedAt.Sub(m.StartedAt))
	if m.Video != "" {
		fmt.Printf("video: %s\n", m.Video)
	}
}
