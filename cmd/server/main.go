package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"
	"go.uber.org/zap"
	xbmp "golang.org/x/image/bmp"

	"camstream/pkg/camera"
	"camstream/pkg/config"
	"camstream/pkg/ov"
	"camstream/pkg/pipeline"
	"camstream/pkg/schedule"
	"camstream/pkg/storage"
	"camstream/pkg/types"
	"camstream/pkg/utils"
	"camstream/pkg/utils/image"
	"camstream/pkg/utils/ps"
	"camstream/pkg/webdav"
)

const (
	webDavStart    = "start"
	webDavShutdown = "shutdown"

	previewQuality = 85
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

type server struct {
	runner    *pipeline.Runner
	stg       *storage.Storage
	scheduler *schedule.Scheduler
	dav       *webdav.Webdav
}

func main() {
	defer logger.Sync()

	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		utils.Exit(err)
	}
	if err = utils.SetLevel(cfg.Log.Level); err != nil {
		utils.Exit(err)
	}

	ctx, stop := utils.SignalContext(context.Background())
	defer stop()

	s, err := newServer(ctx, cfg)
	if err != nil {
		utils.Exit(err)
	}

	if err = utils.ListenAndServe(ctx, s.router(), cfg.Server.Port); err != nil {
		utils.Exit(err)
	}
}

func newServer(ctx context.Context, cfg *config.Config, opts ...camera.Option) (*server, error) {
	stg, err := storage.New(cfg.Dir)
	if err != nil {
		return nil, err
	}
	runner := pipeline.NewRunner(cfg, stg, opts...)
	s := &server{
		runner:    runner,
		stg:       stg,
		scheduler: schedule.New(ctx, runner),
		dav:       webdav.New(ctx, cfg.Server.WebdavPort, cfg.Dir),
	}
	if cfg.Server.Interval > 0 {
		if err = s.scheduler.Begin(schedule.Job{Interval: cfg.Server.Interval}); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(utils.Cors())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})

	apiRouter := r.Group("/api")
	apiRouter.POST("/capture", s.capture)
	apiRouter.GET("/status", s.status)
	apiRouter.PUT("/webdav", s.ctlWebdav)

	deviceRouter := apiRouter.Group("/device")
	deviceRouter.GET("", s.getDevice)
	deviceRouter.PUT("/controls", s.updateControls)

	frameRouter := apiRouter.Group("/frames")
	frameRouter.GET("", s.listFrames)
	frameRouter.GET("/:name", s.getFrame)

	apiRouter.GET("/runs/latest", s.latestRun)

	scheduleRouter := apiRouter.Group("/schedule")
	scheduleRouter.GET("", s.getSchedule)
	scheduleRouter.PUT("", s.putSchedule)
	scheduleRouter.DELETE("", s.deleteSchedule)

	return r
}

func (s *server) capture(c *gin.Context) {
	var req ov.Capture
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}

	m, err := s.runner.Run(c.Request.Context(), pipeline.Request{Width: req.Width, Height: req.Height, Count: req.Count})
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
	case errors.Is(err, storage.ErrNoSpace):
		c.JSON(http.StatusInsufficientStorage, jsend.SimpleErr(err.Error()))
	case err != nil:
		internalErr(c, err)
	default:
		c.JSON(http.StatusOK, jsend.Success(m))
	}
}

func (s *server) getDevice(c *gin.Context) {
	d := s.runner.Device()
	if d == nil {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("no capture run yet"))
		return
	}
	ctrls := make([]ov.Control, 0, len(d.Controls))
	for _, ctrl := range d.Controls {
		ctrls = append(ctrls, ov.Control{
			ID:      ctrl.ID,
			Name:    ctrl.Name,
			Value:   ctrl.Value,
			Default: ctrl.Default,
			Minimum: ctrl.Minimum,
			Maximum: ctrl.Maximum,
			Step:    ctrl.Step,
		})
	}

	c.JSON(http.StatusOK, jsend.Success(gin.H{
		"config":     d.Config,
		"controls":   ctrls,
		"frameSizes": d.FrameSizes,
		"updatedAt":  d.UpdatedAt,
	}))
}

func (s *server) updateControls(c *gin.Context) {
	var list []ov.UpdateControl
	if err := c.ShouldBindJSON(&list); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	settings := make(types.CameraSettings, len(list))
	for _, u := range list {
		if u.ID == 0 {
			c.JSON(http.StatusBadRequest, jsend.SimpleErr("control id is required"))
			return
		}
		settings[u.ID] = u.Value
	}
	s.runner.SetControls(settings)

	c.JSON(http.StatusOK, jsend.Success(settings))
}

func (s *server) listFrames(c *gin.Context) {
	files, err := s.stg.ListFiles()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(files))
}

// getFrame sends an output file; bitmaps can be requested as JPEG previews
// with ?format=jpeg.
func (s *server) getFrame(c *gin.Context) {
	p, err := s.stg.Path(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, jsend.SimpleErr(err.Error()))
		return
	}
	if c.Query("format") != "jpeg" {
		c.File(p)
		return
	}

	f, err := os.Open(p)
	if err != nil {
		internalErr(c, err)
		return
	}
	defer f.Close()
	img, err := xbmp.Decode(f)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, jsend.SimpleErr(fmt.Sprintf("not a portable bitmap: %s", err)))
		return
	}
	c.Header("Content-Type", "image/jpeg")
	c.Status(http.StatusOK)
	if err = image.EncodeJPEG(img, c.Writer, previewQuality); err != nil {
		logger.Errorf("encode preview of %s: %s", p, err)
	}
}

func (s *server) latestRun(c *gin.Context) {
	m, err := s.stg.Latest()
	if errors.Is(err, storage.ErrNoRun) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr(err.Error()))
		return
	}
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(m))
}

func (s *server) getSchedule(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(gin.H{
		"job":  s.scheduler.GetJob(),
		"runs": s.scheduler.Runs(),
	}))
}

func (s *server) putSchedule(c *gin.Context) {
	var req ov.Schedule
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	interval, err := time.ParseDuration(req.Interval)
	if err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	job := schedule.Job{
		Interval: interval,
		Request:  pipeline.Request{Width: req.Width, Height: req.Height, Count: req.Count},
	}
	if err = s.scheduler.Begin(job); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}

	c.JSON(http.StatusOK, jsend.Success(job))
}

func (s *server) deleteSchedule(c *gin.Context) {
	s.scheduler.Stop()
	c.JSON(http.StatusOK, jsend.Success(nil))
}

func (s *server) status(c *gin.Context) {
	var st ov.Status
	var err error
	if st.CPU, err = ps.CPUStatus(); err != nil {
		logger.Warnf("cpu status: %s", err)
	}
	if st.Memory, err = ps.MemoryStatus(); err != nil {
		logger.Warnf("memory status: %s", err)
	}
	if st.Disk, err = ps.DiskUsage(s.stg.Dir()); err != nil {
		logger.Warnf("disk status: %s", err)
	}
	if size, err := s.stg.Size(); err == nil {
		st.OutputSize = humanize.IBytes(uint64(size))
	}
	st.Schedule = s.scheduler.GetJob()
	st.Webdav = s.dav.Running()

	c.JSON(http.StatusOK, jsend.Success(st))
}

func (s *server) ctlWebdav(c *gin.Context) {
	op := c.Query("op")
	switch op {
	case webDavStart:
		if !s.dav.Start() {
			c.JSON(http.StatusOK, jsend.Success("the webdav service is already enabled"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(fmt.Sprintf("webdav is listening on port %d", s.dav.Port())))
	case webDavShutdown:
		if !s.dav.Stop() {
			c.JSON(http.StatusOK, jsend.SimpleErr("the webdav service has been shut down"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(nil))
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
	}
}

func internalErr(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}
