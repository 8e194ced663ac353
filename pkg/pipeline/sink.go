package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"camstream/pkg/bmp"
	"camstream/pkg/camera"
	"camstream/pkg/storage"
	"camstream/pkg/types"
	"camstream/pkg/video"
	"camstream/pkg/yuv"
)

// BitmapSink converts each frame to BGR, writes it as frame_<index>.bmp and
// records it in the run. With video enabled the frames are also appended to
// frames.avi.
type BitmapSink struct {
	run   *storage.Run
	conv  yuv.Converter
	video types.VideoSetting

	avi *video.Builder
}

func NewBitmapSink(run *storage.Run, conv yuv.Converter, vs types.VideoSetting) *BitmapSink {
	return &BitmapSink{run: run, conv: conv, video: vs}
}

func (s *BitmapSink) WriteFrame(index int, f *camera.Frame) error {
	luma, chroma, err := framePlanes(f)
	if err != nil {
		return err
	}
	bgr, err := s.conv.Convert(luma, chroma, f.Width, f.Height)
	if err != nil {
		return err
	}

	path := s.run.FramePath(index)
	if err = bmp.WriteFile(path, bgr, f.Width, f.Height); err != nil {
		return err
	}
	logger.Debugf("saved %s", path)

	s.run.AddFrame(storage.FrameRecord{
		Index:     index,
		Name:      filepath.Base(path),
		Width:     f.Width,
		Height:    f.Height,
		BytesUsed: f.BytesUsed,
		Sequence:  f.Sequence,
		Timestamp: f.Timestamp,
		Size:      int64(bmp.FileSize(f.Width, f.Height)),
	})

	if s.video.Enable {
		s.appendVideo(bgr, f.Width, f.Height)
	}

	return nil
}

// appendVideo never fails the capture; the bitmaps are the primary output.
func (s *BitmapSink) appendVideo(bgr []byte, width, height int) {
	if s.avi == nil {
		b, err := video.NewBuilder(s.run.VideoPath(), width, height, s.video.FPS, s.video.Quality)
		if err != nil {
			logger.Errorf("create video: %s", err)
			s.video.Enable = false
			return
		}
		s.avi = b
		s.run.SetVideo(filepath.Base(s.run.VideoPath()))
	}
	if err := s.avi.AddBGR(bgr, width, height); err != nil {
		logger.Warnf("skip video frame: %s", err)
	}
}

// Close finishes the video, if one was started.
func (s *BitmapSink) Close() error {
	if s.avi == nil {
		return nil
	}
	err := s.avi.Close()
	logger.Infof("video has %d frames", s.avi.GetCnt())
	s.avi = nil
	if err != nil {
		_ = os.Remove(s.run.VideoPath())
		s.run.SetVideo("")
		return fmt.Errorf("close video: %w", err)
	}
	return nil
}

// framePlanes picks the luma and chroma planes of a frame. Multi-planar
// buffers carry them separately, single-planar ones back to back.
func framePlanes(f *camera.Frame) (luma, chroma []byte, err error) {
	switch len(f.Planes) {
	case 0:
		return nil, nil, yuv.ErrNullBuffer
	case 1:
		return yuv.SplitNV21(f.Planes[0], f.Width, f.Height)
	default:
		return f.Planes[0], f.Planes[1], nil
	}
}
