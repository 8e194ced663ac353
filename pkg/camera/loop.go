package camera

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

const (
	StateIdle      = "idle"
	StateStreaming = "streaming"
	StateStopped   = "stopped"

	eventStart = "start"
	eventStop  = "stop"
)

// Sink receives every captured frame while its buffer is held by the
// application. It must not keep the frame after returning.
type Sink interface {
	WriteFrame(index int, f *Frame) error
}

type SinkFunc func(index int, f *Frame) error

func (fn SinkFunc) WriteFrame(index int, f *Frame) error {
	return fn(index, f)
}

// Loop drives idle -> streaming -> stopped over one session and its pool.
type Loop struct {
	session *Session
	pool    *Pool
	fsm     *fsm.FSM

	stopErr error
}

func NewLoop(s *Session, p *Pool) *Loop {
	l := &Loop{session: s, pool: p}
	l.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle}, Dst: StateStreaming},
			{Name: eventStop, Src: []string{StateIdle, StateStreaming}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"before_" + eventStart:   l.beforeStart,
			"leave_" + StateStreaming: l.leaveStreaming,
		},
	)
	return l
}

func (l *Loop) State() string {
	return l.fsm.Current()
}

func (l *Loop) beforeStart(_ context.Context, e *fsm.Event) {
	if err := l.pool.QueueAll(); err != nil {
		e.Cancel(devErr(l.session.path, "start", ErrStreamStart, err))
		return
	}
	if err := l.session.dev.StreamOn(); err != nil {
		e.Cancel(devErr(l.session.path, "VIDIOC_STREAMON", ErrStreamStart, err))
	}
}

func (l *Loop) leaveStreaming(_ context.Context, _ *fsm.Event) {
	if err := l.session.dev.StreamOff(); err != nil {
		l.stopErr = devErr(l.session.path, "VIDIOC_STREAMOFF", ErrStreamStop, err)
	}
}

// Start queues every buffer and turns the stream on. On failure the loop
// stays idle.
func (l *Loop) Start(ctx context.Context) error {
	err := l.fsm.Event(ctx, eventStart)
	if err != nil {
		var canceled fsm.CanceledError
		if errors.As(err, &canceled) && canceled.Err != nil {
			return canceled.Err
		}
		return devErr(l.session.path, "start", ErrStreamStart, err)
	}
	logger.Info("stream is on")

	return nil
}

// Stop turns the stream off if it is on and moves to stopped. A stream-off
// failure is returned but the loop is stopped regardless.
func (l *Loop) Stop(ctx context.Context) error {
	if l.fsm.Is(StateStopped) {
		return nil
	}
	wasStreaming := l.fsm.Is(StateStreaming)
	l.stopErr = nil
	if err := l.fsm.Event(ctx, eventStop); err != nil {
		return err
	}
	if wasStreaming && l.stopErr == nil {
		logger.Info("stream is off")
	}

	return l.stopErr
}

// Run captures count frames, handing each to sink before the buffer goes
// back to the driver. The first failure aborts the remaining frames.
func (l *Loop) Run(ctx context.Context, count int, sink Sink) error {
	if !l.fsm.Is(StateStreaming) {
		return devErr(l.session.path, "capture", ErrNotOpen, fmt.Errorf("loop is %s", l.fsm.Current()))
	}
	cfg := l.session.Config()
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.capture(i, cfg, sink); err != nil {
			return err
		}
	}

	return nil
}

func (l *Loop) capture(index int, cfg CaptureConfig, sink Sink) (err error) {
	frame, err := l.pool.Acquire()
	if err != nil {
		return err
	}
	defer func() {
		if serr := l.pool.Submit(frame); serr != nil {
			if err == nil {
				err = serr
				return
			}
			logger.Errorf("requeue buffer %d: %s", frame.Index, serr)
		}
	}()

	frame.Width, frame.Height = ActiveSize(cfg.Width, cfg.Height, frame.BytesUsed)
	logger.Debugf("dequeued buffer (index %d, %d bytes, %dx%d)", frame.Index, frame.BytesUsed, frame.Width, frame.Height)

	if err = sink.WriteFrame(index, frame); err != nil {
		return fmt.Errorf("frame %d: %w", index, err)
	}

	return nil
}

// ActiveSize returns the dimensions to convert a frame with. Drivers that pad
// buffers to macroblock alignment report more than width*height*1.5 bytes;
// both dimensions are then rounded up to a multiple of 16.
func ActiveSize(width, height, bytesUsed int) (int, int) {
	if bytesUsed*2 > width*height*3 {
		return align16(width), align16(height)
	}
	return width, height
}

func align16(v int) int {
	return (v + 15) &^ 15
}
