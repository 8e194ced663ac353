package camera

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"go.uber.org/multierr"
)

const DefaultBufferCount = 3

type BufferState int

const (
	// ApplicationOwned buffers may be read and written by the process. Every
	// buffer starts here after mapping, before the initial queue.
	ApplicationOwned BufferState = iota
	// DriverOwned buffers belong to the device until dequeued.
	DriverOwned
)

func (s BufferState) String() string {
	switch s {
	case ApplicationOwned:
		return "application"
	case DriverOwned:
		return "driver"
	default:
		return fmt.Sprintf("BufferState(%d)", int(s))
	}
}

// Buffer is one kernel buffer slot with its mapped planes.
type Buffer struct {
	Index  int
	State  BufferState
	Planes [][]byte

	lease uint64
}

func (b *Buffer) mapped(planes int) bool {
	if len(b.Planes) != planes {
		return false
	}
	for _, p := range b.Planes {
		if p == nil {
			return false
		}
	}
	return true
}

// Frame is a view into an acquired buffer. It is only valid until the buffer
// is submitted back; Submit clears Planes.
type Frame struct {
	Index     int
	Width     int
	Height    int
	BytesUsed int
	Sequence  uint32
	Timestamp time.Time
	Planes    [][]byte

	lease uint64
}

// Valid reports whether the frame still belongs to the application.
func (f *Frame) Valid() bool {
	return f != nil && f.lease != 0
}

// Pool owns the driver buffers of a session. Acquire and Submit are the only
// operations that change a buffer's State.
type Pool struct {
	dev     Device
	path    string
	planes  int
	buffers []*Buffer

	queued   bool
	released bool
	leases   uint64
}

// Allocate requests count MMAP buffers. The driver may grant fewer; the pool
// uses what was granted.
func Allocate(s *Session, count int) (*Pool, error) {
	if count <= 0 {
		return nil, devErr(s.path, "VIDIOC_REQBUFS", ErrBufferAllocation, fmt.Errorf("invalid buffer count %d", count))
	}
	granted, err := s.dev.RequestBuffers(count)
	if err != nil {
		return nil, devErr(s.path, "VIDIOC_REQBUFS", ErrBufferAllocation, err)
	}
	if granted <= 0 {
		return nil, devErr(s.path, "VIDIOC_REQBUFS", ErrBufferAllocation, errors.New("driver granted no buffers"))
	}
	if granted != count {
		logger.Warnf("requested %d buffers, driver granted %d", count, granted)
	}

	p := &Pool{
		dev:     s.dev,
		path:    s.path,
		planes:  s.config.Planes,
		buffers: make([]*Buffer, granted),
	}
	for i := range p.buffers {
		p.buffers[i] = &Buffer{Index: i, State: ApplicationOwned}
	}
	logger.Infof("requested buffers: %d granted", granted)

	return p, nil
}

func (p *Pool) Len() int {
	return len(p.buffers)
}

// State reports the ownership of buffer index.
func (p *Pool) State(index int) (BufferState, error) {
	b, err := p.buffer(index)
	if err != nil {
		return 0, err
	}
	return b.State, nil
}

func (p *Pool) buffer(index int) (*Buffer, error) {
	if index < 0 || index >= len(p.buffers) {
		return nil, devErr(p.path, "buffer", ErrOwnership, fmt.Errorf("index %d out of range [0,%d)", index, len(p.buffers)))
	}
	return p.buffers[index], nil
}

// MapAll queries and maps every plane of every buffer. A failure unmaps
// whatever was mapped before it.
func (p *Pool) MapAll() error {
	if p.released {
		return devErr(p.path, "mmap", ErrMemoryMap, errors.New("pool released"))
	}
	for _, b := range p.buffers {
		infos, err := p.dev.QueryBuffer(b.Index, p.planes)
		if err != nil {
			_ = p.unmapAll()
			return devErr(p.path, "VIDIOC_QUERYBUF", ErrMemoryMap, fmt.Errorf("buffer %d: %w", b.Index, err))
		}
		if len(infos) != p.planes {
			_ = p.unmapAll()
			return devErr(p.path, "VIDIOC_QUERYBUF", ErrMemoryMap, fmt.Errorf("buffer %d: %d planes, want %d", b.Index, len(infos), p.planes))
		}

		b.Planes = make([][]byte, 0, p.planes)
		for i, info := range infos {
			data, err := p.dev.Map(info)
			if err != nil {
				_ = p.unmapAll()
				return devErr(p.path, "mmap", ErrMemoryMap, fmt.Errorf("buffer %d plane %d: %w", b.Index, i, err))
			}
			b.Planes = append(b.Planes, data)
		}
	}
	logger.Infof("mapped %d buffers of %d plane(s)", len(p.buffers), p.planes)

	return nil
}

// QueueAll hands every mapped buffer to the driver once before streaming.
func (p *Pool) QueueAll() error {
	if p.queued {
		return devErr(p.path, "VIDIOC_QBUF", ErrOwnership, errors.New("buffers already queued"))
	}
	for _, b := range p.buffers {
		if !b.mapped(p.planes) {
			return devErr(p.path, "VIDIOC_QBUF", ErrOwnership, fmt.Errorf("buffer %d has unmapped planes", b.Index))
		}
		if b.State != ApplicationOwned {
			return devErr(p.path, "VIDIOC_QBUF", ErrOwnership, fmt.Errorf("buffer %d already owned by the driver", b.Index))
		}
		if err := p.dev.Queue(b.Index, p.planes); err != nil {
			return devErr(p.path, "VIDIOC_QBUF", ErrQueue, fmt.Errorf("buffer %d: %w", b.Index, err))
		}
		b.State = DriverOwned
	}
	p.queued = true
	logger.Infof("queued %d buffers", len(p.buffers))

	return nil
}

// Acquire dequeues the next filled buffer and hands it to the application.
func (p *Pool) Acquire() (*Frame, error) {
	if !p.queued {
		return nil, devErr(p.path, "VIDIOC_DQBUF", ErrOwnership, errors.New("buffers were never queued"))
	}
	d, err := p.dev.Dequeue(p.planes)
	if err != nil {
		kind := ErrDequeue
		if isNotReady(err) {
			kind = ErrNotReady
		}
		return nil, devErr(p.path, "VIDIOC_DQBUF", kind, err)
	}

	b, err := p.buffer(d.Index)
	if err != nil {
		return nil, err
	}
	if b.State != DriverOwned {
		return nil, devErr(p.path, "VIDIOC_DQBUF", ErrOwnership, fmt.Errorf("buffer %d is already held by the application", b.Index))
	}

	used := 0
	for _, n := range d.PlaneBytesUsed {
		used += n
	}
	if used == 0 {
		used = d.BytesUsed
	}

	p.leases++
	b.State = ApplicationOwned
	b.lease = p.leases

	return &Frame{
		Index:     b.Index,
		BytesUsed: used,
		Sequence:  d.Sequence,
		Timestamp: d.Timestamp,
		Planes:    append([][]byte(nil), b.Planes...),
		lease:     b.lease,
	}, nil
}

// Submit queues an acquired frame's buffer back to the driver and invalidates
// the frame. A frame can be submitted once.
func (p *Pool) Submit(f *Frame) error {
	if !f.Valid() {
		return devErr(p.path, "VIDIOC_QBUF", ErrOwnership, errors.New("frame was not acquired or was already submitted"))
	}
	b, err := p.buffer(f.Index)
	if err != nil {
		return err
	}
	if b.State != ApplicationOwned || b.lease != f.lease {
		return devErr(p.path, "VIDIOC_QBUF", ErrOwnership, fmt.Errorf("buffer %d is not held by this frame", b.Index))
	}
	if err = p.dev.Queue(b.Index, p.planes); err != nil {
		return devErr(p.path, "VIDIOC_QBUF", ErrQueue, fmt.Errorf("buffer %d: %w", b.Index, err))
	}

	b.State = DriverOwned
	b.lease = 0
	f.lease = 0
	f.Planes = nil

	return nil
}

// Release unmaps every plane. It is safe to call more than once.
func (p *Pool) Release() error {
	if p.released {
		return nil
	}
	p.released = true
	return p.unmapAll()
}

func (p *Pool) unmapAll() error {
	var err error
	for _, b := range p.buffers {
		for i, plane := range b.Planes {
			if plane == nil {
				continue
			}
			if e := p.dev.Unmap(plane); e != nil {
				err = multierr.Append(err, fmt.Errorf("munmap buffer %d plane %d: %w", b.Index, i, e))
			}
		}
		b.Planes = nil
	}
	return err
}

func isNotReady(err error) bool {
	return errors.Is(err, ErrNotReady) || errors.Is(err, syscall.EAGAIN)
}
