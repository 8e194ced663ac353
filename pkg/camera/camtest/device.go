// Package camtest provides an in-memory capture device for tests.
package camtest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"camstream/pkg/camera"
)

// Device implements camera.Device without hardware. Exported fields configure
// its behaviour and must be set before the device is opened.
type Device struct {
	Caps camera.Capability
	// MaxWidth and MaxHeight clamp the negotiated size, like a sensor that
	// cannot deliver the requested resolution.
	MaxWidth  uint32
	MaxHeight uint32
	// Planes is the plane count reported after negotiation.
	Planes int
	// Granted caps the number of buffers handed out; zero grants the request.
	Granted int
	// BytesUsed overrides the filled byte count reported on dequeue.
	BytesUsed int
	// Padding sizes the buffers for dimensions rounded up to 16, and reports
	// them filled, like drivers that pad to macroblocks.
	Padding bool
	// Fill writes frame content into the buffer planes before dequeue.
	Fill func(seq int, planes [][]byte)

	// Fail makes the named operation (method name or "Open") return the error.
	Fail map[string]error
	// FailDequeue fails the n-th (0-based) dequeue.
	FailDequeue map[int]error
	// FailMapAt fails the n-th (1-based) Map call.
	FailMapAt int
	// Script forces the indices returned by successive dequeues.
	Script []int

	mu       sync.Mutex
	calls    map[string]int
	opened   camera.OpenOptions
	format   camera.Format
	buffers  [][][]byte
	queue    []int
	ctrls    map[uint32]int32
	mapped   int
	seq      int
	dequeues int
	closed   bool
}

func New() *Device {
	return &Device{
		Caps: camera.Capability{
			Driver:       "camtest",
			Card:         "Fake Camera",
			BusInfo:      "platform:camtest",
			Capabilities: camera.CapVideoCaptureMPlane | camera.CapStreaming,
		},
		Planes: 1,
		ctrls:  make(map[uint32]int32),
		calls:  make(map[string]int),
	}
}

// Opener returns a camera.Opener that hands out this device.
func (d *Device) Opener() camera.Opener {
	return func(path string, opts camera.OpenOptions) (camera.Device, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if err := d.hit("Open"); err != nil {
			return nil, err
		}
		d.opened = opts
		d.closed = false
		return d, nil
	}
}

// Count reports how many times op was called.
func (d *Device) Count(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Mapped reports the number of planes currently mapped.
func (d *Device) Mapped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mapped
}

func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) OpenOptions() camera.OpenOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

func (d *Device) ControlValue(id uint32) (int32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.ctrls[id]
	return v, ok
}

func (d *Device) hit(op string) error {
	d.calls[op]++
	if err, ok := d.Fail[op]; ok {
		return err
	}
	return nil
}

func (d *Device) Capability() (camera.Capability, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("Capability"); err != nil {
		return camera.Capability{}, err
	}
	return d.Caps, nil
}

func (d *Device) SetInput(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("SetInput"); err != nil {
		return err
	}
	if index != 0 {
		return fmt.Errorf("no input %d", index)
	}
	return nil
}

func (d *Device) SetFrameInterval(interval camera.Fract) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hit("SetFrameInterval")
}

func (d *Device) FrameInterval() (camera.Fract, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("FrameInterval"); err != nil {
		return camera.Fract{}, err
	}
	return camera.DefaultFrameInterval, nil
}

func (d *Device) SetFormat(f camera.Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("SetFormat"); err != nil {
		return err
	}
	w, h := f.Width, f.Height
	if d.MaxWidth != 0 && w > d.MaxWidth {
		w = d.MaxWidth
	}
	if d.MaxHeight != 0 && h > d.MaxHeight {
		h = d.MaxHeight
	}

	pw, ph := w, h
	if d.Padding {
		pw, ph = align16(w), align16(h)
	}
	planes := make([]camera.PlaneFormat, d.Planes)
	for i := range planes {
		planes[i] = camera.PlaneFormat{BytesPerLine: pw, SizeImage: planeSize(pw, ph, i, d.Planes)}
	}
	d.format = camera.Format{Width: w, Height: h, PixelFormat: f.PixelFormat, Field: f.Field, Planes: planes}

	return nil
}

func align16(v uint32) uint32 {
	return (v + 15) &^ 15
}

func planeSize(w, h uint32, i, planes int) uint32 {
	switch {
	case planes == 1:
		return w * h * 3 / 2
	case i == 0:
		return w * h
	default:
		return w * h / 2
	}
}

func (d *Device) Format() (camera.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("Format"); err != nil {
		return camera.Format{}, err
	}
	f := d.format
	f.Planes = append([]camera.PlaneFormat(nil), d.format.Planes...)
	return f, nil
}

func (d *Device) RequestBuffers(count int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("RequestBuffers"); err != nil {
		return 0, err
	}
	if d.Granted > 0 && count > d.Granted {
		count = d.Granted
	}
	d.buffers = make([][][]byte, count)
	d.queue = nil

	return count, nil
}

func (d *Device) QueryBuffer(index, planes int) ([]camera.PlaneInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("QueryBuffer"); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(d.buffers) {
		return nil, fmt.Errorf("no buffer %d", index)
	}
	res := make([]camera.PlaneInfo, planes)
	for i := range res {
		res[i] = camera.PlaneInfo{Length: d.format.Planes[i].SizeImage, Offset: uint32(index<<16 | i)}
	}
	return res, nil
}

func (d *Device) Map(p camera.PlaneInfo) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("Map"); err != nil {
		return nil, err
	}
	if d.FailMapAt > 0 && d.calls["Map"] == d.FailMapAt {
		return nil, errors.New("mmap: cannot allocate memory")
	}
	index, plane := int(p.Offset>>16), int(p.Offset&0xffff)
	data := make([]byte, p.Length)
	if d.buffers[index] == nil {
		d.buffers[index] = make([][]byte, len(d.format.Planes))
	}
	d.buffers[index][plane] = data
	d.mapped++

	return data, nil
}

func (d *Device) Unmap(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("Unmap"); err != nil {
		return err
	}
	d.mapped--
	return nil
}

func (d *Device) Queue(index, planes int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("Queue"); err != nil {
		return err
	}
	if index < 0 || index >= len(d.buffers) {
		return fmt.Errorf("no buffer %d", index)
	}
	d.queue = append(d.queue, index)
	return nil
}

func (d *Device) Dequeue(planes int) (camera.Dequeued, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.dequeues
	d.dequeues++
	if err := d.hit("Dequeue"); err != nil {
		return camera.Dequeued{}, err
	}
	if err, ok := d.FailDequeue[n]; ok {
		return camera.Dequeued{}, err
	}

	var index int
	switch {
	case len(d.Script) > 0:
		index, d.Script = d.Script[0], d.Script[1:]
	case len(d.queue) > 0:
		index, d.queue = d.queue[0], d.queue[1:]
	default:
		return camera.Dequeued{}, camera.ErrNotReady
	}

	if d.Fill != nil && d.buffers[index] != nil {
		d.Fill(d.seq, d.buffers[index])
	}
	used := d.BytesUsed
	if used == 0 {
		for _, p := range d.format.Planes {
			used += int(p.SizeImage)
		}
	}
	res := camera.Dequeued{
		Index:          index,
		PlaneBytesUsed: make([]int, planes),
		Sequence:       uint32(d.seq),
		Timestamp:      time.Now(),
	}
	res.PlaneBytesUsed[0] = used
	d.seq++

	return res, nil
}

func (d *Device) StreamOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hit("StreamOn")
}

func (d *Device) StreamOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("StreamOff"); err != nil {
		return err
	}
	d.queue = nil
	return nil
}

func (d *Device) SetControl(id uint32, value int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("SetControl"); err != nil {
		return err
	}
	d.ctrls[id] = value
	return nil
}

func (d *Device) Controls() ([]camera.Control, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("Controls"); err != nil {
		return nil, err
	}
	res := make([]camera.Control, 0, len(d.ctrls))
	for id, v := range d.ctrls {
		res = append(res, camera.Control{ID: id, Name: fmt.Sprintf("control %d", id), Value: v, Maximum: 255, Step: 1})
	}
	return res, nil
}

func (d *Device) FrameSizes() ([]camera.FrameSize, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("FrameSizes"); err != nil {
		return nil, err
	}
	return []camera.FrameSize{{
		PixelFormat: camera.PixelFmtNV21,
		MinWidth:    16,
		MaxWidth:    d.MaxWidth,
		MinHeight:   16,
		MaxHeight:   d.MaxHeight,
	}}, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("Close"); err != nil {
		return err
	}
	d.closed = true
	return nil
}
