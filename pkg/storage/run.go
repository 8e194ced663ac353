package storage

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"camstream/pkg/camera"
	"camstream/pkg/storage/consts"
)

// Manifest describes one capture run. It is written to info.json when the
// run finishes, successfully or not.
type Manifest struct {
	ID        string               `json:"id"`
	Device    string               `json:"device"`
	Requested int                  `json:"requested"`
	Config    camera.CaptureConfig `json:"config"`
	Frames    []FrameRecord        `json:"frames"`
	Latest    string               `json:"latest,omitempty"`
	Video     string               `json:"video,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Error      string    `json:"error,omitempty"`
}

type FrameRecord struct {
	Index     int       `json:"index"`
	Name      string    `json:"name"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	BytesUsed int       `json:"bytesUsed"`
	Sequence  uint32    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Run collects frame records while a capture is in progress.
type Run struct {
	dir string

	lock     sync.Mutex
	manifest Manifest
}

func newRun(dir, device string, requested int) *Run {
	return &Run{
		dir: dir,
		manifest: Manifest{
			ID:        uuid.NewString(),
			Device:    device,
			Requested: requested,
			Frames:    make([]FrameRecord, 0, requested),
			StartedAt: time.Now(),
		},
	}
}

func (r *Run) ID() string {
	return r.manifest.ID
}

func (r *Run) SetConfig(cfg camera.CaptureConfig) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.manifest.Config = cfg
}

// FramePath is where the frame with the given index is written.
func (r *Run) FramePath(index int) string {
	return filepath.Join(r.dir, FrameName(index))
}

func (r *Run) VideoPath() string {
	return filepath.Join(r.dir, consts.DefaultVideo)
}

func (r *Run) AddFrame(rec FrameRecord) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.manifest.Frames = append(r.manifest.Frames, rec)
	r.manifest.Latest = rec.Name
}

func (r *Run) SetVideo(name string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.manifest.Video = name
}

// Manifest returns a copy of the run so far.
func (r *Run) Manifest() *Manifest {
	r.lock.Lock()
	defer r.lock.Unlock()
	m := r.manifest
	m.Frames = append([]FrameRecord(nil), r.manifest.Frames...)
	return &m
}

// Finish stamps the run, records runErr if any and dumps the manifest.
func (r *Run) Finish(runErr error) (*Manifest, error) {
	r.lock.Lock()
	r.manifest.FinishedAt = time.Now()
	if runErr != nil {
		r.manifest.Error = runErr.Error()
	}
	r.lock.Unlock()

	m := r.Manifest()
	return m, r.dump(m)
}

func (r *Run) dump(m *Manifest) error {
	f, err := os.Create(filepath.Join(r.dir, consts.DefaultInfoFile))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
