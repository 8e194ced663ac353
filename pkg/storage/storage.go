package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"camstream/pkg/storage/consts"
	"camstream/pkg/storage/util"
	"camstream/pkg/types"
	"camstream/pkg/utils"
	"camstream/pkg/utils/ps"
)

var (
	ErrNoSpace  = errors.New("not enough free space")
	ErrNoRun    = errors.New("no capture run recorded")
	ErrNotFound = errors.New("file not found")
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("storage")
}

// Storage is the output directory of capture runs. The latest run's manifest
// is kept in info.json next to its frames.
type Storage struct {
	dir string
}

func New(dir string) (*Storage, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage dir can not be empty")
	}
	if err := util.MkdirAll(dir); err != nil {
		return nil, err
	}

	return &Storage{dir: dir}, nil
}

func (s *Storage) Dir() string {
	return s.dir
}

// CheckFree fails with ErrNoSpace when the file system holding the output
// directory has less than need bytes available.
func (s *Storage) CheckFree(need uint64) error {
	usage, err := ps.DiskUsage(s.dir)
	if err != nil {
		logger.Warnf("disk usage of %s: %s", s.dir, err)
		return nil
	}
	if usage.Free < need {
		return fmt.Errorf("%w in %s: need %s, have %s",
			ErrNoSpace, s.dir, humanize.IBytes(need), humanize.IBytes(usage.Free))
	}
	logger.Debugf("%s free in %s, run needs %s", humanize.IBytes(usage.Free), s.dir, humanize.IBytes(need))

	return nil
}

// Begin starts a new run manifest. Nothing is written until Finish.
func (s *Storage) Begin(device string, requested int) *Run {
	return newRun(s.dir, device, requested)
}

// Latest loads the manifest of the last finished run.
func (s *Storage) Latest() (*Manifest, error) {
	data, err := os.ReadFile(s.infoPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, fmt.Errorf("read run info err: %w", err)
	}
	m := &Manifest{}
	if err = json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("unmarshal run info err: %w", err)
	}

	return m, nil
}

// ListFiles lists the bitmaps, videos and manifests in the output directory,
// sorted by name.
func (s *Storage) ListFiles() ([]types.File, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	res := make([]types.File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isOutput(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed since ReadDir
			continue
		}
		res = append(res, types.File{
			Name:    e.Name(),
			Size:    humanize.IBytes(uint64(info.Size())),
			Bytes:   info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })

	return res, nil
}

// Path resolves an output file by name, refusing names outside the directory.
func (s *Storage) Path(name string) (string, error) {
	p, err := util.SafeJoin(s.dir, name)
	if err != nil {
		return "", err
	}
	if !isOutput(name) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	return p, nil
}

// Size is the total size of the output directory.
func (s *Storage) Size() (int64, error) {
	return ps.DirDiskUsage(s.dir)
}

func (s *Storage) infoPath() string {
	return filepath.Join(s.dir, consts.DefaultInfoFile)
}

func isOutput(name string) bool {
	switch {
	case strings.HasPrefix(name, consts.FramePrefix) && strings.HasSuffix(name, consts.DefaultImageExt):
		return true
	case strings.HasSuffix(name, consts.DefaultVideoExt):
		return true
	case name == consts.DefaultInfoFile:
		return true
	}
	return false
}

// FrameName is the file name of the frame with the given zero-based index.
func FrameName(index int) string {
	return fmt.Sprintf("%s%d%s", consts.FramePrefix, index, consts.DefaultImageExt)
}
