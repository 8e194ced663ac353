package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"camstream/pkg/camera"
)

func TestRun(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "out"))
	checkErr(t, err)

	if _, err = s.Latest(); !errors.Is(err, ErrNoRun) {
		t.Fatalf("got %v, want ErrNoRun", err)
	}

	r := s.Begin("/dev/video0", 2)
	r.SetConfig(camera.CaptureConfig{Device: "/dev/video0", Width: 816, Height: 612, Planes: 1})
	for i := 0; i < 2; i++ {
		checkErr(t, os.WriteFile(r.FramePath(i), []byte("BM"), 0o600))
		r.AddFrame(FrameRecord{Index: i, Name: FrameName(i), Width: 816, Height: 612, Size: 2})
	}
	m, err := r.Finish(errors.New("frame 2: boom"))
	checkErr(t, err)

	got, err := s.Latest()
	checkErr(t, err)
	if got.ID != r.ID() || got.ID == "" {
		t.Fatalf("run id %q, want %q", got.ID, r.ID())
	}
	if len(got.Frames) != 2 || got.Latest != "frame_1.bmp" || got.Error != "frame 2: boom" {
		t.Fatalf("unexpected manifest %+v", got)
	}
	if got.Config.Width != 816 || m.FinishedAt.Before(m.StartedAt) {
		t.Fatalf("unexpected manifest %+v", got)
	}

	if other := s.Begin("/dev/video0", 1); other.ID() == r.ID() {
		t.Fatal("run ids repeat")
	}
}

func TestListFiles(t *testing.T) {
	s, err := New(t.TempDir())
	checkErr(t, err)
	for name, size := range map[string]int{
		"frame_10.bmp": 10,
		"frame_2.bmp":  2048,
		"frames.avi":   1,
		"notes.txt":    1,
		"info.json":    1,
	} {
		checkErr(t, os.WriteFile(filepath.Join(s.Dir(), name), make([]byte, size), 0o600))
	}
	checkErr(t, os.Mkdir(filepath.Join(s.Dir(), "frame_9.bmp"), 0o700))

	files, err := s.ListFiles()
	checkErr(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	want := []string{"frame_10.bmp", "frame_2.bmp", "frames.avi", "info.json"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
	if files[1].Size != "2.0 KiB" || files[1].Bytes != 2048 {
		t.Fatalf("size %q (%d)", files[1].Size, files[1].Bytes)
	}

	size, err := s.Size()
	checkErr(t, err)
	if size != 10+2048+1+1+1 {
		t.Fatalf("dir size %d", size)
	}
}

func TestPath(t *testing.T) {
	s, err := New(t.TempDir())
	checkErr(t, err)
	checkErr(t, os.WriteFile(filepath.Join(s.Dir(), "frame_0.bmp"), nil, 0o600))
	checkErr(t, os.WriteFile(filepath.Join(s.Dir(), "secret.txt"), nil, 0o600))

	p, err := s.Path("frame_0.bmp")
	checkErr(t, err)
	if p != filepath.Join(s.Dir(), "frame_0.bmp") {
		t.Fatalf("path %s", p)
	}
	for _, name := range []string{"frame_1.bmp", "secret.txt"} {
		if _, err = s.Path(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: got %v", name, err)
		}
	}
	if _, err = s.Path("../frame_0.bmp"); err == nil {
		t.Error("path escaped the directory")
	}
}

func TestCheckFree(t *testing.T) {
	s, err := New(t.TempDir())
	checkErr(t, err)
	checkErr(t, s.CheckFree(1))
	if err = s.CheckFree(1 << 62); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("got %v, want ErrNoSpace", err)
	}
}

func TestFrameName(t *testing.T) {
	for i, want := range []string{"frame_0.bmp", "frame_1.bmp", "frame_2.bmp"} {
		if got := FrameName(i); got != want {
			t.Errorf("FrameName(%d) = %s", i, got)
		}
	}
}

func TestNewEmptyDir(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("empty dir accepted")
	}
}

func checkErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
