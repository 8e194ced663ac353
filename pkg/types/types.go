package types

import (
	"time"
)

type VideoSetting struct {
	Enable  bool `json:"enable" yaml:"enable"`
	FPS     int  `json:"fps" yaml:"fps"`
	Quality int  `json:"quality" yaml:"quality"`
}

// CameraSettings maps V4L2 control ids to the values applied after format
// negotiation.
type CameraSettings map[uint32]int32

type File struct {
	Name    string    `json:"name"`
	Size    string    `json:"size"`
	Bytes   int64     `json:"bytes"`
	ModTime time.Time `json:"modTime"`
}
