package ov

import (
	"camstream/pkg/schedule"
	"camstream/pkg/utils/ps"
)

type Capture struct {
	Width  int `json:"width" binding:"min=0"`
	Height int `json:"height" binding:"min=0"`
	Count  int `json:"count" binding:"min=0,max=1000"`
}

type Schedule struct {
	// Interval is a Go duration, e.g. "10m".
	Interval string `json:"interval" binding:"required"`
	Capture
}

type Control struct {
	ID      uint32 `json:"id"`
	Name    string `json:"name"`
	Value   int32  `json:"value"`
	Default int32  `json:"default"`

	Minimum int32 `json:"minimum"`
	Maximum int32 `json:"maximum"`
	Step    int32 `json:"step"`
}

type UpdateControl struct {
	ID    uint32 `json:"id" binding:"required"`
	Value int32  `json:"value"`
}

type Status struct {
	CPU        ps.CPU        `json:"cpu"`
	Memory     ps.Memory     `json:"memory"`
	Disk       ps.Disk       `json:"disk"`
	OutputSize string        `json:"outputSize"`
	Schedule   *schedule.Job `json:"schedule"`
	Webdav     bool          `json:"webdav"`
}
