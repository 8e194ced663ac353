package consts

const (
	DefaultDir      = "/tmp/camstream"
	DefaultInfoFile = "info.json"

	FramePrefix     = "frame_"
	DefaultImageExt = ".bmp"
	DefaultVideo    = "frames.avi"
	DefaultVideoExt = ".avi"

	DefaultFilePerm = 0666
	DefaultDirPerm  = 0777

	// MinInterval bounds scheduled runs, in seconds.
	MinInterval = 5
)
