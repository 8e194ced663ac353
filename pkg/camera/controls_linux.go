//go:build linux

package camera

import (
	"github.com/vladimirvivien/go4vl/v4l2"
)

// knownCtrlID lists the user and camera class controls reported by Controls.
var knownCtrlID = []v4l2.CtrlID{
	0x00980900, // Brightness
	0x00980901, // Contrast
	0x00980902, // Saturation
	0x00980903, // Hue
	0x0098090c, // White Balance, Automatic
	0x00980913, // Gain
	0x00980914, // Horizontal Flip
	0x00980915, // Vertical Flip
	0x00980918, // Power Line Frequency
	0x0098091b, // Sharpness
	0x009a0901, // Auto Exposure
	0x009a0902, // Exposure Time, Absolute
}

func (d *v4l2Device) SetControl(id uint32, value int32) error {
	return v4l2.SetControlValue(uintptr(d.fd), v4l2.CtrlID(id), v4l2.CtrlValue(value))
}

// Controls returns the known controls the device implements; unsupported
// ones are skipped.
func (d *v4l2Device) Controls() ([]Control, error) {
	var res []Control
	for _, id := range knownCtrlID {
		ctrl, err := v4l2.GetControl(uintptr(d.fd), id)
		if err != nil {
			logger.Debugf("device %s does not support control(%d)", d.path, id)
			continue
		}
		res = append(res, Control{
			ID:      uint32(ctrl.ID),
			Name:    ctrl.Name,
			Value:   int32(ctrl.Value),
			Minimum: int32(ctrl.Minimum),
			Maximum: int32(ctrl.Maximum),
			Step:    int32(ctrl.Step),
			Default: int32(ctrl.Default),
		})
	}

	return res, nil
}

func (d *v4l2Device) FrameSizes() ([]FrameSize, error) {
	sizes, err := v4l2.GetAllFormatFrameSizes(uintptr(d.fd))
	if err != nil {
		return nil, err
	}
	res := make([]FrameSize, 0, len(sizes))
	for _, size := range sizes {
		res = append(res, FrameSize{
			PixelFormat: uint32(size.PixelFormat),
			MinWidth:    uint32(size.Size.MinWidth),
			MaxWidth:    uint32(size.Size.MaxWidth),
			MinHeight:   uint32(size.Size.MinHeight),
			MaxHeight:   uint32(size.Size.MaxHeight),
		})
	}

	return res, nil
}
