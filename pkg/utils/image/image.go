package image

import (
	"image"
	"image/jpeg"
	"io"

	"camstream/pkg/utils/rgb"
)

func EncodeJPEG(img image.Image, dst io.Writer, quality int) error {
	return jpeg.Encode(dst, img, &jpeg.Options{Quality: quality})
}

// EncodeBGR compresses a packed B,G,R frame to JPEG.
func EncodeBGR(bgr []byte, width, height int, dst io.Writer, quality int) error {
	return EncodeJPEG(rgb.NewBGR(bgr, width, height), dst, quality)
}
