//go:build !linux

package camera

func OpenV4L2(path string, opts OpenOptions) (Device, error) {
	return nil, ErrUnsupported
}
