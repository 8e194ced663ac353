package camera

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceOpen        = errors.New("device open failed")
	ErrCapabilityQuery   = errors.New("capability query failed")
	ErrInputSelect       = errors.New("input select failed")
	ErrFrameRateSet      = errors.New("frame rate set failed")
	ErrFormatNegotiation = errors.New("format negotiation failed")
	ErrBufferAllocation  = errors.New("buffer allocation failed")
	ErrMemoryMap         = errors.New("memory map failed")
	ErrStreamStart       = errors.New("stream start failed")
	ErrStreamStop        = errors.New("stream stop failed")
	ErrDequeue           = errors.New("dequeue failed")
	ErrQueue             = errors.New("queue failed")
	ErrNotReady          = errors.New("frame not ready")
	ErrOwnership         = errors.New("buffer ownership violation")
	ErrNotOpen           = errors.New("camera not ready")
	ErrUnsupported       = errors.New("capture backend not supported on this platform")
)

// DeviceError reports a failed device operation. Both the error kind (one of
// the Err* values above) and the underlying cause are reachable through
// errors.Is / errors.As.
type DeviceError struct {
	Device string
	Op     string
	Kind   error
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Device, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Op, e.Device, e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func devErr(device, op string, kind, err error) error {
	return &DeviceError{Device: device, Op: op, Kind: kind, Err: err}
}
