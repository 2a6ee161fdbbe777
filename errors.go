package zkattend

import (
	"errors"
	"fmt"
)

var (
	// ErrConnect means the device could not be reached, refused the
	// connection or did not answer in time.
	ErrConnect = errors.New("connect failed")
	// ErrHandshakeFailed means the device answered CONNECT with something
	// other than ACK_OK, or with a truncated reply.
	ErrHandshakeFailed = errors.New("handshake failed")
	// ErrMalformedFrame means a buffer is too short to hold a frame.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrIO is a read or write failure on an established session.
	ErrIO = errors.New("i/o error")
	// ErrDevice means the device replied ACK_ERROR to a request.
	ErrDevice = errors.New("device error")
)

// DeviceError is returned when the device rejects a command with ACK_ERROR.
type DeviceError struct {
	Command Command
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device rejected %s", e.Command)
}

// Is makes errors.Is(err, ErrDevice) hold for every DeviceError.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDevice
}
