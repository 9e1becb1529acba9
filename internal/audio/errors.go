package audio

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by drivers, lines and mixers. Callers match with
// errors.Is; every returned error wraps exactly one of these.
var (
	// ErrIllegalState reports an operation that is invalid for the current
	// state (double open, double close, I/O before open, ...).
	ErrIllegalState = errors.New("illegal state")

	// ErrIllegalArgument reports a malformed request.
	ErrIllegalArgument = errors.New("illegal argument")

	// ErrInvalidFormat reports a format unsupported by a line kind or device.
	ErrInvalidFormat = fmt.Errorf("%w: unsupported audio format", ErrIllegalArgument)

	// ErrOutOfBounds reports an offset/length pair outside the caller's buffer.
	ErrOutOfBounds = fmt.Errorf("%w: index out of bounds", ErrIllegalArgument)

	// ErrOutOfRange reports a control value outside its declared range.
	ErrOutOfRange = errors.New("value out of range")

	// ErrDeviceUnavailable is returned when the sound server refuses to
	// allocate a resource. It is never retried by this module.
	ErrDeviceUnavailable = errors.New("device unavailable")
)
