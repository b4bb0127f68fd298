package vidtxt

import (
	"errors"
	"fmt"
)

// FormatError is returned when the input is not a valid vidtxt container.
type FormatError struct {
	msg string
}

func (e *FormatError) Error() string {
	return e.msg
}

// Format errors.
var (
	ErrNotVidtxt         = &FormatError{"not a vidtxt file"}
	ErrTruncatedHeader   = &FormatError{"truncated header"}
	ErrCorruptHeader     = &FormatError{"corrupt header"}
	ErrInvalidResolution = &FormatError{"invalid resolution"}
	ErrSeekIntegrity     = &FormatError{"seek integrity"}
)

// IsFormatError reports whether err is caused by a malformed container,
// as opposed to an I/O failure.
func IsFormatError(err error) bool {
	var e *FormatError
	return errors.As(err, &e)
}

// Usage errors.
var (
	ErrPrecondition = errors.New("stream not positioned at start")
	ErrFrameSize    = errors.New("invalid frame size")
	ErrWriterState  = errors.New("out of order write")
	ErrInvalidFPS   = errors.New("fps must be finite and positive")
)

// IOError wraps a failed file operation.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
