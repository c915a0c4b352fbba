package cursor

import (
	"fmt"

	"github.com/pkg/errors"
)

// BoundsError means a read would have crossed the end of the buffer.
// Offset arithmetic that overflows is reported the same way.
type BoundsError struct {
	Off  uint64
	Size uint64
	Len  int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("read of %d bytes at 0x%x exceeds buffer of %d bytes", e.Size, e.Off, e.Len)
}

// MalformedError means the bytes are reachable but structurally wrong:
// an impossible count, a missing terminator, an address with no backing
// range. Kind names the structure being decoded.
type MalformedError struct {
	Kind string
	Off  uint64
	What string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s at 0x%x: %s", e.Kind, e.Off, e.What)
}

// UnsupportedError marks a recognized but undecoded variant. Callers may
// skip past it; it is never fatal to the surrounding table.
type UnsupportedError struct {
	What string
}

func (e *UnsupportedError) Error() string {
	return "unsupported: " + e.What
}

func Malformedf(kind string, off uint64, format string, args ...interface{}) error {
	return &MalformedError{Kind: kind, Off: off, What: fmt.Sprintf(format, args...)}
}

func IsBounds(err error) bool {
	_, ok := errors.Cause(err).(*BoundsError)
	return ok
}

func IsMalformed(err error) bool {
	_, ok := errors.Cause(err).(*MalformedError)
	return ok
}

func IsUnsupported(err error) bool {
	_, ok := errors.Cause(err).(*UnsupportedError)
	return ok
}
