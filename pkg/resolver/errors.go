package resolver

import (
	"github.com/pkg/errors"
)

// FileAccessError is returned when the disassembly listing cannot be opened
// or read. No further token is resolved once it occurs.
type FileAccessError struct {
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return e.Err.Error()
}

func (e *FileAccessError) Cause() error { return e.Err }

func (e *FileAccessError) Unwrap() error { return e.Err }

// IsFileAccess reports whether err, or any error it wraps, is a FileAccessError.
func IsFileAccess(err error) bool {
	var fa *FileAccessError
	return errors.As(err, &fa)
}
