package dataset

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned when a dataset exceeds the configured byte limit.
var ErrTooLarge = errors.New("dataset exceeds size limit")

type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dataset %q not found", e.Path)
}

// UnsupportedFormatError covers unknown extensions and documents that
// cannot be parsed as the format their extension names.
type UnsupportedFormatError struct {
	Path   string
	Format string
	Err    error
}

func (e *UnsupportedFormatError) Error() string {
	switch {
	case e.Format == "":
		return fmt.Sprintf("dataset %q: unsupported format", e.Path)
	case e.Err != nil:
		return fmt.Sprintf("dataset %q: invalid %s: %v", e.Path, e.Format, e.Err)
	default:
		return fmt.Sprintf("dataset %q: invalid %s", e.Path, e.Format)
	}
}

func (e *UnsupportedFormatError) Unwrap() error { return e.Err }
