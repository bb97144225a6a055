package crs

import "fmt"

// UnknownCRSError indicates a missing or unsupported CRS identifier.
type UnknownCRSError struct {
	ID string
}

func (e *UnknownCRSError) Error() string {
	if e.ID == "" {
		return "unknown crs: collection has no crs"
	}
	return fmt.Sprintf("unknown crs %q", e.ID)
}
