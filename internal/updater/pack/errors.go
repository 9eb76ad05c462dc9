package pack

import (
	"errors"

	"github.com/autopeer-io/ecuflash/internal/updater/result"
)

var (
	ErrProjectLoad          = errors.New("project could not be loaded")
	ErrViewNotFound         = errors.New("view not found")
	ErrIO                   = errors.New("package could not be written")
	ErrInvalidConfiguration = errors.New("invalid view configuration")
)

// Code maps a Create error to its result code.
func Code(err error) result.Code {
	switch {
	case err == nil:
		return result.Success
	case errors.Is(err, ErrProjectLoad):
		return result.CreateProjectLoadFailed
	case errors.Is(err, ErrViewNotFound):
		return result.CreateViewNotFound
	case errors.Is(err, ErrInvalidConfiguration):
		return result.CreateInvalidConfiguration
	default:
		return result.CreateIO
	}
}
