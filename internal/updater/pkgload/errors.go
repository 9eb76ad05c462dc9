package pkgload

import (
	"errors"
)

var (
	ErrNoPath         = errors.New("no package path given")
	ErrWrongExtension = errors.New("wrong package extension")
	ErrNotFound       = errors.New("package not found")
	ErrFetch          = errors.New("package download failed")
	ErrErase          = errors.New("unpack directory could not be cleared")
	ErrCorrupt        = errors.New("package corrupt or incompatible")
	ErrUnzip          = errors.New("package could not be extracted")
	ErrMissingFiles   = errors.New("package files missing")
	ErrAuth           = errors.New("package authentication failed")
	ErrCertificate    = errors.New("certificate could not be loaded")
)

// AuthError carries the reason an encrypted or signed package was rejected.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "package authentication failed: " + e.Reason
}

// Is makes errors.Is(err, ErrAuth) hold for every AuthError.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuth
}
