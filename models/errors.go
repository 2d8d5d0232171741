package models

import "errors"

// Error kinds shared by the services. Wrap them with fmt.Errorf("...: %w", ...)
// so handlers can map them to status codes.
var (
	ErrInvalid      = errors.New("invalid request")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)
