package device

import "errors"

// Domain errors for the device package. Check with errors.Is().
var (
	// ErrDeviceNotFound is returned when a device ID has never been seen.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidID is returned for IDs that are not 12 hex characters.
	ErrInvalidID = errors.New("device: invalid id")
)
