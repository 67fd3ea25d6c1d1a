package device

import (
	"context"
	"time"
)

// SightingRepository persists device presence.
//
// Only identity and timing are stored; readings live in the Registry and
// are never written to disk.
type SightingRepository interface {
	// Record notes a frame from deviceID at the given time, creating the
	// sighting on first contact.
	Record(ctx context.Context, deviceID, remoteAddr string, at time.Time) error

	// Get returns the sighting for deviceID or ErrDeviceNotFound.
	Get(ctx context.Context, deviceID string) (*Sighting, error)

	// List returns all sightings, most recently seen first.
	List(ctx context.Context) ([]Sighting, error)
}
