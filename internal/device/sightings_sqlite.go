package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timestampFormat is fixed-width so that text ordering matches time ordering.
const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteSightingRepository implements SightingRepository on the
// device_sightings table.
type SQLiteSightingRepository struct {
	db *sql.DB
}

// NewSQLiteSightingRepository creates a repository backed by db.
func NewSQLiteSightingRepository(db *sql.DB) *SQLiteSightingRepository {
	return &SQLiteSightingRepository{db: db}
}

// Record upserts the sighting, incrementing its frame count.
func (r *SQLiteSightingRepository) Record(ctx context.Context, deviceID, remoteAddr string, at time.Time) error {
	if deviceID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidID)
	}
	ts := at.UTC().Format(timestampFormat)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_sightings (device_id, first_seen, last_seen, frames, last_remote_addr)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			last_seen        = excluded.last_seen,
			frames           = device_sightings.frames + 1,
			last_remote_addr = excluded.last_remote_addr
	`, deviceID, ts, ts, remoteAddr)
	if err != nil {
		return fmt.Errorf("recording sighting for %s: %w", deviceID, err)
	}
	return nil
}

// Get returns the sighting for deviceID.
func (r *SQLiteSightingRepository) Get(ctx context.Context, deviceID string) (*Sighting, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT device_id, first_seen, last_seen, frames, last_remote_addr
		FROM device_sightings
		WHERE device_id = ?
	`, deviceID)

	s, err := scanSighting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying sighting %s: %w", deviceID, err)
	}
	return s, nil
}

// List returns all sightings, most recently seen first.
func (r *SQLiteSightingRepository) List(ctx context.Context) ([]Sighting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, first_seen, last_seen, frames, last_remote_addr
		FROM device_sightings
		ORDER BY last_seen DESC, device_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying sightings: %w", err)
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		s, err := scanSighting(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sighting: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sightings: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSighting(row rowScanner) (*Sighting, error) {
	var (
		s                   Sighting
		firstSeen, lastSeen string
	)
	if err := row.Scan(&s.DeviceID, &firstSeen, &lastSeen, &s.Frames, &s.LastRemoteAddr); err != nil {
		return nil, err
	}

	var err error
	if s.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
		return nil, fmt.Errorf("parsing first_seen: %w", err)
	}
	if s.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	return &s, nil
}
