package device

import (
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Entry is a registry record as returned by Entries.
type Entry struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Updates   int64     `json:"updates"`
}

type record struct {
	status    Status
	updatedAt time.Time
	updates   int64
}

// Registry maps device IDs to the most recent Status reported.
//
// Entries are never removed. Every read returns a deep copy.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
	order   []string // first-seen order
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*record),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Upsert stores status as the latest status for id, replacing any previous
// value wholesale. It reports whether id was seen for the first time.
func (r *Registry) Upsert(id string, status Status) (bool, error) {
	if !ValidID(id) {
		return false, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if status == nil {
		status = Status{}
	}
	cpy := status.DeepCopy()

	r.mu.Lock()
	rec, exists := r.records[id]
	if !exists {
		rec = &record{}
		r.records[id] = rec
		r.order = append(r.order, id)
	}
	rec.status = cpy
	rec.updatedAt = r.now()
	rec.updates++
	r.mu.Unlock()

	if !exists {
		r.logger.Info("new device registered", "device_id", id)
	} else {
		r.logger.Debug("device status updated", "device_id", id)
	}
	return !exists, nil
}

// Get returns a copy of the latest status for id.
func (r *Registry) Get(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	return rec.status.DeepCopy(), true
}

// Entry returns the full record for id, or ErrDeviceNotFound.
func (r *Registry) Entry(id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return rec.entry(id), nil
}

// FirstOrAny returns some registered device, or false when the registry is
// empty. The current choice is the first device ever seen; callers must not
// depend on which one they get.
func (r *Registry) FirstOrAny() (string, Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return "", nil, false
	}
	id := r.order[0]
	return id, r.records[id].status.DeepCopy(), true
}

// Snapshot returns a copy of every device's latest status.
func (r *Registry) Snapshot() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Status, len(r.records))
	for id, rec := range r.records {
		out[id] = rec.status.DeepCopy()
	}
	return out
}

// Entries returns every record in first-seen order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id].entry(id))
	}
	return out
}

// IDs returns registered device IDs in first-seen order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (rec *record) entry(id string) Entry {
	return Entry{
		ID:        id,
		Status:    rec.status.DeepCopy(),
		UpdatedAt: rec.updatedAt,
		Updates:   rec.updates,
	}
}
