package api

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/aircat-gateway/internal/device"
	"github.com/nerrad567/aircat-gateway/internal/sensor"
)

// DeviceResponse is one registry entry.
type DeviceResponse struct {
	DeviceID  string        `json:"device_id"`
	Status    device.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
	Updates   int64         `json:"updates"`
}

func toDeviceResponse(e device.Entry) DeviceResponse {
	return DeviceResponse{
		DeviceID:  e.ID,
		Status:    e.Status,
		UpdatedAt: e.UpdatedAt.UTC(),
		Updates:   e.Updates,
	}
}

// handleListDevices returns every known device sorted by ID.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	entries := s.registry.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	devices := make([]DeviceResponse, 0, len(entries))
	for _, e := range entries {
		devices = append(devices, toDeviceResponse(e))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	entry, err := s.registry.Entry(id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			notFound(w, r, "device not found")
			return
		}
		internalError(w, r, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, toDeviceResponse(entry))
}

// handleDeviceSensors returns the configured sensor readings bound to a device.
func (s *Server) handleDeviceSensors(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}
	if _, found := s.registry.Get(id); !found {
		notFound(w, r, "device not found")
		return
	}

	readings := sensor.ForDevice(s.sensors, s.registry, id)
	if readings == nil {
		readings = []sensor.Reading{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"sensors":   readings,
	})
}

// handleListSensors returns every configured sensor evaluated now.
func (s *Server) handleListSensors(w http.ResponseWriter, _ *http.Request) {
	readings := sensor.ReadAll(s.sensors, s.registry)
	writeJSON(w, http.StatusOK, map[string]any{
		"sensors": readings,
		"count":   len(readings),
	})
}

// deviceIDParam normalises the {id} URL parameter, writing a 400 when it is
// not a device ID.
func deviceIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := device.NormalizeID(chi.URLParam(r, "id"))
	if !device.ValidID(id) {
		badRequest(w, r, "device id must be 12 hex digits")
		return "", false
	}
	return id, true
}
