package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/aircat-gateway/internal/device"
)

func (s *Server) handleListSightings(w http.ResponseWriter, r *http.Request) {
	if s.sightings == nil {
		ledgerDisabled(w, r)
		return
	}

	sightings, err := s.sightings.List(r.Context())
	if err != nil {
		s.logger.Error("listing sightings", "error", err, "request_id", RequestID(r.Context()))
		internalError(w, r, "failed to list sightings")
		return
	}
	if sightings == nil {
		sightings = []device.Sighting{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sightings": sightings,
		"count":     len(sightings),
	})
}

func (s *Server) handleGetSighting(w http.ResponseWriter, r *http.Request) {
	if s.sightings == nil {
		ledgerDisabled(w, r)
		return
	}
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	sighting, err := s.sightings.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			notFound(w, r, "device has not been seen")
			return
		}
		s.logger.Error("getting sighting", "device_id", id, "error", err, "request_id", RequestID(r.Context()))
		internalError(w, r, "failed to get sighting")
		return
	}

	writeJSON(w, http.StatusOK, sighting)
}
