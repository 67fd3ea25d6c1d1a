// Package api implements the management HTTP API and WebSocket push for the
// AirCat gateway.
//
// This package provides:
//   - Read-only REST endpoints over the device registry, sensor readings
//     and the sightings ledger
//   - A WebSocket hub broadcasting device.status_changed events
//   - Prometheus exposition on the metrics path
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Graceful Degradation
//
// The sightings endpoints answer 404 when the database is disabled, and
// /metrics is only mounted when a gatherer is supplied. Everything else
// works from the in-memory registry alone.
//
// The device port (9000 by default) keeps serving its own minimal HTTP
// snapshot; this API is a separate listener.
package api
