// Package aircat implements the AirCat device gateway: a TCP listener that
// accepts connections from AirCat air-quality sensors, decodes their
// telemetry frames, acknowledges them, and answers any HTTP GET on the same
// port with a JSON snapshot of every known device.
//
// # Architecture
//
//	devices ──TCP:9000──▶ Reactor ──▶ Handler ──▶ device.Registry
//	                          │           │
//	                          │           └──▶ Dispatcher ──▶ sinks (MQTT, SQLite, WebSocket, gauges)
//	                          └── GET ──▶ snapshot (HTTP/1.0, text/json)
//
// The Reactor owns the listening socket and the active connection set. An
// acceptor goroutine and one reader goroutine per connection post events
// onto a bounded queue; all classification, registry writes and socket
// writes happen in the goroutine that holds the poll lock (Run, or a caller
// of PollOnce). Sinks run on the Dispatcher's worker pool so a slow broker
// or database never delays an acknowledgement.
//
// # Wire Format
//
// A telemetry frame is at least 34 bytes. Bytes [17,23) are the device MAC;
// the trailer holds zero or more {...} JSON objects, of which the last is
// the device status. The acknowledgement echoes the first 23 bytes and
// appends a fixed 32-byte trailer ending in \xFF#END#.
//
// # Error Handling
//
//   - ErrTooShort: logged, no reply, connection stays open
//   - ErrInvalidJSON: logged, frame dropped, no acknowledgement
//   - ErrPeerClosed: connection removed from the active set
//   - ErrAccept: logged, accepting continues with backoff
//   - panics: recovered per event, connection torn down, loop continues
//
// # Usage
//
//	r, err := aircat.New(aircat.Options{Port: aircat.DefaultPort, Logger: log})
//	if err != nil {
//	    return err
//	}
//	go r.Run(ctx)
//	status, ok := r.Registry().Get("0102030405AB")
package aircat
