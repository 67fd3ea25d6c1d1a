// Package device holds the gateway's view of AirCat devices.
//
// A device is identified by the 6-byte MAC carried in every frame, rendered
// as 12 uppercase hex characters. Its Status is the most recent JSON object
// the device reported, kept verbatim (numbers stay json.Number so integer
// and decimal formatting survive a round trip).
//
// # Components
//
//   - Registry: in-memory map of device ID to latest Status, last writer wins
//   - SightingRepository: durable presence ledger (first/last seen, frame count)
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Reads return deep copies, so
// callers may modify what they receive without affecting the registry.
//
// # Usage
//
//	registry := device.NewRegistry()
//	registry.SetLogger(log)
//
//	registry.Upsert("0102030405AB", device.Status{"value": json.Number("12")})
//	status, ok := registry.Get("0102030405AB")
//	all := registry.Snapshot()
package device
