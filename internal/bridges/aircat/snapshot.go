package aircat

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/aircat-gateway/internal/device"
)

// snapshotHeader precedes the JSON body. Lines end in a bare \n, which
// clients of the device port already accept.
const snapshotHeader = "HTTP/1.0 200 OK\nContent-Type: text/json\n\n"

// RenderSnapshot renders snap as two-space indented JSON with sorted keys.
// An empty or nil snapshot renders as {}.
func RenderSnapshot(snap map[string]device.Status) ([]byte, error) {
	if len(snap) == 0 {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// SnapshotResponse builds the full HTTP/1.0 response for a GET on the
// device port. Path and query are ignored; every GET gets every device.
func SnapshotResponse(snap map[string]device.Status) ([]byte, error) {
	body, err := RenderSnapshot(snap)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(snapshotHeader)+len(body))
	out = append(out, snapshotHeader...)
	return append(out, body...), nil
}
