package aircat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nerrad567/aircat-gateway/internal/device"
)

// Wire layout of a device frame:
//
//	[0,17)   header, opaque
//	[17,23)  device identifier (6 bytes)
//	[23,...) trailer containing zero or more {...} JSON objects
const (
	// MinFrameLen is the shortest buffer treated as a telemetry frame.
	MinFrameLen = 34

	// HeaderLen is the prefix echoed back in every acknowledgement.
	HeaderLen = 23

	deviceIDOffset = 17
	deviceIDLen    = 6
)

// ackTrailer follows the echoed header in every acknowledgement:
// length 0x0018, control bytes 00 00 02, the ack object, then \xFF#END#.
var ackTrailer = []byte("\x00\x18\x00\x00\x02" + `{"type":5,"status":1}` + "\xff#END#")

// AckLen is the length of every acknowledgement built from a full header.
var AckLen = HeaderLen + len(ackTrailer)

// objectPattern matches the shortest {...} run; nested objects are not
// balanced.
var objectPattern = regexp.MustCompile(`(?s)\{.*?\}`)

// Frame is the decoded view of one inbound buffer.
type Frame struct {
	// Raw is the buffer as received.
	Raw []byte

	// DeviceID is bytes [17,23) as 12 uppercase hex characters.
	DeviceID string

	// Objects are every {...} substring found, in order.
	Objects [][]byte

	// Status is the last object parsed as JSON. Nil when HasStatus is false.
	Status device.Status

	// HasStatus is false when the frame carried no {...} substring.
	HasStatus bool
}

// FormatDeviceID renders id bytes as uppercase hex without separators.
func FormatDeviceID(id []byte) string {
	var b strings.Builder
	b.Grow(len(id) * 2)
	for _, c := range id {
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}

// Decode parses a telemetry frame.
//
// A frame with no {...} substring decodes successfully with HasStatus
// false. When substrings are present the last one wins; if it fails to
// parse, Decode returns the frame (with DeviceID set) and ErrInvalidJSON.
func Decode(buf []byte) (*Frame, error) {
	if len(buf) < MinFrameLen {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrTooShort, len(buf), MinFrameLen)
	}

	f := &Frame{
		Raw:      buf,
		DeviceID: FormatDeviceID(buf[deviceIDOffset : deviceIDOffset+deviceIDLen]),
		Objects:  objectPattern.FindAll(buf, -1),
	}
	if len(f.Objects) == 0 {
		return f, nil
	}

	status, err := parseStatus(f.Objects[len(f.Objects)-1])
	if err != nil {
		return f, fmt.Errorf("%w: device %s: %w", ErrInvalidJSON, f.DeviceID, err)
	}
	f.Status = status
	f.HasStatus = true
	return f, nil
}

// parseStatus decodes one JSON object, keeping numbers as json.Number.
func parseStatus(obj []byte) (device.Status, error) {
	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.UseNumber()

	var status device.Status
	if err := dec.Decode(&status); err != nil {
		return nil, err
	}
	return status, nil
}

// EncodeAck builds the acknowledgement for buf: its first 23 bytes (or all
// of it, if shorter) followed by the fixed trailer.
func EncodeAck(buf []byte) []byte {
	n := min(len(buf), HeaderLen)
	out := make([]byte, 0, n+len(ackTrailer))
	out = append(out, buf[:n]...)
	return append(out, ackTrailer...)
}
