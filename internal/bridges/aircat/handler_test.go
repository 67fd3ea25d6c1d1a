package aircat

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/aircat-gateway/internal/device"
)

type fakePeer struct {
	buf       bytes.Buffer
	writeErr  error
	deadlines int
}

func (p *fakePeer) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.buf.Write(b)
}

func (p *fakePeer) SetWriteDeadline(time.Time) error {
	p.deadlines++
	return nil
}

type recordingSubmitter struct {
	mu      sync.Mutex
	updates []Update
	reject  bool
}

func (s *recordingSubmitter) Submit(u Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.updates = append(s.updates, u)
	return true
}

func (s *recordingSubmitter) all() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.updates...)
}

var testInfo = ConnInfo{ID: "conn-1", RemoteAddr: "10.0.0.5:40000"}

func newTestHandler() (*Handler, *device.Registry, *recordingSubmitter) {
	reg := device.NewRegistry()
	sub := &recordingSubmitter{}
	h := NewHandler(HandlerConfig{Registry: reg, Submitter: sub})
	return h, reg, sub
}

func TestHandler_Telemetry(t *testing.T) {
	h, reg, sub := newTestHandler()
	peer := &fakePeer{}
	frame := buildFrame(testID, `{"value":12,"hcho":0.08}tail`)

	outcome, err := h.Handle(peer, testInfo, frame)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if outcome != OutcomeAcked {
		t.Errorf("outcome = %v, want %v", outcome, OutcomeAcked)
	}

	status, ok := reg.Get("010203040506")
	if !ok {
		t.Fatal("device not registered")
	}
	if status["value"] != json.Number("12") || status["hcho"] != json.Number("0.08") {
		t.Errorf("status = %v", status)
	}

	if !bytes.Equal(peer.buf.Bytes(), EncodeAck(frame)) {
		t.Errorf("wrote % x, want ack", peer.buf.Bytes())
	}
	if peer.deadlines != 1 {
		t.Errorf("SetWriteDeadline called %d times, want 1", peer.deadlines)
	}

	updates := sub.all()
	if len(updates) != 1 {
		t.Fatalf("submitted %d updates, want 1", len(updates))
	}
	u := updates[0]
	if u.DeviceID != "010203040506" || !u.HasStatus || u.RemoteAddr != testInfo.RemoteAddr {
		t.Errorf("update = %+v", u)
	}
}

func TestHandler_NoStatusStillAcks(t *testing.T) {
	h, reg, sub := newTestHandler()
	peer := &fakePeer{}
	frame := buildFrame(testID, "keepalive-without-json")

	outcome, err := h.Handle(peer, testInfo, frame)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if outcome != OutcomeAcked {
		t.Errorf("outcome = %v, want %v", outcome, OutcomeAcked)
	}
	if reg.Count() != 0 {
		t.Errorf("registry Count() = %d, want 0", reg.Count())
	}
	if peer.buf.Len() != AckLen {
		t.Errorf("wrote %d bytes, want %d", peer.buf.Len(), AckLen)
	}
	if updates := sub.all(); len(updates) != 1 || updates[0].HasStatus {
		t.Errorf("updates = %+v, want one without status", updates)
	}
}

func TestHandler_TooShort(t *testing.T) {
	h, reg, sub := newTestHandler()
	peer := &fakePeer{}

	outcome, err := h.Handle(peer, testInfo, []byte("0123456789"))
	if !errors.Is(err, ErrTooShort) {
		t.Errorf("Handle() error = %v, want ErrTooShort", err)
	}
	if outcome != OutcomeAwaiting {
		t.Errorf("outcome = %v, want %v", outcome, OutcomeAwaiting)
	}
	if peer.buf.Len() != 0 || reg.Count() != 0 || len(sub.all()) != 0 {
		t.Error("short frame produced a reply, registry entry or update")
	}
}

func TestHandler_InvalidJSONNoAck(t *testing.T) {
	h, reg, sub := newTestHandler()
	peer := &fakePeer{}

	outcome, err := h.Handle(peer, testInfo, buildFrame(testID, `{"value":}-----------`))
	if !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("Handle() error = %v, want ErrInvalidJSON", err)
	}
	if outcome != OutcomeAwaiting {
		t.Errorf("outcome = %v, want %v", outcome, OutcomeAwaiting)
	}
	if peer.buf.Len() != 0 {
		t.Errorf("wrote %d bytes, want no ack", peer.buf.Len())
	}
	if reg.Count() != 0 || len(sub.all()) != 0 {
		t.Error("malformed frame changed registry or submitted an update")
	}
}

func TestHandler_PeerClosed(t *testing.T) {
	h, _, _ := newTestHandler()

	outcome, err := h.Handle(&fakePeer{}, testInfo, nil)
	if !errors.Is(err, ErrPeerClosed) {
		t.Errorf("Handle() error = %v, want ErrPeerClosed", err)
	}
	if outcome != OutcomeClosed {
		t.Errorf("outcome = %v, want %v", outcome, OutcomeClosed)
	}
}

func TestHandler_HTTPSnapshot(t *testing.T) {
	h, reg, _ := newTestHandler()
	reg.Upsert("010203040506", device.Status{"value": json.Number("12")}) //nolint:errcheck // valid id

	tests := []struct {
		name    string
		request string
	}{
		{"root", "GET / HTTP/1.0\r\n\r\n"},
		{"any path", "GET /anything?x=1 HTTP/1.1\r\nHost: x\r\n\r\n"},
		{"bare prefix shorter than a frame", "GET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			peer := &fakePeer{}
			outcome, err := h.Handle(peer, testInfo, []byte(tt.request))
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if outcome != OutcomeHTTPServed {
				t.Errorf("outcome = %v, want %v", outcome, OutcomeHTTPServed)
			}
			if !strings.HasPrefix(peer.buf.String(), "HTTP/1.0 200 OK\n") {
				t.Errorf("response = %q", peer.buf.String())
			}
			if !strings.Contains(peer.buf.String(), `"010203040506"`) {
				t.Errorf("response missing device: %q", peer.buf.String())
			}
		})
	}
}

func TestHandler_WriteFailureCloses(t *testing.T) {
	h, reg, sub := newTestHandler()
	peer := &fakePeer{writeErr: errors.New("broken pipe")}

	outcome, err := h.Handle(peer, testInfo, buildFrame(testID, `{"value":1}-----`))
	if err == nil {
		t.Fatal("Handle() error = nil, want write error")
	}
	if outcome != OutcomeClosed {
		t.Errorf("outcome = %v, want %v", outcome, OutcomeClosed)
	}
	// The status arrived intact; only the reply failed.
	if reg.Count() != 1 {
		t.Errorf("registry Count() = %d, want 1", reg.Count())
	}
	if len(sub.all()) != 0 {
		t.Error("update submitted for an unacknowledged frame")
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		outcome  Outcome
		name     string
		terminal bool
	}{
		{OutcomeAwaiting, "awaiting", false},
		{OutcomeAcked, "acked", false},
		{OutcomeHTTPServed, "http_served", true},
		{OutcomeClosed, "closed", true},
	}
	for _, tt := range tests {
		if tt.outcome.String() != tt.name {
			t.Errorf("String() = %q, want %q", tt.outcome.String(), tt.name)
		}
		if tt.outcome.Terminal() != tt.terminal {
			t.Errorf("%s Terminal() = %v, want %v", tt.name, tt.outcome.Terminal(), tt.terminal)
		}
	}
}

func TestHandler_ErrorsAreReported(t *testing.T) {
	tests := []struct {
		name string
		peer *fakePeer
		data []byte
	}{
		{"peer closed", &fakePeer{}, nil},
		{"too short", &fakePeer{}, []byte("0123456789")},
		{"invalid json", &fakePeer{}, buildFrame(testID, `{"value":}-----------`)},
		{"ack write", &fakePeer{writeErr: errors.New("broken pipe")}, buildFrame(testID, `{"value":1}-----`)},
		{"snapshot write", &fakePeer{writeErr: errors.New("broken pipe")}, []byte("GET / HTTP/1.0\r\n\r\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandler()
			_, err := h.Handle(tt.peer, testInfo, tt.data)
			if err == nil {
				t.Fatal("Handle() error = nil, want an error")
			}
			if !errors.As(err, new(reportedError)) {
				t.Errorf("Handle() error = %v, not marked as logged", err)
			}
		})
	}
}
