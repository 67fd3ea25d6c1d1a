package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// freePort reserves and releases a loopback port.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("AIRCAT_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("AIRCAT_CONFIG", "/etc/aircat/config.yaml")
	if got := getConfigPath(); got != "/etc/aircat/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("AIRCAT_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_ValidationFailure(t *testing.T) {
	t.Setenv("AIRCAT_CONFIG", writeConfig(t, "gateway:\n  mode: threaded\n"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with an unknown gateway mode")
	}
}

func TestRun_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	t.Setenv("AIRCAT_CONFIG", writeConfig(t, fmt.Sprintf(`
gateway:
  host: "127.0.0.1"
  port: %d
database:
  enabled: false
api:
  enabled: false
logging:
  level: error
`, port)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when the gateway port is taken")
	}
}

// TestRun_EndToEnd starts the whole gateway, sends one telemetry frame, and
// reads it back through the management API.
func TestRun_EndToEnd(t *testing.T) {
	gatewayPort := freePort(t)
	apiPort := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "aircat.db")

	t.Setenv("AIRCAT_CONFIG", writeConfig(t, fmt.Sprintf(`
gateway:
  id: "test-gateway"
  host: "127.0.0.1"
  port: %d
database:
  enabled: true
  path: %q
mqtt:
  enabled: false
api:
  enabled: true
  host: "127.0.0.1"
  port: %d
logging:
  level: error
  format: text
`, gatewayPort, dbPath, apiPort)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	var conn net.Conn
	deadline := time.Now().Add(5 * time.Second)
	for {
		var err error
		conn, err = net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", gatewayPort))
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("gateway never accepted: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	defer conn.Close()

	frame := make([]byte, 23)
	copy(frame[17:], []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF})
	frame = append(frame, []byte(`{"value":21,"hcho":0.05}`)...)
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck // test
	ack := make([]byte, 55)
	if _, err := io.ReadFull(conn, ack); err != nil {
		t.Fatalf("reading ack: %v", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/devices/AABBCCDDEEFF", apiPort)
	var device struct {
		DeviceID string         `json:"device_id"`
		Status   map[string]any `json:"status"`
	}
	deadline = time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			if resp.StatusCode == http.StatusOK {
				err = json.NewDecoder(resp.Body).Decode(&device)
				resp.Body.Close()
				if err != nil {
					t.Fatalf("decode device: %v", err)
				}
				break
			}
			resp.Body.Close()
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("device never visible through the API (last error %v)", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if device.DeviceID != "AABBCCDDEEFF" || device.Status["value"] != 21.0 {
		t.Errorf("device = %+v", device)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}
