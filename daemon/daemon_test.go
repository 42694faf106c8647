package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/pandemicd/pandemic/internal/config"
	"github.com/pandemicd/pandemic/protocol"
)

type zeroSampler struct{}

func (zeroSampler) VirtualMemory() (float64, float64, error) { return 0, 0, nil }
func (zeroSampler) CPUPercent() (float64, error)              { return 0, nil }
func (zeroSampler) LoadAverage1() (float64, bool)             { return 0, false }

func startTestDaemon(t *testing.T) (string, func()) {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "pandemic.sock")

	cfg := config.Defaults()
	cfg.SocketPath = sockPath
	cfg.SocketMode = 0

	d := New(cfg, zeroSampler{}, nil, nil, time.Now())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- d.ListenAndServe(ctx) }()

	// Wait for the socket file to appear.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := net.Dial("unix", sockPath); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	return sockPath, func() {
		cancel()
		<-errCh
	}
}

func sendLine(t *testing.T, rw *bufio.ReadWriter, req protocol.Request) {
	t.Helper()
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if _, err := rw.Write(append(raw, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if err := rw.Flush(); err != nil {
		t.Fatalf("flush request: %v", err)
	}
}

func readResponse(t *testing.T, rw *bufio.ReadWriter) protocol.Response {
	t.Helper()
	line, err := rw.ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp protocol.Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("decode response %q: %v", line, err)
	}
	return resp
}

func TestEndToEndRegisterAndList(t *testing.T) {
	sockPath, stop := startTestDaemon(t)
	defer stop()

	c, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(c), bufio.NewWriter(c))

	sendLine(t, rw, protocol.Request{Type: protocol.ReqRegister, Plugin: &protocol.Plugin{Name: "alpha", Version: "1"}})
	resp := readResponse(t, rw)
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("expected Success registering, got %+v", resp)
	}

	sendLine(t, rw, protocol.Request{Type: protocol.ReqListPlugins})
	resp = readResponse(t, rw)
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("expected Success listing, got %+v", resp)
	}
	var plugins []protocol.Plugin
	if err := json.Unmarshal(resp.Data, &plugins); err != nil {
		t.Fatalf("decode plugin list: %v", err)
	}
	if len(plugins) != 1 || plugins[0].Name != "alpha" {
		t.Fatalf("expected [alpha], got %+v", plugins)
	}
}

func TestEndToEndMalformedRequestKeepsConnectionOpen(t *testing.T) {
	sockPath, stop := startTestDaemon(t)
	defer stop()

	c, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(c), bufio.NewWriter(c))

	if _, err := rw.Write([]byte("not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := rw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	resp := readResponse(t, rw)
	if resp.Status != protocol.StatusError {
		t.Fatalf("expected Error for malformed line, got %+v", resp)
	}

	sendLine(t, rw, protocol.Request{Type: protocol.ReqListPlugins})
	resp = readResponse(t, rw)
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("expected the connection to remain usable, got %+v", resp)
	}
}
