package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/config"
	"github.com/eliteGoblin/focusd/sec_comp/internal/daemon"
	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
	"github.com/eliteGoblin/focusd/sec_comp/internal/infra"
)

const pasteButton = `{
  "type": "paste",
  "component": {
    "rect": {"x": 100, "y": 100, "width": 160, "height": 40},
    "window_rect": {"x": 0, "y": 0, "width": 1080, "height": 2340},
    "text": 0, "icon": 0, "bg": 0,
    "font_size": 16, "icon_size": 16, "text_icon_space": 4,
    "font_color": 4294967295, "icon_color": 4294967295, "bg_color": 4278868471,
    "padding": {"top": 4, "right": 4, "bottom": 4, "left": 4}
  }
}`

type testService struct {
	svc    *service
	client *http.Client
	cancel context.CancelFunc
	done   chan error
	dir    string
}

func startTestService(t *testing.T, mutate func(*config.Config)) *testService {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Consent.Encrypt = false
	cfg.Identity.SystemUIDs = []int32{int32(os.Getuid())}
	cfg.Audit.File = filepath.Join(dir, "log", "audit.log")
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	mode := &infra.ExecModeConfig{
		Mode:       infra.ExecModeUser,
		RuntimeDir: filepath.Join(dir, "run"),
		SocketPath: filepath.Join(dir, "run", "seccompd.sock"),
		PidFile:    filepath.Join(dir, "run", "seccompd.pid"),
		DataDir:    filepath.Join(dir, "data"),
		LogDir:     filepath.Join(dir, "log"),
	}
	require.NoError(t, mode.EnsureDirs())

	svc, err := newService(cfg, mode, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testService{svc: svc, cancel: cancel, done: make(chan error, 1), dir: dir}
	go func() { ts.done <- svc.Run(ctx) }()
	require.NoError(t, daemon.WaitForSocket(ctx, mode.SocketPath, 2*time.Second))

	ts.client = &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", mode.SocketPath)
			},
		},
		Timeout: 2 * time.Second,
	}
	return ts
}

func (ts *testService) stop(t *testing.T) {
	t.Helper()
	ts.cancel()
	select {
	case err := <-ts.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
	ts.svc.Close()
}

func (ts *testService) call(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, "http://seccompd"+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestService_ComponentLifecycle(t *testing.T) {
	ts := startTestService(t, nil)

	status, body := ts.call(t, http.MethodPost, "/v1/components", pasteButton)
	require.Equal(t, http.StatusOK, status, body)
	scID := int(body["scId"].(float64))
	assert.Equal(t, 1001, scID)

	var reg struct {
		Component json.RawMessage `json:"component"`
	}
	require.NoError(t, json.Unmarshal([]byte(pasteButton), &reg))
	click := fmt.Sprintf(`{"component": %s, "click": {"kind": "point", "x": 180, "y": 120, "timestamp_ms": %d}}`,
		reg.Component, time.Now().UnixMilli())
	status, body = ts.call(t, http.MethodPost, fmt.Sprintf("/v1/components/%d/click", scID), click)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "granted", body["state"])

	status, _ = ts.call(t, http.MethodGet, "/v1/dump", "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = ts.call(t, http.MethodDelete, fmt.Sprintf("/v1/components/%d", scID), "")
	assert.Equal(t, http.StatusOK, status)

	status, body = ts.call(t, http.MethodDelete, fmt.Sprintf("/v1/components/%d", scID), "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, float64(-58), body["code"])

	status, body = ts.call(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	ts.stop(t)

	audit, err := os.ReadFile(filepath.Join(ts.dir, "log", "audit.log"))
	require.NoError(t, err)
	assert.Contains(t, string(audit), domain.EventTempGrantSuccess)
}

func TestService_IdleExit(t *testing.T) {
	ts := startTestService(t, func(cfg *config.Config) {
		cfg.Timing.IdleExitDelay = 300 * time.Millisecond
	})

	select {
	case err := <-ts.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not exit while idle")
	}
	assert.True(t, ts.svc.manager.Exiting())
	ts.svc.Close()
}

func TestRunVersion(t *testing.T) {
	jsonOutput = false
	runVersion(versionCmd, nil)
}
