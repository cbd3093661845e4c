package transport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/infra"
)

func unixClient(socket string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		},
		Timeout: 2 * time.Second,
	}
}

func TestServer_PeerCredentialsOverSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "run", "seccompd.sock")
	manager := newMockManager()
	manager.saveGranted = true

	resolver := infra.NewPeerIdentityResolver(infra.IdentityConfig{
		SystemUIDs: []int32{int32(os.Getuid())},
	}, nil, zap.NewNop())
	h := NewHandlers(HandlersDeps{Manager: manager}, zap.NewNop())
	router := NewRouter(h, RouterOptions{Resolver: resolver}, zap.NewNop())

	srv := NewServer(socket, router, zap.NewNop())
	ln, err := srv.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	client := unixClient(socket)

	resp, err := client.Get("http://seccompd/v1/permissions/save")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["granted"])

	resp, err = client.Get("http://seccompd/v1/dump")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "own uid is configured as system")

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	_, err = os.Stat(socket)
	assert.True(t, os.IsNotExist(err), "socket removed on shutdown")
}

func TestServer_ReplacesStaleSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "s.sock")
	require.NoError(t, os.WriteFile(socket, nil, 0600))

	srv := NewServer(socket, http.NotFoundHandler(), zap.NewNop())
	ln, err := srv.Listen()
	require.NoError(t, err)
	defer ln.Close()

	info, err := os.Stat(socket)
	require.NoError(t, err)
	assert.Equal(t, os.ModeSocket, info.Mode()&os.ModeSocket)
}
