package infra

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

func TestCommandDialogLauncher_WritesRequest(t *testing.T) {
	out := filepath.Join(t.TempDir(), "req.json")
	l, err := NewCommandDialogLauncher([]string{"sh", "-c", "cat > " + out}, 5*time.Second, zap.NewNop())
	require.NoError(t, err)

	req := domain.DialogRequest{ResumeToken: "abc", TokenID: 9, PID: 10, ScID: 1001, Type: domain.SaveComponent}
	require.NoError(t, l.Launch(req))

	var got dialogPayload
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(out)
		return err == nil && json.Unmarshal(data, &got) == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "launch", got.Action)
	assert.Equal(t, "abc", got.ResumeToken)
	assert.Equal(t, "save", got.Type)
	assert.Equal(t, int32(1001), got.ScID)
}

func TestCommandDialogLauncher_StartFailure(t *testing.T) {
	l, err := NewCommandDialogLauncher([]string{filepath.Join(t.TempDir(), "missing")}, time.Second, zap.NewNop())
	require.NoError(t, err)

	assert.Error(t, l.Toast(domain.DialogRequest{}))
}

func TestNewCommandDialogLauncher_Empty(t *testing.T) {
	_, err := NewCommandDialogLauncher(nil, time.Second, zap.NewNop())
	assert.Error(t, err)
}

func TestLogDialogLauncher(t *testing.T) {
	l := LogDialogLauncher{Logger: zap.NewNop()}
	assert.NoError(t, l.Launch(domain.DialogRequest{}))
	assert.NoError(t, l.Toast(domain.DialogRequest{}))
}
