package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryPermissionKit_GrantRevoke(t *testing.T) {
	kit := NewMemoryPermissionKit(nil, zap.NewNop())

	require.NoError(t, kit.GrantPermission(1, "b.perm"))
	require.NoError(t, kit.GrantPermission(1, "a.perm"))
	require.NoError(t, kit.GrantPermission(1, "a.perm"))

	assert.True(t, kit.VerifyPermission(1, "a.perm"))
	assert.False(t, kit.VerifyPermission(2, "a.perm"))
	assert.Equal(t, []string{"a.perm", "b.perm"}, kit.Granted(1))

	require.NoError(t, kit.RevokePermission(1, "a.perm"))
	require.NoError(t, kit.RevokePermission(1, "a.perm"))
	require.NoError(t, kit.RevokePermission(9, "a.perm"))
	assert.Equal(t, []string{"b.perm"}, kit.Granted(1))

	require.NoError(t, kit.RevokePermission(1, "b.perm"))
	assert.Empty(t, kit.Granted(1))
}

func TestMemoryPermissionKit_DLP(t *testing.T) {
	kit := NewMemoryPermissionKit([]uint32{5}, zap.NewNop())

	assert.True(t, kit.IsDLPSandbox(5))
	assert.False(t, kit.IsDLPSandbox(6))
}
