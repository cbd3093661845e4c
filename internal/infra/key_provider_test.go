package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyProvider(t *testing.T) {
	tests := []struct {
		name   string
		testFn func(t *testing.T, provider *FileKeyProvider)
	}{
		{
			name: "KeyExists returns false when no key file",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				assert.False(t, provider.KeyExists())
			},
		},
		{
			name: "StoreKey writes an owner-only file",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				key, err := GenerateKey()
				require.NoError(t, err)
				require.NoError(t, provider.StoreKey(key))

				info, err := os.Stat(provider.Path())
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
			},
		},
		{
			name: "GetKey returns stored key",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				key, err := GenerateKey()
				require.NoError(t, err)
				require.NoError(t, provider.StoreKey(key))

				got, err := provider.GetKey()
				require.NoError(t, err)
				assert.Equal(t, key, got)
			},
		},
		{
			name: "GetKey fails without key file",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				_, err := provider.GetKey()
				assert.Error(t, err)
			},
		},
		{
			name: "GetKey rejects a truncated key",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				require.NoError(t, os.WriteFile(provider.Path(), []byte("c2hvcnQ="), 0600))
				_, err := provider.GetKey()
				assert.ErrorContains(t, err, "invalid key size")
			},
		},
		{
			name: "StoreKey rejects wrong key size",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				err := provider.StoreKey([]byte("tooshort"))
				assert.ErrorContains(t, err, "invalid key size")
			},
		},
		{
			name: "StoreKey creates directory if missing",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				provider.keyPath = filepath.Join(provider.keyPath+"_nested", "sub", consentKeyFile)

				key, err := GenerateKey()
				require.NoError(t, err)
				require.NoError(t, provider.StoreKey(key))
				assert.True(t, provider.KeyExists())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.testFn(t, NewFileKeyProvider(t.TempDir()))
		})
	}
}

func TestGenerateKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := GenerateKey()
		require.NoError(t, err)
		assert.Len(t, key, consentKeySize)
		assert.False(t, seen[string(key)], "duplicate key generated")
		seen[string(key)] = true
	}
}

func TestEnsureKey(t *testing.T) {
	t.Run("generates new key when none exists", func(t *testing.T) {
		provider := NewFileKeyProvider(t.TempDir())

		key, err := EnsureKey(provider)
		require.NoError(t, err)
		assert.Len(t, key, consentKeySize)
		assert.True(t, provider.KeyExists())
	})

	t.Run("returns existing key", func(t *testing.T) {
		provider := NewFileKeyProvider(t.TempDir())
		original, err := GenerateKey()
		require.NoError(t, err)
		require.NoError(t, provider.StoreKey(original))

		key, err := EnsureKey(provider)
		require.NoError(t, err)
		assert.Equal(t, original, key)
	})
}

func TestOpenConsentStore(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		dir := t.TempDir()
		store, err := OpenConsentStore(dir, false)
		require.NoError(t, err)
		defer store.Close()

		assert.IsType(t, &FileConsentStore{}, store)
		assert.False(t, NewFileKeyProvider(dir).KeyExists())
	})

	t.Run("encrypted reopens with the same key", func(t *testing.T) {
		dir := t.TempDir()
		store, err := OpenConsentStore(dir, true)
		require.NoError(t, err)
		require.NoError(t, store.Save(map[uint32]uint64{1: 3}))
		require.NoError(t, store.Close())

		store, err = OpenConsentStore(dir, true)
		require.NoError(t, err)
		defer store.Close()

		records, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, map[uint32]uint64{1: 3}, records)
	})
}
