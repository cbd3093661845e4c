package infra

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

const (
	consentKeyFile = "first_use.key"
	consentKeySize = 32 // SQLCipher raw key
)

// FileKeyProvider implements domain.KeyProvider with a 0600 key file next
// to the consent database.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{keyPath: filepath.Join(dataDir, consentKeyFile)}
}

// Path returns the key file path.
func (p *FileKeyProvider) Path() string {
	return p.keyPath
}

// GetKey reads and decodes the key.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	encoded, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != consentKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), consentKeySize)
	}
	return key, nil
}

// StoreKey writes the key with owner-only permissions.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != consentKeySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), consentKeySize)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(p.keyPath, []byte(base64.StdEncoding.EncodeToString(key)), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// KeyExists checks if the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// GenerateKey creates a new random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, consentKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the stored key, generating one on first use.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// OpenConsentStore opens the consent store for dataDir. With encrypt set it
// uses SQLCipher keyed by the key file; otherwise a JSON file.
func OpenConsentStore(dataDir string, encrypt bool) (domain.ConsentStore, error) {
	if !encrypt {
		return NewFileConsentStore(dataDir), nil
	}
	key, err := EnsureKey(NewFileKeyProvider(dataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to get consent key: %w", err)
	}
	return NewEncryptedConsentStore(dataDir, key)
}

// Ensure FileKeyProvider implements domain.KeyProvider.
var _ domain.KeyProvider = (*FileKeyProvider)(nil)
