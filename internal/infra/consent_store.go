package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

const consentFileName = "first_use.json"

// consentFile is the on-disk layout of FileConsentStore.
type consentFile struct {
	Version   int             `json:"version"`
	UpdatedAt int64           `json:"updated_at"`
	Records   []consentRecord `json:"records"`
}

type consentRecord struct {
	TokenID uint32 `json:"token_id"`
	Mask    uint64 `json:"mask"`
}

// FileConsentStore implements domain.ConsentStore using a JSON file.
type FileConsentStore struct {
	path string
}

// NewFileConsentStore creates a store in dataDir.
func NewFileConsentStore(dataDir string) *FileConsentStore {
	return &FileConsentStore{path: filepath.Join(dataDir, consentFileName)}
}

// NewFileConsentStoreWithPath creates a store at a specific path (for testing).
func NewFileConsentStoreWithPath(path string) *FileConsentStore {
	return &FileConsentStore{path: path}
}

// Path returns the backing file path.
func (s *FileConsentStore) Path() string {
	return s.path
}

// Load returns all records. A missing file is an empty store.
func (s *FileConsentStore) Load() (map[uint32]uint64, error) {
	records := make(map[uint32]uint64)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return records, nil
		}
		return nil, err
	}

	var f consentFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("corrupt consent file %s: %w", s.path, err)
	}
	for _, r := range f.Records {
		records[r.TokenID] |= r.Mask
	}
	return records, nil
}

// Save replaces all records.
func (s *FileConsentStore) Save(records map[uint32]uint64) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Serialize writers across processes
	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	f := consentFile{Version: 1, UpdatedAt: time.Now().Unix()}
	for token, mask := range records {
		f.Records = append(f.Records, consentRecord{TokenID: token, Mask: mask})
	}
	sort.Slice(f.Records, func(i, j int) bool { return f.Records[i].TokenID < f.Records[j].TokenID })

	return s.atomicWrite(&f)
}

// atomicWrite writes the file atomically (write + rename).
func (s *FileConsentStore) atomicWrite(f *consentFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Close is a no-op.
func (s *FileConsentStore) Close() error {
	return nil
}

// Ensure FileConsentStore implements domain.ConsentStore.
var _ domain.ConsentStore = (*FileConsentStore)(nil)
