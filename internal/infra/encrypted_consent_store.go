package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

const consentDBName = "first_use.db"

// EncryptedConsentStore implements domain.ConsentStore using a SQLCipher
// encrypted SQLite database.
type EncryptedConsentStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedConsentStore opens (or creates) the encrypted database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedConsentStore(dataDir string, key []byte) (*EncryptedConsentStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, consentDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only surfaces on first access
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedConsentStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *EncryptedConsentStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS first_use (
		token_id INTEGER PRIMARY KEY,
		mask INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', '1');
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load returns all records.
func (s *EncryptedConsentStore) Load() (map[uint32]uint64, error) {
	rows, err := s.db.Query(`SELECT token_id, mask FROM first_use`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make(map[uint32]uint64)
	for rows.Next() {
		var token int64
		var mask int64
		if err := rows.Scan(&token, &mask); err != nil {
			return nil, err
		}
		records[uint32(token)] = uint64(mask)
	}
	return records, rows.Err()
}

// Save replaces all records in one transaction.
func (s *EncryptedConsentStore) Save(records map[uint32]uint64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM first_use`); err != nil {
		return err
	}
	now := time.Now().Unix()
	for token, mask := range records {
		if _, err := tx.Exec(`INSERT INTO first_use (token_id, mask, updated_at) VALUES (?, ?, ?)`,
			int64(token), int64(mask), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Path returns the database file path.
func (s *EncryptedConsentStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedConsentStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure EncryptedConsentStore implements domain.ConsentStore.
var _ domain.ConsentStore = (*EncryptedConsentStore)(nil)
