package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Habbi2/Crypto-Dashboard/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the persistent local store. Cache entries and user preferences
// share one SQLite file but live in separate tables.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite store at path. An empty path
// resolves to the per-user config directory.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		resolved, err := defaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		dbPath = resolved
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.CacheRecord{}, &domain.UserPref{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// defaultDBPath resolves the database file path based on OS
func defaultDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "CryptoDashboard", "data", "dashboard.db"), nil
}

// ======================================================================================
// Key-Value Operations (cache backing)
// ======================================================================================

// Get returns the raw value for key. Absence is not an error.
func (s *Storage) Get(key string) ([]byte, bool, error) {
	var rec domain.CacheRecord
	err := s.db.First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec.Payload, true, nil
}

// Put writes or overwrites the value for key. A write rejected for lack of
// space is reported as domain.ErrStoreFull so callers can evict and retry.
func (s *Storage) Put(key string, value []byte) error {
	rec := domain.CacheRecord{
		Key:      key,
		Payload:  value,
		StoredAt: time.Now(),
	}
	if err := s.db.Save(&rec).Error; err != nil {
		if isFullError(err) {
			return fmt.Errorf("%w: %v", domain.ErrStoreFull, err)
		}
		return err
	}
	return nil
}

// Delete removes the entry for key. Deleting a missing key is a no-op.
func (s *Storage) Delete(key string) error {
	return s.db.Where("key = ?", key).Delete(&domain.CacheRecord{}).Error
}

// Keys lists every stored key with the given prefix.
func (s *Storage) Keys(prefix string) ([]string, error) {
	var keys []string
	err := s.db.Model(&domain.CacheRecord{}).
		Where("key LIKE ?", prefix+"%").
		Pluck("key", &keys).Error
	return keys, err
}

// DeleteAll removes every entry with the given prefix.
func (s *Storage) DeleteAll(prefix string) error {
	return s.db.Where("key LIKE ?", prefix+"%").Delete(&domain.CacheRecord{}).Error
}

// isFullError matches SQLite's out-of-space failure
func isFullError(err error) bool {
	return strings.Contains(err.Error(), "database or disk is full")
}

// ======================================================================================
// User Preference Operations
// ======================================================================================

// SavePref saves a user preference (favorites list, theme)
func (s *Storage) SavePref(key, value string) error {
	pref := domain.UserPref{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return s.db.Save(&pref).Error
}

// LoadPref retrieves one user preference; missing keys return "".
func (s *Storage) LoadPref(key string) (string, error) {
	var pref domain.UserPref
	err := s.db.First(&pref, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return pref.Value, err
}

// LoadPrefMap loads all user preferences as a map
func (s *Storage) LoadPrefMap() (map[string]string, error) {
	var prefs []domain.UserPref
	if err := s.db.Find(&prefs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, p := range prefs {
		result[p.Key] = p.Value
	}
	return result, nil
}
