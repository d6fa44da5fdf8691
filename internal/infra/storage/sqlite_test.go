package storage

import (
	"path/filepath"
	"testing"

	"github.com/Habbi2/Crypto-Dashboard/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *Storage {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := db.AutoMigrate(&domain.CacheRecord{}, &domain.UserPref{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	return &Storage{db: db}
}

func TestPutAndGet(t *testing.T) {
	s := setupTestDB(t)

	if err := s.Put("crypto_dashboard_symbols", []byte(`["BTC","ETH"]`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, ok, err := s.Get("crypto_dashboard_symbols")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if string(value) != `["BTC","ETH"]` {
		t.Errorf("unexpected value: %s", value)
	}
}

func TestGetMissing(t *testing.T) {
	s := setupTestDB(t)

	_, ok, err := s.Get("crypto_dashboard_nothing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected missing key to report absent")
	}
}

func TestPutOverwrites(t *testing.T) {
	s := setupTestDB(t)

	s.Put("crypto_dashboard_global", []byte("before"))
	if err := s.Put("crypto_dashboard_global", []byte("after")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	value, _, _ := s.Get("crypto_dashboard_global")
	if string(value) != "after" {
		t.Errorf("expected 'after', got '%s'", value)
	}
}

func TestDelete(t *testing.T) {
	s := setupTestDB(t)
	s.Put("crypto_dashboard_gone", []byte("x"))

	if err := s.Delete("crypto_dashboard_gone"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, ok, err := s.Get("crypto_dashboard_gone")
	if err != nil {
		t.Fatalf("Get after delete failed: %v", err)
	}
	if ok {
		t.Error("expected entry to be deleted")
	}

	// Deleting a missing key is a no-op
	if err := s.Delete("crypto_dashboard_gone"); err != nil {
		t.Errorf("deleting missing key failed: %v", err)
	}
}

func TestKeysAndDeleteAll(t *testing.T) {
	s := setupTestDB(t)
	s.Put("crypto_dashboard_a", []byte("1"))
	s.Put("crypto_dashboard_b", []byte("2"))
	s.Put("other_c", []byte("3"))

	keys, err := s.Keys("crypto_dashboard_")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 prefixed keys, got %d", len(keys))
	}

	if err := s.DeleteAll("crypto_dashboard_"); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}

	// Unrelated entries survive
	if _, ok, _ := s.Get("other_c"); !ok {
		t.Error("DeleteAll removed an entry outside its prefix")
	}
}

func TestUserPrefs(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SavePref("cryptoFavorites", `["BTC"]`); err != nil {
		t.Fatalf("SavePref failed: %v", err)
	}
	if err := s.SavePref("theme", "dark"); err != nil {
		t.Fatalf("SavePref failed: %v", err)
	}

	value, err := s.LoadPref("cryptoFavorites")
	if err != nil {
		t.Fatalf("LoadPref failed: %v", err)
	}
	if value != `["BTC"]` {
		t.Errorf("unexpected pref value: %s", value)
	}

	// Missing prefs return empty, not an error
	value, err = s.LoadPref("missing")
	if err != nil || value != "" {
		t.Errorf("expected empty value for missing pref, got %q, %v", value, err)
	}

	prefs, err := s.LoadPrefMap()
	if err != nil {
		t.Fatalf("LoadPrefMap failed: %v", err)
	}
	if len(prefs) != 2 {
		t.Errorf("expected 2 prefs, got %d", len(prefs))
	}
}
