package domain

import (
	"time"
)

// CacheRecord is one persisted cache entry. The cache store owns every
// record whose key carries its prefix; StoredAt drives both lazy expiry
// and oldest-first eviction.
type CacheRecord struct {
	Key      string    `gorm:"primaryKey" json:"key"`
	Payload  []byte    `json:"payload"`
	StoredAt time.Time `gorm:"index" json:"stored_at"`
}

// UserPref represents user-specific configuration (Key-Value). These live
// outside the cache prefix and are never touched by cache maintenance.
type UserPref struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
