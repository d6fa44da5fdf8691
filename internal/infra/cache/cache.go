package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/Habbi2/Crypto-Dashboard/internal/domain"
	"github.com/Habbi2/Crypto-Dashboard/internal/infra"
)

// EvictFraction is the share of entries removed when a write hits a full store.
const EvictFraction = 0.2

// envelope is the persisted form of one cache entry. It carries its own
// timestamps so expiry and eviction need nothing from the backing store.
type envelope struct {
	Payload  json.RawMessage `json:"data"`
	StoredAt int64           `json:"timestamp"` // Unix milliseconds
	TTLMS    int64           `json:"expiry"`
}

func (e *envelope) expired(now time.Time) bool {
	return now.UnixMilli()-e.StoredAt > e.TTLMS
}

// Store is a TTL key-value cache over a persistent local store. Expiry is
// lazy (checked on read); SweepExpired bounds growth at startup.
type Store struct {
	kv  domain.KVStore
	now func() time.Time
}

// NewStore creates a cache store over the given persistent store.
func NewStore(kv domain.KVStore) *Store {
	return &Store{kv: kv, now: time.Now}
}

// Get reads the entry for key into out and reports whether it was present
// and still valid. An expired or unreadable entry is deleted and treated
// as absent.
func (s *Store) Get(key string, out any) (bool, error) {
	raw, ok, err := s.kv.Get(key)
	if err != nil {
		return false, err
	}
	if !ok {
		infra.CacheMissesTotal.Inc()
		return false, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("dropping unreadable cache entry", slog.String("key", key), slog.Any("error", err))
		s.kv.Delete(key)
		infra.CacheMissesTotal.Inc()
		return false, nil
	}

	if env.expired(s.now()) {
		if err := s.kv.Delete(key); err != nil {
			return false, err
		}
		infra.CacheMissesTotal.Inc()
		return false, nil
	}

	if err := json.Unmarshal(env.Payload, out); err != nil {
		return false, fmt.Errorf("cache payload for %s: %w", key, err)
	}
	infra.CacheHitsTotal.Inc()
	return true, nil
}

// Set stores value under key with the given TTL, overwriting any existing
// entry. A write rejected for lack of space triggers one eviction cycle and
// exactly one retry before the failure is surfaced.
func (s *Store) Set(key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	raw, err := json.Marshal(envelope{
		Payload:  payload,
		StoredAt: s.now().UnixMilli(),
		TTLMS:    ttl.Milliseconds(),
	})
	if err != nil {
		return err
	}

	err = s.kv.Put(key, raw)
	if errors.Is(err, domain.ErrStoreFull) {
		slog.Warn("persistent store full, evicting oldest entries", slog.String("key", key))
		if _, evictErr := s.EvictOldest(EvictFraction); evictErr != nil {
			return evictErr
		}
		err = s.kv.Put(key, raw)
	}
	return err
}

// EvictOldest removes the oldest ceil(fraction*count) entries owned by this
// store, oldest StoredAt first, ties broken by key order. Returns the number
// of entries removed.
func (s *Store) EvictOldest(fraction float64) (int, error) {
	type aged struct {
		key      string
		storedAt int64
	}

	keys, err := s.kv.Keys(Prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	entries := make([]aged, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := s.kv.Get(key)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// Unreadable entries go first
			s.kv.Delete(key)
			continue
		}
		entries = append(entries, aged{key: key, storedAt: env.StoredAt})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].storedAt != entries[j].storedAt {
			return entries[i].storedAt < entries[j].storedAt
		}
		return entries[i].key < entries[j].key
	})

	toRemove := int(math.Ceil(fraction * float64(len(entries))))
	if toRemove > len(entries) {
		toRemove = len(entries)
	}

	removed := 0
	for _, e := range entries[:toRemove] {
		if err := s.kv.Delete(e.key); err != nil {
			return removed, err
		}
		removed++
	}

	infra.CacheEvictionsTotal.Add(float64(removed))
	slog.Info("evicted oldest cache entries", slog.Int("removed", removed), slog.Int("total", len(entries)))
	return removed, nil
}

// SweepExpired removes every entry whose TTL has elapsed. Idempotent;
// intended for startup. Returns the number of entries removed.
func (s *Store) SweepExpired() (int, error) {
	keys, err := s.kv.Keys(Prefix)
	if err != nil {
		return 0, err
	}

	now := s.now()
	removed := 0
	for _, key := range keys {
		raw, ok, err := s.kv.Get(key)
		if err != nil {
			return removed, err
		}
		if !ok {
			continue
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.expired(now) {
			if delErr := s.kv.Delete(key); delErr != nil {
				return removed, delErr
			}
			removed++
		}
	}

	if removed > 0 {
		infra.CacheEvictionsTotal.Add(float64(removed))
	}
	return removed, nil
}

// ClearAll removes every entry owned by this store. Unrelated storage
// (user preferences) is untouched.
func (s *Store) ClearAll() error {
	return s.kv.DeleteAll(Prefix)
}
