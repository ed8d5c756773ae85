// Package store provides the persistent key-value store backing settings,
// session tokens, and cached library listings.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

const (
	// MaxValueSize caps stored values at 1 MiB.
	MaxValueSize = 1 << 20

	// AppName is used for the data directory name.
	AppName = "octoplay"
)

// writablePrefixes is the allow-list of key namespaces this process may
// write. Reads are unrestricted.
var writablePrefixes = []string{"octoplay."}

// ErrKeyNotWritable is returned when a key falls outside the allow-list.
var ErrKeyNotWritable = errors.New("store: key outside writable namespaces")

// ErrValueTooLarge is returned when a value exceeds MaxValueSize.
var ErrValueTooLarge = errors.New("store: value exceeds size cap")

// Store is a namespaced key-value store backed by Badger.
type Store struct {
	db *badger.DB
}

// DataDir returns the platform-specific data directory for the store.
func DataDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}
	return filepath.Join(userCacheDir, AppName, "store"), nil
}

// Open opens (creating if needed) the store at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store, used by tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func keyWritable(key string) bool {
	for _, prefix := range writablePrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) (string, bool) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		value = string(raw)
		return nil
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			log.Debug().Err(err).Str("key", key).Msg("Store read failed")
		}
		return "", false
	}
	return value, true
}

// Set stores value under key. Keys outside the writable namespaces and
// values beyond the size cap are rejected.
func (s *Store) Set(key, value string) error {
	if !keyWritable(key) {
		return fmt.Errorf("%w: %s", ErrKeyNotWritable, key)
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("%w: %s (%d bytes)", ErrValueTooLarge, key, len(value))
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	if !keyWritable(key) {
		return fmt.Errorf("%w: %s", ErrKeyNotWritable, key)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// SetJSON marshals v and stores it under key, subject to the same
// namespace and size rules as Set.
func (s *Store) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	return s.Set(key, string(data))
}

// GetJSON unmarshals the value at key into v. Returns false when the key is
// absent or the stored value does not parse.
func (s *Store) GetJSON(key string, v any) bool {
	raw, ok := s.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Discarding unparsable stored value")
		return false
	}
	return true
}
