// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage implements the embedded key-value backend behind the
// gateway's six named databases (SESSION, CONFIG, PROJECTS, TMP, LMDB5,
// SPF_FS). Each is a separate bbolt file opened once per process and
// shared across all handlers, mirroring the teacher's
// mutex-guarded-singleton EmbeddedBackend, generalized from a Datalog
// engine to a byte-keyed KV engine (see DESIGN.md).
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DB names, matching spec.md §6's six embedded databases.
const (
	DBSession = "SESSION"
	DBConfig  = "CONFIG"
	DBProject = "PROJECTS"
	DBTmp     = "TMP"
	DBAgent   = "LMDB5"
	DBFS      = "SPF_FS"
)

var allDBs = []string{DBSession, DBConfig, DBProject, DBTmp, DBAgent, DBFS}

// rootBucket is the single top-level bucket each bbolt file uses; keys
// are namespaced by the caller (e.g. "file:<path>", "meta:<key>").
var rootBucket = []byte("root")

// EmbeddedBackend owns one *bolt.DB per named database, opened once and
// shared across all handlers. One RWMutex for the whole backend guards
// the database map and the open/close lifecycle, after the teacher's
// RWMutex-guarded EmbeddedBackend pattern; bbolt serializes writers
// internally, and PutBlob's on-disk blob files are not under the mutex.
type EmbeddedBackend struct {
	mu     sync.RWMutex
	dbs    map[string]*bolt.DB
	dir    string
	closed bool

	blobDir string // LIVE/SPF_FS/blobs, for blobs > 1MiB (spec.md §6)
}

// EmbeddedConfig configures the embedded backend.
type EmbeddedConfig struct {
	// DataDir is <install>/LIVE; each named DB is DataDir/<NAME>.db.
	DataDir string
}

const blobThreshold = 1 << 20 // 1 MiB, spec.md §6

// NewEmbeddedBackend opens (creating if absent) all six bbolt files
// under config.DataDir.
func NewEmbeddedBackend(config EmbeddedConfig) (*EmbeddedBackend, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("storage: DataDir is required")
	}
	if err := os.MkdirAll(config.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	blobDir := filepath.Join(config.DataDir, DBFS, "blobs")
	if err := os.MkdirAll(blobDir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	b := &EmbeddedBackend{
		dbs:     make(map[string]*bolt.DB, len(allDBs)),
		dir:     config.DataDir,
		blobDir: blobDir,
	}
	for _, name := range allDBs {
		path := filepath.Join(config.DataDir, name+".db")
		db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			b.closeAll()
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(rootBucket)
			return err
		}); err != nil {
			b.closeAll()
			return nil, fmt.Errorf("init %s: %w", name, err)
		}
		b.dbs[name] = db
	}
	return b, nil
}

func (b *EmbeddedBackend) closeAll() {
	for _, db := range b.dbs {
		if db != nil {
			_ = db.Close()
		}
	}
}

// Close closes all six database files.
func (b *EmbeddedBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var firstErr error
	for _, db := range b.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *EmbeddedBackend) db(name string) (*bolt.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("storage: backend is closed")
	}
	db, ok := b.dbs[name]
	if !ok {
		return nil, fmt.Errorf("storage: unknown database %q", name)
	}
	return db, nil
}

// Get reads a single key from the named database. Returns (nil, false,
// nil) when the key is absent.
func (b *EmbeddedBackend) Get(dbName, key string) ([]byte, bool, error) {
	db, err := b.db(dbName)
	if err != nil {
		return nil, false, err
	}
	var out []byte
	found := false
	err = db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(rootBucket).Get([]byte(key))
		if v != nil {
			out = append([]byte(nil), v...)
			found = true
		}
		return nil
	})
	return out, found, err
}

// Put writes a single key to the named database in its own short
// transaction (spec.md §5: a single short transaction that begins
// after in-memory prepare and commits before the handler returns).
func (b *EmbeddedBackend) Put(dbName, key string, value []byte) error {
	db, err := b.db(dbName)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Put([]byte(key), value)
	})
}

// Delete removes a single key from the named database.
func (b *EmbeddedBackend) Delete(dbName, key string) error {
	db, err := b.db(dbName)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Delete([]byte(key))
	})
}

// ForEach iterates all keys with the given prefix in the named
// database, stopping early if fn returns false.
func (b *EmbeddedBackend) ForEach(dbName, prefix string, fn func(key string, value []byte) bool) error {
	db, err := b.db(dbName)
	if err != nil {
		return err
	}
	return db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(rootBucket).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			if !fn(string(k), append([]byte(nil), v...)) {
				break
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// PutBlob stores bytes for the virtual filesystem (SPF_FS). Blobs at or
// under 1MiB are stored inline under the given key; larger blobs are
// written to disk under blobs/<sha256> and the key stores only a
// pointer record, per spec.md §6. Returns the SHA-256 checksum hex.
func (b *EmbeddedBackend) PutBlob(key string, data []byte) (checksum string, err error) {
	sum := sha256.Sum256(data)
	checksum = hex.EncodeToString(sum[:])
	if len(data) <= blobThreshold {
		if err := b.Put(DBFS, key, data); err != nil {
			return "", err
		}
		return checksum, nil
	}
	blobPath := filepath.Join(b.blobDir, checksum)
	if _, err := os.Stat(blobPath); os.IsNotExist(err) {
		if err := os.WriteFile(blobPath, data, 0o600); err != nil {
			return "", fmt.Errorf("write blob: %w", err)
		}
	}
	ptr := "blob:" + checksum
	if err := b.Put(DBFS, key, []byte(ptr)); err != nil {
		return "", err
	}
	return checksum, nil
}

// GetBlob retrieves bytes previously stored with PutBlob, following the
// on-disk pointer indirection transparently.
func (b *EmbeddedBackend) GetBlob(key string) ([]byte, bool, error) {
	v, ok, err := b.Get(DBFS, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(v) > 5 && string(v[:5]) == "blob:" {
		checksum := string(v[5:])
		data, err := os.ReadFile(filepath.Join(b.blobDir, checksum))
		if err != nil {
			return nil, false, fmt.Errorf("read blob %s: %w", checksum, err)
		}
		return data, true, nil
	}
	return v, true, nil
}
