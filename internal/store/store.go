// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store is the persistent store: three independently opened
// BoltDB-backed maps (entries, doi, fail) sharing a data directory.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

const (
	entriesDir = "entries"
	doiDir     = "doi"
	failDir    = "fail"
	dbFile     = "data.db"
	bucketName = "main"

	metaKey        = "__meta__"
	entrySchemaTag = "entry-json-v1"
)

// Store bundles the three BoltDB-backed maps (entries, doi, fail) opened
// for the lifetime of the process and shared across batches. Passed
// explicitly through the pipeline rather than held as package-level
// state.
type Store struct {
	dataPath string

	entries *bolt.DB
	doi     *bolt.DB
	fail    *bolt.DB
}

// Open opens (creating if necessary) the three map directories under
// dataPath: entries/, doi/, fail/, each holding one BoltDB file.
func Open(dataPath string) (*Store, error) {
	s := &Store{dataPath: dataPath}
	var err error

	if s.entries, err = openMap(dataPath, entriesDir); err != nil {
		return nil, err
	}
	if err := s.entries.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		if b.Get([]byte(metaKey)) == nil {
			return b.Put([]byte(metaKey), []byte(entrySchemaTag))
		}
		return nil
	}); err != nil {
		s.entries.Close()
		return nil, fmt.Errorf("stamping entries schema version: %w", err)
	}

	if s.doi, err = openMap(dataPath, doiDir); err != nil {
		s.entries.Close()
		return nil, err
	}
	if s.fail, err = openMap(dataPath, failDir); err != nil {
		s.entries.Close()
		s.doi.Close()
		return nil, err
	}

	return s, nil
}

func openMap(dataPath, sub string) (*bolt.DB, error) {
	dir := filepath.Join(dataPath, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s directory: %w", sub, err)
	}
	db, err := bolt.Open(filepath.Join(dir, dbFile), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening %s map: %w", sub, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing %s bucket: %w", sub, err)
	}
	return db, nil
}

// Close releases all three underlying BoltDB files.
func (s *Store) Close() error {
	var firstErr error
	for _, db := range []*bolt.DB{s.entries, s.doi, s.fail} {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PutEntry writes serialized to the entries map under key id. Must be
// called from the single-writer drain step (BE).
func (s *Store) PutEntry(id string, serialized []byte) error {
	return s.entries.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(id), serialized)
	})
}

// GetEntry reads the serialized Entry for id, or nil if absent.
func (s *Store) GetEntry(id string) ([]byte, error) {
	var v []byte
	err := s.entries.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket([]byte(bucketName)).Get([]byte(id)); raw != nil {
			v = append([]byte(nil), raw...)
		}
		return nil
	})
	return v, err
}

// EachEntry iterates every (id, serialized) pair in the entries map in
// cursor order, skipping the reserved schema-version key. fn must not
// retain the byte slices it's given.
func (s *Store) EachEntry(fn func(id string, serialized []byte) error) error {
	return s.entries.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(k) == metaKey {
				continue
			}
			if err := fn(string(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// EntryCount returns the number of entries, excluding the reserved
// schema-version key.
func (s *Store) EntryCount() (int, error) {
	var n int
	err := s.entries.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})
	if n > 0 {
		n--
	}
	return n, err
}

// PutDoi records doi -> id in the DoiIndex.
func (s *Store) PutDoi(doi, id string) error {
	return s.doi.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(doi), []byte(id))
	})
}

// LookupDoi returns the id for doi, or "" if absent (used by the catalog
// reader for dedup-at-source).
func (s *Store) LookupDoi(doi string) (string, error) {
	var id string
	err := s.doi.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(bucketName)).Get([]byte(doi)); v != nil {
			id = string(v)
		}
		return nil
	})
	return id, err
}

// PutFail records id -> errorToken in the FailLog.
func (s *Store) PutFail(id, errorToken string) error {
	return s.fail.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(id), []byte(errorToken))
	})
}

// DeleteFail removes id from the FailLog (called on reprocess success).
func (s *Store) DeleteFail(id string) error {
	return s.fail.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(id))
	})
}

// EachFail iterates every (id, errorToken) pair in the FailLog.
func (s *Store) EachFail(fn func(id, errorToken string) error) error {
	return s.fail.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := fn(string(k), string(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// FailCount returns the number of entries currently recorded as failing.
func (s *Store) FailCount() (int, error) {
	var n int
	err := s.fail.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})
	return n, err
}

// Reset closes, deletes, and reopens all three maps, then sweeps the data
// directory of stray artifact files (.pdf, .png, .nxml, .tar.gz).
func (s *Store) Reset() error {
	if err := s.Close(); err != nil {
		return fmt.Errorf("closing store before reset: %w", err)
	}

	for _, sub := range []string{entriesDir, doiDir, failDir} {
		if err := os.RemoveAll(filepath.Join(s.dataPath, sub)); err != nil {
			return fmt.Errorf("removing %s directory: %w", sub, err)
		}
	}

	fresh, err := Open(s.dataPath)
	if err != nil {
		return fmt.Errorf("reopening store after reset: %w", err)
	}
	*s = *fresh

	entries, err := os.ReadDir(s.dataPath)
	if err != nil {
		return fmt.Errorf("reading data directory for sweep: %w", err)
	}
	staleSuffixes := []string{".pdf", ".png", ".nxml", ".tar.gz"}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		for _, suf := range staleSuffixes {
			if len(name) >= len(suf) && name[len(name)-len(suf):] == suf {
				os.Remove(filepath.Join(s.dataPath, name))
				break
			}
		}
	}
	return nil
}
