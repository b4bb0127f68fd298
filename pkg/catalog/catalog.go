// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package catalog records finished conversions.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"vidtty/pkg/video/vidtxt"

	bolt "go.etcd.io/bbolt"
)

const (
	dbAPIversion = "1"
	// dbAPIversion = "-1" // Testing.
)

const defaultMaxKeys = 10000

// Record describes a vidtxt file created by a conversion.
type Record struct {
	Path      string    `json:"path"` // Absolute path of the vidtxt file.
	Source    string    `json:"source"`
	Columns   uint32    `json:"columns"`
	Lines     uint32    `json:"lines"`
	FPS       float64   `json:"fps"`
	AudioSize uint64    `json:"audioSize"`
	Frames    int64     `json:"frames"`
	Created   time.Time `json:"created"`
}

// NewRecord creates a record from a finished header.
func NewRecord(path, source string, h vidtxt.Header, frames int64, created time.Time) Record {
	return Record{
		Path:      path,
		Source:    source,
		Columns:   h.Columns,
		Lines:     h.Lines,
		FPS:       h.FPS,
		AudioSize: h.AudioSize,
		Frames:    frames,
		Created:   created,
	}
}

// NewDB new catalog database.
func NewDB(dbPath string, wg *sync.WaitGroup) *DB {
	return &DB{
		dbPath:  dbPath,
		maxKeys: defaultMaxKeys,
		wg:      wg,
	}
}

// DB catalog database.
type DB struct {
	dbPath  string
	maxKeys int

	db *bolt.DB
	wg *sync.WaitGroup
}

// Init opens the database, it's closed when ctx is canceled.
func (c *DB) Init(ctx context.Context) error {
	dbOpts := &bolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bolt.Open(c.dbPath, 0o600, dbOpts)
	if err != nil {
		return fmt.Errorf("could not open database: %w: %v", err, c.dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(dbAPIversion))
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("could not create bucket: %v, %w", dbAPIversion, err)
	}

	c.db = db

	c.wg.Add(1)
	go func() {
		<-ctx.Done()
		db.Close()
		c.wg.Done()
	}()

	return nil
}

// ErrEmptyPath record without path.
var ErrEmptyPath = errors.New("empty path")

// Put saves a record, replacing any record with the same path.
// The oldest record is deleted when the catalog is full.
func (c *DB) Put(r Record) error {
	if r.Path == "" {
		return ErrEmptyPath
	}
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbAPIversion))

		if b.Get([]byte(r.Path)) == nil && b.Stats().KeyN >= c.maxKeys {
			if err := deleteOldest(b); err != nil {
				return fmt.Errorf("could not delete oldest record: %w", err)
			}
		}
		return b.Put([]byte(r.Path), value)
	})
}

func deleteOldest(b *bolt.Bucket) error {
	var oldestKey []byte
	var oldest time.Time
	err := b.ForEach(func(k, v []byte) error {
		var r Record
		if err := json.Unmarshal(v, &r); err != nil {
			// Corrupt records go first.
			oldestKey = k
			oldest = time.Time{}
			return nil
		}
		if oldestKey == nil || r.Created.Before(oldest) {
			oldestKey = k
			oldest = r.Created
		}
		return nil
	})
	if err != nil || oldestKey == nil {
		return err
	}
	return b.Delete(append([]byte(nil), oldestKey...))
}

// ErrNotFound record not found.
var ErrNotFound = errors.New("record not found")

// Get returns the record for path.
func (c *DB) Get(path string) (*Record, error) {
	var r Record
	err := c.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(dbAPIversion)).Get([]byte(path))
		if value == nil {
			return fmt.Errorf("%w: %v", ErrNotFound, path)
		}
		if err := json.Unmarshal(value, &r); err != nil {
			return fmt.Errorf("could not unmarshal record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns all records ordered by path.
func (c *DB) List() ([]Record, error) {
	var records []Record
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(dbAPIversion)).ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("could not unmarshal record %q: %w", k, err)
			}
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Delete removes the record for path if it exists.
func (c *DB) Delete(path string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(dbAPIversion)).Delete([]byte(path))
	})
}
