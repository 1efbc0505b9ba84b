// Package storage provides the key/value stable storage used for the offline
// queue and the secret store.
package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get when no value is stored under a key.
var ErrNotFound = errors.New("storage: key not found")

// Store is a durable key/value store. Put must replace the whole value
// atomically: a crash leaves either the old or the new value, never a mix.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, data []byte) error
	Delete(key string) error
	Close() error
}

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Open opens a store for the given driver rooted at path. For the file driver
// path is a directory; for sqlite it is the database file.
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverFile:
		return NewFileStore(path)
	case DriverSQLite:
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "clawlink.db")
		}
		return OpenSQLite(path)
	}
	return nil, fmt.Errorf("unsupported storage driver: %s", driver)
}

func validateKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("storage: key is required")
	}
	return nil
}
