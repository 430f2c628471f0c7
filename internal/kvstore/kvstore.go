// Package kvstore provides a namespaced key-value store used for the
// conditional fetch mirror, sessions and the saga journal.
package kvstore

import (
	"context"
	"fmt"
)

// Drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Store is a namespaced key-value store. Get returns apperr.ErrNotFound for
// missing keys.
type Store interface {
	Get(ctx context.Context, ns, key string) ([]byte, error)
	Put(ctx context.Context, ns, key string, value []byte) error
	Delete(ctx context.Context, ns, key string) error
	// Keys returns the keys of ns in ascending order.
	Keys(ctx context.Context, ns string) ([]string, error)
	Clear(ctx context.Context, ns string) error
	Close() error
}

// Open returns a Store for the given driver. path is ignored by the memory driver.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("kvstore: unknown driver %q", driver)
	}
}
