// Package storage provides durable key/value backends for tab session
// snapshots. Values are opaque JSON documents.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidKey is returned for keys that cannot be stored safely.
var ErrInvalidKey = errors.New("storage: invalid key")

var keyRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// SessionStorage is the durable store behind the persistence bridge.
type SessionStorage interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// List returns every key/value pair whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	// Set overwrites the value for key.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	Close() error
}

func validateKey(key string) error {
	if !keyRe.MatchString(key) || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Open builds the backend named by kind: "memory", "file" or "sqlite".
func Open(kind, dir string) (SessionStorage, error) {
	switch kind {
	case "memory":
		return NewMemory(), nil
	case "file", "":
		return NewFileStore(dir)
	case "sqlite":
		return OpenSQLite(dir)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", kind)
	}
}
