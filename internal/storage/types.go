package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCorrupt means stored data exists but cannot be read or decoded.
	ErrCorrupt = errors.New("storage corrupt")
	ErrClosed  = errors.New("storage closed")
)

// Store is the persistence API of the subscriber registry.
type Store interface {
	// Load returns the stored identifiers in stored order. existed is false when
	// nothing was stored yet; the backend then initializes itself to empty.
	Load(ctx context.Context) (ids []string, existed bool, err error)
	// Save replaces the stored set with ids.
	Save(ctx context.Context, ids []string) error
	Close() error
}

// Config configures storage.
//
// Driver values: "file" (default), "sqlite", "redis".
type Config struct {
	Driver      string
	Path        string        // file and sqlite
	BusyTimeout time.Duration // sqlite only; 0 means default

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}
