// Package backend assembles the data, profile and credential stores selected by
// DATA_BACKEND, together with the change-feed plumbing they need.
package backend

import (
	"context"

	"tally/internal/changefeed"
	"tally/internal/store"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// Backend is what the server needs from a storage choice.
type Backend struct {
	Data     store.DataStore
	Profiles store.ProfileStore
	Users    store.UserStore

	// Hub receives every change the backend publishes, including changes made
	// by other processes when AMQP is configured.
	Hub *changefeed.Hub

	// Run drives background work, such as forwarding AMQP change messages,
	// until ctx is done. It is nil when there is nothing to run.
	Run func(ctx context.Context) error

	Cleanup CleanupFunc
}

// Close runs Cleanup if there is one.
func (b *Backend) Close() error {
	if b.Cleanup == nil {
		return nil
	}
	return b.Cleanup()
}

// Factory creates backends based on configuration.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Backend, error)
}

// Config holds configuration for backend creation.
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Local specific; an empty RedisURL keeps blobs in memory
	RedisURL    string
	RedisPrefix string

	// Change feed, optional for sqlite and local
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	LocalBackend  BackendType = "local"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, LocalBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
