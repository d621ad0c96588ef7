// Package store keeps the model context of every live connection.
//
// Contexts are never durable: every backend keeps them in process memory and
// they are removed when the owning connection closes.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ellenfel/Model-Context-Protocol/internal/protocol"
)

// Store maps a connection id to its model context.
//
// Put and Get copy the context, so callers never share memory with the store;
// a mutated context must be written back with Put.
type Store interface {
	// Put stores mc under id, replacing any previous context.
	Put(ctx context.Context, id string, mc *protocol.ModelContext) error

	// Get returns the context for id. A missing id reports ok=false and no error.
	Get(ctx context.Context, id string) (mc *protocol.ModelContext, ok bool, err error)

	// Remove deletes the context for id. Removing an unknown id is a no-op.
	Remove(ctx context.Context, id string) error

	// Len returns the number of stored contexts.
	Len(ctx context.Context) (int, error)

	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// DefaultSQLiteDSN keeps the SQLite database in process memory.
const DefaultSQLiteDSN = ":memory:"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Open creates the store named by backend.
func Open(backend, dsn string) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		if dsn == "" {
			dsn = DefaultSQLiteDSN
		}
		return NewSQLiteStore(dsn)
	case BackendBadger:
		return NewBadgerStore()
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func encodeContext(mc *protocol.ModelContext) ([]byte, error) {
	if mc == nil {
		return nil, errors.New("context is required")
	}
	data, err := json.Marshal(mc)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	return data, nil
}

func decodeContext(data []byte) (*protocol.ModelContext, error) {
	var mc protocol.ModelContext
	if err := json.Unmarshal(data, &mc); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &mc, nil
}
