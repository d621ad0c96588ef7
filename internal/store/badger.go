package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/ellenfel/Model-Context-Protocol/internal/protocol"
)

var badgerPrefix = []byte("ctx/")

// BadgerStore implements Store on an in-memory badger database.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a badger database that never touches disk.
func NewBadgerStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open context database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

var _ Store = (*BadgerStore)(nil)

func badgerKey(id string) []byte {
	return append(append([]byte{}, badgerPrefix...), id...)
}

func (s *BadgerStore) Put(ctx context.Context, id string, mc *protocol.ModelContext) error {
	body, err := encodeContext(mc)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(id), body)
	})
	if err != nil {
		return fmt.Errorf("put context: %w", err)
	}
	return nil
}

func (s *BadgerStore) Get(ctx context.Context, id string) (*protocol.ModelContext, bool, error) {
	var body []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		body, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get context: %w", err)
	}
	mc, err := decodeContext(body)
	if err != nil {
		return nil, false, err
	}
	return mc, true, nil
}

func (s *BadgerStore) Remove(ctx context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(id))
	})
	if err != nil {
		return fmt.Errorf("remove context: %w", err)
	}
	return nil
}

func (s *BadgerStore) Len(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = badgerPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count contexts: %w", err)
	}
	return n, nil
}

// Close closes the database, discarding every context.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
