package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerCache implements Cache using BadgerDB
type BadgerCache struct {
	db     *badger.DB
	prefix []byte
	owned  bool
}

// NewBadgerCache opens a BadgerDB-backed cache at path. An empty path keeps the data in memory.
func NewBadgerCache(path string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &BadgerCache{db: db, prefix: []byte("cache:"), owned: true}, nil
}

// NewBadgerCacheFromDB shares an already open database, e.g. the one behind the badger store.
// Close leaves the database open.
func NewBadgerCacheFromDB(db *badger.DB) *BadgerCache {
	return &BadgerCache{db: db, prefix: []byte("cache:")}
}

func (c *BadgerCache) key(k string) []byte {
	return append(append([]byte(nil), c.prefix...), k...)
}

func (c *BadgerCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(c.key(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (c *BadgerCache) Get(_ context.Context, key string) ([]byte, error) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(key))
		if err != nil {
			return err
		}

		val, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	return val, nil
}

func (c *BadgerCache) Delete(_ context.Context, key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(c.key(key))
	})
}

func (c *BadgerCache) Close() error {
	if !c.owned {
		return nil
	}
	return c.db.Close()
}
