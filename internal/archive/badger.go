package archive

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger is an Archive backed by an embedded Badger key-value store.
// Suited for runs with many small records where SQLite's single-writer
// connection becomes the bottleneck.
type Badger struct {
	db *badger.DB
}

// OpenBadger creates or opens a Badger archive at the given directory.
// Badger's own logger is silenced; the engine logs at the call sites.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger archive: %w", err)
	}
	return &Badger{db: db}, nil
}

// Put stores blob under key, overwriting any previous blob.
func (b *Badger) Put(_ context.Context, key string, blob []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), blob)
	})
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Get returns the blob stored under key, or ok=false if absent.
func (b *Badger) Get(_ context.Context, key string) ([]byte, bool, error) {
	var blob []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return blob, true, nil
}

// Close flushes and closes the underlying store.
func (b *Badger) Close() error {
	return b.db.Close()
}
