package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB implements DB using Badger.
type BadgerDB struct {
	db *badger.DB
}

// NewBadger opens, or creates, the Badger database in dir.
func NewBadger(dir string) (*BadgerDB, error) {
	return openBadger(dir, badger.DefaultOptions(dir))
}

// NewBadgerInMemory creates a Badger database that lives only in memory.
func NewBadgerInMemory() (*BadgerDB, error) {
	return openBadger("(memory)", badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(path string, opts badger.Options) (*BadgerDB, error) {
	db, err := badger.Open(opts.WithLogger(nil))
	switch {
	case err == nil:
		return &BadgerDB{db: db}, nil
	case strings.Contains(err.Error(), "Cannot acquire directory lock"),
		strings.Contains(err.Error(), "resource temporarily unavailable"):
		return nil, fmt.Errorf("database at %s is locked by another process (is another wallet or node using it?): %w", path, err)
	default:
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
}

// Get returns a copy of the value stored under key, or ErrNotFound.
func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			val, err = item.ValueCopy(nil)
		}
		return err
	})
	return val, badgerErr("get", err)
}

func (b *BadgerDB) Put(key, value []byte) error {
	return badgerErr("put", b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}))
}

func (b *BadgerDB) Delete(key []byte) error {
	return badgerErr("delete", b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}))
}

// Has reports whether key is stored.
func (b *BadgerDB) Has(key []byte) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, badgerErr("has", err)
}

// badgerErr maps badger's missing-key error to ErrNotFound and tags any
// other failure with the operation.
func badgerErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("badger %s: %w", op, err)
	}
}

// ForEach iterates over all keys with the given prefix in key order.
func (b *BadgerDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("badger read %x: %w", item.Key(), err)
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// NewBatch starts an atomic write batch backed by a single read-write
// transaction. Batches larger than badger's transaction limit fail on Commit.
func (b *BadgerDB) NewBatch() Batch {
	return &badgerBatch{txn: b.db.NewTransaction(true)}
}

type badgerBatch struct {
	txn *badger.Txn
	err error
}

func (bb *badgerBatch) Put(key, value []byte) error {
	if bb.err != nil {
		return bb.err
	}
	// badger keeps references to key and value until commit.
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	if err := bb.txn.Set(k, v); err != nil {
		bb.err = fmt.Errorf("badger batch put: %w", err)
	}
	return bb.err
}

func (bb *badgerBatch) Delete(key []byte) error {
	if bb.err != nil {
		return bb.err
	}
	if err := bb.txn.Delete(append([]byte(nil), key...)); err != nil {
		bb.err = fmt.Errorf("badger batch delete: %w", err)
	}
	return bb.err
}

func (bb *badgerBatch) Commit() error {
	if bb.err != nil {
		bb.txn.Discard()
		return bb.err
	}
	if err := bb.txn.Commit(); err != nil {
		return fmt.Errorf("badger batch commit: %w", err)
	}
	return nil
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	return b.db.Close()
}
