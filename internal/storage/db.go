// Package storage provides key-value database abstractions.
package storage

import (
	"bytes"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix, in key order.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch collects writes that are applied together by Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by databases that can commit a Batch atomically.
type Batcher interface {
	NewBatch() Batch
}

// NewBatch returns a batch for db. Databases that are not Batchers get a
// batch that replays its writes one by one on Commit, so a failure can
// leave a prefix of them applied.
func NewBatch(db DB) Batch {
	if b, ok := db.(Batcher); ok {
		return b.NewBatch()
	}
	return &replayBatch{db: db}
}

type replayOp struct {
	key, value []byte
	del        bool
}

type replayBatch struct {
	db  DB
	ops []replayOp
}

func (b *replayBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, replayOp{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

func (b *replayBatch) Delete(key []byte) error {
	b.ops = append(b.ops, replayOp{key: bytes.Clone(key), del: true})
	return nil
}

func (b *replayBatch) Commit() error {
	for _, op := range b.ops {
		var err error
		if op.del {
			err = b.db.Delete(op.key)
		} else {
			err = b.db.Put(op.key, op.value)
		}
		if err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}
