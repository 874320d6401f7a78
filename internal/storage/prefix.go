package storage

import "bytes"

// PrefixDB is a namespace inside a shared DB. Every key it reads or writes
// is stored under its prefix, and iteration hands keys back with the prefix
// removed. The spend holder, peer store and ban list of a node share one
// Badger database this way.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB returns the namespace prefix within inner.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	return &PrefixDB{inner: inner, prefix: bytes.Clone(prefix)}
}

// Sub returns a namespace nested under this one.
func (p *PrefixDB) Sub(prefix []byte) *PrefixDB {
	return &PrefixDB{inner: p.inner, prefix: p.key(prefix)}
}

// Prefix returns the full key prefix of the namespace.
func (p *PrefixDB) Prefix() []byte { return bytes.Clone(p.prefix) }

func (p *PrefixDB) key(k []byte) []byte {
	return append(bytes.Clone(p.prefix), k...)
}

func (p *PrefixDB) Get(key []byte) ([]byte, error) { return p.inner.Get(p.key(key)) }

func (p *PrefixDB) Put(key, value []byte) error { return p.inner.Put(p.key(key), value) }

func (p *PrefixDB) Delete(key []byte) error { return p.inner.Delete(p.key(key)) }

func (p *PrefixDB) Has(key []byte) (bool, error) { return p.inner.Has(p.key(key)) }

// ForEach visits the keys of the namespace that start with prefix.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	n := len(p.prefix)
	return p.inner.ForEach(p.key(prefix), func(key, value []byte) error {
		return fn(key[n:], value)
	})
}

// Close leaves the shared database open; its owner closes it.
func (p *PrefixDB) Close() error { return nil }

// NewBatch starts a batch whose keys land in the namespace. It is atomic
// when the shared database is.
func (p *PrefixDB) NewBatch() Batch {
	return &prefixBatch{ns: p, inner: NewBatch(p.inner)}
}

type prefixBatch struct {
	ns    *PrefixDB
	inner Batch
}

func (b *prefixBatch) Put(key, value []byte) error { return b.inner.Put(b.ns.key(key), value) }

func (b *prefixBatch) Delete(key []byte) error { return b.inner.Delete(b.ns.key(key)) }

func (b *prefixBatch) Commit() error { return b.inner.Commit() }
