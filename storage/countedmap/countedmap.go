// Package countedmap provides a persistent key-value map that tracks its
// entry count alongside the entries.
package countedmap

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/wippyai/wasm-memory/errors"
)

var (
	bucketEntries = []byte("entries")
	bucketMeta    = []byte("meta")
	keyCount      = []byte("count")
)

// Map stores entries in a bbolt bucket and keeps their count in a sibling
// key updated in the same transaction. Count never iterates.
type Map struct {
	db   *bolt.DB
	name []byte
	owns bool
}

// Open opens (or creates) the database at path and the map called name
// inside it. Close closes the database.
func Open(path, name string) (*Map, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Storage("open "+path, err)
	}
	m, err := New(db, name)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	m.owns = true
	return m, nil
}

// New returns the map called name in an already open database.
func New(db *bolt.DB, name string) (*Map, error) {
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseStorage, "map name is empty")
	}
	m := &Map{db: db, name: []byte(name)}
	err := db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(m.name)
		if err != nil {
			return err
		}
		if _, err := root.CreateBucketIfNotExists(bucketEntries); err != nil {
			return err
		}
		_, err = root.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		return nil, errors.Storage("create map "+name, err)
	}
	return m, nil
}

// Close closes the database if the map opened it.
func (m *Map) Close() error {
	if !m.owns {
		return nil
	}
	if err := m.db.Close(); err != nil {
		return errors.Storage("close", err)
	}
	return nil
}

// txMap is the map as seen from inside one transaction.
type txMap struct {
	entries *bolt.Bucket
	meta    *bolt.Bucket
}

func (m *Map) view(fn func(t txMap) error) error {
	err := m.db.View(func(tx *bolt.Tx) error {
		return fn(m.buckets(tx))
	})
	return wrap(err)
}

func (m *Map) update(fn func(t txMap) error) error {
	err := m.db.Update(func(tx *bolt.Tx) error {
		return fn(m.buckets(tx))
	})
	return wrap(err)
}

func (m *Map) buckets(tx *bolt.Tx) txMap {
	root := tx.Bucket(m.name)
	return txMap{entries: root.Bucket(bucketEntries), meta: root.Bucket(bucketMeta)}
}

// wrap converts bbolt failures to storage errors and unwraps errors
// returned by caller closures.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*callerError); ok {
		return ce.err
	}
	if _, ok := err.(*errors.Error); ok {
		return err
	}
	return errors.Storage("transaction", err)
}

// callerError marks an error produced by a caller closure so it is
// returned unchanged.
type callerError struct{ err error }

func (e *callerError) Error() string { return e.err.Error() }

func (t txMap) count() uint64 {
	v := t.meta.Get(keyCount)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func (t txMap) setCount(n uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return t.meta.Put(keyCount, buf[:])
}

// adjust moves the counter by delta, saturating at both ends.
func (t txMap) adjust(delta int) error {
	n := t.count()
	switch {
	case delta > 0 && n < math.MaxUint64:
		n++
	case delta < 0 && n > 0:
		n--
	default:
		return nil
	}
	return t.setCount(n)
}

// lookup distinguishes an empty value from a missing key, which Get alone
// cannot.
func (t txMap) lookup(key []byte) ([]byte, bool) {
	k, v := t.entries.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, false
	}
	return v, true
}

func clone(v []byte) []byte {
	if v == nil {
		return nil
	}
	return bytes.Clone(v)
}

// Insert stores value under key and returns the previous value, if any.
func (m *Map) Insert(key, value []byte) (old []byte, existed bool, err error) {
	if len(key) == 0 {
		return nil, false, errors.InvalidInput(errors.PhaseStorage, "empty key")
	}
	err = m.update(func(t txMap) error {
		prev, ok := t.lookup(key)
		old, existed = clone(prev), ok
		if err := t.entries.Put(key, value); err != nil {
			return err
		}
		if !existed {
			return t.adjust(+1)
		}
		return nil
	})
	return old, existed, err
}

// Get returns the value stored under key.
func (m *Map) Get(key []byte) (value []byte, ok bool, err error) {
	err = m.view(func(t txMap) error {
		v, found := t.lookup(key)
		value, ok = clone(v), found
		return nil
	})
	return value, ok, err
}

// ContainsKey reports whether key is present.
func (m *Map) ContainsKey(key []byte) (bool, error) {
	_, ok, err := m.Get(key)
	return ok, err
}

// Remove deletes key and reports whether it was present.
func (m *Map) Remove(key []byte) (bool, error) {
	_, ok, err := m.Take(key)
	return ok, err
}

// Take deletes key and returns the value it held.
func (m *Map) Take(key []byte) (value []byte, ok bool, err error) {
	err = m.update(func(t txMap) error {
		v, found := t.lookup(key)
		if !found {
			return nil
		}
		value, ok = clone(v), true
		if err := t.entries.Delete(key); err != nil {
			return err
		}
		return t.adjust(-1)
	})
	return value, ok, err
}

// MutateFunc receives the current value (ok is false when absent) and
// returns the value to store. keep false removes the key.
type MutateFunc func(old []byte, ok bool) (value []byte, keep bool)

// Mutate applies fn to key. The count follows the key's existence before
// and after.
func (m *Map) Mutate(key []byte, fn MutateFunc) error {
	return m.TryMutate(key, func(old []byte, ok bool) ([]byte, bool, error) {
		v, keep := fn(old, ok)
		return v, keep, nil
	})
}

// TryMutate is Mutate with a fallible closure. An error from fn rolls the
// transaction back and is returned unchanged.
func (m *Map) TryMutate(key []byte, fn func(old []byte, ok bool) ([]byte, bool, error)) error {
	if len(key) == 0 {
		return errors.InvalidInput(errors.PhaseStorage, "empty key")
	}
	return m.update(func(t txMap) error {
		prev, existed := t.lookup(key)

		value, keep, err := fn(clone(prev), existed)
		if err != nil {
			return &callerError{err: err}
		}

		switch {
		case keep:
			if err := t.entries.Put(key, value); err != nil {
				return err
			}
			if !existed {
				return t.adjust(+1)
			}
		case existed:
			if err := t.entries.Delete(key); err != nil {
				return err
			}
			return t.adjust(-1)
		}
		return nil
	})
}

// Count returns the stored entry count.
func (m *Map) Count() (uint64, error) {
	var n uint64
	err := m.view(func(t txMap) error {
		n = t.count()
		return nil
	})
	return n, err
}

// Iter calls fn for every entry in key order. The slices are only valid
// during the call. Returning an error stops iteration.
func (m *Map) Iter(fn func(key, value []byte) error) error {
	return m.view(func(t txMap) error {
		return t.entries.ForEach(func(k, v []byte) error {
			if err := fn(k, v); err != nil {
				return &callerError{err: err}
			}
			return nil
		})
	})
}

// Clear removes every entry and resets the count.
func (m *Map) Clear() error {
	err := m.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(m.name)
		if err := root.DeleteBucket(bucketEntries); err != nil {
			return err
		}
		if _, err := root.CreateBucket(bucketEntries); err != nil {
			return err
		}
		return txMap{meta: root.Bucket(bucketMeta)}.setCount(0)
	})
	return wrap(err)
}

// Initialize recounts the entries and stores the result, repairing a
// counter that drifted from the data.
func (m *Map) Initialize() (uint64, error) {
	var n uint64
	err := m.update(func(t txMap) error {
		n = 0
		c := t.entries.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
		return t.setCount(n)
	})
	return n, err
}
