// Package storage provides the durable key-value backing store shared by
// the Identity Store, the Event Log, and the Sequence Allocator (§5:
// "Backing storage ... must be accessed transactionally").
//
// The teacher's go.mod already carries github.com/cockroachdb/pebble as a
// dependency; this package is where it earns its keep: an embedded,
// crash-safe, ordered LSM store is exactly what the Event Log's
// by-stream/by-device-seq/by-created-at range scans need, and it gives the
// Sequence Allocator and Identity Store atomic single-key read-modify-write
// for free via pebble's batch commits.
package storage

import (
	"errors"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

var ErrNotFound = errors.New("storage: key not found")

// KV is the minimal durable key-value surface the rest of the core depends
// on. Keeping it an interface lets tests substitute an in-memory fake
// without dragging pebble into every unit test.
type KV interface {
	Get(key []byte) (value []byte, found bool, err error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// Scan invokes fn for every key in [lowerBound, upperBound) in
	// ascending key order, stopping early if fn returns false.
	Scan(lowerBound, upperBound []byte, fn func(key, value []byte) bool) error
	// Batch runs fn against a batched writer; the batch commits
	// atomically when fn returns nil, matching the "one session
	// transaction per batch of related writes" discipline of §5.
	Batch(fn func(b Batch) error) error
	Close() error
}

// Batch is a set of writes committed atomically by KV.Batch.
type Batch interface {
	Set(key, value []byte) error
	Delete(key []byte) error
}

type pebbleKV struct {
	db *pebble.DB
}

// Open opens (or creates) a pebble store rooted at dir on the real
// filesystem.
func Open(dir string) (KV, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &pebbleKV{db: db}, nil
}

// OpenInMemory opens an ephemeral pebble store backed by an in-memory VFS,
// used by tests and by any ephemeral (non-persistent) client profile.
func OpenInMemory() (KV, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &pebbleKV{db: db}, nil
}

func (p *pebbleKV) Get(key []byte) ([]byte, bool, error) {
	v, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, true, nil
}

func (p *pebbleKV) Set(key, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *pebbleKV) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *pebbleKV) Scan(lowerBound, upperBound []byte, fn func(key, value []byte) bool) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lowerBound, UpperBound: upperBound})
	if err != nil {
		return err
	}
	defer iter.Close()

	for valid := iter.First(); valid; valid = iter.Next() {
		k := append([]byte(nil), iter.Key()...)
		v, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if !fn(k, append([]byte(nil), v...)) {
			break
		}
	}
	return iter.Error()
}

type pebbleBatch struct {
	b *pebble.Batch
}

func (b *pebbleBatch) Set(key, value []byte) error { return b.b.Set(key, value, nil) }
func (b *pebbleBatch) Delete(key []byte) error      { return b.b.Delete(key, nil) }

func (p *pebbleKV) Batch(fn func(b Batch) error) error {
	batch := p.db.NewBatch()
	if err := fn(&pebbleBatch{b: batch}); err != nil {
		_ = batch.Close()
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (p *pebbleKV) Close() error {
	return p.db.Close()
}

// PrefixRange returns the [lower, upper) bound pair that scans every key
// starting with prefix, for use with Scan.
func PrefixRange(prefix []byte) (lower, upper []byte) {
	lower = append([]byte(nil), prefix...)
	upper = append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return lower, upper[:i+1]
		}
	}
	// prefix was all 0xFF bytes; no finite upper bound, scan to the end.
	return lower, nil
}
