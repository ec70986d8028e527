package bptreestore

import "github.com/oda/bptreestore/internal/node"

// Iterator walks a transaction's keys in ascending order. It holds no
// resources of its own beyond a reference to its Tx: each call to Next
// re-descends the tree from the root, so an Iterator remains valid across
// any number of calls as long as its Tx is still open.
//
// Usage:
//
//	it := tx.Iterator()
//	for it.Next() {
//		use(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
type Iterator struct {
	tx      *Tx
	started bool
	key     node.Key
	value   []byte
	ok      bool
	err     error
}

// Next advances the iterator and reports whether a key was found. Once it
// returns false, either the keyspace is exhausted (Err returns nil) or a
// page read failed (Err returns the failure).
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}

	var k node.Key
	var v []byte
	var ok bool
	var err error
	if !it.started {
		it.started = true
		k, v, ok, err = it.tx.tree.First()
	} else {
		k, v, ok, err = it.tx.tree.Next(it.key)
	}

	if err != nil {
		it.err = err
		it.ok = false
		return false
	}
	it.key, it.value, it.ok = k, v, ok
	return ok
}

// Key returns the current key. Valid only after a call to Next returned
// true.
func (it *Iterator) Key() node.Key {
	return it.key
}

// Value returns a copy of the current value. Valid only after a call to
// Next returned true.
func (it *Iterator) Value() []byte {
	return it.value
}

// Err returns the first error encountered during iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}
