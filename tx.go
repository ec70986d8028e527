package bptreestore

import (
	"fmt"

	"github.com/oda/bptreestore/internal/btree"
	"github.com/oda/bptreestore/internal/meta"
	"github.com/oda/bptreestore/internal/node"
)

// Tx is a single transaction against a DB: either one writer with a
// private copy-on-write view of the pages it touches, or one of many
// concurrent readers pinned to the meta snapshot active at Begin and
// reading straight through to the shared pager. A Tx is not safe for
// use from more than one goroutine.
type Tx struct {
	db        *DB
	writable  bool
	managed   bool
	meta      meta.Meta
	tree      *btree.Tree
	overlay   *txOverlay
	committed bool
	done      bool
}

func newTx(db *DB, writable bool, m meta.Meta) *Tx {
	var store btree.PageStore = db.pager
	var overlay *txOverlay
	if writable {
		overlay = newTxOverlay(db.pager)
		store = overlay
	}
	tree := btree.New(store, db.layout, m.Root)
	return &Tx{db: db, writable: writable, meta: m, tree: tree, overlay: overlay}
}

// Get returns a copy of the value stored for k, or ErrKeyNotFound.
func (tx *Tx) Get(k node.Key) ([]byte, error) {
	if tx.done {
		return nil, ErrTransactionDone
	}
	return tx.tree.Get(k)
}

// Exists reports whether k is present.
func (tx *Tx) Exists(k node.Key) (bool, error) {
	if tx.done {
		return false, ErrTransactionDone
	}
	return tx.tree.Exists(k)
}

// Insert adds {k, v}, failing with ErrDuplicateKey if k is already present.
// Only valid on a writable transaction.
func (tx *Tx) Insert(k node.Key, v []byte) error {
	if tx.done {
		return ErrTransactionDone
	}
	if !tx.writable {
		return ErrTransactionReadOnly
	}
	return tx.tree.Insert(k, v)
}

// Delete removes k, failing with ErrKeyNotFound if absent. Only valid on a
// writable transaction.
func (tx *Tx) Delete(k node.Key) error {
	if tx.done {
		return ErrTransactionDone
	}
	if !tx.writable {
		return ErrTransactionReadOnly
	}
	return tx.tree.Delete(k)
}

// Iterator returns a cursor over tx's view of the tree in ascending key
// order. The iterator re-descends from the tree root on every Next call,
// so it reflects mutations the same transaction makes as it goes, but a
// cursor must not outlive its Tx.
func (tx *Tx) Iterator() *Iterator {
	return &Iterator{tx: tx}
}

// Commit persists every page this transaction touched and publishes a new
// meta record pointing at the resulting root. Only valid on a writable
// transaction; always releases the writer lock, even on error.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTransactionDone
	}
	if tx.managed {
		panic("bptreestore: Commit called on a managed transaction")
	}
	if !tx.writable {
		return ErrTransactionReadOnly
	}
	return tx.commit()
}

func (tx *Tx) commit() error {
	defer tx.finish()

	if err := tx.overlay.commit(); err != nil {
		return fmt.Errorf("bptreestore: commit: %w", err)
	}
	tx.committed = true

	if err := tx.db.pager.FlushAll(); err != nil {
		return fmt.Errorf("bptreestore: commit: %w", err)
	}

	next := tx.meta
	next.Root = tx.tree.Root()
	next.MaxPage = tx.db.pager.HighWater()

	tx.db.metaLock.Lock()
	err := tx.db.metaMgr.Commit(next)
	tx.db.metaLock.Unlock()
	if err != nil {
		return fmt.Errorf("bptreestore: commit: %w", err)
	}
	return nil
}

// Rollback discards this transaction's writes (by never publishing them)
// and releases its locks. Calling Rollback on a managed transaction (one
// begun via DB.View) is a programming error and panics, since View already
// rolls back unconditionally once fn returns.
func (tx *Tx) Rollback() error {
	if tx.done {
		return ErrTransactionDone
	}
	if tx.managed {
		panic("bptreestore: Rollback called explicitly inside a managed transaction")
	}
	tx.finish()
	return nil
}

// finish releases tx's locks exactly once, regardless of whether it is
// reached via Commit, an explicit Rollback, or View's own unconditional
// cleanup (which bypasses the managed-transaction guard in Rollback by
// calling this directly). A writable Tx that never committed drops its
// overlay here, reclaiming whatever pages it allocated so a rollback
// never leaks a slot; the shared pager itself was never touched, so
// there is nothing else to undo.
func (tx *Tx) finish() {
	if tx.done {
		return
	}
	tx.done = true

	if tx.overlay != nil && !tx.committed {
		_ = tx.overlay.discard()
	}

	tx.db.txMu.Lock()
	delete(tx.db.openTx, tx)
	tx.db.txMu.Unlock()

	tx.db.mmapLock.RUnlock()
	if tx.writable {
		tx.db.writerLock.Unlock()
	}
}
