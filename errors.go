package bptreestore

import (
	"errors"

	"github.com/oda/bptreestore/internal/btree"
	"github.com/oda/bptreestore/internal/meta"
	"github.com/oda/bptreestore/internal/pager"
)

// Sentinel errors surfaced by the internal layers, re-exported so callers
// never need to import internal packages to use errors.Is.
var (
	ErrPageNotFound = pager.ErrPageNotFound
	ErrDuplicateKey = btree.ErrDuplicateKey
	ErrKeyNotFound  = btree.ErrKeyNotFound
	ErrNoValidMeta  = meta.ErrNoValidMeta
)

var (
	// ErrDatabaseNotOpen is returned by any DB method called after Close.
	ErrDatabaseNotOpen = errors.New("bptreestore: database is not open")

	// ErrDatabaseReadOnly is returned by Begin(true) against a database
	// opened with Options.ReadOnly.
	ErrDatabaseReadOnly = errors.New("bptreestore: database opened read-only")

	// ErrTransactionReadOnly is returned by Insert/Delete/Commit against a
	// transaction begun with writable=false.
	ErrTransactionReadOnly = errors.New("bptreestore: transaction is read-only")

	// ErrTransactionDone is returned by any Tx method called after Commit
	// or Rollback.
	ErrTransactionDone = errors.New("bptreestore: transaction already committed or rolled back")
)
