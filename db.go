// Package bptreestore is a single-file, embedded key/value store built on
// a disk-resident B+-tree, modeled after SQLite's pager/btree split: a
// memory-mapped paged file underneath, a fixed-size-cell B+-tree above it,
// and a minimal transaction surface (one writer, many readers) on top.
package bptreestore

import (
	"fmt"
	"sync"

	"github.com/oda/bptreestore/internal/meta"
	"github.com/oda/bptreestore/internal/node"
	"github.com/oda/bptreestore/internal/pager"
)

// DefaultPageSize matches the teacher's own fixed page size and keeps
// cells_max comfortably above the well-definedness floor (§3) for the
// 40-byte leaf cell this engine uses.
const DefaultPageSize = 4096

// Options configures Open.
type Options struct {
	// PageSize sets the on-disk page size for a freshly created file.
	// Ignored when opening an existing file, whose page size is read back
	// from its meta record. Zero defaults to DefaultPageSize.
	PageSize int

	// ReadOnly opens the file without acquiring the writer lock surface;
	// Begin(true) and View's writable counterpart both fail with
	// ErrDatabaseReadOnly.
	ReadOnly bool

	// MMapInitSize is carried for API parity with the whole-file-mmap
	// databases this design is modeled after. This engine maps pages
	// individually as they're touched (internal/mmap), so there is no
	// initial mapping to size; the field is accepted and ignored.
	MMapInitSize int
}

// DB is an open database file. A *DB is safe for concurrent use by
// multiple goroutines.
type DB struct {
	path     string
	opts     Options
	pager    *pager.Pager
	metaMgr  *meta.Manager
	layout   node.Layout
	readOnly bool

	// writerLock admits a single writable Tx at a time (§5).
	writerLock sync.Mutex
	// metaLock serializes reading Current and publishing Commit so a
	// reader's snapshot and a committing writer's update never race.
	metaLock sync.Mutex
	// mmapLock is held shared by every open Tx for its lifetime and would
	// be held exclusive around a remap of the reader-visible pages (§5).
	// This engine maps pages individually and never remaps an existing
	// mapping, so nothing here ever takes the exclusive side; the lock is
	// carried for the same reader/writer contract the design describes.
	mmapLock sync.RWMutex

	txMu   sync.Mutex
	openTx map[*Tx]struct{}

	closed bool
}

// Open opens path, creating and initializing a new file if it does not
// exist.
func Open(path string, opts Options) (*DB, error) {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}

	p, err := pager.Open(path, opts.PageSize, opts.ReadOnly)
	if err != nil {
		return nil, err
	}

	n, err := p.NumPages()
	if err != nil {
		return nil, err
	}

	var mgr *meta.Manager
	if n == 0 {
		if opts.ReadOnly {
			return nil, fmt.Errorf("bptreestore: open %s: %w", path, ErrDatabaseNotOpen)
		}
		mgr, err = meta.Init(p, opts.PageSize)
	} else {
		mgr, err = meta.Load(p)
		if err == nil && int(mgr.Current().PageSize) != opts.PageSize {
			// The file was created with another page size: reopen the
			// pager at the size its meta records and load again.
			if err = p.Close(); err == nil {
				opts.PageSize = int(mgr.Current().PageSize)
				p, err = pager.Open(path, opts.PageSize, opts.ReadOnly)
				if err == nil {
					mgr, err = meta.Load(p)
				}
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("bptreestore: open %s: %w", path, err)
	}

	layout, err := node.NewLayout(int(mgr.Current().PageSize))
	if err != nil {
		return nil, fmt.Errorf("bptreestore: open %s: %w", path, err)
	}

	return &DB{
		path:     path,
		opts:     opts,
		pager:    p,
		metaMgr:  mgr,
		layout:   layout,
		readOnly: opts.ReadOnly,
		openTx:   make(map[*Tx]struct{}),
	}, nil
}

// Close closes the underlying file. It fails if any transaction is still
// open.
func (db *DB) Close() error {
	db.txMu.Lock()
	n := len(db.openTx)
	db.txMu.Unlock()
	if n > 0 {
		return fmt.Errorf("bptreestore: close %s: %d transaction(s) still open", db.path, n)
	}

	db.writerLock.Lock()
	defer db.writerLock.Unlock()
	if db.closed {
		return ErrDatabaseNotOpen
	}
	db.closed = true
	return db.pager.Close()
}

// Begin starts a new transaction. A writable transaction acquires the
// database-wide writer lock for its entire lifetime (§5: single writer),
// so callers must Commit or Rollback promptly. A read-only transaction
// never blocks a writer and sees a consistent snapshot fixed at Begin.
func (db *DB) Begin(writable bool) (*Tx, error) {
	if db.closed {
		return nil, ErrDatabaseNotOpen
	}
	if writable && db.readOnly {
		return nil, ErrDatabaseReadOnly
	}

	if writable {
		db.writerLock.Lock()
	}
	db.mmapLock.RLock()

	db.metaLock.Lock()
	m := db.metaMgr.Current()
	db.metaLock.Unlock()

	tx := newTx(db, writable, m)

	db.txMu.Lock()
	db.openTx[tx] = struct{}{}
	db.txMu.Unlock()

	return tx, nil
}

// View runs fn inside a read-only, managed transaction: Begin(false),
// then an unconditional rollback once fn returns, regardless of whether
// fn returned an error. fn must not call tx.Commit or tx.Rollback itself;
// doing so panics.
func (db *DB) View(fn func(tx *Tx) error) error {
	tx, err := db.Begin(false)
	if err != nil {
		return err
	}
	tx.managed = true
	defer tx.finish()

	return fn(tx)
}

// Update runs fn inside a writable, managed transaction: Begin(true), then
// fn, then Commit if fn returned nil or an unconditional rollback
// otherwise. fn must not call tx.Commit or tx.Rollback itself.
func (db *DB) Update(fn func(tx *Tx) error) error {
	tx, err := db.Begin(true)
	if err != nil {
		return err
	}
	tx.managed = true
	defer tx.finish()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}
