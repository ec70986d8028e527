package bptreestore

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/oda/bptreestore/internal/node"
	"github.com/oda/bptreestore/internal/pager"
)

func testDB(t *testing.T, opts Options) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func valueFor(k node.Key) []byte {
	v := make([]byte, node.ValueSize)
	copy(v, fmt.Sprintf("v%d", k))
	return v
}

func TestOpenInitializesFreshFile(t *testing.T) {
	db := testDB(t, Options{PageSize: 4096})

	var ok bool
	err := db.View(func(tx *Tx) error {
		var err error
		ok, err = tx.Exists(1)
		return err
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if ok {
		t.Errorf("expected a fresh database to be empty")
	}
}

func TestCloseFailsWithOpenTransaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tx, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if err := db.Close(); err == nil {
		t.Fatalf("expected Close to fail with an open transaction")
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close after Rollback: %v", err)
	}
}

func TestReadOnlyBeginRejectsWritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ro, err := Open(path, Options{PageSize: 4096, ReadOnly: true})
	if err != nil {
		t.Fatalf("Open read-only: %v", err)
	}
	t.Cleanup(func() { ro.Close() })

	if _, err := ro.Begin(true); !errors.Is(err, ErrDatabaseReadOnly) {
		t.Errorf("expected ErrDatabaseReadOnly, got %v", err)
	}
}

func TestDurabilityAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	keys := []node.Key{5, 1, 9, 3, 7, 42, 100}
	err = db.Update(func(tx *Tx) error {
		for _, k := range keys {
			if err := tx.Insert(k, valueFor(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	err = reopened.View(func(tx *Tx) error {
		for _, k := range keys {
			got, err := tx.Get(k)
			if err != nil {
				return fmt.Errorf("Get(%d): %w", k, err)
			}
			if want := valueFor(k); string(got) != string(want) {
				t.Errorf("Get(%d): expected %q, got %q", k, want, got)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View after reopen: %v", err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	db := testDB(t, Options{PageSize: 4096})

	sentinel := errors.New("boom")
	err := db.Update(func(tx *Tx) error {
		if err := tx.Insert(1, valueFor(1)); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	err = db.View(func(tx *Tx) error {
		ok, err := tx.Exists(1)
		if err != nil {
			return err
		}
		if ok {
			t.Errorf("expected key 1 to be absent after a rolled-back Update")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestViewPanicsOnExplicitCommit(t *testing.T) {
	db := testDB(t, Options{PageSize: 4096})

	defer func() {
		if recover() == nil {
			t.Errorf("expected Commit inside View to panic")
		}
	}()
	db.View(func(tx *Tx) error {
		return tx.Commit()
	})
}

func TestReopenSurvivesCorruptedNewerMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// First commit (tx_id 1 -> 2) lands the original key set, the one we
	// expect to survive. A second commit (tx_id 2 -> 3) adds a key whose
	// meta record we then corrupt, so Load must fall back to the first.
	if err := db.Update(func(tx *Tx) error { return tx.Insert(1, valueFor(1)) }); err != nil {
		t.Fatalf("first Update: %v", err)
	}
	if err := db.Update(func(tx *Tx) error { return tx.Insert(2, valueFor(2)) }); err != nil {
		t.Fatalf("second Update: %v", err)
	}
	newerSlot := db.metaMgr.CurrentSlot()
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p, err := pager.Open(path, 4096, false)
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	buf, err := p.PageByIdx(newerSlot)
	if err != nil {
		t.Fatalf("PageByIdx: %v", err)
	}
	buf[10] ^= 0xFF
	if err := p.FlushPage(newerSlot); err != nil {
		t.Fatalf("FlushPage: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close pager: %v", err)
	}

	reopened, err := Open(path, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("reopen after corruption: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	err = reopened.View(func(tx *Tx) error {
		if ok, err := tx.Exists(1); err != nil || !ok {
			t.Errorf("expected key 1 (from the surviving older meta) to be present, ok=%v err=%v", ok, err)
		}
		if ok, err := tx.Exists(2); err != nil || ok {
			t.Errorf("expected key 2 (only in the corrupted newer meta) to be absent, ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View after reopen: %v", err)
	}
}

func TestWritableBeginBlocksSecondWriter(t *testing.T) {
	db := testDB(t, Options{PageSize: 4096})

	tx1, err := db.Begin(true)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	done := make(chan struct{})
	go func() {
		tx2, err := db.Begin(true)
		if err != nil {
			t.Errorf("second Begin: %v", err)
			close(done)
			return
		}
		tx2.Rollback()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("second writer began before the first released its lock")
	default:
	}

	if err := tx1.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	<-done
}
