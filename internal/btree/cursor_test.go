package btree

import (
	"testing"

	"github.com/oda/bptreestore/internal/node"
)

func TestFirstOnEmptyTree(t *testing.T) {
	tree, _ := newTestTree(t, 4)
	if _, _, ok, err := tree.First(); err != nil || ok {
		t.Fatalf("expected First on empty tree to report ok=false, got ok=%v err=%v", ok, err)
	}
}

func TestIterationYieldsKeysInOrder(t *testing.T) {
	tree, _ := newTestTree(t, 4)
	inserted := []node.Key{7, 2, 9, 0, 5, 3, 8, 1, 6, 4}
	for _, k := range inserted {
		if err := tree.Insert(k, valueFor(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	var got []node.Key
	k, v, ok, err := tree.First()
	for ok {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := valueFor(k); string(v) != string(want) {
			t.Errorf("key %d: expected value %q, got %q", k, want, v)
		}
		got = append(got, k)
		k, v, ok, err = tree.Next(k)
	}
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != len(inserted) {
		t.Fatalf("expected %d keys, got %d: %v", len(inserted), len(got), got)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Errorf("iteration out of order at %d: %d then %d", i, got[i-1], got[i])
		}
	}
}

func TestIterationAfterDeletesSkipsRemovedKeys(t *testing.T) {
	tree, _ := newTestTree(t, 4)
	for k := node.Key(0); k < 20; k++ {
		if err := tree.Insert(k, valueFor(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	for k := node.Key(0); k < 20; k += 3 {
		if err := tree.Delete(k); err != nil {
			t.Fatalf("Delete(%d): %v", k, err)
		}
	}

	want := make(map[node.Key]bool)
	for k := node.Key(0); k < 20; k++ {
		if k%3 != 0 {
			want[k] = true
		}
	}

	var got []node.Key
	k, _, ok, err := tree.First()
	for ok {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, k)
		k, _, ok, err = tree.Next(k)
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d surviving keys, got %d: %v", len(want), len(got), got)
	}
	for i, k := range got {
		if !want[k] {
			t.Errorf("key %d should have been deleted but was yielded", k)
		}
		if i > 0 && got[i] <= got[i-1] {
			t.Errorf("iteration out of order at %d: %d then %d", i, got[i-1], got[i])
		}
	}
}

func TestNextOnAbsentKeyFindsSuccessor(t *testing.T) {
	tree, _ := newTestTree(t, 4)
	for _, k := range []node.Key{10, 20, 30, 40} {
		if err := tree.Insert(k, valueFor(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	k, _, ok, err := tree.Next(15)
	if err != nil || !ok || k != 20 {
		t.Fatalf("Next(15): expected (20, true), got (%d, %v), err=%v", k, ok, err)
	}

	if _, _, ok, err := tree.Next(40); err != nil || ok {
		t.Fatalf("Next(40): expected no successor, got ok=%v err=%v", ok, err)
	}
}
