package node

import "testing"

func testLayout() Layout {
	return NewTestLayout(4096, 4, 4)
}

func TestOnDiskHeaderLayout(t *testing.T) {
	data := make([]byte, 4096)
	InitLeaf(data, testLayout())

	if data[0] != byte(NodeTypeLeaf) {
		t.Errorf("expected byte 0 to hold node_type %d, got %d", NodeTypeLeaf, data[0])
	}

	data2 := make([]byte, 4096)
	l := InitLeaf(data2, testLayout())
	if err := l.Insert(1, make([]byte, ValueSize)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if GetCellsNum(data2) != 1 {
		t.Errorf("expected cells_num at byte 4 to read back 1, got %d", GetCellsNum(data2))
	}
}

func TestNewLayoutRejectsTooSmallPage(t *testing.T) {
	if _, err := NewLayout(8); err == nil {
		t.Errorf("expected error for page size equal to header size")
	}
	if _, err := NewLayout(64); err == nil {
		t.Errorf("expected error for a page size yielding cells_max <= 3")
	}
}

func TestNewLayoutDerivesSaneDefaults(t *testing.T) {
	layout, err := NewLayout(4096)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if layout.CellsMaxLeaf <= 3 || layout.CellsMaxInternal <= 3 {
		t.Errorf("expected cells_max > 3 for both variants, got leaf=%d internal=%d",
			layout.CellsMaxLeaf, layout.CellsMaxInternal)
	}
	if layout.CellsMinLeaf <= 1 || layout.CellsMinInternal <= 1 {
		t.Errorf("expected cells_min > 1 for both variants, got leaf=%d internal=%d",
			layout.CellsMinLeaf, layout.CellsMinInternal)
	}
}

func TestLeafInsertFindGetDelete(t *testing.T) {
	data := make([]byte, 4096)
	l := InitLeaf(data, testLayout())

	v1 := make([]byte, ValueSize)
	copy(v1, "one")
	v2 := make([]byte, ValueSize)
	copy(v2, "two")

	if err := l.Insert(5, v1); err != nil {
		t.Fatalf("Insert(5): %v", err)
	}
	if err := l.Insert(2, v2); err != nil {
		t.Fatalf("Insert(2): %v", err)
	}
	if err := l.Insert(5, v1); err != ErrDuplicateKey {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	if l.KeyAt(0) != 2 || l.KeyAt(1) != 5 {
		t.Errorf("expected keys in sorted order [2,5], got [%d,%d]", l.KeyAt(0), l.KeyAt(1))
	}

	got, ok := l.Get(5)
	if !ok {
		t.Fatalf("expected key 5 to be found")
	}
	if string(got[:3]) != "one" {
		t.Errorf("expected value %q, got %q", "one", got[:3])
	}

	if err := l.Delete(2); err != nil {
		t.Fatalf("Delete(2): %v", err)
	}
	if err := l.Delete(2); err != ErrKeyNotFound {
		t.Errorf("expected ErrKeyNotFound on re-delete, got %v", err)
	}
	if l.CellsNum() != 1 {
		t.Errorf("expected 1 cell remaining, got %d", l.CellsNum())
	}
}

func TestLeafSplitInto(t *testing.T) {
	layout := testLayout()
	data := make([]byte, 4096)
	l := InitLeaf(data, layout)
	for k := Key(0); k < 4; k++ {
		v := make([]byte, ValueSize)
		if err := l.Insert(k, v); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	rightData := make([]byte, 4096)
	right := InitLeaf(rightData, layout)
	l.SplitInto(right)

	if l.CellsNum() != 2 || right.CellsNum() != 2 {
		t.Fatalf("expected an even 2/2 split of 4 cells, got left=%d right=%d", l.CellsNum(), right.CellsNum())
	}
	if l.LastKey() != 1 {
		t.Errorf("expected left half to end at key 1, got %d", l.LastKey())
	}
	if right.KeyAt(0) != 2 || right.LastKey() != 3 {
		t.Errorf("expected right half to hold keys [2,3], got [%d,%d]", right.KeyAt(0), right.LastKey())
	}
}

func TestLeafMergeFrom(t *testing.T) {
	layout := testLayout()
	leftData := make([]byte, 4096)
	left := InitLeaf(leftData, layout)
	left.Insert(1, make([]byte, ValueSize))
	left.Insert(2, make([]byte, ValueSize))

	rightData := make([]byte, 4096)
	right := InitLeaf(rightData, layout)
	right.Insert(3, make([]byte, ValueSize))
	right.Insert(4, make([]byte, ValueSize))

	left.MergeFrom(right)
	if left.CellsNum() != 4 {
		t.Fatalf("expected 4 cells after merge, got %d", left.CellsNum())
	}
	for i, want := range []Key{1, 2, 3, 4} {
		if left.KeyAt(i) != want {
			t.Errorf("cell %d: expected key %d, got %d", i, want, left.KeyAt(i))
		}
	}
}

func TestLeafTransfer(t *testing.T) {
	layout := testLayout()
	leftData := make([]byte, 4096)
	left := InitLeaf(leftData, layout)
	left.Insert(1, make([]byte, ValueSize))

	rightData := make([]byte, 4096)
	right := InitLeaf(rightData, layout)
	right.Insert(2, make([]byte, ValueSize))
	right.Insert(3, make([]byte, ValueSize))
	right.Insert(4, make([]byte, ValueSize))

	left.AppendCellFrom(right, 0)
	right.DeleteAt(0)

	if left.CellsNum() != 2 || left.LastKey() != 2 {
		t.Fatalf("expected left to gain key 2 via transfer, got cells=%d lastKey=%d", left.CellsNum(), left.LastKey())
	}
	if right.CellsNum() != 2 || right.KeyAt(0) != 3 {
		t.Fatalf("expected right to lose key 2, got cells=%d first=%d", right.CellsNum(), right.KeyAt(0))
	}
}

func TestInternalChildPosFollowsSentinel(t *testing.T) {
	layout := testLayout()
	data := make([]byte, 4096)
	n := InitInternal(data, layout, 0)
	n.InsertCellAt(0, 10, 1) // key<=10 -> child 1

	if got := n.GetChildForKey(5); got != 1 {
		t.Errorf("expected key 5 to route to child 1, got %d", got)
	}
	if got := n.GetChildForKey(10); got != 1 {
		t.Errorf("expected key 10 (the inclusive bound) to route to child 1, got %d", got)
	}
	if got := n.GetChildForKey(1000); got != 0 {
		t.Errorf("expected a large key to route to the sentinel's child 0, got %d", got)
	}
}

func TestInternalSplitInto(t *testing.T) {
	layout := testLayout()
	data := make([]byte, 4096)
	n := InitInternal(data, layout, 0)
	n.InsertCellAt(0, 10, 1)
	n.InsertCellAt(1, 20, 2)
	n.InsertCellAt(2, 30, 3)
	// cells: {10,1} {20,2} {30,3} {inf,0} = 4 cells

	rightData := make([]byte, 4096)
	right := InitInternal(rightData, layout, 0)
	n.SplitInto(right)

	if n.CellsNum() != 2 || right.CellsNum() != 2 {
		t.Fatalf("expected 2/2 split, got left=%d right=%d", n.CellsNum(), right.CellsNum())
	}
	if n.ChildAt(0) != 1 || n.ChildAt(1) != 2 {
		t.Errorf("expected left children [1,2], got [%d,%d]", n.ChildAt(0), n.ChildAt(1))
	}
	if right.ChildAt(0) != 3 || right.ChildAt(1) != 0 {
		t.Errorf("expected right children [3,0], got [%d,%d]", right.ChildAt(0), right.ChildAt(1))
	}
}

func TestLeafUnderflowAndCanLend(t *testing.T) {
	layout := testLayout() // cells_max=4, cells_min=2
	data := make([]byte, 4096)
	l := InitLeaf(data, layout)
	l.Insert(1, make([]byte, ValueSize))

	if !l.IsUnderflow() {
		t.Errorf("expected 1 cell to be underflow when cells_min=%d", layout.CellsMinLeaf)
	}
	if l.CanLend() {
		t.Errorf("expected a node below cells_min not to be able to lend")
	}

	l.Insert(2, make([]byte, ValueSize))
	l.Insert(3, make([]byte, ValueSize))
	if l.IsUnderflow() {
		t.Errorf("expected 3 cells not to be underflow")
	}
	if !l.CanLend() {
		t.Errorf("expected 3 cells (above cells_min=%d) to be able to lend", layout.CellsMinLeaf)
	}
}
