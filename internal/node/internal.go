package node

import (
	"encoding/binary"
	"sort"
)

// Internal is a view over an internal page: a header followed by cells
// ordered by key, each holding {child_idx, key}. A cell's key is the
// inclusive maximum key reachable through its child_idx. The last
// cell's key is a "+infinity" sentinel and is never compared against;
// its child_idx is the catch-all for any search key greater than the
// second-to-last cell's key.
type Internal struct {
	data   []byte
	layout Layout
}

// NewInternal wraps an existing internal page.
func NewInternal(data []byte, layout Layout) *Internal {
	return &Internal{data: data, layout: layout}
}

// InitInternal formats data as a fresh internal page holding a single
// sentinel cell: {child_idx: onlyChild}, with its never-compared key
// stored as 0.
func InitInternal(data []byte, layout Layout, onlyChild PageIdx) *Internal {
	setNodeType(data, NodeTypeInternal)
	setCellsNum(data, 0)
	n := &Internal{data: data, layout: layout}
	n.SetChildAt(0, onlyChild)
	n.SetKeyAt(0, 0)
	n.setCellsNum(1)
	return n
}

// InitEmptyInternal formats data as a fresh internal page with zero
// cells. Used as a split target, where SplitInto immediately populates
// it; callers must not treat a zero-cell node as valid on its own.
func InitEmptyInternal(data []byte, layout Layout) *Internal {
	setNodeType(data, NodeTypeInternal)
	setCellsNum(data, 0)
	return &Internal{data: data, layout: layout}
}

// PageIdx mirrors pager.PageIdx without importing the pager package,
// avoiding a dependency cycle (pager never needs to know about nodes).
type PageIdx = uint32

// CellsNum returns the number of occupied cells, including the trailing
// sentinel cell.
func (n *Internal) CellsNum() int {
	return int(GetCellsNum(n.data))
}

func (n *Internal) setCellsNum(c int) {
	setCellsNum(n.data, uint32(c))
}

func (n *Internal) cellOffset(i int) int {
	return HeaderSize + i*internalCellSize
}

// KeyAt returns the key of cell i. The key of the last cell is the
// +infinity sentinel and must not be compared against.
func (n *Internal) KeyAt(i int) Key {
	off := n.cellOffset(i)
	return binary.LittleEndian.Uint64(n.data[off : off+8])
}

// SetKeyAt overwrites the key of an existing cell. Used by the B-tree
// layer's borrow/merge operations to re-key a separator in place.
func (n *Internal) SetKeyAt(i int, k Key) {
	off := n.cellOffset(i)
	binary.LittleEndian.PutUint64(n.data[off:off+8], k)
}

// ChildAt returns the child page index of cell i.
func (n *Internal) ChildAt(i int) PageIdx {
	off := n.cellOffset(i) + 8
	return binary.LittleEndian.Uint32(n.data[off : off+4])
}

// SetChildAt overwrites the child pointer of a cell. Used by this
// package's own init, insert, delete, split and merge helpers.
func (n *Internal) SetChildAt(i int, c PageIdx) {
	off := n.cellOffset(i) + 8
	binary.LittleEndian.PutUint32(n.data[off:off+4], c)
}

// IsFull reports whether the node cannot accept another cell.
func (n *Internal) IsFull() bool {
	return n.CellsNum() >= n.layout.CellsMaxInternal
}

// IsUnderflow reports whether the node holds fewer than cells_min cells.
func (n *Internal) IsUnderflow() bool {
	return n.CellsNum() < n.layout.CellsMinInternal
}

// CanLend reports whether the node can give up a cell and stay at or
// above cells_min.
func (n *Internal) CanLend() bool {
	return n.CellsNum() > n.layout.CellsMinInternal
}

// ChildPos returns the index of the cell whose child_idx must be
// followed to find key k: the first cell, among all but the trailing
// sentinel, whose key is greater than or equal to k (a cell's key is
// the inclusive maximum key reachable through it), or the sentinel
// cell itself if none qualifies. The sentinel's own key is never read
// by this search, so whatever value it holds does not matter: a node's
// last cell acts as a catch-all purely by position.
func (n *Internal) ChildPos(k Key) int {
	last := n.CellsNum() - 1
	pos := sort.Search(last, func(i int) bool { return n.KeyAt(i) >= k })
	return pos
}

// GetChildForKey returns the child page to descend into to find k.
func (n *Internal) GetChildForKey(k Key) PageIdx {
	return n.ChildAt(n.ChildPos(k))
}

func (n *Internal) shiftRight(from int) {
	for i := n.CellsNum(); i > from; i-- {
		n.SetKeyAt(i, n.KeyAt(i-1))
		n.SetChildAt(i, n.ChildAt(i-1))
	}
}

// InsertCellAt inserts {childIdx, k} at idx, shifting later cells right.
// Used after a child split to install the promoted separator key and
// the new right sibling's page index.
func (n *Internal) InsertCellAt(idx int, k Key, childIdx PageIdx) {
	n.shiftRight(idx)
	n.SetKeyAt(idx, k)
	n.SetChildAt(idx, childIdx)
	n.setCellsNum(n.CellsNum() + 1)
}

// DeleteCellAt removes the cell at idx, shifting later cells left.
func (n *Internal) DeleteCellAt(idx int) {
	c := n.CellsNum()
	for i := idx; i < c-1; i++ {
		n.SetKeyAt(i, n.KeyAt(i+1))
		n.SetChildAt(i, n.ChildAt(i+1))
	}
	n.setCellsNum(c - 1)
}

// LastKey returns the sentinel key of the final cell.
func (n *Internal) LastKey() Key {
	return n.KeyAt(n.CellsNum() - 1)
}

// SplitInto moves the upper half of n's cells, sentinel included, into
// right, which must already be an empty, freshly initialized internal
// node. mid = cells_num / 2 cells remain in n, with n's own cell at
// mid-1 becoming its new sentinel. That cell keeps its old key, which
// the caller reads via LastKey as the separator to promote to the
// parent.
func (n *Internal) SplitInto(right *Internal) {
	c := n.CellsNum()
	mid := c / 2
	for i := mid; i < c; i++ {
		right.SetKeyAt(i-mid, n.KeyAt(i))
		right.SetChildAt(i-mid, n.ChildAt(i))
	}
	right.setCellsNum(c - mid)
	n.setCellsNum(mid)
}

// AppendCellFrom copies src's cell at srcIdx onto the end of n.
func (n *Internal) AppendCellFrom(src *Internal, srcIdx int) {
	c := n.CellsNum()
	n.SetKeyAt(c, src.KeyAt(srcIdx))
	n.SetChildAt(c, src.ChildAt(srcIdx))
	n.setCellsNum(c + 1)
}

// PrependCellFrom inserts src's cell at srcIdx at the front of n.
func (n *Internal) PrependCellFrom(src *Internal, srcIdx int) {
	n.shiftRight(0)
	n.SetKeyAt(0, src.KeyAt(srcIdx))
	n.SetChildAt(0, src.ChildAt(srcIdx))
	n.setCellsNum(n.CellsNum() + 1)
}

// MergeFrom appends all of right's cells onto the end of n.
func (n *Internal) MergeFrom(right *Internal) {
	c := n.CellsNum()
	rc := right.CellsNum()
	for i := 0; i < rc; i++ {
		n.SetKeyAt(c+i, right.KeyAt(i))
		n.SetChildAt(c+i, right.ChildAt(i))
	}
	n.setCellsNum(c + rc)
}

// PrependAllFrom shifts n's existing cells right by left's cell count
// and copies all of left's cells into the freed space at the front.
// n's own trailing sentinel stays in place as n's sentinel; left's
// cells, sentinel included, become real interior cells of n.
func (n *Internal) PrependAllFrom(left *Internal) {
	c := n.CellsNum()
	lc := left.CellsNum()
	for i := c - 1; i >= 0; i-- {
		n.SetKeyAt(i+lc, n.KeyAt(i))
		n.SetChildAt(i+lc, n.ChildAt(i))
	}
	for i := 0; i < lc; i++ {
		n.SetKeyAt(i, left.KeyAt(i))
		n.SetChildAt(i, left.ChildAt(i))
	}
	n.setCellsNum(c + lc)
}
