package node

import (
	"encoding/binary"
	"errors"
	"sort"
)

// ErrDuplicateKey is returned by Leaf.Insert when the key already exists.
var ErrDuplicateKey = errors.New("node: duplicate key")

// ErrKeyNotFound is returned by Leaf.Delete when the key does not exist.
var ErrKeyNotFound = errors.New("node: key not found")

// Leaf is a view over a leaf page: a header followed by cells ordered by
// key, each holding {key, value}.
type Leaf struct {
	data   []byte
	layout Layout
}

// NewLeaf wraps an existing leaf page.
func NewLeaf(data []byte, layout Layout) *Leaf {
	return &Leaf{data: data, layout: layout}
}

// InitLeaf formats data as a fresh, empty leaf page.
func InitLeaf(data []byte, layout Layout) *Leaf {
	setNodeType(data, NodeTypeLeaf)
	setCellsNum(data, 0)
	return &Leaf{data: data, layout: layout}
}

// CellsNum returns the number of occupied cells.
func (l *Leaf) CellsNum() int {
	return int(GetCellsNum(l.data))
}

func (l *Leaf) setCellsNum(n int) {
	setCellsNum(l.data, uint32(n))
}

func (l *Leaf) cellOffset(i int) int {
	return HeaderSize + i*leafCellSize
}

// KeyAt returns the key of cell i.
func (l *Leaf) KeyAt(i int) Key {
	off := l.cellOffset(i)
	return binary.LittleEndian.Uint64(l.data[off : off+8])
}

func (l *Leaf) setKeyAt(i int, k Key) {
	off := l.cellOffset(i)
	binary.LittleEndian.PutUint64(l.data[off:off+8], k)
}

// ValueAt returns the raw value bytes of cell i. The slice aliases the
// page buffer; callers that need to retain it across mutation should copy.
func (l *Leaf) ValueAt(i int) []byte {
	off := l.cellOffset(i) + 8
	return l.data[off : off+ValueSize]
}

func (l *Leaf) setValueAt(i int, v []byte) {
	off := l.cellOffset(i) + 8
	copy(l.data[off:off+ValueSize], v)
}

// IsFull reports whether the leaf cannot accept another cell.
func (l *Leaf) IsFull() bool {
	return l.CellsNum() >= l.layout.CellsMaxLeaf
}

// IsUnderflow reports whether the leaf holds fewer than cells_min cells.
func (l *Leaf) IsUnderflow() bool {
	return l.CellsNum() < l.layout.CellsMinLeaf
}

// CanLend reports whether the leaf can give up a cell and stay at or
// above cells_min.
func (l *Leaf) CanLend() bool {
	return l.CellsNum() > l.layout.CellsMinLeaf
}

// KeyPos binary-searches for key, returning the insertion point in [0, n].
func (l *Leaf) KeyPos(k Key) int {
	n := l.CellsNum()
	return sort.Search(n, func(i int) bool { return l.KeyAt(i) >= k })
}

// Find returns (position, true) if key exists, otherwise
// (insertion point, false).
func (l *Leaf) Find(k Key) (int, bool) {
	idx := l.KeyPos(k)
	if idx < l.CellsNum() && l.KeyAt(idx) == k {
		return idx, true
	}
	return idx, false
}

// Get returns a copy of the value stored for key, if present.
func (l *Leaf) Get(k Key) ([]byte, bool) {
	idx, found := l.Find(k)
	if !found {
		return nil, false
	}
	v := make([]byte, ValueSize)
	copy(v, l.ValueAt(idx))
	return v, true
}

func (l *Leaf) shiftRight(from int) {
	for i := l.CellsNum(); i > from; i-- {
		l.setKeyAt(i, l.KeyAt(i-1))
		l.setValueAt(i, l.ValueAt(i-1))
	}
}

func (l *Leaf) insertAt(idx int, k Key, v []byte) {
	l.shiftRight(idx)
	l.setKeyAt(idx, k)
	l.setValueAt(idx, v)
	l.setCellsNum(l.CellsNum() + 1)
}

func (l *Leaf) deleteAt(idx int) {
	n := l.CellsNum()
	for i := idx; i < n-1; i++ {
		l.setKeyAt(i, l.KeyAt(i+1))
		l.setValueAt(i, l.ValueAt(i+1))
	}
	l.setCellsNum(n - 1)
}

// Insert adds {k, v}, failing with ErrDuplicateKey if k is already
// present. The caller must have already ensured the leaf is not full.
func (l *Leaf) Insert(k Key, v []byte) error {
	idx, found := l.Find(k)
	if found {
		return ErrDuplicateKey
	}
	l.insertAt(idx, k, v)
	return nil
}

// Delete removes k, failing with ErrKeyNotFound if absent.
func (l *Leaf) Delete(k Key) error {
	idx, found := l.Find(k)
	if !found {
		return ErrKeyNotFound
	}
	l.deleteAt(idx)
	return nil
}

// LastKey returns the key of the final cell.
func (l *Leaf) LastKey() Key {
	return l.KeyAt(l.CellsNum() - 1)
}

// SplitInto moves the upper half of l's cells into right, which must
// already be an empty, freshly initialized leaf. mid = cells_num / 2
// cells remain in l.
func (l *Leaf) SplitInto(right *Leaf) {
	n := l.CellsNum()
	mid := n / 2
	for i := mid; i < n; i++ {
		right.setKeyAt(i-mid, l.KeyAt(i))
		right.setValueAt(i-mid, l.ValueAt(i))
	}
	right.setCellsNum(n - mid)
	l.setCellsNum(mid)
}

// AppendCellFrom copies src's cell at srcIdx onto the end of l.
func (l *Leaf) AppendCellFrom(src *Leaf, srcIdx int) {
	n := l.CellsNum()
	l.setKeyAt(n, src.KeyAt(srcIdx))
	l.setValueAt(n, src.ValueAt(srcIdx))
	l.setCellsNum(n + 1)
}

// PrependCellFrom inserts src's cell at srcIdx at the front of l.
func (l *Leaf) PrependCellFrom(src *Leaf, srcIdx int) {
	l.insertAt(0, src.KeyAt(srcIdx), src.ValueAt(srcIdx))
}

// DeleteAt removes the cell at idx directly, used after a cell has been
// copied elsewhere by a transfer or merge.
func (l *Leaf) DeleteAt(idx int) {
	l.deleteAt(idx)
}

// MergeFrom appends all of right's cells onto the end of l.
func (l *Leaf) MergeFrom(right *Leaf) {
	n := l.CellsNum()
	rn := right.CellsNum()
	for i := 0; i < rn; i++ {
		l.setKeyAt(n+i, right.KeyAt(i))
		l.setValueAt(n+i, right.ValueAt(i))
	}
	l.setCellsNum(n + rn)
}

// PrependAllFrom shifts l's existing cells right by left's cell count
// and copies all of left's cells into the freed space at the front.
func (l *Leaf) PrependAllFrom(left *Leaf) {
	n := l.CellsNum()
	ln := left.CellsNum()
	for i := n - 1; i >= 0; i-- {
		l.setKeyAt(i+ln, l.KeyAt(i))
		l.setValueAt(i+ln, l.ValueAt(i))
	}
	for i := 0; i < ln; i++ {
		l.setKeyAt(i, left.KeyAt(i))
		l.setValueAt(i, left.ValueAt(i))
	}
	l.setCellsNum(n + ln)
}
