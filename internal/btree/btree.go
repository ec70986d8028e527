// Package btree implements the proactive top-down split/merge B+-tree
// that sits on top of a page file: every insert splits a full node on
// the way down, and every delete rebalances an under-strength child
// before descending into it, so no operation ever needs to walk back up
// to fix an invariant violation.
package btree

import (
	"errors"
	"fmt"

	"github.com/oda/bptreestore/internal/node"
	"github.com/oda/bptreestore/internal/pager"
)

// ErrDuplicateKey is returned by Insert when the key already exists.
var ErrDuplicateKey = node.ErrDuplicateKey

// ErrKeyNotFound is returned by Delete or Get when the key is absent.
var ErrKeyNotFound = node.ErrKeyNotFound

// noSiblingMsg describes reaching none of rebalanceLeaf/rebalanceInternal's
// four cases: a parent with only one child was asked to rebalance it,
// which rebalanceChild's own haveRight/haveLeft computation can never
// produce against a correctly driven Tree. Panics rather than an error
// value, same class as the managed-transaction guards in tx.go.
const noSiblingMsg = "btree: child at pos %d has no sibling to rebalance with"

// PageStore is the page-level access Tree needs: read a page by index,
// allocate a fresh one, and free one back. *pager.Pager satisfies this
// directly, for a read-only Tree that reads straight through to the
// shared pager; a per-transaction copy-on-write overlay satisfies it
// too, so a writable Tree's mutations land in a private buffer set
// instead of the pages every open reader is also traversing.
type PageStore interface {
	PageByIdx(pager.PageIdx) (pager.Page, error)
	NextEmptyPage() (pager.PageIdx, pager.Page, error)
	ReclaimPage(pager.PageIdx) error
}

// Tree is a B+-tree of fixed-size pages backed by a PageStore. It does
// not manage its own durability: callers read and mutate store-resident
// page buffers through Tree, and are responsible for flushing them (and
// updating the owning meta record's root and max-page fields) as part
// of a larger commit.
type Tree struct {
	p      PageStore
	layout node.Layout
	root   pager.PageIdx
}

// New wraps an existing root page as a Tree. The caller is responsible
// for having initialized that page as a valid leaf or internal node
// (see meta.Init for a fresh database).
func New(p PageStore, layout node.Layout, root pager.PageIdx) *Tree {
	return &Tree{p: p, layout: layout, root: root}
}

// Root returns the tree's root page index. It never changes across the
// Tree's lifetime: height changes are implemented by rewriting the
// root page's own content in place, not by repointing to a new page.
func (t *Tree) Root() pager.PageIdx {
	return t.root
}

// Get returns a copy of the value stored for key, if present.
func (t *Tree) Get(k node.Key) ([]byte, error) {
	idx := t.root
	for {
		buf, err := t.p.PageByIdx(idx)
		if err != nil {
			return nil, err
		}
		if node.GetNodeType(buf) == node.NodeTypeLeaf {
			v, ok := node.NewLeaf(buf, t.layout).Get(k)
			if !ok {
				return nil, ErrKeyNotFound
			}
			return v, nil
		}
		in := node.NewInternal(buf, t.layout)
		idx = pager.PageIdx(in.GetChildForKey(k))
	}
}

// Exists reports whether key is present.
func (t *Tree) Exists(k node.Key) (bool, error) {
	_, err := t.Get(k)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Insert adds {k, v}, failing with ErrDuplicateKey if k is already
// present.
func (t *Tree) Insert(k node.Key, v []byte) error {
	rootBuf, err := t.p.PageByIdx(t.root)
	if err != nil {
		return err
	}
	if isFull(rootBuf, t.layout) {
		if err := t.splitRoot(); err != nil {
			return err
		}
	}
	return t.insertNonFull(t.root, k, v)
}

func isFull(buf []byte, layout node.Layout) bool {
	if node.GetNodeType(buf) == node.NodeTypeLeaf {
		return node.NewLeaf(buf, layout).IsFull()
	}
	return node.NewInternal(buf, layout).IsFull()
}

func atMinimum(buf []byte, layout node.Layout) bool {
	if node.GetNodeType(buf) == node.NodeTypeLeaf {
		return node.NewLeaf(buf, layout).CellsNum() <= layout.CellsMinLeaf
	}
	return node.NewInternal(buf, layout).CellsNum() <= layout.CellsMinInternal
}

// splitRoot grows the tree by one level: the root's content moves to a
// freshly allocated left page, a freshly allocated right page takes the
// upper half, and the root page is reformatted in place as a new
// internal node with those two pages as children. The root's page
// index never changes.
func (t *Tree) splitRoot() error {
	oldRootBuf, err := t.p.PageByIdx(t.root)
	if err != nil {
		return err
	}
	rootType := node.GetNodeType(oldRootBuf)

	leftIdx, leftBuf, err := t.p.NextEmptyPage()
	if err != nil {
		return fmt.Errorf("btree: split root: %w", err)
	}
	copy(leftBuf, oldRootBuf)

	rightIdx, rightBuf, err := t.p.NextEmptyPage()
	if err != nil {
		return fmt.Errorf("btree: split root: %w", err)
	}

	var leftLastKey node.Key
	if rootType == node.NodeTypeLeaf {
		left := node.NewLeaf(leftBuf, t.layout)
		right := node.InitLeaf(rightBuf, t.layout)
		left.SplitInto(right)
		leftLastKey = left.LastKey()
	} else {
		left := node.NewInternal(leftBuf, t.layout)
		right := node.InitEmptyInternal(rightBuf, t.layout)
		left.SplitInto(right)
		leftLastKey = left.LastKey()
	}

	// The new root's single cell needs no key of its own: it is the
	// trailing sentinel, a catch-all reached by position, not by value.
	root := node.InitInternal(oldRootBuf, t.layout, uint32(rightIdx))
	root.InsertCellAt(0, leftLastKey, uint32(leftIdx))
	return nil
}

func (t *Tree) insertNonFull(idx pager.PageIdx, k node.Key, v []byte) error {
	buf, err := t.p.PageByIdx(idx)
	if err != nil {
		return err
	}
	if node.GetNodeType(buf) == node.NodeTypeLeaf {
		return node.NewLeaf(buf, t.layout).Insert(k, v)
	}

	in := node.NewInternal(buf, t.layout)
	pos := in.ChildPos(k)
	childBuf, err := t.p.PageByIdx(pager.PageIdx(in.ChildAt(pos)))
	if err != nil {
		return err
	}

	if isFull(childBuf, t.layout) {
		if err := t.splitChild(idx, pos); err != nil {
			return err
		}
		// The split may have shifted which cell k belongs under.
		buf, err = t.p.PageByIdx(idx)
		if err != nil {
			return err
		}
		in = node.NewInternal(buf, t.layout)
		pos = in.ChildPos(k)
	}

	return t.insertNonFull(pager.PageIdx(in.ChildAt(pos)), k, v)
}

// splitChild splits the child at position pos of the internal node at
// parentIdx, in place, installing the promoted separator and the new
// right sibling's page index into the parent.
func (t *Tree) splitChild(parentIdx pager.PageIdx, pos int) error {
	parentBuf, err := t.p.PageByIdx(parentIdx)
	if err != nil {
		return err
	}
	parent := node.NewInternal(parentBuf, t.layout)
	childIdx := pager.PageIdx(parent.ChildAt(pos))
	origKey := parent.KeyAt(pos)

	childBuf, err := t.p.PageByIdx(childIdx)
	if err != nil {
		return err
	}
	childType := node.GetNodeType(childBuf)

	rightIdx, rightBuf, err := t.p.NextEmptyPage()
	if err != nil {
		return fmt.Errorf("btree: split child: %w", err)
	}

	var leftLastKey node.Key
	if childType == node.NodeTypeLeaf {
		left := node.NewLeaf(childBuf, t.layout)
		right := node.InitLeaf(rightBuf, t.layout)
		left.SplitInto(right)
		leftLastKey = left.LastKey()
	} else {
		left := node.NewInternal(childBuf, t.layout)
		right := node.InitEmptyInternal(rightBuf, t.layout)
		left.SplitInto(right)
		leftLastKey = left.LastKey()
	}

	// origKey, the undivided child's old bound, is exactly the right
	// half's new bound too: every key it covered stays <= origKey.
	parent.SetKeyAt(pos, leftLastKey)
	parent.InsertCellAt(pos+1, origKey, uint32(rightIdx))
	return nil
}

// Delete removes k, failing with ErrKeyNotFound if absent. The root is
// shrunk back to a child's content (reducing the tree's height) when it
// becomes a single-cell internal node pointing at the sole remaining
// child.
func (t *Tree) Delete(k node.Key) error {
	rootBuf, err := t.p.PageByIdx(t.root)
	if err != nil {
		return err
	}
	if node.GetNodeType(rootBuf) == node.NodeTypeLeaf {
		return node.NewLeaf(rootBuf, t.layout).Delete(k)
	}

	if err := t.deleteBelow(t.root, k); err != nil {
		return err
	}
	return t.shrinkRootIfNeeded()
}

func (t *Tree) shrinkRootIfNeeded() error {
	rootBuf, err := t.p.PageByIdx(t.root)
	if err != nil {
		return err
	}
	if node.GetNodeType(rootBuf) != node.NodeTypeInternal {
		return nil
	}
	root := node.NewInternal(rootBuf, t.layout)
	if root.CellsNum() != 1 {
		return nil
	}

	onlyChildIdx := pager.PageIdx(root.ChildAt(0))
	onlyChildBuf, err := t.p.PageByIdx(onlyChildIdx)
	if err != nil {
		return err
	}
	copy(rootBuf, onlyChildBuf)
	return t.p.ReclaimPage(onlyChildIdx)
}

// deleteBelow descends from idx (always an internal node) to find k,
// first rebalancing whichever child it is about to enter if that child
// is at or below cells_min, so the deletion the child performs (or
// passes down further) never leaves it underflowing.
func (t *Tree) deleteBelow(idx pager.PageIdx, k node.Key) error {
	buf, err := t.p.PageByIdx(idx)
	if err != nil {
		return err
	}
	in := node.NewInternal(buf, t.layout)
	pos := in.ChildPos(k)
	childIdx := pager.PageIdx(in.ChildAt(pos))

	childBuf, err := t.p.PageByIdx(childIdx)
	if err != nil {
		return err
	}
	if atMinimum(childBuf, t.layout) {
		if err := t.rebalanceChild(idx, pos); err != nil {
			return err
		}
		buf, err = t.p.PageByIdx(idx)
		if err != nil {
			return err
		}
		in = node.NewInternal(buf, t.layout)
		pos = in.ChildPos(k)
		childIdx = pager.PageIdx(in.ChildAt(pos))
		childBuf, err = t.p.PageByIdx(childIdx)
		if err != nil {
			return err
		}
	}

	if node.GetNodeType(childBuf) == node.NodeTypeLeaf {
		return node.NewLeaf(childBuf, t.layout).Delete(k)
	}
	return t.deleteBelow(childIdx, k)
}

// rebalanceChild ensures the child at position pos of the internal node
// at parentIdx has more than cells_min cells, by borrowing a cell from
// a sibling that can spare one, or merging with a sibling when neither
// can.
func (t *Tree) rebalanceChild(parentIdx pager.PageIdx, pos int) error {
	parentBuf, err := t.p.PageByIdx(parentIdx)
	if err != nil {
		return err
	}
	parent := node.NewInternal(parentBuf, t.layout)
	n := parent.CellsNum()
	childIdx := pager.PageIdx(parent.ChildAt(pos))
	childBuf, err := t.p.PageByIdx(childIdx)
	if err != nil {
		return err
	}

	var rightIdx, leftIdx pager.PageIdx
	haveRight := pos+1 < n
	haveLeft := pos > 0
	if haveRight {
		rightIdx = pager.PageIdx(parent.ChildAt(pos + 1))
	}
	if haveLeft {
		leftIdx = pager.PageIdx(parent.ChildAt(pos - 1))
	}

	if node.GetNodeType(childBuf) == node.NodeTypeLeaf {
		return t.rebalanceLeaf(parent, pos, childIdx, childBuf, haveRight, rightIdx, haveLeft, leftIdx)
	}
	return t.rebalanceInternal(parent, pos, childIdx, childBuf, haveRight, rightIdx, haveLeft, leftIdx)
}

func (t *Tree) rebalanceLeaf(parent *node.Internal, pos int, childIdx pager.PageIdx, childBuf []byte, haveRight bool, rightIdx pager.PageIdx, haveLeft bool, leftIdx pager.PageIdx) error {
	child := node.NewLeaf(childBuf, t.layout)

	if haveRight {
		rightBuf, err := t.p.PageByIdx(rightIdx)
		if err != nil {
			return err
		}
		right := node.NewLeaf(rightBuf, t.layout)
		if right.CanLend() {
			child.AppendCellFrom(right, 0)
			right.DeleteAt(0)
			parent.SetKeyAt(pos, child.LastKey())
			return nil
		}
	}
	if haveLeft {
		leftBuf, err := t.p.PageByIdx(leftIdx)
		if err != nil {
			return err
		}
		left := node.NewLeaf(leftBuf, t.layout)
		if left.CanLend() {
			lastIdx := left.CellsNum() - 1
			child.PrependCellFrom(left, lastIdx)
			left.DeleteAt(lastIdx)
			parent.SetKeyAt(pos-1, left.LastKey())
			return nil
		}
	}
	if haveRight {
		rightBuf, err := t.p.PageByIdx(rightIdx)
		if err != nil {
			return err
		}
		right := node.NewLeaf(rightBuf, t.layout)
		oldRightBound := parent.KeyAt(pos + 1)
		child.MergeFrom(right)
		parent.SetKeyAt(pos, oldRightBound)
		parent.DeleteCellAt(pos + 1)
		return t.p.ReclaimPage(rightIdx)
	}
	if haveLeft {
		leftBuf, err := t.p.PageByIdx(leftIdx)
		if err != nil {
			return err
		}
		left := node.NewLeaf(leftBuf, t.layout)
		child.PrependAllFrom(left)
		parent.DeleteCellAt(pos - 1)
		return t.p.ReclaimPage(leftIdx)
	}
	panic(fmt.Errorf(noSiblingMsg, pos))
}

// rebalanceInternal mirrors rebalanceLeaf for internal children. The
// parent separator at pos (or pos-1) doubles as the key bounding the
// child's own structural catch-all cell, which must be promoted to a
// real, comparable key before a cell is spliced in next to it; see
// node.Internal.ChildPos for why the catch-all's stored key is
// otherwise never read.
func (t *Tree) rebalanceInternal(parent *node.Internal, pos int, childIdx pager.PageIdx, childBuf []byte, haveRight bool, rightIdx pager.PageIdx, haveLeft bool, leftIdx pager.PageIdx) error {
	child := node.NewInternal(childBuf, t.layout)

	if haveRight {
		rightBuf, err := t.p.PageByIdx(rightIdx)
		if err != nil {
			return err
		}
		right := node.NewInternal(rightBuf, t.layout)
		if right.CanLend() {
			p := parent.KeyAt(pos)
			childCells := child.CellsNum()
			child.SetKeyAt(childCells-1, p)
			rc0Key := right.KeyAt(0)
			rc0Child := right.ChildAt(0)
			child.InsertCellAt(childCells, 0, rc0Child)
			right.DeleteCellAt(0)
			parent.SetKeyAt(pos, rc0Key)
			return nil
		}
	}
	if haveLeft {
		leftBuf, err := t.p.PageByIdx(leftIdx)
		if err != nil {
			return err
		}
		left := node.NewInternal(leftBuf, t.layout)
		if left.CanLend() {
			leftCells := left.CellsNum()
			lastChild := left.ChildAt(leftCells - 1)
			newLeftLastKey := left.KeyAt(leftCells - 2)
			left.DeleteCellAt(leftCells - 1)
			p := parent.KeyAt(pos - 1)
			child.InsertCellAt(0, p, lastChild)
			parent.SetKeyAt(pos-1, newLeftLastKey)
			return nil
		}
	}
	if haveRight {
		rightBuf, err := t.p.PageByIdx(rightIdx)
		if err != nil {
			return err
		}
		right := node.NewInternal(rightBuf, t.layout)
		oldRightBound := parent.KeyAt(pos + 1)
		p := parent.KeyAt(pos)
		childCells := child.CellsNum()
		child.SetKeyAt(childCells-1, p)
		child.MergeFrom(right)
		parent.SetKeyAt(pos, oldRightBound)
		parent.DeleteCellAt(pos + 1)
		return t.p.ReclaimPage(rightIdx)
	}
	if haveLeft {
		leftBuf, err := t.p.PageByIdx(leftIdx)
		if err != nil {
			return err
		}
		left := node.NewInternal(leftBuf, t.layout)
		p := parent.KeyAt(pos - 1)
		leftCells := left.CellsNum()
		left.SetKeyAt(leftCells-1, p)
		child.PrependAllFrom(left)
		parent.DeleteCellAt(pos - 1)
		return t.p.ReclaimPage(leftIdx)
	}
	panic(fmt.Errorf(noSiblingMsg, pos))
}
