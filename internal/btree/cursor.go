package btree

import (
	"github.com/oda/bptreestore/internal/node"
	"github.com/oda/bptreestore/internal/pager"
)

func copyValue(v []byte) []byte {
	out := make([]byte, node.ValueSize)
	copy(out, v)
	return out
}

// First returns the smallest key in the tree, or ok=false if it is empty.
func (t *Tree) First() (node.Key, []byte, bool, error) {
	return t.firstInSubtree(t.root)
}

func (t *Tree) firstInSubtree(idx pager.PageIdx) (node.Key, []byte, bool, error) {
	for {
		buf, err := t.p.PageByIdx(idx)
		if err != nil {
			return 0, nil, false, err
		}
		if node.GetNodeType(buf) == node.NodeTypeLeaf {
			leaf := node.NewLeaf(buf, t.layout)
			if leaf.CellsNum() == 0 {
				return 0, nil, false, nil
			}
			return leaf.KeyAt(0), copyValue(leaf.ValueAt(0)), true, nil
		}
		idx = pager.PageIdx(node.NewInternal(buf, t.layout).ChildAt(0))
	}
}

type ancestor struct {
	idx pager.PageIdx
	pos int
}

// Next returns the smallest key strictly greater than k, re-descending
// from the root on every call rather than holding a cursor open across
// calls. The descent remembers which child it followed at each internal
// node on a local stack; if k's own leaf has nothing past k, Next climbs
// that stack to the nearest ancestor with an unexplored right sibling
// and returns the smallest key under it.
func (t *Tree) Next(k node.Key) (node.Key, []byte, bool, error) {
	var stack []ancestor
	idx := t.root
	for {
		buf, err := t.p.PageByIdx(idx)
		if err != nil {
			return 0, nil, false, err
		}
		if node.GetNodeType(buf) == node.NodeTypeLeaf {
			leaf := node.NewLeaf(buf, t.layout)
			pos := leaf.KeyPos(k)
			if pos < leaf.CellsNum() {
				if leaf.KeyAt(pos) > k {
					return leaf.KeyAt(pos), copyValue(leaf.ValueAt(pos)), true, nil
				}
				if pos+1 < leaf.CellsNum() {
					return leaf.KeyAt(pos + 1), copyValue(leaf.ValueAt(pos + 1)), true, nil
				}
			}
			break
		}
		in := node.NewInternal(buf, t.layout)
		pos := in.ChildPos(k)
		stack = append(stack, ancestor{idx: idx, pos: pos})
		idx = pager.PageIdx(in.ChildAt(pos))
	}

	for i := len(stack) - 1; i >= 0; i-- {
		a := stack[i]
		buf, err := t.p.PageByIdx(a.idx)
		if err != nil {
			return 0, nil, false, err
		}
		in := node.NewInternal(buf, t.layout)
		if a.pos+1 < in.CellsNum() {
			return t.firstInSubtree(pager.PageIdx(in.ChildAt(a.pos + 1)))
		}
	}
	return 0, nil, false, nil
}
