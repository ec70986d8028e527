// Package node interprets a page-sized byte buffer as a B-tree node: a
// small shared header followed by an aligned array of fixed-size cells.
// Every accessor here is an explicit encoding/binary read or write rather
// than an unsafe.Pointer struct overlay, per the engine's "safe
// reinterpretation" design choice (see DESIGN.md).
package node

import (
	"encoding/binary"
	"fmt"
)

// Header layout, identical for both node variants:
//
//	byte 0:   node_type
//	byte 1-3: padding
//	byte 4-7: cells_num (uint32, little-endian)
//
// Cells start at HeaderSize, which is already a multiple of 8 so both
// cell layouts below (8-byte keys, 4-byte child pointers padded to 8)
// stay aligned without further padding.
const HeaderSize = 8

// NodeType tags a page as one of the two node variants.
type NodeType uint8

const (
	NodeTypeLeaf     NodeType = 0
	NodeTypeInternal NodeType = 1
)

// ValueSize is the fixed size, in bytes, of the opaque record a leaf cell
// stores. The engine never interprets these bytes; a real row-tuple layer
// (out of scope, see spec.md §1) would own this constant instead. 32 was
// picked so a leaf cell (8-byte key + value) needs no trailing padding.
const ValueSize = 32

const (
	leafCellSize     = 8 + ValueSize // key + value
	internalCellSize = 16            // key(8) + child_idx(4) + padding(4)
)

// Key is the engine's one key domain: a 64-bit unsigned integer with
// natural order. The tree compares keys with the ordinary <, >= and ==
// operators on this one type; Compare gives the same order as a
// three-way result but the tree code does not call it.
type Key = uint64

// Ordering is the three-way result of Compare.
type Ordering int

const (
	LT Ordering = -1
	EQ Ordering = 0
	GT Ordering = 1
)

// Compare orders two keys.
func Compare(a, b Key) Ordering {
	switch {
	case a < b:
		return LT
	case a > b:
		return GT
	default:
		return EQ
	}
}

// Layout holds the capacity constants derived once from a page size (§3):
// cells_max(variant) = (page_size - header_size) / sizeof(cell_variant),
// cells_min(variant) = cells_max(variant) / 2.
type Layout struct {
	PageSize         int
	CellsMaxLeaf     int
	CellsMinLeaf     int
	CellsMaxInternal int
	CellsMinInternal int
}

// NewLayout derives a Layout from a page size, rejecting configurations
// where the rebalancing algorithm would not be well-defined (§3: both
// cells_max must exceed 3, both cells_min must exceed 1).
func NewLayout(pageSize int) (Layout, error) {
	if pageSize <= HeaderSize {
		return Layout{}, fmt.Errorf("node: page size %d too small for header %d", pageSize, HeaderSize)
	}
	usable := pageSize - HeaderSize
	maxLeaf := usable / leafCellSize
	maxInternal := usable / internalCellSize
	minLeaf := maxLeaf / 2
	minInternal := maxInternal / 2

	if maxLeaf <= 3 || maxInternal <= 3 || minLeaf <= 1 || minInternal <= 1 {
		return Layout{}, fmt.Errorf(
			"node: page size %d yields cells_max leaf=%d internal=%d, cells_min leaf=%d internal=%d: rebalancing is not well-defined",
			pageSize, maxLeaf, maxInternal, minLeaf, minInternal)
	}

	return Layout{
		PageSize:         pageSize,
		CellsMaxLeaf:     maxLeaf,
		CellsMinLeaf:     minLeaf,
		CellsMaxInternal: maxInternal,
		CellsMinInternal: minInternal,
	}, nil
}

// NewTestLayout builds a Layout from explicit cell capacities instead of
// deriving them from a page size, so split/merge boundaries (spec.md §8
// scenario 2: "a B-tree configured with cells_max = 4") can be exercised
// deterministically without hand-computing a page size that happens to
// produce them.
func NewTestLayout(pageSize, cellsMaxLeaf, cellsMaxInternal int) Layout {
	return Layout{
		PageSize:         pageSize,
		CellsMaxLeaf:     cellsMaxLeaf,
		CellsMinLeaf:     cellsMaxLeaf / 2,
		CellsMaxInternal: cellsMaxInternal,
		CellsMinInternal: cellsMaxInternal / 2,
	}
}

// GetNodeType reads the node type from a raw page.
func GetNodeType(data []byte) NodeType {
	return NodeType(data[0])
}

func setNodeType(data []byte, t NodeType) {
	data[0] = byte(t)
}

// GetCellsNum reads the occupied-cell count from a raw page.
func GetCellsNum(data []byte) uint32 {
	return binary.LittleEndian.Uint32(data[4:8])
}

func setCellsNum(data []byte, n uint32) {
	binary.LittleEndian.PutUint32(data[4:8], n)
}
