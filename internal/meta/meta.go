// Package meta manages the two redundant meta pages that anchor a
// database file: the root page, the allocation high-water mark, and a
// transaction id used to pick the newer valid meta on open.
package meta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/oda/bptreestore/internal/node"
	"github.com/oda/bptreestore/internal/pager"
)

// ErrNoValidMeta is returned by Load when neither meta page passes its
// checksum.
var ErrNoValidMeta = errors.New("meta: no valid meta page found")

// magic tags a page as holding a Meta record, distinguishing a freshly
// created file (all zero) from a corrupt one.
const magic uint32 = 0xB9DB0001

// layout within a meta page, all little-endian:
//
//	0:4   magic
//	4:8   page_size
//	8:12  root
//	12:16 freelist
//	16:20 max_page
//	20:28 tx_id
//	28:32 checksum (crc32 of bytes 0:28)
const encodedSize = 32
const checksummedSize = 28

// Meta anchors a database file: where the B-tree root lives, the head
// of the persisted freelist page, how large each page is, and the next
// never-used page index.
type Meta struct {
	PageSize uint32
	Root     pager.PageIdx
	Freelist pager.PageIdx
	MaxPage  pager.PageIdx
	TxID     uint64
}

func checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data[:checksummedSize])
}

// Encode writes m into a page-sized buffer, zeroing the rest of it.
func Encode(buf []byte, m Meta) {
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], m.PageSize)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(m.Root))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(m.Freelist))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(m.MaxPage))
	binary.LittleEndian.PutUint64(buf[20:28], m.TxID)
	binary.LittleEndian.PutUint32(buf[28:32], checksum(buf))
}

// Decode reads a Meta out of buf, validating its magic and checksum.
func Decode(buf []byte) (Meta, bool) {
	if len(buf) < encodedSize {
		return Meta{}, false
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != magic {
		return Meta{}, false
	}
	if binary.LittleEndian.Uint32(buf[28:32]) != checksum(buf) {
		return Meta{}, false
	}
	return Meta{
		PageSize: binary.LittleEndian.Uint32(buf[4:8]),
		Root:     pager.PageIdx(binary.LittleEndian.Uint32(buf[8:12])),
		Freelist: pager.PageIdx(binary.LittleEndian.Uint32(buf[12:16])),
		MaxPage:  pager.PageIdx(binary.LittleEndian.Uint32(buf[16:20])),
		TxID:     binary.LittleEndian.Uint64(buf[20:28]),
	}, true
}

// Manager owns reading and writing the two redundant meta pages. Every
// commit alternates which of the two slots it overwrites, so a crash
// mid-write leaves the other slot intact.
type Manager struct {
	p       *pager.Pager
	current Meta
	// currentSlot is the page index (pager.MetaPageIdx0 or
	// MetaPageIdx1) that holds the currently active meta; the next
	// Commit writes to the other slot.
	currentSlot pager.PageIdx
}

// Init formats a brand new file: both meta pages are written with
// tx_id 0 and 1 respectively, root pointing at a freshly initialized
// empty leaf at pager.FirstNodePageIdx, and max_page past it.
func Init(p *pager.Pager, pageSize int) (*Manager, error) {
	layout, err := node.NewLayout(pageSize)
	if err != nil {
		return nil, fmt.Errorf("meta: init: %w", err)
	}
	rootBuf, err := p.PageByIdx(pager.FirstNodePageIdx)
	if err != nil {
		return nil, fmt.Errorf("meta: init: root page: %w", err)
	}
	node.InitLeaf(rootBuf, layout)
	if err := p.FlushPage(pager.FirstNodePageIdx); err != nil {
		return nil, fmt.Errorf("meta: init: root page: %w", err)
	}

	m0 := Meta{
		PageSize: uint32(pageSize),
		Root:     pager.FirstNodePageIdx,
		Freelist: pager.FreelistPageIdx,
		MaxPage:  pager.FirstNodePageIdx + 1,
		TxID:     0,
	}
	if err := write(p, pager.MetaPageIdx0, m0); err != nil {
		return nil, err
	}
	m1 := m0
	m1.TxID = 1
	if err := write(p, pager.MetaPageIdx1, m1); err != nil {
		return nil, err
	}
	p.Seed(m1.MaxPage)
	return &Manager{p: p, current: m1, currentSlot: pager.MetaPageIdx1}, nil
}

// Load reads both meta pages and selects the newer one that passes its
// checksum, falling back to the other slot if the newer one is corrupt.
// It fails only if neither slot is valid.
func Load(p *pager.Pager) (*Manager, error) {
	buf0, err := p.PageByIdx(pager.MetaPageIdx0)
	if err != nil {
		return nil, fmt.Errorf("meta: load slot 0: %w", err)
	}
	buf1, err := p.PageByIdx(pager.MetaPageIdx1)
	if err != nil {
		return nil, fmt.Errorf("meta: load slot 1: %w", err)
	}

	m0, ok0 := Decode(buf0)
	m1, ok1 := Decode(buf1)

	var current Meta
	var slot pager.PageIdx
	switch {
	case ok0 && ok1:
		if m1.TxID > m0.TxID {
			current, slot = m1, pager.MetaPageIdx1
		} else {
			current, slot = m0, pager.MetaPageIdx0
		}
	case ok0:
		current, slot = m0, pager.MetaPageIdx0
	case ok1:
		current, slot = m1, pager.MetaPageIdx1
	default:
		return nil, ErrNoValidMeta
	}

	p.Seed(current.MaxPage)
	return &Manager{p: p, current: current, currentSlot: slot}, nil
}

func write(p *pager.Pager, slot pager.PageIdx, m Meta) error {
	buf, err := p.PageByIdx(slot)
	if err != nil {
		return fmt.Errorf("meta: read slot %d: %w", slot, err)
	}
	Encode(buf, m)
	if err := p.FlushPage(slot); err != nil {
		return fmt.Errorf("meta: flush slot %d: %w", slot, err)
	}
	return nil
}

// Current returns the active meta record.
func (mgr *Manager) Current() Meta {
	return mgr.current
}

// CurrentSlot returns the page index (MetaPageIdx0 or MetaPageIdx1) the
// active meta record lives in.
func (mgr *Manager) CurrentSlot() pager.PageIdx {
	return mgr.currentSlot
}

// Commit writes next to the slot not currently holding the active meta,
// with a tx_id one greater than the current one, and only then updates
// Current. A crash partway through a Commit leaves the previously
// active slot untouched and still selectable by Load.
func (mgr *Manager) Commit(next Meta) error {
	next.TxID = mgr.current.TxID + 1
	target := pager.MetaPageIdx1
	if mgr.currentSlot == pager.MetaPageIdx1 {
		target = pager.MetaPageIdx0
	}
	if err := write(mgr.p, target, next); err != nil {
		return err
	}
	mgr.current = next
	mgr.currentSlot = target
	return nil
}
