package pager

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/oda/bptreestore/internal/mmap"
)

// ErrPageNotFound is returned for an out-of-range page index or when no
// free slot remains to satisfy NextEmptyPage.
var ErrPageNotFound = errors.New("pager: page not found")

// Pager owns the database file and turns a PageIdx into a mutable,
// page-sized buffer. Every buffer it hands out is backed by a plain heap
// allocation populated via page-granular mmap I/O (internal/mmap); the
// pager itself is not safe for concurrent writers and callers coordinate
// exclusive mutation externally (the transaction layer's writer lock).
type Pager struct {
	file     *os.File
	pageSize int
	readOnly bool

	mu        sync.Mutex
	slots     map[PageIdx]Page
	free      []PageIdx // in-memory-only free stack, see DESIGN.md
	highWater PageIdx   // first never-used page index
}

// Open opens an existing file or creates a new, empty one in read/write
// mode. On creation the file is left empty; the caller (meta manager) is
// responsible for initializing it.
func Open(path string, pageSize int, readOnly bool) (*Pager, error) {
	var file *os.File
	var err error
	if readOnly {
		file, err = os.OpenFile(path, os.O_RDONLY, 0644)
	} else {
		file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			file, err = os.OpenFile(path, os.O_RDWR, 0644)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("pager: open %s: %w", path, err)
	}

	return &Pager{
		file:     file,
		pageSize: pageSize,
		readOnly: readOnly,
		slots:    make(map[PageIdx]Page),
	}, nil
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int {
	return p.pageSize
}

// Seed sets the allocation high-water mark. The meta manager calls this
// once after reading an existing file's meta so that NextEmptyPage
// continues past the live tree instead of reusing in-use page indices.
func (p *Pager) Seed(highWater PageIdx) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if highWater > p.highWater {
		p.highWater = highWater
	}
}

// PageByIdx returns the buffer for page i, reading it from the file on
// first access and caching it for subsequent calls.
func (p *Pager) PageByIdx(i PageIdx) (Page, error) {
	if i >= MaxPages {
		return nil, fmt.Errorf("pager: page %d: %w", i, ErrPageNotFound)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if buf, ok := p.slots[i]; ok {
		return buf, nil
	}

	offset := int64(i) * int64(p.pageSize)
	buf, _, err := mmap.ReadPage(p.file, offset, p.pageSize)
	if err != nil {
		return nil, fmt.Errorf("pager: read page %d: %w", i, err)
	}

	p.slots[i] = buf
	if i >= p.highWater {
		p.highWater = i + 1
	}
	return buf, nil
}

// NextEmptyPage returns the first unoccupied slot: the smallest
// previously reclaimed index if one exists, otherwise a fresh index past
// the high-water mark. Fails with ErrPageNotFound once MaxPages is
// exhausted.
func (p *Pager) NextEmptyPage() (PageIdx, Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var idx PageIdx
	if n := len(p.free); n > 0 {
		min := 0
		for i := 1; i < n; i++ {
			if p.free[i] < p.free[min] {
				min = i
			}
		}
		idx = p.free[min]
		p.free = append(p.free[:min], p.free[min+1:]...)
	} else {
		if p.highWater >= MaxPages {
			return 0, nil, fmt.Errorf("pager: no free slot below MaxPages: %w", ErrPageNotFound)
		}
		idx = p.highWater
		p.highWater++
	}

	buf := make(Page, p.pageSize)
	p.slots[idx] = buf
	return idx, buf, nil
}

// FlushPage writes the buffer for i back to the file via a write-mapped
// region and issues a synchronous msync.
func (p *Pager) FlushPage(i PageIdx) error {
	p.mu.Lock()
	buf, ok := p.slots[i]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("pager: flush page %d: %w", i, ErrPageNotFound)
	}

	offset := int64(i) * int64(p.pageSize)
	if err := mmap.WritePage(p.file, offset, buf); err != nil {
		return fmt.Errorf("pager: flush page %d: %w", i, err)
	}
	return nil
}

// ReclaimPage zeroes the page, flushes it, and returns its slot to the
// free stack so a later NextEmptyPage call can reuse it within this open
// session.
func (p *Pager) ReclaimPage(i PageIdx) error {
	p.mu.Lock()
	buf, ok := p.slots[i]
	if !ok {
		buf = make(Page, p.pageSize)
		p.slots[i] = buf
	}
	for j := range buf {
		buf[j] = 0
	}
	p.mu.Unlock()

	if err := p.FlushPage(i); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.slots, i)
	p.free = append(p.free, i)
	p.mu.Unlock()
	return nil
}

// HighWater returns the first never-used page index. A transaction
// commit persists this into the meta record's max_page field so a
// later Load can Seed allocation past every page the tree may reference.
func (p *Pager) HighWater() PageIdx {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highWater
}

// FlushAll writes every page-sized buffer currently resident in memory
// back to the file. A commit calls this before writing the new meta
// record, so that by the time the meta becomes visible every page it
// can reach is already on disk.
func (p *Pager) FlushAll() error {
	p.mu.Lock()
	indices := make([]PageIdx, 0, len(p.slots))
	for i := range p.slots {
		indices = append(indices, i)
	}
	p.mu.Unlock()

	for _, i := range indices {
		if err := p.FlushPage(i); err != nil {
			return err
		}
	}
	return nil
}

// NumPages returns the number of page-sized slots the file currently
// occupies on disk.
func (p *Pager) NumPages() (uint32, error) {
	info, err := p.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("pager: stat: %w", err)
	}
	return uint32(info.Size() / int64(p.pageSize)), nil
}

// Close flushes every resident page, unless the pager is read-only, and
// closes the file.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.readOnly {
		for i := range p.slots {
			offset := int64(i) * int64(p.pageSize)
			if err := mmap.WritePage(p.file, offset, p.slots[i]); err != nil {
				return fmt.Errorf("pager: close: flush page %d: %w", i, err)
			}
		}
	}
	return p.file.Close()
}
