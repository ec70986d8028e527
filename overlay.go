package bptreestore

import "github.com/oda/bptreestore/internal/pager"

// txOverlay gives a single writable transaction a private, copy-on-write
// view of the shared pager. A Tree built on a txOverlay never mutates a
// page the pager hands to anyone else: the first time the transaction
// touches a page, the overlay copies it out and every further read or
// write for that index is served from the copy. Committing copies the
// overlay's pages back into the pager and reclaims whatever the
// transaction deleted for real; dropping the overlay (rollback, or a
// failed Update) leaves the pager exactly as it was, module the page
// indices the transaction allocated, which are reclaimed so they don't
// leak a slot.
type txOverlay struct {
	p         *pager.Pager
	dirty     map[pager.PageIdx]pager.Page
	allocated map[pager.PageIdx]bool
	reclaimed map[pager.PageIdx]bool
}

func newTxOverlay(p *pager.Pager) *txOverlay {
	return &txOverlay{
		p:         p,
		dirty:     make(map[pager.PageIdx]pager.Page),
		allocated: make(map[pager.PageIdx]bool),
		reclaimed: make(map[pager.PageIdx]bool),
	}
}

// PageByIdx returns this transaction's private copy of page i, copying
// it out of the shared pager the first time the transaction touches it.
func (o *txOverlay) PageByIdx(i pager.PageIdx) (pager.Page, error) {
	if buf, ok := o.dirty[i]; ok {
		return buf, nil
	}
	src, err := o.p.PageByIdx(i)
	if err != nil {
		return nil, err
	}
	buf := make(pager.Page, len(src))
	copy(buf, src)
	o.dirty[i] = buf
	return buf, nil
}

// NextEmptyPage allocates a fresh index from the shared pager and keeps
// its buffer private to this transaction. The allocation's bookkeeping
// (which index, the high-water mark) is not itself undone on rollback;
// discard reclaims the index instead, so the slot isn't left dangling.
func (o *txOverlay) NextEmptyPage() (pager.PageIdx, pager.Page, error) {
	idx, buf, err := o.p.NextEmptyPage()
	if err != nil {
		return 0, nil, err
	}
	o.dirty[idx] = buf
	o.allocated[idx] = true
	return idx, buf, nil
}

// ReclaimPage records i as freed without touching the shared pager, so
// a rollback leaves it exactly as it was.
func (o *txOverlay) ReclaimPage(i pager.PageIdx) error {
	o.reclaimed[i] = true
	delete(o.dirty, i)
	return nil
}

// commit copies every dirty page into the shared pager and reclaims
// every page this transaction deleted for real.
func (o *txOverlay) commit() error {
	for idx, buf := range o.dirty {
		dst, err := o.p.PageByIdx(idx)
		if err != nil {
			return err
		}
		copy(dst, buf)
	}
	for idx := range o.reclaimed {
		if err := o.p.ReclaimPage(idx); err != nil {
			return err
		}
	}
	return nil
}

// discard reclaims every page this transaction allocated but never
// committed, so a rolled-back write never leaks a page slot. Pages it
// only copied for isolation, or recorded as reclaimed, were never
// touched in the shared pager and need nothing undone.
func (o *txOverlay) discard() error {
	for idx := range o.allocated {
		if err := o.p.ReclaimPage(idx); err != nil {
			return err
		}
	}
	return nil
}
