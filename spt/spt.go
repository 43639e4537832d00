// Package spt implements the supplemental page table (component D): the
// per-address-space index from virtual address to page record that the
// fault handler and fork both operate on.
package spt

import (
	"github.com/pkg/errors"

	"vmkern/chainhash"
	"vmkern/frame"
	"vmkern/hw"
	"vmkern/page"
)

// defaultBuckets is sized for a modest process footprint; large address
// spaces still work, just with longer chains.
const defaultBuckets = 256

// Table is one address space's supplemental page table.
type Table struct {
	pages *chainhash.Table[hw.VAddr, *page.Page]
}

// New returns an empty table.
func New() *Table {
	return &Table{pages: chainhash.New[hw.VAddr, *page.Page](defaultBuckets)}
}

// Find looks up the page covering va, which must already be page-aligned.
func (t *Table) Find(va hw.VAddr) (*page.Page, bool) {
	return t.pages.Get(va)
}

// Insert adds p, keyed by p.Va. It reports false if va is already mapped;
// per the hash table's Set contract this never silently overwrites an
// existing page.
func (t *Table) Insert(p *page.Page) bool {
	_, inserted := t.pages.Set(p.Va, p)
	return inserted
}

// Remove deletes the entry for va. It panics if va was not present, as
// callers always find before removing.
func (t *Table) Remove(va hw.VAddr) {
	t.pages.Del(va)
}

// Iterate visits every page until f returns false.
func (t *Table) Iterate(f func(*page.Page) bool) {
	t.pages.Iter(func(_ hw.VAddr, p *page.Page) bool {
		return !f(p)
	})
}

// Kill tears the table down, calling destroy on every page still present.
// destroy is supplied by the owning Space, which knows how to release a
// resident frame before calling page.Destroy (spec's teardown skips
// writing dirty file-backed pages back — see design notes).
func (t *Table) Kill(destroy func(*page.Page)) {
	t.pages.Clear(func(_ hw.VAddr, p *page.Page) {
		destroy(p)
	})
}

// Len reports the number of pages currently tracked.
func (t *Table) Len() int {
	return t.pages.Size()
}

// Copy deep-copies every page into dst, which must be empty, for a forked
// child address space. Resident pages get a freshly acquired frame with
// their content copied in immediately (copy-on-fork, not copy-on-write);
// non-resident pages are recreated in their current variant with
// independent backing storage (a fresh swap slot, a fresh reopened file
// handle). It stops at the first error, leaving dst partially populated —
// the caller is expected to then call Kill on the failed child.
func (t *Table) Copy(dst *Table, pool *frame.Pool, dstPml4 hw.PML4, mmu hw.MMU) error {
	var copyErr error
	t.Iterate(func(p *page.Page) bool {
		np, err := p.Fork(dstPml4, mmu, pool)
		if err != nil {
			copyErr = errors.Wrapf(err, "spt: fork of page %#x", p.Va)
			return false
		}
		if !dst.Insert(np) {
			copyErr = errors.Errorf("spt: fork produced a duplicate va %#x", np.Va)
			return false
		}
		return true
	})
	return copyErr
}
