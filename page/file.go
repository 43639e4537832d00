package page

import (
	"io"

	"vmkern/hw"
)

// fileOps is the FILE variant: content is backed by a byte range of an
// open vfile.File rather than by a swap slot. The original left
// file_backed_swap_in/out/destroy unimplemented; this supplies their
// contracts directly from the do_mmap region recorded in the page.
//
// Each FILE page holds its own independently reopened file handle (rather
// than sharing one handle across every page of a mapping), so Destroy can
// close it unconditionally without coordinating with sibling pages.
type fileOps struct{}

func (fileOps) Kind() Kind { return KindFile }

func (fileOps) SwapIn(p *Page, kva hw.KVAddr) bool {
	buf := kva.Bytes()
	n, err := p.fileFile.ReadAt(buf[:p.fileReadBytes], p.fileOffset)
	if err != nil && err != io.EOF {
		return false
	}
	// A short read at EOF is not an error: the region beyond it is part
	// of the zero-fill tail by construction.
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return true
}

func (fileOps) SwapOut(p *Page) bool {
	if p.fileWritable && p.mmu.Dirty(p.Pml4, p.Va) {
		buf := p.Frame.KVA.Bytes()
		if _, err := p.fileFile.WriteAt(buf[:p.fileReadBytes], p.fileOffset); err != nil {
			return false
		}
		p.mmu.SetDirty(p.Pml4, p.Va, false)
	}
	p.mmu.Unmap(p.Pml4, p.Va)
	p.Frame = nil
	return true
}

func (fileOps) Destroy(p *Page) {
	if p.fileFile != nil {
		p.fileFile.Close()
		p.fileFile = nil
	}
}
