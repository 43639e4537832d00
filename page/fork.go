package page

import (
	"github.com/pkg/errors"

	"vmkern/frame"
	"vmkern/hw"
)

// Fork returns an independent copy of p for a child address space, as used
// by a process fork: content is copied immediately rather than shared
// copy-on-write, so the parent and child never alias the same frame or swap
// slot afterward.
func (p *Page) Fork(dstPml4 hw.PML4, mmu hw.MMU, pool *frame.Pool) (*Page, error) {
	switch p.Kind() {
	case KindUninit:
		aux := p.uninitAux
		if tmpl, ok := aux.(*FileTemplate); ok && tmpl != nil && tmpl.File != nil {
			reopened, err := tmpl.File.Reopen()
			if err != nil {
				return nil, errors.Wrap(err, "page: fork could not reopen mapped file")
			}
			child := *tmpl
			child.File = reopened
			aux = &child
		}
		np := NewUninit(p.Va, p.Writable, dstPml4, mmu, p.uninitTarget, p.anonStore, p.uninitInit, aux)
		np.Marker = p.Marker
		return np, nil

	case KindAnon:
		np := &Page{
			Va: p.Va, Writable: p.Writable, Marker: p.Marker,
			Pml4: dstPml4, mmu: mmu, ops: anonOps{},
			anonSlot: -1, anonStore: p.anonStore,
		}
		if p.Frame == nil {
			if err := np.copySwapSlot(p.anonSlot); err != nil {
				return nil, err
			}
			return np, nil
		}
		if err := np.copyResidentFrame(p, pool, mmu); err != nil {
			return nil, err
		}
		return np, nil

	case KindFile:
		reopened, err := p.fileFile.Reopen()
		if err != nil {
			return nil, errors.Wrap(err, "page: fork could not reopen mapped file")
		}
		np := &Page{
			Va: p.Va, Writable: p.Writable, Marker: p.Marker,
			Pml4: dstPml4, mmu: mmu, ops: fileOps{}, anonSlot: -1,
			fileFile: reopened, fileOffset: p.fileOffset,
			fileReadBytes: p.fileReadBytes, fileZeroBytes: p.fileZeroBytes,
			fileWritable: p.fileWritable,
		}
		if p.Frame != nil {
			if err := np.copyResidentFrame(p, pool, mmu); err != nil {
				reopened.Close()
				return nil, err
			}
		}
		return np, nil

	default:
		return nil, errors.Errorf("page: fork of unknown variant %v", p.Kind())
	}
}

// copyResidentFrame acquires a fresh frame for np, copies src's frame
// content into it, and installs the hardware mapping in np's address
// space. Claim keeps the copy and the mapping under the pool's own lock
// together with the owner link, the same discipline vm.Space uses when
// materializing a page.
func (np *Page) copyResidentFrame(src *Page, pool *frame.Pool, mmu hw.MMU) error {
	f, ok := pool.Claim(np, func(kva hw.KVAddr) bool {
		copy(kva.Bytes(), src.Frame.KVA.Bytes())
		return mmu.Map(np.Pml4, np.Va, kva, np.Writable)
	})
	if !ok {
		return errors.New("page: fork failed to install a hardware mapping")
	}
	np.Frame = f
	return nil
}

// copySwapSlot allocates a fresh slot for np and duplicates the content of
// the parent's slot into it, so parent and child never share a slot index.
func (np *Page) copySwapSlot(parentSlot int) error {
	idx, err := np.anonStore.Alloc(np.Va)
	if err != nil {
		return errors.Wrap(err, "page: fork could not allocate a swap slot")
	}
	var buf [hw.PageSize]byte
	if err := np.anonStore.Read(parentSlot, buf[:]); err != nil {
		np.anonStore.Free(idx)
		return errors.Wrap(err, "page: fork could not read the parent's swap slot")
	}
	if err := np.anonStore.Write(idx, buf[:]); err != nil {
		np.anonStore.Free(idx)
		return errors.Wrap(err, "page: fork could not populate the child's swap slot")
	}
	np.anonSlot = idx
	return nil
}
