package page

import "vmkern/hw"

// anonOps is the ANON variant. Content lives either in the page's resident
// frame or, while swapped out, in exactly one swap.Store slot; anonSlot < 0
// means "resident, or never yet swapped out" and content defaults to zero.
//
// This fixes the original anon_swap_in's bug of returning after checking
// only the first slot table entry regardless of whether it matched: here
// Alloc/Free/Read/Write are all addressed by the slot index recorded on the
// page itself, so there is no scan to get wrong.
type anonOps struct{}

func (anonOps) Kind() Kind { return KindAnon }

func (anonOps) SwapIn(p *Page, kva hw.KVAddr) bool {
	if p.anonSlot < 0 {
		zero(kva)
		return true
	}
	if err := p.anonStore.Read(p.anonSlot, kva.Bytes()); err != nil {
		return false
	}
	p.anonStore.Free(p.anonSlot)
	p.anonSlot = -1
	return true
}

func (anonOps) SwapOut(p *Page) bool {
	idx, err := p.anonStore.Alloc(p.Va)
	if err != nil {
		// The swap disk is the last fallback once physical memory is
		// exhausted; if it too is full there is nowhere left to put
		// this page's content. Fatal, per spec.
		panic("page: " + err.Error())
	}
	if err := p.anonStore.Write(idx, p.Frame.KVA.Bytes()); err != nil {
		p.anonStore.Free(idx)
		return false
	}
	p.anonSlot = idx
	p.mmu.Unmap(p.Pml4, p.Va)
	p.Frame = nil
	return true
}

func (anonOps) Destroy(p *Page) {
	if p.anonSlot >= 0 {
		p.anonStore.Free(p.anonSlot)
		p.anonSlot = -1
	}
}

func zero(kva hw.KVAddr) {
	buf := kva.Bytes()
	for i := range buf {
		buf[i] = 0
	}
}
