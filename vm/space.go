package vm

import (
	"context"
	"sync"

	"vmkern/hw"
	"vmkern/page"
	"vmkern/spt"
	"vmkern/swap"
)

// Space is one process's address space: its page table root and its
// supplemental page table. mu is the "vmLock" in the package doc's lock
// ordering — it guards spt and mmaps, and is always acquired before any
// call into swap.Store or frame.Pool (both of
// which take their own, strictly inner, locks). Materializing or releasing
// a frame always goes through frame.Pool.Claim/Unlink rather than
// Acquire/Release plus a bare SetOwner, so the frame<->page link is made
// under the pool's own lock and not just s.mu — the pool is shared by
// every Space in a Kernel, so s.mu alone cannot protect it.
type Space struct {
	k    *Kernel
	pml4 hw.PML4
	mu   sync.Mutex

	spt *spt.Table

	stackFloor hw.VAddr
	stackTop   hw.VAddr
	mmaps      []*mmapping
}

// NewSpace returns an empty address space rooted at pml4, whose creation
// and destruction are the caller's responsibility (this module never
// manipulates hardware page-table roots directly). stackTop is the
// highest address the initial stack page occupies; growth is permitted
// down to stackTop - Config.MaxStackBytes, and never above stackTop
// itself.
func (k *Kernel) NewSpace(pml4 hw.PML4, stackTop hw.VAddr) *Space {
	return &Space{
		k:          k,
		pml4:       pml4,
		spt:        spt.New(),
		stackFloor: stackTop - hw.VAddr(k.maxStackBytes),
		stackTop:   stackTop,
	}
}

// AllocPageWithInitializer registers a lazily-materialized page at va: the
// page record is created in the UNINIT variant and only becomes kind on
// first touch, at which point init (if non-nil) runs after kind's default
// content has been installed. It reports false if va is already mapped.
func (s *Space) AllocPageWithInitializer(kind page.Kind, va hw.VAddr, writable bool, init page.Initializer, aux any) bool {
	va = hw.PageRounddown(va)
	s.mu.Lock()
	defer s.mu.Unlock()

	p := page.NewUninit(va, writable, s.pml4, s.k.mmu, kind, s.anonStoreFor(kind), init, aux)
	return s.spt.Insert(p)
}

// anonStoreFor returns the swap store to embed in a page destined to become
// kind; only ANON pages need one.
func (s *Space) anonStoreFor(kind page.Kind) *swap.Store {
	if kind != page.KindAnon {
		return nil
	}
	return s.k.swap
}

// ClaimPage materializes va: it finds the page record, acquires a frame,
// lets the page populate it, and installs the hardware mapping. It reports
// false if va is unmapped, materialization failed, or ctx was canceled
// before the attempt could start — swap and file reads triggered here can
// block, so callers on a deadline pass that deadline down via ctx.
func (s *Space) ClaimPage(ctx context.Context, va hw.VAddr) bool {
	if ctx.Err() != nil {
		return false
	}
	va = hw.PageRounddown(va)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimLocked(va)
}

func (s *Space) claimLocked(va hw.VAddr) bool {
	p, ok := s.spt.Find(va)
	if !ok {
		return false
	}
	return s.materializeLocked(p)
}

// materializeLocked acquires a frame for p (which must not already have
// one), lets p populate it, and installs the hardware mapping. The frame
// is acquired and linked to p via a single frame.Pool.Claim call, so the
// pool's own lock — not just s.mu — covers the whole acquire-populate-link
// sequence; see Claim's doc comment for the race that closes.
func (s *Space) materializeLocked(p *page.Page) bool {
	if p.Frame != nil {
		return true
	}
	f, ok := s.k.pool.Claim(p, func(kva hw.KVAddr) bool {
		if !p.SwapIn(kva) {
			return false
		}
		return s.k.mmu.Map(s.pml4, p.Va, kva, p.Writable)
	})
	if !ok {
		return false
	}
	p.Frame = f
	return true
}

// ResidentPages returns the virtual addresses of every page in s that
// currently has a frame materialized, for the diag package's residency
// snapshot (diag has no SPT dependency of its own, so its caller supplies
// the address list).
func (s *Space) ResidentPages() []hw.VAddr {
	s.mu.Lock()
	defer s.mu.Unlock()

	var vas []hw.VAddr
	s.spt.Iterate(func(p *page.Page) bool {
		if p.Frame != nil {
			vas = append(vas, p.Va)
		}
		return true
	})
	return vas
}

// Copy deep-copies s into dst, which must be freshly constructed and not
// yet visible to any other goroutine (Copy only locks s, not dst).
func (s *Space) Copy(dst *Space) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spt.Copy(dst.spt, s.k.pool, dst.pml4, s.k.mmu)
}

// Kill tears the address space down: every page's resident frame (if any)
// is unmapped and released directly, without writing dirty content back —
// an exiting process's modifications to file-backed mappings are
// discarded, not flushed (see design notes' resolution of this point).
// Variant-specific resources (swap slots, file handles) are always
// released regardless of residency.
func (s *Space) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spt.Kill(func(p *page.Page) {
		if p.Frame != nil {
			f := p.Frame
			s.k.mmu.Unmap(s.pml4, p.Va)
			s.k.pool.Unlink(f)
			p.Frame = nil
		}
		p.Destroy()
	})
	s.mmaps = nil
}
