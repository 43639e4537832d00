// Package frame implements the physical frame pool and table (component A)
// together with the clock eviction algorithm (component E's victim
// selection). It owns every frame handed to the VM layer and is the only
// thing that may add a frame to, or remove one from, the clock ring.
package frame

import (
	"container/list"
	"sync"
	"sync/atomic"

	"vmkern/hw"
)

// Owner is implemented by whatever currently occupies a frame (a page). The
// frame pool depends only on this interface, never on the page package, so
// that the page <-> frame back-pointer cycle described in the design notes
// doesn't become an import cycle: frame defines the seam, page implements
// it.
type Owner interface {
	// VA returns the page-aligned user virtual address mapped to this
	// frame.
	VA() hw.VAddr
	// PML4 returns the address space the mapping lives in.
	PML4() hw.PML4
	// SwapOut evacuates this owner's content to its backing store and
	// clears the hardware mapping. It returns false on failure (fatal
	// for the eviction attempt in progress).
	SwapOut() bool
}

// Frame is one physical frame currently handed to the VM layer.
type Frame struct {
	KVA hw.KVAddr

	owner Owner
	elem  *list.Element
}

// Owner returns the page currently resident in this frame, or nil if the
// frame was orphaned by a prior swap-out and is free for immediate reuse.
func (f *Frame) Owner() Owner { return f.owner }

// SetOwner links this frame to page without taking the pool's lock. It
// exists for tests (Pool sets the owner field directly); production
// callers materializing or releasing a frame must go through Claim/Unlink
// instead, so the link is made (or broken) inside the same critical section
// the clock algorithm scans under — see Claim's doc comment for why that
// matters.
func (f *Frame) SetOwner(o Owner) { f.owner = o }

// Pool is the global frame table: every live frame is a member of exactly
// one doubly-linked clock ring, in insertion order, as spec'd in 4.A/4.E.
type Pool struct {
	mu   sync.Mutex
	ring *list.List
	hand *list.Element

	alloc hw.PhysAllocator
	mmu   hw.MMU

	acquisitions uint64
	evictions    uint64
}

// NewPool constructs an empty frame pool backed by alloc for raw page
// acquisition and mmu for accessed-bit inspection during eviction.
func NewPool(alloc hw.PhysAllocator, mmu hw.MMU) *Pool {
	return &Pool{
		ring:  list.New(),
		alloc: alloc,
		mmu:   mmu,
	}
}

// Acquire returns a frame for the caller to claim. If the user pool is
// exhausted it evicts a frame via the clock algorithm, swapping the
// victim's owner out first. The returned frame's Owner() is always nil.
//
// A frame Acquire returns is not yet linked to anything: until SetOwner is
// called, it looks identical, to a concurrent Acquire on an exhausted pool,
// to a genuinely orphaned frame ready for reuse. Production code that
// populates a frame before linking it (copying content into it, installing
// a hardware mapping) must use Claim instead, which holds the pool's lock
// across both steps.
func (p *Pool) Acquire() *Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquireLocked()
}

// Claim acquires a frame exactly like Acquire, but keeps the pool's lock
// held while populate runs and only links the frame to owner if populate
// reports success. This closes the gap Acquire+SetOwner leaves open: a
// frame that is allocated-but-not-yet-populated still has Owner() == nil,
// which is exactly the signal evictLocked/selectVictimLocked treat as "free
// for immediate reuse" (frame.go's clock scan). Without Claim, a second
// goroutine's Acquire on an exhausted pool could select and hand out the
// same frame while the first goroutine is still writing content into it.
// populate must not itself touch the pool.
func (p *Pool) Claim(owner Owner, populate func(hw.KVAddr) bool) (*Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f := p.acquireLocked()
	if !populate(f.KVA) {
		p.releaseLocked(f)
		return nil, false
	}
	f.owner = owner
	return f, true
}

func (p *Pool) acquireLocked() *Frame {
	atomic.AddUint64(&p.acquisitions, 1)

	if kva, ok := p.alloc.AllocUserPage(); ok {
		f := &Frame{KVA: kva}
		f.elem = p.ring.PushBack(f)
		return f
	}
	return p.evictLocked()
}

// Release returns a frame to the physical allocator and removes it from the
// clock ring. The caller must have already cleared the frame's owner (and
// the corresponding hardware mapping); it panics otherwise. Use Unlink
// instead when the owner still needs clearing, so the two happen under the
// same lock.
func (p *Pool) Release(f *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f.owner != nil {
		panic("frame: release of frame with a live owner")
	}
	p.releaseLocked(f)
}

// Unlink clears f's owner and releases it in the same critical section, so
// no concurrent Acquire/Claim can observe f as orphaned before its owner
// link is actually cleared (the mirror image of the gap Claim closes on
// the acquire side). The caller must already have cleared the hardware
// mapping.
func (p *Pool) Unlink(f *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f.owner = nil
	p.releaseLocked(f)
}

func (p *Pool) releaseLocked(f *Frame) {
	if p.hand == f.elem {
		p.hand = p.hand.Next()
	}
	p.ring.Remove(f.elem)
	p.alloc.FreeUserPage(f.KVA)
}

// evictLocked runs the clock algorithm until it finds a victim it can
// successfully swap out. The caller holds p.mu.
func (p *Pool) evictLocked() *Frame {
	n := p.ring.Len()
	if n == 0 {
		panic("frame: eviction attempted on an empty pool")
	}

	// Persistent swap-out failure across a full lap of the ring means the
	// backing store cannot make progress (e.g. the swap disk is full),
	// which is fatal — there is no graceful degradation (spec §7).
	for attempt := 0; attempt < n; attempt++ {
		victim := p.selectVictimLocked()
		owner := victim.Owner()
		if owner == nil {
			// orphaned by a previous swap-out; reusable immediately.
			atomic.AddUint64(&p.evictions, 1)
			return victim
		}
		if owner.SwapOut() {
			victim.owner = nil
			atomic.AddUint64(&p.evictions, 1)
			return victim
		}
	}
	panic("frame: no victim could be evicted (backing store exhausted)")
}

// selectVictimLocked implements the second-chance clock scan described in
// spec 4.E. The caller holds p.mu.
func (p *Pool) selectVictimLocked() *Frame {
	if p.hand == nil {
		p.hand = p.ring.Front()
	}
	n := p.ring.Len()

	for pass := 0; pass < 2; pass++ {
		for i := 0; i < n; i++ {
			f := p.hand.Value.(*Frame)
			owner := f.Owner()
			if owner == nil {
				return f
			}
			if p.mmu.Accessed(owner.PML4(), owner.VA()) {
				p.mmu.SetAccessed(owner.PML4(), owner.VA(), false)
				p.advanceHandLocked()
				continue
			}
			p.advanceHandLocked()
			return f
		}
	}
	// Every frame was accessed on pass 0 and had its bit cleared; a
	// second pass must find one clear. Reaching here is a clock-ring
	// bookkeeping bug.
	panic("frame: clock algorithm found no victim after two passes")
}

func (p *Pool) advanceHandLocked() {
	p.hand = p.hand.Next()
	if p.hand == nil {
		p.hand = p.ring.Front()
	}
}

// Len reports the number of frames currently tracked by the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ring.Len()
}

// Stats returns cumulative acquire/eviction counts for the metrics package.
func (p *Pool) Stats() (acquisitions, evictions uint64) {
	return atomic.LoadUint64(&p.acquisitions), atomic.LoadUint64(&p.evictions)
}
