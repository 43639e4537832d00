package frame

import (
	"testing"

	"vmkern/hw"
	"vmkern/hwtest"
)

type testOwner struct {
	va     hw.VAddr
	pml4   hw.PML4
	swapOK bool

	sawSwap bool
}

func (o *testOwner) VA() hw.VAddr  { return o.va }
func (o *testOwner) PML4() hw.PML4 { return o.pml4 }
func (o *testOwner) SwapOut() bool {
	o.sawSwap = true
	return o.swapOK
}

func TestAcquireWithinCapacityNeverEvicts(t *testing.T) {
	alloc := hwtest.NewAllocator(2)
	mmu := hwtest.NewMMU()
	pool := NewPool(alloc, mmu)

	f1 := pool.Acquire()
	f2 := pool.Acquire()
	if f1.Owner() != nil || f2.Owner() != nil {
		t.Fatalf("freshly acquired frames must have no owner")
	}
	if pool.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", pool.Len())
	}
	_, evictions := pool.Stats()
	if evictions != 0 {
		t.Fatalf("evictions = %d, want 0", evictions)
	}
}

func TestAcquireEvictsWhenExhausted(t *testing.T) {
	alloc := hwtest.NewAllocator(1)
	mmu := hwtest.NewMMU()
	pool := NewPool(alloc, mmu)

	f1 := pool.Acquire()
	owner := &testOwner{va: 0x1000, pml4: 1, swapOK: true}
	f1.SetOwner(owner)
	mmu.Map(1, 0x1000, f1.KVA, true) // install so Accessed/SetAccessed have somewhere to live

	f2 := pool.Acquire()
	if f2 != f1 {
		t.Fatalf("eviction should have returned the same physical frame")
	}
	if !owner.sawSwap {
		t.Fatalf("eviction did not call the victim's SwapOut")
	}
	if f2.Owner() != nil {
		t.Fatalf("frame returned from eviction must have no owner")
	}
	_, evictions := pool.Stats()
	if evictions != 1 {
		t.Fatalf("evictions = %d, want 1", evictions)
	}
}

func TestEvictionSkipsAccessedBitOnFirstPass(t *testing.T) {
	alloc := hwtest.NewAllocator(1)
	mmu := hwtest.NewMMU()
	pool := NewPool(alloc, mmu)

	f1 := pool.Acquire()
	owner := &testOwner{va: 0x2000, pml4: 1, swapOK: true}
	f1.SetOwner(owner)
	mmu.Map(1, 0x2000, f1.KVA, true)
	mmu.SetAccessed(1, 0x2000, true)

	pool.Acquire()
	if mmu.Accessed(1, 0x2000) {
		t.Fatalf("accessed bit was not cleared by the clock's first pass")
	}
}

func TestReleasePanicsWithLiveOwner(t *testing.T) {
	alloc := hwtest.NewAllocator(1)
	pool := NewPool(alloc, hwtest.NewMMU())
	f := pool.Acquire()
	f.SetOwner(&testOwner{})

	defer func() {
		if recover() == nil {
			t.Fatalf("Release with a live owner did not panic")
		}
	}()
	pool.Release(f)
}

func TestEvictionPanicsWhenAllSwapOutsFail(t *testing.T) {
	alloc := hwtest.NewAllocator(1)
	mmu := hwtest.NewMMU()
	pool := NewPool(alloc, mmu)

	f := pool.Acquire()
	owner := &testOwner{va: 0x3000, pml4: 1, swapOK: false}
	f.SetOwner(owner)
	mmu.Map(1, 0x3000, f.KVA, true)

	defer func() {
		if recover() == nil {
			t.Fatalf("eviction with no swappable victim did not panic")
		}
	}()
	pool.Acquire()
}
