package page

import (
	"bytes"
	"testing"

	"vmkern/frame"
	"vmkern/hw"
	"vmkern/hwtest"
	"vmkern/swap"
)

func TestForkResidentAnonCopiesContentIndependently(t *testing.T) {
	alloc := hwtest.NewAllocator(4)
	mmu := hwtest.NewMMU()
	store := swap.NewStore(hwtest.NewDisk(8))
	pool := frame.NewPool(alloc, mmu)

	parent := NewUninit(0x1000, true, 1, mmu, KindAnon, store, nil, nil)
	pf := pool.Acquire()
	parent.SwapIn(pf.KVA)
	copy(pf.KVA.Bytes(), bytes.Repeat([]byte{0x55}, hw.PageSize))
	pf.SetOwner(parent)
	parent.Frame = pf

	child, err := parent.Fork(2, mmu, pool)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if child.Frame == nil {
		t.Fatalf("forked resident page has no frame")
	}
	if child.Frame.KVA == parent.Frame.KVA {
		t.Fatalf("parent and child share the same physical frame")
	}
	if !bytes.Equal(child.Frame.KVA.Bytes(), parent.Frame.KVA.Bytes()) {
		t.Fatalf("child's content does not match parent's at fork time")
	}

	copy(child.Frame.KVA.Bytes(), bytes.Repeat([]byte{0x99}, hw.PageSize))
	if bytes.Equal(parent.Frame.KVA.Bytes(), child.Frame.KVA.Bytes()) {
		t.Fatalf("mutating the child's frame affected the parent's frame")
	}
}

func TestForkNonResidentAnonDuplicatesSwapSlot(t *testing.T) {
	alloc := hwtest.NewAllocator(4)
	mmu := hwtest.NewMMU()
	// Two slots: one for the parent's swapped-out content, one for the child's copy.
	store := swap.NewStore(hwtest.NewDisk(2 * hw.SectorsPerSlot))
	pool := frame.NewPool(alloc, mmu)

	parent := NewUninit(0x2000, true, 1, mmu, KindAnon, store, nil, nil)
	pf := pool.Acquire()
	parent.SwapIn(pf.KVA)
	copy(pf.KVA.Bytes(), bytes.Repeat([]byte{0x77}, hw.PageSize))
	parent.Frame = pf
	parent.SwapOut() // now non-resident, content lives in a swap slot

	child, err := parent.Fork(2, mmu, pool)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if child.Frame != nil {
		t.Fatalf("forked non-resident page should itself be non-resident")
	}
	if child.anonSlot == parent.anonSlot {
		t.Fatalf("parent and child share the same swap slot")
	}

	// Bringing the child back in should reproduce the parent's content.
	cf := pool.Acquire()
	if !child.SwapIn(cf.KVA) {
		t.Fatalf("child SwapIn failed")
	}
	if !bytes.Equal(cf.KVA.Bytes(), bytes.Repeat([]byte{0x77}, hw.PageSize)) {
		t.Fatalf("child's swapped-in content does not match the parent's")
	}
}

func TestForkUninitPagePreservesTarget(t *testing.T) {
	mmu := hwtest.NewMMU()
	store := swap.NewStore(hwtest.NewDisk(8))
	parent := NewUninit(0x3000, true, 1, mmu, KindAnon, store, nil, "aux")

	child, err := parent.Fork(2, mmu, nil)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if child.Kind() != KindUninit {
		t.Fatalf("forked untouched page should remain UNINIT")
	}
	if child.uninitTarget != KindAnon {
		t.Fatalf("forked uninit page lost its target variant")
	}
	if child.Pml4 != 2 {
		t.Fatalf("forked page was not installed into the child's PML4")
	}
}
